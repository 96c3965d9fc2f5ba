// Package store file: internal/adapter/store/devices.go
package store

import (
	"ERPAdmin/internal/core/domain"
	"ERPAdmin/internal/core/port"
	"context"
	"fmt"
)

// CreateDevice 插入设备并返回新 ID
func (s *Store) CreateDevice(ctx context.Context, d *domain.Device) (int64, error) {
	now := s.now().Unix()
	var id int64
	err := s.db.QueryRowContext(ctx, s.q(`
		INSERT INTO devices (name, serial, location, source_id, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING id`),
		d.Name, d.Serial, d.Location, d.SourceID, boolInt(d.Active), now, now,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("创建设备 '%s' 失败: %w", d.Serial, mapErr(err))
	}
	return id, nil
}

// GetDevice 按 ID 查询设备
func (s *Store) GetDevice(ctx context.Context, id int64) (*domain.Device, error) {
	var (
		d                domain.Device
		active           int
		created, updated int64
	)
	err := s.db.QueryRowContext(ctx, s.q(`
		SELECT id, name, serial, location, source_id, active, created_at, updated_at
		FROM devices WHERE id = ?`), id,
	).Scan(&d.ID, &d.Name, &d.Serial, &d.Location, &d.SourceID, &active, &created, &updated)
	if err != nil {
		return nil, mapErr(err)
	}
	d.Active = active != 0
	d.CreatedAt, d.UpdatedAt = fromUnix(created), fromUnix(updated)
	return &d, nil
}

// UpdateDevice 更新设备
func (s *Store) UpdateDevice(ctx context.Context, d *domain.Device) error {
	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE devices SET name = ?, serial = ?, location = ?, source_id = ?, active = ?, updated_at = ?
		WHERE id = ?`),
		d.Name, d.Serial, d.Location, d.SourceID, boolInt(d.Active), s.now().Unix(), d.ID)
	if err != nil {
		return fmt.Errorf("更新设备 %d 失败: %w", d.ID, mapErr(err))
	}
	return requireAffected(res, port.ErrNotFound)
}

// DeleteDevice 删除设备
func (s *Store) DeleteDevice(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM devices WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("删除设备 %d 失败: %w", id, err)
	}
	return requireAffected(res, port.ErrNotFound)
}

// ListDevices 按分页协议列出设备
func (s *Store) ListDevices(ctx context.Context, q domain.TableQuery) (*domain.TablePage, error) {
	q.Table = "devices"
	return s.lists.QueryTable(ctx, q)
}
