// Package admin file: internal/service/admin/devices.go
package admin

import (
	"ERPAdmin/internal/core/domain"
	"ERPAdmin/internal/core/port"
	"context"
	"fmt"
	"strconv"
	"strings"
)

// DeviceInput 创建或更新设备的请求体
type DeviceInput struct {
	Name     string `json:"name" validate:"required,max=128"`
	Serial   string `json:"serial" validate:"required,max=64"`
	Location string `json:"location" validate:"max=128"`
	SourceID string `json:"sourceId"`
	Active   *bool  `json:"active"`
}

func (s *Service) checkDevice(in *DeviceInput) error {
	in.Name = strings.TrimSpace(in.Name)
	in.Serial = strings.TrimSpace(in.Serial)
	in.Location = strings.TrimSpace(in.Location)
	if err := s.check(*in); err != nil {
		return err
	}
	if in.SourceID != "" && len(s.sources) > 0 {
		if _, ok := s.sources[in.SourceID]; !ok {
			return fmt.Errorf("%w: 数据源 '%s' 未配置", port.ErrValidation, in.SourceID)
		}
	}
	return nil
}

// ListDevices 分页查询设备
func (s *Service) ListDevices(ctx context.Context, q domain.TableQuery) (*domain.TablePage, error) {
	return s.store.ListDevices(ctx, q)
}

// GetDevice 查询单个设备
func (s *Service) GetDevice(ctx context.Context, id int64) (*domain.Device, error) {
	return s.store.GetDevice(ctx, id)
}

// CreateDevice 登记设备，序列号重复时返回 port.ErrConflict
func (s *Service) CreateDevice(ctx context.Context, actor Actor, in DeviceInput) (*domain.Device, error) {
	if err := s.checkDevice(&in); err != nil {
		return nil, err
	}
	d := &domain.Device{
		Name:     in.Name,
		Serial:   in.Serial,
		Location: in.Location,
		SourceID: in.SourceID,
		Active:   in.Active == nil || *in.Active,
	}
	id, err := s.store.CreateDevice(ctx, d)
	if err != nil {
		return nil, conflictMessage(err, "设备序列号已存在")
	}
	s.Record(ctx, actor, domain.AuditCreate, domain.ModuleDevices, strconv.FormatInt(id, 10), "登记设备 "+d.Serial)
	return s.store.GetDevice(ctx, id)
}

// UpdateDevice 更新设备
func (s *Service) UpdateDevice(ctx context.Context, actor Actor, id int64, in DeviceInput) (*domain.Device, error) {
	if err := s.checkDevice(&in); err != nil {
		return nil, err
	}
	d, err := s.store.GetDevice(ctx, id)
	if err != nil {
		return nil, err
	}
	d.Name, d.Serial, d.Location, d.SourceID = in.Name, in.Serial, in.Location, in.SourceID
	if in.Active != nil {
		d.Active = *in.Active
	}
	if err := s.store.UpdateDevice(ctx, d); err != nil {
		return nil, conflictMessage(err, "设备序列号已存在")
	}
	s.Record(ctx, actor, domain.AuditUpdate, domain.ModuleDevices, strconv.FormatInt(id, 10), "更新设备 "+d.Serial)
	return s.store.GetDevice(ctx, id)
}

// DeleteDevice 删除设备
func (s *Service) DeleteDevice(ctx context.Context, actor Actor, id int64) error {
	d, err := s.store.GetDevice(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteDevice(ctx, id); err != nil {
		return err
	}
	s.Record(ctx, actor, domain.AuditDelete, domain.ModuleDevices, strconv.FormatInt(id, 10), "删除设备 "+d.Serial)
	return nil
}
