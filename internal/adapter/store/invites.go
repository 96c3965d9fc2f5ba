// Package store file: internal/adapter/store/invites.go
package store

import (
	"ERPAdmin/internal/core/domain"
	"ERPAdmin/internal/core/port"
	"context"
	"fmt"
	"time"
)

// CreateInvite 保存邀请
func (s *Store) CreateInvite(ctx context.Context, inv *domain.Invite) (int64, error) {
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = s.now()
	}
	var id int64
	err := s.db.QueryRowContext(ctx, s.q(`
		INSERT INTO invites (token, email, role_id, created_by, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?) RETURNING id`),
		inv.Token, inv.Email, inv.RoleID, inv.CreatedBy, inv.ExpiresAt.Unix(), inv.CreatedAt.Unix(),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("创建邀请失败: %w", mapErr(err))
	}
	return id, nil
}

// GetInviteByToken 按令牌查询邀请，不判断是否过期
func (s *Store) GetInviteByToken(ctx context.Context, token string) (*domain.Invite, error) {
	var (
		inv                    domain.Invite
		expires, used, created int64
	)
	err := s.db.QueryRowContext(ctx, s.q(`
		SELECT i.id, i.token, i.email, i.role_id, r.name, i.created_by, i.expires_at, i.used_at, i.created_at
		FROM invites i JOIN roles r ON r.id = i.role_id
		WHERE i.token = ?`), token,
	).Scan(&inv.ID, &inv.Token, &inv.Email, &inv.RoleID, &inv.RoleName, &inv.CreatedBy, &expires, &used, &created)
	if err != nil {
		return nil, mapErr(err)
	}
	inv.ExpiresAt, inv.UsedAt, inv.CreatedAt = fromUnix(expires), fromUnix(used), fromUnix(created)
	return &inv, nil
}

// MarkInviteUsed 标记邀请已使用，重复使用返回 ErrInviteInvalid
func (s *Store) MarkInviteUsed(ctx context.Context, id int64, at time.Time) error {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE invites SET used_at = ? WHERE id = ? AND used_at = 0`), at.Unix(), id)
	if err != nil {
		return fmt.Errorf("更新邀请 %d 失败: %w", id, err)
	}
	return requireAffected(res, port.ErrInviteInvalid)
}
