// Package store file: internal/adapter/store/tokens.go
package store

import (
	"ERPAdmin/internal/core/domain"
	"ERPAdmin/internal/core/port"
	"context"
	"errors"
	"fmt"
	"time"
)

// SaveRefreshToken 保存刷新令牌哈希
func (s *Store) SaveRefreshToken(ctx context.Context, t *domain.RefreshToken) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.now()
	}
	err := s.db.QueryRowContext(ctx, s.q(`
		INSERT INTO refresh_tokens (user_id, token_hash, expires_at, created_at)
		VALUES (?, ?, ?, ?) RETURNING id`),
		t.UserID, t.TokenHash, t.ExpiresAt.Unix(), t.CreatedAt.Unix(),
	).Scan(&t.ID)
	if err != nil {
		return fmt.Errorf("保存刷新令牌失败: %w", mapErr(err))
	}
	return nil
}

// ConsumeRefreshToken 单条 UPDATE 完成校验与吊销，同一令牌并发使用时只有一方成功
func (s *Store) ConsumeRefreshToken(ctx context.Context, hash string, now time.Time) (*domain.RefreshToken, error) {
	var (
		t                domain.RefreshToken
		expires, created int64
	)
	err := s.db.QueryRowContext(ctx, s.q(`
		UPDATE refresh_tokens SET revoked_at = ?
		WHERE token_hash = ? AND revoked_at = 0 AND expires_at > ?
		RETURNING id, user_id, expires_at, created_at`),
		now.Unix(), hash, now.Unix(),
	).Scan(&t.ID, &t.UserID, &expires, &created)
	if err != nil {
		if errors.Is(mapErr(err), port.ErrNotFound) {
			return nil, port.ErrInvalidRefreshToken
		}
		return nil, fmt.Errorf("消费刷新令牌失败: %w", err)
	}
	t.TokenHash = hash
	t.ExpiresAt, t.CreatedAt, t.RevokedAt = fromUnix(expires), fromUnix(created), now
	return &t, nil
}

// RevokeRefreshToken 吊销单个刷新令牌，令牌不存在时静默成功
func (s *Store) RevokeRefreshToken(ctx context.Context, hash string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, s.q(`UPDATE refresh_tokens SET revoked_at = ? WHERE token_hash = ? AND revoked_at = 0`),
		now.Unix(), hash)
	return err
}

// RevokeUserTokens 吊销某用户的全部刷新令牌
func (s *Store) RevokeUserTokens(ctx context.Context, userID int64, now time.Time) error {
	_, err := s.db.ExecContext(ctx, s.q(`UPDATE refresh_tokens SET revoked_at = ? WHERE user_id = ? AND revoked_at = 0`),
		now.Unix(), userID)
	return err
}
