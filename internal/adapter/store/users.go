// Package store file: internal/adapter/store/users.go
package store

import (
	"ERPAdmin/internal/core/domain"
	"ERPAdmin/internal/core/port"
	"context"
	"database/sql"
	"fmt"
	"time"
)

const userSelect = `SELECT u.id, u.username, u.email, u.full_name, u.role_id, r.name, u.active,
	u.password_hash, u.created_at, u.updated_at, u.last_login_at
FROM users u JOIN roles r ON r.id = u.role_id`

func scanUser(row scanner) (*domain.User, error) {
	var (
		u                           domain.User
		active                      int
		created, updated, lastLogin int64
	)
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.FullName, &u.RoleID, &u.RoleName, &active,
		&u.PasswordHash, &created, &updated, &lastLogin)
	if err != nil {
		return nil, mapErr(err)
	}
	u.Active = active != 0
	u.CreatedAt, u.UpdatedAt, u.LastLoginAt = fromUnix(created), fromUnix(updated), fromUnix(lastLogin)
	return &u, nil
}

// CreateUser 插入用户并返回新 ID
func (s *Store) CreateUser(ctx context.Context, u *domain.User) (int64, error) {
	now := s.now()
	var id int64
	err := s.db.QueryRowContext(ctx, s.q(`
		INSERT INTO users (username, email, full_name, password_hash, role_id, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`),
		u.Username, u.Email, u.FullName, u.PasswordHash, u.RoleID, boolInt(u.Active), now.Unix(), now.Unix(),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("创建用户 '%s' 失败: %w", u.Username, mapErr(err))
	}
	return id, nil
}

// GetUser 按 ID 查询用户
func (s *Store) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, s.q(userSelect+` WHERE u.id = ?`), id))
}

// GetUserByUsername 按用户名查询用户
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, s.q(userSelect+` WHERE u.username = ?`), username))
}

// UpdateUser 更新用户资料，不修改密码
func (s *Store) UpdateUser(ctx context.Context, u *domain.User) error {
	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE users SET username = ?, email = ?, full_name = ?, role_id = ?, active = ?, updated_at = ?
		WHERE id = ?`),
		u.Username, u.Email, u.FullName, u.RoleID, boolInt(u.Active), s.now().Unix(), u.ID)
	if err != nil {
		return fmt.Errorf("更新用户 %d 失败: %w", u.ID, mapErr(err))
	}
	return requireAffected(res, port.ErrNotFound)
}

// SetPassword 更新密码哈希
func (s *Store) SetPassword(ctx context.Context, id int64, hash string) error {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`),
		hash, s.now().Unix(), id)
	if err != nil {
		return fmt.Errorf("更新用户 %d 密码失败: %w", id, err)
	}
	return requireAffected(res, port.ErrNotFound)
}

// TouchLogin 记录最后登录时间
func (s *Store) TouchLogin(ctx context.Context, id int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx, s.q(`UPDATE users SET last_login_at = ? WHERE id = ?`), at.Unix(), id)
	return err
}

// DeleteUser 删除用户及其刷新令牌
func (s *Store) DeleteUser(ctx context.Context, id int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM refresh_tokens WHERE user_id = ?`), id); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, s.q(`DELETE FROM users WHERE id = ?`), id)
		if err != nil {
			return fmt.Errorf("删除用户 %d 失败: %w", id, err)
		}
		return requireAffected(res, port.ErrNotFound)
	})
}

// CountUsers 返回用户总数
func (s *Store) CountUsers(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n)
	return n, err
}

// ListUsers 按分页协议列出用户
func (s *Store) ListUsers(ctx context.Context, q domain.TableQuery) (*domain.TablePage, error) {
	q.Table = "user_view"
	return s.lists.QueryTable(ctx, q)
}
