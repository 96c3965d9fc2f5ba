// Package store file: internal/adapter/store/audit.go
package store

import (
	"ERPAdmin/internal/core/domain"
	"context"
	"fmt"
)

// AppendAudit 追加一条审计日志
func (s *Store) AppendAudit(ctx context.Context, e *domain.AuditEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO audit_logs (user_id, username, action, module, record_id, summary, ip, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		e.UserID, e.Username, e.Action, e.Module, e.RecordID, e.Summary, e.IP, e.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("写入审计日志失败: %w", err)
	}
	return nil
}

// ListAudit 按分页协议列出审计日志，未指定排序时最新的在前
func (s *Store) ListAudit(ctx context.Context, q domain.TableQuery) (*domain.TablePage, error) {
	q.Table = "audit_logs"
	if q.SortField == "" {
		q.SortField, q.SortDir = "created_at", domain.SortDesc
	}
	return s.lists.QueryTable(ctx, q)
}
