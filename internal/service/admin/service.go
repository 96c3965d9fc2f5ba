// Package admin 提供用户、角色、设备和审计日志的管理服务。
// 每次成功的写操作都会写一条审计日志，写失败只记录告警。
package admin

import (
	"ERPAdmin/internal/core/domain"
	"ERPAdmin/internal/core/port"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Store 是管理服务需要的持久化能力
type Store interface {
	port.UserStore
	port.RoleStore
	port.DeviceStore
	port.AuditStore
	port.TokenStore
}

// Actor 是发起操作的用户，用于审计
type Actor struct {
	UserID   int64
	Username string
	IP       string
}

// Service 管理后台服务
type Service struct {
	store    Store
	perms    *PermissionCache
	validate *validator.Validate
	sources  map[string]struct{}
	now      func() time.Time
}

// New 创建管理服务
func New(store Store, perms *PermissionCache) *Service {
	return &Service{
		store:    store,
		perms:    perms,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		now:      time.Now,
	}
}

// WithSources 限定设备可绑定的数据源；为空时不校验
func (s *Service) WithSources(ids []string) *Service {
	s.sources = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		s.sources[id] = struct{}{}
	}
	return s
}

// Record 写一条审计日志
func (s *Service) Record(ctx context.Context, actor Actor, action, module, recordID, summary string) {
	err := s.store.AppendAudit(ctx, &domain.AuditEntry{
		UserID:    actor.UserID,
		Username:  actor.Username,
		Action:    action,
		Module:    module,
		RecordID:  recordID,
		Summary:   summary,
		IP:        actor.IP,
		CreatedAt: s.now(),
	})
	if err != nil {
		slog.Warn("写入审计日志失败", "action", action, "module", module, "record_id", recordID, "error", err)
	}
}

// ListAudit 分页查询审计日志
func (s *Service) ListAudit(ctx context.Context, q domain.TableQuery) (*domain.TablePage, error) {
	return s.store.ListAudit(ctx, q)
}

// check 使用 validator 校验输入，错误统一包装为 port.ErrValidation
func (s *Service) check(in any) error {
	err := s.validate.Struct(in)
	if err == nil {
		return nil
	}
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return fmt.Errorf("%w: %v", port.ErrValidation, err)
	}
	msgs := make([]string, 0, len(ve))
	for _, fe := range ve {
		msgs = append(msgs, describeField(fe))
	}
	return fmt.Errorf("%w: %s", port.ErrValidation, strings.Join(msgs, "; "))
}

func describeField(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field()[:1]) + fe.Field()[1:]
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "email":
		return field + " must be a valid email"
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed on %s", field, fe.Tag())
	}
}
