// file: internal/adapter/store/store_test.go
package store

import (
	"ERPAdmin/internal/adapter/datasource/sqlsource"
	"ERPAdmin/internal/core/domain"
	"ERPAdmin/internal/core/port"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

// newTestStore 在临时目录中打开一个已迁移的 SQLite 系统库
func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "erp.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func adminRoleID(t *testing.T, s *Store) int64 {
	t.Helper()
	r, err := s.GetRoleByName(context.Background(), domain.AdminRole)
	require.NoError(t, err)
	return r.ID
}

func TestOpen_SeedsRoles(t *testing.T) {
	s := newTestStore(t)
	roles, err := s.ListRoles(context.Background())
	require.NoError(t, err)
	require.Len(t, roles, 2)
	require.Equal(t, "admin", roles[0].Name)
	require.True(t, roles[0].System)
	require.Equal(t, "viewer", roles[1].Name)
	require.Contains(t, roles[1].Permissions, domain.Permission("pos:view"))
	require.Len(t, roles[1].Permissions, 5)
}

func TestOpen_IsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "erp.db")
	s1, err := Open(context.Background(), Config{Driver: "sqlite", Path: path})
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := Open(context.Background(), Config{Driver: "sqlite", Path: path})
	require.NoError(t, err)
	defer s2.Close()
	roles, err := s2.ListRoles(context.Background())
	require.NoError(t, err)
	require.Len(t, roles, 2)
}

func TestUsers_CRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	roleID := adminRoleID(t, s)

	id, err := s.CreateUser(ctx, &domain.User{Username: "alice", Email: "alice@example.com", FullName: "Alice", RoleID: roleID, Active: true, PasswordHash: "h"})
	require.NoError(t, err)

	u, err := s.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, id, u.ID)
	require.Equal(t, "admin", u.RoleName)
	require.True(t, u.Active)
	require.Equal(t, "h", u.PasswordHash)

	_, err = s.CreateUser(ctx, &domain.User{Username: "alice", RoleID: roleID, PasswordHash: "h"})
	require.ErrorIs(t, err, port.ErrConflict)
	_, err = s.CreateUser(ctx, &domain.User{Username: "alice2", Email: "alice@example.com", RoleID: roleID, PasswordHash: "h"})
	require.ErrorIs(t, err, port.ErrConflict)

	u.FullName, u.Active = "Alice B.", false
	require.NoError(t, s.UpdateUser(ctx, u))
	require.NoError(t, s.SetPassword(ctx, id, "h2"))
	u, err = s.GetUser(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "Alice B.", u.FullName)
	require.False(t, u.Active)
	require.Equal(t, "h2", u.PasswordHash)

	n, err := s.CountUsers(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	require.NoError(t, s.DeleteUser(ctx, id))
	_, err = s.GetUser(ctx, id)
	require.ErrorIs(t, err, port.ErrNotFound)
	require.ErrorIs(t, s.DeleteUser(ctx, id), port.ErrNotFound)
	require.ErrorIs(t, s.UpdateUser(ctx, u), port.ErrNotFound)
}

func TestListUsers_SearchesRoleName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	viewer, err := s.GetRoleByName(ctx, "viewer")
	require.NoError(t, err)
	for _, name := range []string{"bob", "carol", "dave"} {
		_, err := s.CreateUser(ctx, &domain.User{Username: name, RoleID: viewer.ID, Active: true, PasswordHash: "x"})
		require.NoError(t, err)
	}
	_, err = s.CreateUser(ctx, &domain.User{Username: "root", RoleID: adminRoleID(t, s), Active: true, PasswordHash: "x"})
	require.NoError(t, err)

	page, err := s.ListUsers(ctx, domain.TableQuery{Page: 1, PageSize: 25, Search: "VIEW", SortField: "username", SortDir: domain.SortDesc})
	require.NoError(t, err)
	require.Equal(t, int64(3), page.Pagination.Total)
	require.Equal(t, "dave", page.Rows[0]["username"])
	require.NotContains(t, page.Rows[0], "password_hash")
}

func TestRoles_UpdateAndDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.CreateRole(ctx, &domain.Role{Name: "cashier", Permissions: []domain.Permission{"pos:view", "pos:view", "devices:view"}})
	require.NoError(t, err)
	r, err := s.GetRole(ctx, id)
	require.NoError(t, err)
	require.ElementsMatch(t, []domain.Permission{"pos:view", "devices:view"}, r.Permissions)

	r.Description = "Front desk"
	r.Permissions = []domain.Permission{"users:view"}
	require.NoError(t, s.UpdateRole(ctx, r))
	r, err = s.GetRole(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "Front desk", r.Description)
	require.Equal(t, []domain.Permission{"users:view"}, r.Permissions)

	_, err = s.CreateRole(ctx, &domain.Role{Name: "cashier"})
	require.ErrorIs(t, err, port.ErrConflict)

	require.NoError(t, s.DeleteRole(ctx, id))
	_, err = s.GetRole(ctx, id)
	require.ErrorIs(t, err, port.ErrNotFound)
}

func TestOpen_EnforcesForeignKeys(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var fk int
	require.NoError(t, s.db.QueryRowContext(ctx, `PRAGMA foreign_keys`).Scan(&fk))
	require.Equal(t, 1, fk)
	var mode string
	require.NoError(t, s.db.QueryRowContext(ctx, `PRAGMA journal_mode`).Scan(&mode))
	require.Equal(t, "wal", mode)

	_, err := s.db.ExecContext(ctx, `INSERT INTO role_permissions (role_id, permission) VALUES (9999, 'pos:view')`)
	require.Error(t, err, "不存在的角色不能挂权限")

	id, err := s.CreateRole(ctx, &domain.Role{Name: "cashier", Permissions: []domain.Permission{"pos:view"}})
	require.NoError(t, err)
	_, err = s.CreateInvite(ctx, &domain.Invite{Token: "tok-cashier", Email: "c@example.com", RoleID: id, ExpiresAt: time.Now().Add(time.Hour)})
	require.NoError(t, err)
	require.NoError(t, s.DeleteRole(ctx, id))

	var left int
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM role_permissions WHERE role_id = ?`, id).Scan(&left))
	require.Zero(t, left, "删除角色时级联删除权限")
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM invites WHERE role_id = ?`, id).Scan(&left))
	require.Zero(t, left)
}

func TestDevices_CRUDAndList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.CreateDevice(ctx, &domain.Device{Name: "Till 1", Serial: "SN-001", Location: "Front", SourceID: "store-a", Active: true})
	require.NoError(t, err)
	_, err = s.CreateDevice(ctx, &domain.Device{Name: "Till 2", Serial: "SN-001"})
	require.ErrorIs(t, err, port.ErrConflict)

	d, err := s.GetDevice(ctx, id)
	require.NoError(t, err)
	d.Location = "Back"
	require.NoError(t, s.UpdateDevice(ctx, d))

	page, err := s.ListDevices(ctx, domain.TableQuery{Page: 1, PageSize: 25, Search: "back"})
	require.NoError(t, err)
	require.Equal(t, int64(1), page.Pagination.Total)
	require.Equal(t, "SN-001", page.Rows[0]["serial"])

	require.NoError(t, s.DeleteDevice(ctx, id))
	require.ErrorIs(t, s.DeleteDevice(ctx, id), port.ErrNotFound)
}

func TestAudit_NewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)
	for i, action := range []string{domain.AuditCreate, domain.AuditUpdate, domain.AuditDelete} {
		require.NoError(t, s.AppendAudit(ctx, &domain.AuditEntry{
			UserID: 1, Username: "root", Action: action, Module: domain.ModuleDevices, CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	page, err := s.ListAudit(ctx, domain.TableQuery{Page: 1, PageSize: 25})
	require.NoError(t, err)
	require.Equal(t, int64(3), page.Pagination.Total)
	require.Equal(t, domain.AuditDelete, page.Rows[0]["action"])

	page, err = s.ListAudit(ctx, domain.TableQuery{Page: 1, PageSize: 25, Search: "upd"})
	require.NoError(t, err)
	require.Equal(t, int64(1), page.Pagination.Total)
}

func TestRefreshTokens_SingleUse(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	uid, err := s.CreateUser(ctx, &domain.User{Username: "erin", RoleID: adminRoleID(t, s), PasswordHash: "x"})
	require.NoError(t, err)
	now := time.Now()

	require.NoError(t, s.SaveRefreshToken(ctx, &domain.RefreshToken{UserID: uid, TokenHash: "abc", ExpiresAt: now.Add(time.Hour)}))
	tok, err := s.ConsumeRefreshToken(ctx, "abc", now)
	require.NoError(t, err)
	require.Equal(t, uid, tok.UserID)

	_, err = s.ConsumeRefreshToken(ctx, "abc", now)
	require.ErrorIs(t, err, port.ErrInvalidRefreshToken)

	require.NoError(t, s.SaveRefreshToken(ctx, &domain.RefreshToken{UserID: uid, TokenHash: "old", ExpiresAt: now.Add(-time.Minute)}))
	_, err = s.ConsumeRefreshToken(ctx, "old", now)
	require.ErrorIs(t, err, port.ErrInvalidRefreshToken)

	require.NoError(t, s.SaveRefreshToken(ctx, &domain.RefreshToken{UserID: uid, TokenHash: "def", ExpiresAt: now.Add(time.Hour)}))
	require.NoError(t, s.RevokeUserTokens(ctx, uid, now))
	_, err = s.ConsumeRefreshToken(ctx, "def", now)
	require.ErrorIs(t, err, port.ErrInvalidRefreshToken)
}

func TestInvites_MarkUsedOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.CreateInvite(ctx, &domain.Invite{Token: "tok", Email: "new@example.com", RoleID: adminRoleID(t, s), ExpiresAt: time.Now().Add(time.Hour)})
	require.NoError(t, err)

	inv, err := s.GetInviteByToken(ctx, "tok")
	require.NoError(t, err)
	require.Equal(t, "admin", inv.RoleName)
	require.True(t, inv.Usable(time.Now()))

	require.NoError(t, s.MarkInviteUsed(ctx, id, time.Now()))
	require.ErrorIs(t, s.MarkInviteUsed(ctx, id, time.Now()), port.ErrInviteInvalid)

	_, err = s.GetInviteByToken(ctx, "missing")
	require.ErrorIs(t, err, port.ErrNotFound)
}

// ===============================
// 异常场景 (sqlmock)
// ===============================

func TestCreateUser_DriverErrorIsWrapped(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := New(db, sqlsource.SQLite)

	boom := errors.New("disk I/O error")
	mock.ExpectQuery("INSERT INTO users").WillReturnError(boom)

	_, err = s.CreateUser(context.Background(), &domain.User{Username: "x"})
	require.ErrorIs(t, err, boom)
	require.NotErrorIs(t, err, port.ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateRole_RollsBackOnPermissionFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := New(db, sqlsource.Postgres)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE roles SET name = \$1, description = \$2, updated_at = \$3 WHERE id = \$4`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM role_permissions WHERE role_id = \$1`).
		WithArgs(int64(7)).
		WillReturnError(errors.New("lock timeout"))
	mock.ExpectRollback()

	err = s.UpdateRole(context.Background(), &domain.Role{ID: 7, Name: "ops"})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
