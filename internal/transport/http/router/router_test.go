// file: internal/transport/http/router/router_test.go
package router

import (
	"ERPAdmin/internal/adapter/datasource/sqlsource"
	"ERPAdmin/internal/adapter/store"
	"ERPAdmin/internal/core/domain"
	"ERPAdmin/internal/erpmiddleware"
	"ERPAdmin/internal/service/admin"
	"ERPAdmin/internal/service/auth"
	"ERPAdmin/internal/service/browse"
	"ERPAdmin/internal/service/status"
	"bytes"
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func init() { gin.SetMode(gin.TestMode) }

const (
	adminUser = "admin"
	adminPass = "admin-pass-1"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
}

type session struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	User         struct {
		ID          int64    `json:"id"`
		Username    string   `json:"username"`
		Permissions []string `json:"permissions"`
	} `json:"user"`
}

type testServer struct {
	h  http.Handler
	st *store.Store
}

func posDB(t *testing.T) *sql.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := sql.Open("sqlite", "file:"+name+"_pos?mode=memory&cache=shared")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	_, err = db.Exec(`CREATE TABLE inv_refclass(classid INTEGER PRIMARY KEY, categorydesc TEXT, classdesc TEXT)`)
	require.NoError(t, err)
	cats := []string{"Wine", "Beer", "Spirits", "Mixers"}
	for i := 1; i <= 120; i++ {
		_, err = db.Exec(`INSERT INTO inv_refclass VALUES (?, ?, ?)`, i, cats[(i*7)%4], fmt.Sprintf("Class %03d", i))
		require.NoError(t, err)
	}
	return db
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()

	st, err := store.Open(ctx, store.Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "erp.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	perms := admin.NewPermissionCache(st, 16, time.Minute)
	authSvc, err := auth.New(st, perms, auth.Config{Secret: "router-test-secret"})
	require.NoError(t, err)
	require.NoError(t, authSvc.Bootstrap(ctx, adminUser, adminPass))

	reg := sqlsource.NewRegistry()
	require.NoError(t, reg.Register(sqlsource.NewSQL("oasis", "Oasis", sqlsource.SQLite, posDB(t), []domain.TableSpec{{
		Name:       "inv_refclass",
		PrimaryKey: "classid",
		Searchable: []string{"categorydesc", "classdesc"},
		Sortable:   []string{"categorydesc", "classdesc"},
	}})))
	t.Cleanup(func() { _ = reg.CloseAll() })

	harbor := status.Target{Which: "harbor", Name: "Harbor", Probe: func(context.Context) (map[string]float64, error) {
		return nil, errors.New("dial tcp 10.0.0.9:5432: connection refused")
	}}
	sources := append(status.SourceTargets(reg.All()), harbor)

	h := New(Dependencies{
		Auth:        authSvc,
		Admin:       admin.New(st, perms).WithSources([]string{"oasis"}),
		Perms:       perms,
		Users:       st,
		Browse:      browse.New(reg),
		DBStatus:    status.New(time.Second, append([]status.Target{status.StoreTarget("erp", "ERP", st)}, sources...)...),
		Overview:    status.New(time.Second, sources...),
		LoginLock:   erpmiddleware.NewLoginFailureLock(3, time.Minute),
		CORSOrigins: []string{"http://localhost:5173"},
		Metrics:     true,
	})
	return &testServer{h: h, st: st}
}

func (s *testServer) call(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.RemoteAddr = "203.0.113.5:5555"
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	s.h.ServeHTTP(rr, req)

	var env envelope
	if strings.HasPrefix(rr.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env), rr.Body.String())
	}
	return rr, env
}

func (s *testServer) login(t *testing.T, username, password string) session {
	t.Helper()
	rr, env := s.call(t, "POST", "/auth/login", "", map[string]string{"username": username, "password": password})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var sess session
	require.NoError(t, json.Unmarshal(env.Data, &sess))
	return sess
}

func TestHealthEndpoints(t *testing.T) {
	s := newTestServer(t)

	rr, env := s.call(t, "GET", "/", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.True(t, env.Success)
	require.NotEmpty(t, env.Message)

	rr, _ = s.call(t, "GET", "/db-status", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var body struct {
		Databases []struct {
			Which string `json:"which"`
			OK    bool   `json:"ok"`
			Info  string `json:"info"`
		} `json:"databases"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Databases, 3)
	require.Equal(t, "erp", body.Databases[0].Which)
	require.True(t, body.Databases[0].OK)
	require.Equal(t, "oasis", body.Databases[1].Which)
	require.True(t, body.Databases[1].OK)
	require.Equal(t, "harbor", body.Databases[2].Which)
	require.False(t, body.Databases[2].OK)
	require.Contains(t, body.Databases[2].Info, "connection refused")

	rr, env = s.call(t, "GET", "/system/status", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"status":"ready_for_login"}`, string(env.Data))

	rr, _ = s.call(t, "GET", "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr, env = s.call(t, "GET", "/nope", "", nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.False(t, env.Success)
}

func TestLoginFlow(t *testing.T) {
	s := newTestServer(t)

	t.Run("invalid credentials", func(t *testing.T) {
		rr, _ := s.call(t, "POST", "/auth/login", "", map[string]string{"username": adminUser, "password": "wrong-password"})
		require.Equal(t, http.StatusUnauthorized, rr.Code)
		require.JSONEq(t, `{"success":false,"error":"Invalid credentials"}`, rr.Body.String())

		rr, _ = s.call(t, "POST", "/auth/login", "", map[string]string{"username": "ghost", "password": "whatever-pass"})
		require.JSONEq(t, `{"success":false,"error":"Invalid credentials"}`, rr.Body.String())
	})

	t.Run("missing fields", func(t *testing.T) {
		rr, env := s.call(t, "POST", "/auth/login", "", map[string]string{"username": adminUser})
		require.Equal(t, http.StatusBadRequest, rr.Code)
		require.False(t, env.Success)
	})

	t.Run("success returns tokens and permissions", func(t *testing.T) {
		sess := s.login(t, adminUser, adminPass)
		require.NotEmpty(t, sess.AccessToken)
		require.NotEmpty(t, sess.RefreshToken)
		require.Equal(t, adminUser, sess.User.Username)
		require.Len(t, sess.User.Permissions, len(domain.AllPermissions()))

		rr, env := s.call(t, "GET", "/auth/me", sess.AccessToken, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		require.Contains(t, string(env.Data), `"username":"admin"`)
	})

	t.Run("auth middleware signals", func(t *testing.T) {
		rr, _ := s.call(t, "GET", "/auth/me", "", nil)
		require.Equal(t, http.StatusUnauthorized, rr.Code)
		rr, _ = s.call(t, "GET", "/auth/me", "not-a-jwt", nil)
		require.Equal(t, http.StatusForbidden, rr.Code)
	})

	t.Run("refresh rotates and rejects reuse", func(t *testing.T) {
		sess := s.login(t, adminUser, adminPass)
		rr, env := s.call(t, "POST", "/auth/refresh", "", map[string]string{"refreshToken": sess.RefreshToken})
		require.Equal(t, http.StatusOK, rr.Code)
		var pair session
		require.NoError(t, json.Unmarshal(env.Data, &pair))
		require.NotEqual(t, sess.RefreshToken, pair.RefreshToken)

		rr, _ = s.call(t, "POST", "/auth/refresh", "", map[string]string{"refreshToken": sess.RefreshToken})
		require.Equal(t, http.StatusForbidden, rr.Code)
	})

	t.Run("logout revokes refresh token", func(t *testing.T) {
		sess := s.login(t, adminUser, adminPass)
		rr, _ := s.call(t, "POST", "/auth/logout", sess.AccessToken, map[string]string{"refreshToken": sess.RefreshToken})
		require.Equal(t, http.StatusOK, rr.Code)
		rr, _ = s.call(t, "POST", "/auth/refresh", "", map[string]string{"refreshToken": sess.RefreshToken})
		require.Equal(t, http.StatusForbidden, rr.Code)
	})
}

func TestLoginLockout(t *testing.T) {
	s := newTestServer(t)
	for i := 0; i < 3; i++ {
		rr, _ := s.call(t, "POST", "/auth/login", "", map[string]string{"username": adminUser, "password": "wrong-password"})
		require.Equal(t, http.StatusUnauthorized, rr.Code)
	}
	rr, _ := s.call(t, "POST", "/auth/login", "", map[string]string{"username": adminUser, "password": adminPass})
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.JSONEq(t, `{"success":false,"error":"Invalid credentials"}`, rr.Body.String())
}

func TestInviteRegistration(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t, adminUser, adminPass).AccessToken
	viewer, err := s.st.GetRoleByName(context.Background(), "viewer")
	require.NoError(t, err)

	rr, env := s.call(t, "POST", "/auth/invite", token, map[string]any{"email": "new@example.com", "roleId": viewer.ID})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var inv domain.Invite
	require.NoError(t, json.Unmarshal(env.Data, &inv))

	rr, _ = s.call(t, "GET", "/auth/invite/"+inv.Token, "", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr, env = s.call(t, "POST", "/auth/register", "", map[string]string{
		"token": inv.Token, "username": "newbie", "password": "newbie-pass", "fullName": "New Bie",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var sess session
	require.NoError(t, json.Unmarshal(env.Data, &sess))
	require.Equal(t, "newbie", sess.User.Username)

	// 邀请只能使用一次
	rr, _ = s.call(t, "GET", "/auth/invite/"+inv.Token, "", nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
	rr, _ = s.call(t, "POST", "/auth/register", "", map[string]string{
		"token": inv.Token, "username": "again", "password": "again-pass",
	})
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestTableBrowsing(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t, adminUser, adminPass).AccessToken

	rr, env := s.call(t, "GET", "/multi-pos/sources", token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `[{"id":"oasis","name":"Oasis","driver":"sqlite"}]`, string(env.Data))

	rr, env = s.call(t, "GET", "/multi-pos/oasis/tables/inv_refclass/data?page=1&limit=50&sortBy=categorydesc&sortOrder=asc", token, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var page domain.TablePage
	require.NoError(t, json.Unmarshal(env.Data, &page))
	require.Len(t, page.Rows, 50)
	require.Equal(t, domain.Pagination{Page: 1, Limit: 50, Total: 120, TotalPages: 3}, page.Pagination)

	rr, env = s.call(t, "GET", "/multi-pos/oasis/tables/inv_refclass/data?page=7&limit=50", token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(env.Data, &page))
	require.Empty(t, page.Rows)
	require.Equal(t, int64(120), page.Pagination.Total)

	rr, env = s.call(t, "GET", "/multi-pos/oasis/tables/inv_refclass/data?search=WINE", token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(env.Data, &page))
	require.Equal(t, int64(30), page.Pagination.Total)

	for path, code := range map[string]int{
		"/multi-pos/oasis/tables/inv_refclass/data?sortBy=price":      http.StatusBadRequest,
		"/multi-pos/oasis/tables/inv_refclass/data?limit=30":          http.StatusBadRequest,
		"/multi-pos/oasis/tables/inv_refclass/data?page=abc":          http.StatusBadRequest,
		"/multi-pos/oasis/tables/inv_refclass/data?sortOrder=sideway": http.StatusBadRequest,
		"/multi-pos/nowhere/tables/inv_refclass/data":                 http.StatusNotFound,
		"/multi-pos/oasis/tables/secrets/data":                        http.StatusNotFound,
	} {
		rr, env := s.call(t, "GET", path, token, nil)
		require.Equal(t, code, rr.Code, path)
		require.False(t, env.Success, path)
		require.NotEmpty(t, env.Error, path)
	}

	// (page-1)*limit 溢出 int 时拒绝，而不是回绕到第一页
	rr, env = s.call(t, "GET", "/multi-pos/oasis/tables/inv_refclass/data?page=2305843009213693953&limit=200", token, nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Nil(t, env.Data)

	rr, env = s.call(t, "GET", "/multi-pos/overview", token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var overview struct {
		Sources   []domain.SourceStatus `json:"sources"`
		Connected int                   `json:"connected"`
		Total     int                   `json:"total"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &overview))
	require.Equal(t, 2, overview.Total)
	require.Equal(t, 1, overview.Connected)
}

func TestTableExport(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t, adminUser, adminPass).AccessToken

	rr, _ := s.call(t, "GET", "/multi-pos/oasis/tables/inv_refclass/export?format=csv&search=beer", token, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Contains(t, rr.Header().Get("Content-Disposition"), "oasis_inv_refclass_")
	records, err := csv.NewReader(rr.Body).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 31)

	rr, env := s.call(t, "GET", "/multi-pos/oasis/tables/inv_refclass/export?format=pdf", token, nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.False(t, env.Success)

	// 导出会写审计日志
	rr, env = s.call(t, "GET", "/audit-logs?search=EXPORT", token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var page domain.TablePage
	require.NoError(t, json.Unmarshal(env.Data, &page))
	require.Equal(t, int64(1), page.Pagination.Total)

	rr, _ = s.call(t, "GET", "/audit-logs/export", token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Header().Get("Content-Type"), "text/csv")
}

func TestUserCRUD(t *testing.T) {
	s := newTestServer(t)
	sess := s.login(t, adminUser, adminPass)
	token := sess.AccessToken
	viewer, err := s.st.GetRoleByName(context.Background(), "viewer")
	require.NoError(t, err)

	rr, env := s.call(t, "POST", "/users", token, map[string]any{
		"username": "carol", "email": "carol@example.com", "roleId": viewer.ID, "password": "carol-pass",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var created domain.User
	require.NoError(t, json.Unmarshal(env.Data, &created))

	rr, env = s.call(t, "POST", "/users", token, map[string]any{
		"username": "carol", "roleId": viewer.ID, "password": "carol-pass",
	})
	require.Equal(t, http.StatusConflict, rr.Code)
	require.NotEmpty(t, env.Error)

	rr, env = s.call(t, "POST", "/users", token, map[string]any{"username": "dan", "roleId": viewer.ID, "password": "short"})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Contains(t, env.Error, "at least 8")

	rr, env = s.call(t, "GET", "/users?sortBy=username&sortOrder=desc", token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var page domain.TablePage
	require.NoError(t, json.Unmarshal(env.Data, &page))
	require.Equal(t, int64(2), page.Pagination.Total)
	require.NotContains(t, string(env.Data), "password")

	// viewer 只有 :view 权限
	carol := s.login(t, "carol", "carol-pass")
	rr, _ = s.call(t, "POST", "/users", carol.AccessToken, map[string]any{"username": "eve", "roleId": viewer.ID, "password": "eve-password"})
	require.Equal(t, http.StatusForbidden, rr.Code)
	rr, _ = s.call(t, "GET", "/users", carol.AccessToken, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr, env = s.call(t, "DELETE", fmt.Sprintf("/users/%d", sess.User.ID), token, nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.NotEmpty(t, env.Error)

	rr, _ = s.call(t, "POST", fmt.Sprintf("/users/%d/reset-password", created.ID), token, map[string]string{"password": "carol-new-pass"})
	require.Equal(t, http.StatusOK, rr.Code)

	rr, _ = s.call(t, "DELETE", fmt.Sprintf("/users/%d", created.ID), token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	rr, _ = s.call(t, "GET", fmt.Sprintf("/users/%d", created.ID), token, nil)
	require.Equal(t, http.StatusNotFound, rr.Code)

	// 被删除用户的令牌随即失效
	rr, _ = s.call(t, "GET", "/auth/me", carol.AccessToken, nil)
	require.Equal(t, http.StatusForbidden, rr.Code)

	rr, _ = s.call(t, "GET", "/users/abc", token, nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRoleAndDeviceCRUD(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t, adminUser, adminPass).AccessToken

	rr, env := s.call(t, "GET", "/roles/permissions", token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, string(env.Data), `"modules"`)

	rr, env = s.call(t, "POST", "/roles", token, map[string]any{
		"name": "cashier", "description": "front desk", "permissions": []string{"pos:view", "devices:view"},
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var role domain.Role
	require.NoError(t, json.Unmarshal(env.Data, &role))

	rr, _ = s.call(t, "POST", "/roles", token, map[string]any{"name": "bad", "permissions": []string{"pos:launch"}})
	require.Equal(t, http.StatusBadRequest, rr.Code)

	admin, err := s.st.GetRoleByName(context.Background(), "admin")
	require.NoError(t, err)
	// 系统角色拒绝修改用 409，不能和令牌失效的 403 混淆
	rr, env = s.call(t, "DELETE", fmt.Sprintf("/roles/%d", admin.ID), token, nil)
	require.Equal(t, http.StatusConflict, rr.Code)
	require.Contains(t, env.Error, "系统角色")
	rr, _ = s.call(t, "PUT", fmt.Sprintf("/roles/%d", admin.ID), token, map[string]any{"name": "admin", "permissions": []string{"pos:view"}})
	require.Equal(t, http.StatusConflict, rr.Code)

	rr, _ = s.call(t, "DELETE", fmt.Sprintf("/roles/%d", role.ID), token, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr, env = s.call(t, "POST", "/devices", token, map[string]any{"name": "Till 1", "serial": "SN-001", "sourceId": "oasis"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var dev domain.Device
	require.NoError(t, json.Unmarshal(env.Data, &dev))
	require.True(t, dev.Active)

	rr, _ = s.call(t, "POST", "/devices", token, map[string]any{"name": "Till 2", "serial": "SN-001"})
	require.Equal(t, http.StatusConflict, rr.Code)
	rr, _ = s.call(t, "POST", "/devices", token, map[string]any{"name": "Till 3", "serial": "SN-003", "sourceId": "atlantis"})
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr, env = s.call(t, "PUT", fmt.Sprintf("/devices/%d", dev.ID), token, map[string]any{"name": "Till 1", "serial": "SN-001", "location": "Bar", "active": false})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.NoError(t, json.Unmarshal(env.Data, &dev))
	require.False(t, dev.Active)
	require.Equal(t, "Bar", dev.Location)

	rr, env = s.call(t, "GET", "/devices?search=bar", token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var page domain.TablePage
	require.NoError(t, json.Unmarshal(env.Data, &page))
	require.Equal(t, int64(1), page.Pagination.Total)

	rr, _ = s.call(t, "DELETE", fmt.Sprintf("/devices/%d", dev.ID), token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
}
