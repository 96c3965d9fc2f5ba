package apiclient

import (
	"ERPAdmin/internal/core/domain"
	"ERPAdmin/internal/service/admin"
	"ERPAdmin/internal/service/auth"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// Overview 是 /multi-pos/overview 的返回
type Overview struct {
	Sources   []domain.SourceStatus `json:"sources"`
	Connected int                   `json:"connected"`
	Total     int                   `json:"total"`
}

// Login 登录并保存令牌。凭据错误返回 Status 为 401 的 *APIError。
func (c *Client) Login(ctx context.Context, username, password string) (*domain.Session, error) {
	var s domain.Session
	err := c.do(ctx, http.MethodPost, "/auth/login",
		map[string]string{"username": username, "password": password}, &s, false)
	if err != nil {
		return nil, err
	}
	c.saveSession(&s)
	return &s, nil
}

// Register 凭邀请注册，成功后与登录一样保存会话
func (c *Client) Register(ctx context.Context, in auth.RegisterInput) (*domain.Session, error) {
	var s domain.Session
	if err := c.do(ctx, http.MethodPost, "/auth/register", in, &s, false); err != nil {
		return nil, err
	}
	c.saveSession(&s)
	return &s, nil
}

// CurrentUser 返回本地缓存的登录用户，未登录时为 nil
func (c *Client) CurrentUser() *domain.UserProfile {
	creds, ok := c.Store.Load()
	if !ok {
		return nil
	}
	return creds.User
}

func (c *Client) saveSession(s *domain.Session) {
	user := s.User
	c.Store.Save(Credentials{AccessToken: s.AccessToken, RefreshToken: s.RefreshToken, User: &user})
}

// Logout 吊销刷新令牌并清空本地凭据，服务端失败时本地凭据同样被清空
func (c *Client) Logout(ctx context.Context) error {
	creds, ok := c.Store.Load()
	if !ok {
		return nil
	}
	err := c.Do(ctx, http.MethodPost, "/auth/logout", map[string]string{"refreshToken": creds.RefreshToken}, nil)
	c.Store.Clear()
	return err
}

func (c *Client) Me(ctx context.Context) (*domain.UserProfile, error) {
	var p domain.UserProfile
	if err := c.Do(ctx, http.MethodGet, "/auth/me", nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// DBStatus 查询系统库与全部 POS 数据源的连通性
func (c *Client) DBStatus(ctx context.Context) (*domain.StatusReport, error) {
	var r domain.StatusReport
	if err := c.do(ctx, http.MethodGet, "/db-status", nil, &r, false); err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *Client) Overview(ctx context.Context) (*Overview, error) {
	var o Overview
	if err := c.Do(ctx, http.MethodGet, "/multi-pos/overview", nil, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// BrowseTable 读取 POS 数据源中一张表的一页数据
func (c *Client) BrowseTable(ctx context.Context, source string, q domain.TableQuery) (*domain.TablePage, error) {
	p := fmt.Sprintf("/multi-pos/%s/tables/%s/data?%s",
		url.PathEscape(source), url.PathEscape(q.Table), queryValues(q).Encode())
	var page domain.TablePage
	if err := c.Do(ctx, http.MethodGet, p, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *Client) ListUsers(ctx context.Context, q domain.TableQuery) (*domain.TablePage, error) {
	var page domain.TablePage
	if err := c.Do(ctx, http.MethodGet, "/users?"+queryValues(q).Encode(), nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *Client) CreateUser(ctx context.Context, in admin.UserInput) (*domain.User, error) {
	var u domain.User
	if err := c.Do(ctx, http.MethodPost, "/users", in, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *Client) UpdateUser(ctx context.Context, id int64, in admin.UserInput) (*domain.User, error) {
	var u domain.User
	if err := c.Do(ctx, http.MethodPut, "/users/"+strconv.FormatInt(id, 10), in, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *Client) DeleteUser(ctx context.Context, id int64) error {
	return c.Do(ctx, http.MethodDelete, "/users/"+strconv.FormatInt(id, 10), nil, nil)
}

func queryValues(q domain.TableQuery) url.Values {
	v := url.Values{}
	if q.Page > 0 {
		v.Set("page", strconv.Itoa(q.Page))
	}
	if q.PageSize > 0 {
		v.Set("limit", strconv.Itoa(q.PageSize))
	}
	if q.Search != "" {
		v.Set("search", q.Search)
	}
	if q.SortField != "" {
		v.Set("sortBy", q.SortField)
		if q.SortDir != "" {
			v.Set("sortOrder", string(q.SortDir))
		}
	}
	return v
}
