// Package apiclient 是 ERP Admin HTTP 接口的 Go 客户端。
//
// 所有请求自动携带 Bearer 令牌。服务端以 403 拒绝访问令牌时，客户端通过
// 单飞(singleflight)刷新一次令牌并重试一次；刷新被拒绝或重试仍为 403 时
// 清空凭据并回调 OnSessionExpired，调用方据此跳转到登录页。
// 刷新请求本身超时或网络不通时保留凭据，返回 ErrTimeout/ErrNetwork。
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultTimeout 单个请求的默认超时
const DefaultTimeout = 15 * time.Second

var (
	// ErrSessionExpired 令牌刷新失败，凭据已清空，需要重新登录
	ErrSessionExpired = errors.New("session expired")
	// ErrTimeout 请求超时
	ErrTimeout = errors.New("Request timeout")
	// ErrNetwork 请求未能到达服务端
	ErrNetwork = errors.New("Network error")
)

// APIError 服务端返回的失败响应
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return e.Message
}

// transportError 对外只暴露分类消息，底层原因通过 errors.Is/As 仍可访问
type transportError struct {
	kind  error
	cause error
}

func (e *transportError) Error() string   { return e.kind.Error() }
func (e *transportError) Unwrap() []error { return []error{e.kind, e.cause} }

// Client ERP Admin 客户端，零值不可用，使用 New 创建
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Store   CredentialStore
	// OnSessionExpired 在会话终止时调用一次，可为空
	OnSessionExpired func()
	// Timeout 单个请求超时，<= 0 时使用 DefaultTimeout
	Timeout time.Duration

	refreshGroup singleflight.Group
	expireMu     sync.Mutex
}

// New 创建客户端，store 为空时使用内存存储
func New(baseURL string, store CredentialStore) *Client {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{},
		Store:   store,
		Timeout: DefaultTimeout,
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
}

type response struct {
	status int
	env    envelope
	raw    []byte
}

// Do 发送一个需要认证的请求，成功时把 data 解码到 out。
// 响应中没有 data 字段时，整个响应体被解码到 out。
func (c *Client) Do(ctx context.Context, method, p string, body, out any) error {
	return c.do(ctx, method, p, body, out, true)
}

func (c *Client) do(ctx context.Context, method, p string, body, out any, authed bool) error {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("编码请求体失败: %w", err)
		}
		payload = b
	}

	token := ""
	if authed {
		if creds, ok := c.Store.Load(); ok {
			token = creds.AccessToken
		}
	}

	resp, err := c.send(ctx, method, p, payload, token)
	if err != nil {
		return err
	}

	if authed && token != "" && resp.status == http.StatusForbidden {
		fresh, err := c.refresh(ctx, token)
		if err != nil {
			if transient(err) {
				return err
			}
			c.expire()
			return ErrSessionExpired
		}
		resp, err = c.send(ctx, method, p, payload, fresh)
		if err != nil {
			return err
		}
		if resp.status == http.StatusForbidden {
			c.expire()
			return ErrSessionExpired
		}
	}

	return resp.decode(out)
}

func (c *Client) send(ctx context.Context, method, p string, payload []byte, token string) (*response, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var rdr io.Reader
	if payload != nil {
		rdr = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.url(p), rdr)
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	res, err := httpClient.Do(req)
	if err != nil {
		return nil, classify(ctx, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, classify(ctx, err)
	}
	out := &response{status: res.StatusCode, raw: raw}
	// 非 JSON 响应（例如网关错误页）保留状态码，消息由 decode 兜底
	_ = json.Unmarshal(raw, &out.env)
	return out, nil
}

func classify(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &transportError{kind: ErrTimeout, cause: err}
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &transportError{kind: ErrNetwork, cause: err}
}

// transient 判断错误是否只是传输失败，此时服务端并未拒绝刷新令牌
func transient(err error) bool {
	return errors.Is(err, ErrNetwork) || errors.Is(err, ErrTimeout) || errors.Is(err, context.Canceled)
}

func (r *response) decode(out any) error {
	if r.status >= 400 || !r.env.Success {
		msg := r.env.Error
		if msg == "" {
			msg = r.env.Message
		}
		if msg == "" {
			msg = http.StatusText(r.status)
		}
		return &APIError{Status: r.status, Message: msg}
	}
	if out == nil {
		return nil
	}
	src := []byte(r.env.Data)
	if len(src) == 0 || string(src) == "null" {
		src = r.raw
	}
	if err := json.Unmarshal(src, out); err != nil {
		return fmt.Errorf("解析响应失败: %w", err)
	}
	return nil
}

// refresh 用刷新令牌换取新的访问令牌。并发调用合并为一次请求；
// 若存储中的访问令牌已不是 stale，说明其他调用已完成刷新，直接复用。
func (c *Client) refresh(ctx context.Context, stale string) (string, error) {
	v, err, _ := c.refreshGroup.Do("refresh", func() (any, error) {
		creds, ok := c.Store.Load()
		if !ok || creds.RefreshToken == "" {
			return "", errors.New("没有可用的刷新令牌")
		}
		if creds.AccessToken != "" && creds.AccessToken != stale {
			return creds.AccessToken, nil
		}

		var pair Credentials
		// 刷新不随单个调用方取消
		rctx := context.WithoutCancel(ctx)
		if err := c.do(rctx, http.MethodPost, "/auth/refresh",
			map[string]string{"refreshToken": creds.RefreshToken}, &pair, false); err != nil {
			return "", err
		}
		if pair.AccessToken == "" {
			return "", errors.New("刷新响应缺少访问令牌")
		}
		pair.User = creds.User
		c.Store.Save(pair)
		return pair.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// expire 清空凭据；同一会话并发失败时只回调一次
func (c *Client) expire() {
	c.expireMu.Lock()
	_, had := c.Store.Load()
	c.Store.Clear()
	c.expireMu.Unlock()
	if had && c.OnSessionExpired != nil {
		c.OnSessionExpired()
	}
}

func (c *Client) url(p string) string {
	if strings.HasPrefix(p, "http://") || strings.HasPrefix(p, "https://") {
		return p
	}
	q := ""
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p, q = p[:i], p[i:]
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return c.BaseURL + p + q
	}
	u.Path = path.Join(u.Path, p)
	return u.String() + q
}
