package apiclient

import (
	"ERPAdmin/internal/core/domain"
	"sync"
)

// Credentials 是客户端持有的令牌对与当前用户，会话终止时一并清空
type Credentials struct {
	AccessToken  string              `json:"accessToken"`
	RefreshToken string              `json:"refreshToken"`
	User         *domain.UserProfile `json:"user,omitempty"`
}

// CredentialStore 持久化令牌。浏览器端对应 localStorage，这里可替换为文件或钥匙串。
type CredentialStore interface {
	Load() (Credentials, bool)
	Save(Credentials)
	Clear()
}

// MemoryStore 进程内凭据存储，并发安全
type MemoryStore struct {
	mu    sync.RWMutex
	creds Credentials
	ok    bool
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (m *MemoryStore) Load() (Credentials, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.creds, m.ok
}

func (m *MemoryStore) Save(c Credentials) {
	m.mu.Lock()
	m.creds, m.ok = c, true
	m.mu.Unlock()
}

func (m *MemoryStore) Clear() {
	m.mu.Lock()
	m.creds, m.ok = Credentials{}, false
	m.mu.Unlock()
}
