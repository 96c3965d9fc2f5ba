// Package auth file: internal/service/auth/token.go
// JWT 访问令牌、轮换式刷新令牌与 Claim 上下文
package auth

import (
	"ERPAdmin/internal/core/port"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const issuer = "ERPAdmin"

// Claim 定义 JWT 的载荷结构
type Claim struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	RoleID   int64  `json:"roleId"`
	jwt.RegisteredClaims
}

// signer 负责访问令牌的签发和解析
type signer struct {
	key []byte
	ttl time.Duration
}

// sign 生成一个新的访问令牌
func (s signer) sign(c Claim, now time.Time) (string, time.Time, error) {
	expires := now.Add(s.ttl)
	c.RegisteredClaims = jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   fmt.Sprintf("%d", c.ID),
		ExpiresAt: jwt.NewNumericDate(expires),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		Issuer:    issuer,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("签名 JWT 失败: %w", err)
	}
	return signed, expires, nil
}

// parse 解析并验证 JWT 字符串，所有失败统一归为 port.ErrInvalidToken
func (s signer) parse(tokenString string, now time.Time) (*Claim, error) {
	claims := &Claim{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("非预期的签名方法: %v", token.Header["alg"])
		}
		return s.key, nil
	},
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", port.ErrInvalidToken, jwt.ErrTokenExpired)
		}
		return nil, fmt.Errorf("%w (detail: %v)", port.ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, port.ErrInvalidToken
	}
	return claims, nil
}

// newRefreshToken 生成随机刷新令牌，返回明文和用于存储的哈希
func newRefreshToken() (plain, hash string, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("生成刷新令牌失败: %w", err)
	}
	plain = base64.RawURLEncoding.EncodeToString(b)
	return plain, hashToken(plain), nil
}

// hashToken 刷新令牌只以 SHA-256 形式落库
func hashToken(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return hex.EncodeToString(sum[:])
}

/* ---------- Context Helpers for Claims ---------- */

type ctxKey int

const claimKey ctxKey = 0

// ContextWithClaim 把已认证的 Claim 放入 context
func ContextWithClaim(ctx context.Context, c *Claim) context.Context {
	return context.WithValue(ctx, claimKey, c)
}

// ClaimFrom 从 context 取出 Claim，未认证时返回 nil
func ClaimFrom(ctx context.Context) *Claim {
	claims, _ := ctx.Value(claimKey).(*Claim)
	return claims
}
