package httpapi

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrSessionRejected 会话 token 校验失败
	ErrSessionRejected = errors.New("session rejected")
	// ErrRawUserIDDisabled 未开启明文 user_id 登录
	ErrRawUserIDDisabled = errors.New("raw user_id sessions are disabled")
)

// SessionClaims 认证协作方签发的会话 token（HS256）
type SessionClaims struct {
	UserID int64 `json:"user_id"`
	jwt.RegisteredClaims
}

// SessionVerifier 校验会话 token 并取出 user_id
type SessionVerifier struct {
	secret []byte
}

// NewSessionVerifier 创建校验器；secret 为空时所有 token 都被拒绝
func NewSessionVerifier(secret string) *SessionVerifier {
	return &SessionVerifier{secret: []byte(secret)}
}

// Enabled 是否配置了密钥
func (v *SessionVerifier) Enabled() bool {
	return v != nil && len(v.secret) > 0
}

// Verify 校验签名与有效期，返回 user_id
func (v *SessionVerifier) Verify(tokenString string) (int64, error) {
	if !v.Enabled() {
		return 0, fmt.Errorf("%w: no session secret configured", ErrSessionRejected)
	}

	claims := &SessionClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrSessionRejected, err)
	}
	if claims.UserID <= 0 {
		return 0, fmt.Errorf("%w: missing user_id claim", ErrSessionRejected)
	}
	return claims.UserID, nil
}

// Sign 签发会话 token（本地工具与测试使用）
func (v *SessionVerifier) Sign(claims SessionClaims) (string, error) {
	if !v.Enabled() {
		return "", fmt.Errorf("%w: no session secret configured", ErrSessionRejected)
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
