package middleware

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
)

var errNoVerifier = errors.New("no suitable verification method")

// TokenVerifier 校验 Bearer JWT 并取出租户标识。
// HMAC 令牌用共享密钥校验，其余算法通过 JWKS 公钥校验。
type TokenVerifier struct {
	secret []byte
	jwks   *keyfunc.JWKS
	parser *jwt.Parser
}

// NewTokenVerifier 创建校验器。jwksURL 非空时拉取公钥集并每小时刷新。
func NewTokenVerifier(secret, jwksURL string, logger *slog.Logger) (*TokenVerifier, error) {
	v := &TokenVerifier{
		secret: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{"HS256", "HS384", "HS512", "RS256", "ES256", "EdDSA"}),
			jwt.WithExpirationRequired(),
		),
	}

	if jwksURL != "" {
		jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{
			RefreshInterval:   time.Hour,
			RefreshRateLimit:  time.Minute,
			RefreshUnknownKID: true,
			RefreshErrorHandler: func(err error) {
				logger.Error("jwks refresh failed", "url", jwksURL, "error", err)
			},
		})
		if err != nil {
			return nil, fmt.Errorf("load jwks: %w", err)
		}
		v.jwks = jwks
	}

	if len(v.secret) == 0 && v.jwks == nil {
		return nil, errNoVerifier
	}
	return v, nil
}

// Verify 校验令牌并返回租户 id：优先取 tenant 声明，缺省时回落为 sub。
func (v *TokenVerifier) Verify(raw string) (string, error) {
	claims := jwt.MapClaims{}
	token, err := v.parser.ParseWithClaims(raw, claims, v.keyFunc)
	if err != nil {
		return "", err
	}
	if !token.Valid {
		return "", jwt.ErrTokenSignatureInvalid
	}

	if tenant, ok := claims["tenant"].(string); ok && strings.TrimSpace(tenant) != "" {
		return tenant, nil
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", errors.New("token carries no tenant")
	}
	return sub, nil
}

func (v *TokenVerifier) keyFunc(token *jwt.Token) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); ok {
		if len(v.secret) > 0 {
			return v.secret, nil
		}
		return nil, errNoVerifier
	}
	if v.jwks != nil {
		return v.jwks.Keyfunc(token)
	}
	return nil, errNoVerifier
}

// Close 停止 JWKS 后台刷新。
func (v *TokenVerifier) Close() {
	if v.jwks != nil {
		v.jwks.EndBackground()
	}
}
