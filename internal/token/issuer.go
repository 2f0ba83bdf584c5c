package token

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	stderrors "errors"
	"fmt"
	"time"

	"lumen-core/internal/core/dispose"
	"lumen-core/internal/errors"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	// DefaultTTL 令牌默认有效期
	DefaultTTL = 5 * time.Minute
	// MinTTL 令牌有效期下限，JWT 的 exp 只有秒粒度
	MinTTL = time.Second
	// DefaultCacheSize 已验证令牌缓存容量
	DefaultCacheSize = 4096
	// Issuer 令牌签发者标识
	Issuer = "lumen-node"
)

// Config 令牌签发配置
type Config struct {
	// Secret HMAC密钥，为空时启动随机生成（令牌不跨进程重启存活）
	Secret string        `yaml:"secret"`
	TTL    time.Duration `yaml:"ttl"`
	// CacheSize 验证缓存容量，重连风暴下避免重复HMAC校验
	CacheSize int `yaml:"cache_size"`
}

// Claims 重连令牌声明，绑定会话ID与身份指纹
type Claims struct {
	SessionID   string `json:"session_id"`
	Fingerprint string `json:"fingerprint"`
	jwt.RegisteredClaims
}

// TokenIssuer 重连令牌签发与验证器
// 令牌自包含：验证只需本节点持有的HMAC密钥，无需外部权威
type TokenIssuer struct {
	dispose.Dispose
	secret []byte
	ttl    time.Duration
	cache  *lru.Cache[string, *Claims]
}

// NewTokenIssuer 创建令牌签发器
func NewTokenIssuer(config *Config, parentCtx context.Context) (*TokenIssuer, error) {
	secret := ""
	ttl := DefaultTTL
	cacheSize := DefaultCacheSize
	if config != nil {
		secret = config.Secret
		if config.TTL > 0 {
			if config.TTL < MinTTL {
				return nil, fmt.Errorf("token ttl %s below minimum %s: jwt expiry has second granularity", config.TTL, MinTTL)
			}
			ttl = config.TTL
		}
		if config.CacheSize > 0 {
			cacheSize = config.CacheSize
		}
	}

	if secret == "" {
		raw := make([]byte, 32)
		if _, err := rand.Read(raw); err != nil {
			return nil, fmt.Errorf("generate token secret failed: %w", err)
		}
		secret = base64.StdEncoding.EncodeToString(raw)
	}

	cache, err := lru.New[string, *Claims](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create token cache failed: %w", err)
	}

	issuer := &TokenIssuer{
		secret: []byte(secret),
		ttl:    ttl,
		cache:  cache,
	}
	issuer.SetCtx(parentCtx, issuer.onClose)
	return issuer, nil
}

func (t *TokenIssuer) onClose() error {
	t.cache.Purge()
	return nil
}

// TTL 返回令牌有效期
func (t *TokenIssuer) TTL() time.Duration {
	return t.ttl
}

// Issue 签发绑定(会话ID, 身份指纹, 过期时间)的重连令牌
func (t *TokenIssuer) Issue(sessionID uuid.UUID, fingerprint string) (string, error) {
	now := time.Now()
	claims := &Claims{
		SessionID:   sessionID.String(),
		Fingerprint: fingerprint,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   sessionID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign access token failed: %w", err)
	}
	return signed, nil
}

// Validate 验证令牌并返回绑定的声明
// 过期返回 ErrTokenExpired，签名无效或声明不完整返回 ErrTokenMismatch
func (t *TokenIssuer) Validate(tokenString string) (*Claims, error) {
	if claims, ok := t.cache.Get(tokenString); ok {
		// 缓存命中仍需复查过期时间
		if claims.ExpiresAt != nil && time.Now().After(claims.ExpiresAt.Time) {
			t.cache.Remove(tokenString)
			return nil, errors.ErrTokenExpired
		}
		return claims, nil
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil {
		if stderrors.Is(err, jwt.ErrTokenExpired) {
			return nil, errors.ErrTokenExpired
		}
		return nil, errors.ErrTokenMismatch
	}
	if !parsed.Valid || claims.SessionID == "" || claims.Fingerprint == "" {
		return nil, errors.ErrTokenMismatch
	}

	t.cache.Add(tokenString, claims)
	return claims, nil
}
