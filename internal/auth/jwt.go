package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/rdm-platform/rdm-backend/internal/core"
)

// AccessTokenDuration Access Token 有效期
const AccessTokenDuration = 12 * time.Hour

// Claims JWT 声明,携带操作者身份与硬删除权限
type Claims struct {
	UserID                string `json:"user_id"`
	Email                 string `json:"email"`
	CanHardDeleteDatasets bool   `json:"can_hard_delete_datasets"`
	jwt.RegisteredClaims
}

// Actor 把声明还原为领域操作者
func (c *Claims) Actor() (core.Actor, error) {
	id, err := uuid.Parse(c.UserID)
	if err != nil {
		return core.Actor{}, fmt.Errorf("invalid user id in token: %w", err)
	}
	return core.Actor{
		ID:                    id,
		Email:                 c.Email,
		CanHardDeleteDatasets: c.CanHardDeleteDatasets,
	}, nil
}

// JWTManager JWT 管理器
type JWTManager struct {
	secretKey []byte
	issuer    string
}

// NewJWTManager 创建 JWT 管理器
func NewJWTManager(secretKey, issuer string) *JWTManager {
	return &JWTManager{secretKey: []byte(secretKey), issuer: issuer}
}

// GenerateAccessToken 为操作者签发 Access Token
func (m *JWTManager) GenerateAccessToken(actor core.Actor) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID:                actor.ID.String(),
		Email:                 actor.Email,
		CanHardDeleteDatasets: actor.CanHardDeleteDatasets,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(AccessTokenDuration)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    m.issuer,
			Subject:   actor.ID.String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secretKey)
}

// VerifyAccessToken 验证 Access Token
func (m *JWTManager) VerifyAccessToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secretKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// ExtractTokenFromHeader 从 Authorization header 提取 token
// 格式:Authorization: Bearer <token>
func ExtractTokenFromHeader(authHeader string) (string, error) {
	const bearerPrefix = "Bearer "
	if len(authHeader) < len(bearerPrefix) {
		return "", fmt.Errorf("invalid authorization header")
	}
	if authHeader[:len(bearerPrefix)] != bearerPrefix {
		return "", fmt.Errorf("invalid authorization header format")
	}
	return authHeader[len(bearerPrefix):], nil
}
