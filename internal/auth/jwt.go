package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
)

// 令牌类型
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// 超级管理员角色，只能由平台签发
var superAdminRoles = []string{"super_admin", "system_admin"}

// ErrTokenRevoked 令牌已被吊销
var ErrTokenRevoked = errors.New("auth: token revoked")

// JWTService JWT 令牌服务
type JWTService struct {
	secretKey     []byte
	issuer        string
	accessExpiry  time.Duration         // 访问令牌过期时间（默认 2 小时）
	refreshExpiry time.Duration         // 刷新令牌过期时间（默认 7 天）
	redisClient   redis.UniversalClient // Redis 客户端，用于黑名单，可为 nil
	clock         clock.Clock
}

// NewJWTService 创建 JWT 服务
func NewJWTService(secretKey, issuer string, redisClient redis.UniversalClient, clk clock.Clock) *JWTService {
	if clk == nil {
		clk = clock.New()
	}
	return &JWTService{
		secretKey:     []byte(secretKey),
		issuer:        issuer,
		accessExpiry:  2 * time.Hour,
		refreshExpiry: 7 * 24 * time.Hour,
		redisClient:   redisClient,
		clock:         clk,
	}
}

// TokenClaims JWT 声明
type TokenClaims struct {
	UserID    string   `json:"uid"`
	TenantID  string   `json:"tid"`
	Roles     []string `json:"roles"`
	TokenType string   `json:"token_type"` // access 或 refresh
	jwt.RegisteredClaims
}

// IsSuperAdmin 是否持有超级管理员角色
func (c *TokenClaims) IsSuperAdmin() bool {
	for _, r := range c.Roles {
		clean := strings.ToLower(strings.TrimSpace(r))
		for _, admin := range superAdminRoles {
			if clean == admin {
				return true
			}
		}
	}
	return false
}

// TokenPair 令牌对
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"` // 秒
}

// GenerateTokenPair 生成访问令牌和刷新令牌对
func (s *JWTService) GenerateTokenPair(userID, tenantID string, roles []string) (*TokenPair, error) {
	accessToken, err := s.generateToken(userID, tenantID, roles, TokenTypeAccess, s.accessExpiry)
	if err != nil {
		return nil, fmt.Errorf("生成访问令牌失败: %w", err)
	}

	refreshToken, err := s.generateToken(userID, tenantID, roles, TokenTypeRefresh, s.refreshExpiry)
	if err != nil {
		return nil, fmt.Errorf("生成刷新令牌失败: %w", err)
	}

	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.accessExpiry.Seconds()),
	}, nil
}

func (s *JWTService) generateToken(userID, tenantID string, roles []string, tokenType string, expiry time.Duration) (string, error) {
	now := s.clock.Now()
	claims := &TokenClaims{
		UserID:    userID,
		TenantID:  tenantID,
		Roles:     roles,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.secretKey)
	if err != nil {
		return "", fmt.Errorf("签名令牌失败: %w", err)
	}
	return tokenString, nil
}

// ValidateToken 验证并解析 JWT 令牌
func (s *JWTService) ValidateToken(ctx context.Context, tokenString string) (*TokenClaims, error) {
	if s.IsTokenBlacklisted(ctx, tokenString) {
		return nil, ErrTokenRevoked
	}

	token, err := jwt.ParseWithClaims(tokenString, &TokenClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("无效的签名算法: %v", token.Header["alg"])
		}
		return s.secretKey, nil
	},
		jwt.WithTimeFunc(s.clock.Now),
		jwt.WithIssuer(s.issuer),
	)
	if err != nil {
		return nil, fmt.Errorf("解析令牌失败: %w", err)
	}

	if claims, ok := token.Claims.(*TokenClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, fmt.Errorf("无效的令牌")
}

// ValidateAccessToken 验证访问令牌（拒绝刷新令牌）
func (s *JWTService) ValidateAccessToken(ctx context.Context, tokenString string) (*TokenClaims, error) {
	claims, err := s.ValidateToken(ctx, tokenString)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != TokenTypeAccess {
		return nil, fmt.Errorf("令牌类型错误: 期望 access，实际 %s", claims.TokenType)
	}
	return claims, nil
}

// RefreshAccessToken 使用刷新令牌生成新的令牌对
func (s *JWTService) RefreshAccessToken(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := s.ValidateToken(ctx, refreshToken)
	if err != nil {
		return nil, fmt.Errorf("刷新令牌验证失败: %w", err)
	}
	if claims.TokenType != TokenTypeRefresh {
		return nil, fmt.Errorf("令牌类型错误: 期望 refresh，实际 %s", claims.TokenType)
	}
	return s.GenerateTokenPair(claims.UserID, claims.TenantID, claims.Roles)
}

// InvalidateToken 使令牌失效（加入黑名单）
func (s *JWTService) InvalidateToken(ctx context.Context, tokenString string) error {
	if s.redisClient == nil {
		return nil
	}

	token, _, err := jwt.NewParser().ParseUnverified(tokenString, &TokenClaims{})
	if err != nil {
		return fmt.Errorf("解析令牌失败: %w", err)
	}
	claims, ok := token.Claims.(*TokenClaims)
	if !ok || claims.ExpiresAt == nil {
		return fmt.Errorf("无效的令牌声明")
	}

	ttl := claims.ExpiresAt.Time.Sub(s.clock.Now())
	if ttl <= 0 {
		return nil
	}

	if err := s.redisClient.Set(ctx, blacklistKey(tokenString), "revoked", ttl).Err(); err != nil {
		return fmt.Errorf("加入黑名单失败: %w", err)
	}
	return nil
}

// IsTokenBlacklisted 检查令牌是否在黑名单中。
// Redis 故障时放行（fail-open），令牌本身仍需通过签名与过期校验。
func (s *JWTService) IsTokenBlacklisted(ctx context.Context, tokenString string) bool {
	if s.redisClient == nil {
		return false
	}
	exists, err := s.redisClient.Exists(ctx, blacklistKey(tokenString)).Result()
	if err != nil {
		return false
	}
	return exists > 0
}

func blacklistKey(token string) string {
	return "blacklist:token:" + token
}

// ExtractTokenFromBearer 从 Bearer 令牌中提取纯令牌字符串
func ExtractTokenFromBearer(bearerToken string) string {
	const prefix = "Bearer "
	bearerToken = strings.TrimSpace(bearerToken)
	if len(bearerToken) > len(prefix) && strings.EqualFold(bearerToken[:len(prefix)], prefix) {
		return strings.TrimSpace(bearerToken[len(prefix):])
	}
	return bearerToken
}
