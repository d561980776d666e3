package token

import (
	"errors"
	"fmt"
	"time"

	"pairchat/config"

	jwtv5 "github.com/golang-jwt/jwt/v5"
)

// Service 中继握手令牌的签发与校验
// 对称密钥 HS256，Subject 存客户端标识
// 只做通道准入，不承载用户身份（身份由外部系统负责）
type Service struct {
	secretKey   []byte
	issuer      string
	expireAfter time.Duration
}

// New 创建令牌服务
func New(cfg config.RelayConfig) *Service {
	return &Service{
		secretKey:   []byte(cfg.TokenSecret),
		issuer:      cfg.TokenIssuer,
		expireAfter: cfg.TokenExpire,
	}
}

// Generate 为客户端签发握手令牌
func (s *Service) Generate(clientID string) (string, error) {
	if clientID == "" {
		return "", errors.New("clientID is required")
	}

	now := time.Now()
	claims := &jwtv5.RegisteredClaims{
		Issuer:    s.issuer,
		Subject:   clientID,
		IssuedAt:  jwtv5.NewNumericDate(now),
		NotBefore: jwtv5.NewNumericDate(now),
		ExpiresAt: jwtv5.NewNumericDate(now.Add(s.expireAfter)),
	}

	signed, err := jwtv5.NewWithClaims(jwtv5.SigningMethodHS256, claims).SignedString(s.secretKey)
	if err != nil {
		return "", fmt.Errorf("sign token failed: %w", err)
	}
	return signed, nil
}

// Validate 校验令牌并返回客户端标识
func (s *Service) Validate(tokenString string) (string, error) {
	claims := &jwtv5.RegisteredClaims{}
	parsed, err := jwtv5.ParseWithClaims(tokenString, claims, func(t *jwtv5.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtv5.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secretKey, nil
	}, jwtv5.WithIssuer(s.issuer))
	if err != nil {
		return "", fmt.Errorf("parse token failed: %w", err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return "", errors.New("invalid token")
	}
	return claims.Subject, nil
}
