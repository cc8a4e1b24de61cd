package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid or expired game token")

// GameClaims binds a bearer token to one game and its player.
type GameClaims struct {
	GameID string `json:"game_id"`
	Wallet string `json:"wallet"`
	jwt.RegisteredClaims
}

// JWTService issues game tokens. With an empty secret it is disabled and
// GenerateToken returns an empty token.
type JWTService struct {
	secret []byte
	ttl    time.Duration
}

func NewJWTService(secret string, ttl time.Duration) *JWTService {
	return &JWTService{
		secret: []byte(secret),
		ttl:    ttl,
	}
}

func (s *JWTService) Enabled() bool {
	return s != nil && len(s.secret) > 0
}

func (s *JWTService) GenerateToken(gameID, wallet string) (string, error) {
	if !s.Enabled() {
		return "", nil
	}

	now := time.Now()
	claims := GameClaims{
		GameID: gameID,
		Wallet: wallet,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   wallet,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("services.JWTService.GenerateToken: %w", err)
	}
	return signed, nil
}

func (s *JWTService) ValidateToken(tokenString string) (*GameClaims, error) {
	claims := &GameClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.GameID == "" {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
