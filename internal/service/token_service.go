package service

import (
	"errors"
	"time"

	"github.com/dom/league-match-engine/internal/config"
	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// Identity is the authenticated caller extracted from a bearer token.
// Tokens are normally issued by the league's account service; IssueToken
// exists for service-to-service calls and test fixtures.
type Identity struct {
	UserID      string
	DisplayName string
	TeamID      string
	SuperAdmin  bool
}

type TokenService struct {
	secret []byte
}

func NewTokenService(cfg *config.Config) *TokenService {
	return &TokenService{secret: []byte(cfg.JWTSecret)}
}

// IssueToken signs a token for the given identity.
func (s *TokenService) IssueToken(identity *Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": identity.UserID,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	if identity.DisplayName != "" {
		claims["name"] = identity.DisplayName
	}
	if identity.TeamID != "" {
		claims["team"] = identity.TeamID
	}
	if identity.SuperAdmin {
		claims["super_admin"] = true
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

func (s *TokenService) ValidateToken(tokenString string) (*Identity, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, ErrInvalidToken
	}

	identity := &Identity{UserID: sub}
	identity.DisplayName, _ = claims["name"].(string)
	identity.TeamID, _ = claims["team"].(string)
	identity.SuperAdmin, _ = claims["super_admin"].(bool)
	return identity, nil
}
