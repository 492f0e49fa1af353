package service

import (
	"errors"
	"lobbycast/internal/model"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken    = errors.New("invalid or expired token")
	ErrInvalidUsername = errors.New("username must be 1-32 characters")
	ErrDevLoginOff     = errors.New("development token issuance is disabled")
)

// AuthService issues and validates user tokens. Token issuance in
// production belongs to an external identity provider; Issue exists for
// development and tests only.
type AuthService struct {
	jwtSecret []byte
	ttl       time.Duration
	devLogin  bool
}

// NewAuthService creates a new auth service
func NewAuthService(secret string, ttl time.Duration, devLogin bool) *AuthService {
	return &AuthService{
		jwtSecret: []byte(secret),
		ttl:       ttl,
		devLogin:  devLogin,
	}
}

// Issue creates a token for a new user id.
func (s *AuthService) Issue(username, avatar string) (*model.TokenResponse, error) {
	if !s.devLogin {
		return nil, ErrDevLoginOff
	}
	username = strings.TrimSpace(username)
	if username == "" || len(username) > 32 {
		return nil, ErrInvalidUsername
	}

	userID := "user_" + uuid.New().String()[:8]
	token, err := s.Sign(model.UserIdentity{UserID: userID, Username: username, Avatar: avatar})
	if err != nil {
		return nil, err
	}
	return &model.TokenResponse{
		Token:  token,
		UserID: userID,
	}, nil
}

// Sign creates a token for an existing identity.
func (s *AuthService) Sign(user model.UserIdentity) (string, error) {
	now := time.Now()
	claims := &model.UserClaims{
		UserID:   user.UserID,
		Username: user.Username,
		Avatar:   user.Avatar,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  user.UserID,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if s.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(s.ttl))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

// Validate parses a token and returns its claims
func (s *AuthService) Validate(tokenString string) (*model.UserClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &model.UserClaims{}, func(token *jwt.Token) (interface{}, error) {
		return s.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*model.UserClaims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Identity converts claims to the identity bound to a connection.
func Identity(c *model.UserClaims) model.UserIdentity {
	return model.UserIdentity{UserID: c.UserID, Username: c.Username, Avatar: c.Avatar}
}
