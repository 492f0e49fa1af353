package model

import "github.com/golang-jwt/jwt/v5"

// UserClaims are JWT claims carried by every websocket and REST caller
type UserClaims struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
	jwt.RegisteredClaims
}

// TokenRequest is the request body for the development token endpoint
type TokenRequest struct {
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
}

// TokenResponse is returned after a token is issued
type TokenResponse struct {
	Token  string `json:"token"`
	UserID string `json:"userId"`
}
