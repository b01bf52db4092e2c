package model

import "github.com/golang-jwt/jwt"

// UserClaims is the JWT payload issued to API callers.
type UserClaims struct {
	jwt.StandardClaims
	UserName string `json:"user_name,omitempty"`
}
