// Package identity decodes the local user from the session bearer token.
package identity

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// User is the local identity for the lifetime of a session. It is supplied
// by the authentication collaborator and immutable once decoded.
type User struct {
	ID        int64
	Username  string
	FirstName string
	LastName  string
	Role      string
}

// FromToken decodes the user claims from a JWT without verifying the
// signature. Token validation is the server's job; the client only needs to
// know who it is acting as.
func FromToken(token string) (*User, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	id, ok := claims["userId"].(float64)
	if !ok {
		return nil, errors.New("token has no userId claim")
	}

	u := &User{ID: int64(id)}
	if s, ok := claims["username"].(string); ok {
		u.Username = s
	}
	if s, ok := claims["firstName"].(string); ok {
		u.FirstName = s
	}
	if s, ok := claims["lastName"].(string); ok {
		u.LastName = s
	}
	if s, ok := claims["role"].(string); ok {
		u.Role = s
	}
	return u, nil
}

// DisplayName returns "First Last" when both are known, otherwise the
// username.
func (u *User) DisplayName() string {
	if u.FirstName != "" && u.LastName != "" {
		return u.FirstName + " " + u.LastName
	}
	return u.Username
}
