package models

import "github.com/golang-jwt/jwt/v5"

// JWTClaims represents the JWT payload for access tokens.
type JWTClaims struct {
	UserID        string   `json:"user_id"`
	Role          UserRole `json:"role"`
	InstitutionID string   `json:"institution_id"`
	Username      string   `json:"username"`
	jwt.RegisteredClaims
}

// Principal is the identity an operation runs as.
type Principal struct {
	UserID        string
	InstitutionID string
	Role          UserRole
	Username      string
}

// PrincipalFromUser derives a principal from a stored account.
func PrincipalFromUser(u *User) Principal {
	return Principal{UserID: u.ID, InstitutionID: u.InstitutionID, Role: u.Role, Username: u.Username}
}

// PrincipalFromClaims derives a principal from validated token claims.
func PrincipalFromClaims(c *JWTClaims) Principal {
	return Principal{UserID: c.UserID, InstitutionID: c.InstitutionID, Role: c.Role, Username: c.Username}
}

// HasRole reports whether the principal holds one of the roles.
func (p Principal) HasRole(roles ...UserRole) bool {
	for _, r := range roles {
		if p.Role == r {
			return true
		}
	}
	return false
}
