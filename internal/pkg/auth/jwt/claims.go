package jwt

import "github.com/golang-jwt/jwt"

// Payload defines the claims carried by relaychat identity tokens.
// The standard Subject claim holds the persisted user id in decimal form.
type Payload struct {
	jwt.StandardClaims

	// Username is informational; the server always resolves the user from Subject.
	Username string `json:"username"`
}
