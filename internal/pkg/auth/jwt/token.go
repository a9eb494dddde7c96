package jwt

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt"
)

const (
	// UserIdentityExpiration defines the lifetime of identity tokens issued at login/signup.
	UserIdentityExpiration = 24 * time.Hour

	// TokenIssuer identifies the issuer of the token.
	TokenIssuer = "relaychat"
)

// ErrMissingSubject is returned when a valid token carries no usable subject.
var ErrMissingSubject = errors.New("token missing subject")

// GenerateToken signs an HS256 token for the given user id.
func GenerateToken(userID int64, username string, secretKey string, duration time.Duration) (string, error) {
	now := time.Now()

	payload := &Payload{
		StandardClaims: jwt.StandardClaims{
			Subject:   strconv.FormatInt(userID, 10),
			ExpiresAt: now.Add(duration).Unix(),
			IssuedAt:  now.Unix(),
			Issuer:    TokenIssuer,
		},
		Username: username,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, payload)

	return token.SignedString([]byte(secretKey))
}

// ParseToken parses and validates the token string using secretKey.
func ParseToken(tokenString string, secretKey string) (*Payload, error) {
	claims := &Payload{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secretKey), nil
	})

	if err != nil {
		return nil, err
	}

	if !token.Valid {
		return nil, errors.New("invalid or expired token")
	}

	return claims, nil
}

// UserID returns the subject claim as a user id.
func (p *Payload) UserID() (int64, error) {
	if p.Subject == "" {
		return 0, ErrMissingSubject
	}
	id, err := strconv.ParseInt(p.Subject, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMissingSubject, err)
	}
	return id, nil
}

// Verifier validates bearer tokens presented during the WebSocket handshake.
type Verifier struct {
	secretKey string
}

// NewVerifier returns a Verifier for tokens signed with secretKey.
func NewVerifier(secretKey string) *Verifier {
	return &Verifier{secretKey: secretKey}
}

// Verify returns the subject user id of a valid token.
func (v *Verifier) Verify(_ context.Context, token string) (int64, error) {
	payload, err := ParseToken(token, v.secretKey)
	if err != nil {
		return 0, err
	}
	return payload.UserID()
}
