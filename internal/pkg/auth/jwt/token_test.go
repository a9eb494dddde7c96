package jwt

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

func TestGenerateAndParse(t *testing.T) {
	token, err := GenerateToken(42, "bob", secret, time.Hour)
	require.NoError(t, err)

	payload, err := ParseToken(token, secret)
	require.NoError(t, err)
	assert.Equal(t, "bob", payload.Username)
	assert.Equal(t, TokenIssuer, payload.Issuer)

	id, err := payload.UserID()
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	_, err = ParseToken(token, "other-secret")
	assert.Error(t, err)
}

func TestExpiredToken(t *testing.T) {
	token, err := GenerateToken(1, "bob", secret, -time.Minute)
	require.NoError(t, err)

	_, err = NewVerifier(secret).Verify(context.Background(), token)
	assert.Error(t, err)
}

func TestVerifier(t *testing.T) {
	token, err := GenerateToken(7, "carol", secret, time.Hour)
	require.NoError(t, err)

	id, err := NewVerifier(secret).Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)

	_, err = NewVerifier(secret).Verify(context.Background(), "garbage")
	assert.Error(t, err)
}

func TestUserIDRequiresSubject(t *testing.T) {
	_, err := (&Payload{}).UserID()
	assert.ErrorIs(t, err, ErrMissingSubject)
}

func TestMiddleware(t *testing.T) {
	token, err := GenerateToken(3, "dave", secret, time.Hour)
	require.NoError(t, err)

	var seen *Payload
	h := IdentityExtractorMiddleware(secret)(RequireIdentity(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetPayloadFromContext(r)
		w.WriteHeader(http.StatusNoContent)
	})))

	anonymous := httptest.NewRecorder()
	h.ServeHTTP(anonymous, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, anonymous.Code)
	assert.Nil(t, seen)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	authed := httptest.NewRecorder()
	h.ServeHTTP(authed, req)
	assert.Equal(t, http.StatusNoContent, authed.Code)
	require.NotNil(t, seen)
	assert.Equal(t, "dave", seen.Username)
}
