/*
Package randx provides cryptographically secure random identifiers: guest usernames,
connection handles and correlation ids.
*/
package randx

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"
)

const (
	// Base62Chars defines the character set used for Base62 encoding (0-9, A-Z, a-z).
	Base62Chars = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

	// Base62Len is the total number of characters in the Base62 character set (62).
	Base62Len = int64(len(Base62Chars))

	// GuestNamePrefix prefixes every generated guest username.
	GuestNamePrefix = "guest_"

	// GuestNameRawLength is the length of the random part of a guest username.
	GuestNameRawLength = 6
)

// base62 returns n random Base62 characters.
func base62(n int) (string, error) {
	result := make([]byte, n)

	for i := range n {
		num, err := rand.Int(rand.Reader, big.NewInt(Base62Len))
		if err != nil {
			return "", fmt.Errorf("failed to generate random number: %w", err)
		}
		result[i] = Base62Chars[num.Int64()]
	}

	return string(result), nil
}

// GuestName generates a username of the form guest_XXXXXX.
func GuestName() (string, error) {
	raw, err := base62(GuestNameRawLength)
	if err != nil {
		return "", err
	}
	return GuestNamePrefix + raw, nil
}

// IsGuestName reports whether name has the shape produced by GuestName.
func IsGuestName(name string) bool {
	if !strings.HasPrefix(name, GuestNamePrefix) {
		return false
	}

	raw := name[len(GuestNamePrefix):]
	if len(raw) != GuestNameRawLength {
		return false
	}

	for _, char := range raw {
		if !strings.ContainsRune(Base62Chars, char) {
			return false
		}
	}

	return true
}

// ConnectionHandle returns a new opaque handle for a transport connection.
func ConnectionHandle() string {
	return uuid.New().String()
}

// CorrelationID returns a new UUID v4 for envelopes.
func CorrelationID() uuid.UUID {
	return uuid.New()
}
