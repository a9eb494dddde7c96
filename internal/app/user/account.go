package user

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"relaychat/internal/app/db"
	"relaychat/internal/pkg/randx"
)

var usernameRegex = regexp.MustCompile(`^[A-Za-z0-9_]{3,32}$`)

const (
	minPasswordLength = 6

	// bcrypt ignores input beyond 72 bytes.
	maxPasswordLength = 72
)

// ValidUsername reports whether name may be registered. The guest prefix is reserved.
func ValidUsername(name string) bool {
	return usernameRegex.MatchString(name) && !strings.HasPrefix(name, randx.GuestNamePrefix)
}

// ValidPassword checks the password length in bytes.
func ValidPassword(password string) bool {
	return len(password) >= minPasswordLength && len(password) <= maxPasswordLength
}

func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// AccountStore is the part of db.Store used for accounts.
type AccountStore interface {
	FindUserByUsername(ctx context.Context, username string) (db.UserRecord, error)
	CreateUser(ctx context.Context, username, passwordHash string, superuser bool) (db.UserRecord, error)
}

// EnsureSuperuser creates the superuser account unless the username already exists.
func EnsureSuperuser(ctx context.Context, store AccountStore, username, password string) (bool, error) {
	if !ValidUsername(username) {
		return false, fmt.Errorf("invalid superuser username %q", username)
	}
	if !ValidPassword(password) {
		return false, errors.New("superuser password must be 6 to 72 bytes")
	}

	_, err := store.FindUserByUsername(ctx, username)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, db.ErrUserNotFound) {
		return false, err
	}

	hash, err := HashPassword(password)
	if err != nil {
		return false, err
	}

	if _, err := store.CreateUser(ctx, username, hash, true); err != nil {
		if errors.Is(err, db.ErrUserExists) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
