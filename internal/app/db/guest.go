package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"relaychat/internal/pkg/randx"
)

// newGuest draws guest names until one is not held by a registered user.
func newGuest(ctx context.Context, users usernameLookup) (UserRecord, error) {
	for range guestNameAttempts {
		name, err := randx.GuestName()
		if err != nil {
			return UserRecord{}, err
		}

		_, err = users.FindUserByUsername(ctx, name)
		if errors.Is(err, ErrUserNotFound) {
			return UserRecord{Username: name, CreatedAt: time.Now().UTC()}, nil
		}
		if err != nil {
			return UserRecord{}, err
		}
	}

	return UserRecord{}, fmt.Errorf("db: no free guest username after %d attempts", guestNameAttempts)
}
