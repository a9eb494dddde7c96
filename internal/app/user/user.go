/*
Package user contains the identity types bound to a chat connection.

A User is either registered, carrying the store-assigned ID, or a guest whose ID is nil.
Guests never hold a stable id and may not join channels.
*/
package user

import "fmt"

// User is the identity bound to a connection after the handshake. Immutable afterwards.
type User struct {
	// ID is the store-assigned id; nil for guests.
	ID *int64 `json:"id"`

	// Username is unique among registered users and is the equality key.
	Username string `json:"username"`
}

// Registered builds a User with a store id.
func Registered(id int64, username string) User {
	return User{ID: &id, Username: username}
}

// Guest builds a User without an id.
func Guest(username string) User {
	return User{Username: username}
}

// IsGuest reports whether u has no stable id.
func (u User) IsGuest() bool {
	return u.ID == nil
}

// Equal compares users by username.
func (u User) Equal(other User) bool {
	return u.Username == other.Username
}

func (u User) String() string {
	if u.ID == nil {
		return u.Username + " (guest)"
	}
	return fmt.Sprintf("%s (#%d)", u.Username, *u.ID)
}
