package user

import "fmt"

// Channel is a numbered chat channel. Channels are created on first join and never deleted.
type Channel struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// NewChannel names the channel after its id.
func NewChannel(id int64) Channel {
	return Channel{ID: id, Name: fmt.Sprintf("Channel %d", id)}
}
