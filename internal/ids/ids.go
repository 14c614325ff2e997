// Package ids generates identifiers for rooms and messages.
package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewRoomID generates a time-ordered UUID v7.
func NewRoomID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// NewMessageID generates a ULID for a message created at t. IDs generated in
// the same millisecond by this process are strictly increasing.
func NewMessageID(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// MessageTime returns the millisecond timestamp embedded in a message ID.
func MessageTime(id string) (time.Time, bool) {
	u, err := ulid.ParseStrict(id)
	if err != nil {
		return time.Time{}, false
	}
	return ulid.Time(u.Time()), true
}
