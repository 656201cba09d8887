package types

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SessionID identifies one OTA download attempt in logs.
type SessionID string

// NewSessionID generates a UUIDv7 session identifier.
// Panics on clock regression (uuid.Must); acceptable for ID generation.
func NewSessionID() SessionID {
	return SessionID(uuid.Must(uuid.NewV7()).String())
}

// SessionTime extracts the timestamp embedded in a UUIDv7 session ID.
// Returns zero time for invalid UUIDs; caller should check IsZero().
func SessionTime(id SessionID) time.Time {
	u, err := uuid.Parse(string(id))
	if err != nil {
		return time.Time{}
	}
	sec, nsec := u.Time().UnixTime()
	return time.Unix(sec, nsec)
}

// NewClientID builds an MQTT client id from the serial number and a UUIDv7 suffix,
// so a restarted agent never collides with its own stale broker session.
func NewClientID(serial uint32) string {
	u := uuid.Must(uuid.NewV7())
	return fmt.Sprintf("aad-%06d-%s", serial, u.String()[24:])
}
