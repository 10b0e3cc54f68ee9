package core

import "github.com/google/uuid"

// NewUUIDv7 returns a new time-ordered identifier.
func NewUUIDv7() string {
	return uuid.Must(uuid.NewV7()).String()
}

// IsValidUUIDv7 reports whether s is a well-formed version 7 UUID.
func IsValidUUIDv7(s string) bool {
	u, err := uuid.Parse(s)
	if err != nil {
		return false
	}
	return u.Version() == 7 && u.Variant() == uuid.RFC4122
}
