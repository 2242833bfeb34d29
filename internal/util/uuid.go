package util

import (
	"encoding/base64"

	"github.com/google/uuid"
)

// ShortUUID generates a short UUID with 22 symbols
func ShortUUID() string {
	u := uuid.New()
	return base64.RawURLEncoding.EncodeToString(u[:])
}

// NewID returns a client-generated id with a readable prefix, e.g. "mut_3qB..."
func NewID(prefix string) string {
	if prefix == "" {
		return ShortUUID()
	}
	return prefix + "_" + ShortUUID()
}
