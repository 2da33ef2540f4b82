package domain

import (
	"crypto/rand"
	"encoding/hex"
	"regexp"
)

var idPattern = regexp.MustCompile(`^[a-f0-9]{24}$`)

// NewID returns a new 24-character hex identifier for users and projects.
func NewID() string {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failure means the process has no usable entropy source.
		panic("domain: read random bytes: " + err.Error())
	}
	return hex.EncodeToString(buf)
}

// ValidID reports whether id is a well-formed 24-character hex identifier.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}
