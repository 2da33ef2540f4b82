// Package domain contains core domain types for the devroom application.
package domain

import (
	"time"
)

// User represents a registered account.
type User struct {
	ID        string    `json:"_id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
