package models

import "time"

// Account is an identity of the account directory. The magic-link core only
// references it; the directory owns every field except LastLoginAt, which a
// successful verification updates.
type Account struct {
	ID          string
	Email       string
	FullName    string
	IsActive    bool
	CreatedAt   time.Time
	LastLoginAt *time.Time
}
