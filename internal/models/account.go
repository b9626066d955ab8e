package models

import "time"

// Account captures the credentials backing an authenticated identity.
type Account struct {
	IdentityID   string    `json:"identityId"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"passwordHash,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}
