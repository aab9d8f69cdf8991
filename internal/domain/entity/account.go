package entity

import (
	"time"
)

// Account is the authentication identity behind a ledger. Passwords are
// stored as bcrypt hashes in Password.
type Account struct {
	ID        string
	Email     string
	Password  string
	Name      string
	AvatarURL string
	CreatedAt time.Time
	UpdatedAt time.Time
}
