package accounts

import "time"

// User is a registered account. Mobile is the canonical E.164 number and is the
// identity used for presence and calls; it never changes after signup.
type User struct {
	ID           string    `json:"id" db:"id"`
	Name         string    `json:"name" db:"name"`
	Mobile       string    `json:"mobile" db:"mobile"`
	PasswordHash string    `json:"-" db:"password_hash"`
	Verified     bool      `json:"verified" db:"verified"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

type SignupRequest struct {
	Name     string `json:"name"`
	Mobile   string `json:"mobile"`
	Password string `json:"password"`
}
