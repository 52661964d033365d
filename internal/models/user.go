package models

import (
	"time"
)

type User struct {
	ID              int        `json:"id" db:"id"`
	Username        string     `json:"username" db:"username"`
	Email           string     `json:"email" db:"email"`
	PasswordHash    string     `json:"-" db:"password_hash"`
	ProfileImageURL *string    `json:"profile_image_url,omitempty" db:"profile_image_url"`
	FailedAttempts  int        `json:"-" db:"failed_attempts"`
	LockedUntil     *time.Time `json:"-" db:"locked_until"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
}
