package models

import "errors"

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrValidation      = errors.New("validation failed")
	ErrForbidden       = errors.New("forbidden")
	ErrNotFound        = errors.New("not found")
	ErrTransient       = errors.New("store unavailable")

	ErrUserNotFound = errors.New("user not found")
)
