package models

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("concurrent modification")
	ErrInvalidInput = errors.New("invalid input")
	ErrInvalidState = errors.New("invalid state")
)
