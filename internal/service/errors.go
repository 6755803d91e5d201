package service

import "errors"

var (
	ErrInvalidItem    = errors.New("invalid cart item")
	ErrKeyConflict    = errors.New("idempotency key already used for another cart")
	ErrNoConfirmation = errors.New("no order confirmation for cart")
)
