package model

import "errors"

var (
	// ErrNotFound is returned when a chain table row, token, relay or feed
	// entry does not exist.
	ErrNotFound = errors.New("not found")

	// ErrReadOnly is returned by write actions on a module that has no
	// transactor attached.
	ErrReadOnly = errors.New("module is read-only")

	// ErrNotSupported is returned by actions a network cannot serve.
	ErrNotSupported = errors.New("action not supported by network")

	// ErrInsufficientReserve is returned when a relay cannot cover a
	// requested amount.
	ErrInsufficientReserve = errors.New("insufficient reserve balance")
)
