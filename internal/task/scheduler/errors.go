package scheduler

import "errors"

var (
	ErrDuplicateIdentity = errors.New("duplicate event identity")
	ErrUnknownIdentity   = errors.New("unknown event identity")
	ErrInvalidEvent      = errors.New("invalid event")
)
