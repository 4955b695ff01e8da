package realtime

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput is the kind of every *InputError.
	ErrInvalidInput = errors.New("invalid input")

	ErrNotParticipant       = errors.New("not a participant of conversation")
	ErrNotBound             = errors.New("connection has no identity")
	ErrSenderMismatch       = errors.New("sender does not match connection identity")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageNotFound      = errors.New("message not found")
)

// InputError is a typed validation error for a single payload field.
type InputError struct {
	Field  string
	Reason string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *InputError) Unwrap() error { return ErrInvalidInput }

func inputErr(field, reason string) error {
	return &InputError{Field: field, Reason: reason}
}
