package ingest

import "errors"

var (
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidType and ErrInvalidSize both match ErrInvalidInput with errors.Is.
	ErrInvalidType = newInputError("unsupported file type")
	ErrInvalidSize = newInputError("invalid file size")

	ErrInvalidTransition       = errors.New("invalid state transition")
	ErrConcurrentSessionExists = errors.New("an active processing session already exists for this file")
	ErrSelfLoop                = errors.New("relationship source and target are the same entity")
	ErrUnknownType             = errors.New("unknown relationship type")
	ErrNotFound                = errors.New("not found")
)

type inputError struct {
	msg string
}

func newInputError(msg string) error {
	return &inputError{msg: msg}
}

func (e *inputError) Error() string { return e.msg }
func (e *inputError) Unwrap() error { return ErrInvalidInput }
