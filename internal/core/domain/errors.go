package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNoteNotFound = errors.New("note not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrInvalidState = errors.New("invalid note state")
	ErrConflict     = errors.New("concurrent modification")
	ErrTemporary    = errors.New("temporary failure")

	// Pipeline stage failures.
	ErrProvider    = errors.New("provider failure")
	ErrEmptyResult = errors.New("empty result")
	ErrParse       = errors.New("unparsable model response")
	ErrTruncated   = errors.New("truncated model response")
	ErrExtraction  = errors.New("extraction failure")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
