package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates an unknown node or link id
var ErrNotFound = errors.New("not found")

// ErrDuplicateID indicates an insert colliding with an existing id
var ErrDuplicateID = errors.New("duplicate id")

// ErrNodeInUse indicates a node deletion rejected because links still
// reference the node. Callers must remove the links first.
var ErrNodeInUse = errors.New("node referenced by existing links")

// ValidationError reports a malformed payload or a referential
// integrity violation. The store is left unchanged.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Reason
}

// Validationf builds a ValidationError from a format string
func Validationf(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a ValidationError
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
