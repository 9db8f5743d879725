package descriptor

import (
	"fmt"

	"github.com/dmitrijs2005/dropbin/internal/common"
)

// ValidationError reports a rejected descriptor field. It matches
// common.ErrValidation with errors.Is.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == common.ErrValidation
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Notice tells the caller that a file name was rewritten before upload.
type Notice struct {
	Index     int
	Original  string
	Sanitized string
}

func (n Notice) String() string {
	return fmt.Sprintf("file %d renamed from %q to %q", n.Index+1, n.Original, n.Sanitized)
}
