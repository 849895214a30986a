package aspectscore

import (
	"errors"
	"fmt"
)

// Batch-fatal error kinds. Every failure returned by the engine matches
// exactly one of these with errors.Is.
var (
	ErrDimensionMismatch = errors.New("dimension mismatch")
	ErrDegenerateVector  = errors.New("degenerate vector")
	ErrNonFiniteValue    = errors.New("non-finite value")
	ErrInvalidParameter  = errors.New("invalid parameter")
	ErrEmptyBatch        = errors.New("empty batch")
)

// ScoreError locates a row-level failure inside a batch.
type ScoreError struct {
	Row      int
	CourseID string
	Aspect   string
	Err      error
}

func (e *ScoreError) Error() string {
	if e.Aspect == "" {
		return fmt.Sprintf("course %q (row %d): %v", e.CourseID, e.Row, e.Err)
	}
	return fmt.Sprintf("course %q (row %d), aspect %q: %v", e.CourseID, e.Row, e.Aspect, e.Err)
}

func (e *ScoreError) Unwrap() error { return e.Err }

func invalidParam(name string, format string, args ...any) error {
	return fmt.Errorf("%w: %s %s", ErrInvalidParameter, name, fmt.Sprintf(format, args...))
}
