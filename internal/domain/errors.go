package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMalformedSubmission is returned when required submission fields are missing
	ErrMalformedSubmission = errors.New("malformed submission")

	// ErrInvalidScoringConfig marks a weight or threshold set that breaks the aggregation invariants.
	// It is a startup error, never a per-request one.
	ErrInvalidScoringConfig = errors.New("invalid scoring configuration")
)

// ValidationError lists the required fields a submission was missing
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: missing %s", ErrMalformedSubmission, strings.Join(e.Fields, ", "))
}

func (e *ValidationError) Unwrap() error {
	return ErrMalformedSubmission
}

// IncompleteResultsError signals a result set that does not cover every analyzer kind exactly once
type IncompleteResultsError struct {
	Tool   ToolName
	Reason string
}

func (e *IncompleteResultsError) Error() string {
	return fmt.Sprintf("incomplete analyzer results: %s for %q", e.Reason, e.Tool)
}
