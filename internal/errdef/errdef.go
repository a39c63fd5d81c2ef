// Package errdef defines the error taxonomy shared across the pipeline.
package errdef

import (
	"errors"
	"fmt"
)

// ValidationError marks a submission missing required fields for a stage.
// The submission is excluded from that stage, counted, and never retried.
type ValidationError struct {
	SubmissionID string
	Stage        string
	Field        string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: submission %s missing %s for stage %s", e.SubmissionID, e.Field, e.Stage)
}

// ExternalServiceError marks an inference endpoint failure. Retried with
// exponential backoff; after exhaustion a neutral fallback payload is
// substituted rather than propagated.
type ExternalServiceError struct {
	Service string
	Err     error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("external service %s: %v", e.Service, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

// StorageError marks a sink rejecting a batch write. Surfaced as an overall
// batch failure, with partial statistics still returned to the caller.
type StorageError struct {
	Table string
	Err   error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: table %s: %v", e.Table, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// MetadataUpdateError marks a best-effort concept metadata update failure.
// Logged, never propagated, never blocks storage success.
type MetadataUpdateError struct {
	ConceptID string
	Err       error
}

func (e *MetadataUpdateError) Error() string {
	return fmt.Sprintf("metadata update: concept %s: %v", e.ConceptID, e.Err)
}

func (e *MetadataUpdateError) Unwrap() error { return e.Err }

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsStorage reports whether err is a StorageError.
func IsStorage(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
