package generation

import "fmt"

// ValidationError reports a malformed request. Nothing was changed.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// UnknownModelError reports a model id missing from the catalog.
type UnknownModelError struct {
	ModelID int64
}

func (e *UnknownModelError) Error() string {
	return fmt.Sprintf("unknown model %d", e.ModelID)
}

// UserNotFoundError reports an identity without a ledger row.
type UserNotFoundError struct {
	UserID int64
}

func (e *UserNotFoundError) Error() string {
	return fmt.Sprintf("user %d not found", e.UserID)
}

// InsufficientCreditsError reports a balance below the model's cost. Nothing was deducted.
type InsufficientCreditsError struct {
	Required  int
	Available int
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: required %d, available %d", e.Required, e.Available)
}

// GenerationFailedError reports an inference failure. Reserved credits were refunded.
type GenerationFailedError struct {
	Reason string
	Err    error
}

func (e *GenerationFailedError) Error() string {
	return "generation failed: " + e.Reason
}

func (e *GenerationFailedError) Unwrap() error { return e.Err }

// PersistenceError reports a failure to store the result. Reserved credits were refunded.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist generation: %v", e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
