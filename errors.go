package cmux

import (
	"errors"
	"fmt"
)

// Common errors.
var (
	// ErrInvalidConfig is returned when the configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrWorkspaceNotFound is returned when a workspace does not exist.
	ErrWorkspaceNotFound = errors.New("workspace not found")
)

// WorkspaceError represents an error with workspace context.
type WorkspaceError struct {
	Op          string         // Operation that failed
	WorkspaceID string         // Workspace ID if applicable
	Err         error          // Underlying error
	Context     map[string]any // Additional context
}

// Error implements the error interface.
func (e *WorkspaceError) Error() string {
	if e.WorkspaceID != "" {
		return fmt.Sprintf("%s (workspace=%s): %v", e.Op, e.WorkspaceID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *WorkspaceError) Unwrap() error {
	return e.Err
}

// WithContext adds additional context to the error.
func (e *WorkspaceError) WithContext(key string, value any) *WorkspaceError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// NewWorkspaceError creates a new WorkspaceError.
func NewWorkspaceError(op, workspaceID string, err error) *WorkspaceError {
	return &WorkspaceError{
		Op:          op,
		WorkspaceID: workspaceID,
		Err:         err,
	}
}
