// Package errs implements the four-kind error taxonomy used across the
// orchestrator: input/precondition, not-found, transient-external, and
// agent/run-failure, per spec.md §7.
package errs

import "fmt"

// InputError is a precondition failure: missing required field, unknown
// provider, already-running task, agent busy, invalid resume status.
// Propagates as HTTP 400 with no state change.
type InputError struct {
	Code    string // machine-readable, e.g. "already_running", "agent_busy"
	Message string
}

func (e *InputError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Code
}

func NewInputError(code, message string) *InputError {
	return &InputError{Code: code, Message: message}
}

// NotFoundError wraps an unknown task/agent/department/subtask id.
// Propagates as HTTP 404 {error:"not_found"}.
type NotFoundError struct {
	Kind string // "task", "agent", "department", "subtask"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

func NewNotFoundError(kind, id string) *NotFoundError {
	return &NotFoundError{Kind: kind, ID: id}
}

// TransientError covers OAuth refresh failures, usage API non-200s, and
// unreachable project-discovery endpoints. Callers of usage-probe code
// paths convert these into a cached {windows:[], error:"..."} result
// rather than surfacing a failure to the caller.
type TransientError struct {
	Reason string // "http_<code>" | "unavailable" | "unauthenticated"
	Err    error
}

func (e *TransientError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *TransientError) Unwrap() error { return e.Err }

func NewTransientError(reason string, err error) *TransientError {
	return &TransientError{Reason: reason, Err: err}
}

// RunFailureError covers a non-zero CLI exit, a spawn error, or an HTTP
// agent abort that isn't a clean cancellation. The orchestrator resets
// the task to inbox and posts a failure report rather than propagating
// this as a REST error.
type RunFailureError struct {
	TaskID   string
	ExitCode int
	Err      error
}

func (e *RunFailureError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("task %s run failed (exit %d): %v", e.TaskID, e.ExitCode, e.Err)
	}
	return fmt.Sprintf("task %s run failed (exit %d)", e.TaskID, e.ExitCode)
}

func (e *RunFailureError) Unwrap() error { return e.Err }

func NewRunFailureError(taskID string, exitCode int, err error) *RunFailureError {
	return &RunFailureError{TaskID: taskID, ExitCode: exitCode, Err: err}
}
