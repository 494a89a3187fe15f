// Package exitcodes defines standard exit codes for CLI operations.
// Stable codes let Airflow, Kubernetes, and other schedulers decide
// whether a failed run is worth retrying.
package exitcodes

import (
	"errors"
	"os"
	"strings"
)

const (
	// Success - ingest run completed without fatal errors
	Success = 0

	// ConfigError - configuration/YAML parsing errors (non-recoverable, don't retry)
	ConfigError = 1

	// ConnectionError - database connection or pool errors (recoverable)
	ConnectionError = 2

	// FetchError - source API fetch failed after retries (recoverable)
	FetchError = 3

	// ValidationError - schema or data validation failed fatally (non-recoverable)
	ValidationError = 4

	// Cancelled - user cancelled via SIGINT/SIGTERM (recoverable)
	Cancelled = 5

	// StateError - checkpoint/run-ledger errors (non-recoverable)
	StateError = 6

	// IOError - file I/O errors (recoverable)
	IOError = 7
)

// ExitError wraps an error with an exit code.
type ExitError struct {
	Err  error
	Code int
}

func (e *ExitError) Error() string {
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code.
func NewExitError(err error, code int) *ExitError {
	return &ExitError{Err: err, Code: code}
}

// FromError determines the appropriate exit code for an error.
// It examines error messages and types to classify the error.
func FromError(err error) int {
	if err == nil {
		return Success
	}

	// Check if it's already an ExitError
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}

	// os.PathError covers file not found, permission denied, etc.
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return IOError
	}

	errStr := strings.ToLower(err.Error())

	if containsAny(errStr, []string{
		"no such file",
		"file not found",
		"permission denied",
		"is a directory",
		"not a directory",
	}) {
		return IOError
	}

	// Config errors (exit code 1) - parsing issues, not validation of data
	if containsAny(errStr, []string{
		"yaml:",
		"unmarshal",
		"invalid config",
		"missing required",
		"invalid value",
		"parsing config",
	}) && !containsAny(errStr, []string{"connection", "connect", "dial"}) {
		return ConfigError
	}

	// Cancelled (exit code 5) - check before connection errors so that
	// "context deadline" doesn't match the "timeout" keyword below
	if containsAny(errStr, []string{
		"cancel",
		"interrupt",
		"context canceled",
		"context deadline",
	}) {
		return Cancelled
	}

	// Database connection errors (exit code 2)
	if containsAny(errStr, []string{
		"connection",
		"connect",
		"dial",
		"refused",
		"unreachable",
		"no such host",
		"network",
		"pool",
		"ping",
		"authentication",
	}) {
		return ConnectionError
	}

	// State errors (exit code 6) - check before fetch so checkpoint
	// failures classify as state problems even when fetch-adjacent
	if containsAny(errStr, []string{
		"checkpoint",
		"etl state",
		"run ledger",
		"run not found",
		"already finalized",
	}) {
		return StateError
	}

	// Fetch errors (exit code 3)
	if containsAny(errStr, []string{
		"fetch",
		"http",
		"status",
		"timeout",
		"decoding page",
		"retries exhausted",
	}) {
		return FetchError
	}

	// Validation errors (exit code 4)
	if containsAny(errStr, []string{
		"validation",
		"schema",
		"constraint",
		"duplicate key",
	}) {
		return ValidationError
	}

	// Default to fetch error for unknown errors
	return FetchError
}

// IsRecoverable returns true if the error is recoverable (safe to retry).
func IsRecoverable(code int) bool {
	switch code {
	case ConnectionError, FetchError, Cancelled, IOError:
		return true
	default:
		return false
	}
}

// Description returns a human-readable description of the exit code.
func Description(code int) string {
	switch code {
	case Success:
		return "success"
	case ConfigError:
		return "configuration error"
	case ConnectionError:
		return "connection error (recoverable)"
	case FetchError:
		return "fetch error (recoverable)"
	case ValidationError:
		return "validation error"
	case Cancelled:
		return "cancelled (recoverable)"
	case StateError:
		return "state error"
	case IOError:
		return "I/O error (recoverable)"
	default:
		return "unknown error"
	}
}

func containsAny(s string, substrs []string) bool {
	for _, substr := range substrs {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}
