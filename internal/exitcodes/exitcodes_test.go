package exitcodes

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestFromError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil error", nil, Success},
		{"exit error passthrough", NewExitError(errors.New("boom"), StateError), StateError},
		{"wrapped exit error", fmt.Errorf("run failed: %w", NewExitError(errors.New("boom"), ConfigError)), ConfigError},
		{"yaml parse", errors.New("yaml: line 3: mapping values are not allowed"), ConfigError},
		{"missing required", errors.New("invalid config: missing required field api.base_url"), ConfigError},
		{"db refused", errors.New("dial tcp 127.0.0.1:5432: connection refused"), ConnectionError},
		{"pool exhausted", errors.New("acquiring connection from pool: closed"), ConnectionError},
		{"checkpoint", errors.New("reading checkpoint for WHOSIS_000001/ALB: no rows"), StateError},
		{"fetch 500", errors.New("fetching page: http status 500"), FetchError},
		{"retries exhausted", errors.New("retries exhausted after 3 attempts: http status 503"), FetchError},
		{"context cancelled", context.Canceled, Cancelled},
		{"context deadline", context.DeadlineExceeded, Cancelled},
		{"constraint violation", errors.New("executing upsert: violates check constraint"), ValidationError},
		{"unknown", errors.New("something odd"), FetchError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FromError(tt.err); got != tt.want {
				t.Errorf("FromError(%v) = %d (%s), want %d (%s)",
					tt.err, got, Description(got), tt.want, Description(tt.want))
			}
		})
	}
}

func TestIsRecoverable(t *testing.T) {
	recoverable := []int{ConnectionError, FetchError, Cancelled, IOError}
	for _, code := range recoverable {
		if !IsRecoverable(code) {
			t.Errorf("code %d (%s) should be recoverable", code, Description(code))
		}
	}

	fatal := []int{Success, ConfigError, ValidationError, StateError}
	for _, code := range fatal {
		if IsRecoverable(code) {
			t.Errorf("code %d (%s) should not be recoverable", code, Description(code))
		}
	}
}

func TestExitErrorUnwrap(t *testing.T) {
	inner := errors.New("inner")
	err := NewExitError(fmt.Errorf("outer: %w", inner), StateError)
	if !errors.Is(err, inner) {
		t.Error("ExitError should unwrap to inner error")
	}
}
