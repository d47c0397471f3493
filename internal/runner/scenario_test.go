package runner

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

type reasonedError struct{ code int }

func (e reasonedError) Error() string  { return fmt.Sprintf("unexpected status %d", e.code) }
func (e reasonedError) Reason() string { return fmt.Sprintf("HTTP %d", e.code) }

type silentError struct{}

func (silentError) Error() string { return "" }

func TestFailureReason(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"reasoner", reasonedError{code: 503}, "HTTP 503"},
		{"wrapped reasoner", fmt.Errorf("checkout: %w", reasonedError{code: 429}), "HTTP 429"},
		{"deadline", fmt.Errorf("dial: %w", context.DeadlineExceeded), "timeout"},
		{"cancelled", context.Canceled, "cancelled"},
		{"message", errors.New("connection refused"), "connection refused"},
		{"empty message", silentError{}, "runner.silentError"},
		{"empty message pointer", &silentError{}, "*runner.silentError"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := failureReason(tt.err); got != tt.want {
				t.Errorf("failureReason() = %q, want %q", got, tt.want)
			}
		})
	}
}
