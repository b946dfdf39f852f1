package client

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/kjstillabower/aqi-watch/internal/circuitbreaker"
)

// TestCategorizeError verifies that CategorizeError maps sentinel, wrapped
// and message-only errors to stable metric labels.
func TestCategorizeError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCategory
	}{
		{"nil", nil, ""},
		{"deadline", context.DeadlineExceeded, ErrorCategoryTimeout},
		{"canceled", context.Canceled, ErrorCategoryTimeout},
		{"wrapped deadline", fmt.Errorf("openaq request timeout: %w", context.DeadlineExceeded), ErrorCategoryTimeout},
		{"circuit open", fmt.Errorf("openaq: %w", circuitbreaker.ErrOpen), ErrorCategoryCircuitOpen},
		{"place not found", fmt.Errorf("%w: %q", ErrPlaceNotFound, "xyz"), ErrorCategoryPlaceNotFound},
		{"rate limited", ErrRateLimited, ErrorCategoryRateLimited},
		{"upstream status", fmt.Errorf("%w: HTTP 503", ErrUpstreamFailure), ErrorCategoryUpstream},
		{"malformed", fmt.Errorf("%w: parse response", ErrMalformedResponse), ErrorCategoryMalformed},
		{"network in message", errors.New("dial tcp: connection refused"), ErrorCategoryNetwork},
		{"parse in message", errors.New("parse body"), ErrorCategoryMalformed},
		{"unknown", errors.New("something else"), ErrorCategoryUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CategorizeError(tt.err); got != tt.want {
				t.Errorf("CategorizeError() = %v, want %v", got, tt.want)
			}
		})
	}
}
