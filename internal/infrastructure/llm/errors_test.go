package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"study-forge-api/internal/domain/service"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want service.OutcomeKind
	}{
		{"rate limited http", errors.New("error, status code: 429, message: slow down"), service.OutcomeRetryable},
		{"server error http", fmt.Errorf("wrapped: %w", errors.New("status code: 503")), service.OutcomeRetryable},
		{"bad request http", errors.New("error, status code: 400, message: invalid"), service.OutcomeFatal},
		{"unauthorized http", errors.New("error, status code: 401"), service.OutcomeFatal},
		{"googleapi 500", &googleapi.Error{Code: 500}, service.OutcomeRetryable},
		{"googleapi 403", &googleapi.Error{Code: 403}, service.OutcomeFatal},
		{"grpc unavailable", status.Error(codes.Unavailable, "down"), service.OutcomeRetryable},
		{"grpc exhausted", status.Error(codes.ResourceExhausted, "quota"), service.OutcomeRetryable},
		{"grpc invalid", status.Error(codes.InvalidArgument, "bad"), service.OutcomeFatal},
		{"deadline", context.DeadlineExceeded, service.OutcomeRetryable},
		{"canceled", context.Canceled, service.OutcomeFatal},
		{"net timeout", timeoutErr{}, service.OutcomeRetryable},
		{"connection reset", errors.New("read tcp: connection reset by peer"), service.OutcomeRetryable},
		{"unknown", errors.New("model does not exist"), service.OutcomeFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Classify(tt.err)
			assert.Equal(t, tt.want, out.Kind)
			assert.ErrorIs(t, out.Err, tt.err)
		})
	}
}
