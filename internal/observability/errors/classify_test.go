package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	apperrors "github.com/target/listing-relay/internal/errors"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: ""},
		{name: "prefixed upstream", err: errors.New("upstream_error: HTTP 503"), want: "upstream_error"},
		{name: "prefixed delivery", err: errors.New("delivery_error: timeout"), want: "delivery_error"},
		{name: "app error", err: fmt.Errorf("wrap: %w", apperrors.NotFoundf("job %s", "x")), want: "app_not_found"},
		{name: "innermost type", err: fmt.Errorf("op: %w", context.DeadlineExceeded), want: "context_deadlineexceedederror"},
		{name: "plain", err: errors.New("boom"), want: "errors_errorstring"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}
