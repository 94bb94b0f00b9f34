package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"

	apperrors "github.com/target/listing-relay/internal/errors"
)

func TestClassifyJobError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"app validation", apperrors.Validation("unsupported source \"x\""), "validation_error: unsupported source \"x\""},
		{"message validation", errors.New("address is required"), "validation_error: address is required"},
		{"deadline", fmt.Errorf("fetch: %w", context.DeadlineExceeded), "upstream_error: fetch: context deadline exceeded"},
		{"dns", &net.DNSError{Err: "no such host", Name: "example.test"}, "upstream_error: lookup example.test: no such host"},
		{"refused", errors.New("dial tcp: connection refused"), "upstream_error: dial tcp: connection refused"},
		{"bad gateway", errors.New("HTTP 502 from host"), "upstream_error: HTTP 502 from host"},
		{"econnreset", errors.New("read: ECONNRESET"), "upstream_error: read: ECONNRESET"},
		{"scrape", errors.New("selector matched nothing"), "scrape_error: selector matched nothing"},
		{"already prefixed", errors.New("upstream_error: boom"), "upstream_error: boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyJobError(tt.err))
		})
	}
}
