package service

import (
	"context"
	"errors"
	"net"
	"regexp"
	"strings"

	apperrors "github.com/target/listing-relay/internal/errors"
)

// Error class prefixes recorded on failed jobs and deliveries.
const (
	ClassValidation = "validation_error"
	ClassUpstream   = "upstream_error"
	ClassScrape     = "scrape_error"
	ClassDelivery   = "delivery_error"
)

var (
	validationPattern = regexp.MustCompile(`(?i)invalid|validation|required|unsupported source`)
	upstreamPattern   = regexp.MustCompile(
		`(?i)timeout|timed out|econnreset|econnrefused|enotfound|eai_again|no such host|` +
			`connection refused|connection reset|network|dns|socket hang up|\b50[234]\b`,
	)
)

// ClassifyJobError renders err as a "<class>: <message>" string.
// Messages that already carry a known class prefix are returned unchanged.
func ClassifyJobError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	for _, class := range []string{ClassValidation, ClassUpstream, ClassScrape, ClassDelivery} {
		if strings.HasPrefix(msg, class+":") {
			return msg
		}
	}
	return jobErrorClass(err, msg) + ": " + msg
}

func jobErrorClass(err error, msg string) string {
	if apperrors.IsValidation(err) {
		return ClassValidation
	}
	if errors.Is(err, context.DeadlineExceeded) || apperrors.IsTimeout(err) {
		return ClassUpstream
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ClassUpstream
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassUpstream
	}

	switch {
	case validationPattern.MatchString(msg):
		return ClassValidation
	case upstreamPattern.MatchString(msg):
		return ClassUpstream
	default:
		return ClassScrape
	}
}
