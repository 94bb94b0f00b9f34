// Package errors derives low-cardinality error classes for metric tags and logs.
package errors

import (
	goerrors "errors"
	"reflect"
	"strings"

	apperrors "github.com/target/listing-relay/internal/errors"
)

// Prefixed error classes produced by the job and delivery pipelines.
var knownClasses = []string{
	"validation_error",
	"upstream_error",
	"scrape_error",
	"delivery_error",
}

// Classify returns a normalized error class suitable for tagging metrics and logs.
// A known "<class>:" message prefix wins, then an AppError code, then the innermost
// concrete error type converted to snake_case.
func Classify(err error) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	for _, class := range knownClasses {
		if strings.HasPrefix(msg, class+":") {
			return class
		}
	}

	var appErr *apperrors.AppError
	if goerrors.As(err, &appErr) {
		return "app_" + string(appErr.Code)
	}

	for {
		unwrapped := goerrors.Unwrap(err)
		if unwrapped == nil {
			break
		}
		err = unwrapped
	}

	t := reflect.TypeOf(err)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return "unknown"
	}

	name := strings.ToLower(strings.ReplaceAll(t.String(), "*", ""))
	name = strings.ReplaceAll(name, ".", "_")
	if name == "" {
		return "unknown"
	}
	return name
}
