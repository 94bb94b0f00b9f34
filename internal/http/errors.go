package httpx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/target/listing-relay/internal/domain/model"
	apperrors "github.com/target/listing-relay/internal/errors"
	"github.com/target/listing-relay/internal/service"
)

// errorStatus maps a service error to an HTTP status and a stable error code.
func errorStatus(err error) (int, string) {
	switch {
	case apperrors.IsValidation(err):
		return http.StatusBadRequest, "validation_error"
	case apperrors.IsNotFound(err),
		errors.Is(err, model.ErrJobNotFound),
		errors.Is(err, model.ErrDeliveryNotFound),
		errors.Is(err, model.ErrSubscriptionNotFound),
		errors.Is(err, model.ErrActivityNotFound):
		return http.StatusNotFound, "not_found"
	case apperrors.IsConflict(err),
		errors.Is(err, service.ErrCallSummaryInProgress),
		errors.Is(err, model.ErrJobStateConflict):
		return http.StatusConflict, "conflict"
	case apperrors.IsTimeout(err), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// writeServiceError renders err with the status errorStatus picks. Internal errors are logged
// and their details are not sent to the client.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	code, errCode := errorStatus(err)
	if code >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "request failed",
			"method", r.Method, "path", r.URL.Path, "error", err)
		err = errors.New(http.StatusText(code))
	}
	writeError(w, r, code, errCode, err)
}
