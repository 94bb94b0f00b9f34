package httpx

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	apperrors "github.com/target/listing-relay/internal/errors"
)

// errorBody is the envelope for every non-2xx JSON response.
type errorBody struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Field     string `json:"field,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// DecodeJSON decodes a required JSON body into dst, rejecting unknown fields.
// On failure the 400 or 413 response has already been written and it returns false.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	return decodeBody(w, r, dst, false)
}

// DecodeOptionalJSON is DecodeJSON for endpoints whose body may be omitted.
func DecodeOptionalJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil || r.Body == http.NoBody || r.ContentLength == 0 {
		return true
	}
	return decodeBody(w, r, dst, true)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any, optional bool) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	err := dec.Decode(dst)
	if err == nil || (optional && errors.Is(err, io.EOF)) {
		return true
	}

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, r, http.StatusRequestEntityTooLarge, "body_too_large", err)
	} else {
		writeError(w, r, http.StatusBadRequest, "invalid_json", err)
	}
	return false
}

// WriteJSON encodes v before touching the response so encoding failures still produce a clean 500.
func WriteJSON(w http.ResponseWriter, code int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = buf.WriteTo(w)
}

// writeError renders the error envelope, echoing the request's correlation id.
func writeError(w http.ResponseWriter, r *http.Request, code int, errCode string, err error) {
	WriteJSON(w, code, errorBody{
		Error:     errCode,
		Message:   err.Error(),
		Field:     apperrors.GetField(err),
		RequestID: RequestIDFromContext(r.Context()),
	})
}
