package httpx

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	apperrors "github.com/target/listing-relay/internal/errors"
)

func TestListQuery_Page(t *testing.T) {
	tests := []struct {
		query          string
		limit, offset int
	}{
		{"", defaultPageLimit, 0},
		{"?limit=20&offset=40", 20, 40},
		{"?limit=0&offset=-5", 1, 0},
		{"?limit=100000", maxPageLimit, 0},
		{"?limit=abc&offset=xyz", defaultPageLimit, 0},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			limit, offset := newListQuery(httptest.NewRequest(http.MethodGet, "/api/jobs"+tt.query, nil)).page()
			assert.Equal(t, tt.limit, limit)
			assert.Equal(t, tt.offset, offset)
		})
	}
}

func TestListQuery_Filters(t *testing.T) {
	q := newListQuery(httptest.NewRequest(http.MethodGet,
		"/api/deliveries?status=failed,%20pending,,&unresolved=false&since=2026-01-02T03:04:05Z", nil))

	assert.Equal(t, []string{"failed", "pending"}, q.list("status"))
	assert.False(t, q.flag("unresolved", true))
	assert.True(t, q.flag("missing", true))

	since, err := q.timestamp("since")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), *since)

	none, err := q.timestamp("until")
	require.NoError(t, err)
	assert.Nil(t, none)

	bad := newListQuery(httptest.NewRequest(http.MethodGet, "/api/deliveries?since=yesterday", nil))
	_, err = bad.timestamp("since")
	require.Error(t, err)
}

func TestWriteError_EchoesRequestID(t *testing.T) {
	h := RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusBadRequest, "invalid_query", errors.New("bad status"))
	}))
	r := httptest.NewRequest(http.MethodGet, "/api/deliveries", nil)
	r.Header.Set(HeaderRequestID, "req-123")
	w := httptest.NewRecorder()

	h.ServeHTTP(w, r)

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "req-123", w.Header().Get(HeaderRequestID))
	assert.Equal(t, "invalid_query", gjson.Get(w.Body.String(), "error").String())
	assert.Equal(t, "bad status", gjson.Get(w.Body.String(), "message").String())
	assert.Equal(t, "req-123", gjson.Get(w.Body.String(), "requestId").String())
}

func TestWriteServiceError_IncludesField(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/api/jobs", nil)
	w := httptest.NewRecorder()

	writeServiceError(w, r, discardLogger(), apperrors.ValidationField("region", "region is required"))

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation_error", gjson.Get(w.Body.String(), "error").String())
	assert.Equal(t, "region", gjson.Get(w.Body.String(), "field").String())
}
