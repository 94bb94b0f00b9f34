package httpx

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 500
)

// listQuery reads the filter and paging parameters shared by the list endpoints.
// Malformed paging values fall back to defaults; malformed filters are errors.
type listQuery struct {
	values url.Values
}

func newListQuery(r *http.Request) listQuery {
	return listQuery{values: r.URL.Query()}
}

// page returns limit and offset clamped to [1, maxPageLimit] and [0, ∞).
func (q listQuery) page() (int, int) {
	limit := min(max(q.integer("limit", defaultPageLimit), 1), maxPageLimit)
	offset := max(q.integer("offset", 0), 0)
	return limit, offset
}

func (q listQuery) integer(key string, def int) int {
	if i, err := strconv.Atoi(q.text(key)); err == nil {
		return i
	}
	return def
}

func (q listQuery) flag(key string, def bool) bool {
	if b, err := strconv.ParseBool(q.text(key)); err == nil {
		return b
	}
	return def
}

func (q listQuery) text(key string) string {
	return strings.TrimSpace(q.values.Get(key))
}

// list splits a comma-separated parameter, dropping empty entries.
func (q listQuery) list(key string) []string {
	var out []string
	for _, part := range strings.Split(q.text(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// timestamp parses an optional RFC 3339 parameter.
func (q listQuery) timestamp(key string) (*time.Time, error) {
	raw := q.text(key)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("%s must be an RFC 3339 timestamp: %w", key, err)
	}
	return &t, nil
}
