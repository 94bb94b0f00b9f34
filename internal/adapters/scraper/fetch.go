package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"

	"github.com/tidwall/gjson"
)

const maxBodyBytes = 8 << 20

var rePlaceholder = regexp.MustCompile(`\{([A-Za-z0-9_.\-]+)\}`)

// expandURL replaces {name} placeholders with query-escaped values read from params.
// A placeholder with no matching param is an error.
func expandURL(tmpl string, params json.RawMessage) (string, error) {
	var missing string
	out := rePlaceholder.ReplaceAllStringFunc(tmpl, func(m string) string {
		name := m[1 : len(m)-1]
		v := gjson.GetBytes(params, name)
		if !v.Exists() {
			if missing == "" {
				missing = name
			}
			return m
		}
		return url.QueryEscape(v.String())
	})
	if missing != "" {
		return "", fmt.Errorf("invalid params: %q is required by the source url", missing)
	}
	return out, nil
}

// fetch GETs rawURL and returns the body of a 2xx response.
func fetch(ctx context.Context, client *http.Client, rawURL string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", req.URL.Host, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return nil, fmt.Errorf("HTTP %d from %s", resp.StatusCode, req.URL.Host)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read response from %s: %w", req.URL.Host, err)
	}
	return body, nil
}
