package httpx

import (
	"io"
	"net/http"
)

// MetricsWriter renders metrics in the Prometheus text format.
type MetricsWriter interface {
	WriteText(w io.Writer) error
}

func metricsHandler(m MetricsWriter) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		if err := m.WriteText(w); err != nil {
			// Headers are already sent; nothing useful can be written.
			return
		}
	}
}
