// Package webhooktest provides an in-process webhook endpoint that records deliveries.
package webhooktest

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
)

// Request is one recorded delivery.
type Request struct {
	Method string
	Path   string
	Header http.Header
	Body   []byte
}

// Receiver is an httptest server that records every request and answers with a settable status.
type Receiver struct {
	srv    *httptest.Server
	status atomic.Int32

	mu       sync.Mutex
	requests []Request
}

// NewReceiver starts a Receiver answering 200.
func NewReceiver() *Receiver {
	r := &Receiver{}
	r.status.Store(http.StatusOK)
	r.srv = httptest.NewServer(http.HandlerFunc(r.handle))
	return r
}

func (r *Receiver) handle(w http.ResponseWriter, req *http.Request) {
	body, _ := io.ReadAll(req.Body)
	r.mu.Lock()
	r.requests = append(r.requests, Request{
		Method: req.Method,
		Path:   req.URL.Path,
		Header: req.Header.Clone(),
		Body:   body,
	})
	r.mu.Unlock()
	w.WriteHeader(int(r.status.Load()))
}

// URL returns the receiver's base URL.
func (r *Receiver) URL() string { return r.srv.URL }

// SetStatus changes the status code returned to subsequent requests.
func (r *Receiver) SetStatus(code int) { r.status.Store(int32(code)) }

// Requests returns a copy of every request received so far.
func (r *Receiver) Requests() []Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Request(nil), r.requests...)
}

// Count returns the number of requests received.
func (r *Receiver) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.requests)
}

// Close shuts the server down.
func (r *Receiver) Close() { r.srv.Close() }
