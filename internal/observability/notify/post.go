package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// maxErrorBody bounds how much of a failed response ends up in the error message.
const maxErrorBody = 4 << 10

// StatusError reports a non-2xx response from a notification endpoint.
type StatusError struct {
	Sink   string
	Status string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Sink, e.Status, e.Body)
}

// PostJSON sends body to url and drains the response. Non-2xx responses become *StatusError.
func PostJSON(ctx context.Context, client *http.Client, sink, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", sink, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", sink, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		closeErr := resp.Body.Close()
		if readErr != nil {
			return errors.Join(fmt.Errorf("read %s error response: %w", sink, readErr), closeErr)
		}
		return &StatusError{
			Sink:   sink,
			Status: resp.Status,
			Code:   resp.StatusCode,
			Body:   strings.TrimSpace(string(respBody)),
		}
	}

	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return errors.Join(fmt.Errorf("drain %s response body: %w", sink, err), resp.Body.Close())
	}
	if err := resp.Body.Close(); err != nil {
		return fmt.Errorf("close response body: %w", err)
	}
	return nil
}

// RetryStep is the base delay between notification attempts; attempt n waits n*RetryStep.
var RetryStep = 200 * time.Millisecond

// linearBackOff grows the delay by step on every attempt.
type linearBackOff struct {
	step time.Duration
	n    int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.n++
	return time.Duration(b.n) * b.step
}

func (b *linearBackOff) Reset() { b.n = 0 }

// Retry runs send up to retryLimit+1 times. 4xx responses other than 429 are not retried.
func Retry(ctx context.Context, retryLimit int, send func() error) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := send()
		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.Code < 500 && statusErr.Code != http.StatusTooManyRequests {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(&linearBackOff{step: RetryStep}),
		backoff.WithMaxTries(uint(max(retryLimit, 0)+1)), //nolint:gosec // clamped non-negative
	)
	return err
}
