// Package failurenotifier fans terminal job failures out to operator sinks such as Slack
// and PagerDuty.
package failurenotifier

import (
	"context"
	"log/slog"
	"sync"

	"github.com/target/listing-relay/internal/observability/metrics"
	"github.com/target/listing-relay/internal/observability/notify"
)

const metricNotification = "notifications.job_failure"

// SinkRegistration names a sink for logs and metric tags.
type SinkRegistration struct {
	Name string
	Sink notify.Sink
}

// Options configures the failure notifier.
type Options struct {
	Sinks   []SinkRegistration
	Logger  *slog.Logger      // Optional
	Metrics metrics.Collector // Optional: counts per-sink outcomes
}

// Service delivers one payload to every registered sink.
type Service struct {
	sinks   []SinkRegistration
	logger  *slog.Logger
	metrics metrics.Collector
}

// NewService drops registrations without a sink and names anonymous ones "sink".
func NewService(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	collector := opts.Metrics
	if collector == nil {
		collector = metrics.Nop{}
	}

	sinks := make([]SinkRegistration, 0, len(opts.Sinks))
	for _, reg := range opts.Sinks {
		if reg.Sink == nil {
			continue
		}
		reg.Name = notify.Fallback(reg.Name, "sink")
		sinks = append(sinks, reg)
	}
	return &Service{
		sinks:   sinks,
		logger:  logger.With("component", "failure_notifier"),
		metrics: collector,
	}
}

// Enabled reports whether any sink is registered.
func (s *Service) Enabled() bool {
	return s != nil && len(s.sinks) > 0
}

// SinkNames lists the registered sinks in registration order.
func (s *Service) SinkNames() []string {
	if s == nil {
		return nil
	}
	names := make([]string, len(s.sinks))
	for i, reg := range s.sinks {
		names[i] = reg.Name
	}
	return names
}

// NotifyJobFailure sends payload to all sinks concurrently and returns once each has finished.
// It reports how many sinks accepted the payload; failures are logged and counted only.
func (s *Service) NotifyJobFailure(ctx context.Context, payload notify.JobFailurePayload) int {
	if !s.Enabled() {
		return 0
	}
	payload.Severity = notify.Fallback(payload.Severity, notify.SeverityCritical)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		delivered int
	)
	for _, reg := range s.sinks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := reg.Sink.SendJobFailure(ctx, payload)
			s.record(ctx, reg.Name, payload, err)
			if err == nil {
				mu.Lock()
				delivered++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return delivered
}

func (s *Service) record(ctx context.Context, sink string, payload notify.JobFailurePayload, err error) {
	result := "delivered"
	if err != nil {
		result = "failed"
		s.logger.ErrorContext(ctx, "failure notification not delivered",
			"sink", sink,
			"job_id", payload.JobID,
			"source", payload.Source,
			"error", err,
		)
	}
	s.metrics.Incr(metricNotification, map[string]string{"sink": sink, "result": result})
}
