package metrics

import (
	"time"

	obserrors "github.com/target/listing-relay/internal/observability/errors"
)

// Metric names emitted by the job and delivery pipelines.
const (
	JobsProcessed       = "jobs.processed"
	JobsSuccess         = "jobs.success"
	JobsFailed          = "jobs.failed"
	JobsDurationMs      = "jobs.duration_ms"
	DeliveriesDelivered = "deliveries.delivered"
	DeliveriesFailed    = "deliveries.failed"
)

// JobExecution captures the outcome of one job execution for metric emission.
type JobExecution struct {
	Source   string
	Success  bool
	Duration time.Duration
	Err      error
}

// RecordJobExecution emits the standard job execution metrics.
func RecordJobExecution(c Collector, in JobExecution) {
	if c == nil {
		return
	}
	tags := map[string]string{"source": in.Source}

	c.Incr(JobsProcessed, tags)
	if in.Success {
		c.Incr(JobsSuccess, tags)
	} else {
		failTags := CloneTags(tags)
		if class := obserrors.Classify(in.Err); class != "" {
			failTags["error_class"] = class
		}
		c.Incr(JobsFailed, failTags)
	}
	c.Observe(JobsDurationMs, float64(in.Duration.Milliseconds()), tags)
}

// RecordDelivery emits the delivered/failed counter for one webhook attempt.
func RecordDelivery(c Collector, eventType string, delivered bool) {
	if c == nil {
		return
	}
	name := DeliveriesFailed
	if delivered {
		name = DeliveriesDelivered
	}
	c.Incr(name, map[string]string{"event": eventType})
}

// CloneTags creates a shallow copy of a tag map, filtering out empty keys.
func CloneTags(src map[string]string) map[string]string {
	out := make(map[string]string, len(src))
	for k, v := range src {
		if k != "" {
			out[k] = v
		}
	}
	return out
}
