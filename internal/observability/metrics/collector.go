// Package metrics defines the metric collector used by services and its in-memory,
// StatsD and fan-out implementations.
package metrics

// Collector receives counter increments and observations.
// Implementations must be safe for concurrent use.
type Collector interface {
	Incr(name string, tags map[string]string)
	Observe(name string, value float64, tags map[string]string)
}

// Nop discards every metric.
type Nop struct{}

// Incr implements Collector.
func (Nop) Incr(string, map[string]string) {}

// Observe implements Collector.
func (Nop) Observe(string, float64, map[string]string) {}

type multi []Collector

// Multi fans every metric out to each non-nil collector.
func Multi(collectors ...Collector) Collector {
	var out multi
	for _, c := range collectors {
		if c != nil {
			out = append(out, c)
		}
	}
	switch len(out) {
	case 0:
		return Nop{}
	case 1:
		return out[0]
	default:
		return out
	}
}

func (m multi) Incr(name string, tags map[string]string) {
	for _, c := range m {
		c.Incr(name, tags)
	}
}

func (m multi) Observe(name string, value float64, tags map[string]string) {
	for _, c := range m {
		c.Observe(name, value, tags)
	}
}
