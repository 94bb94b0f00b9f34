package metrics

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
)

type summary struct {
	count uint64
	sum   float64
}

// Registry keeps counters and summaries in memory and renders them as text exposition.
type Registry struct {
	mu        sync.Mutex
	counters  map[string]float64
	summaries map[string]*summary
}

var _ Collector = (*Registry)(nil)

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		counters:  make(map[string]float64),
		summaries: make(map[string]*summary),
	}
}

// Incr adds one to the counter identified by name and tags.
func (r *Registry) Incr(name string, tags map[string]string) {
	key := seriesKey(name, tags)
	r.mu.Lock()
	r.counters[key]++
	r.mu.Unlock()
}

// Observe records a value in the summary identified by name and tags.
func (r *Registry) Observe(name string, value float64, tags map[string]string) {
	key := seriesKey(name, tags)
	r.mu.Lock()
	s, ok := r.summaries[key]
	if !ok {
		s = &summary{}
		r.summaries[key] = s
	}
	s.count++
	s.sum += value
	r.mu.Unlock()
}

// Counter returns the current value of a counter.
func (r *Registry) Counter(name string, tags map[string]string) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counters[seriesKey(name, tags)]
}

// Summary returns the observation count and sum of a summary.
func (r *Registry) Summary(name string, tags map[string]string) (uint64, float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.summaries[seriesKey(name, tags)]; ok {
		return s.count, s.sum
	}
	return 0, 0
}

// WriteText renders every series, sorted, in the Prometheus text format.
// Counters get a _total suffix; summaries become _count and _sum.
func (r *Registry) WriteText(w io.Writer) error {
	r.mu.Lock()
	lines := make([]string, 0, len(r.counters)+2*len(r.summaries))
	for key, v := range r.counters {
		name, labels := splitSeriesKey(key)
		lines = append(lines, name+"_total"+labels+" "+formatValue(v))
	}
	for key, s := range r.summaries {
		name, labels := splitSeriesKey(key)
		lines = append(lines,
			name+"_count"+labels+" "+strconv.FormatUint(s.count, 10),
			name+"_sum"+labels+" "+formatValue(s.sum),
		)
	}
	r.mu.Unlock()

	sort.Strings(lines)
	bw := bufio.NewWriter(w)
	for _, line := range lines {
		if _, err := fmt.Fprintln(bw, line); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// seriesKey is the exposition name followed by its rendered label set.
func seriesKey(name string, tags map[string]string) string {
	base := exposedName(name)
	if len(tags) == 0 {
		return base
	}
	keys := make([]string, 0, len(tags))
	for k := range tags {
		if strings.TrimSpace(k) != "" {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return base
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = exposedName(k) + "=" + strconv.Quote(tags[k])
	}
	return base + "{" + strings.Join(parts, ",") + "}"
}

func splitSeriesKey(key string) (string, string) {
	if i := strings.IndexByte(key, '{'); i >= 0 {
		return key[:i], key[i:]
	}
	return key, ""
}

func exposedName(name string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
