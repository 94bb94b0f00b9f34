// Package scraper provides the source registry behind core.ScraperAdapter and
// generic config-driven sources (static fixtures, JSON APIs and HTML pages).
package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/target/listing-relay/internal/core"
	"github.com/target/listing-relay/internal/domain/model"
	apperrors "github.com/target/listing-relay/internal/errors"
)

// Source scrapes one listing source.
type Source interface {
	Scrape(ctx context.Context, params json.RawMessage) (*model.ScrapeResult, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context, params json.RawMessage) (*model.ScrapeResult, error)

// Scrape implements Source.
func (f SourceFunc) Scrape(ctx context.Context, params json.RawMessage) (*model.ScrapeResult, error) {
	return f(ctx, params)
}

type entry struct {
	source  Source
	limiter *rate.Limiter
	version string
}

// Registry routes Run calls to registered sources and rate limits each source.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]entry
	logger  *slog.Logger
}

var _ core.ScraperAdapter = (*Registry)(nil)

// NewRegistry creates an empty Registry. A nil logger defaults to slog.Default().
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		sources: make(map[string]entry),
		logger:  logger.With("component", "scraper_registry"),
	}
}

// RegisterOptions configures a registered source.
type RegisterOptions struct {
	// RateLimit is requests per second; 0 means unlimited.
	RateLimit float64
	Burst     int
	Version   string
}

// Register adds or replaces the source under name.
func (r *Registry) Register(name string, src Source, opts RegisterOptions) {
	e := entry{source: src, version: strings.TrimSpace(opts.Version)}
	if opts.RateLimit > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), max(opts.Burst, 1))
	}
	r.mu.Lock()
	r.sources[strings.ToLower(strings.TrimSpace(name))] = e
	r.mu.Unlock()
}

// Sources returns the registered source names, sorted.
func (r *Registry) Sources() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.sources))
	for name := range r.sources {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Run implements core.ScraperAdapter.
func (r *Registry) Run(ctx context.Context, source string, params json.RawMessage) (*model.ScrapeResult, error) {
	r.mu.RLock()
	e, ok := r.sources[source]
	r.mu.RUnlock()
	if !ok {
		return nil, apperrors.Validation(fmt.Sprintf("unsupported source %q", source))
	}

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait for %s: %w", source, err)
		}
	}

	start := time.Now()
	res, err := e.source.Scrape(ctx, params)
	if err != nil {
		r.logger.DebugContext(ctx, "scrape failed", "source", source, "error", err)
		return nil, err
	}
	if res == nil {
		res = &model.ScrapeResult{}
	}
	if res.Meta.Source == "" {
		res.Meta.Source = source
	}
	if res.Meta.Duration == 0 {
		res.Meta.Duration = time.Since(start)
	}
	if res.Meta.ScrapedCount == 0 {
		res.Meta.ScrapedCount = len(res.Items)
	}
	if res.Meta.SourceAdapterVersion == "" {
		res.Meta.SourceAdapterVersion = e.version
	}
	return res, nil
}

// NewFromConfig builds a Registry holding every source in cfg.
func NewFromConfig(cfg *FileConfig, client *http.Client, logger *slog.Logger) (*Registry, error) {
	reg := NewRegistry(logger)
	if cfg == nil {
		return reg, nil
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	for i := range cfg.Sources {
		sc := &cfg.Sources[i]
		src, err := buildSource(sc, client)
		if err != nil {
			return nil, fmt.Errorf("build source %q: %w", sc.Name, err)
		}
		reg.Register(sc.Name, src, RegisterOptions{RateLimit: sc.RateLimit, Burst: sc.Burst, Version: sc.Version})
	}
	reg.logger.Info("scraper sources registered", "sources", reg.Sources())
	return reg, nil
}

//nolint:ireturn // sources are chosen by kind at runtime
func buildSource(sc *SourceConfig, client *http.Client) (Source, error) {
	switch sc.Kind {
	case KindStatic:
		items, err := sc.staticItems()
		if err != nil {
			return nil, err
		}
		return &StaticSource{Items: items, Errors: sc.Errors}, nil
	case KindHTTPJSON:
		return &HTTPJSONSource{
			Client:    client,
			URL:       sc.URL,
			Headers:   sc.Headers,
			ItemsPath: sc.ItemsPath,
			TotalPath: sc.TotalPath,
		}, nil
	case KindHTML:
		return &HTMLSource{
			Client:       client,
			URL:          sc.URL,
			Headers:      sc.Headers,
			ItemSelector: sc.ItemSelector,
			Fields:       sc.Fields,
		}, nil
	default:
		return nil, fmt.Errorf("unknown kind %q", sc.Kind)
	}
}
