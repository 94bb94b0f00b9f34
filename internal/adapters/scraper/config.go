package scraper

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Source kinds understood by NewFromConfig.
const (
	KindStatic   = "static"
	KindHTTPJSON = "http-json"
	KindHTML     = "html"
)

// FileConfig is the YAML document listing scraper sources.
type FileConfig struct {
	Sources []SourceConfig `yaml:"sources"`
}

// SourceConfig describes one source. Which fields apply depends on Kind.
type SourceConfig struct {
	Name    string `yaml:"name"`
	Kind    string `yaml:"kind"`
	Version string `yaml:"version"`

	// RateLimit is requests per second for this source; 0 means unlimited.
	RateLimit float64 `yaml:"rate_limit"`
	Burst     int     `yaml:"burst"`

	// static
	Items  []map[string]any `yaml:"items"`
	Errors []string         `yaml:"errors"`

	// http-json and html. URL may contain {name} placeholders filled from job params.
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`

	// http-json: gjson paths of the item array and the optional total count.
	ItemsPath string `yaml:"items_path"`
	TotalPath string `yaml:"total_path"`

	// html: CSS selector of each item, and field name to selector. "sel@attr" reads an attribute.
	ItemSelector string            `yaml:"item_selector"`
	Fields       map[string]string `yaml:"fields"`
}

// LoadFile reads and validates a scraper config file.
func LoadFile(path string) (*FileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scraper config: %w", err)
	}
	return Parse(b)
}

// Parse decodes and validates a scraper config document.
func Parse(b []byte) (*FileConfig, error) {
	var cfg FileConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("decode scraper config: %w", err)
	}
	seen := make(map[string]bool, len(cfg.Sources))
	for i := range cfg.Sources {
		sc := &cfg.Sources[i]
		sc.Name = strings.ToLower(strings.TrimSpace(sc.Name))
		sc.Kind = strings.ToLower(strings.TrimSpace(sc.Kind))
		if err := sc.validate(); err != nil {
			return nil, fmt.Errorf("source %d (%q): %w", i, sc.Name, err)
		}
		if seen[sc.Name] {
			return nil, fmt.Errorf("duplicate source %q", sc.Name)
		}
		seen[sc.Name] = true
	}
	return &cfg, nil
}

func (sc *SourceConfig) validate() error {
	if sc.Name == "" {
		return errors.New("name is required")
	}
	if sc.RateLimit < 0 {
		return errors.New("rate_limit must not be negative")
	}
	switch sc.Kind {
	case KindStatic:
		return nil
	case KindHTTPJSON:
		if sc.URL == "" {
			return errors.New("url is required")
		}
		return nil
	case KindHTML:
		if sc.URL == "" {
			return errors.New("url is required")
		}
		if sc.ItemSelector == "" {
			return errors.New("item_selector is required")
		}
		if len(sc.Fields) == 0 {
			return errors.New("at least one field selector is required")
		}
		return nil
	default:
		return fmt.Errorf("unknown kind %q (valid options: static, http-json, html)", sc.Kind)
	}
}

// staticItems converts YAML items to JSON documents.
func (sc *SourceConfig) staticItems() ([]json.RawMessage, error) {
	items := make([]json.RawMessage, 0, len(sc.Items))
	for i, it := range sc.Items {
		b, err := json.Marshal(it)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		items = append(items, b)
	}
	return items, nil
}
