package model

import (
	"encoding/json"
	"time"
)

// UnknownAdapterVersion is reported when an adapter does not declare its version.
const UnknownAdapterVersion = "unknown"

// ScrapeMeta is the per-run metadata returned by a scraper adapter.
type ScrapeMeta struct {
	Source       string        `json:"source"`
	ScrapedCount int           `json:"scrapedCount"`
	Duration     time.Duration `json:"-"`
	Errors       []string      `json:"errors"`
	// Optional fields; nil means the adapter did not declare them.
	TotalItems           *int     `json:"totalItems,omitempty"`
	FiltersApplied       []string `json:"filtersApplied,omitempty"`
	SourceAdapterVersion string   `json:"sourceAdapterVersion,omitempty"`
}

// ScrapeResult is what a ScraperAdapter returns for one run.
type ScrapeResult struct {
	Items []json.RawMessage
	Meta  ScrapeMeta
}

// RunMeta is the annotated metadata persisted as a completed job's result payload.
type RunMeta struct {
	Source               string   `json:"source"`
	Region               string   `json:"region"`
	ScrapedCount         int      `json:"scrapedCount"`
	DurationMs           int64    `json:"durationMs"`
	TotalItems           int      `json:"totalItems"`
	DedupedCount         int      `json:"dedupedCount"`
	CreatedCount         int      `json:"createdCount"`
	FailedRecords        int      `json:"failedRecords"`
	ErrorsCount          int      `json:"errorsCount"`
	Errors               []string `json:"errors"`
	FiltersApplied       []string `json:"filtersApplied"`
	SourceAdapterVersion string   `json:"sourceAdapterVersion"`
}

// NewRunMeta copies adapter metadata and fills the fields downstream consumers rely on.
func NewRunMeta(region string, items int, in ScrapeMeta) RunMeta {
	meta := RunMeta{
		Source:               in.Source,
		Region:               region,
		ScrapedCount:         in.ScrapedCount,
		DurationMs:           in.Duration.Milliseconds(),
		TotalItems:           items,
		ErrorsCount:          len(in.Errors),
		Errors:               append([]string{}, in.Errors...),
		FiltersApplied:       append([]string{}, in.FiltersApplied...),
		SourceAdapterVersion: in.SourceAdapterVersion,
	}
	if in.TotalItems != nil {
		meta.TotalItems = *in.TotalItems
	}
	if meta.SourceAdapterVersion == "" {
		meta.SourceAdapterVersion = UnknownAdapterVersion
	}
	return meta
}
