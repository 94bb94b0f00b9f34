package scraper

import (
	"context"
	"encoding/json"

	"github.com/target/listing-relay/internal/domain/model"
)

// StaticSource returns fixed items. It is meant for development and tests.
type StaticSource struct {
	Items  []json.RawMessage
	Errors []string
}

// Scrape implements Source.
func (s *StaticSource) Scrape(ctx context.Context, _ json.RawMessage) (*model.ScrapeResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	items := make([]json.RawMessage, len(s.Items))
	for i, it := range s.Items {
		items[i] = append(json.RawMessage(nil), it...)
	}
	return &model.ScrapeResult{
		Items: items,
		Meta: model.ScrapeMeta{
			ScrapedCount: len(items),
			Errors:       append([]string{}, s.Errors...),
		},
	}, nil
}
