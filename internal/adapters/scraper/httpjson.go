package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/target/listing-relay/internal/domain/model"
)

// HTTPJSONSource GETs a JSON document and reads listing items from it.
type HTTPJSONSource struct {
	Client  *http.Client
	URL     string
	Headers map[string]string

	// ItemsPath is the gjson path of the item array. Empty means the document root.
	ItemsPath string
	// TotalPath optionally points at the upstream total item count.
	TotalPath string
}

// Scrape implements Source.
func (s *HTTPJSONSource) Scrape(ctx context.Context, params json.RawMessage) (*model.ScrapeResult, error) {
	target, err := expandURL(s.URL, params)
	if err != nil {
		return nil, err
	}
	body, err := fetch(ctx, s.Client, target, s.Headers)
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(body) {
		return nil, errors.New("response is not valid JSON")
	}

	arr := gjson.ParseBytes(body)
	if s.ItemsPath != "" {
		arr = gjson.GetBytes(body, s.ItemsPath)
	}
	if !arr.IsArray() {
		return nil, errors.New("items path does not resolve to an array")
	}

	res := &model.ScrapeResult{}
	var skipped []string
	arr.ForEach(func(_, v gjson.Result) bool {
		if !v.IsObject() {
			skipped = append(skipped, "skipped non-object item")
			return true
		}
		res.Items = append(res.Items, json.RawMessage(v.Raw))
		return true
	})
	res.Meta.Errors = skipped
	res.Meta.ScrapedCount = len(res.Items)
	if s.TotalPath != "" {
		if t := gjson.GetBytes(body, s.TotalPath); t.Exists() {
			total := int(t.Int())
			res.Meta.TotalItems = &total
		}
	}
	return res, nil
}
