package scraper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/target/listing-relay/internal/domain/model"
)

// HTMLSource GETs a listing page and extracts one item per ItemSelector match.
type HTMLSource struct {
	Client       *http.Client
	URL          string
	Headers      map[string]string
	ItemSelector string
	// Fields maps an output field to a CSS selector relative to the item.
	// "sel@attr" reads an attribute; an empty selector before "@" reads the item itself.
	Fields map[string]string
}

// Scrape implements Source.
func (s *HTMLSource) Scrape(ctx context.Context, params json.RawMessage) (*model.ScrapeResult, error) {
	target, err := expandURL(s.URL, params)
	if err != nil {
		return nil, err
	}
	body, err := fetch(ctx, s.Client, target, s.Headers)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	names := make([]string, 0, len(s.Fields))
	for name := range s.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	res := &model.ScrapeResult{}
	doc.Find(s.ItemSelector).Each(func(i int, sel *goquery.Selection) {
		item := make(map[string]string, len(names))
		for _, name := range names {
			if v := extract(sel, s.Fields[name]); v != "" {
				item[name] = v
			}
		}
		if len(item) == 0 {
			res.Meta.Errors = append(res.Meta.Errors, fmt.Sprintf("item %d: no fields matched", i))
			return
		}
		b, err := json.Marshal(item)
		if err != nil {
			res.Meta.Errors = append(res.Meta.Errors, fmt.Sprintf("item %d: %v", i, err))
			return
		}
		res.Items = append(res.Items, b)
	})
	res.Meta.ScrapedCount = len(res.Items)
	return res, nil
}

func extract(item *goquery.Selection, spec string) string {
	selector, attr, hasAttr := strings.Cut(spec, "@")
	target := item
	if strings.TrimSpace(selector) != "" {
		target = item.Find(selector).First()
	}
	if hasAttr {
		v, _ := target.Attr(attr)
		return strings.TrimSpace(v)
	}
	return strings.Join(strings.Fields(target.Text()), " ")
}
