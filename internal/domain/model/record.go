package model

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// UpsertOutcome tags the result of a RecordStore upsert.
type UpsertOutcome string

const (
	// UpsertCreated means the key did not exist and a new row was inserted.
	UpsertCreated UpsertOutcome = "created"
	// UpsertUpdated means the key already existed and its payload was replaced.
	UpsertUpdated UpsertOutcome = "updated"
)

// ErrEmptyAddress is returned when an address normalizes to nothing.
var ErrEmptyAddress = errors.New("address is required")

// RecordKey is the composite dedup key of a scraped property record.
type RecordKey struct {
	Source            string `json:"source"`
	Region            string `json:"region"`
	NormalizedAddress string `json:"normalizedAddress"`
}

// Validate ensures every key component is present.
func (k RecordKey) Validate() error {
	if strings.TrimSpace(k.Source) == "" {
		return errors.New("record source is required")
	}
	if strings.TrimSpace(k.Region) == "" {
		return errors.New("record region is required")
	}
	if strings.TrimSpace(k.NormalizedAddress) == "" {
		return ErrEmptyAddress
	}
	return nil
}

// String renders the key for logs.
func (k RecordKey) String() string {
	return k.Source + "/" + k.Region + "/" + k.NormalizedAddress
}

// ScrapedRecord is the persisted, deduplicated form of a listing.
type ScrapedRecord struct {
	ID                string          `json:"id"                db:"id"`
	Source            string          `json:"source"            db:"source"`
	Region            string          `json:"region"            db:"region"`
	NormalizedAddress string          `json:"normalizedAddress" db:"normalized_address"`
	Payload           json.RawMessage `json:"payload"           db:"payload"`
	SeenCount         int             `json:"seenCount"         db:"seen_count"`
	LastJobID         *string         `json:"lastJobId,omitempty" db:"last_job_id"`
	FirstSeenAt       time.Time       `json:"firstSeenAt"       db:"first_seen_at"`
	LastSeenAt        time.Time       `json:"lastSeenAt"        db:"last_seen_at"`
}

// Key returns the record's composite key.
func (r *ScrapedRecord) Key() RecordKey {
	return RecordKey{Source: r.Source, Region: r.Region, NormalizedAddress: r.NormalizedAddress}
}

// UpsertRecordParams groups the inputs of a record upsert.
type UpsertRecordParams struct {
	ID      string
	Key     RecordKey
	Payload json.RawMessage
	JobID   string
	Now     time.Time
}

// UpsertResult is the tagged result of RecordStore.Upsert.
type UpsertResult struct {
	Outcome UpsertOutcome
	Record  *ScrapedRecord
}

// Deduped reports whether the write collided with an existing record.
func (r UpsertResult) Deduped() bool {
	return r.Outcome == UpsertUpdated
}

var addressTokenAliases = map[string]string{
	"street":    "st",
	"str":       "st",
	"avenue":    "ave",
	"av":        "ave",
	"road":      "rd",
	"drive":     "dr",
	"boulevard": "blvd",
	"lane":      "ln",
	"court":     "ct",
	"place":     "pl",
	"terrace":   "ter",
	"parkway":   "pkwy",
	"highway":   "hwy",
	"circle":    "cir",
	"square":    "sq",
	"apartment": "apt",
	"suite":     "ste",
	"north":     "n",
	"south":     "s",
	"east":      "e",
	"west":      "w",
	"northeast": "ne",
	"northwest": "nw",
	"southeast": "se",
	"southwest": "sw",
}

// NormalizeAddress folds an address into the canonical form used in dedup keys.
// "123 Main Street, Apt. 4" and "123 main st apt 4" normalize identically.
func NormalizeAddress(raw string) string {
	folded, _, err := transform.String(
		transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC),
		raw,
	)
	if err != nil {
		folded = raw
	}
	folded = strings.ToLower(folded)

	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '#':
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}

	tokens := strings.Fields(b.String())
	for i, tok := range tokens {
		if alias, ok := addressTokenAliases[tok]; ok {
			tokens[i] = alias
		}
	}
	return strings.Join(tokens, " ")
}
