package ingest

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/stockrelay/stockrelay/server/internal/store"
)

// Default category keys of a session batch.
const (
	DefaultCategoryA = "seeds"
	DefaultCategoryB = "gear"
)

// SessionSuffixLen is how many trailing characters of a session ID are
// embedded in the IDs of the entries it produces.
const SessionSuffixLen = 8

const manualPrefix = "manual"

// ErrValidation is returned when a generic record is missing a required
// field or carries a field of the wrong type.
var ErrValidation = errors.New("invalid record")

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// Summary is the response body for an accepted session batch.
type Summary struct {
	Success   bool           `json:"success"`
	SessionID string         `json:"sessionId"`
	Counts    map[string]int `json:"counts"`
	Skipped   int            `json:"skipped"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Total returns the number of entries the batch produced.
func (s Summary) Total() int {
	n := 0
	for _, c := range s.Counts {
		n += c
	}
	return n
}

// Batch is a parsed session batch ready to be written to the store.
type Batch struct {
	Entries []store.Entry
	Summary Summary
}

type item struct {
	Name  string  `mapstructure:"name"`
	Value float64 `mapstructure:"value"`
}

type record struct {
	Name  string  `mapstructure:"name"`
	Value float64 `mapstructure:"value"`
	Count float64 `mapstructure:"count"`
}

// Parser recognises and parses request bodies for a fixed pair of categories.
type Parser struct {
	categories [2]string
	now        func() time.Time
}

// NewParser creates a Parser for the two given category keys. Empty names
// fall back to DefaultCategoryA and DefaultCategoryB.
func NewParser(categoryA, categoryB string) *Parser {
	if categoryA == "" {
		categoryA = DefaultCategoryA
	}
	if categoryB == "" {
		categoryB = DefaultCategoryB
	}
	return &Parser{categories: [2]string{categoryA, categoryB}, now: time.Now}
}

// IsBatch reports whether body is a session batch. It is checked before
// generic record validation.
func (p *Parser) IsBatch(body map[string]any) bool {
	sid, _ := body["sessionId"].(string)
	if sid == "" {
		return false
	}
	for _, c := range p.categories {
		if _, ok := body[c].([]any); ok {
			return true
		}
	}
	return false
}

// ParseBatch expands a session batch into entries. Malformed elements are
// skipped, never rejected. Callers must check IsBatch first.
func (p *Parser) ParseBatch(body map[string]any) Batch {
	sid, _ := body["sessionId"].(string)
	suffix := SessionSuffix(sid)

	b := Batch{Summary: Summary{
		Success:   true,
		SessionID: sid,
		Counts:    make(map[string]int, len(p.categories)),
	}}
	for _, c := range p.categories {
		b.Summary.Counts[c] = 0
		raw, ok := body[c].([]any)
		if !ok {
			continue
		}
		for _, el := range raw {
			it, ok := decodeItem(el)
			if !ok {
				b.Summary.Skipped++
				continue
			}
			b.Entries = append(b.Entries, store.Entry{
				ID:    EntryID(c, it.Name, suffix),
				Name:  fmt.Sprintf("%s (%s)", it.Name, c),
				Value: it.Value,
				Count: 1,
			})
			b.Summary.Counts[c]++
		}
	}

	for k, v := range body {
		if k == "sessionId" || k == p.categories[0] || k == p.categories[1] {
			continue
		}
		if b.Summary.Metadata == nil {
			b.Summary.Metadata = make(map[string]any)
		}
		b.Summary.Metadata[k] = v
	}
	return b
}

// ParseRecord validates a generic record and returns the entry it describes.
// The returned error wraps ErrValidation.
func (p *Parser) ParseRecord(body map[string]any) (store.Entry, error) {
	in := map[string]any{
		"name":  body["name"],
		"value": firstPresent(body, "value", "price"),
		"count": firstPresent(body, "count", "quantity"),
	}
	var missing []string
	for _, k := range []string{"name", "value", "count"} {
		if in[k] == nil {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return store.Entry{}, fmt.Errorf("%w: missing %s", ErrValidation, strings.Join(missing, ", "))
	}

	var r record
	if err := decode(in, &r); err != nil {
		return store.Entry{}, fmt.Errorf("%w: name must be a string, value and count must be numbers", ErrValidation)
	}
	if strings.TrimSpace(r.Name) == "" {
		return store.Entry{}, fmt.Errorf("%w: name must not be empty", ErrValidation)
	}
	count, err := toCount(r.Count)
	if err != nil {
		return store.Entry{}, err
	}

	return store.Entry{
		ID:    EntryID(manualPrefix, r.Name, strconv.FormatInt(p.now().UnixMilli(), 10)),
		Name:  r.Name,
		Value: r.Value,
		Count: count,
	}, nil
}

// EntryID derives the deterministic entry ID for a name under a namespace
// tag and suffix.
func EntryID(namespace, name, suffix string) string {
	return namespace + "-" + Normalize(name) + "-" + suffix
}

// Normalize lowercases name and collapses every run of characters outside
// [a-z0-9] into a single underscore.
func Normalize(name string) string {
	return strings.Trim(nonAlnum.ReplaceAllString(strings.ToLower(name), "_"), "_")
}

// SessionSuffix returns the last SessionSuffixLen characters of sessionID,
// or the whole ID if it is shorter.
func SessionSuffix(sessionID string) string {
	r := []rune(sessionID)
	if len(r) <= SessionSuffixLen {
		return sessionID
	}
	return string(r[len(r)-SessionSuffixLen:])
}

func decodeItem(el any) (item, bool) {
	m, ok := el.(map[string]any)
	if !ok || m["name"] == nil || m["value"] == nil {
		return item{}, false
	}
	var it item
	if err := decode(map[string]any{"name": m["name"], "value": m["value"]}, &it); err != nil {
		return item{}, false
	}
	if strings.TrimSpace(it.Name) == "" {
		return item{}, false
	}
	return it, true
}

// toCount converts a JSON number to a count. Fractions and values outside
// the int range are rejected rather than truncated.
func toCount(f float64) (int, error) {
	if math.Trunc(f) != f || f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, fmt.Errorf("%w: count must be a whole number", ErrValidation)
	}
	return int(f), nil
}

func decode(in map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: false,
	})
	if err != nil {
		return err
	}
	return dec.Decode(in)
}

func firstPresent(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	return nil
}
