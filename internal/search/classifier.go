package search

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"math"
	"strings"
	"unicode/utf8"
)

// Classifier normalises search payloads into an Outcome. It never fails:
// payloads it cannot make sense of become an empty product_search outcome.
type Classifier struct {
	logger *slog.Logger
}

// NewClassifier creates a Classifier logging through l (slog.Default when nil).
func NewClassifier(l *slog.Logger) *Classifier {
	if l == nil {
		l = slog.Default()
	}
	return &Classifier{logger: l}
}

// payload is the enriched object form. Fields are kept raw so that wrong
// types degrade to defaults instead of failing the whole decode.
type payload struct {
	Results      json.RawMessage `json:"results"`
	Count        json.RawMessage `json:"count"`
	InputType    json.RawMessage `json:"input_type"`
	Query        json.RawMessage `json:"query"`
	RefinedQuery json.RawMessage `json:"refined_query"`
	AIMessage    json.RawMessage `json:"ai_message"`
	Message      json.RawMessage `json:"message"`
	Total        json.RawMessage `json:"total"`
	Skip         json.RawMessage `json:"skip"`
	Limit        json.RawMessage `json:"limit"`
}

// Classify normalises raw into an Outcome. fallbackQuery is used when the
// payload does not echo the query.
func (c *Classifier) Classify(raw json.RawMessage, fallbackQuery string) Outcome {
	return c.ClassifyPage(raw, fallbackQuery, 0)
}

// ClassifyPage is Classify for paged endpoints: a missing limit defaults to
// requestedLimit.
func (c *Classifier) ClassifyPage(raw json.RawMessage, fallbackQuery string, requestedLimit int) Outcome {
	b := bytes.TrimSpace(raw)

	if len(b) > 0 && b[0] == '[' {
		items := c.decodeItems(b)
		return Outcome{
			Intent:    IntentProductSearch,
			Query:     fallbackQuery,
			Items:     items,
			ItemCount: len(items),
			Limit:     requestedLimit,
		}
	}

	var p payload
	if len(b) == 0 || b[0] != '{' || json.Unmarshal(b, &p) != nil {
		c.logger.Warn("unrecognised search payload, treating as empty result", "payload", truncate(string(b), 200))
		return Outcome{Intent: IntentProductSearch, Query: fallbackQuery, Items: []Product{}, Limit: requestedLimit}
	}

	items := c.decodeItems(p.Results)

	rawType, _ := rawString(p.InputType)
	intent, ok := ParseIntent(rawType)
	if !ok && rawType != "" {
		c.logger.Debug("unknown input_type, defaulting", "input_type", rawType, "intent", intent)
	}

	out := Outcome{
		Intent: intent,
		Query:  fallbackQuery,
		Items:  items,
	}
	if q, ok := rawString(p.Query); ok && strings.TrimSpace(q) != "" {
		out.Query = q
	}
	if rq, ok := rawString(p.RefinedQuery); ok {
		out.RefinedQuery = &rq
	}
	if reply := firstText(p.AIMessage, p.Message); reply != "" {
		out.Reply = &reply
	}

	if n, ok := rawInt(p.Count); ok {
		out.ItemCount = n
	} else {
		out.ItemCount = len(items)
	}
	total := out.ItemCount
	if n, ok := rawInt(p.Total); ok {
		total = n
	}
	out.TotalCount = &total
	if n, ok := rawInt(p.Skip); ok {
		out.Skip = n
	}
	out.Limit = requestedLimit
	if n, ok := rawInt(p.Limit); ok {
		out.Limit = n
	}

	if intent == IntentChat && len(items) > 0 {
		out.Suspicious = true
		c.logger.Warn("chat intent returned with products", "query", out.Query, "items", len(items))
	}
	return out
}

// decodeItems decodes a JSON array of products one element at a time,
// skipping elements that do not decode.
func (c *Classifier) decodeItems(raw json.RawMessage) []Product {
	items := []Product{}
	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		return items
	}
	for i, e := range elems {
		var p Product
		if err := json.Unmarshal(e, &p); err != nil {
			c.logger.Warn("skipping malformed product record", "index", i, "error", err)
			continue
		}
		items = append(items, p)
	}
	return items
}

// rawString returns the value when raw is a JSON string.
func rawString(raw json.RawMessage) (string, bool) {
	var s string
	if len(raw) == 0 || json.Unmarshal(raw, &s) != nil {
		return "", false
	}
	return s, true
}

// rawInt returns the value when raw is a JSON number usable as a count or
// offset: finite, non-negative and within int range.
func rawInt(raw json.RawMessage) (int, bool) {
	var f float64
	if len(raw) == 0 || json.Unmarshal(raw, &f) != nil {
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 || f >= float64(math.MaxInt) {
		return 0, false
	}
	return int(f), true
}

// firstText returns the first non-blank string among raws.
func firstText(raws ...json.RawMessage) string {
	for _, r := range raws {
		if s, ok := rawString(r); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
