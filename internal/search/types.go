package search

import "strings"

// Intent is the classified purpose of a search payload.
type Intent string

const (
	IntentProductSearch      Intent = "product_search"
	IntentLocalProductSearch Intent = "local_product_search"
	IntentChat               Intent = "chat"
	IntentBarcode            Intent = "barcode"
	IntentImage              Intent = "image"
	IntentBarcodeImage       Intent = "barcode_image"
)

var knownIntents = map[Intent]bool{
	IntentProductSearch:      true,
	IntentLocalProductSearch: true,
	IntentChat:               true,
	IntentBarcode:            true,
	IntentImage:              true,
	IntentBarcodeImage:       true,
}

// ParseIntent maps a raw input_type onto the closed set. Unknown, empty or
// mistyped values fall back to IntentProductSearch; ok reports whether the
// value was recognised.
func ParseIntent(raw string) (intent Intent, ok bool) {
	in := Intent(strings.ToLower(strings.TrimSpace(raw)))
	if knownIntents[in] {
		return in, true
	}
	return IntentProductSearch, false
}

// Product is the summary record returned by every search endpoint.
type Product struct {
	ID             int64    `json:"Product_ID"`
	Name           string   `json:"Product_Name"`
	ImageURL       string   `json:"Image_URL,omitempty"`
	Price          *float64 `json:"Price,omitempty"`
	AvgRating      *float64 `json:"Avg_Rating,omitempty"`
	SentimentLabel string   `json:"Sentiment_Label,omitempty"`
	PositivePct    *float64 `json:"Positive_Percent,omitempty"`
	Brand          string   `json:"Brand,omitempty"`
}

// Outcome is the canonical shape every search response is normalised into.
type Outcome struct {
	Intent       Intent    `json:"intent"`
	Query        string    `json:"query"`
	RefinedQuery *string   `json:"refined_query,omitempty"`
	Items        []Product `json:"items"`
	// ItemCount equals len(Items) unless the backend sent an authoritative count.
	ItemCount  int  `json:"item_count"`
	TotalCount *int `json:"total_count,omitempty"`
	Skip       int  `json:"skip"`
	Limit      int  `json:"limit,omitempty"`
	// Reply is the conversational answer, if any.
	Reply *string `json:"reply,omitempty"`
	// Suspicious marks a chat intent that arrived together with products.
	Suspicious bool `json:"suspicious,omitempty"`
}

// Conversational reports whether the outcome is rendered as a bot utterance
// instead of product suggestions.
func (o Outcome) Conversational() bool {
	if o.Intent == IntentChat {
		return true
	}
	return o.ReplyText() != "" && (len(o.Items) == 0 || o.ItemCount == 0)
}

// Keyword is the display keyword: the refined query when present and
// non-blank, otherwise the original query.
func (o Outcome) Keyword() string {
	if o.RefinedQuery != nil {
		if k := strings.TrimSpace(*o.RefinedQuery); k != "" {
			return k
		}
	}
	return strings.TrimSpace(o.Query)
}

// ReplyText returns the trimmed reply, or "" when there is none.
func (o Outcome) ReplyText() string {
	if o.Reply == nil {
		return ""
	}
	return strings.TrimSpace(*o.Reply)
}
