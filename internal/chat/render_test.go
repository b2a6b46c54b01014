package chat

import (
	"testing"

	"github.com/kalambet/shopchat/internal/search"
)

func ptr[T any](v T) *T { return &v }

func TestFormatPrice(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0 đ"},
		{950, "950 đ"},
		{32000, "32.000 đ"},
		{1250000, "1.250.000 đ"},
		{19999.5, "19.999,5 đ"},
	}
	for _, tt := range tests {
		if got := FormatPrice(tt.in); got != tt.want {
			t.Errorf("FormatPrice(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSentiment(t *testing.T) {
	tests := []struct {
		pos  float64
		want string
	}{
		{100, "positive"},
		{75, "positive"},
		{74.9, "neutral"},
		{40, "neutral"},
		{39, "negative"},
		{0, "negative"},
	}
	for _, tt := range tests {
		if got := sentiment(tt.pos); got != tt.want {
			t.Errorf("sentiment(%v) = %q, want %q", tt.pos, got, tt.want)
		}
	}
}

func TestSuggestionDefaults(t *testing.T) {
	s := suggestion(search.Product{ID: 4, Name: "Nước mắm"})
	if s.Price != "" || s.Rating != 0 || s.PositivePercent != 0 || s.Sentiment != "" {
		t.Errorf("suggestion = %+v, want zero-valued extras", s)
	}

	s = suggestion(search.Product{ID: 5, AvgRating: ptr(4.2), PositivePct: ptr(55.0), Brand: "Chin-su"})
	if s.Rating != 4.2 || s.Sentiment != "neutral" || s.Brand != "Chin-su" {
		t.Errorf("suggestion = %+v", s)
	}
}
