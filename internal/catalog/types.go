package catalog

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
)

// ErrUnauthenticated is returned by Profile when there is no valid session.
var ErrUnauthenticated = errors.New("unauthenticated")

// TransportError covers network failures, non-2xx answers and undecodable
// bodies. StatusCode is 0 when no response was received.
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Profile is the subset of the user profile the client needs.
type Profile struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	Role  string `json:"role,omitempty"`
}

// DefaultLocalLimit is the page size used when LocalParams.Limit is zero.
const DefaultLocalLimit = 20

// LocalParams filters and pages a local product search. Zero values and nil
// pointers are omitted from the query string.
type LocalParams struct {
	Limit         int
	Skip          int
	Categories    []string // lv1..lv5, outermost first
	MinPrice      *float64
	MaxPrice      *float64
	Brand         string
	MinRating     *float64
	Sort          string
	VietnamOrigin *bool
	VietnamBrand  *bool
	PositiveOver  *float64
}

// EffectiveLimit returns the limit that will be sent to the backend.
func (p LocalParams) EffectiveLimit() int {
	if p.Limit <= 0 {
		return DefaultLocalLimit
	}
	return p.Limit
}

func (p LocalParams) values(query string) url.Values {
	v := url.Values{}
	v.Set("q", query)
	v.Set("limit", strconv.Itoa(p.EffectiveLimit()))
	v.Set("skip", strconv.Itoa(max(p.Skip, 0)))
	for i, c := range p.Categories {
		if i >= 5 {
			break
		}
		if c != "" {
			v.Set("lv"+strconv.Itoa(i+1), c)
		}
	}
	if p.MinPrice != nil {
		v.Set("min_price", formatFloat(*p.MinPrice))
	}
	if p.MaxPrice != nil {
		v.Set("max_price", formatFloat(*p.MaxPrice))
	}
	if p.Brand != "" {
		v.Set("brand", p.Brand)
	}
	if p.MinRating != nil {
		v.Set("min_rating", formatFloat(*p.MinRating))
	}
	if p.Sort != "" {
		v.Set("sort", p.Sort)
	}
	if p.VietnamOrigin != nil {
		v.Set("is_vietnam_origin", strconv.FormatBool(*p.VietnamOrigin))
	}
	if p.VietnamBrand != nil {
		v.Set("is_vietnam_brand", strconv.FormatBool(*p.VietnamBrand))
	}
	if p.PositiveOver != nil {
		v.Set("positive_over", formatFloat(*p.PositiveOver))
	}
	return v
}
