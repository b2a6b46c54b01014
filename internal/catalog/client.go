package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"github.com/kalambet/shopchat/internal/jobs"
)

// maxBodySize caps how much of a response body is read.
const maxBodySize = 8 << 20 // 8MB

// maxDetailLen bounds the raw body quoted in a TransportError.
const maxDetailLen = 200

// Client talks to the catalog backend over HTTP.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

// Option configures a Client.
type Option func(*Client)

// WithToken sends the token as a bearer credential on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithBreaker wraps every request in a circuit breaker. After repeated
// backend failures calls are rejected without reaching the network until the
// breaker half-opens again.
func WithBreaker(name string) Option {
	return func(c *Client) {
		c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Interval:    30 * time.Second,
			Timeout:     10 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.Requests >= 3 && failureRatio >= 0.6
			},
			// Client errors mean the backend is alive.
			IsSuccessful: func(err error) bool {
				var te *TransportError
				if errors.As(err, &te) && te.StatusCode >= 400 && te.StatusCode < 500 {
					return true
				}
				return err == nil
			},
		})
	}
}

// New creates a Client targeting the given catalog base URL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the backend base URL without trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

// Search runs the conversational product search. The body is either the
// payload itself or a job handle.
func (c *Client) Search(ctx context.Context, query string) (json.RawMessage, error) {
	q := url.Values{}
	q.Set("q", query)
	return c.getJSON(ctx, "search", "/products/search?"+q.Encode())
}

// SearchLocal queries the local product index with filters and paging.
func (c *Client) SearchLocal(ctx context.Context, query string, params LocalParams) (json.RawMessage, error) {
	return c.getJSON(ctx, "search local", "/products/search/local?"+params.values(query).Encode())
}

// Barcode looks up products by barcode. May return a job handle.
func (c *Client) Barcode(ctx context.Context, code string) (json.RawMessage, error) {
	return c.getJSON(ctx, "barcode", "/products/barcode/"+url.PathEscape(code))
}

// ScanImage uploads a package photo for recognition. May return a job handle.
func (c *Client) ScanImage(ctx context.Context, filename string, r io.Reader) (json.RawMessage, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("creating form file: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, fmt.Errorf("reading image: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("closing multipart body: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/products/scan/image", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return c.do(req, "scan image")
}

// JobStatus returns the current status of a queued job.
func (c *Client) JobStatus(ctx context.Context, jobID string) (jobs.Status, error) {
	body, err := c.getJSON(ctx, "job status", "/products/jobs/"+url.PathEscape(jobID))
	if err != nil {
		return jobs.Status{}, err
	}
	var st jobs.Status
	if err := json.Unmarshal(body, &st); err != nil {
		return jobs.Status{}, &TransportError{Op: "job status", Err: fmt.Errorf("decoding response: %w", err)}
	}
	if st.JobID == "" {
		st.JobID = jobID
	}
	return st, nil
}

// profileResponse accepts both the database column names and the short
// names the profile endpoint has used.
type profileResponse struct {
	UserID    json.RawMessage `json:"User_ID"`
	ID        json.RawMessage `json:"id"`
	UserEmail string          `json:"User_Email"`
	Email     string          `json:"email"`
	UserName  string          `json:"User_Name"`
	Name      string          `json:"name"`
	Role      string          `json:"Role"`
	RoleAlt   string          `json:"role"`
}

// Profile returns the authenticated user's profile, or ErrUnauthenticated
// when the backend answers 401.
func (c *Client) Profile(ctx context.Context) (Profile, error) {
	body, err := c.getJSON(ctx, "profile", "/users_profile/me")
	if err != nil {
		var te *TransportError
		if errors.As(err, &te) && te.StatusCode == http.StatusUnauthorized {
			return Profile{}, ErrUnauthenticated
		}
		return Profile{}, err
	}

	var pr profileResponse
	if err := json.Unmarshal(body, &pr); err != nil {
		return Profile{}, &TransportError{Op: "profile", Err: fmt.Errorf("decoding response: %w", err)}
	}
	p := Profile{
		ID:    firstNonEmpty(idString(pr.UserID), idString(pr.ID)),
		Email: firstNonEmpty(pr.UserEmail, pr.Email),
		Name:  firstNonEmpty(pr.UserName, pr.Name),
		Role:  firstNonEmpty(pr.Role, pr.RoleAlt),
	}
	if p.ID == "" {
		return Profile{}, &TransportError{Op: "profile", Err: errors.New("profile has no id")}
	}
	return p, nil
}

func (c *Client) getJSON(ctx context.Context, op, path string) (json.RawMessage, error) {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req, op)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, op string) (json.RawMessage, error) {
	if c.breaker == nil {
		return c.roundTrip(req, op)
	}
	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.roundTrip(req, op)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &TransportError{Op: op, Err: err}
		}
		return nil, err
	}
	return out.(json.RawMessage), nil
}

func (c *Client) roundTrip(req *http.Request, op string) (json.RawMessage, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, &TransportError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("reading body: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &TransportError{Op: op, StatusCode: resp.StatusCode, Err: errors.New(detailMessage(body))}
	}
	if !json.Valid(body) {
		return nil, &TransportError{Op: op, StatusCode: resp.StatusCode, Err: errors.New("response is not valid JSON")}
	}
	return json.RawMessage(body), nil
}

// detailMessage pulls a human-readable message from an error body.
func detailMessage(body []byte) string {
	var e struct {
		Detail  any    `json:"detail"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &e); err == nil {
		if s, ok := e.Detail.(string); ok && s != "" {
			return s
		}
		if e.Message != "" {
			return e.Message
		}
	}
	s := strings.TrimSpace(string(body))
	if len(s) > maxDetailLen {
		n := maxDetailLen
		for n > 0 && !utf8.RuneStart(s[n]) {
			n--
		}
		s = s[:n]
	}
	if s == "" {
		return "empty response"
	}
	return s
}

func idString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
