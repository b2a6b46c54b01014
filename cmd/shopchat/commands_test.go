package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/pflag"

	"github.com/kalambet/shopchat/internal/chat"
	"github.com/kalambet/shopchat/internal/config"
	"github.com/kalambet/shopchat/internal/session"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
}

type testServer struct {
	server   *httptest.Server
	mu       sync.Mutex
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.mu.Lock()
		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
		})
		ts.mu.Unlock()

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

// useClient points newAPIClient at ts for the duration of the test.
func useClient(t *testing.T, ts *testServer) {
	t.Helper()
	orig := newAPIClient
	newAPIClient = func() (*apiClient, error) { return ts.client(), nil }
	t.Cleanup(func() { newAPIClient = orig })
}

func withNoColor(t *testing.T) {
	t.Helper()
	orig := noColor
	noColor = true
	t.Cleanup(func() { noColor = orig })
}

var ctx = context.Background()

func TestAskRemote(t *testing.T) {
	withNoColor(t)
	ts := newTestServer(t, map[string]string{
		"POST /chat/messages": `{"id":3,"sender":"bot","content":"Mình đã tìm thấy 1 sản phẩm","suggestions":[{"id":7,"name":"Sữa tươi","price":"32.000 đ","rating":4.5,"positivePercent":0}]}`,
	})
	useClient(t, ts)

	var out bytes.Buffer
	if err := askRemote(ctx, &out, "sữa tươi"); err != nil {
		t.Fatalf("askRemote: %v", err)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	r := ts.requests[0]
	if r.Method != "POST" || r.Path != "/chat/messages" {
		t.Errorf("request = %s %s", r.Method, r.Path)
	}
	if r.Auth != "Bearer test-token" {
		t.Errorf("auth = %q, want Bearer test-token", r.Auth)
	}
	var body map[string]string
	if err := json.Unmarshal([]byte(r.Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body["text"] != "sữa tươi" {
		t.Errorf("body.text = %q", body["text"])
	}

	got := out.String()
	if !strings.Contains(got, "bot› Mình đã tìm thấy 1 sản phẩm") || !strings.Contains(got, "[7] Sữa tươi · 32.000 đ · 4.5★") {
		t.Errorf("output = %q", got)
	}
}

func TestAskCommand_MissingArgs(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"ask"})
	err := rootCmd.Execute()
	if err == nil {
		t.Fatal("expected error for missing args")
	}
	if !strings.Contains(err.Error(), "requires at least 1 arg") {
		t.Errorf("error = %q, want it to mention the missing argument", err.Error())
	}
}

func TestSessionResetRemote(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"DELETE /chat/session": ``,
	})
	useClient(t, ts)
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"session", "reset", "--remote"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ts.requests) != 1 || ts.requests[0].Method != "DELETE" || ts.requests[0].Path != "/chat/session" {
		t.Errorf("requests = %+v", ts.requests)
	}
}

func TestDecodeJSON_ErrorResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(409)
		w.Write([]byte(`{"error":{"message":"another message is still being answered","type":"conflict_error"}}`))
	}))
	defer ts.Close()

	client := &apiClient{
		baseURL:    ts.URL,
		token:      "test",
		httpClient: ts.Client(),
	}

	resp, err := client.post(ctx, "/chat/messages", map[string]string{"text": "x"})
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}

	var result any
	err = decodeJSON(resp, &result)
	if err == nil {
		t.Fatal("expected error for 409 response")
	}
	if !strings.Contains(err.Error(), "409") || !strings.Contains(err.Error(), "conflict_error") {
		t.Errorf("error = %q", err.Error())
	}
}

func TestAPIClient_Unreachable(t *testing.T) {
	client := &apiClient{baseURL: "http://127.0.0.1:1", token: "t", httpClient: &http.Client{Timeout: time.Second}}
	_, err := client.get(ctx, "/health")
	if err == nil || !strings.Contains(err.Error(), "shopchat serve") {
		t.Errorf("err = %v, want a hint to start the server", err)
	}
}

func TestLocalParams(t *testing.T) {
	parse := func(t *testing.T, args ...string) *pflag.FlagSet {
		t.Helper()
		fs := pflag.NewFlagSet("search", pflag.ContinueOnError)
		addSearchFlags(fs)
		if err := fs.Parse(args); err != nil {
			t.Fatalf("parse: %v", err)
		}
		return fs
	}

	t.Run("defaults", func(t *testing.T) {
		p, err := localParams(parse(t))
		if err != nil {
			t.Fatal(err)
		}
		if p.Limit != 20 || p.Skip != 0 {
			t.Errorf("limit/skip = %d/%d", p.Limit, p.Skip)
		}
		if p.MinPrice != nil || p.MaxPrice != nil || p.MinRating != nil || p.VietnamOrigin != nil || p.PositiveOver != nil {
			t.Errorf("unset filters should be nil: %+v", p)
		}
	})

	t.Run("filters", func(t *testing.T) {
		p, err := localParams(parse(t,
			"--limit", "5", "--skip", "10",
			"--category", "Đồ uống", "--category", "Sữa",
			"--min-price", "0", "--max-price", "50000",
			"--vn-origin=false", "--brand", "Vinamilk", "--sort", "price_asc"))
		if err != nil {
			t.Fatal(err)
		}
		if p.Limit != 5 || p.Skip != 10 || len(p.Categories) != 2 || p.Categories[1] != "Sữa" {
			t.Errorf("params = %+v", p)
		}
		if p.MinPrice == nil || *p.MinPrice != 0 || p.MaxPrice == nil || *p.MaxPrice != 50000 {
			t.Errorf("price range = %v..%v", p.MinPrice, p.MaxPrice)
		}
		if p.VietnamOrigin == nil || *p.VietnamOrigin {
			t.Errorf("vn-origin = %v, want explicit false", p.VietnamOrigin)
		}
		if p.VietnamBrand != nil {
			t.Errorf("vn-brand = %v, want nil", p.VietnamBrand)
		}
	})

	invalid := [][]string{
		{"--limit", "0"},
		{"--skip", "-1"},
		{"--min-price", "10", "--max-price", "5"},
		{"--category", "a", "--category", "b", "--category", "c", "--category", "d", "--category", "e", "--category", "f"},
	}
	for _, args := range invalid {
		if _, err := localParams(parse(t, args...)); err == nil {
			t.Errorf("localParams(%v) = nil error", args)
		}
	}
}

func TestPrintMessage(t *testing.T) {
	withNoColor(t)

	var buf bytes.Buffer
	printMessage(&buf, session.Message{Role: session.RoleUser, Text: "nước mắm"})
	printMessage(&buf, session.Message{
		Role: session.RoleBot,
		Text: "Mình đã tìm thấy 2 sản phẩm",
		Suggestions: []session.Suggestion{
			{ID: 1, Name: "Nước mắm Nam Ngư", Brand: "Chin-su", Price: "45.000 đ", Rating: 4.2, PositivePercent: 80, Sentiment: "positive"},
			{ID: 2, Name: "Nước mắm Phú Quốc"},
		},
	})

	want := "you› nước mắm\n" +
		"bot› Mình đã tìm thấy 2 sản phẩm\n" +
		"    • [1] Nước mắm Nam Ngư · Chin-su · 45.000 đ · 4.2★ · 80% positive\n" +
		"    • [2] Nước mắm Phú Quốc\n"
	if buf.String() != want {
		t.Errorf("output =\n%s\nwant\n%s", buf.String(), want)
	}
}

func TestColorize(t *testing.T) {
	orig := noColor
	defer func() { noColor = orig }()

	noColor = false
	if got := colorize(colorGreen, "ok"); got != colorGreen+"ok"+colorReset {
		t.Errorf("colorize = %q", got)
	}
	noColor = true
	if got := colorize(colorGreen, "ok"); got != "ok" {
		t.Errorf("colorize with noColor = %q", got)
	}
}

func TestPIDFile(t *testing.T) {
	path := pidFilePath(filepath.Join(t.TempDir(), "nested"))
	if err := writePIDFile(path); err != nil {
		t.Fatalf("writePIDFile: %v", err)
	}
	pid, err := readPIDFile(path)
	if err != nil || pid <= 0 {
		t.Fatalf("readPIDFile = %d, %v", pid, err)
	}
	removePIDFile(path)
	if _, err := readPIDFile(path); err == nil {
		t.Error("expected error after removal")
	}
}

func TestEnsureAPIToken(t *testing.T) {
	var cfg config.Config
	cfg.Storage.DataDir = t.TempDir()

	if _, err := readAPIToken(cfg); err == nil {
		t.Fatal("expected error before any token exists")
	}

	token, created, err := ensureAPIToken(cfg)
	if err != nil || !created || token == "" {
		t.Fatalf("ensureAPIToken = %q, %v, %v", token, created, err)
	}

	again, created, err := ensureAPIToken(cfg)
	if err != nil || created || again != token {
		t.Errorf("second call = %q, %v, %v; want existing token", again, created, err)
	}
	if got, err := readAPIToken(cfg); err != nil || got != token {
		t.Errorf("readAPIToken = %q, %v", got, err)
	}

	cfg.Server.APIToken = "from-config"
	if got, _, _ := ensureAPIToken(cfg); got != "from-config" {
		t.Errorf("configured token ignored, got %q", got)
	}
}

func TestConfigShowAll(t *testing.T) {
	cfg := config.Config{}
	cfg.Server.Port = 4100
	cfg.Catalog.Token = "secret"

	keys := config.ShowAll(cfg)
	if len(keys) == 0 {
		t.Fatal("expected non-empty keys from ShowAll")
	}

	values := map[string]string{}
	for _, k := range keys {
		values[k.Key] = k.Value
	}
	if values["server.port"] != "4100" {
		t.Errorf("server.port = %q, want 4100", values["server.port"])
	}
	if values["catalog.token"] == "secret" {
		t.Error("catalog.token is not masked")
	}
}

// --- REPL ---

type scriptedConversation struct {
	submitted []string
	resets    int
}

func (c *scriptedConversation) Submit(_ context.Context, text string) (session.Message, error) {
	c.submitted = append(c.submitted, text)
	return session.Message{Role: session.RoleBot, Text: "reply to " + text}, nil
}

func (c *scriptedConversation) Snapshot() session.Snapshot {
	return session.Snapshot{Messages: []session.Message{{ID: 1, Role: session.RoleBot, Text: chat.Greeting}}}
}

func (c *scriptedConversation) Reset() error {
	c.resets++
	return nil
}

func TestRepl(t *testing.T) {
	withNoColor(t)
	conv := &scriptedConversation{}
	in := strings.NewReader("sữa tươi\n\n/reset\n/quit\nnever sent\n")
	var out bytes.Buffer

	if err := repl(ctx, conv, in, &out); err != nil {
		t.Fatalf("repl: %v", err)
	}
	if len(conv.submitted) != 1 || conv.submitted[0] != "sữa tươi" {
		t.Errorf("submitted = %v", conv.submitted)
	}
	if conv.resets != 1 {
		t.Errorf("resets = %d, want 1", conv.resets)
	}
	if !strings.Contains(out.String(), "bot› reply to sữa tươi") {
		t.Errorf("output = %q", out.String())
	}
}

// --- wiring ---

// fakeCatalog serves a profile and one search answer.
func fakeCatalog(t *testing.T, signedIn bool) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/users_profile/me":
			if !signedIn {
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"detail":"Not authenticated"}`))
				return
			}
			w.Write([]byte(`{"User_ID":42,"User_Email":"lan@example.com"}`))
		case "/products/search":
			w.Write([]byte(`{"results":[{"Product_ID":7,"Product_Name":"Sữa tươi Vinamilk","Price":32000}],"count":1,"input_type":"product_search","query":"sữa tươi"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, baseURL string) config.Config {
	t.Helper()
	var cfg config.Config
	cfg.Catalog.BaseURL = baseURL
	cfg.Catalog.Timeout = 5 * time.Second
	cfg.Jobs.PollInterval = time.Millisecond
	cfg.Jobs.MaxAttempts = 3
	cfg.Session.KeyBase = session.DefaultKeyBase
	cfg.Session.Driver = config.DriverSQLite
	cfg.Storage.DataDir = t.TempDir()
	return cfg
}

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestNewApp_RestoresAccountConversation(t *testing.T) {
	cfg := testConfig(t, fakeCatalog(t, true).URL)

	a, err := newApp(ctx, cfg, discard)
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	if got := a.store.Descriptor(); got.ScopeKey != session.DefaultKeyBase+":42" || got.Durability != session.Persistent {
		t.Errorf("scope = %+v", got)
	}
	msg, err := a.chat.Submit(ctx, "sữa tươi")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if len(msg.Suggestions) != 1 || msg.Suggestions[0].Price != "32.000 đ" {
		t.Errorf("reply = %+v", msg)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	b, err := newApp(ctx, cfg, discard)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer b.Close()
	if n := len(b.chat.Snapshot().Messages); n != 3 {
		t.Errorf("restored %d messages, want 3", n)
	}
}

func TestNewApp_GuestConversationIsEphemeral(t *testing.T) {
	cfg := testConfig(t, fakeCatalog(t, false).URL)

	a, err := newApp(ctx, cfg, discard)
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	if got := a.store.Descriptor(); got.ScopeKey != session.GuestKey(session.DefaultKeyBase) || got.Durability != session.Ephemeral {
		t.Errorf("scope = %+v", got)
	}
	if _, err := a.chat.Submit(ctx, "sữa tươi"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	a.Close()

	b, err := newApp(ctx, cfg, discard)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer b.Close()
	snap := b.chat.Snapshot()
	if len(snap.Messages) != 1 || snap.Messages[0].Text != chat.Greeting {
		t.Errorf("guest conversation survived: %+v", snap.Messages)
	}
}

func TestNewApp_RedisUnreachable(t *testing.T) {
	cfg := testConfig(t, fakeCatalog(t, true).URL)
	cfg.Session.Driver = config.DriverRedis
	cfg.Session.RedisAddr = "127.0.0.1:1"

	if _, err := newApp(ctx, cfg, discard); err == nil || !strings.Contains(err.Error(), "redis") {
		t.Errorf("err = %v, want a redis error", err)
	}
}
