package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kalambet/shopchat/internal/jobs"
	"github.com/kalambet/shopchat/internal/search"
	"github.com/kalambet/shopchat/internal/session"
)

var (
	// ErrBusy is returned when a submission arrives while another one is
	// still in flight.
	ErrBusy = errors.New("a submission is already in progress")
	// ErrEmptyInput is returned for blank user text.
	ErrEmptyInput = errors.New("input is empty")
)

// State is the orchestrator's position in the submission lifecycle.
type State int32

const (
	StateIdle State = iota
	StateAwaitingTransport
	StateAwaitingJob
	StateClassifying
	StateRendered
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingTransport:
		return "awaiting_transport"
	case StateAwaitingJob:
		return "awaiting_job"
	case StateClassifying:
		return "classifying"
	case StateRendered:
		return "rendered"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Catalog is the subset of the catalog transport the orchestrator calls.
type Catalog interface {
	Search(ctx context.Context, query string) (json.RawMessage, error)
	Barcode(ctx context.Context, code string) (json.RawMessage, error)
	ScanImage(ctx context.Context, filename string, r io.Reader) (json.RawMessage, error)
}

// Resolver waits for queued answers.
type Resolver interface {
	Resolve(ctx context.Context, initial json.RawMessage) (json.RawMessage, error)
}

// Classifier normalises a resolved payload.
type Classifier interface {
	Classify(raw json.RawMessage, fallbackQuery string) search.Outcome
}

// Store persists the conversation snapshot.
type Store interface {
	Load() session.Snapshot
	Save(session.Snapshot)
	Reset()
}

// Observer receives one call per finished submission. kind is "text",
// "barcode" or "image"; result is "chat", "products", "no_results" or
// "error". Optional.
type Observer interface {
	ObserveSubmission(kind, result string, elapsed time.Duration)
}

// Orchestrator owns the live conversation and runs one submission at a time.
type Orchestrator struct {
	catalog    Catalog
	resolver   Resolver
	classifier Classifier
	store      Store
	observer   Observer
	logger     *slog.Logger
	now        func() time.Time

	busy  atomic.Bool
	state atomic.Int32

	mu   sync.Mutex
	snap session.Snapshot
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithObserver attaches a submission observer (metrics).
func WithObserver(o Observer) Option {
	return func(c *Orchestrator) { c.observer = o }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Orchestrator) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock overrides time.Now for message timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Orchestrator) { c.now = now }
}

// New restores the conversation from store and returns a ready
// Orchestrator. An empty conversation starts with the greeting.
func New(catalog Catalog, resolver Resolver, classifier Classifier, store Store, opts ...Option) *Orchestrator {
	c := &Orchestrator{
		catalog:    catalog,
		resolver:   resolver,
		classifier: classifier,
		store:      store,
		logger:     slog.Default(),
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(c)
	}

	c.snap = store.Load()
	if len(c.snap.Messages) == 0 {
		c.snap.Messages = []session.Message{c.greeting()}
	}
	return c
}

// State reports the current lifecycle state.
func (c *Orchestrator) State() State { return State(c.state.Load()) }

// Snapshot returns a copy of the live conversation.
func (c *Orchestrator) Snapshot() session.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap.Clone()
}

// SetDraft records the unsent input and persists it.
func (c *Orchestrator) SetDraft(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snap.Draft = text
	c.store.Save(c.snap)
}

// Reset drops the persisted conversation and starts over with the greeting.
// It fails with ErrBusy while a submission is in flight.
func (c *Orchestrator) Reset() error {
	if !c.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer c.busy.Store(false)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.store.Reset()
	c.snap = session.Snapshot{Messages: []session.Message{c.greeting()}}
	c.store.Save(c.snap)
	return nil
}

// Submit sends user text to the catalog search and returns the bot reply.
// Only ErrBusy and ErrEmptyInput are returned; every other failure becomes
// the apology message.
func (c *Orchestrator) Submit(ctx context.Context, text string) (session.Message, error) {
	query := strings.TrimSpace(text)
	if query == "" {
		return session.Message{}, ErrEmptyInput
	}
	return c.run(ctx, "text", text, query, func(ctx context.Context) (json.RawMessage, error) {
		return c.catalog.Search(ctx, query)
	}, "")
}

// LookupBarcode resolves a barcode through the catalog and renders the match.
func (c *Orchestrator) LookupBarcode(ctx context.Context, code string) (session.Message, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return session.Message{}, ErrEmptyInput
	}
	return c.run(ctx, "barcode", code, code, func(ctx context.Context) (json.RawMessage, error) {
		return c.catalog.Barcode(ctx, code)
	}, search.IntentBarcode)
}

// ScanImage uploads a package photo and renders the recognised products.
func (c *Orchestrator) ScanImage(ctx context.Context, filename string, r io.Reader) (session.Message, error) {
	if r == nil {
		return session.Message{}, ErrEmptyInput
	}
	return c.run(ctx, "image", filename, filename, func(ctx context.Context) (json.RawMessage, error) {
		return c.catalog.ScanImage(ctx, filename, r)
	}, search.IntentImage)
}

// run drives one submission through the state machine. userText is what the
// conversation shows, query is the fallback keyword. A non-empty bareIntent
// replaces product_search for bare list answers of specialised endpoints.
func (c *Orchestrator) run(ctx context.Context, kind, userText, query string,
	call func(context.Context) (json.RawMessage, error), bareIntent search.Intent) (session.Message, error) {

	if !c.busy.CompareAndSwap(false, true) {
		return session.Message{}, ErrBusy
	}
	defer c.busy.Store(false)
	defer c.setState(StateIdle)

	start := time.Now()

	c.mu.Lock()
	c.append(session.RoleUser, userText, nil)
	if kind == "text" {
		c.snap.Draft = ""
	}
	c.store.Save(c.snap)
	c.mu.Unlock()

	out, err := c.fetch(ctx, query, call, bareIntent)

	var (
		reply  string
		cards  []session.Suggestion
		result string
	)
	if err != nil {
		c.logger.Warn("search failed", "kind", kind, "query", query, "error", err)
		reply, result = Apology, "error"
	} else {
		reply, cards = render(out, query)
		switch {
		case out.Conversational():
			result = "chat"
		case len(cards) == 0:
			result = "no_results"
		default:
			result = "products"
		}
	}
	c.setState(StateRendered)

	c.mu.Lock()
	msg := c.append(session.RoleBot, reply, cards)
	c.store.Save(c.snap)
	c.mu.Unlock()

	if c.observer != nil {
		c.observer.ObserveSubmission(kind, result, time.Since(start))
	}
	return msg, nil
}

// fetch performs the transport call, waits for a queued job and classifies
// the answer.
func (c *Orchestrator) fetch(ctx context.Context, query string,
	call func(context.Context) (json.RawMessage, error), bareIntent search.Intent) (out search.Outcome, err error) {

	c.setState(StateAwaitingTransport)
	raw, err := call(ctx)
	if err != nil {
		return out, err
	}

	if jobs.JobID(raw) != "" {
		c.setState(StateAwaitingJob)
		raw, err = c.resolver.Resolve(ctx, raw)
		if err != nil {
			return out, err
		}
	}

	c.setState(StateClassifying)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("classifying response: %v", r)
		}
	}()
	out = c.classifier.Classify(raw, query)
	if bareIntent != "" && isBareList(raw) {
		out.Intent = bareIntent
	}
	return out, nil
}

// append adds a message with the next id. Caller holds c.mu.
func (c *Orchestrator) append(role session.Role, text string, cards []session.Suggestion) session.Message {
	id := 1
	if n := len(c.snap.Messages); n > 0 {
		id = c.snap.Messages[n-1].ID + 1
	}
	msg := session.Message{
		ID:          id,
		Role:        role,
		Text:        text,
		CreatedAt:   c.now(),
		Suggestions: cards,
	}
	c.snap.Messages = append(c.snap.Messages, msg)
	return msg
}

func (c *Orchestrator) greeting() session.Message {
	return session.Message{ID: 1, Role: session.RoleBot, Text: Greeting, CreatedAt: c.now()}
}

func (c *Orchestrator) setState(s State) { c.state.Store(int32(s)) }

func isBareList(raw json.RawMessage) bool {
	for _, b := range raw {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		case '[':
			return true
		default:
			return false
		}
	}
	return false
}
