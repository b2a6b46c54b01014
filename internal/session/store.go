package session

import (
	"log/slog"
	"sync"
	"time"
)

// DefaultKeyBase is the key namespace for conversation snapshots. The bare
// base is the legacy single global key.
const DefaultKeyBase = "vc_chat_state_v1"

// Scope selects the storage scope for an auth state. It is a pure function:
// a confirmed account gets a durable per-account key, everyone else the
// ephemeral guest key.
func Scope(base string, auth AuthState) Descriptor {
	if auth.Authenticated && auth.AccountID != "" {
		return Descriptor{ScopeKey: base + ":" + auth.AccountID, Durability: Persistent}
	}
	return Descriptor{ScopeKey: GuestKey(base), Durability: Ephemeral}
}

// GuestKey is the fixed key of the anonymous scope.
func GuestKey(base string) string { return base + "_guest" }

// Observer is notified about swallowed persistence failures. Optional.
type Observer interface {
	ObservePersistenceFailure(op string)
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

// Store persists one conversation under the scope chosen by Init. All
// persistence is best-effort: read failures yield an empty snapshot and
// write failures are logged and dropped.
type Store struct {
	base      string
	durable   Backend
	ephemeral Backend
	clock     Clock
	observer  Observer
	logger    *slog.Logger

	mu      sync.Mutex
	desc    Descriptor
	migrate bool
}

// Option configures a Store.
type Option func(*Store)

// WithKeyBase overrides DefaultKeyBase.
func WithKeyBase(base string) Option {
	return func(s *Store) {
		if base != "" {
			s.base = base
		}
	}
}

// WithClock sets the clock used to fill missing timestamps.
func WithClock(c Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithObserver attaches a persistence failure observer.
func WithObserver(o Observer) Option {
	return func(s *Store) { s.observer = o }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewStore creates a Store over a durable backend (per-account snapshots and
// the legacy key) and an ephemeral one (guest snapshot).
func NewStore(durable, ephemeral Backend, opts ...Option) *Store {
	s := &Store{
		base:      DefaultKeyBase,
		durable:   durable,
		ephemeral: ephemeral,
		clock:     realClock{},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.desc = Scope(s.base, Guest())
	return s
}

// Init selects the scope for auth and arms the one-time legacy migration.
// Resolving to a persistent scope clears any residual guest snapshot.
func (s *Store) Init(auth AuthState) Descriptor {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.desc = Scope(s.base, auth)
	s.migrate = s.desc.Durability == Persistent

	if s.desc.Durability == Persistent {
		guest := GuestKey(s.base)
		if err := s.ephemeral.Delete(guest); err != nil {
			s.fail("clear guest", guest, err)
		}
	}
	s.logger.Debug("session scope selected", "key", s.desc.ScopeKey, "durability", s.desc.Durability)
	return s.desc
}

// Descriptor returns the active scope.
func (s *Store) Descriptor() Descriptor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.desc
}

// Load returns the persisted snapshot of the active scope, or an empty
// snapshot when nothing usable is stored.
func (s *Store) Load() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := s.desc.ScopeKey
	backend := s.backend()

	raw, ok, err := backend.Get(key)
	if err != nil {
		s.fail("load", key, err)
		ok = false
	}

	if s.migrate {
		s.migrate = false
		if !ok && err == nil {
			raw, ok = s.migrateLegacy(key)
		}
	}

	if !ok {
		return emptySnapshot()
	}
	snap, err := decodeSnapshot(raw, s.clock.Now())
	if err != nil {
		s.fail("decode", key, err)
		return emptySnapshot()
	}
	return snap
}

// migrateLegacy copies the legacy global value to key and deletes the legacy
// key. Caller holds s.mu.
func (s *Store) migrateLegacy(key string) (string, bool) {
	legacy, ok, err := s.durable.Get(s.base)
	if err != nil {
		s.fail("read legacy", s.base, err)
		return "", false
	}
	if !ok {
		return "", false
	}
	if err := s.durable.Set(key, legacy); err != nil {
		s.fail("migrate", key, err)
		// Keep the legacy value so a later session can retry.
		return legacy, true
	}
	if err := s.durable.Delete(s.base); err != nil {
		s.fail("delete legacy", s.base, err)
	}
	s.logger.Info("migrated legacy conversation", "to", key)
	return legacy, true
}

// Save overwrites the snapshot of the active scope.
func (s *Store) Save(snap Snapshot) {
	raw, err := encodeSnapshot(snap)

	s.mu.Lock()
	defer s.mu.Unlock()

	key := s.desc.ScopeKey
	if err != nil {
		s.fail("encode", key, err)
		return
	}
	if err := s.backend().Set(key, raw); err != nil {
		s.fail("save", key, err)
	}
}

// Reset removes the snapshot of the active scope.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := s.desc.ScopeKey
	if err := s.backend().Delete(key); err != nil {
		s.fail("reset", key, err)
	}
}

// Close ends the session. Ephemeral snapshots are removed; persistent ones
// are kept for the next session.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.desc.Durability != Ephemeral {
		return
	}
	if err := s.ephemeral.Delete(s.desc.ScopeKey); err != nil {
		s.logger.Debug("ephemeral teardown failed", "key", s.desc.ScopeKey, "error", err)
	}
}

func (s *Store) backend() Backend {
	if s.desc.Durability == Persistent {
		return s.durable
	}
	return s.ephemeral
}

func (s *Store) fail(op, key string, err error) {
	perr := &PersistenceError{Op: op, Key: key, Err: err}
	s.logger.Warn("session persistence failed", "error", perr)
	if s.observer != nil {
		s.observer.ObservePersistenceFailure(op)
	}
}

func emptySnapshot() Snapshot {
	return Snapshot{Messages: []Message{}}
}
