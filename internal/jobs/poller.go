package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

const (
	// DefaultInterval is the wait between two status requests.
	DefaultInterval = time.Second
	// DefaultMaxAttempts bounds the number of status requests per resolution.
	DefaultMaxAttempts = 20
)

var (
	// ErrJobFailed is returned when the backend reports the job as failed.
	ErrJobFailed = errors.New("job failed")
	// ErrJobTimeout is returned when attempts run out before a terminal status.
	ErrJobTimeout = errors.New("job did not finish in time")
)

// Job states reported by the status endpoint. Anything else is still pending.
const (
	StatusPending  = "pending"
	StatusFinished = "finished"
	StatusFailed   = "failed"
)

// Status mirrors the JSON returned by the job status endpoint.
type Status struct {
	JobID  string          `json:"job_id"`
	Status string          `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
}

// HasResult reports whether the status carries a non-null result.
func (s Status) HasResult() bool {
	r := bytes.TrimSpace(s.Result)
	return len(r) > 0 && !bytes.Equal(r, []byte("null"))
}

// StatusFetcher requests the current status of a queued job.
type StatusFetcher interface {
	JobStatus(ctx context.Context, jobID string) (Status, error)
}

// Resolution outcomes reported to Observer.ObserveResolution.
const (
	ResolutionFinished = "finished"
	ResolutionFailed   = "failed"
	ResolutionTimeout  = "timeout"
	ResolutionError    = "error"
)

// Observer receives one ObservePoll per status request and one
// ObserveResolution per queued job. Optional.
type Observer interface {
	ObservePoll(status string)
	ObserveResolution(result string, attempts int)
}

// Poller turns either an immediate payload or a job handle into one result.
// It holds no per-resolution state, so one Poller may serve many callers.
type Poller struct {
	fetcher     StatusFetcher
	interval    time.Duration
	maxAttempts int
	wait        func(ctx context.Context, d time.Duration) error
	observer    Observer
	logger      *slog.Logger
}

// Option configures a Poller.
type Option func(*Poller)

// WithInterval sets the wait between status requests.
func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithMaxAttempts sets the number of status requests before ErrJobTimeout.
func WithMaxAttempts(n int) Option {
	return func(p *Poller) {
		if n > 0 {
			p.maxAttempts = n
		}
	}
}

// WithObserver attaches a poll observer (metrics).
func WithObserver(o Observer) Option {
	return func(p *Poller) { p.observer = o }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Poller) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewPoller creates a Poller with a 1s interval and 20 attempts unless overridden.
func NewPoller(fetcher StatusFetcher, opts ...Option) *Poller {
	p := &Poller{
		fetcher:     fetcher,
		interval:    DefaultInterval,
		maxAttempts: DefaultMaxAttempts,
		wait:        sleep,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type handle struct {
	JobID string `json:"job_id"`
}

// JobID extracts the job handle from a response body. Bodies that are not
// JSON objects, or objects without a non-empty job_id, yield "".
func JobID(body json.RawMessage) string {
	b := bytes.TrimSpace(body)
	if len(b) == 0 || b[0] != '{' {
		return ""
	}
	var h handle
	if err := json.Unmarshal(b, &h); err != nil {
		return ""
	}
	return h.JobID
}

// Resolve returns initial unchanged when it carries no job_id. Otherwise it
// polls the status endpoint sequentially until the job finishes with a
// result, fails, or attempts run out.
func (p *Poller) Resolve(ctx context.Context, initial json.RawMessage) (json.RawMessage, error) {
	jobID := JobID(initial)
	if jobID == "" {
		return initial, nil
	}

	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		st, err := p.fetcher.JobStatus(ctx, jobID)
		if err != nil {
			p.resolved(ResolutionError, attempt)
			return nil, fmt.Errorf("polling job %s: %w", jobID, err)
		}
		if p.observer != nil {
			p.observer.ObservePoll(st.Status)
		}

		switch {
		case st.Status == StatusFinished && st.HasResult():
			p.logger.Debug("job finished", "job_id", jobID, "attempts", attempt)
			p.resolved(ResolutionFinished, attempt)
			return st.Result, nil
		case st.Status == StatusFailed:
			p.resolved(ResolutionFailed, attempt)
			return nil, fmt.Errorf("job %s: %w", jobID, ErrJobFailed)
		}

		if attempt == p.maxAttempts {
			break
		}
		if err := p.wait(ctx, p.interval); err != nil {
			p.resolved(ResolutionError, attempt)
			return nil, fmt.Errorf("waiting for job %s: %w", jobID, err)
		}
	}

	p.resolved(ResolutionTimeout, p.maxAttempts)
	return nil, fmt.Errorf("job %s after %d attempts: %w", jobID, p.maxAttempts, ErrJobTimeout)
}

func (p *Poller) resolved(result string, attempts int) {
	if p.observer != nil {
		p.observer.ObserveResolution(result, attempts)
	}
}

// ResolveInto resolves initial and decodes the result into T.
func ResolveInto[T any](ctx context.Context, p *Poller, initial json.RawMessage) (T, error) {
	var out T
	raw, err := p.Resolve(ctx, initial)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decoding job result: %w", err)
	}
	return out, nil
}
