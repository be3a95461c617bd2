// Package fetcher maps data-type tags to the upstream that produces their payload.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/mohammed-shakir/geoquery-cache/internal/core/model"
)

// ErrUpstreamUnavailable marks a failed upstream call. Fetchers absorb it into a
// synthetic fallback and only log it.
var ErrUpstreamUnavailable = errors.New("upstream unavailable")

// Fetcher produces a payload for one data type. It never fails.
type Fetcher interface {
	Fetch(ctx context.Context, p model.Point) model.Payload
}

type FetcherFunc func(ctx context.Context, p model.Point) model.Payload

func (f FetcherFunc) Fetch(ctx context.Context, p model.Point) model.Payload { return f(ctx, p) }

type Registry struct {
	mu       sync.RWMutex
	fetchers map[model.DataType]Fetcher
}

func NewRegistry() *Registry {
	return &Registry{fetchers: make(map[model.DataType]Fetcher)}
}

func (r *Registry) Register(d model.DataType, f Fetcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fetchers[d] = f
}

// Fetch errors only when nothing is registered for d.
func (r *Registry) Fetch(ctx context.Context, d model.DataType, p model.Point) (model.Payload, error) {
	r.mu.RLock()
	f, ok := r.fetchers[d]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no fetcher registered for %q", d)
	}
	return f.Fetch(ctx, p), nil
}

// env holds the collaborators every fetcher shares.
type env struct {
	logger *slog.Logger
	rand   func() float64
	now    func() time.Time
}

type Option func(*env)

func WithLogger(l *slog.Logger) Option {
	return func(e *env) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithRand replaces the [0,1) source used for synthetic values.
func WithRand(fn func() float64) Option {
	return func(e *env) {
		if fn != nil {
			e.rand = fn
		}
	}
}

func WithClock(fn func() time.Time) Option {
	return func(e *env) {
		if fn != nil {
			e.now = fn
		}
	}
}

func newEnv(opts ...Option) env {
	e := env{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		rand:   rand.Float64,
		now:    time.Now,
	}
	for _, o := range opts {
		o(&e)
	}
	return e
}

func (e env) record(source string, prov model.Provenance) model.Record {
	return model.Record{Source: source, Provenance: prov, LastUpdated: e.now().UTC()}
}
