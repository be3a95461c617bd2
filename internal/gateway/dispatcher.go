// Package gateway resolves (data type, coordinate) requests against the spatial cache,
// fetching and writing through on a miss.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/mohammed-shakir/geoquery-cache/internal/cache"
	"github.com/mohammed-shakir/geoquery-cache/internal/core/config"
	"github.com/mohammed-shakir/geoquery-cache/internal/core/model"
	"github.com/mohammed-shakir/geoquery-cache/internal/core/observability"
	"github.com/mohammed-shakir/geoquery-cache/internal/hotness"
	"github.com/mohammed-shakir/geoquery-cache/internal/logger"
	h3mapper "github.com/mohammed-shakir/geoquery-cache/internal/mapper/h3"
)

var (
	// ErrInvalidRequest is returned before any I/O for a bad tag or coordinates.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrStoreUnavailable wraps any cache store failure.
	ErrStoreUnavailable = errors.New("cache store unavailable")
)

// Fetcher is the registry seen by the dispatcher.
type Fetcher interface {
	Fetch(ctx context.Context, d model.DataType, p model.Point) (model.Payload, error)
}

// Request mirrors the inbound body; nil coordinates mean "missing".
type Request struct {
	DataType  string   `json:"dataType"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

type Result struct {
	Payload model.Payload `json:"data"`
	Cached  bool          `json:"cached"`
}

// Policy holds the per data type freshness window and proximity tolerance.
type Policy struct {
	Freshness func(model.DataType) time.Duration
	Tolerance func(model.DataType) float64
}

// PolicyFromConfig reads both knobs from cfg.
func PolicyFromConfig(cfg config.Config) Policy {
	return Policy{
		Freshness: func(d model.DataType) time.Duration { return cfg.Freshness(string(d)) },
		Tolerance: func(d model.DataType) float64 { return cfg.Tolerance(string(d)) },
	}
}

func (p Policy) freshness(d model.DataType) time.Duration {
	if p.Freshness != nil {
		if w := p.Freshness(d); w > 0 {
			return w
		}
	}
	return config.DefaultFreshness
}

func (p Policy) tolerance(d model.DataType) float64 {
	if p.Tolerance != nil {
		if t := p.Tolerance(d); t > 0 {
			return t
		}
	}
	return config.DefaultTolerance
}

type Option func(*Dispatcher)

func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

func WithPolicy(p Policy) Option {
	return func(d *Dispatcher) { d.policy = p }
}

// WithDemand records every valid resolve in the tracker, keyed by H3 cell.
func WithDemand(h hotness.Interface) Option {
	return func(d *Dispatcher) { d.demand = h }
}

func WithStoreTimeout(t time.Duration) Option {
	return func(d *Dispatcher) { d.storeTimeout = t }
}

func WithClock(fn func() time.Time) Option {
	return func(d *Dispatcher) {
		if fn != nil {
			d.now = fn
		}
	}
}

func WithIDs(fn func() string) Option {
	return func(d *Dispatcher) {
		if fn != nil {
			d.newID = fn
		}
	}
}

type Dispatcher struct {
	store        cache.Store
	fetcher      Fetcher
	logger       *slog.Logger
	policy       Policy
	demand       hotness.Interface
	mapper       *h3mapper.Mapper
	storeTimeout time.Duration
	now          func() time.Time
	newID        func() string
}

func New(store cache.Store, fetcher Fetcher, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:   store,
		fetcher: fetcher,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		mapper:  h3mapper.New(),
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Resolve returns a fresh cached payload near the point, or fetches, stores and
// returns a new one. Concurrent misses for one place may each fetch and insert.
func (d *Dispatcher) Resolve(ctx context.Context, req Request) (Result, error) {
	dt, p, err := validate(req)
	if err != nil {
		return Result{}, err
	}
	// request_id and data_type reach log lines through ctx
	ctx = logger.WithDataType(ctx, string(dt))

	tol := d.policy.tolerance(dt)
	d.recordDemand(dt, p, tol)

	now := d.now().UTC().Truncate(time.Microsecond)
	hit, found, err := d.find(ctx, cache.Query{DataType: dt, Point: p, Tolerance: tol, Now: now})
	if err != nil {
		d.logger.ErrorContext(ctx, "cache lookup failed", "point", p.String(), "err", err)
		return Result{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	if found {
		observability.IncCacheHit(string(dt))
		d.logger.DebugContext(logger.WithCacheStatus(ctx, "hit"), "cache hit", "entry", hit.ID, "fetched_at", hit.FetchedAt)
		return Result{Payload: hit.Payload, Cached: true}, nil
	}
	observability.IncCacheMiss(string(dt))
	ctx = logger.WithCacheStatus(ctx, "miss")

	payload, err := d.fetcher.Fetch(ctx, dt, p)
	if err != nil {
		return Result{}, fmt.Errorf("fetch %s: %w", dt, err)
	}

	e := cache.Entry{
		ID:        d.newID(),
		DataType:  dt,
		Point:     p,
		Payload:   payload,
		FetchedAt: now,
		ExpiresAt: now.Add(d.policy.freshness(dt)),
	}
	if err := d.insert(ctx, e); err != nil {
		d.logger.ErrorContext(ctx, "cache insert failed", "point", p.String(), "err", err)
		return Result{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	d.logger.DebugContext(ctx, "cache miss stored", "entry", e.ID,
		"provenance", string(payload.Meta().Provenance))
	return Result{Payload: payload, Cached: false}, nil
}

func (d *Dispatcher) find(ctx context.Context, q cache.Query) (cache.Entry, bool, error) {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()
	return d.store.FindFresh(ctx, q)
}

func (d *Dispatcher) insert(ctx context.Context, e cache.Entry) error {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()
	return d.store.Insert(ctx, e)
}

// returns context with timeout if set
func (d *Dispatcher) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.storeTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d.storeTimeout)
}

func (d *Dispatcher) recordDemand(dt model.DataType, p model.Point, tol float64) {
	if d.demand == nil {
		return
	}
	cell, err := d.mapper.Cell(p, d.mapper.ResolutionFor(tol))
	if err != nil {
		d.logger.Warn("demand cell", "err", err)
		return
	}
	d.demand.Inc(hotness.Key(dt, cell))
}

func validate(req Request) (model.DataType, model.Point, error) {
	dt, err := model.ParseDataType(req.DataType)
	if err != nil {
		return "", model.Point{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if req.Latitude == nil || req.Longitude == nil {
		return "", model.Point{}, fmt.Errorf("%w: latitude and longitude are required", ErrInvalidRequest)
	}
	lat, lon := *req.Latitude, *req.Longitude
	if math.IsNaN(lat) || math.IsInf(lat, 0) || math.IsNaN(lon) || math.IsInf(lon, 0) {
		return "", model.Point{}, fmt.Errorf("%w: coordinates must be finite numbers", ErrInvalidRequest)
	}
	if lat < -90 || lat > 90 {
		return "", model.Point{}, fmt.Errorf("%w: latitude %v out of range [-90, 90]", ErrInvalidRequest, lat)
	}
	if lon < -180 || lon > 180 {
		return "", model.Point{}, fmt.Errorf("%w: longitude %v out of range [-180, 180]", ErrInvalidRequest, lon)
	}
	return dt, model.Point{Lat: lat, Lon: lon}, nil
}
