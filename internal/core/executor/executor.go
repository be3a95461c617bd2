// Package executor performs upstream HTTP calls and decodes their JSON bodies.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/mohammed-shakir/geoquery-cache/internal/core/observability"
)

// ErrStatus is wrapped by GetJSON for non-2xx upstream responses.
var ErrStatus = errors.New("upstream status")

const maxBody = 4 << 20

type Executor struct {
	logger    *slog.Logger
	client    *http.Client
	userAgent string
	startNow  func() time.Time // for tests
}

func New(logger *slog.Logger, client *http.Client, userAgent string) *Executor {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Executor{
		logger:    logger,
		client:    client,
		userAgent: userAgent,
		startNow:  time.Now,
	}
}

// GetJSON issues a GET against u and decodes the body into out. upstream labels the
// latency histogram.
func (e *Executor) GetJSON(ctx context.Context, upstream string, u *url.URL, out any) (err error) {
	start := e.startNow()
	defer func() {
		observability.ObserveUpstreamLatency(upstream, err, time.Since(start).Seconds())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if e.userAgent != "" {
		req.Header.Set("User-Agent", e.userAgent)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		return fmt.Errorf("%w %d: %s", ErrStatus, resp.StatusCode, string(b))
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBody)).Decode(out); err != nil {
		return fmt.Errorf("decode %s body: %w", upstream, err)
	}
	e.logger.Debug("upstream done",
		"upstream", upstream,
		"status", resp.StatusCode,
		"duration", time.Since(start).String())
	return nil
}
