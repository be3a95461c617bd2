// Package geocode resolves free-text place names through a Nominatim search endpoint.
package geocode

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"github.com/mohammed-shakir/geoquery-cache/internal/core/executor"
)

var (
	ErrEmptyQuery = errors.New("empty geocode query")
	ErrUpstream   = errors.New("geocode upstream failed")
)

const maxQueryLen = 256

type Place struct {
	Name string  `json:"name"`
	Lat  float64 `json:"latitude"`
	Lon  float64 `json:"longitude"`
}

type Client struct {
	exec    *executor.Executor
	base    *url.URL
	limiter *rate.Limiter
}

// New returns a client allowing rps requests per second with a burst of one.
// rps <= 0 disables limiting.
func New(exec *executor.Executor, baseURL string, rps float64) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse geocode url: %w", err)
	}
	lim := rate.NewLimiter(rate.Inf, 1)
	if rps > 0 {
		lim = rate.NewLimiter(rate.Limit(rps), 1)
	}
	return &Client{exec: exec, base: u, limiter: lim}, nil
}

type nominatimResult struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

// Search returns the best match for q. ok is false when nothing matched.
func (c *Client) Search(ctx context.Context, q string) (Place, bool, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return Place{}, false, ErrEmptyQuery
	}
	if len(q) > maxQueryLen {
		// cut on a rune boundary
		i := maxQueryLen
		for i > 0 && !utf8.RuneStart(q[i]) {
			i--
		}
		q = q[:i]
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return Place{}, false, fmt.Errorf("geocode rate limit: %w", err)
	}

	u := *c.base
	v := u.Query()
	v.Set("q", q)
	v.Set("format", "json")
	v.Set("limit", "1")
	u.RawQuery = v.Encode()

	var results []nominatimResult
	if err := c.exec.GetJSON(ctx, "nominatim", &u, &results); err != nil {
		return Place{}, false, fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	if len(results) == 0 {
		return Place{}, false, nil
	}

	r := results[0]
	lat, err := strconv.ParseFloat(r.Lat, 64)
	if err != nil {
		return Place{}, false, fmt.Errorf("%w: bad lat %q", ErrUpstream, r.Lat)
	}
	lon, err := strconv.ParseFloat(r.Lon, 64)
	if err != nil {
		return Place{}, false, fmt.Errorf("%w: bad lon %q", ErrUpstream, r.Lon)
	}
	return Place{
		Name: r.DisplayName,
		Lat:  lat,
		Lon:  lon,
	}, true, nil
}
