package fetcher

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/mohammed-shakir/geoquery-cache/internal/core/executor"
	"github.com/mohammed-shakir/geoquery-cache/internal/core/model"
	"github.com/mohammed-shakir/geoquery-cache/internal/core/observability"
)

const FloodSource = "Open-Elevation API"

// Flood derives flood risk from point elevation.
type Flood struct {
	exec *executor.Executor
	base *url.URL
	env  env
}

func NewFlood(exec *executor.Executor, baseURL string, opts ...Option) (*Flood, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse elevation url: %w", err)
	}
	return &Flood{exec: exec, base: u, env: newEnv(opts...)}, nil
}

type elevationResponse struct {
	Results []struct {
		Elevation *float64 `json:"elevation"`
	} `json:"results"`
}

func (f *Flood) Fetch(ctx context.Context, p model.Point) model.Payload {
	out, err := f.measure(ctx, p)
	if err != nil {
		f.env.logger.Warn("elevation upstream failed, using synthetic fallback",
			"point", p.String(), "err", err)
		observability.IncFetchFallback(string(model.Flood))
		return f.fallback()
	}
	return out
}

func (f *Flood) measure(ctx context.Context, p model.Point) (model.FloodPayload, error) {
	u := *f.base
	q := u.Query()
	q.Set("locations", strconv.FormatFloat(p.Lat, 'f', -1, 64)+","+strconv.FormatFloat(p.Lon, 'f', -1, 64))
	u.RawQuery = q.Encode()

	var body elevationResponse
	if err := f.exec.GetJSON(ctx, "open_elevation", &u, &body); err != nil {
		return model.FloodPayload{}, fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	}
	if len(body.Results) == 0 || body.Results[0].Elevation == nil {
		return model.FloodPayload{}, fmt.Errorf("%w: empty elevation result", ErrUpstreamUnavailable)
	}
	return f.payload(*body.Results[0].Elevation, f.env.record(FloodSource, model.Real)), nil
}

func (f *Flood) fallback() model.FloodPayload {
	return f.payload(50+f.env.rand()*100, f.env.record(model.FallbackSource, model.Synthetic))
}

func (f *Flood) payload(elev float64, rec model.Record) model.FloodPayload {
	risk, drainage := ClassifyFlood(elev)
	return model.FloodPayload{
		Elevation:        elev,
		FloodRisk:        risk,
		DrainageCapacity: drainage,
		Record:           rec,
	}
}
