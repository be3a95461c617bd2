package fetcher

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"strconv"

	"github.com/mohammed-shakir/geoquery-cache/internal/core/executor"
	"github.com/mohammed-shakir/geoquery-cache/internal/core/model"
	"github.com/mohammed-shakir/geoquery-cache/internal/core/observability"
)

const (
	HeatSource = "NASA POWER API"

	// POWER marks missing samples with this value
	powerFill = -999.0
)

// Heat reads a trailing window of daily 2 m temperatures from NASA POWER.
type Heat struct {
	exec   *executor.Executor
	base   *url.URL
	window int
	env    env
}

func NewHeat(exec *executor.Executor, baseURL string, windowDays int, opts ...Option) (*Heat, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse heat url: %w", err)
	}
	if windowDays <= 0 {
		windowDays = 30
	}
	return &Heat{exec: exec, base: u, window: windowDays, env: newEnv(opts...)}, nil
}

type powerResponse struct {
	Properties struct {
		Parameter map[string]map[string]float64 `json:"parameter"`
	} `json:"properties"`
}

func (h *Heat) Fetch(ctx context.Context, p model.Point) model.Payload {
	out, err := h.measure(ctx, p)
	if err != nil {
		h.env.logger.Warn("heat upstream failed, using synthetic fallback",
			"point", p.String(), "err", err)
		observability.IncFetchFallback(string(model.Heat))
		return h.fallback()
	}
	return out
}

func (h *Heat) measure(ctx context.Context, p model.Point) (model.HeatPayload, error) {
	end := h.env.now().UTC()
	start := end.AddDate(0, 0, -h.window)

	u := *h.base
	q := u.Query()
	q.Set("parameters", "T2M,ALLSKY_SFC_SW_DWN")
	q.Set("community", "RE")
	q.Set("longitude", strconv.FormatFloat(p.Lon, 'f', -1, 64))
	q.Set("latitude", strconv.FormatFloat(p.Lat, 'f', -1, 64))
	q.Set("start", start.Format("20060102"))
	q.Set("end", end.Format("20060102"))
	q.Set("format", "JSON")
	u.RawQuery = q.Encode()

	var body powerResponse
	if err := h.exec.GetJSON(ctx, "nasa_power", &u, &body); err != nil {
		return model.HeatPayload{}, fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	}

	sum, maxT, n := 0.0, math.Inf(-1), 0
	for _, v := range body.Properties.Parameter["T2M"] {
		if v <= powerFill || math.IsNaN(v) {
			continue
		}
		sum += v
		maxT = math.Max(maxT, v)
		n++
	}
	if n == 0 {
		return model.HeatPayload{}, fmt.Errorf("%w: no usable T2M samples", ErrUpstreamUnavailable)
	}

	return model.HeatPayload{
		AvgTemperature: sum / float64(n),
		MaxTemperature: maxT,
		HeatIndex:      ClassifyHeat(maxT),
		Record:         h.env.record(HeatSource, model.Real),
	}, nil
}

func (h *Heat) fallback() model.HeatPayload {
	maxT := 32 + h.env.rand()*15
	return model.HeatPayload{
		AvgTemperature: 28 + h.env.rand()*10,
		MaxTemperature: maxT,
		HeatIndex:      ClassifyHeat(maxT),
		Record:         h.env.record(model.FallbackSource, model.Synthetic),
	}
}
