package fetcher

import (
	"fmt"

	"github.com/mohammed-shakir/geoquery-cache/internal/core/config"
	"github.com/mohammed-shakir/geoquery-cache/internal/core/executor"
	"github.com/mohammed-shakir/geoquery-cache/internal/core/model"
)

// NewDefault registers a fetcher for every supported data type.
func NewDefault(cfg config.UpstreamCfg, exec *executor.Executor, opts ...Option) (*Registry, error) {
	heat, err := NewHeat(exec, cfg.HeatURL, cfg.HeatWindowDays, opts...)
	if err != nil {
		return nil, fmt.Errorf("heat fetcher: %w", err)
	}
	flood, err := NewFlood(exec, cfg.ElevationURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("flood fetcher: %w", err)
	}

	r := NewRegistry()
	r.Register(model.Heat, heat)
	r.Register(model.Flood, flood)
	r.Register(model.AirQuality, NewAirQuality(opts...))
	r.Register(model.UrbanGrowth, NewUrbanGrowth(opts...))
	return r, nil
}
