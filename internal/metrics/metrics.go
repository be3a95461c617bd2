// Package metrics serves the Prometheus registry of the gateway.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type BuildInfo struct {
	Version   string
	Revision  string
	Branch    string
	BuildDate string
}

type Config struct {
	Build       BuildInfo
	StoreDriver string
}

// Provider serves its own registry merged with the default one, where the
// observability collectors and the Go/process collectors live.
type Provider struct {
	reg *prometheus.Registry
}

func Init(cfg Config) *Provider {
	reg := prometheus.NewRegistry()

	build := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "geoquery_build_info",
			Help: "Build and store driver of this gateway (value is always 1).",
		},
		[]string{"version", "revision", "branch", "build_date", "store"},
	)
	reg.MustRegister(build)
	v := cfg.Build
	if v.Version == "" {
		v.Version = "dev"
	}
	build.WithLabelValues(v.Version, v.Revision, v.Branch, v.BuildDate, cfg.StoreDriver).Set(1)

	return &Provider{reg: reg}
}

func (p *Provider) Handler() http.Handler {
	return promhttp.HandlerFor(
		prometheus.Gatherers{p.reg, prometheus.DefaultGatherer},
		promhttp.HandlerOpts{ErrorHandling: promhttp.ContinueOnError},
	)
}

func (p *Provider) Register(cs ...prometheus.Collector) {
	for _, c := range cs {
		p.reg.MustRegister(c)
	}
}

// GaugeFunc registers a gauge read from fn at scrape time, e.g. the size of an
// in-process store.
func (p *Provider) GaugeFunc(name, help string, fn func() float64) {
	p.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, fn))
}
