// Package metricswrap wraps the demand tracker with Prometheus metrics.
package metricswrap

import (
	"fmt"
	"io"
	"log/slog"

	xx "github.com/cespare/xxhash/v2"

	"github.com/mohammed-shakir/geoquery-cache/internal/core/observability"
	"github.com/mohammed-shakir/geoquery-cache/internal/hotness"
)

type Sizer interface{ Size() int }

type WithMetrics struct {
	inner     hotness.Interface
	logger    *slog.Logger
	threshold float64
	logSample float64
}

// New wraps inner. Keys whose score reaches threshold are logged for a
// deterministic logSample fraction of keys; threshold <= 0 disables logging.
func New(inner hotness.Interface, logger *slog.Logger, threshold, logSample float64) *WithMetrics {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &WithMetrics{inner: inner, logger: logger, threshold: threshold, logSample: logSample}
}

func (w *WithMetrics) Inc(key string) {
	w.inner.Inc(key)
	if w.threshold > 0 {
		score := w.inner.Score(key)
		if score >= w.threshold && shouldLog(w.logSample, key) {
			w.logger.Info("hot key above threshold",
				"event", "hotness_threshold",
				"score", score,
				"key", key,
				"key_hash", fmt.Sprintf("%08x", xx.Sum64String(key)))
		}
	}
	w.updateGauge()
}

func (w *WithMetrics) Score(key string) float64 {
	return w.inner.Score(key)
}

func (w *WithMetrics) Top(n int) []hotness.Scored {
	return w.inner.Top(n)
}

// Prune forwards to the inner tracker when it supports pruning.
func (w *WithMetrics) Prune(floor float64) int {
	p, ok := w.inner.(interface{ Prune(float64) int })
	if !ok {
		return 0
	}
	n := p.Prune(floor)
	w.updateGauge()
	return n
}

func (w *WithMetrics) updateGauge() {
	if s, ok := w.inner.(Sizer); ok {
		observability.SetHotKeysGauge(s.Size())
	}
}

func shouldLog(sample float64, key string) bool {
	if sample <= 0 {
		return false
	}
	if sample >= 1 {
		return true
	}
	const denom = 10000 // 0.01 => 100/10000
	threshold := uint64(sample*denom + 0.5)
	if threshold == 0 {
		return false
	}
	h := xx.Sum64String(key)
	return (h % denom) < threshold
}
