package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type ReadinessReporter interface {
	Readiness() (ready bool, partitions []int32)
}

// Checks lists what /readyz inspects. A nil Consumer means invalidation is off.
type Checks struct {
	Store    Pinger
	Consumer ReadinessReporter
	Timeout  time.Duration
}

type component struct {
	Status     string  `json:"status"`
	Error      string  `json:"error,omitempty"`
	Partitions []int32 `json:"partitions,omitempty"`
}

type readyResp struct {
	Status     string               `json:"status"`
	Components map[string]component `json:"components"`
}

func Readiness(c Checks) http.HandlerFunc {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return func(w http.ResponseWriter, r *http.Request) {
		out := readyResp{Status: "ready", Components: map[string]component{}}

		if c.Store != nil {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			err := c.Store.Ping(ctx)
			cancel()
			if err != nil {
				out.Status = "not_ready"
				out.Components["store"] = component{Status: "not_ready", Error: err.Error()}
			} else {
				out.Components["store"] = component{Status: "ready"}
			}
		}

		if c.Consumer != nil {
			ready, parts := c.Consumer.Readiness()
			if ready {
				out.Components["invalidation"] = component{Status: "ready", Partitions: parts}
			} else {
				out.Status = "not_ready"
				out.Components["invalidation"] = component{Status: "not_ready"}
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if out.Status != "ready" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(out)
	}
}
