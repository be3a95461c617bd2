package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestLiveness_Handler(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()

	Liveness()(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rr.Code)
	}
	ct := rr.Header().Get("Content-Type")
	if !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("content-type=%q want text/plain", ct)
	}
	if got := strings.TrimSpace(rr.Body.String()); got != "ok" {
		t.Fatalf("body=%q want ok", got)
	}
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

type reporter struct {
	ready bool
	parts []int32
}

func (r reporter) Readiness() (bool, []int32) { return r.ready, r.parts }

func TestReadiness_AllReady(t *testing.T) {
	rr := httptest.NewRecorder()
	Readiness(Checks{Store: pinger{}, Consumer: reporter{ready: true, parts: []int32{0, 1}}})(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	var got readyResp
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Status != "ready" || len(got.Components["invalidation"].Partitions) != 2 {
		t.Fatalf("resp=%+v", got)
	}
}

func TestReadiness_StoreDownOrConsumerUnassigned(t *testing.T) {
	cases := map[string]Checks{
		"store":    {Store: pinger{err: errors.New("dial tcp: refused")}},
		"consumer": {Store: pinger{}, Consumer: reporter{}},
	}
	for name, c := range cases {
		rr := httptest.NewRecorder()
		Readiness(c)(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		if rr.Code != http.StatusServiceUnavailable {
			t.Fatalf("%s: status=%d", name, rr.Code)
		}
		if !strings.Contains(rr.Body.String(), `"not_ready"`) {
			t.Fatalf("%s: body=%s", name, rr.Body.String())
		}
	}
}
