package invalidation_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/IBM/sarama"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohammed-shakir/geoquery-cache/internal/cache"
	"github.com/mohammed-shakir/geoquery-cache/internal/cache/cachetest"
	"github.com/mohammed-shakir/geoquery-cache/internal/cache/redisstore"
	"github.com/mohammed-shakir/geoquery-cache/internal/core/config"
	"github.com/mohammed-shakir/geoquery-cache/internal/core/model"
	"github.com/mohammed-shakir/geoquery-cache/internal/invalidation"
	"github.com/mohammed-shakir/geoquery-cache/internal/invalidation/kafkaconsumer"
)

func TestIntegration_Miniredis_DeleteAndMetrics(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	cli, err := redisstore.New(ctx, mr.Addr())
	if err != nil {
		t.Fatalf("redis: %v", err)
	}
	t.Cleanup(func() { _ = cli.Close() })
	store, err := redisstore.NewStore(cli, redisstore.WithClock(func() time.Time { return cachetest.Base }))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	houston := model.Point{Lat: 29.7604, Lon: -95.3698}
	dallas := model.Point{Lat: 32.7767, Lon: -96.7970}
	for _, e := range []cache.Entry{
		cachetest.Entry("hou-flood", model.Flood, houston, cachetest.Base, time.Hour),
		cachetest.Entry("hou-heat", model.Heat, houston, cachetest.Base, time.Hour),
		cachetest.Entry("dal-flood", model.Flood, dallas, cachetest.Base, time.Hour),
	} {
		if err := store.Insert(ctx, e); err != nil {
			t.Fatalf("Insert %s: %v", e.ID, err)
		}
	}

	cons := kafkaconsumer.New(
		kafkaconsumer.FromConfig(config.InvalidationCfg{Brokers: "x", Topic: "t", GroupID: "g"}),
		nil, nil, store,
	)

	ev := invalidation.Event{
		Version: 1, Op: "invalidate", DataType: "flood", TS: time.Now().UTC(),
		BBox: &invalidation.BBox{X1: -95.5, Y1: 29.6, X2: -95.2, Y2: 29.9, SRID: "EPSG:4326"},
	}
	body, _ := json.Marshal(ev)
	msg := &sarama.ConsumerMessage{Topic: "t", Partition: 0, Offset: 1, Value: body}
	if err := cons.ProcessOne(ctx, msg); err != nil {
		t.Fatalf("ProcessOne: %v", err)
	}

	find := func(d model.DataType, p model.Point) bool {
		_, ok, err := store.FindFresh(ctx, cache.Query{DataType: d, Point: p, Tolerance: 0.01, Now: cachetest.Base})
		if err != nil {
			t.Fatalf("FindFresh: %v", err)
		}
		return ok
	}
	if find(model.Flood, houston) {
		t.Fatal("houston flood entry should be invalidated")
	}
	if !find(model.Heat, houston) {
		t.Fatal("houston heat entry is outside the event's data type")
	}
	if !find(model.Flood, dallas) {
		t.Fatal("dallas flood entry is outside the region")
	}

	rr := httptest.NewRecorder()
	promhttp.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	bodyStr := rr.Body.String()
	for _, s := range []string{`geoquery_invalidations_total{status="ok"}`, "geoquery_invalidated_entries_total"} {
		if !strings.Contains(bodyStr, s) {
			t.Fatalf("metrics missing %q; got:\n%s", s, bodyStr)
		}
	}
}
