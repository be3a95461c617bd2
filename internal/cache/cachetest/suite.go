// Package cachetest holds behaviour checks every cache driver must pass.
package cachetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/mohammed-shakir/geoquery-cache/internal/cache"
	"github.com/mohammed-shakir/geoquery-cache/internal/core/model"
)

// Base is a whole second so drivers that truncate timestamps still compare equal.
var Base = time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)

func Entry(id string, d model.DataType, p model.Point, fetched time.Time, ttl time.Duration) cache.Entry {
	var payload model.Payload
	rec := model.Record{Source: "test", Provenance: model.Real, LastUpdated: fetched}
	switch d {
	case model.Heat:
		payload = model.HeatPayload{AvgTemperature: 30, MaxTemperature: 36, HeatIndex: "critical", Record: rec}
	case model.Flood:
		payload = model.FloodPayload{Elevation: 4.2, FloodRisk: "high", DrainageCapacity: "poor", Record: rec}
	case model.AirQuality:
		payload = model.AirQualityPayload{AQI: 80, PM25: 20, NO2: 30, O3: 40, Status: "good", Note: "n", Record: rec}
	default:
		payload = model.UrbanGrowthPayload{BuiltUpArea: 50, VegetationIndex: 0.5, ChangeDetection: map[string]string{"2015-2020": "stable"}, LandUseType: "mixed_urban", Note: "n", Record: rec}
	}
	return cache.Entry{ID: id, DataType: d, Point: p, Payload: payload, FetchedAt: fetched, ExpiresAt: fetched.Add(ttl)}
}

// Factory returns an empty store. Stores whose clock matters may ignore it; queries
// always carry an explicit Now.
type Factory func(t *testing.T) cache.Store

func Run(t *testing.T, newStore Factory) {
	t.Run("InsertThenFind", func(t *testing.T) { insertThenFind(t, newStore(t)) })
	t.Run("NewestWins", func(t *testing.T) { newestWins(t, newStore(t)) })
	t.Run("FiltersTypeDistanceAndFreshness", func(t *testing.T) { filters(t, newStore(t)) })
	t.Run("RejectsInvalid", func(t *testing.T) { rejectsInvalid(t, newStore(t)) })
	t.Run("PurgeExpired", func(t *testing.T) { purge(t, newStore(t)) })
	t.Run("DeleteRegion", func(t *testing.T) { deleteRegion(t, newStore(t)) })
}

var houston = model.Point{Lat: 29.7604, Lon: -95.3698}

func query(d model.DataType, p model.Point, now time.Time) cache.Query {
	return cache.Query{DataType: d, Point: p, Tolerance: 0.01, Now: now}
}

func insertThenFind(t *testing.T, s cache.Store) {
	ctx := context.Background()
	for i, d := range model.DataTypes {
		e := Entry(fmt.Sprintf("e%d", i), d, houston, Base, time.Hour)
		if err := s.Insert(ctx, e); err != nil {
			t.Fatalf("Insert %s: %v", d, err)
		}
	}
	for i, d := range model.DataTypes {
		got, ok, err := s.FindFresh(ctx, query(d, model.Point{Lat: 29.7605, Lon: -95.3699}, Base.Add(time.Minute)))
		if err != nil || !ok {
			t.Fatalf("FindFresh %s: ok=%v err=%v", d, ok, err)
		}
		want := Entry(fmt.Sprintf("e%d", i), d, houston, Base, time.Hour)
		if diff := cmp.Diff(want, got, cmp.Comparer(func(a, b time.Time) bool { return a.Equal(b) })); diff != "" {
			t.Fatalf("%s entry mismatch (-want +got):\n%s", d, diff)
		}
	}
}

func newestWins(t *testing.T, s cache.Store) {
	ctx := context.Background()
	older := Entry("old", model.Heat, houston, Base, 2*time.Hour)
	newer := Entry("new", model.Heat, model.Point{Lat: houston.Lat + 0.005, Lon: houston.Lon}, Base.Add(10*time.Minute), time.Hour)
	for _, e := range []cache.Entry{newer, older} {
		if err := s.Insert(ctx, e); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	got, ok, err := s.FindFresh(ctx, query(model.Heat, houston, Base.Add(20*time.Minute)))
	if err != nil || !ok {
		t.Fatalf("FindFresh: ok=%v err=%v", ok, err)
	}
	if got.ID != "new" {
		t.Fatalf("got %q want newest entry", got.ID)
	}
}

func filters(t *testing.T, s cache.Store) {
	ctx := context.Background()
	if err := s.Insert(ctx, Entry("h", model.Heat, houston, Base, time.Hour)); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	cases := map[string]cache.Query{
		"other type": query(model.Flood, houston, Base.Add(time.Minute)),
		"too far":    query(model.Heat, model.Point{Lat: houston.Lat + 0.011, Lon: houston.Lon}, Base.Add(time.Minute)),
		"far lon":    query(model.Heat, model.Point{Lat: houston.Lat, Lon: houston.Lon - 0.02}, Base.Add(time.Minute)),
		"expired":    query(model.Heat, houston, Base.Add(time.Hour)),
	}
	for name, q := range cases {
		if _, ok, err := s.FindFresh(ctx, q); err != nil || ok {
			t.Fatalf("%s: ok=%v err=%v, want miss", name, ok, err)
		}
	}
	if _, ok, err := s.FindFresh(ctx, query(model.Heat, model.Point{Lat: houston.Lat + 0.009, Lon: houston.Lon - 0.009}, Base.Add(59*time.Minute))); err != nil || !ok {
		t.Fatalf("inside box: ok=%v err=%v, want hit", ok, err)
	}
}

func rejectsInvalid(t *testing.T, s cache.Store) {
	e := Entry("x", model.Heat, houston, Base, time.Hour)
	e.ExpiresAt = e.FetchedAt
	if err := s.Insert(context.Background(), e); err == nil {
		t.Fatal("expected error for non-positive freshness window")
	}
}

func purge(t *testing.T, s cache.Store) {
	p, ok := s.(cache.Purger)
	if !ok {
		t.Skip("driver does not purge")
	}
	ctx := context.Background()
	_ = s.Insert(ctx, Entry("short", model.Heat, houston, Base, time.Minute))
	_ = s.Insert(ctx, Entry("long", model.Heat, houston, Base, time.Hour))

	n, err := p.PurgeExpired(ctx, Base.Add(30*time.Minute))
	if err != nil {
		t.Fatalf("PurgeExpired: %v", err)
	}
	if n != 1 {
		t.Fatalf("purged=%d want 1", n)
	}
	got, ok, err := s.FindFresh(ctx, query(model.Heat, houston, Base.Add(30*time.Minute)))
	if err != nil || !ok || got.ID != "long" {
		t.Fatalf("survivor: %+v ok=%v err=%v", got, ok, err)
	}
}

func deleteRegion(t *testing.T, s cache.Store) {
	d, ok := s.(cache.RegionDeleter)
	if !ok {
		t.Skip("driver does not delete regions")
	}
	ctx := context.Background()
	stockholm := model.Point{Lat: 59.3293, Lon: 18.0686}
	_ = s.Insert(ctx, Entry("hou-flood", model.Flood, houston, Base, time.Hour))
	_ = s.Insert(ctx, Entry("hou-heat", model.Heat, houston, Base, time.Hour))
	_ = s.Insert(ctx, Entry("sto-flood", model.Flood, stockholm, Base, time.Hour))

	bb := model.BBox{X1: -96, Y1: 29, X2: -95, Y2: 30, SRID: "EPSG:4326"}
	n, err := d.DeleteRegion(ctx, model.Flood, bb)
	if err != nil {
		t.Fatalf("DeleteRegion: %v", err)
	}
	if n != 1 {
		t.Fatalf("deleted=%d want 1", n)
	}
	now := Base.Add(time.Minute)
	if _, ok, _ := s.FindFresh(ctx, query(model.Flood, houston, now)); ok {
		t.Fatal("houston flood entry should be gone")
	}
	if _, ok, _ := s.FindFresh(ctx, query(model.Heat, houston, now)); !ok {
		t.Fatal("houston heat entry should survive")
	}
	if _, ok, _ := s.FindFresh(ctx, query(model.Flood, stockholm, now)); !ok {
		t.Fatal("stockholm flood entry should survive")
	}
}
