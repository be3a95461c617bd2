package model

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestParseDataType(t *testing.T) {
	for _, d := range DataTypes {
		got, err := ParseDataType(" " + string(d) + " ")
		if err != nil {
			t.Fatalf("ParseDataType(%q): %v", d, err)
		}
		if got != d {
			t.Fatalf("got %q want %q", got, d)
		}
	}
	if _, err := ParseDataType("bogus"); err == nil {
		t.Fatal("expected error for bogus data type")
	}
	if _, err := ParseDataType(""); err == nil {
		t.Fatal("expected error for empty data type")
	}
}

func TestBBox_ContainsEdges(t *testing.T) {
	bb := Around(Point{Lat: 10, Lon: 20}, 0.5)
	if !bb.Contains(Point{Lat: 10.5, Lon: 19.5}) {
		t.Fatal("edge point should be inside")
	}
	if bb.Contains(Point{Lat: 10.51, Lon: 20}) {
		t.Fatal("point past the edge should be outside")
	}
}

func TestHeatPayload_JSONShape(t *testing.T) {
	p := HeatPayload{
		AvgTemperature: 31.5,
		MaxTemperature: 36.1,
		HeatIndex:      "critical",
		Record: Record{
			Source:      "NASA POWER API",
			Provenance:  Real,
			LastUpdated: time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC),
		},
	}
	b, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(b)
	for _, want := range []string{`"avgTemperature":31.5`, `"heatIndex":"critical"`, `"source":"NASA POWER API"`, `"provenance":"real"`, `"lastUpdated":"2025-07-01T12:00:00Z"`} {
		if !strings.Contains(s, want) {
			t.Fatalf("missing %s in %s", want, s)
		}
	}
}

func TestDecodePayload_PicksVariantByType(t *testing.T) {
	want := UrbanGrowthPayload{
		BuiltUpArea:     55,
		VegetationIndex: 0.42,
		ChangeDetection: map[string]string{"2015-2020": "stable", "2020-2025": "rapid_growth"},
		LandUseType:     "mixed_urban",
		Note:            "n",
		Record:          Record{Source: "Simulated Landsat Analysis", Provenance: Synthetic, LastUpdated: time.Unix(1700000000, 0).UTC()},
	}
	raw, err := json.Marshal(want)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got, err := DecodePayload(UrbanGrowth, raw)
	if err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if diff := cmp.Diff(Payload(want), got); diff != "" {
		t.Fatalf("payload mismatch (-want +got):\n%s", diff)
	}
	if got.Kind() != UrbanGrowth {
		t.Fatalf("kind=%s", got.Kind())
	}

	if _, err := DecodePayload("bogus", raw); err == nil {
		t.Fatal("expected error for unknown type")
	}
	if _, err := DecodePayload(Flood, []byte(`{"elevation":"x"}`)); err == nil {
		t.Fatal("expected error for malformed body")
	}
}
