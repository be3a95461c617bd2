package invalidation

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/mohammed-shakir/geoquery-cache/internal/core/model"
)

func mustTS() time.Time { return time.Date(2025, 10, 26, 12, 30, 45, 0, time.UTC) }

func houston() *BBox {
	return &BBox{X1: -95.5, Y1: 29.6, X2: -95.2, Y2: 29.9, SRID: SRID4326}
}

func TestEvent_Validate_HappyPath(t *testing.T) {
	ev := Event{Version: 1, Op: "invalidate", DataType: "flood", TS: mustTS(), BBox: houston()}
	if err := ev.Validate(); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if got := ev.DataTypes(); len(got) != 1 || got[0] != model.Flood {
		t.Fatalf("data types=%v", got)
	}
	r := ev.Region()
	if !r.Contains(model.Point{Lat: 29.7604, Lon: -95.3698}) {
		t.Fatalf("region %v should contain downtown Houston", r)
	}
}

func TestEvent_EmptyDataTypeMeansAll(t *testing.T) {
	ev := Event{Version: 1, Op: "invalidate", TS: mustTS(), BBox: houston()}
	if err := ev.Validate(); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if got := ev.DataTypes(); len(got) != len(model.DataTypes) {
		t.Fatalf("data types=%v", got)
	}
}

func TestEvent_Validate_Rejects(t *testing.T) {
	cases := map[string]Event{
		"version":   {Version: 2, Op: "invalidate", TS: mustTS(), BBox: houston()},
		"op":        {Version: 1, Op: "delete", TS: mustTS(), BBox: houston()},
		"data type": {Version: 1, Op: "invalidate", DataType: "bogus", TS: mustTS(), BBox: houston()},
		"ts":        {Version: 1, Op: "invalidate", BBox: houston()},
		"no bbox":   {Version: 1, Op: "invalidate", TS: mustTS()},
		"srid":      {Version: 1, Op: "invalidate", TS: mustTS(), BBox: &BBox{X1: 0, Y1: 0, X2: 1, Y2: 1, SRID: "EPSG:3857"}},
		"lon range": {Version: 1, Op: "invalidate", TS: mustTS(), BBox: &BBox{X1: -190, Y1: 0, X2: 1, Y2: 1}},
		"inverted":  {Version: 1, Op: "invalidate", TS: mustTS(), BBox: &BBox{X1: 2, Y1: 0, X2: 1, Y2: 1}},
	}
	for name, ev := range cases {
		if err := ev.Validate(); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestEvent_JSONShape(t *testing.T) {
	raw := `{"version":1,"op":"invalidate","data_type":"heat","ts":"2025-10-26T12:30:45Z","bbox":{"x1":1,"y1":2,"x2":3,"y2":4,"srid":"EPSG:4326"}}`
	var ev Event
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if err := ev.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if ev.BBox.Y2 != 4 || ev.DataType != "heat" || !ev.TS.Equal(mustTS()) {
		t.Fatalf("event=%+v", ev)
	}
}
