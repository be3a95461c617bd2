package main

import (
	"math/rand/v2"
	"testing"

	"github.com/mohammed-shakir/geoquery-cache/internal/core/model"
)

func TestPercentile(t *testing.T) {
	vals := []float64{1, 2, 3, 4, 5}
	if got := percentile(vals, 50); got != 3 {
		t.Fatalf("p50=%v", got)
	}
	if got := percentile(vals, 100); got != 5 {
		t.Fatalf("p100=%v", got)
	}
	if got := percentile(vals, 25); got != 2 {
		t.Fatalf("p25=%v", got)
	}
	if got := percentile(nil, 99); got != 0 {
		t.Fatalf("empty=%v", got)
	}
}

func TestJitteredStaysInRange(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	c := model.Point{Lat: 89.9, Lon: 179.9}
	for range 1000 {
		p := jittered(r, c, 0.5)
		if p.Lat > 90 || p.Lon > 180 {
			t.Fatalf("out of range: %+v", p)
		}
		if p.Lat < c.Lat-0.5 || p.Lon < c.Lon-0.5 {
			t.Fatalf("strayed too far: %+v", p)
		}
	}
}
