// Package h3mapper buckets coordinates into H3 cells for the cache index and the
// demand tracker.
package h3mapper

import (
	"errors"
	"fmt"
	"math"
	"sort"

	h3 "github.com/uber/h3-go/v4"

	"github.com/mohammed-shakir/geoquery-cache/internal/core/model"
)

const (
	MinRes = 0
	MaxRes = 15

	// k of the grid disk read around a query cell
	RingK = 2

	kmPerDegree = 111.32
)

// average hexagon edge length in km, res 0..15
var avgEdgeKm = [...]float64{
	1281.256011, 483.0568391, 182.5129565, 68.97922179,
	26.07175968, 9.854090990, 3.724532667, 1.406475763,
	0.531414010, 0.200786148, 0.075863783, 0.028663897,
	0.010830188, 0.004092010, 0.001546100, 0.000584169,
}

type Mapper struct{}

func New() *Mapper { return &Mapper{} }

// ErrToleranceTooWide is returned for tolerances no resolution can index.
var ErrToleranceTooWide = errors.New("tolerance wider than a resolution 0 ring covers")

// MaxTolerance is the widest tolerance in degrees whose box still fits a resolution 0
// ring, about 7 degrees.
var MaxTolerance = inradiusKm(MinRes) / (math.Sqrt2 * kmPerDegree)

func inradiusKm(res int) float64 { return avgEdgeKm[res] * math.Sqrt(3) / 2 }

// CheckTolerance rejects non-finite, non-positive and too wide tolerances.
func CheckTolerance(tol float64) error {
	if math.IsNaN(tol) || math.IsInf(tol, 0) || tol <= 0 {
		return fmt.Errorf("tolerance %v must be a positive finite number", tol)
	}
	if tol > MaxTolerance {
		return fmt.Errorf("%w: %v > %.3f degrees", ErrToleranceTooWide, tol, MaxTolerance)
	}
	return nil
}

// ResolutionFor returns the finest resolution whose cell inradius still spans the
// half-diagonal of a tolerance box of tol degrees. Tolerances that fail
// CheckTolerance get MaxRes when too small and MinRes when too wide.
func (m *Mapper) ResolutionFor(tol float64) int {
	if tol <= 0 || math.IsNaN(tol) {
		return MaxRes
	}
	reach := math.Sqrt2 * tol * kmPerDegree
	res := MinRes
	for r := MinRes; r <= MaxRes; r++ {
		if inradiusKm(r) >= reach {
			res = r
			continue
		}
		break
	}
	return res
}

func (m *Mapper) Cell(p model.Point, res int) (string, error) {
	if err := validateRes(res); err != nil {
		return "", err
	}
	c, err := h3.LatLngToCell(h3.LatLng{Lat: p.Lat, Lng: p.Lon}, res)
	if err != nil {
		return "", fmt.Errorf("h3 cell for %s: %w", p, err)
	}
	return c.String(), nil
}

// Neighborhood returns the query cell and its RingK disk, sorted and unique. Every
// point within the tolerance box around p falls in one of these cells.
func (m *Mapper) Neighborhood(p model.Point, res int) (model.Cells, error) {
	if err := validateRes(res); err != nil {
		return nil, err
	}
	origin, err := h3.LatLngToCell(h3.LatLng{Lat: p.Lat, Lng: p.Lon}, res)
	if err != nil {
		return nil, fmt.Errorf("h3 cell for %s: %w", p, err)
	}
	disk, err := h3.GridDisk(origin, RingK)
	if err != nil {
		return nil, fmt.Errorf("h3 grid disk: %w", err)
	}
	return uniqueSorted(disk), nil
}

// CoverBBox returns every cell at res that can hold a point of bb: the polyfill of
// the box, the cells its edges pass through and the first ring around those. ok is
// false when the cover would exceed maxCells, or the box spans half the globe.
func (m *Mapper) CoverBBox(bb model.BBox, res, maxCells int) (cells model.Cells, ok bool, err error) {
	if err := validateRes(res); err != nil {
		return nil, false, err
	}
	w, h := bb.X2-bb.X1, bb.Y2-bb.Y1
	if w < 0 || h < 0 {
		return nil, false, fmt.Errorf("inverted bbox %s", bb)
	}
	if w >= 180 {
		return nil, false, nil
	}

	edge := avgEdgeKm[res]
	cellKm2 := 3 * math.Sqrt(3) / 2 * edge * edge
	step := edge / kmPerDegree / 2
	samples := 2*(int(w/step)+int(h/step)) + 8
	if w*h*kmPerDegree*kmPerDegree/cellKm2 > float64(maxCells) || samples > maxCells {
		return nil, false, nil
	}

	outer := h3.GeoLoop{
		{Lat: bb.Y1, Lng: bb.X1},
		{Lat: bb.Y1, Lng: bb.X2},
		{Lat: bb.Y2, Lng: bb.X2},
		{Lat: bb.Y2, Lng: bb.X1},
	}
	all, err := h3.PolygonToCells(h3.GeoPolygon{GeoLoop: outer}, res)
	if err != nil {
		return nil, false, fmt.Errorf("h3 polyfill: %w", err)
	}
	for _, p := range edgePoints(bb, step) {
		c, err := h3.LatLngToCell(h3.LatLng{Lat: p.Lat, Lng: p.Lon}, res)
		if err != nil {
			return nil, false, fmt.Errorf("h3 cell for %s: %w", p, err)
		}
		ring, err := h3.GridDisk(c, 1)
		if err != nil {
			return nil, false, fmt.Errorf("h3 grid disk: %w", err)
		}
		all = append(all, ring...)
	}
	out := uniqueSorted(all)
	if len(out) > maxCells {
		return nil, false, nil
	}
	return out, true, nil
}

// edgePoints walks the four edges of bb, at most step degrees apart, corners included.
func edgePoints(bb model.BBox, step float64) []model.Point {
	corners := [...]model.Point{
		{Lat: bb.Y1, Lon: bb.X1},
		{Lat: bb.Y1, Lon: bb.X2},
		{Lat: bb.Y2, Lon: bb.X2},
		{Lat: bb.Y2, Lon: bb.X1},
	}
	var out []model.Point
	for i, a := range corners {
		b := corners[(i+1)%len(corners)]
		n := int(math.Ceil(math.Max(math.Abs(b.Lat-a.Lat), math.Abs(b.Lon-a.Lon)) / step))
		if n < 1 {
			n = 1
		}
		for k := range n {
			f := float64(k) / float64(n)
			out = append(out, model.Point{Lat: a.Lat + (b.Lat-a.Lat)*f, Lon: a.Lon + (b.Lon-a.Lon)*f})
		}
	}
	return out
}

func (m *Mapper) ToParent(cell string, parentRes int) (string, error) {
	if err := validateRes(parentRes); err != nil {
		return "", err
	}
	var c h3.Cell
	if err := c.UnmarshalText([]byte(cell)); err != nil {
		return "", fmt.Errorf("parse cell: %w", err)
	}
	if !c.IsValid() {
		return "", fmt.Errorf("invalid h3 cell %q", cell)
	}
	cur := c.Resolution()
	if parentRes > cur {
		return "", fmt.Errorf("parentRes %d must be <= cell resolution %d", parentRes, cur)
	}
	if parentRes == cur {
		return cell, nil
	}
	p, err := c.Parent(parentRes)
	if err != nil {
		return "", fmt.Errorf("h3 parent: %w", err)
	}
	return p.String(), nil
}

// Center returns the centroid of a cell.
func (m *Mapper) Center(cell string) (model.Point, error) {
	var c h3.Cell
	if err := c.UnmarshalText([]byte(cell)); err != nil {
		return model.Point{}, fmt.Errorf("parse cell: %w", err)
	}
	if !c.IsValid() {
		return model.Point{}, fmt.Errorf("invalid h3 cell %q", cell)
	}
	ll, err := c.LatLng()
	if err != nil {
		return model.Point{}, fmt.Errorf("h3 centroid: %w", err)
	}
	return model.Point{Lat: ll.Lat, Lon: ll.Lng}, nil
}

func validateRes(res int) error {
	if res < MinRes || res > MaxRes {
		return fmt.Errorf("invalid H3 resolution %d (must be 0..15)", res)
	}
	return nil
}

func uniqueSorted(cells []h3.Cell) model.Cells {
	seen := make(map[string]struct{}, len(cells))
	out := make([]string, 0, len(cells))
	for _, c := range cells {
		s := c.String()
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
