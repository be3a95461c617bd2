// Package model defines core domain types shared across the service.
package model

import (
	"fmt"
	"strings"
)

type DataType string

const (
	Heat        DataType = "heat"
	Flood       DataType = "flood"
	AirQuality  DataType = "air_quality"
	UrbanGrowth DataType = "urban_growth"
)

// DataTypes lists every supported tag in a stable order.
var DataTypes = []DataType{Heat, Flood, AirQuality, UrbanGrowth}

func (d DataType) Valid() bool {
	switch d {
	case Heat, Flood, AirQuality, UrbanGrowth:
		return true
	}
	return false
}

func (d DataType) String() string { return string(d) }

func ParseDataType(s string) (DataType, error) {
	d := DataType(strings.TrimSpace(s))
	if !d.Valid() {
		return "", fmt.Errorf("unknown data type %q", s)
	}
	return d, nil
}

// Point is a WGS84 coordinate in degrees.
type Point struct {
	Lat float64 `json:"latitude"`
	Lon float64 `json:"longitude"`
}

func (p Point) String() string {
	return fmt.Sprintf("%.6f,%.6f", p.Lat, p.Lon)
}

// BBox in EPSG:4326, X is longitude and Y is latitude.
type BBox struct {
	X1, Y1 float64
	X2, Y2 float64
	SRID   string
}

// String representation matching wfs/wms bbox format
func (b BBox) String() string {
	return fmt.Sprintf("%.6f,%.6f,%.6f,%.6f,%s", b.X1, b.Y1, b.X2, b.Y2, b.SRID)
}

// Contains reports whether p lies inside the box, edges included.
func (b BBox) Contains(p Point) bool {
	return p.Lon >= b.X1 && p.Lon <= b.X2 && p.Lat >= b.Y1 && p.Lat <= b.Y2
}

// Around returns the square box spanning tol degrees on each side of p.
func Around(p Point, tol float64) BBox {
	return BBox{X1: p.Lon - tol, Y1: p.Lat - tol, X2: p.Lon + tol, Y2: p.Lat + tol, SRID: "EPSG:4326"}
}

type Cells []string
