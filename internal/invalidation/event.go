// Package invalidation defines the region invalidation event carried on Kafka.
package invalidation

import (
	"fmt"
	"strings"
	"time"

	"github.com/mohammed-shakir/geoquery-cache/internal/core/model"
)

const (
	Version      = 1
	OpInvalidate = "invalidate"
	SRID4326     = "EPSG:4326"
)

type Event struct {
	Version  int       `json:"version"`
	Op       string    `json:"op"`
	ID       string    `json:"id,omitempty"`
	DataType string    `json:"data_type,omitempty"`
	TS       time.Time `json:"ts"`
	Source   string    `json:"source,omitempty"`
	BBox     *BBox     `json:"bbox"`
}

type BBox struct {
	X1   float64 `json:"x1"`
	Y1   float64 `json:"y1"`
	X2   float64 `json:"x2"`
	Y2   float64 `json:"y2"`
	SRID string  `json:"srid"`
}

func (e Event) Validate() error {
	if e.Version != Version {
		return fmt.Errorf("version must be %d", Version)
	}
	if e.Op != OpInvalidate {
		return fmt.Errorf("op must be %s", OpInvalidate)
	}
	if d := strings.TrimSpace(e.DataType); d != "" && !model.DataType(d).Valid() {
		return fmt.Errorf("unknown data_type %q", e.DataType)
	}
	if e.TS.IsZero() {
		return fmt.Errorf("ts is required")
	}
	if e.BBox == nil {
		return fmt.Errorf("bbox is required")
	}
	bb := *e.BBox
	if bb.SRID != "" && bb.SRID != SRID4326 {
		return fmt.Errorf("bbox.srid must be %s", SRID4326)
	}
	if !(bb.X1 >= -180 && bb.X1 <= 180 && bb.X2 >= -180 && bb.X2 <= 180) {
		return fmt.Errorf("bbox longitude out of range")
	}
	if !(bb.Y1 >= -90 && bb.Y1 <= 90 && bb.Y2 >= -90 && bb.Y2 <= 90) {
		return fmt.Errorf("bbox latitude out of range")
	}
	if !(bb.X2 >= bb.X1 && bb.Y2 >= bb.Y1) {
		return fmt.Errorf("bbox must satisfy x2>=x1 and y2>=y1")
	}
	return nil
}

// DataTypes returns the tags the event applies to; an empty data_type means all of them.
func (e Event) DataTypes() []model.DataType {
	if d := strings.TrimSpace(e.DataType); d != "" {
		return []model.DataType{model.DataType(d)}
	}
	return model.DataTypes
}

func (e Event) Region() model.BBox {
	if e.BBox == nil {
		return model.BBox{}
	}
	return model.BBox{X1: e.BBox.X1, Y1: e.BBox.Y1, X2: e.BBox.X2, Y2: e.BBox.Y2, SRID: SRID4326}
}
