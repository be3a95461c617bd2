package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Provenance tells consumers whether a record was measured or made up.
type Provenance string

const (
	Real      Provenance = "real"
	Synthetic Provenance = "synthetic"
)

// Marker used as source text on every fallback record.
const FallbackSource = "Simulated (API unavailable)"

// Record is the provenance block shared by every payload variant.
type Record struct {
	Source      string     `json:"source"`
	Provenance  Provenance `json:"provenance"`
	LastUpdated time.Time  `json:"lastUpdated"`
}

func (r Record) Meta() Record { return r }

// Payload is one of HeatPayload, FloodPayload, AirQualityPayload or UrbanGrowthPayload.
type Payload interface {
	Kind() DataType
	Meta() Record
}

type HeatPayload struct {
	AvgTemperature float64 `json:"avgTemperature"`
	MaxTemperature float64 `json:"maxTemperature"`
	HeatIndex      string  `json:"heatIndex"`
	Record
}

func (HeatPayload) Kind() DataType { return Heat }

type FloodPayload struct {
	Elevation        float64 `json:"elevation"`
	FloodRisk        string  `json:"floodRisk"`
	DrainageCapacity string  `json:"drainageCapacity"`
	Record
}

func (FloodPayload) Kind() DataType { return Flood }

type AirQualityPayload struct {
	AQI    int    `json:"aqi"`
	PM25   int    `json:"pm25"`
	NO2    int    `json:"no2"`
	O3     int    `json:"o3"`
	Status string `json:"status"`
	Note   string `json:"note"`
	Record
}

func (AirQualityPayload) Kind() DataType { return AirQuality }

type UrbanGrowthPayload struct {
	BuiltUpArea     int               `json:"builtUpArea"`
	VegetationIndex float64           `json:"vegetationIndex"`
	ChangeDetection map[string]string `json:"changeDetection"`
	LandUseType     string            `json:"landUseType"`
	Note            string            `json:"note"`
	Record
}

func (UrbanGrowthPayload) Kind() DataType { return UrbanGrowth }

// DecodePayload turns stored JSON back into the variant for d.
func DecodePayload(d DataType, raw []byte) (Payload, error) {
	var (
		p   Payload
		err error
	)
	switch d {
	case Heat:
		var v HeatPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case Flood:
		var v FloodPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case AirQuality:
		var v AirQualityPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case UrbanGrowth:
		var v UrbanGrowthPayload
		err = json.Unmarshal(raw, &v)
		p = v
	default:
		return nil, fmt.Errorf("decode payload: unknown data type %q", d)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", d, err)
	}
	return p, nil
}
