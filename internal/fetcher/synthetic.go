package fetcher

import (
	"context"

	"github.com/mohammed-shakir/geoquery-cache/internal/core/model"
)

const (
	AirQualitySource  = "Simulated Sentinel-5P TROPOMI"
	AirQualityNote    = "Real-time Copernicus data requires API credentials"
	UrbanGrowthSource = "Simulated Landsat Analysis"
	UrbanGrowthNote   = "Real Landsat analysis requires Earth Engine or USGS EROS access"
)

// AirQuality has no upstream yet; every record is synthetic.
type AirQuality struct{ env env }

func NewAirQuality(opts ...Option) *AirQuality { return &AirQuality{env: newEnv(opts...)} }

func (a *AirQuality) Fetch(_ context.Context, _ model.Point) model.Payload {
	r := a.env.rand
	status := "good"
	if r() > 0.5 {
		status = "moderate"
	}
	return model.AirQualityPayload{
		AQI:    50 + int(r()*100),
		PM25:   10 + int(r()*40),
		NO2:    20 + int(r()*60),
		O3:     30 + int(r()*50),
		Status: status,
		Note:   AirQualityNote,
		Record: a.env.record(AirQualitySource, model.Synthetic),
	}
}

// UrbanGrowth has no upstream yet; every record is synthetic.
type UrbanGrowth struct{ env env }

func NewUrbanGrowth(opts ...Option) *UrbanGrowth { return &UrbanGrowth{env: newEnv(opts...)} }

func (u *UrbanGrowth) Fetch(_ context.Context, _ model.Point) model.Payload {
	r := u.env.rand
	early := "stable"
	if r() > 0.5 {
		early = "expansion"
	}
	late := "moderate_growth"
	if r() > 0.6 {
		late = "rapid_growth"
	}
	return model.UrbanGrowthPayload{
		BuiltUpArea:     40 + int(r()*50),
		VegetationIndex: 0.3 + r()*0.4,
		ChangeDetection: map[string]string{
			"2015-2020": early,
			"2020-2025": late,
		},
		LandUseType: "mixed_urban",
		Note:        UrbanGrowthNote,
		Record:      u.env.record(UrbanGrowthSource, model.Synthetic),
	}
}
