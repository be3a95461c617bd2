package fetcher

const (
	HeatCritical = "critical"
	HeatHigh     = "high"
	HeatModerate = "moderate"

	RiskHigh     = "high"
	RiskModerate = "moderate"
	RiskLow      = "low"

	DrainagePoor = "poor"
	DrainageGood = "good"
)

// ClassifyHeat buckets a maximum temperature in °C.
func ClassifyHeat(maxTemp float64) string {
	switch {
	case maxTemp > 35:
		return HeatCritical
	case maxTemp > 30:
		return HeatHigh
	default:
		return HeatModerate
	}
}

// ClassifyFlood buckets an elevation in metres into risk and drainage capacity.
func ClassifyFlood(elevation float64) (risk, drainage string) {
	switch {
	case elevation < 10:
		return RiskHigh, DrainagePoor
	case elevation < 50:
		return RiskModerate, DrainageGood
	default:
		return RiskLow, DrainageGood
	}
}
