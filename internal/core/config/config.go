package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultFreshness = time.Hour
	DefaultTolerance = 0.01
	// widest tolerance in degrees accepted from the environment
	MaxTolerance = 5.0
)

type InvalidationCfg struct {
	Enabled bool
	Topic   string
	Brokers string
	GroupID string
}

type RetentionCfg struct {
	Enabled  bool
	Schedule string
}

type UpstreamCfg struct {
	HeatURL        string
	HeatWindowDays int
	ElevationURL   string
	GeocodeURL     string
	GeocodeRPS     float64
	Timeout        time.Duration
	UserAgent      string
}

type Config struct {
	Addr             string
	LogLevel         string
	LogConsole       bool
	LogSampleN       int
	StoreDriver      string
	StoreOpTimeout   time.Duration
	RedisAddr        string
	DBDriver         string
	DBDSN            string
	DBPath           string
	MemMaxEntries    int
	FreshnessDefault time.Duration
	FreshnessOvr     map[string]time.Duration
	ToleranceDefault float64
	ToleranceOvr     map[string]float64
	HotHalfLife      time.Duration
	HotThreshold     float64
	HotLogSample     float64
	HotPruneFloor    float64
	ObsMaxLimit      int
	Upstream         UpstreamCfg
	Retention        RetentionCfg
	Invalidation     InvalidationCfg
}

func FromEnv() Config {
	fresh := getduration("CACHE_FRESHNESS_DEFAULT", DefaultFreshness)
	if fresh <= 0 {
		fresh = DefaultFreshness
	}
	tol := getfloat("CACHE_TOLERANCE_DEFAULT", DefaultTolerance)
	if !validTolerance(tol) {
		tol = DefaultTolerance
	}

	return Config{
		Addr:             getenv("ADDR", ":8090"),
		LogLevel:         getenv("LOG_LEVEL", "info"),
		LogConsole:       getbool("LOG_CONSOLE", false),
		LogSampleN:       getint("LOG_SAMPLE_N", 0),
		StoreDriver:      strings.ToLower(getenv("STORE_DRIVER", "sql")),
		StoreOpTimeout:   getduration("STORE_OP_TIMEOUT", 2*time.Second),
		RedisAddr:        getenv("REDIS_ADDR", "localhost:6379"),
		DBDriver:         strings.ToLower(getenv("DB_DRIVER", "sqlite")),
		DBDSN:            getenv("DB_DSN", ""),
		DBPath:           getenv("DB_PATH", "data/geoquery.db"),
		MemMaxEntries:    getint("MEMSTORE_MAX_ENTRIES", 100_000),
		FreshnessDefault: fresh,
		FreshnessOvr:     parseDurationMap(getenv("CACHE_FRESHNESS_OVERRIDES", "")),
		ToleranceDefault: tol,
		ToleranceOvr:     parseFloatMap(getenv("CACHE_TOLERANCE_OVERRIDES", "")),
		HotHalfLife:      getduration("HOT_HALF_LIFE", 10*time.Minute),
		HotThreshold:     getfloat("HOT_THRESHOLD", 20),
		HotLogSample:     getfloat("HOT_LOG_SAMPLE", 0.1),
		HotPruneFloor:    getfloat("HOT_PRUNE_FLOOR", 0.05),
		ObsMaxLimit:      getint("OBSERVATIONS_MAX_LIMIT", 100),
		Upstream: UpstreamCfg{
			HeatURL:        getenv("HEAT_API_URL", "https://power.larc.nasa.gov/api/temporal/daily/point"),
			HeatWindowDays: getint("HEAT_WINDOW_DAYS", 30),
			ElevationURL:   getenv("ELEVATION_API_URL", "https://api.open-elevation.com/api/v1/lookup"),
			GeocodeURL:     getenv("GEOCODE_API_URL", "https://nominatim.openstreetmap.org/search"),
			GeocodeRPS:     getfloat("GEOCODE_RPS", 1),
			Timeout:        getduration("UPSTREAM_TIMEOUT", 10*time.Second),
			UserAgent:      getenv("USER_AGENT", "geoquery-cache/dev"),
		},
		Retention: RetentionCfg{
			Enabled:  getbool("RETENTION_ENABLED", true),
			Schedule: getenv("RETENTION_SCHEDULE", "@every 15m"),
		},
		Invalidation: InvalidationCfg{
			Enabled: getbool("INVALIDATION_ENABLED", false),
			Topic:   getenv("KAFKA_TOPIC", "geoquery-invalidation"),
			Brokers: getenv("KAFKA_BROKERS", "localhost:9092"),
			GroupID: getenv("KAFKA_GROUP_ID", "geoquery-invalidator"),
		},
	}
}

// Freshness returns the window for a data type, ignoring non-positive overrides.
func (c Config) Freshness(dataType string) time.Duration {
	if d, ok := c.FreshnessOvr[dataType]; ok && d > 0 {
		return d
	}
	if c.FreshnessDefault <= 0 {
		return DefaultFreshness
	}
	return c.FreshnessDefault
}

// Tolerance returns the proximity in degrees for a data type. Values outside
// (0, MaxTolerance] are ignored.
func (c Config) Tolerance(dataType string) float64 {
	if v, ok := c.ToleranceOvr[dataType]; ok && validTolerance(v) {
		return v
	}
	if !validTolerance(c.ToleranceDefault) {
		return DefaultTolerance
	}
	return c.ToleranceDefault
}

// false for NaN and both infinities too
func validTolerance(v float64) bool { return v > 0 && v <= MaxTolerance }

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// parse "heat=30m,flood=24h" into map
func parseDurationMap(s string) map[string]time.Duration {
	out := map[string]time.Duration{}
	for k, v := range splitPairs(s) {
		if d, err := time.ParseDuration(v); err == nil {
			out[k] = d
		}
	}
	return out
}

// parse "flood=0.02,heat=0.005" into map
func parseFloatMap(s string) map[string]float64 {
	out := map[string]float64{}
	for k, v := range splitPairs(s) {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			out[k] = f
		}
	}
	return out
}

func splitPairs(s string) map[string]string {
	out := map[string]string{}
	s = strings.TrimSpace(s)
	if s == "" {
		return out
	}
	for p := range strings.SplitSeq(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		k := strings.TrimSpace(kv[0])
		v := strings.TrimSpace(kv[1])
		if k == "" {
			continue
		}
		out[k] = v
	}
	return out
}
