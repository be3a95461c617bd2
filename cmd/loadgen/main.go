package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"math/rand/v2"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"

	"github.com/mohammed-shakir/geoquery-cache/internal/core/model"
	"github.com/mohammed-shakir/geoquery-cache/internal/invalidation"
)

type Config struct {
	TargetURL      string
	Concurrency    int
	Duration       time.Duration
	RequestTimeout time.Duration
	Types          []model.DataType
	CenterLat      float64
	CenterLon      float64
	Jitter         float64
	HotShare       float64
	HotPoints      int
	OutputFile     string

	KafkaBrokers     []string
	KafkaTopic       string
	InvalidateEvery  time.Duration
	InvalidateRadius float64
}

func loadConfig() Config {
	var (
		cfg     Config
		types   string
		brokers string
	)
	flag.StringVar(&cfg.TargetURL, "target", "http://localhost:8090/v1/satellite-data", "satellite-data endpoint")
	flag.IntVar(&cfg.Concurrency, "concurrency", 16, "concurrent workers")
	flag.DurationVar(&cfg.Duration, "duration", 30*time.Second, "test duration")
	flag.DurationVar(&cfg.RequestTimeout, "timeout", 10*time.Second, "per-request timeout")
	flag.StringVar(&types, "types", "heat,flood,air_quality,urban_growth", "comma-separated data types")
	flag.Float64Var(&cfg.CenterLat, "lat", 29.76, "center latitude")
	flag.Float64Var(&cfg.CenterLon, "lon", -95.37, "center longitude")
	flag.Float64Var(&cfg.Jitter, "jitter", 0.5, "max degrees a cold point strays from the center")
	flag.Float64Var(&cfg.HotShare, "hot-share", 0.8, "fraction of requests aimed at hot points")
	flag.IntVar(&cfg.HotPoints, "hot-points", 8, "number of hot points")
	flag.StringVar(&cfg.OutputFile, "out", "results/loadgen_summary.json", "summary file, empty to skip")
	flag.StringVar(&brokers, "kafka-brokers", "", "comma-separated brokers; enables invalidation publishing")
	flag.StringVar(&cfg.KafkaTopic, "kafka-topic", "geoquery-invalidation", "invalidation topic")
	flag.DurationVar(&cfg.InvalidateEvery, "invalidate-every", 5*time.Second, "interval between invalidation events")
	flag.Float64Var(&cfg.InvalidateRadius, "invalidate-radius", 0.05, "half-width in degrees of each invalidated bbox")
	flag.Parse()

	for s := range strings.SplitSeq(types, ",") {
		dt, err := model.ParseDataType(s)
		if err != nil {
			log.Fatalf("types: %v", err)
		}
		cfg.Types = append(cfg.Types, dt)
	}
	for s := range strings.SplitSeq(brokers, ",") {
		if s = strings.TrimSpace(s); s != "" {
			cfg.KafkaBrokers = append(cfg.KafkaBrokers, s)
		}
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.HotPoints < 1 {
		cfg.HotPoints = 1
	}
	return cfg
}

type sample struct {
	Latency  time.Duration
	Status   int
	Cached   bool
	ErrorMsg string
	Type     model.DataType
}

type summary struct {
	StartTime     time.Time        `json:"start_time"`
	EndTime       time.Time        `json:"end_time"`
	DurationSec   float64          `json:"duration_sec"`
	TotalRequests int64            `json:"total_requests"`
	SuccessCount  int64            `json:"success"`
	ErrorCount    int64            `json:"errors"`
	CachedCount   int64            `json:"cached"`
	HitRatio      float64          `json:"hit_ratio"`
	ThroughputRPS float64          `json:"throughput_rps"`
	P50Ms         float64          `json:"p50_ms"`
	P95Ms         float64          `json:"p95_ms"`
	P99Ms         float64          `json:"p99_ms"`
	PerType       map[string]int64 `json:"per_type"`
	Invalidations int64            `json:"invalidations"`
	Concurrency   int              `json:"concurrency"`
	TargetURL     string           `json:"target"`
}

type aggregatedResult struct {
	total   int64
	success int64
	errors  int64
	cached  int64
	perType map[string]int64
	latMs   []float64
}

// jittered returns a point within radius degrees of c, clamped to valid ranges.
func jittered(r *rand.Rand, c model.Point, radius float64) model.Point {
	p := model.Point{
		Lat: c.Lat + (r.Float64()*2-1)*radius,
		Lon: c.Lon + (r.Float64()*2-1)*radius,
	}
	p.Lat = math.Max(-90, math.Min(90, p.Lat))
	p.Lon = math.Max(-180, math.Min(180, p.Lon))
	return p
}

func main() {
	cfg := loadConfig()
	center := model.Point{Lat: cfg.CenterLat, Lon: cfg.CenterLon}

	seed := uint64(time.Now().UnixNano())
	r := rand.New(rand.NewPCG(seed, 0))
	hot := make([]model.Point, cfg.HotPoints)
	for i := range hot {
		hot[i] = jittered(r, center, cfg.Jitter)
	}

	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: 4 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
			MaxIdleConns:          1024,
			MaxIdleConnsPerHost:   256,
			IdleConnTimeout:       90 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
		Timeout: cfg.RequestTimeout,
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	samplesChan := make(chan sample, 4096)
	resultsChan := make(chan aggregatedResult, 1)
	go func() {
		agg := aggregatedResult{perType: map[string]int64{}, latMs: make([]float64, 0, 1<<16)}
		for s := range samplesChan {
			agg.total++
			agg.perType[string(s.Type)]++
			if s.ErrorMsg != "" {
				agg.errors++
				continue
			}
			agg.success++
			if s.Cached {
				agg.cached++
			}
			agg.latMs = append(agg.latMs, float64(s.Latency.Microseconds())/1000.0)
		}
		resultsChan <- agg
	}()

	var published int64
	var pubWG sync.WaitGroup
	if len(cfg.KafkaBrokers) > 0 && cfg.InvalidateEvery > 0 {
		prod, err := newProducer(cfg.KafkaBrokers)
		if err != nil {
			log.Fatalf("kafka producer: %v", err)
		}
		defer func() { _ = prod.Close() }()
		pubWG.Add(1)
		go func() {
			defer pubWG.Done()
			published = publishLoop(ctx, prod, cfg, hot, rand.New(rand.NewPCG(seed, 1)))
		}()
	}

	startTime := time.Now()
	log.Printf("loadgen start target=%s dur=%s conc=%d types=%v center=(%.4f,%.4f) hot=%d share=%.2f",
		cfg.TargetURL, cfg.Duration, cfg.Concurrency, cfg.Types, cfg.CenterLat, cfg.CenterLon, cfg.HotPoints, cfg.HotShare)

	var wg sync.WaitGroup
	wg.Add(cfg.Concurrency)
	for workerID := range cfg.Concurrency {
		go func(id int) {
			defer wg.Done()
			rw := rand.New(rand.NewPCG(seed, uint64(id)+2))
			for {
				select {
				case <-ctx.Done():
					return
				default:
				}

				var p model.Point
				if rw.Float64() < cfg.HotShare {
					p = hot[rw.IntN(len(hot))]
				} else {
					p = jittered(rw, center, cfg.Jitter)
				}
				dt := cfg.Types[rw.IntN(len(cfg.Types))]

				s := query(ctx, httpClient, cfg.TargetURL, dt, p)
				if ctx.Err() != nil {
					return
				}
				select {
				case samplesChan <- s:
				case <-ctx.Done():
					return
				}
			}
		}(workerID)
	}

	go func() {
		<-ctx.Done()
		wg.Wait()
		close(samplesChan)
	}()

	agg := <-resultsChan
	pubWG.Wait()
	endTime := time.Now()
	elapsed := endTime.Sub(startTime).Seconds()

	sort.Float64s(agg.latMs)
	out := summary{
		StartTime:     startTime.UTC(),
		EndTime:       endTime.UTC(),
		DurationSec:   elapsed,
		TotalRequests: agg.total,
		SuccessCount:  agg.success,
		ErrorCount:    agg.errors,
		CachedCount:   agg.cached,
		ThroughputRPS: float64(agg.total) / elapsed,
		P50Ms:         percentile(agg.latMs, 50),
		P95Ms:         percentile(agg.latMs, 95),
		P99Ms:         percentile(agg.latMs, 99),
		PerType:       agg.perType,
		Invalidations: published,
		Concurrency:   cfg.Concurrency,
		TargetURL:     cfg.TargetURL,
	}
	if agg.success > 0 {
		out.HitRatio = float64(agg.cached) / float64(agg.success)
	}

	log.Printf("done: total=%d succ=%d err=%d hit=%.3f thr=%.2f rps p50=%.1fms p95=%.1fms p99=%.1fms inval=%d",
		out.TotalRequests, out.SuccessCount, out.ErrorCount, out.HitRatio, out.ThroughputRPS, out.P50Ms, out.P95Ms, out.P99Ms, published)

	if cfg.OutputFile != "" {
		if err := writeSummary(cfg.OutputFile, out); err != nil {
			log.Printf("write summary: %v", err)
			return
		}
		log.Printf("wrote %s", cfg.OutputFile)
	}
}

func query(ctx context.Context, c *http.Client, target string, dt model.DataType, p model.Point) sample {
	s := sample{Type: dt}
	body, _ := json.Marshal(map[string]any{"dataType": dt, "latitude": p.Lat, "longitude": p.Lon})

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		s.ErrorMsg = err.Error()
		return s
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.Do(req)
	if err != nil {
		s.Latency = time.Since(start)
		s.ErrorMsg = err.Error()
		return s
	}
	defer func() { _ = resp.Body.Close() }()

	var res struct {
		Cached bool `json:"cached"`
	}
	decErr := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&res)
	s.Latency = time.Since(start)
	s.Status = resp.StatusCode
	switch {
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		s.ErrorMsg = fmt.Sprintf("status=%d", resp.StatusCode)
	case decErr != nil:
		s.ErrorMsg = decErr.Error()
	default:
		s.Cached = res.Cached
	}
	return s
}

func newProducer(brokers []string) (sarama.SyncProducer, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Version = sarama.V3_6_0_0
	return sarama.NewSyncProducer(brokers, cfg)
}

// publishLoop invalidates a box around a random hot point on every tick.
func publishLoop(ctx context.Context, prod sarama.SyncProducer, cfg Config, hot []model.Point, r *rand.Rand) int64 {
	t := time.NewTicker(cfg.InvalidateEvery)
	defer t.Stop()

	var n int64
	for {
		select {
		case <-ctx.Done():
			return n
		case <-t.C:
		}
		p := hot[r.IntN(len(hot))]
		ev := invalidation.Event{
			Version: invalidation.Version,
			Op:      invalidation.OpInvalidate,
			ID:      uuid.NewString(),
			TS:      time.Now().UTC(),
			Source:  "loadgen",
			BBox: &invalidation.BBox{
				X1:   p.Lon - cfg.InvalidateRadius,
				Y1:   p.Lat - cfg.InvalidateRadius,
				X2:   p.Lon + cfg.InvalidateRadius,
				Y2:   p.Lat + cfg.InvalidateRadius,
				SRID: invalidation.SRID4326,
			},
		}
		b, err := json.Marshal(ev)
		if err != nil {
			log.Printf("marshal event: %v", err)
			continue
		}
		if _, _, err := prod.SendMessage(&sarama.ProducerMessage{
			Topic: cfg.KafkaTopic,
			Key:   sarama.StringEncoder(ev.ID),
			Value: sarama.ByteEncoder(b),
		}); err != nil {
			log.Printf("publish invalidation: %v", err)
			continue
		}
		n++
	}
}

func writeSummary(path string, s summary) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	f, err := os.Create(filepath.Clean(path))
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func percentile(sortedValues []float64, p float64) float64 {
	if len(sortedValues) == 0 {
		return 0
	}
	if p <= 0 {
		return sortedValues[0]
	}
	if p >= 100 {
		return sortedValues[len(sortedValues)-1]
	}
	k := (p / 100.0) * float64(len(sortedValues)-1)
	f := math.Floor(k)
	i := int(f)
	if i >= len(sortedValues)-1 {
		return sortedValues[len(sortedValues)-1]
	}
	d := k - f
	return sortedValues[i]*(1-d) + sortedValues[i+1]*d
}
