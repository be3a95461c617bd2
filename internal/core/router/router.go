// Package router exposes the gateway, observations, geocoder and demand tracker
// over HTTP.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/geoquery-cache/internal/gateway"
	"github.com/mohammed-shakir/geoquery-cache/internal/geocode"
	"github.com/mohammed-shakir/geoquery-cache/internal/hotness"
	"github.com/mohammed-shakir/geoquery-cache/internal/mapper"
	"github.com/mohammed-shakir/geoquery-cache/internal/observations"
)

const (
	maxBody          = 64 << 10
	defaultHotspots  = 20
	maxHotspots      = 100
	hotspotFoldScan  = 1000
	userHeader       = "X-User-ID"
	msgStoreDown     = "cache store unavailable"
	msgInternalError = "internal error"
)

type Resolver interface {
	Resolve(ctx context.Context, req gateway.Request) (gateway.Result, error)
}

type Observations interface {
	Submit(ctx context.Context, in observations.Input) (observations.Observation, error)
	List(ctx context.Context, f observations.Filter) ([]observations.Observation, error)
}

type Geocoder interface {
	Search(ctx context.Context, q string) (geocode.Place, bool, error)
}

type Demand interface {
	Top(n int) []hotness.Scored
}

// API holds the route dependencies. Only Resolver is required; routes for nil
// dependencies are not mounted.
type API struct {
	Logger       *slog.Logger
	Resolver     Resolver
	Observations Observations
	Geocoder     Geocoder
	Demand       Demand
	Cells        mapper.Cells
}

func (a *API) logger() *slog.Logger {
	if a.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return a.Logger
}

// Mount registers the /v1 routes on r.
func (a *API) Mount(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Post("/satellite-data", a.postSatelliteData)
		r.Get("/satellite-data", a.getSatelliteData)
		if a.Observations != nil {
			r.Get("/observations", a.listObservations)
			r.Post("/observations", a.submitObservation)
		}
		if a.Geocoder != nil {
			r.Get("/geocode", a.geocode)
		}
		if a.Demand != nil {
			r.Get("/hotspots", a.hotspots)
		}
	})
}

func (a *API) postSatelliteData(w http.ResponseWriter, r *http.Request) {
	var req gateway.Request
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	a.resolve(w, r, req)
}

func (a *API) getSatelliteData(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := gateway.Request{DataType: q.Get("dataType")}
	var err error
	if req.Latitude, err = optFloat(q.Get("latitude")); err != nil {
		writeError(w, http.StatusBadRequest, "invalid latitude: "+err.Error())
		return
	}
	if req.Longitude, err = optFloat(q.Get("longitude")); err != nil {
		writeError(w, http.StatusBadRequest, "invalid longitude: "+err.Error())
		return
	}
	a.resolve(w, r, req)
}

func (a *API) resolve(w http.ResponseWriter, r *http.Request, req gateway.Request) {
	res, err := a.Resolver.Resolve(r.Context(), req)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, res)
	case errors.Is(err, gateway.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, gateway.ErrStoreUnavailable):
		writeError(w, http.StatusServiceUnavailable, msgStoreDown)
	default:
		a.logger().ErrorContext(r.Context(), "resolve failed", "err", err)
		writeError(w, http.StatusInternalServerError, msgInternalError)
	}
}

func (a *API) listObservations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := observations.Filter{Type: strings.TrimSpace(q.Get("type"))}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		f.Limit = n
	}
	if f.Type != "" && !slices.Contains(observations.Types, f.Type) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown observation type %q", f.Type))
		return
	}
	list, err := a.Observations.List(r.Context(), f)
	if err != nil {
		a.logger().ErrorContext(r.Context(), "list observations", "err", err)
		writeError(w, http.StatusInternalServerError, msgInternalError)
		return
	}
	if list == nil {
		list = []observations.Observation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"observations": list})
}

func (a *API) submitObservation(w http.ResponseWriter, r *http.Request) {
	user := strings.TrimSpace(r.Header.Get(userHeader))
	if user == "" {
		writeError(w, http.StatusUnauthorized, "sign in required")
		return
	}
	var in observations.Input
	if err := decodeBody(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	in.UserID = user

	o, err := a.Observations.Submit(r.Context(), in)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, o)
	case errors.Is(err, observations.ErrInvalid):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		a.logger().ErrorContext(r.Context(), "submit observation", "err", err)
		writeError(w, http.StatusInternalServerError, msgInternalError)
	}
}

func (a *API) geocode(w http.ResponseWriter, r *http.Request) {
	place, ok, err := a.Geocoder.Search(r.Context(), r.URL.Query().Get("q"))
	switch {
	case errors.Is(err, geocode.ErrEmptyQuery):
		writeError(w, http.StatusBadRequest, "q is required")
	case err != nil:
		a.logger().WarnContext(r.Context(), "geocode failed", "err", err)
		writeError(w, http.StatusBadGateway, "geocoding failed")
	case !ok:
		writeError(w, http.StatusNotFound, "location not found")
	default:
		writeJSON(w, http.StatusOK, place)
	}
}

type hotspot struct {
	DataType  string  `json:"dataType"`
	Cell      string  `json:"cell"`
	Score     float64 `json:"score"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func (a *API) hotspots(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := defaultHotspots
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHotspots)
	}
	res := -1
	if raw := q.Get("res"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 || n > 15 {
			writeError(w, http.StatusBadRequest, "res must be an integer in [0, 15]")
			return
		}
		res = n
	}

	var top []hotness.Scored
	if res >= 0 && a.Cells != nil {
		top = a.fold(a.Demand.Top(hotspotFoldScan), res)
	} else {
		top = a.Demand.Top(limit)
	}
	if len(top) > limit {
		top = top[:limit]
	}

	out := make([]hotspot, 0, len(top))
	for _, s := range top {
		d, cell, ok := hotness.SplitKey(s.Key)
		if !ok {
			continue
		}
		h := hotspot{DataType: string(d), Cell: cell, Score: s.Score}
		if a.Cells != nil {
			if c, err := a.Cells.Center(cell); err == nil {
				h.Latitude, h.Longitude = c.Lat, c.Lon
			}
		}
		out = append(out, h)
	}
	writeJSON(w, http.StatusOK, map[string]any{"hotspots": out})
}

// fold sums scores of cells sharing a parent at res. Cells already coarser than
// res are kept as they are.
func (a *API) fold(in []hotness.Scored, res int) []hotness.Scored {
	sums := make(map[string]float64, len(in))
	var order []string
	for _, s := range in {
		d, cell, ok := hotness.SplitKey(s.Key)
		if !ok {
			continue
		}
		if p, err := a.Cells.ToParent(cell, res); err == nil {
			cell = p
		}
		k := hotness.Key(d, cell)
		if _, seen := sums[k]; !seen {
			order = append(order, k)
		}
		sums[k] += s.Score
	}
	out := make([]hotness.Scored, 0, len(order))
	for _, k := range order {
		out = append(out, hotness.Scored{Key: k, Score: sums[k]})
	}
	hotness.SortScored(out)
	return out
}

func optFloat(raw string) (*float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("parse float: %w", err)
	}
	return &f, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, out any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
