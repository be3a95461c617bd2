package router

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/geoquery-cache/internal/cache/memstore"
	"github.com/mohammed-shakir/geoquery-cache/internal/core/model"
	"github.com/mohammed-shakir/geoquery-cache/internal/database/dbtest"
	"github.com/mohammed-shakir/geoquery-cache/internal/fetcher"
	"github.com/mohammed-shakir/geoquery-cache/internal/gateway"
	"github.com/mohammed-shakir/geoquery-cache/internal/geocode"
	"github.com/mohammed-shakir/geoquery-cache/internal/hotness"
	"github.com/mohammed-shakir/geoquery-cache/internal/hotness/expdecay"
	h3mapper "github.com/mohammed-shakir/geoquery-cache/internal/mapper/h3"
	"github.com/mohammed-shakir/geoquery-cache/internal/observations"
)

type resolverFunc func(context.Context, gateway.Request) (gateway.Result, error)

func (f resolverFunc) Resolve(ctx context.Context, r gateway.Request) (gateway.Result, error) {
	return f(ctx, r)
}

type fakeGeocoder struct {
	place geocode.Place
	ok    bool
	err   error
}

func (g fakeGeocoder) Search(_ context.Context, q string) (geocode.Place, bool, error) {
	if strings.TrimSpace(q) == "" {
		return geocode.Place{}, false, geocode.ErrEmptyQuery
	}
	return g.place, g.ok, g.err
}

func serve(api *API) http.Handler {
	r := chi.NewRouter()
	api.Mount(r)
	return r
}

func do(t *testing.T, h http.Handler, method, target, body string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func errorBody(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var e struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &e); err != nil {
		t.Fatalf("decode error body %q: %v", rr.Body.String(), err)
	}
	return e.Error
}

func newGatewayAPI(t *testing.T, elevation float64) *API {
	t.Helper()
	mem, err := memstore.New(100)
	if err != nil {
		t.Fatalf("memstore: %v", err)
	}
	reg := fetcher.NewRegistry()
	reg.Register(model.Flood, fetcher.FetcherFunc(func(context.Context, model.Point) model.Payload {
		risk, drain := fetcher.ClassifyFlood(elevation)
		return model.FloodPayload{Elevation: elevation, FloodRisk: risk, DrainageCapacity: drain,
			Record: model.Record{Source: fetcher.FloodSource, Provenance: model.Real, LastUpdated: time.Now().UTC()}}
	}))
	return &API{Resolver: gateway.New(mem, reg)}
}

func TestSatelliteData_PostThenCachedGet(t *testing.T) {
	h := serve(newGatewayAPI(t, 4.2))

	rr := do(t, h, http.MethodPost, "/v1/satellite-data", `{"dataType":"flood","latitude":29.7604,"longitude":-95.3698}`, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	var first struct {
		Data   model.FloodPayload `json:"data"`
		Cached bool               `json:"cached"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &first); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if first.Cached || first.Data.Elevation != 4.2 || first.Data.FloodRisk != "high" || first.Data.DrainageCapacity != "poor" {
		t.Fatalf("first=%+v", first)
	}

	rr = do(t, h, http.MethodGet, "/v1/satellite-data?dataType=flood&latitude=29.7605&longitude=-95.3699", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	var second struct {
		Data   model.FloodPayload `json:"data"`
		Cached bool               `json:"cached"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &second); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !second.Cached || second.Data.Elevation != first.Data.Elevation {
		t.Fatalf("second=%+v", second)
	}
}

func TestSatelliteData_BadRequests(t *testing.T) {
	h := serve(newGatewayAPI(t, 20))
	cases := []struct {
		method, target, body string
	}{
		{http.MethodPost, "/v1/satellite-data", `{"dataType":"bogus","latitude":1,"longitude":1}`},
		{http.MethodPost, "/v1/satellite-data", `{"dataType":"flood","latitude":1}`},
		{http.MethodPost, "/v1/satellite-data", `{not json`},
		{http.MethodGet, "/v1/satellite-data?dataType=flood&latitude=north&longitude=1", ""},
		{http.MethodGet, "/v1/satellite-data?dataType=flood&latitude=91&longitude=1", ""},
	}
	for _, c := range cases {
		rr := do(t, h, c.method, c.target, c.body, nil)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s %s %s: status=%d", c.method, c.target, c.body, rr.Code)
		}
		if errorBody(t, rr) == "" {
			t.Fatalf("%s %s: empty error", c.method, c.target)
		}
	}
}

func TestSatelliteData_ErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		msg    string
	}{
		{errors.Join(gateway.ErrStoreUnavailable, errors.New("dial tcp 10.0.0.1:6379: refused")), http.StatusServiceUnavailable, "cache store unavailable"},
		{errors.New("surprise"), http.StatusInternalServerError, "internal error"},
	}
	for _, c := range cases {
		api := &API{Resolver: resolverFunc(func(context.Context, gateway.Request) (gateway.Result, error) {
			return gateway.Result{}, c.err
		})}
		rr := do(t, serve(api), http.MethodPost, "/v1/satellite-data", `{"dataType":"heat","latitude":1,"longitude":1}`, nil)
		if rr.Code != c.status || errorBody(t, rr) != c.msg {
			t.Fatalf("err=%v: status=%d body=%s", c.err, rr.Code, rr.Body.String())
		}
	}
}

func newObservationsAPI(t *testing.T) http.Handler {
	t.Helper()
	repo, err := observations.New(dbtest.MustOpen(t), 100)
	if err != nil {
		t.Fatalf("observations: %v", err)
	}
	return serve(&API{Resolver: newGatewayAPI(t, 1).Resolver, Observations: repo})
}

func TestObservations_SubmitAndList(t *testing.T) {
	h := newObservationsAPI(t)
	body := `{"observation_type":"flooding","severity":"high","description":"water on Main St","latitude":29.76,"longitude":-95.37,"user_id":"spoofed"}`

	rr := do(t, h, http.MethodPost, "/v1/observations", body, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous submit status=%d", rr.Code)
	}

	rr = do(t, h, http.MethodPost, "/v1/observations", body, map[string]string{"X-User-ID": "user-42"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	var o observations.Observation
	if err := json.Unmarshal(rr.Body.Bytes(), &o); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if o.UserID != "user-42" || o.ID == "" {
		t.Fatalf("observation=%+v", o)
	}

	rr = do(t, h, http.MethodPost, "/v1/observations", `{"observation_type":"earthquake","severity":"high","latitude":1,"longitude":1}`, map[string]string{"X-User-ID": "user-42"})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("invalid type status=%d", rr.Code)
	}

	rr = do(t, h, http.MethodGet, "/v1/observations?type=flooding&limit=5", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("list status=%d", rr.Code)
	}
	var list struct {
		Observations []observations.Observation `json:"observations"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Observations) != 1 || list.Observations[0].Description != "water on Main St" {
		t.Fatalf("list=%+v", list)
	}

	for _, target := range []string{"/v1/observations?limit=abc", "/v1/observations?type=volcano"} {
		if rr := do(t, h, http.MethodGet, target, "", nil); rr.Code != http.StatusBadRequest {
			t.Fatalf("%s status=%d", target, rr.Code)
		}
	}
}

func TestGeocode_StatusMapping(t *testing.T) {
	cases := []struct {
		g      fakeGeocoder
		target string
		status int
	}{
		{fakeGeocoder{place: geocode.Place{Name: "Houston", Lat: 29.76, Lon: -95.37}, ok: true}, "/v1/geocode?q=Houston", http.StatusOK},
		{fakeGeocoder{}, "/v1/geocode?q=", http.StatusBadRequest},
		{fakeGeocoder{}, "/v1/geocode?q=Atlantis", http.StatusNotFound},
		{fakeGeocoder{err: geocode.ErrUpstream}, "/v1/geocode?q=Paris", http.StatusBadGateway},
	}
	for _, c := range cases {
		h := serve(&API{Resolver: resolverFunc(nil), Geocoder: c.g})
		rr := do(t, h, http.MethodGet, c.target, "", nil)
		if rr.Code != c.status {
			t.Fatalf("%s: status=%d body=%s", c.target, rr.Code, rr.Body.String())
		}
	}
}

func TestHotspots_TopAndFold(t *testing.T) {
	m := h3mapper.New()
	near, err := m.Cell(model.Point{Lat: 29.7604, Lon: -95.3698}, 6)
	if err != nil {
		t.Fatalf("Cell: %v", err)
	}
	ring, err := m.Neighborhood(model.Point{Lat: 29.7604, Lon: -95.3698}, 6)
	if err != nil {
		t.Fatalf("Neighborhood: %v", err)
	}
	nearRoot, err := m.ToParent(near, 0)
	if err != nil {
		t.Fatalf("ToParent: %v", err)
	}
	var sibling string
	for _, c := range ring {
		if root, err := m.ToParent(c, 0); err == nil && c != near && root == nearRoot {
			sibling = c
			break
		}
	}
	if sibling == "" {
		t.Fatal("no neighbour shares the res-0 parent")
	}

	tr := expdecay.New(time.Hour)
	for range 3 {
		tr.Inc(hotness.Key(model.Flood, near))
	}
	tr.Inc(hotness.Key(model.Flood, sibling))
	tr.Inc(hotness.Key(model.Heat, near))

	h := serve(&API{Resolver: resolverFunc(nil), Demand: tr, Cells: m})

	rr := do(t, h, http.MethodGet, "/v1/hotspots?limit=2", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	var got struct {
		Hotspots []hotspot `json:"hotspots"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Hotspots) != 2 || got.Hotspots[0].Cell != near || got.Hotspots[0].DataType != "flood" {
		t.Fatalf("hotspots=%+v", got.Hotspots)
	}
	if got.Hotspots[0].Latitude == 0 || got.Hotspots[0].Longitude == 0 {
		t.Fatalf("centre missing: %+v", got.Hotspots[0])
	}

	rr = do(t, h, http.MethodGet, "/v1/hotspots?res=0", "", nil)
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Hotspots) != 2 {
		t.Fatalf("folded hotspots=%+v", got.Hotspots)
	}
	if got.Hotspots[0].DataType != "flood" || got.Hotspots[0].Score < 3.99 {
		t.Fatalf("flood cells should fold into one res-0 parent: %+v", got.Hotspots)
	}

	for _, target := range []string{"/v1/hotspots?limit=0", "/v1/hotspots?res=16"} {
		if rr := do(t, h, http.MethodGet, target, "", nil); rr.Code != http.StatusBadRequest {
			t.Fatalf("%s status=%d", target, rr.Code)
		}
	}
}

func TestMount_SkipsNilDependencies(t *testing.T) {
	h := serve(&API{Resolver: resolverFunc(nil)})
	for _, target := range []string{"/v1/observations", "/v1/geocode?q=x", "/v1/hotspots"} {
		if rr := do(t, h, http.MethodGet, target, "", nil); rr.Code != http.StatusNotFound {
			t.Fatalf("%s status=%d", target, rr.Code)
		}
	}
}
