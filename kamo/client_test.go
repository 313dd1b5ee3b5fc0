package kamo

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func testLocation(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/Chicago")
	if err != nil {
		t.Fatal(err)
	}
	return loc
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func TestFetchLoadHistory_ParsesActualSeries(t *testing.T) {
	loc := testLocation(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/areagrid/3" {
			t.Fatalf("unexpected path %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"Id": 3,
			"chartLineData": [
				{"label": "Forecast", "data": [110, 115, 120]},
				{"label": "Actual", "data": [100.5, null, 130]}
			],
			"lineChartLabels": ["2/7/2026 9:00", "2/7/2026 10:00", "02/07/2026 11:00"]
		}`))
	}))
	defer srv.Close()

	c := NewKAMOClient(srv.URL, 5*time.Second, loc, quietLogger())
	points, err := c.FetchLoadHistory(context.Background(), 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(points) != 2 {
		t.Fatalf("expected 2 points (null skipped), got %d", len(points))
	}
	want0 := time.Date(2026, 2, 7, 9, 0, 0, 0, loc)
	if !points[0].Timestamp.Equal(want0) || points[0].LoadKW != 100.5 {
		t.Fatalf("point 0 = %v %v, want %s 100.5", points[0].Timestamp, points[0].LoadKW, want0)
	}
	want1 := time.Date(2026, 2, 7, 11, 0, 0, 0, loc)
	if !points[1].Timestamp.Equal(want1) || points[1].LoadKW != 130 {
		t.Fatalf("point 1 = %v %v, want %s 130", points[1].Timestamp, points[1].LoadKW, want1)
	}
	if !points[0].Timestamp.Before(points[1].Timestamp) {
		t.Fatal("points must be ordered most-recent-last")
	}
}

func TestFetchLoadHistory_MissingActualSeriesIsMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"Id": 3, "chartLineData": [{"label": "Forecast", "data": [1]}], "lineChartLabels": ["2/7/2026 9:00"]}`))
	}))
	defer srv.Close()

	c := NewKAMOClient(srv.URL, 5*time.Second, testLocation(t), quietLogger())
	_, err := c.FetchLoadHistory(context.Background(), 3)
	if !errors.Is(err, ErrUpstreamMalformed) {
		t.Fatalf("expected ErrUpstreamMalformed, got %v", err)
	}
}

func TestFetchLoadHistory_BadJSONIsMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json at all`))
	}))
	defer srv.Close()

	c := NewKAMOClient(srv.URL, 5*time.Second, testLocation(t), quietLogger())
	_, err := c.FetchLoadHistory(context.Background(), 1)
	if !errors.Is(err, ErrUpstreamMalformed) {
		t.Fatalf("expected ErrUpstreamMalformed, got %v", err)
	}
}

func TestFetchLoadHistory_TransportFailureIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	c := NewKAMOClient(srv.URL, 2*time.Second, testLocation(t), quietLogger())
	_, err := c.FetchLoadHistory(context.Background(), 1)
	if !errors.Is(err, ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}
}

func TestFetchLoadHistory_ServerErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewKAMOClient(srv.URL, 2*time.Second, testLocation(t), quietLogger())
	_, err := c.FetchLoadHistory(context.Background(), 1)
	if !errors.Is(err, ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}
}

func TestFetchSubstations_MissingPowerFactorGetsSentinel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/arealoadtable/2" {
			t.Fatalf("unexpected path %q", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{
			"Id": 2,
			"areaLoadData": [
				{"name": "North", "kw": 1200, "kvar": 300, "pf": 0.97, "quality": true, "qualityNow": true},
				{"name": "South", "kw": 800, "kvar": 150}
			]
		}`))
	}))
	defer srv.Close()

	c := NewKAMOClient(srv.URL, 5*time.Second, testLocation(t), quietLogger())
	readings, err := c.FetchSubstations(context.Background(), 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(readings) != 2 {
		t.Fatalf("expected 2 readings, got %d", len(readings))
	}
	if readings[0].PF != 0.97 {
		t.Fatalf("expected pf 0.97, got %v", readings[0].PF)
	}
	if readings[1].PF != PFUnknown {
		t.Fatalf("expected sentinel pf for missing field, got %v", readings[1].PF)
	}
	if readings[1].Quality != nil {
		t.Fatalf("expected nil quality when absent, got %v", *readings[1].Quality)
	}
}

func TestFetchSubstations_EmptyListIsUpstreamEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"Id": 2, "areaLoadData": []}`))
	}))
	defer srv.Close()

	c := NewKAMOClient(srv.URL, 5*time.Second, testLocation(t), quietLogger())
	_, err := c.FetchSubstations(context.Background(), 2)
	if !errors.Is(err, ErrUpstreamEmpty) {
		t.Fatalf("expected ErrUpstreamEmpty, got %v", err)
	}
}

func TestFetchCooperatives_FlagsAggregates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/area" {
			t.Fatalf("unexpected path %q", r.URL.Path)
		}
		_, _ = w.Write([]byte(`[
			{"id": 20, "name": "KAMO Total", "abrev": "KAMO", "selected": false},
			{"id": 1, "name": "Alpha Electric", "abrev": "AE", "selected": true}
		]`))
	}))
	defer srv.Close()

	c := NewKAMOClient(srv.URL, 5*time.Second, testLocation(t), quietLogger())
	coops, err := c.FetchCooperatives(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(coops) != 2 {
		t.Fatalf("expected 2 cooperatives, got %d", len(coops))
	}
	if coops[0].ID != 1 || coops[0].IsAggregate {
		t.Fatalf("expected area 1 first and non-aggregate, got %+v", coops[0])
	}
	if coops[1].ID != 20 || !coops[1].IsAggregate {
		t.Fatalf("expected area 20 flagged aggregate, got %+v", coops[1])
	}
}
