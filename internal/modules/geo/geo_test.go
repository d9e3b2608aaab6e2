package geo

import (
	"errors"
	"math"
	"testing"
	"time"

	"vigil/internal/types"
)

func TestDistance_KnownDistances(t *testing.T) {
	tests := []struct {
		name      string
		a, b      types.Point
		wantM     float64
		tolerance float64
	}{
		{
			name:      "same point",
			a:         types.Point{Lat: 12.9716, Lng: 77.5946},
			b:         types.Point{Lat: 12.9716, Lng: 77.5946},
			wantM:     0,
			tolerance: 0.001,
		},
		{
			name:      "~100m apart in Bengaluru",
			a:         types.Point{Lat: 12.9716, Lng: 77.5946},
			b:         types.Point{Lat: 12.9725, Lng: 77.5946},
			wantM:     100,
			tolerance: 5,
		},
		{
			name:      "Taipei 101 to Taipei Main Station (~5km)",
			a:         types.Point{Lat: 25.0340, Lng: 121.5645},
			b:         types.Point{Lat: 25.0478, Lng: 121.5170},
			wantM:     5200,
			tolerance: 1000,
		},
		{
			name:      "New York to Los Angeles (~3944km)",
			a:         types.Point{Lat: 40.7128, Lng: -74.0060},
			b:         types.Point{Lat: 34.0522, Lng: -118.2437},
			wantM:     3944000,
			tolerance: 50000,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Distance(tt.a, tt.b)
			if err != nil {
				t.Fatalf("Distance() error = %v", err)
			}
			if math.Abs(got-tt.wantM) > tt.tolerance {
				t.Errorf("Distance() = %f, want %f (±%f)", got, tt.wantM, tt.tolerance)
			}
		})
	}
}

func TestDistance_Symmetry(t *testing.T) {
	a := types.Point{Lat: 25.0, Lng: 121.0}
	b := types.Point{Lat: 26.0, Lng: 122.0}
	d1, err := Distance(a, b)
	if err != nil {
		t.Fatalf("Distance(a,b) error = %v", err)
	}
	d2, err := Distance(b, a)
	if err != nil {
		t.Fatalf("Distance(b,a) error = %v", err)
	}
	if math.Abs(d1-d2) > 0.0001 {
		t.Errorf("distance is not symmetric: %f vs %f", d1, d2)
	}
}

func TestDistance_InvalidCoordinates(t *testing.T) {
	tests := []struct {
		name string
		a, b types.Point
	}{
		{name: "lat too high", a: types.Point{Lat: 90.1}, b: types.Point{}},
		{name: "lat too low", a: types.Point{Lat: -91}, b: types.Point{}},
		{name: "lng too high", a: types.Point{}, b: types.Point{Lng: 180.5}},
		{name: "lng too low", a: types.Point{}, b: types.Point{Lng: -181}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Distance(tt.a, tt.b); !errors.Is(err, ErrInvalidCoordinates) {
				t.Errorf("Distance() error = %v, want ErrInvalidCoordinates", err)
			}
		})
	}
}

func TestCheckStationary(t *testing.T) {
	anchor := types.Point{Lat: 12.9716, Lng: 77.5946}
	near := types.Point{Lat: 12.97163, Lng: 77.59463} // a few meters away
	far := types.Point{Lat: 12.9725, Lng: 77.5946}    // ~100m away
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name             string
		cur              types.Point
		elapsed          time.Duration
		isStationary     bool
		thresholdReached bool
	}{
		{"near, window elapsed", near, 16 * time.Minute, true, true},
		{"near, exactly at window", near, 15 * time.Minute, true, true},
		{"near, window not elapsed", near, 14 * time.Minute, true, false},
		{"far, window elapsed", far, 20 * time.Minute, false, false},
		{"far, window not elapsed", far, 1 * time.Minute, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CheckStationary(anchor, tt.cur, now.Add(-tt.elapsed), now)
			if err != nil {
				t.Fatalf("CheckStationary() error = %v", err)
			}
			if got.IsStationary != tt.isStationary {
				t.Errorf("IsStationary = %v, want %v (distance %f)", got.IsStationary, tt.isStationary, got.DistanceMeters)
			}
			if got.ThresholdReached != tt.thresholdReached {
				t.Errorf("ThresholdReached = %v, want %v", got.ThresholdReached, tt.thresholdReached)
			}
		})
	}
}
