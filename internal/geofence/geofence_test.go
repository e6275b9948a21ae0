package geofence

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistance(t *testing.T) {
	tests := []struct {
		name    string
		a, b    Point
		want    float64
		epsilon float64
	}{
		{
			name:    "same point",
			a:       Point{Lat: 10.7769, Lng: 106.7009},
			b:       Point{Lat: 10.7769, Lng: 106.7009},
			want:    0,
			epsilon: 0.001,
		},
		{
			name:    "one degree of latitude",
			a:       Point{Lat: 0, Lng: 0},
			b:       Point{Lat: 1, Lng: 0},
			want:    111195,
			epsilon: 1,
		},
		{
			name:    "london to paris",
			a:       Point{Lat: 51.5074, Lng: -0.1278},
			b:       Point{Lat: 48.8566, Lng: 2.3522},
			want:    343556,
			epsilon: 500,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Distance(tt.a, tt.b), tt.epsilon)
		})
	}
}

func TestValidate(t *testing.T) {
	site := Config{Lat: 0, Lng: 0, RadiusM: 100}
	accuracy := 250.0

	tests := []struct {
		name        string
		point       *Point
		accuracy    *float64
		wantValid   bool
		wantMissing bool
	}{
		{
			name:      "at center",
			point:     &Point{Lat: 0, Lng: 0},
			wantValid: true,
		},
		{
			name:      "inside radius",
			point:     &Point{Lat: 0.0005, Lng: 0},
			wantValid: true,
		},
		{
			name:      "outside radius",
			point:     &Point{Lat: 0.01, Lng: 0},
			wantValid: false,
		},
		{
			name:      "poor accuracy does not change verdict",
			point:     &Point{Lat: 0.01, Lng: 0},
			accuracy:  &accuracy,
			wantValid: false,
		},
		{
			name:        "missing location",
			point:       nil,
			wantValid:   false,
			wantMissing: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Validate(tt.point, tt.accuracy, site)

			assert.Equal(t, tt.wantValid, result.Valid)
			assert.Equal(t, tt.wantMissing, result.GPSMissing)
			assert.Equal(t, tt.accuracy, result.AccuracyM)
		})
	}
}

func TestValidate_BoundaryIsInclusive(t *testing.T) {
	center := Point{Lat: 45, Lng: 7}
	edge := Point{Lat: 45.001, Lng: 7}
	radius := Distance(center, edge)

	result := Validate(&edge, nil, Config{Lat: center.Lat, Lng: center.Lng, RadiusM: radius})
	assert.True(t, result.Valid)
	assert.InDelta(t, radius, result.DistanceM, 1e-9)
}
