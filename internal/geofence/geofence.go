package geofence

import "math"

// EarthRadiusM is the mean Earth radius used for haversine distances
const EarthRadiusM = 6371000.0

// Point is a WGS84 coordinate
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Config is a circular job-site boundary owned by the job registry
type Config struct {
	Lat     float64 `json:"lat" db:"geofence_lat"`
	Lng     float64 `json:"lng" db:"geofence_lng"`
	RadiusM float64 `json:"radiusM" db:"geofence_radius_m"`
}

// Result is the verdict for a single reading
type Result struct {
	Valid      bool     `json:"valid"`
	DistanceM  float64  `json:"distanceM"`
	GPSMissing bool     `json:"gpsMissing"`
	AccuracyM  *float64 `json:"accuracyM,omitempty"`
}

// Validate checks a reading against a geofence.
// A nil point is an expected input (location denied) and yields Valid=false with GPSMissing set.
// Accuracy is carried through for logging only; it never widens or narrows the radius.
func Validate(point *Point, accuracyM *float64, cfg Config) Result {
	if point == nil {
		return Result{Valid: false, GPSMissing: true, AccuracyM: accuracyM}
	}

	distance := Distance(*point, Point{Lat: cfg.Lat, Lng: cfg.Lng})
	return Result{
		Valid:     distance <= cfg.RadiusM,
		DistanceM: distance,
		AccuracyM: accuracyM,
	}
}

// Distance returns the great-circle distance in meters
func Distance(a, b Point) float64 {
	lat1 := toRadians(a.Lat)
	lat2 := toRadians(b.Lat)
	dLat := toRadians(b.Lat - a.Lat)
	dLng := toRadians(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * EarthRadiusM * math.Asin(math.Min(1, math.Sqrt(h)))
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
