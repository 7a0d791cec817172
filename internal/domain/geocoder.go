package domain

import "context"

// GeocodingResult contains locality data returned by a reverse geocoding provider.
type GeocodingResult struct {
	FormattedAddress string
	City             string
	State            string
	Zip              string
	Confidence       float64 // 0.0–1.0 provider relevance
}

// ReverseGeocoder resolves coordinates to locality details.
type ReverseGeocoder interface {
	ReverseGeocode(ctx context.Context, p Point) (GeocodingResult, error)
}
