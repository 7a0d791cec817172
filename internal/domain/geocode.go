package domain

import (
	"context"
	"log/slog"
)

// BackfillLocality fills the city, state and zip of an address that has
// neither a city nor a state, using the geocoder on the given point. Existing
// fields are never overwritten. If geocoder is nil or the lookup fails, the
// address is returned unchanged.
func BackfillLocality(ctx context.Context, addr Address, p Point, geocoder ReverseGeocoder, logger *slog.Logger) Address {
	if geocoder == nil || addr.City != "" || addr.State != "" {
		return addr
	}

	result, err := geocoder.ReverseGeocode(ctx, p)
	if err != nil {
		logger.Warn("reverse geocoding failed",
			"lat", p.Lat,
			"lng", p.Lng,
			"error", err,
		)
		return addr
	}

	addr.City = result.City
	addr.State = result.State
	if addr.Zip == "" {
		addr.Zip = result.Zip
	}
	return addr
}
