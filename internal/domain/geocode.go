package domain

import (
	"context"
	"log/slog"
)

// FillAddress completes missing address fields on p by reverse geocoding its
// coordinates. Fields the citizen already filled are never overwritten. If
// geocoder is nil, the coordinates are missing or out of range, or geocoding
// fails, p is returned unchanged (graceful degradation).
func FillAddress(ctx context.Context, p IssuePayload, geocoder Geocoder, logger *slog.Logger) IssuePayload {
	if geocoder == nil || !needsAddress(p) {
		return p
	}
	pos, ok := p.Position()
	if !ok || !pos.Valid() {
		return p
	}

	result, err := geocoder.ReverseGeocode(ctx, pos.Lat, pos.Lng)
	if err != nil {
		logger.Warn("reverse geocoding failed",
			"lat", pos.Lat,
			"lng", pos.Lng,
			"error", err,
		)
		return p
	}
	if result.FormattedAddress == "" {
		return p
	}

	setIfEmpty(&p.FullAddress, result.FormattedAddress)
	setIfEmpty(&p.LocationText, result.FormattedAddress)
	setIfEmpty(&p.Street, result.Address.Street)
	setIfEmpty(&p.Locality, result.Address.Locality)
	setIfEmpty(&p.City, result.Address.City)
	setIfEmpty(&p.State, result.Address.State)
	setIfEmpty(&p.Pincode, result.Address.Pincode)
	setIfEmpty(&p.Country, result.Address.Country)
	return p
}

func needsAddress(p IssuePayload) bool {
	return p.ResolvedAddress() == "" || p.City == "" || p.State == "" || p.Pincode == "" || p.Country == ""
}

func setIfEmpty(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}
