package domain

import "context"

// Address is the structured breakdown of a geocoded place.
type Address struct {
	Street   string `json:"street,omitempty"`
	Locality string `json:"locality,omitempty"`
	City     string `json:"city,omitempty"`
	State    string `json:"state,omitempty"`
	Pincode  string `json:"pincode,omitempty"`
	Country  string `json:"country,omitempty"`
}

// GeocodingResult contains location data returned by a geocoding provider.
type GeocodingResult struct {
	Lat              float64 `json:"lat"`
	Lon              float64 `json:"lng"`
	FormattedAddress string  `json:"fullAddress"`
	PlaceName        string  `json:"placeName"`
	Confidence       float64 `json:"confidence"` // 0.0–1.0 provider confidence score
	Address          Address `json:"address"`
}

// Geocoder resolves between coordinates and addresses.
type Geocoder interface {
	// ForwardGeocode converts a free-text address to coordinates.
	ForwardGeocode(ctx context.Context, query string) (GeocodingResult, error)

	// ReverseGeocode converts coordinates to place details.
	ReverseGeocode(ctx context.Context, lat, lon float64) (GeocodingResult, error)
}
