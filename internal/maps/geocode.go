// README: Google Maps reverse-geocoding used to put a human-readable address on support tickets.
package maps

import (
	"context"
	"fmt"

	"googlemaps.github.io/maps"

	"vigil/internal/types"
)

// GeocodeService handles interactions with the Google Maps Geocoding API.
type GeocodeService struct {
	client *maps.Client
}

// NewGeocodeService creates a new GeocodeService with the given API key.
func NewGeocodeService(apiKey string) (*GeocodeService, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &GeocodeService{client: client}, nil
}

// ReverseGeocode returns the formatted address nearest to the given point.
func (s *GeocodeService) ReverseGeocode(ctx context.Context, p types.Point) (string, error) {
	results, err := s.client.ReverseGeocode(ctx, &maps.GeocodingRequest{
		LatLng: &maps.LatLng{Lat: p.Lat, Lng: p.Lng},
	})
	if err != nil {
		return "", fmt.Errorf("maps api error: %w", err)
	}
	if len(results) == 0 {
		return "", fmt.Errorf("no address found")
	}
	return results[0].FormattedAddress, nil
}
