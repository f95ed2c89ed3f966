package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/harborbank/gatekeeper/internal/models"
)

// GeoResult is the outcome of resolving an IP address to a coarse location.
// Known=false means the provider had no data for the address; the caller
// scores that case separately instead of treating it as an error.
type GeoResult struct {
	Known     bool
	Country   string
	Region    string
	City      string
	Latitude  float64
	Longitude float64
}

// Point converts a known result to a pattern point.
func (g GeoResult) Point() models.GeoPoint {
	return models.GeoPoint{
		Country:   g.Country,
		Region:    g.Region,
		City:      g.City,
		Latitude:  g.Latitude,
		Longitude: g.Longitude,
	}
}

// GeoLookup resolves client IPs to coarse locations. Lookups sit on the
// login path, so implementations must bound their latency.
type GeoLookup interface {
	Lookup(ctx context.Context, ipAddress string) (GeoResult, error)
}

// HTTPGeoLookup queries an external IP geolocation endpoint that serves
// JSON at GET {baseURL}/{ip}.
type HTTPGeoLookup struct {
	baseURL string
	client  *http.Client
}

// NewHTTPGeoLookup creates a lookup against baseURL with a hard request timeout.
func NewHTTPGeoLookup(baseURL string, timeout time.Duration) *HTTPGeoLookup {
	return &HTTPGeoLookup{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// NoopGeoLookup resolves every address as unknown. Used when no provider
// is configured; the scorer falls back to its unknown-geo posture.
type NoopGeoLookup struct{}

func (NoopGeoLookup) Lookup(ctx context.Context, ipAddress string) (GeoResult, error) {
	return GeoResult{Known: false}, nil
}

type geoProviderResponse struct {
	Status    string  `json:"status"`
	Country   string  `json:"country"`
	Region    string  `json:"regionName"`
	City      string  `json:"city"`
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
}

func (g *HTTPGeoLookup) Lookup(ctx context.Context, ipAddress string) (GeoResult, error) {
	endpoint := fmt.Sprintf("%s/%s", g.baseURL, url.PathEscape(ipAddress))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return GeoResult{}, fmt.Errorf("build geo lookup request: %w", err)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return GeoResult{}, fmt.Errorf("geo lookup request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return GeoResult{}, fmt.Errorf("geo lookup returned status %d", resp.StatusCode)
	}

	var body geoProviderResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return GeoResult{}, fmt.Errorf("decode geo lookup response: %w", err)
	}

	if body.Status != "success" || body.Country == "" {
		return GeoResult{Known: false}, nil
	}

	return GeoResult{
		Known:     true,
		Country:   body.Country,
		Region:    body.Region,
		City:      body.City,
		Latitude:  body.Latitude,
		Longitude: body.Longitude,
	}, nil
}
