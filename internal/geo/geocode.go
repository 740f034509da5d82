package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultGeocodeBaseURL  = "https://nominatim.openstreetmap.org/search"
	defaultGeocodeInterval = time.Second
	geocodeUserAgent       = "pulseboard-sync/1.0"
)

var (
	// ErrAddressNotFound indicates the lookup produced no result.
	ErrAddressNotFound = errors.New("geo: address not found")
	// ErrEmptyAddress indicates no address component was provided.
	ErrEmptyAddress = errors.New("geo: empty address")
	// ErrGeocodeUnavailable indicates a transport or upstream failure.
	ErrGeocodeUnavailable = errors.New("geo: geocoding service unavailable")
)

// GeocodeResult is a resolved free-text address.
type GeocodeResult struct {
	Lat         float64
	Lng         float64
	DisplayName string
}

// GeocoderConfig bundles the dependencies of the address lookup client.
type GeocoderConfig struct {
	BaseURL     string
	HTTPClient  *http.Client
	Logger      *zap.Logger
	Clock       func() time.Time
	MinInterval time.Duration
}

// Geocoder resolves city/state/country triples to coordinates against
// a Nominatim-style endpoint. The upstream service allows one request
// per second, so consecutive lookups are paced locally; callers must
// not assume bursts go through.
type Geocoder struct {
	baseURL     string
	httpClient  *http.Client
	logger      *zap.Logger
	clock       func() time.Time
	minInterval time.Duration

	mu          sync.Mutex
	nextAllowed time.Time
}

// NewGeocoder constructs a Geocoder with validated configuration.
func NewGeocoder(cfg GeocoderConfig) *Geocoder {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultGeocodeBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	minInterval := cfg.MinInterval
	if minInterval <= 0 {
		minInterval = defaultGeocodeInterval
	}
	return &Geocoder{
		baseURL:     baseURL,
		httpClient:  httpClient,
		logger:      logger,
		clock:       clock,
		minInterval: minInterval,
	}
}

type geocodeResponseEntry struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

// Geocode resolves the provided address components. Blank components
// are omitted; at least one is required.
func (g *Geocoder) Geocode(ctx context.Context, city, state, country string) (GeocodeResult, error) {
	parts := make([]string, 0, 3)
	for _, part := range []string{city, state, country} {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	if len(parts) == 0 {
		return GeocodeResult{}, ErrEmptyAddress
	}

	if err := g.waitForSlot(ctx); err != nil {
		return GeocodeResult{}, err
	}

	query := url.Values{}
	query.Set("q", strings.Join(parts, ", "))
	query.Set("format", "json")
	query.Set("limit", "1")

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"?"+query.Encode(), nil)
	if err != nil {
		return GeocodeResult{}, fmt.Errorf("%w: %v", ErrGeocodeUnavailable, err)
	}
	request.Header.Set("User-Agent", geocodeUserAgent)

	response, err := g.httpClient.Do(request)
	if err != nil {
		g.logger.Warn("geocode request failed", zap.Error(err))
		return GeocodeResult{}, fmt.Errorf("%w: %v", ErrGeocodeUnavailable, err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		g.logger.Warn("geocode upstream rejected request", zap.Int("status", response.StatusCode))
		return GeocodeResult{}, fmt.Errorf("%w: status %d", ErrGeocodeUnavailable, response.StatusCode)
	}

	var entries []geocodeResponseEntry
	if err := json.NewDecoder(response.Body).Decode(&entries); err != nil {
		return GeocodeResult{}, fmt.Errorf("%w: %v", ErrGeocodeUnavailable, err)
	}
	if len(entries) == 0 {
		return GeocodeResult{}, ErrAddressNotFound
	}

	lat, latErr := strconv.ParseFloat(entries[0].Lat, 64)
	lng, lngErr := strconv.ParseFloat(entries[0].Lon, 64)
	if latErr != nil || lngErr != nil {
		return GeocodeResult{}, fmt.Errorf("%w: malformed coordinates", ErrGeocodeUnavailable)
	}

	return GeocodeResult{Lat: lat, Lng: lng, DisplayName: entries[0].DisplayName}, nil
}

// waitForSlot reserves the next request slot, sleeping until the
// upstream's one-request-per-second budget allows another call.
func (g *Geocoder) waitForSlot(ctx context.Context) error {
	g.mu.Lock()
	now := g.clock()
	wait := g.nextAllowed.Sub(now)
	if wait < 0 {
		wait = 0
	}
	slot := now.Add(wait)
	g.nextAllowed = slot.Add(g.minInterval)
	g.mu.Unlock()

	if wait == 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		// Release the reservation so a cancelled wait does not delay
		// the next caller. If someone reserved after us the slot is
		// theirs to keep.
		g.mu.Lock()
		if g.nextAllowed.Equal(slot.Add(g.minInterval)) {
			g.nextAllowed = slot
		}
		g.mu.Unlock()
		return ctx.Err()
	}
}
