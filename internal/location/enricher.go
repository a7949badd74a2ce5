package location

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"emergency-response/internal/model"

	gocache "github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
)

var (
	// ErrPermissionDenied is returned by a PositionSource when the device
	// refuses to share its position.
	ErrPermissionDenied = errors.New("location permission denied")

	// ErrUnavailable means no position could be resolved. Callers must be
	// able to proceed without a location attachment.
	ErrUnavailable = errors.New("location unavailable")
)

// FallbackAddress is used when reverse geocoding fails; resolution itself
// still succeeds.
const FallbackAddress = "Location not specified"

// PositionSource is the device-location boundary.
type PositionSource interface {
	Position(ctx context.Context) (lat, lng float64, err error)
}

type Geocoder interface {
	ReverseGeocode(ctx context.Context, lat, lng float64) (string, error)
}

// EnvSource reads a fixed position from RESPONDER_LAT / RESPONDER_LNG. It
// stands in for the device GPS on the daemon; unset vars behave like a
// denied permission prompt.
type EnvSource struct{}

func (EnvSource) Position(ctx context.Context) (float64, float64, error) {
	latStr, lngStr := os.Getenv("RESPONDER_LAT"), os.Getenv("RESPONDER_LNG")
	if latStr == "" || lngStr == "" {
		return 0, 0, ErrPermissionDenied
	}
	lat, err := strconv.ParseFloat(latStr, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parse RESPONDER_LAT: %w", err)
	}
	lng, err := strconv.ParseFloat(lngStr, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parse RESPONDER_LNG: %w", err)
	}
	return lat, lng, nil
}

// HTTPGeocoder resolves coordinates against a nominatim-style reverse
// endpoint: GET {base}/reverse?lat=..&lon=..&format=json.
type HTTPGeocoder struct {
	baseURL string
	client  *http.Client
}

func NewHTTPGeocoder(baseURL string) *HTTPGeocoder {
	return &HTTPGeocoder{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

func (g *HTTPGeocoder) ReverseGeocode(ctx context.Context, lat, lng float64) (string, error) {
	if g.baseURL == "" {
		return "", errors.New("geocoder URL not configured")
	}

	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(lat, 'f', 6, 64))
	q.Set("lon", strconv.FormatFloat(lng, 'f', 6, 64))
	q.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/reverse?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("geocoder returned status %d", resp.StatusCode)
	}

	var body struct {
		DisplayName string `json:"display_name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	if body.DisplayName == "" {
		return "", errors.New("geocoder returned no address")
	}
	return body.DisplayName, nil
}

// Enricher acquires a device position on demand and attaches a
// human-readable address to it.
type Enricher struct {
	source   PositionSource
	geocoder Geocoder
	cache    *gocache.Cache
	logger   *logrus.Logger
}

func NewEnricher(source PositionSource, geocoder Geocoder, logger *logrus.Logger) *Enricher {
	return &Enricher{
		source:   source,
		geocoder: geocoder,
		cache:    gocache.New(10*time.Minute, 30*time.Minute),
		logger:   logger,
	}
}

// Resolve returns the current position with a reverse-geocoded address.
// Permission denial surfaces as ErrUnavailable; a geocoding failure
// degrades to FallbackAddress instead of failing the resolution.
func (e *Enricher) Resolve(ctx context.Context) (*model.Position, error) {
	lat, lng, err := e.source.Position(ctx)
	if err != nil {
		e.logger.WithError(err).Info("device position unavailable")
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	key := fmt.Sprintf("%.4f,%.4f", lat, lng)
	if cached, ok := e.cache.Get(key); ok {
		return &model.Position{Latitude: lat, Longitude: lng, Address: cached.(string)}, nil
	}

	addr, err := e.geocoder.ReverseGeocode(ctx, lat, lng)
	if err != nil {
		e.logger.WithError(err).Warn("reverse geocoding failed")
		return &model.Position{Latitude: lat, Longitude: lng, Address: FallbackAddress}, nil
	}

	e.cache.Set(key, addr, gocache.DefaultExpiration)
	return &model.Position{Latitude: lat, Longitude: lng, Address: addr}, nil
}
