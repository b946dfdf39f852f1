package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kjstillabower/aqi-watch/internal/models"
)

// PlaceSearcher resolves free-text place names to coordinates.
type PlaceSearcher interface {
	Search(ctx context.Context, query string) (models.Place, error)
}

// NominatimClient geocodes place names restricted to India.
type NominatimClient struct {
	upstream
	apiURL    string
	userAgent string
}

// NominatimOptions configures NewNominatimClient.
type NominatimOptions struct {
	APIURL    string
	UserAgent string
	Timeout   time.Duration
	Retry     RetryPolicy
	Breaker   Breaker
}

type nominatimPlace struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
	Name        string `json:"name"`
}

// NewNominatimClient returns a geocoding client. Nominatim's usage policy
// requires an identifying User-Agent.
func NewNominatimClient(opts NominatimOptions) (*NominatimClient, error) {
	if strings.TrimSpace(opts.APIURL) == "" {
		return nil, fmt.Errorf("nominatim: API URL is required")
	}
	if strings.TrimSpace(opts.UserAgent) == "" {
		return nil, fmt.Errorf("nominatim: user agent is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	return &NominatimClient{
		upstream:  newUpstream("nominatim", opts.Timeout, opts.Retry, opts.Breaker),
		apiURL:    strings.TrimRight(opts.APIURL, "/"),
		userAgent: opts.UserAgent,
	}, nil
}

// Search returns the best match for query within India, or ErrPlaceNotFound.
func (c *NominatimClient) Search(ctx context.Context, query string) (models.Place, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return models.Place{}, fmt.Errorf("%w: empty query", ErrPlaceNotFound)
	}

	// An empty result is a successful call, so it becomes ErrPlaceNotFound
	// only after the breaker and error metrics have seen it.
	var (
		place models.Place
		found bool
	)
	err := c.do(ctx, func(ctx context.Context) error {
		places, err := c.callAPI(ctx, query)
		if err != nil || len(places) == 0 {
			return err
		}
		place, err = mapPlace(places[0])
		found = err == nil
		return err
	})
	if err != nil {
		return models.Place{}, err
	}
	if !found {
		return models.Place{}, fmt.Errorf("%w: %q", ErrPlaceNotFound, query)
	}
	return place, nil
}

func (c *NominatimClient) callAPI(ctx context.Context, query string) ([]nominatimPlace, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	u, err := url.Parse(c.apiURL + "/search")
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}
	params := url.Values{}
	params.Set("format", "json")
	params.Set("q", query+", India")
	params.Set("limit", "1")
	params.Set("countrycodes", "in")
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.send(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := handleErrorResponse(resp); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	var places []nominatimPlace
	if err := json.Unmarshal(body, &places); err != nil {
		return nil, fmt.Errorf("%w: parse response: %v", ErrMalformedResponse, err)
	}
	return places, nil
}

func mapPlace(p nominatimPlace) (models.Place, error) {
	lat, err := strconv.ParseFloat(p.Lat, 64)
	if err != nil {
		return models.Place{}, fmt.Errorf("%w: parse lat %q", ErrMalformedResponse, p.Lat)
	}
	lon, err := strconv.ParseFloat(p.Lon, 64)
	if err != nil {
		return models.Place{}, fmt.Errorf("%w: parse lon %q", ErrMalformedResponse, p.Lon)
	}
	name := p.Name
	if name == "" {
		name = strings.SplitN(p.DisplayName, ",", 2)[0]
	}
	return models.Place{Lat: lat, Lon: lon, DisplayName: p.DisplayName, Name: name}, nil
}
