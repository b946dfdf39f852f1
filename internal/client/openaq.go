package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// MeasurementFetcher returns the raw latest-measurements payload for a city.
type MeasurementFetcher interface {
	FetchLatest(ctx context.Context, city string) (LatestResponse, error)
}

// LatestResponse is the upstream /latest payload: one result per station.
type LatestResponse struct {
	Results []StationResult `json:"results"`
}

// StationResult holds one station's readings.
type StationResult struct {
	Location     string        `json:"location,omitempty"`
	Measurements []Measurement `json:"measurements"`
}

// Measurement is a single pollutant reading.
type Measurement struct {
	Parameter   string  `json:"parameter"`
	Value       float64 `json:"value"`
	LastUpdated string  `json:"lastUpdated"`
	Unit        string  `json:"unit,omitempty"`
}

// OpenAQClient fetches the latest station measurements for Indian cities.
type OpenAQClient struct {
	upstream
	apiURL string
	apiKey string
	limit  int
}

// OpenAQOptions configures NewOpenAQClient. Only APIURL is required.
type OpenAQOptions struct {
	APIURL  string
	APIKey  string
	Timeout time.Duration
	Retry   RetryPolicy
	Breaker Breaker
}

// NewOpenAQClient returns a client for the measurements API at opts.APIURL.
func NewOpenAQClient(opts OpenAQOptions) (*OpenAQClient, error) {
	if strings.TrimSpace(opts.APIURL) == "" {
		return nil, fmt.Errorf("openaq: API URL is required")
	}
	if _, err := url.Parse(opts.APIURL); err != nil {
		return nil, fmt.Errorf("openaq: invalid API URL: %w", err)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &OpenAQClient{
		upstream: newUpstream("openaq", opts.Timeout, opts.Retry, opts.Breaker),
		apiURL:   strings.TrimRight(opts.APIURL, "/"),
		apiKey:   opts.APIKey,
		limit:    100,
	}, nil
}

// FetchLatest returns the latest readings for city. Non-2xx statuses,
// transport errors, timeouts and undecodable bodies are returned as errors;
// an empty results list is not an error here.
func (c *OpenAQClient) FetchLatest(ctx context.Context, city string) (LatestResponse, error) {
	var out LatestResponse
	err := c.do(ctx, func(ctx context.Context) error {
		resp, err := c.callAPI(ctx, city)
		if err != nil {
			return err
		}
		out = resp
		return nil
	})
	return out, err
}

func (c *OpenAQClient) callAPI(ctx context.Context, city string) (LatestResponse, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.buildRequest(reqCtx, city)
	if err != nil {
		return LatestResponse{}, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.send(req)
	if err != nil {
		return LatestResponse{}, err
	}
	defer resp.Body.Close()

	if err := handleErrorResponse(resp); err != nil {
		return LatestResponse{}, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return LatestResponse{}, fmt.Errorf("read response body: %w", err)
	}

	var apiResp LatestResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return LatestResponse{}, fmt.Errorf("%w: parse response: %v", ErrMalformedResponse, err)
	}
	return apiResp, nil
}

func (c *OpenAQClient) buildRequest(ctx context.Context, city string) (*http.Request, error) {
	u, err := url.Parse(c.apiURL + "/latest")
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}

	params := url.Values{}
	params.Set("city", city)
	params.Set("country", "IN")
	params.Set("limit", fmt.Sprint(c.limit))
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	return req, nil
}
