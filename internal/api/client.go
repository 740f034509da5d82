package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/pulseboardhq/pulseboard/internal/feed"
	"github.com/pulseboardhq/pulseboard/internal/updates"
	"go.uber.org/zap"
)

// ErrMissingBaseURL indicates the client was built without a server
// address.
var ErrMissingBaseURL = errors.New("api: base url is required")

// ClientConfig bundles the dependencies of the REST client.
type ClientConfig struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client implements feed.API against the Pulseboard REST endpoints.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient constructs a REST client with validated configuration.
func NewClient(cfg ClientConfig) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, ErrMissingBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{baseURL: baseURL, httpClient: httpClient, logger: logger}, nil
}

type errorResponse struct {
	Error string `json:"error"`
}

// CreateUpdate posts a draft and returns the canonical update the
// server assigned, with the draft's client token echoed back.
func (c *Client) CreateUpdate(ctx context.Context, teamID string, draft feed.Draft) (updates.Update, error) {
	body, err := json.Marshal(draft)
	if err != nil {
		return updates.Update{}, fmt.Errorf("api: encode draft: %w", err)
	}

	endpoint := fmt.Sprintf("%s/api/teams/%s/updates", c.baseURL, url.PathEscape(teamID))
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return updates.Update{}, fmt.Errorf("api: build request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := c.httpClient.Do(request)
	if err != nil {
		return updates.Update{}, &feed.StatusError{Status: 0, Message: err.Error()}
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusCreated {
		return updates.Update{}, statusError(response)
	}

	var created updates.Update
	if err := json.NewDecoder(response.Body).Decode(&created); err != nil {
		return updates.Update{}, fmt.Errorf("api: decode update: %w", err)
	}
	return created, nil
}

// ListUpdates fetches a team's updates, optionally narrowed by the
// filter state.
func (c *Client) ListUpdates(ctx context.Context, teamID string, filters updates.FilterState) ([]updates.Update, error) {
	query := url.Values{}
	if filters.Day != "" {
		query.Set("day", filters.Day)
	}
	if filters.Category != "" {
		query.Set("category", string(filters.Category))
	}
	if filters.MediaKind != "" {
		query.Set("media", string(filters.MediaKind))
	}
	if filters.RequireLocation {
		query.Set("has_location", "true")
	}

	endpoint := fmt.Sprintf("%s/api/teams/%s/updates", c.baseURL, url.PathEscape(teamID))
	if encoded := query.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("api: build request: %w", err)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, &feed.StatusError{Status: 0, Message: err.Error()}
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, statusError(response)
	}

	var listed []updates.Update
	if err := json.NewDecoder(response.Body).Decode(&listed); err != nil {
		return nil, fmt.Errorf("api: decode updates: %w", err)
	}
	return listed, nil
}

func statusError(response *http.Response) error {
	var payload errorResponse
	message := http.StatusText(response.StatusCode)
	if err := json.NewDecoder(response.Body).Decode(&payload); err == nil && payload.Error != "" {
		message = payload.Error
	}
	return &feed.StatusError{Status: response.StatusCode, Message: message}
}
