package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kimhsiao/cutlog/internal/models"
)

// ClientConfig holds remote API connection configuration.
type ClientConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Client implements Gateway over the HTTP API.
type Client struct {
	config     ClientConfig
	baseURL    *url.URL
	httpClient *http.Client
}

// NewClient creates a new Client.
func NewClient(config ClientConfig) (*Client, error) {
	base, err := url.Parse(strings.TrimSuffix(config.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid api base url %q: scheme must be http or https", config.BaseURL)
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	return &Client{
		config:  config,
		baseURL: base,
		httpClient: &http.Client{
			Timeout: config.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
	}, nil
}

// SetToken replaces the bearer token sent with every request.
func (c *Client) SetToken(token string) {
	c.config.Token = token
}

// =====================================================
// Profiles
// =====================================================

// CreateProfile creates a profile.
func (c *Client) CreateProfile(ctx context.Context, clientID string, payload models.ProfilePayload) (*ServerProfile, error) {
	var out ServerProfile
	if err := c.do(ctx, http.MethodPost, "/v1/profiles", clientID, payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateProfile replaces the editable fields of a profile.
func (c *Client) UpdateProfile(ctx context.Context, id string, payload models.ProfilePayload) (*ServerProfile, error) {
	var out ServerProfile
	if err := c.do(ctx, http.MethodPut, "/v1/profiles/"+url.PathEscape(id), "", payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteProfile deletes a profile.
func (c *Client) DeleteProfile(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/v1/profiles/"+url.PathEscape(id), "", nil, nil)
}

// ListProfiles returns the caller's live profiles.
func (c *Client) ListProfiles(ctx context.Context) ([]*ServerProfile, error) {
	var out struct {
		Profiles []*ServerProfile `json:"profiles"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/profiles", "", nil, &out); err != nil {
		return nil, err
	}
	return out.Profiles, nil
}

// BatchGetProfiles fetches full profiles by id. Unknown ids are omitted.
func (c *Client) BatchGetProfiles(ctx context.Context, ids []string) ([]*ServerProfile, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if len(ids) > MaxBatchSize {
		return nil, fmt.Errorf("batch of %d ids exceeds limit %d", len(ids), MaxBatchSize)
	}

	req := struct {
		IDs []string `json:"ids"`
	}{IDs: ids}
	var out struct {
		Profiles []*ServerProfile `json:"profiles"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/profiles/batch", "", req, &out); err != nil {
		return nil, err
	}
	return out.Profiles, nil
}

// =====================================================
// Records
// =====================================================

func recordsPath(profileID string) string {
	return "/v1/profiles/" + url.PathEscape(profileID) + "/records"
}

// CreateRecord creates a record under profileID.
func (c *Client) CreateRecord(ctx context.Context, profileID, clientID string, payload models.RecordPayload) (*ServerRecord, error) {
	var out ServerRecord
	if err := c.do(ctx, http.MethodPost, recordsPath(profileID), clientID, payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateRecord replaces the editable fields of a record.
func (c *Client) UpdateRecord(ctx context.Context, profileID, id string, payload models.RecordPayload) (*ServerRecord, error) {
	var out ServerRecord
	path := recordsPath(profileID) + "/" + url.PathEscape(id)
	if err := c.do(ctx, http.MethodPut, path, "", payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteRecord deletes a record.
func (c *Client) DeleteRecord(ctx context.Context, profileID, id string) error {
	path := recordsPath(profileID) + "/" + url.PathEscape(id)
	return c.do(ctx, http.MethodDelete, path, "", nil, nil)
}

// ListRecords returns every record of a profile.
func (c *Client) ListRecords(ctx context.Context, profileID string) ([]*ServerRecord, error) {
	var out struct {
		Records []*ServerRecord `json:"records"`
	}
	if err := c.do(ctx, http.MethodGet, recordsPath(profileID), "", nil, &out); err != nil {
		return nil, err
	}
	return out.Records, nil
}

// =====================================================
// Sync
// =====================================================

// GetManifest returns the summaries of every profile owned by the caller.
func (c *Client) GetManifest(ctx context.Context) (*Manifest, error) {
	var out Manifest
	if err := c.do(ctx, http.MethodGet, "/v1/sync/manifest", "", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health checks that the API is reachable.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", "", nil, nil)
}

// do sends a JSON request and decodes a JSON response into out when non-nil.
func (c *Client) do(ctx context.Context, method, path, idempotencyKey string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s request failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(msg)),
		}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return nil
}
