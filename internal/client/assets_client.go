package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Asset is the subset of the asset registry record the workflow service needs.
type Asset struct {
	ID       string `json:"id"`
	EntityID string `json:"entity_id"`
	Code     string `json:"code"`
	Name     string `json:"name"`
	Category string `json:"category"`
	Status   string `json:"status"`
}

// AssetsClient is a client for the asset registry service.
type AssetsClient struct {
	baseURL string
	http    *http.Client
}

// NewAssetsClient creates a new asset registry client.
func NewAssetsClient(baseURL string) *AssetsClient {
	return &AssetsClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// GetAsset fetches an asset by ID. Returns the asset and true when it exists.
func (c *AssetsClient) GetAsset(ctx context.Context, assetID, entityID string) (*Asset, bool, error) {
	path := fmt.Sprintf("/api/v1/assets/get?id=%s&entity_id=%s",
		url.QueryEscape(assetID), url.QueryEscape(entityID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, false, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("failed to fetch asset: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var asset Asset
		if err := json.NewDecoder(resp.Body).Decode(&asset); err != nil {
			return nil, false, fmt.Errorf("failed to decode asset: %w", err)
		}
		return &asset, true, nil
	case http.StatusNotFound:
		return nil, false, nil
	default:
		return nil, false, fmt.Errorf("asset registry returned status %d", resp.StatusCode)
	}
}
