package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"bookresale-backend/pkg/retry"
)

// CreateRequest is what a marketplace needs to open a listing.
type CreateRequest struct {
	ItemID      string          `json:"itemId"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Condition   string          `json:"condition"`
	Price       decimal.Decimal `json:"price"`
	Currency    string          `json:"currency"`
	ImageRefs   []string        `json:"imageRefs,omitempty"`
}

// CreateResult identifies the listing on the marketplace side.
type CreateResult struct {
	ExternalID string `json:"listingId"`
	URL        string `json:"url"`
}

// Client talks to the marketplace gateway. Implementations classify
// throttling and outages as transient so the caller's retry policy can
// tell them from rejections.
type Client interface {
	CreateListing(ctx context.Context, platform string, req CreateRequest) (*CreateResult, error)
	// DeleteListing removes a listing. An already deleted listing is
	// not an error.
	DeleteListing(ctx context.Context, platform, externalID string) error
}

type httpClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewHTTPClient - marketplace gateway client over the given base URL.
func NewHTTPClient(baseURL, apiKey string) Client {
	return &httpClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *httpClient) CreateListing(ctx context.Context, platform string, req CreateRequest) (*CreateResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode listing request: %w", err)
	}

	url := fmt.Sprintf("%s/platforms/%s/listings", c.baseURL, platform)
	resp, err := c.do(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, http.StatusCreated, http.StatusOK); err != nil {
		return nil, fmt.Errorf("create listing on %s: %w", platform, err)
	}

	var result CreateResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode listing response from %s: %w", platform, err)
	}
	if result.ExternalID == "" {
		return nil, fmt.Errorf("%s returned no listing id", platform)
	}
	return &result, nil
}

func (c *httpClient) DeleteListing(ctx context.Context, platform, externalID string) error {
	url := fmt.Sprintf("%s/platforms/%s/listings/%s", c.baseURL, platform, externalID)
	resp, err := c.do(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if err := checkStatus(resp, http.StatusOK, http.StatusNoContent); err != nil {
		return fmt.Errorf("delete listing %s on %s: %w", externalID, platform, err)
	}
	return nil
}

func (c *httpClient) do(ctx context.Context, method, url string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("build %s %s: %w", method, url, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// Network failures are worth another delivery.
		return nil, retry.Transient(fmt.Errorf("%s %s: %w", method, url, err))
	}
	return resp, nil
}

// checkStatus drains error bodies into the error message and tags
// throttling and server-side failures as transient.
func checkStatus(resp *http.Response, ok ...int) error {
	for _, code := range ok {
		if resp.StatusCode == code {
			return nil
		}
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	err := fmt.Errorf("unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return retry.Transient(err)
	}
	return err
}
