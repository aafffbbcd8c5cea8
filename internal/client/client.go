// Package client is a small HTTP client for the vehirec API.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"vehirec/internal/models"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

// APIError is a non-2xx answer from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("http %d", e.StatusCode)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// Client calls the recommendation and catalog endpoints.
type Client struct {
	baseURL    string
	apiKey     string
	apiExtra   string
	httpClient *http.Client

	redis    *redis.Client
	cacheTTL time.Duration
}

// New constructs a client with baseURL, API key and extra header.
func New(baseURL, apiKey, apiExtra string) *Client {
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		apiExtra:   apiExtra,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// UseRedisCache configures optional Redis caching for the vehicle catalog.
func (c *Client) UseRedisCache(redisClient *redis.Client, ttl time.Duration) {
	c.redis = redisClient
	c.cacheTTL = ttl
}

// Recommendations fetches top-n vehicles for a client. n <= 0 uses the server default.
func (c *Client) Recommendations(ctx context.Context, clientID int64, n int) (*models.RecommendationList, error) {
	endpoint := fmt.Sprintf("%s/api/v1/recommendations/%d", c.baseURL, clientID)
	if n > 0 {
		endpoint += "?" + url.Values{"n": []string{strconv.Itoa(n)}}.Encode()
	}
	var list models.RecommendationList
	if err := c.doGet(ctx, endpoint, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// ExportResult is the answer of the export endpoint.
type ExportResult struct {
	FilePath        string                     `json:"file_path"`
	Recommendations *models.RecommendationList `json:"recommendations"`
}

// Export asks the server to write an xlsx file for the client.
func (c *Client) Export(ctx context.Context, clientID int64, n int) (*ExportResult, error) {
	endpoint := fmt.Sprintf("%s/api/v1/recommendations/%d/export", c.baseURL, clientID)
	if n > 0 {
		endpoint += "?" + url.Values{"n": []string{strconv.Itoa(n)}}.Encode()
	}
	var res ExportResult
	if err := c.doPost(ctx, endpoint, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ListVehicles returns the catalog, from Redis when cached.
func (c *Client) ListVehicles(ctx context.Context) ([]models.Vehicle, error) {
	endpoint := fmt.Sprintf("%s/api/v1/vehicles", c.baseURL)
	cacheKey := "client:vehicles"
	var wrap struct {
		Vehicles []models.Vehicle `json:"vehicles"`
	}

	if c.readCache(ctx, cacheKey, &wrap) {
		return wrap.Vehicles, nil
	}

	if err := c.doGet(ctx, endpoint, &wrap); err != nil {
		return nil, err
	}
	c.writeCache(ctx, cacheKey, wrap)
	return wrap.Vehicles, nil
}

// Health reports the served model version, 0 when nothing is trained.
func (c *Client) Health(ctx context.Context) (int, error) {
	var resp struct {
		Status       string `json:"status"`
		ModelVersion int    `json:"model_version"`
	}
	if err := c.doGet(ctx, c.baseURL+"/healthz", &resp); err != nil {
		return 0, err
	}
	return resp.ModelVersion, nil
}

func (c *Client) readCache(ctx context.Context, key string, out any) bool {
	if c.redis == nil || c.cacheTTL <= 0 {
		return false
	}
	val, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(val, out) == nil
}

func (c *Client) writeCache(ctx context.Context, key string, val any) {
	if c.redis == nil || c.cacheTTL <= 0 {
		return
	}
	data, err := json.Marshal(val)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, key, data, c.cacheTTL).Err()
}

func (c *Client) doGet(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	c.addHeaders(req)
	return c.do(req, out)
}

func (c *Client) doPost(ctx context.Context, endpoint string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.addHeaders(req)
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var body struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return &APIError{StatusCode: resp.StatusCode, Message: body.Error}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) addHeaders(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}
	if c.apiExtra != "" {
		req.Header.Set("x-api-extra", c.apiExtra)
	}
}
