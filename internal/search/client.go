package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/nucleus/search-export/internal/export"
)

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

// ClientConfig configures the HTTP search client.
type ClientConfig struct {
	// BaseURL is the API root, e.g. https://host/api/v1.
	BaseURL string `yaml:"baseUrl"`

	// Path of the query endpoint (default: "entries/query").
	Path string `yaml:"path"`

	// Token is sent as a bearer token when set.
	Token string `yaml:"token"`

	// PageSize requested per query (default: 1000).
	PageSize int `yaml:"pageSize"`

	// Timeout for individual requests (default: 30s).
	Timeout time.Duration `yaml:"timeout"`

	// RateLimit requests per second (default: 10).
	RateLimit float64 `yaml:"rateLimit"`

	// RateBurst maximum burst size (default: 5).
	RateBurst int `yaml:"rateBurst"`

	// UserAgent string (default: "search-export/1.0").
	UserAgent string `yaml:"userAgent"`

	// Transport allows injecting a custom HTTP transport (for tests/stubs).
	Transport http.RoundTripper `yaml:"-"`
}

// DefaultClientConfig returns a client config with sensible defaults.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		Path:      "entries/query",
		PageSize:  1000,
		Timeout:   30 * time.Second,
		RateLimit: 10.0,
		RateBurst: 5,
		UserAgent: "search-export/1.0",
	}
}

// =============================================================================
// HTTP CLIENT
// =============================================================================

// Client is a rate-limited Searcher over an entries query endpoint. It makes
// a single attempt per call; retrying is left to the step executor.
type Client struct {
	config      *ClientConfig
	httpClient  *http.Client
	rateLimiter *rate.Limiter
}

// NewClient creates a new search client with the given configuration.
func NewClient(config *ClientConfig) *Client {
	if config == nil {
		config = DefaultClientConfig()
	}
	def := DefaultClientConfig()
	if config.Path == "" {
		config.Path = def.Path
	}
	if config.PageSize <= 0 {
		config.PageSize = def.PageSize
	}
	if config.Timeout == 0 {
		config.Timeout = def.Timeout
	}
	if config.RateLimit == 0 {
		config.RateLimit = def.RateLimit
	}
	if config.RateBurst == 0 {
		config.RateBurst = def.RateBurst
	}
	if config.UserAgent == "" {
		config.UserAgent = def.UserAgent
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout:   config.Timeout,
			Transport: config.Transport,
		},
		rateLimiter: rate.NewLimiter(rate.Limit(config.RateLimit), config.RateBurst),
	}
}

// =============================================================================
// WIRE TYPES
// =============================================================================

type queryPagination struct {
	PageSize       int     `json:"page_size"`
	PageAfterValue *string `json:"page_after_value,omitempty"`
}

type queryBody struct {
	Owner      export.OwnerScope `json:"owner"`
	Query      map[string]any    `json:"query"`
	Required   map[string]any    `json:"required,omitempty"`
	Pagination queryPagination   `json:"pagination"`
}

type queryResult struct {
	Pagination struct {
		Page               int     `json:"page"`
		Total              int     `json:"total"`
		NextPageAfterValue *string `json:"next_page_after_value"`
	} `json:"pagination"`
	Data []map[string]any `json:"data"`
}

// =============================================================================
// SEARCH
// =============================================================================

// Search posts one query and decodes one page.
func (c *Client) Search(ctx context.Context, req Request) (*Response, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, export.WrapError(export.CodeTransientBackend, true, fmt.Errorf("rate limiter: %w", err))
	}

	query := req.Query
	if query == nil {
		query = map[string]any{}
	}
	body, err := json.Marshal(queryBody{
		Owner:    req.Owner,
		Query:    query,
		Required: req.RequiredFields,
		Pagination: queryPagination{
			PageSize:       c.config.PageSize,
			PageAfterValue: req.Cursor,
		},
	})
	if err != nil {
		return nil, export.WrapError(export.CodeInvalidInput, false, fmt.Errorf("marshal query: %w", err))
	}

	fullURL := strings.TrimSuffix(c.config.BaseURL, "/") + "/" + strings.TrimPrefix(c.config.Path, "/")
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, fullURL, bytes.NewReader(body))
	if err != nil {
		return nil, export.WrapError(export.CodeInvalidInput, false, fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", c.config.UserAgent)
	if req.UserID != "" {
		httpReq.Header.Set("X-User-Id", req.UserID)
	}
	if c.config.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.Token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, export.WrapError(export.CodeTransientBackend, true, fmt.Errorf("read body: %w", err))
	}
	if resp.StatusCode >= 400 {
		return nil, classifyHTTPError(&HTTPError{StatusCode: resp.StatusCode, Message: string(data)})
	}

	var result queryResult
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&result); err != nil {
		return nil, export.WrapError(export.CodeTransientBackend, true, fmt.Errorf("decode response: %w", err))
	}

	next := result.Pagination.NextPageAfterValue
	if next != nil && *next == "" {
		next = nil
	}
	records := result.Data
	if records == nil {
		records = []map[string]any{}
	}
	return &Response{
		Records: records,
		Pagination: Pagination{
			Page:       result.Pagination.Page,
			Total:      result.Pagination.Total,
			NextCursor: next,
		},
	}, nil
}

// =============================================================================
// ERRORS
// =============================================================================

// HTTPError represents an HTTP error response.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// IsRateLimited returns true if this is a rate limit error.
func (e *HTTPError) IsRateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// IsServerError returns true if this is a server error.
func (e *HTTPError) IsServerError() bool {
	return e.StatusCode >= 500
}

func classifyHTTPError(e *HTTPError) error {
	if e.IsRateLimited() || e.IsServerError() || e.StatusCode == http.StatusRequestTimeout {
		return export.WrapError(export.CodeTransientBackend, true, e)
	}
	return export.WrapError(export.CodeBackendRejected, false, e)
}

// Transport failures (resets, timeouts, DNS) are transient; caller
// cancellation is passed through unclassified.
func classifyTransportError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return export.WrapError(export.CodeTransientBackend, true, fmt.Errorf("http request: %w", err))
}
