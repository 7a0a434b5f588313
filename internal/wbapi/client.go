package wbapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sellerlab/wb-search-sync/internal/metrics"
	"github.com/sellerlab/wb-search-sync/internal/models"
	"github.com/sellerlab/wb-search-sync/internal/utils"
)

const searchTextsPath = "/api/v2/search-report/product/search-texts"

// RawItem is one upstream per-search-term object, untouched. Metric
// fields arrive either as bare scalars or as {current,value} wrappers,
// so the shape stays dynamic until normalization.
type RawItem map[string]any

// UpstreamError is a non-200 answer from the API. Only 429 is worth
// retrying; anything else means a broken request or bad credentials.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("wb api status %d: %s", e.Status, e.Body)
}

func (e *UpstreamError) Retryable() bool { return e.Status == http.StatusTooManyRequests }

// RateLimitError reports an exhausted throttling-retry budget.
type RateLimitError struct {
	Attempts int
	Last     error
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("wb api still throttled after %d attempts: %v", e.Attempts, e.Last)
}

func (e *RateLimitError) Unwrap() error { return e.Last }

// HTTPDoer lets tests swap the transport.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Client struct {
	httpc         HTTPDoer
	baseURL       string
	apiKey        string
	limit         int
	fallbackLimit int
	retry         utils.Backoff
	log           *slog.Logger
	m             *metrics.Metrics
}

type Options struct {
	BaseURL       string
	APIKey        string
	Limit         int
	FallbackLimit int
	Timeout       time.Duration
	Retry         utils.Backoff
	HTTPClient    HTTPDoer
}

func NewClient(opts Options, log *slog.Logger, m *metrics.Metrics) *Client {
	httpc := opts.HTTPClient
	if httpc == nil {
		httpc = &http.Client{Timeout: opts.Timeout}
	}
	return &Client{
		httpc:         httpc,
		baseURL:       opts.BaseURL,
		apiKey:        opts.APIKey,
		limit:         opts.Limit,
		fallbackLimit: opts.FallbackLimit,
		retry:         opts.Retry,
		log:           log,
		m:             m,
	}
}

type searchTextsRequest struct {
	CurrentPeriod          periodBody `json:"currentPeriod"`
	NmIDs                  []int64    `json:"nmIds"`
	TopOrderBy             string     `json:"topOrderBy"`
	IncludeSubstitutedSKUs bool       `json:"includeSubstitutedSKUs"`
	IncludeSearchTexts     bool       `json:"includeSearchTexts"`
	OrderBy                orderBody  `json:"orderBy"`
	Limit                  int        `json:"limit"`
}

type periodBody struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type orderBody struct {
	Field string `json:"field"`
	Mode  string `json:"mode"`
}

// FetchSearchTexts issues one report request for a batch of nmIds,
// retrying 429s under the client's backoff policy. When a fallback limit
// is configured and the configured limit draws a hard failure, the batch
// is retried once at the fallback limit before the error surfaces.
func (c *Client) FetchSearchTexts(ctx context.Context, period models.Period, nmIDs []int64, orderBy string) ([]RawItem, error) {
	items, err := c.fetchWithRetry(ctx, period, nmIDs, orderBy, c.limit)
	if err == nil {
		return items, nil
	}
	var ue *UpstreamError
	if c.fallbackLimit > 0 && c.fallbackLimit < c.limit &&
		errors.As(err, &ue) && ue.Status != http.StatusTooManyRequests {
		c.log.Warn("retrying batch at fallback limit",
			slog.Int("status", ue.Status),
			slog.Int("limit", c.limit),
			slog.Int("fallback_limit", c.fallbackLimit))
		return c.fetchWithRetry(ctx, period, nmIDs, orderBy, c.fallbackLimit)
	}
	return nil, err
}

func (c *Client) fetchWithRetry(ctx context.Context, period models.Period, nmIDs []int64, orderBy string, limit int) ([]RawItem, error) {
	var items []RawItem
	err := c.retry.Do(func(attempt int) error {
		if attempt > 0 {
			c.m.RetriesTotal.Inc()
			c.log.Info("retrying after throttle", slog.Int("attempt", attempt+1))
		}
		var perr error
		items, perr = c.post(ctx, period, nmIDs, orderBy, limit)
		return perr
	})
	if err != nil && utils.IsRetryable(err) {
		return nil, &RateLimitError{Attempts: c.retry.MaxAttempts, Last: err}
	}
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (c *Client) post(ctx context.Context, period models.Period, nmIDs []int64, orderBy string, limit int) ([]RawItem, error) {
	payload := searchTextsRequest{
		CurrentPeriod:          periodBody{Start: period.StartStr(), End: period.EndStr()},
		NmIDs:                  nmIDs,
		TopOrderBy:             orderBy,
		IncludeSubstitutedSKUs: true,
		IncludeSearchTexts:     true,
		OrderBy:                orderBody{Field: "avgPosition", Mode: "asc"},
		Limit:                  limit,
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+searchTextsPath, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("wb api request: %w", err)
	}
	defer resp.Body.Close()
	c.m.ObserveRequest(resp.StatusCode)

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &UpstreamError{Status: resp.StatusCode, Body: string(body)}
	}

	var out struct {
		Data struct {
			Items []json.RawMessage `json:"items"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode wb response: %w", err)
	}
	items := make([]RawItem, 0, len(out.Data.Items))
	for _, raw := range out.Data.Items {
		var it RawItem
		if err := json.Unmarshal(raw, &it); err != nil {
			// Not an object; skip rather than fail the batch.
			continue
		}
		items = append(items, it)
	}
	return items, nil
}
