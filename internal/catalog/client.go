// Package catalog queries the remote granule metadata catalog.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// TotalHitsHeader carries the catalog's total match count; it marks the
// last page when page*pageSize reaches it.
const TotalHitsHeader = "X-Total-Hits"

// Client handles communication with the granule catalog API.
type Client struct {
	baseURL    string
	provider   string
	pageSize   int
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new catalog client.
func NewClient(baseURL, provider string, pageSize int, timeout time.Duration) *Client {
	return &Client{
		baseURL:  baseURL,
		provider: provider,
		pageSize: pageSize,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 100,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: slog.Default(),
	}
}

// WithLogger sets a custom logger for the client.
func (c *Client) WithLogger(logger *slog.Logger) *Client {
	c.logger = logger
	return c
}

// Granules lists every granule matching the tag within [start, end),
// walking all catalog pages. Results carrying a different tag are dropped;
// some catalog deployments match tags as prefixes.
func (c *Client) Granules(ctx context.Context, tag string, start, end time.Time) ([]Granule, error) {
	var all []Granule

	for page := 1; ; page++ {
		q := Query{
			Tag:      tag,
			Provider: c.provider,
			Start:    start,
			End:      end,
			Page:     page,
			PageSize: c.pageSize,
		}

		granules, total, err := c.fetchPage(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("catalog page %d: %w", page, err)
		}

		for _, g := range granules {
			if g.Tag != tag {
				continue
			}
			all = append(all, g)
		}

		if page*c.pageSize >= total || len(granules) == 0 {
			c.logger.DebugContext(ctx, "catalog listing complete",
				slog.String("tag", tag),
				slog.Int("pages", page),
				slog.Int("granules", len(all)),
			)
			return all, nil
		}
	}
}

func (c *Client) fetchPage(ctx context.Context, q Query) ([]Granule, int, error) {
	searchURL, err := c.buildURL(q)
	if err != nil {
		return nil, 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "raster-ingest/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.ErrorContext(ctx, "catalog request failed",
			slog.String("error", err.Error()),
			slog.String("url", searchURL),
		)
		return nil, 0, fmt.Errorf("catalog request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, 0, fmt.Errorf("catalog returned status %d: %s", resp.StatusCode, body)
	}

	total, err := strconv.Atoi(resp.Header.Get(TotalHitsHeader))
	if err != nil {
		return nil, 0, fmt.Errorf("catalog response missing %s header: %w", TotalHitsHeader, err)
	}

	var result response
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, 0, fmt.Errorf("failed to decode catalog response: %w", err)
	}

	return result.Granules, total, nil
}

func (c *Client) buildURL(q Query) (string, error) {
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}
	base.RawQuery = q.ToQueryString()
	return base.String(), nil
}
