// Package resolver maps messy organization names from public-spending
// data to stock tickers using the SEC's public company registry.
package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"time"

	"govsignal/pkg/models"
)

const (
	// SEC publishes a ticker -> company mapping for all registrants.
	DefaultRegistryURL = "https://www.sec.gov/files/company_tickers.json"

	// Required User-Agent per SEC guidelines.
	registryUserAgent = "govsignal/1.0 (contact@example.com)"

	cacheFileName = "company_tickers.json"
)

// RegistryClient fetches the public-company registry and keeps a local
// file copy so a failed fetch can fall back to the last good snapshot.
type RegistryClient struct {
	httpClient *http.Client
	url        string
	cacheDir   string
	logger     *slog.Logger
}

// NewRegistryClient creates a registry client. cacheDir may be empty to
// disable the file cache.
func NewRegistryClient(url, cacheDir string, logger *slog.Logger) *RegistryClient {
	if url == "" {
		url = DefaultRegistryURL
	}
	return &RegistryClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		url:        url,
		cacheDir:   cacheDir,
		logger:     logger,
	}
}

// Load fetches and parses the registry, returning entries with
// precomputed normalized names sorted by ticker. On fetch failure it
// falls back to the cached snapshot if one exists.
func (c *RegistryClient) Load(ctx context.Context) ([]models.ReferenceEntry, error) {
	body, err := c.fetch(ctx)
	if err != nil {
		cached, cacheErr := c.readCache()
		if cacheErr != nil {
			return nil, fmt.Errorf("registry fetch failed (%w), no usable cache: %v", err, cacheErr)
		}
		c.logger.Warn("registry fetch failed, using cached snapshot", "error", err)
		body = cached
	} else {
		c.writeCache(body)
	}

	entries, err := parseRegistry(body)
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (c *RegistryClient) fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", registryUserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("registry request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("registry returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read registry body: %w", err)
	}
	return body, nil
}

// parseRegistry decodes the SEC mapping document.
// Structure: { "0": {"cik_str": 320193, "ticker": "AAPL", "title": "Apple Inc."}, ... }
func parseRegistry(body []byte) ([]models.ReferenceEntry, error) {
	var mapping map[string]struct {
		CIK    int    `json:"cik_str"`
		Ticker string `json:"ticker"`
		Title  string `json:"title"`
	}
	if err := json.Unmarshal(body, &mapping); err != nil {
		return nil, fmt.Errorf("failed to parse registry document: %w", err)
	}

	entries := make([]models.ReferenceEntry, 0, len(mapping))
	for _, e := range mapping {
		if e.Ticker == "" || e.Title == "" {
			continue
		}
		entries = append(entries, models.ReferenceEntry{
			Name:       e.Title,
			Normalized: Normalize(e.Title),
			Ticker:     e.Ticker,
		})
	}

	// Map iteration order is random; sort so fuzzy scans and tie-breaks
	// are deterministic run to run.
	sort.Slice(entries, func(i, j int) bool { return entries[i].Ticker < entries[j].Ticker })
	return entries, nil
}

func (c *RegistryClient) cachePath() string {
	return filepath.Join(c.cacheDir, cacheFileName)
}

func (c *RegistryClient) readCache() ([]byte, error) {
	if c.cacheDir == "" {
		return nil, fmt.Errorf("cache disabled")
	}
	return os.ReadFile(c.cachePath())
}

func (c *RegistryClient) writeCache(body []byte) {
	if c.cacheDir == "" {
		return
	}
	if err := os.MkdirAll(c.cacheDir, 0755); err != nil {
		c.logger.Warn("failed to create registry cache dir", "error", err)
		return
	}
	if err := os.WriteFile(c.cachePath(), body, 0644); err != nil {
		c.logger.Warn("failed to write registry cache", "error", err)
	}
}
