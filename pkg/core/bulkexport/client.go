// Package bulkexport drives the request/poll/download protocol of
// asynchronous bulk-data APIs: submit an export request, wait for the
// server to generate the file, then fetch and unpack it.
package bulkexport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"govsignal/pkg/core/retry"
)

const clientUserAgent = "govsignal/1.0 (contact@example.com)"

// ErrGenerationFailed means the server reported a failed export job;
// the window cannot be recovered by waiting longer.
var ErrGenerationFailed = errors.New("bulkexport: file generation failed")

// requestResponse is the body of a successful export request. Servers
// answer with a direct file_url when the export already exists, or a
// status_url to poll while it is generated.
type requestResponse struct {
	FileURL   string `json:"file_url"`
	StatusURL string `json:"status_url"`
}

type statusResponse struct {
	Status  string `json:"status"` // "running" | "finished" | "failed"
	FileURL string `json:"file_url"`
}

// Client talks to one bulk-export API.
type Client struct {
	httpClient     *http.Client
	pollPolicy     retry.Policy
	downloadPolicy retry.Policy
	sleep          retry.SleepFunc
	logger         *slog.Logger
}

// NewClient creates a bulk-export client with production retry bounds:
// status polled every 5s for up to 40 attempts, placeholder downloads
// retried 5 times 10s apart.
func NewClient(logger *slog.Logger) *Client {
	return &Client{
		httpClient:     &http.Client{Timeout: 60 * time.Second},
		pollPolicy:     retry.Policy{MaxAttempts: 40, Interval: 5 * time.Second},
		downloadPolicy: retry.Policy{MaxAttempts: 5, Interval: 10 * time.Second},
		sleep:          time.Sleep,
		logger:         logger,
	}
}

// SetRetry overrides the polling and download bounds plus the sleep
// hook. Tests use this to run the full protocol without real delays.
func (c *Client) SetRetry(poll, download retry.Policy, sleep retry.SleepFunc) {
	c.pollPolicy = poll
	c.downloadPolicy = download
	c.sleep = sleep
}

// Request submits an export request and returns the direct file URL or
// the status URL to poll, exactly one of which is non-empty.
func (c *Client) Request(ctx context.Context, url string, payload any) (fileURL, statusURL string, err error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode export request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", "", fmt.Errorf("failed to create export request: %w", err)
	}
	req.Header.Set("User-Agent", clientUserAgent)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("export request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return "", "", fmt.Errorf("export request returned status %d", resp.StatusCode)
	}

	var rr requestResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return "", "", fmt.Errorf("failed to parse export response: %w", err)
	}
	if rr.FileURL == "" && rr.StatusURL == "" {
		return "", "", fmt.Errorf("export response carried neither file_url nor status_url")
	}
	return rr.FileURL, rr.StatusURL, nil
}

// AwaitFile polls statusURL until the export is finished and returns
// its file URL. Transient poll errors are absorbed up to the attempt
// bound; a "failed" status returns ErrGenerationFailed, and running out
// of attempts returns retry.ErrExhausted.
func (c *Client) AwaitFile(ctx context.Context, statusURL string) (string, error) {
	var fileURL string

	err := retry.Poll(ctx, c.pollPolicy, c.sleep, func(attempt int) (bool, error) {
		st, err := c.checkStatus(ctx, statusURL)
		if err != nil {
			// Network blips while polling are expected; keep going.
			c.logger.Warn("status poll failed", "attempt", attempt, "error", err)
			return false, nil
		}

		switch st.Status {
		case "finished":
			fileURL = st.FileURL
			return true, nil
		case "failed":
			return false, ErrGenerationFailed
		default:
			return false, nil
		}
	})
	if err != nil {
		return "", err
	}
	if fileURL == "" {
		return "", fmt.Errorf("export finished without a file_url")
	}
	return fileURL, nil
}

func (c *Client) checkStatus(ctx context.Context, statusURL string) (*statusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, statusURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", clientUserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status endpoint returned %d", resp.StatusCode)
	}

	var st statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return nil, fmt.Errorf("failed to parse status response: %w", err)
	}
	return &st, nil
}

// Download fetches the export archive. Some servers answer an HTML
// "still preparing" page instead of an error while the file is being
// assembled, so the body is sniffed: anything that is not a zip archive
// is treated as not-ready and retried up to the download bound.
func (c *Client) Download(ctx context.Context, fileURL string) ([]byte, error) {
	var archive []byte

	err := retry.Poll(ctx, c.downloadPolicy, c.sleep, func(attempt int) (bool, error) {
		body, err := c.fetchFile(ctx, fileURL)
		if err != nil {
			c.logger.Warn("download attempt failed", "attempt", attempt, "error", err)
			return false, nil
		}

		if isZipArchive(body) {
			archive = body
			return true, nil
		}

		c.logger.Warn("download returned placeholder instead of archive",
			"attempt", attempt, "detail", placeholderDetail(body))
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	return archive, nil
}

func (c *Client) fetchFile(ctx context.Context, fileURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", clientUserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("file endpoint returned %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// isZipArchive sniffs for the "PK" zip magic bytes.
func isZipArchive(body []byte) bool {
	return len(body) >= 2 && body[0] == 'P' && body[1] == 'K'
}

// placeholderDetail pulls a human-readable message out of an HTML
// placeholder body for the logs. Falls back to a prefix of the raw body.
func placeholderDetail(body []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err == nil {
		if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
			return title
		}
		if h1 := strings.TrimSpace(doc.Find("h1").First().Text()); h1 != "" {
			return h1
		}
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 120 {
		s = s[:120]
	}
	return s
}
