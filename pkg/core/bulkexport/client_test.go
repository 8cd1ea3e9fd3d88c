package bulkexport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"govsignal/pkg/core/retry"
)

func testClient() *Client {
	c := NewClient(slog.New(slog.NewTextHandler(io.Discard, nil)))
	c.SetRetry(
		retry.Policy{MaxAttempts: 4, Interval: time.Millisecond},
		retry.Policy{MaxAttempts: 3, Interval: time.Millisecond},
		func(time.Duration) {}, // no real sleeping in tests
	)
	return c
}

func TestRequestImmediateFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Contains(t, payload, "filters")

		fmt.Fprint(w, `{"file_url": "https://files.example/export.zip"}`)
	}))
	defer srv.Close()

	fileURL, statusURL, err := testClient().Request(context.Background(), srv.URL,
		map[string]any{"filters": map[string]any{}})
	require.NoError(t, err)
	assert.Equal(t, "https://files.example/export.zip", fileURL)
	assert.Empty(t, statusURL)
}

func TestRequestRejectsEmptyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	}))
	defer srv.Close()

	_, _, err := testClient().Request(context.Background(), srv.URL, map[string]any{})
	assert.Error(t, err)
}

func TestAwaitFileFinishesAfterPolling(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if polls.Add(1) < 3 {
			fmt.Fprint(w, `{"status": "running"}`)
			return
		}
		fmt.Fprint(w, `{"status": "finished", "file_url": "https://files.example/export.zip"}`)
	}))
	defer srv.Close()

	fileURL, err := testClient().AwaitFile(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "https://files.example/export.zip", fileURL)
	assert.Equal(t, int32(3), polls.Load())
}

func TestAwaitFileGenerationFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status": "failed"}`)
	}))
	defer srv.Close()

	_, err := testClient().AwaitFile(context.Background(), srv.URL)
	assert.ErrorIs(t, err, ErrGenerationFailed)
}

func TestAwaitFileTimesOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status": "running"}`)
	}))
	defer srv.Close()

	_, err := testClient().AwaitFile(context.Background(), srv.URL)
	assert.ErrorIs(t, err, retry.ErrExhausted)
}

func TestAwaitFileToleratesTransientErrors(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if polls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"status": "finished", "file_url": "https://files.example/x.zip"}`)
	}))
	defer srv.Close()

	fileURL, err := testClient().AwaitFile(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.NotEmpty(t, fileURL)
}

func TestDownloadRetriesPlaceholder(t *testing.T) {
	archive := buildZip(t, map[string]string{"export.csv": "a,b\n1,2\n"})

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			// Server answers 200 with an HTML "not ready yet" page.
			fmt.Fprint(w, `<html><head><title>Your file is being prepared</title></head></html>`)
			return
		}
		w.Write(archive)
	}))
	defer srv.Close()

	got, err := testClient().Download(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, archive, got)
	assert.Equal(t, int32(2), hits.Load())
}

func TestDownloadGivesUpOnPersistentPlaceholder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>still preparing</body></html>`)
	}))
	defer srv.Close()

	_, err := testClient().Download(context.Background(), srv.URL)
	assert.ErrorIs(t, err, retry.ErrExhausted)
}

func TestIsZipArchive(t *testing.T) {
	assert.True(t, isZipArchive([]byte("PK\x03\x04rest")))
	assert.False(t, isZipArchive([]byte("<html>")))
	assert.False(t, isZipArchive([]byte("P")))
	assert.False(t, isZipArchive(nil))
}

func TestPlaceholderDetail(t *testing.T) {
	detail := placeholderDetail([]byte(`<html><head><title>Preparing download</title></head></html>`))
	assert.Equal(t, "Preparing download", detail)

	detail = placeholderDetail([]byte("plain text body"))
	assert.Equal(t, "plain text body", detail)
}
