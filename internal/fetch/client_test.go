package fetch_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"shroomdump/internal/fetch"
	"shroomdump/internal/retry"
	"shroomdump/internal/services"
)

func newClient() *fetch.Client {
	return fetch.New(fetch.Options{
		Timeout: 5 * time.Second,
		Retry: retry.Options{
			MaxRetries:    2,
			InitialDelay:  time.Millisecond,
			MaxDelay:      5 * time.Millisecond,
			BackoffFactor: 2,
		},
		CacheTTL: time.Minute,
	}, nil)
}

func TestTextIsCachedAcrossCallers(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		time.Sleep(20 * time.Millisecond)
		_, _ = w.Write([]byte("a=1\nb=${a}-2\n"))
	}))
	defer srv.Close()

	client := newClient()
	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			text, err := client.Text(context.Background(), srv.URL)
			if err != nil {
				t.Errorf("Text: %v", err)
				return
			}
			if text != "a=1\nb=${a}-2\n" {
				t.Errorf("unexpected body %q", text)
			}
		}()
	}
	wg.Wait()
	if got := hits.Load(); got != 1 {
		t.Fatalf("expected one request, got %d", got)
	}
}

func TestTransientStatusIsRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"shockwave-windows-version":"14","shockwave-windows":"http://x/client.zip"}`))
	}))
	defer srv.Close()

	var doc map[string]string
	if err := newClient().JSON(context.Background(), srv.URL, &doc); err != nil {
		t.Fatalf("JSON: %v", err)
	}
	if doc["shockwave-windows-version"] != "14" {
		t.Fatalf("unexpected document %v", doc)
	}
	if got := hits.Load(); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestNotFoundFailsWithoutRetry(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := newClient().Text(context.Background(), srv.URL)
	if !errors.Is(err, services.ErrFetch) {
		t.Fatalf("expected fetch error, got %v", err)
	}
	var statusErr *fetch.StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 status error, got %v", err)
	}
	if got := hits.Load(); got != 1 {
		t.Fatalf("expected a single attempt, got %d", got)
	}
}

func TestExhaustedRetriesAreFetchErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newClient().Text(context.Background(), srv.URL)
	if services.KindOf(err) != services.KindFetch {
		t.Fatalf("expected fetch kind, got %v", err)
	}
	if !errors.Is(err, services.ErrRetryExhausted) {
		t.Fatalf("expected retry exhaustion in chain, got %v", err)
	}
}

func TestFailedFetchIsNotCached(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	client := newClient()
	if _, err := client.Text(context.Background(), srv.URL); err == nil {
		t.Fatal("expected first fetch to fail")
	}
	text, err := client.Text(context.Background(), srv.URL)
	if err != nil || text != "ok" {
		t.Fatalf("expected retry after failure, got %q, %v", text, err)
	}
}

func TestDownloadWritesAtomically(t *testing.T) {
	payload := []byte("PK\x03\x04 fake archive")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "downloads", "origins_client_14.zip")
	n, err := newClient().Download(context.Background(), srv.URL, dest)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if n != int64(len(payload)) {
		t.Fatalf("expected %d bytes, got %d", len(payload), n)
	}
	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read download: %v", err)
	}
	if string(data) != string(payload) {
		t.Fatalf("unexpected content %q", data)
	}
	if _, err := os.Stat(dest + ".tmp"); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("temp file left behind: %v", err)
	}
}
