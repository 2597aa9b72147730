package metricsclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/alob-mtc/invok-autoscaler/internal/autoscalererr"
	"github.com/alob-mtc/invok-autoscaler/internal/cache"
)

func instantQueryHandler(value string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"data": map[string]any{
				"result": []map[string]any{
					{"value": []any{1700000000, value}},
				},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func TestCPUPercentParsesResponse(t *testing.T) {
	srv := httptest.NewServer(instantQueryHandler("42.5"))
	defer srv.Close()

	c := New(srv.URL, cache.NewInMemory())
	got, err := c.CPUPercent(context.Background(), "container-1")
	if err != nil {
		t.Fatalf("CPUPercent: %v", err)
	}
	if got != 42.5 {
		t.Fatalf("expected 42.5, got %v", got)
	}
}

func TestQueryCachesResult(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		instantQueryHandler("10")(w, r)
	}))
	defer srv.Close()

	c := New(srv.URL, cache.NewInMemory())
	ctx := context.Background()

	if _, err := c.CPUPercent(ctx, "c1"); err != nil {
		t.Fatalf("first query: %v", err)
	}
	if _, err := c.CPUPercent(ctx, "c1"); err != nil {
		t.Fatalf("second query: %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected cached second call to skip backend, got %d calls", calls)
	}
}

func TestQueryFailsAfterExhaustedRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, cache.NewInMemory())
	_, err := c.CPUPercent(context.Background(), "c1")
	if err == nil {
		t.Fatal("expected error after exhausted retries")
	}
	if !errors.Is(err, autoscalererr.ErrMetricsUnavailable) {
		t.Fatalf("expected ErrMetricsUnavailable, got %v", err)
	}
}

func TestQueryPermanentOnMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer srv.Close()

	c := New(srv.URL, cache.NewInMemory())
	_, err := c.CPUPercent(context.Background(), "c1")
	if err == nil {
		t.Fatal("expected decode error")
	}
}
