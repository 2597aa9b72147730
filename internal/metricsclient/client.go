// Package metricsclient queries the metrics backend's PromQL
// instant-query endpoint for per-container CPU and memory utilization,
// with a short-TTL cache and bounded retry so that transient
// metrics-backend hiccups never propagate into spurious scaling decisions.
package metricsclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/alob-mtc/invok-autoscaler/internal/autoscalererr"
	"github.com/alob-mtc/invok-autoscaler/internal/cache"
	"github.com/alob-mtc/invok-autoscaler/internal/logging"
	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/singleflight"
)

// defaultCacheTTL bounds how long a queried value is reused before the next
// poll tick re-queries the backend. It also bounds metric staleness, so it
// must stay well under any sane poll interval.
const defaultCacheTTL = 5 * time.Second

const maxAttempts = 3

// instantQueryResponse models Prometheus's instant-query response shape:
// {"data":{"result":[{"value":[<ts>,"<number>"]}]}}.
type instantQueryResponse struct {
	Data struct {
		Result []struct {
			Value [2]any `json:"value"`
		} `json:"result"`
	} `json:"data"`
}

// Client queries a PromQL-compatible metrics backend over HTTP. A miss in
// the TTL cache triggers at most one in-flight backend request per query
// string, via singleflight, so a burst of scale-tick sampling across
// containers never fans out into duplicate HTTP calls for the same query.
type Client struct {
	baseURL    string
	httpClient *http.Client
	cache      cache.Cache
	cacheTTL   time.Duration
	group      singleflight.Group
}

// New builds a Client against baseURL (the configured
// metrics_backend_url). c may be any cache.Cache -- a process-local
// cache.InMemory by default, or a cache.Tiered over a shared Redis tier
// when several autoscaler replicas poll the same fleet.
func New(baseURL string, c cache.Cache) *Client {
	if c == nil {
		c = cache.NewInMemory()
	}
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
		cache:    c,
		cacheTTL: defaultCacheTTL,
	}
}

// CPUPercent returns the most recent CPU utilization percentage for
// containerID, in the same units as the configured thresholds (80.0 means
// 80%). The 30s rate window smooths transient spikes while still reacting
// within two scale ticks; do not shrink it below 10s without re-tuning
// the overload thresholds.
func (c *Client) CPUPercent(ctx context.Context, containerID string) (float64, error) {
	query := fmt.Sprintf(`rate(container_cpu_usage_seconds_total{id=~"/docker/%s.*"}[30s]) * 100`, containerID)
	return c.query(ctx, query)
}

// MemoryPercent returns the most recent memory utilization percentage for
// containerID, relative to the container's configured memory limit.
func (c *Client) MemoryPercent(ctx context.Context, containerID string) (float64, error) {
	query := fmt.Sprintf(`(container_memory_usage_bytes{id=~"/docker/%s.*"} / container_spec_memory_limit_bytes{id=~"/docker/%s.*"}) * 100`, containerID, containerID)
	return c.query(ctx, query)
}

func (c *Client) query(ctx context.Context, promql string) (float64, error) {
	if value, ok, err := c.cache.Lookup(ctx, promql); err != nil {
		logging.Ctx(ctx).Warn("metricsclient: cache lookup failed", "error", err)
	} else if ok {
		return value, nil
	}

	v, err, _ := c.group.Do(promql, func() (any, error) {
		return c.queryBackend(ctx, promql)
	})
	if err != nil {
		return 0, err
	}
	value := v.(float64)
	if err := c.cache.Store(ctx, promql, value, c.cacheTTL); err != nil {
		logging.Ctx(ctx).Warn("metricsclient: cache store failed", "error", err)
	}
	return value, nil
}

// queryBackend performs the HTTP round trip with exponential backoff,
// making at most maxAttempts attempts in total, via cenkalti/backoff
// instead of a hand-rolled loop.
func (c *Client) queryBackend(ctx context.Context, promql string) (float64, error) {
	op := func() (float64, error) {
		value, err := c.doRequest(ctx, promql)
		if err != nil {
			return 0, err
		}
		return value, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond

	value, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(maxAttempts),
	)
	if err != nil {
		return 0, fmt.Errorf("metricsclient: query %q: %w: %w", promql, autoscalererr.ErrMetricsUnavailable, err)
	}
	return value, nil
}

func (c *Client) doRequest(ctx context.Context, promql string) (float64, error) {
	u, err := url.Parse(c.baseURL + "/api/v1/query")
	if err != nil {
		return 0, backoff.Permanent(fmt.Errorf("metricsclient: invalid base url: %w", err))
	}
	q := u.Query()
	q.Set("query", promql)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return 0, backoff.Permanent(fmt.Errorf("metricsclient: build request: %w", err))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("metricsclient: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("metricsclient: read response: %w", err)
	}

	if resp.StatusCode >= 500 {
		return 0, fmt.Errorf("metricsclient: backend returned %d: %s", resp.StatusCode, body)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, backoff.Permanent(fmt.Errorf("metricsclient: backend returned %d: %s", resp.StatusCode, body))
	}

	var parsed instantQueryResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return 0, backoff.Permanent(fmt.Errorf("metricsclient: decode response: %w", err))
	}
	if len(parsed.Data.Result) == 0 {
		return 0, backoff.Permanent(fmt.Errorf("metricsclient: empty result for query %q", promql))
	}

	raw, ok := parsed.Data.Result[0].Value[1].(string)
	if !ok {
		return 0, backoff.Permanent(fmt.Errorf("metricsclient: unexpected value shape for query %q", promql))
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, backoff.Permanent(fmt.Errorf("metricsclient: parse value %q: %w", raw, err))
	}
	return value, nil
}

// Close releases the underlying cache, if it holds resources (e.g. a Redis
// connection).
func (c *Client) Close() error {
	return c.cache.Close()
}
