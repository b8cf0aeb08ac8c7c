package gates

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// HealthProbe is the health collaborator's response body.
type HealthProbe struct {
	OK                  bool     `json:"ok"`
	FeatureStalenessSec *float64 `json:"feature_staleness_sec"`
}

// HealthProber fetches one health reading.
type HealthProber interface {
	Probe(ctx context.Context) (HealthProbe, error)
}

type HealthClientConfig struct {
	URL        string
	Timeout    time.Duration
	Retries    int
	HTTPClient *http.Client
}

// HealthClient probes the serving API's health endpoint with bounded
// retries. A probe that still fails after retries is reported as an
// error; the caller decides what that does to the affected gates.
type HealthClient struct {
	url     string
	client  *http.Client
	timeout time.Duration
	retries int
}

func NewHealthClient(cfg HealthClientConfig) (*HealthClient, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("health url required")
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	retries := cfg.Retries
	if retries < 0 {
		retries = 0
	}
	return &HealthClient{
		url:     strings.TrimSuffix(cfg.URL, "/"),
		client:  client,
		timeout: timeout,
		retries: retries,
	}, nil
}

func (c *HealthClient) Probe(ctx context.Context) (HealthProbe, error) {
	attempts := c.retries + 1
	var lastErr error
	for i := 0; i < attempts; i++ {
		if ctx.Err() != nil {
			return HealthProbe{}, ctx.Err()
		}
		reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.url, nil)
		if err != nil {
			cancel()
			return HealthProbe{}, fmt.Errorf("health build request: %w", err)
		}
		resp, err := c.client.Do(req)
		cancel()
		if err != nil {
			lastErr = err
		} else {
			probe, parseErr := decodeProbe(resp)
			resp.Body.Close()
			if parseErr == nil {
				return probe, nil
			}
			lastErr = parseErr
		}
		if i < attempts-1 {
			time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
		}
	}
	return HealthProbe{}, fmt.Errorf("health probe failed: %w", lastErr)
}

func decodeProbe(resp *http.Response) (HealthProbe, error) {
	if resp.StatusCode != http.StatusOK {
		return HealthProbe{}, fmt.Errorf("health endpoint returned %s", resp.Status)
	}
	var probe HealthProbe
	if err := json.NewDecoder(resp.Body).Decode(&probe); err != nil {
		return HealthProbe{}, fmt.Errorf("health decode response: %w", err)
	}
	return probe, nil
}
