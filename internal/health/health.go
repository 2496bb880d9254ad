// Package health implements the admin server's liveness and readiness
// endpoints. Readiness aggregates indicators for the gateway's upstream
// dependencies; liveness only confirms the process is serving.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
)

const checkTimeout = 3 * time.Second

// Indicator reports the health of one dependency.
type Indicator interface {
	Name() string
	Check(ctx context.Context) error
}

// IndicatorFunc adapts a function to the Indicator interface.
type IndicatorFunc struct {
	IndicatorName string
	CheckFn       func(ctx context.Context) error
}

func (f IndicatorFunc) Name() string                    { return f.IndicatorName }
func (f IndicatorFunc) Check(ctx context.Context) error { return f.CheckFn(ctx) }

// HTTPIndicator probes a dependency over HTTP; any 2xx/3xx response is
// healthy.
type HTTPIndicator struct {
	name   string
	url    string
	client *http.Client
}

// NewHTTPIndicator creates an indicator hitting the given URL.
func NewHTTPIndicator(name, url string) *HTTPIndicator {
	return &HTTPIndicator{
		name:   name,
		url:    url,
		client: &http.Client{Timeout: checkTimeout},
	}
}

func (h *HTTPIndicator) Name() string { return h.name }

func (h *HTTPIndicator) Check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

// RedisIndicator pings the shared Redis client.
type RedisIndicator struct {
	client *redis.Client
}

// NewRedisIndicator creates an indicator over the given client.
func NewRedisIndicator(client *redis.Client) *RedisIndicator {
	return &RedisIndicator{client: client}
}

func (r *RedisIndicator) Name() string { return "redis" }

func (r *RedisIndicator) Check(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

type componentStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type healthResponse struct {
	Status     string                     `json:"status"`
	Components map[string]componentStatus `json:"components,omitempty"`
}

// Liveness returns the /healthz handler. It always reports UP: if the
// process can answer, it is alive.
func Liveness() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, healthResponse{Status: "UP"})
	}
}

// Readiness returns the /readyz handler aggregating the given indicators.
// Any failing indicator makes the response 503 with per-component detail.
func Readiness(indicators ...Indicator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		defer cancel()

		resp := healthResponse{
			Status:     "UP",
			Components: make(map[string]componentStatus, len(indicators)),
		}
		for _, ind := range indicators {
			if err := ind.Check(ctx); err != nil {
				resp.Status = "DOWN"
				resp.Components[ind.Name()] = componentStatus{Status: "DOWN", Error: err.Error()}
			} else {
				resp.Components[ind.Name()] = componentStatus{Status: "UP"}
			}
		}

		status := http.StatusOK
		if resp.Status == "DOWN" {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, resp)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
