// Package health runs named readiness checks for the registry server.
package health

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Check probes one dependency. A nil error means healthy.
type Check func(ctx context.Context) error

// Result is the outcome of one check.
type Result struct {
	Name    string        `json:"name"`
	Healthy bool          `json:"healthy"`
	Error   string        `json:"error,omitempty"`
	Latency time.Duration `json:"latency_ns"`
}

// Checker runs its registered checks concurrently, each under a timeout.
type Checker struct {
	mu      sync.RWMutex
	checks  map[string]Check
	timeout time.Duration
	logger  *zap.Logger
}

// New creates a Checker. A zero timeout defaults to two seconds.
func New(timeout time.Duration, logger *zap.Logger) *Checker {
	if timeout == 0 {
		timeout = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checker{checks: make(map[string]Check), timeout: timeout, logger: logger}
}

// Register adds or replaces the check called name.
func (h *Checker) Register(name string, check Check) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

// Run executes every check and returns the results sorted by name.
func (h *Checker) Run(ctx context.Context) []Result {
	h.mu.RLock()
	checks := make(map[string]Check, len(h.checks))
	for k, v := range h.checks {
		checks[k] = v
	}
	h.mu.RUnlock()

	results := make([]Result, 0, len(checks))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for name, check := range checks {
		wg.Add(1)
		go func(name string, check Check) {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, h.timeout)
			defer cancel()

			start := time.Now()
			err := check(cctx)
			r := Result{Name: name, Healthy: err == nil, Latency: time.Since(start)}
			if err != nil {
				r.Error = err.Error()
				h.logger.Warn("health: check failed", zap.String("check", name), zap.Error(err))
			}

			mu.Lock()
			results = append(results, r)
			mu.Unlock()
		}(name, check)
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })
	return results
}

// Handler serves the check results: 200 when all pass, 503 otherwise.
func (h *Checker) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		results := h.Run(c.Request.Context())
		status, code := "ok", http.StatusOK
		for _, r := range results {
			if !r.Healthy {
				status, code = "degraded", http.StatusServiceUnavailable
				break
			}
		}
		c.JSON(code, gin.H{"status": status, "checks": results})
	}
}
