package health

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/nmxmxh/collision-readback/pkg/json"
)

// Status represents the health status
type Status string

const (
	StatusUp   Status = "UP"
	StatusDown Status = "DOWN"
)

// HealthCheck represents a health check
type HealthCheck interface {
	Check(ctx context.Context) error
	Name() string
}

// CheckFunc adapts a function to HealthCheck.
type CheckFunc struct {
	ID string
	Fn func(ctx context.Context) error
}

func (c CheckFunc) Check(ctx context.Context) error { return c.Fn(ctx) }
func (c CheckFunc) Name() string                    { return c.ID }

// HealthChecker manages health checks
type HealthChecker struct {
	checks  []HealthCheck
	mu      sync.RWMutex
	timeout time.Duration
}

// NewHealthChecker creates a new health checker
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		checks:  make([]HealthCheck, 0),
		timeout: 2 * time.Second,
	}
}

// Register adds a new health check
func (hc *HealthChecker) Register(check HealthCheck) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.checks = append(hc.checks, check)
}

// Check performs all health checks
func (hc *HealthChecker) Check(ctx context.Context) map[string]error {
	hc.mu.RLock()
	defer hc.mu.RUnlock()

	results := make(map[string]error)
	for _, check := range hc.checks {
		results[check.Name()] = check.Check(ctx)
	}
	return results
}

// Report is the JSON body served by Handler.
type Report struct {
	Status Status            `json:"status"`
	Checks map[string]string `json:"checks"`
	Failed []string          `json:"failed,omitempty"`
}

// Handler serves the aggregated result. Any failing check yields 503.
func (hc *HealthChecker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), hc.timeout)
		defer cancel()

		report := Report{Status: StatusUp, Checks: make(map[string]string)}
		for name, err := range hc.Check(ctx) {
			if err != nil {
				report.Checks[name] = err.Error()
				report.Failed = append(report.Failed, name)
				continue
			}
			report.Checks[name] = string(StatusUp)
		}
		sort.Strings(report.Failed)

		code := http.StatusOK
		if len(report.Failed) > 0 {
			report.Status = StatusDown
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(report)
	}
}

// Pinger is satisfied by the Redis client.
type Pinger interface {
	Health(ctx context.Context) error
}

// RedisHealthCheck checks Redis connectivity
type RedisHealthCheck struct {
	name   string
	client Pinger
}

func NewRedisHealthCheck(name string, client Pinger) *RedisHealthCheck {
	return &RedisHealthCheck{name: name, client: client}
}

func (r *RedisHealthCheck) Check(ctx context.Context) error {
	return r.client.Health(ctx)
}

func (r *RedisHealthCheck) Name() string {
	return r.name
}
