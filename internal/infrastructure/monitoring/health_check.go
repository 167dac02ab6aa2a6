package monitoring

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// HealthChecker aggregates named liveness checks for the bridge: device
// polling freshness, signaling relay state, and anything else main wires
// in.
type HealthChecker struct {
	mu     sync.RWMutex
	checks []HealthCheck
}

type HealthCheck struct {
	Name    string
	Check   func(ctx context.Context) error
	Timeout time.Duration
}

type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{}
}

func (h *HealthChecker) AddCheck(name string, check func(ctx context.Context) error, timeout time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.checks = append(h.checks, HealthCheck{
		Name:    name,
		Check:   check,
		Timeout: timeout,
	})
}

// CheckAll runs every registered check. A single failing check marks the
// whole status degraded; individual results are reported per check.
func (h *HealthChecker) CheckAll(ctx context.Context) HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Checks:    make(map[string]string),
	}

	for _, check := range h.checks {
		if err := h.runCheck(ctx, check); err != nil {
			status.Status = "degraded"
			status.Checks[check.Name] = err.Error()
		} else {
			status.Checks[check.Name] = "ok"
		}
	}

	return status
}

func (h *HealthChecker) runCheck(ctx context.Context, check HealthCheck) error {
	checkCtx, cancel := context.WithTimeout(ctx, check.Timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- check.Check(checkCtx) }()

	select {
	case err := <-done:
		return err
	case <-checkCtx.Done():
		return fmt.Errorf("health check %s timed out", check.Name)
	}
}

// SnapshotFreshnessCheck fails when the last stored snapshot is older
// than maxAge, which means polling has stalled or keeps failing.
func SnapshotFreshnessCheck(updatedAt func() time.Time, maxAge time.Duration) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		last := updatedAt()
		if last.IsZero() {
			return fmt.Errorf("no poll cycle has completed yet")
		}
		if age := time.Since(last); age > maxAge {
			return fmt.Errorf("snapshot is stale: last update %s ago", age.Round(time.Second))
		}
		return nil
	}
}
