package api

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// HealthStatus represents the overall health of the system.
type HealthStatus struct {
	Status  string                    `json:"status"` // "healthy", "degraded", "unhealthy"
	Version string                    `json:"version"`
	Uptime  string                    `json:"uptime"`
	Checks  map[string]ComponentCheck `json:"checks"`
}

// ComponentCheck represents the health of a single component.
type ComponentCheck struct {
	Status  string `json:"status"` // "up", "down", "degraded"
	Latency string `json:"latency,omitempty"`
	Message string `json:"message,omitempty"`
}

// Pinger is a dependency that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// WarmerStatus exposes the background warmer state.
type WarmerStatus interface {
	IsRunning() bool
	LastRun() (time.Time, error)
}

// HealthChecker reports on the optional dependencies (Redis cache, audit
// database, snapshot bucket, warmer) and on whether the connector can be
// called at all.
type HealthChecker struct {
	apiKeySet bool
	cache     Pinger
	db        Pinger
	snapshots Pinger
	warmer    WarmerStatus
	startTime time.Time
}

// NewHealthChecker creates a new HealthChecker.
// Any dependency can be nil; the check will report "not configured" for nil deps.
func NewHealthChecker(apiKeySet bool, cache, db, snapshots Pinger) *HealthChecker {
	return &HealthChecker{
		apiKeySet: apiKeySet,
		cache:     cache,
		db:        db,
		snapshots: snapshots,
		startTime: time.Now(),
	}
}

// SetWarmer sets the warmer reported by the "warmer" check.
func (hc *HealthChecker) SetWarmer(w WarmerStatus) {
	hc.warmer = w
}

const (
	healthVersion    = "1.0.0"
	notConfiguredMsg = "not configured"
)

// HandleHealth returns the health status of all components.
// Always 200; the status field conveys health.
//
//	GET /health
func (hc *HealthChecker) HandleHealth(w http.ResponseWriter, r *http.Request) {
	checks := hc.runAllChecks(r.Context())

	respondJSON(w, http.StatusOK, HealthStatus{
		Status:  determineOverallStatus(checks),
		Version: healthVersion,
		Uptime:  formatUptime(time.Since(hc.startTime)),
		Checks:  checks,
	})
}

// HandleLiveness is a simple liveness probe. It always returns 200 if the server
// process is running.
//
//	GET /health/live
func (hc *HealthChecker) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "alive",
		"uptime": formatUptime(time.Since(hc.startTime)),
	})
}

// HandleReadiness returns 503 when the service cannot serve datasets.
//
//	GET /health/ready
func (hc *HealthChecker) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	checks := hc.runAllChecks(r.Context())
	overall := determineOverallStatus(checks)

	ready := overall != "unhealthy"
	httpStatus := http.StatusOK
	if !ready {
		httpStatus = http.StatusServiceUnavailable
	}

	respondJSON(w, httpStatus, map[string]interface{}{
		"ready":  ready,
		"status": overall,
		"checks": checks,
	})
}

// ---------------------------------------------------------------------------
// Individual component checks
// ---------------------------------------------------------------------------

func (hc *HealthChecker) runAllChecks(ctx context.Context) map[string]ComponentCheck {
	checks := make(map[string]ComponentCheck, 5)
	checks["windsor"] = hc.checkWindsor()
	checks["warmer"] = hc.checkWarmer()

	// Network checks run concurrently.
	type result struct {
		name  string
		check ComponentCheck
	}
	ch := make(chan result, 3)

	go func() { ch <- result{"redis", checkPing(ctx, hc.cache, 2*time.Second, 500*time.Millisecond)} }()
	go func() { ch <- result{"database", checkPing(ctx, hc.db, 3*time.Second, time.Second)} }()
	go func() { ch <- result{"s3", checkPing(ctx, hc.snapshots, 3*time.Second, time.Second)} }()

	for i := 0; i < 3; i++ {
		r := <-ch
		checks[r.name] = r.check
	}
	return checks
}

func (hc *HealthChecker) checkWindsor() ComponentCheck {
	if !hc.apiKeySet {
		return ComponentCheck{Status: "down", Message: "api key missing"}
	}
	return ComponentCheck{Status: "up", Message: "api key configured"}
}

// checkWarmer is degraded when the last pass failed.
func (hc *HealthChecker) checkWarmer() ComponentCheck {
	if hc.warmer == nil {
		return ComponentCheck{Status: "down", Message: notConfiguredMsg}
	}
	last, err := hc.warmer.LastRun()
	switch {
	case err != nil:
		return ComponentCheck{Status: "degraded", Message: fmt.Sprintf("last pass failed: %v", err)}
	case last.IsZero():
		return ComponentCheck{Status: "up", Message: "no pass completed yet"}
	case !hc.warmer.IsRunning():
		return ComponentCheck{Status: "degraded", Message: "stopped"}
	default:
		return ComponentCheck{Status: "up", Message: "last pass " + last.UTC().Format(time.RFC3339)}
	}
}

// checkPing pings dep with a timeout and reports "degraded" above slow.
func checkPing(ctx context.Context, dep Pinger, timeout, slow time.Duration) ComponentCheck {
	if dep == nil {
		return ComponentCheck{Status: "down", Message: notConfiguredMsg}
	}

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := dep.Ping(pingCtx)
	latency := time.Since(start)

	if err != nil {
		return ComponentCheck{
			Status:  "down",
			Latency: latency.String(),
			Message: fmt.Sprintf("ping failed: %v", err),
		}
	}

	status := "up"
	msg := "connected"
	if latency > slow {
		status = "degraded"
		msg = fmt.Sprintf("slow response (%s)", latency)
	}

	return ComponentCheck{
		Status:  status,
		Latency: latency.String(),
		Message: msg,
	}
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// determineOverallStatus derives the aggregate status from individual checks.
//
// Rules:
//   - "unhealthy" if the connector has no api key (nothing can be fetched)
//   - "degraded"  if any check is degraded or a configured check is down
//   - "healthy"   otherwise
func determineOverallStatus(checks map[string]ComponentCheck) string {
	if c, ok := checks["windsor"]; ok && c.Status == "down" {
		return "unhealthy"
	}

	for _, c := range checks {
		if c.Status == "degraded" {
			return "degraded"
		}
		if c.Status == "down" && c.Message != notConfiguredMsg {
			return "degraded"
		}
	}

	return "healthy"
}

// formatUptime produces a human-readable uptime string like "3d 4h 12m 5s".
func formatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
