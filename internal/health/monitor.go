// Package health tracks rolling per-tenant request metrics, evaluates alert
// thresholds, and aggregates system-wide health.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Comparison operators for thresholds.
const (
	CompareGT = "gt"
	CompareLT = "lt"
	CompareEQ = "eq"
)

// Severities.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Metric names thresholds can target.
const (
	MetricResponseTime = "response_time_ms"
	MetricErrorRate    = "error_rate_percent"
)

const (
	defaultRetention  = 24 * time.Hour
	defaultMaxMetrics = 1000
	recentWindow      = time.Minute
)

// Metric is one recorded request observation.
type Metric struct {
	Timestamp      time.Time `json:"timestamp"`
	ProjectID      string    `json:"project_id"`
	ResponseTimeMs float64   `json:"response_time_ms"`
	Success        bool      `json:"success"`
	ErrorMessage   string    `json:"error_message,omitempty"`
}

// Threshold is one alert rule, registered globally or per project.
type Threshold struct {
	Name       string  `json:"name"`
	Metric     string  `json:"metric"`
	Threshold  float64 `json:"threshold"`
	Comparison string  `json:"comparison"`
	Severity   string  `json:"severity"`
}

// Exceeded applies the comparison against a metric value.
func (t Threshold) Exceeded(value float64) bool {
	switch t.Comparison {
	case CompareGT:
		return value > t.Threshold
	case CompareLT:
		return value < t.Threshold
	case CompareEQ:
		return value == t.Threshold
	default:
		return false
	}
}

// Alert renders the alert line for a triggered threshold.
func (t Threshold) Alert(value float64) string {
	return fmt.Sprintf("[%s] %s: %s=%g (threshold: %g)",
		t.Severity, t.Name, t.Metric, value, t.Threshold)
}

// ProjectStatus is the result of one project health check.
type ProjectStatus struct {
	ProjectID      string    `json:"project_id"`
	Healthy        bool      `json:"healthy"`
	ResponseTimeMs float64   `json:"response_time_ms"`
	ErrorRate      float64   `json:"error_rate_percent"`
	RecentErrors   []string  `json:"recent_errors,omitempty"`
	Alerts         []string  `json:"alerts,omitempty"`
	Message        string    `json:"message,omitempty"`
	CheckedAt      time.Time `json:"checked_at"`
}

// SystemStatus aggregates all projects.
type SystemStatus struct {
	Status    string                    `json:"status"` // healthy, degraded, unhealthy
	Projects  map[string]*ProjectStatus `json:"projects"`
	CheckedAt time.Time                 `json:"checked_at"`
}

// SystemStats is the global counters view.
type SystemStats struct {
	TotalRequests      int64   `json:"total_requests"`
	SuccessfulRequests int64   `json:"successful_requests"`
	FailedRequests     int64   `json:"failed_requests"`
	ErrorRate          float64 `json:"error_rate_percent"`
	RequestsLastMinute int     `json:"requests_last_minute"`
	AvgResponseTimeMs  float64 `json:"avg_response_time_ms"`
}

// CheckFunc probes one upstream; it returns the plugin's raw health payload.
type CheckFunc func(ctx context.Context) (string, error)

// Monitor keeps bounded per-project metric windows and alert thresholds.
type Monitor struct {
	mu sync.Mutex

	retention  time.Duration
	maxMetrics int

	metrics map[string][]Metric // project -> ring, oldest first

	globalThresholds  []Threshold
	projectThresholds map[string][]Threshold

	total      int64
	successful int64
	failed     int64

	// recent windows for rate-over-last-minute
	recentTimes     []time.Time
	recentDurations []float64

	logger *zap.Logger
	now    func() time.Time
}

// NewMonitor creates a monitor with default retention and thresholds.
func NewMonitor(logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Monitor{
		retention:         defaultRetention,
		maxMetrics:        defaultMaxMetrics,
		metrics:           make(map[string][]Metric),
		projectThresholds: make(map[string][]Threshold),
		logger:            logger,
		now:               time.Now,
	}
	m.globalThresholds = []Threshold{
		{Name: "slow_response", Metric: MetricResponseTime, Threshold: 5000, Comparison: CompareGT, Severity: SeverityCritical},
		{Name: "elevated_errors", Metric: MetricErrorRate, Threshold: 10, Comparison: CompareGT, Severity: SeverityWarning},
		{Name: "high_errors", Metric: MetricErrorRate, Threshold: 25, Comparison: CompareGT, Severity: SeverityCritical},
	}
	return m
}

// AddThreshold registers an alert rule. Empty projectID means global.
func (m *Monitor) AddThreshold(projectID string, t Threshold) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if projectID == "" {
		m.globalThresholds = append(m.globalThresholds, t)
		return
	}
	m.projectThresholds[projectID] = append(m.projectThresholds[projectID], t)
}

// RecordRequest appends one observation, evicting entries older than the
// retention window and keeping at most maxMetrics per project.
func (m *Monitor) RecordRequest(projectID string, responseTimeMs float64, success bool, errMsg string) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	window := m.evictLocked(projectID, now)
	window = append(window, Metric{
		Timestamp:      now,
		ProjectID:      projectID,
		ResponseTimeMs: responseTimeMs,
		Success:        success,
		ErrorMessage:   errMsg,
	})
	if len(window) > m.maxMetrics {
		window = window[len(window)-m.maxMetrics:]
	}
	m.metrics[projectID] = window

	m.total++
	if success {
		m.successful++
	} else {
		m.failed++
	}

	m.recentTimes = append(m.recentTimes, now)
	m.recentDurations = append(m.recentDurations, responseTimeMs)
	m.trimRecentLocked(now)
}

// evictLocked drops metrics older than the retention window.
func (m *Monitor) evictLocked(projectID string, now time.Time) []Metric {
	window := m.metrics[projectID]
	cutoff := now.Add(-m.retention)
	i := 0
	for i < len(window) && window[i].Timestamp.Before(cutoff) {
		i++
	}
	return window[i:]
}

func (m *Monitor) trimRecentLocked(now time.Time) {
	cutoff := now.Add(-recentWindow)
	i := 0
	for i < len(m.recentTimes) && m.recentTimes[i].Before(cutoff) {
		i++
	}
	m.recentTimes = m.recentTimes[i:]
	m.recentDurations = m.recentDurations[i:]
}

// errorRateLocked computes the current window error rate for a project.
func (m *Monitor) errorRateLocked(projectID string) (rate float64, recentErrors []string) {
	window := m.metrics[projectID]
	if len(window) == 0 {
		return 0, nil
	}
	failures := 0
	for _, metric := range window {
		if !metric.Success {
			failures++
			if metric.ErrorMessage != "" && len(recentErrors) < 5 {
				recentErrors = append(recentErrors, metric.ErrorMessage)
			}
		}
	}
	return float64(failures) / float64(len(window)) * 100, recentErrors
}

// CheckProjectHealth probes one project, records the metric, and evaluates
// thresholds. A string response that is not valid JSON is treated as a
// failure carrying that string as the message.
func (m *Monitor) CheckProjectHealth(ctx context.Context, projectID string, check CheckFunc) *ProjectStatus {
	start := m.now()
	payload, err := check(ctx)
	elapsed := m.now().Sub(start)
	responseTimeMs := float64(elapsed.Microseconds()) / 1000

	healthy := err == nil
	message := ""
	if err != nil {
		message = err.Error()
	} else if payload != "" {
		var parsed any
		if jsonErr := json.Unmarshal([]byte(payload), &parsed); jsonErr != nil {
			healthy = false
			message = payload
		}
	}

	m.RecordRequest(projectID, responseTimeMs, healthy, message)

	m.mu.Lock()
	errorRate, recentErrors := m.errorRateLocked(projectID)
	thresholds := append(append([]Threshold(nil), m.globalThresholds...), m.projectThresholds[projectID]...)
	m.mu.Unlock()

	var alerts []string
	for _, t := range thresholds {
		var value float64
		switch t.Metric {
		case MetricResponseTime:
			value = responseTimeMs
		case MetricErrorRate:
			value = errorRate
		default:
			continue
		}
		if t.Exceeded(value) {
			alerts = append(alerts, t.Alert(value))
		}
	}

	status := &ProjectStatus{
		ProjectID:      projectID,
		Healthy:        healthy,
		ResponseTimeMs: responseTimeMs,
		ErrorRate:      errorRate,
		RecentErrors:   recentErrors,
		Alerts:         alerts,
		Message:        message,
		CheckedAt:      m.now(),
	}
	if !healthy {
		m.logger.Warn("project health check failed",
			zap.String("project_id", projectID),
			zap.String("message", message))
	}
	return status
}

// CheckAllProjectsHealth fans out over the given checks and aggregates:
// healthy when all pass, unhealthy when none do, degraded otherwise.
func (m *Monitor) CheckAllProjectsHealth(ctx context.Context, checks map[string]CheckFunc) *SystemStatus {
	result := &SystemStatus{
		Projects:  make(map[string]*ProjectStatus, len(checks)),
		CheckedAt: m.now(),
	}
	healthyCount := 0
	for projectID, check := range checks {
		status := m.CheckProjectHealth(ctx, projectID, check)
		result.Projects[projectID] = status
		if status.Healthy {
			healthyCount++
		}
	}
	switch {
	case len(checks) == 0 || healthyCount == len(checks):
		result.Status = "healthy"
	case healthyCount == 0:
		result.Status = "unhealthy"
	default:
		result.Status = "degraded"
	}
	return result
}

// GetSystemStats returns the global counters and last-minute rates.
func (m *Monitor) GetSystemStats() SystemStats {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trimRecentLocked(now)

	stats := SystemStats{
		TotalRequests:      m.total,
		SuccessfulRequests: m.successful,
		FailedRequests:     m.failed,
		RequestsLastMinute: len(m.recentTimes),
	}
	if m.total > 0 {
		stats.ErrorRate = float64(m.failed) / float64(m.total) * 100
	}
	if len(m.recentDurations) > 0 {
		var sum float64
		for _, d := range m.recentDurations {
			sum += d
		}
		stats.AvgResponseTimeMs = sum / float64(len(m.recentDurations))
	}
	return stats
}

// ProjectMetrics returns a copy of the current window for a project.
func (m *Monitor) ProjectMetrics(projectID string) []Metric {
	m.mu.Lock()
	defer m.mu.Unlock()
	window := m.evictLocked(projectID, m.now())
	m.metrics[projectID] = window
	return append([]Metric(nil), window...)
}

// SetNowFunc overrides the clock; tests only.
func (m *Monitor) SetNowFunc(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}
