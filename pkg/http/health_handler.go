package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HealthStatus represents the health check response
type HealthStatus struct {
	Status              string    `json:"status"`                // "healthy", "degraded", "unhealthy"
	Timestamp           time.Time `json:"timestamp"`             // Current timestamp
	Uptime              string    `json:"uptime"`                // Application uptime
	BrokerOnline        bool      `json:"broker_online"`         // Publish path status
	LastSuccessfulWrite string    `json:"last_successful_write"` // Time since last successful publish
	ErrorCount          int64     `json:"error_count"`           // Total failed publishes
	SuccessCount        int64     `json:"success_count"`         // Total successful publishes
	Version             string    `json:"version,omitempty"`     // Application version (optional)
}

// HealthChecker interface for providing health information
type HealthChecker interface {
	IsOnline() bool
	GetLastSuccessTime() time.Time
	GetErrorCount() int64
	GetSuccessCount() int64
}

// HealthHandler provides HTTP health check endpoint
type HealthHandler struct {
	startTime     time.Time
	healthChecker HealthChecker
	version       string
}

// NewHealthHandler creates a new health check handler
func NewHealthHandler(healthChecker HealthChecker, version string) *HealthHandler {
	return &HealthHandler{
		startTime:     time.Now(),
		healthChecker: healthChecker,
		version:       version,
	}
}

// ServeHTTP implements http.Handler interface for /health endpoint
func (hh *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	status := hh.getHealthStatus()

	w.Header().Set("Content-Type", "application/json")

	statusCode := http.StatusOK
	if status.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}

	w.WriteHeader(statusCode)

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(status); err != nil {
		http.Error(w, fmt.Sprintf("Failed to encode health status: %v", err), http.StatusInternalServerError)
	}
}

// getHealthStatus determines current health status
func (hh *HealthHandler) getHealthStatus() HealthStatus {
	now := time.Now()
	uptime := now.Sub(hh.startTime)

	isOnline := hh.healthChecker.IsOnline()
	lastSuccess := hh.healthChecker.GetLastSuccessTime()
	errorCount := hh.healthChecker.GetErrorCount()
	successCount := hh.healthChecker.GetSuccessCount()

	var lastWriteStr string
	if !lastSuccess.IsZero() {
		timeSince := now.Sub(lastSuccess)
		if timeSince < time.Minute {
			lastWriteStr = fmt.Sprintf("%d seconds ago", int(timeSince.Seconds()))
		} else if timeSince < time.Hour {
			lastWriteStr = fmt.Sprintf("%d minutes ago", int(timeSince.Minutes()))
		} else {
			lastWriteStr = fmt.Sprintf("%d hours ago", int(timeSince.Hours()))
		}
	} else {
		lastWriteStr = "never"
	}

	// A meter that simply is not pulsing produces no publishes, so only
	// the error rate and the broker link decide the verdict.
	status := "healthy"
	if !isOnline {
		status = "unhealthy"
	} else if errorCount > 0 {
		total := errorCount + successCount
		if total > 0 {
			errorRate := float64(errorCount) / float64(total) * 100.0
			if errorRate > 50.0 {
				status = "unhealthy"
			} else if errorRate > 20.0 {
				status = "degraded"
			}
		}
	}

	return HealthStatus{
		Status:              status,
		Timestamp:           now,
		Uptime:              formatDuration(uptime),
		BrokerOnline:        isOnline,
		LastSuccessfulWrite: lastWriteStr,
		ErrorCount:          errorCount,
		SuccessCount:        successCount,
		Version:             hh.version,
	}
}

// formatDuration formats a duration in human-readable form
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%d seconds", int(d.Seconds()))
	} else if d < time.Hour {
		return fmt.Sprintf("%d minutes", int(d.Minutes()))
	} else if d < 24*time.Hour {
		hours := int(d.Hours())
		minutes := int(d.Minutes()) % 60
		return fmt.Sprintf("%d hours %d minutes", hours, minutes)
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	return fmt.Sprintf("%d days %d hours", days, hours)
}
