package models

import "time"

// SystemMetrics is a lightweight in-process counter snapshot.
type SystemMetrics struct {
	RequestsTotal            uint64    `json:"requests_total"`
	AverageRequestDurationMs float64   `json:"average_request_duration_ms"`
	EmailsSent               uint64    `json:"emails_sent"`
	EmailsFailed             uint64    `json:"emails_failed"`
	ImportsCompleted         uint64    `json:"imports_completed"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generated_at"`
}
