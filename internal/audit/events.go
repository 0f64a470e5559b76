// Package audit publishes one event per served rewrite so that feature
// lambdas can be tuned offline against what the service actually produced.
package audit

import "time"

// EventType tags rewrite events on the audit topic.
const EventType = "rwsdm.rewrite"

// RewriteEvent describes one served rewrite.
type RewriteEvent struct {
	RequestID string             `json:"request_id"`
	Input     string             `json:"input"`
	Output    string             `json:"output,omitempty"`
	Error     string             `json:"error,omitempty"`
	Lambdas   map[string]float64 `json:"lambdas,omitempty"`
	Part      string             `json:"part,omitempty"`
	Children  int                `json:"children"`
	LatencyMs int64              `json:"latency_ms"`
	Timestamp time.Time          `json:"timestamp"`
}
