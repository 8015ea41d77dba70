package models

import "time"

// AuthStats is a point-in-time view of token subsystem counters.
type AuthStats struct {
	TokensIssued             uint64    `json:"tokens_issued"`
	RotationsSucceeded       uint64    `json:"rotations_succeeded"`
	RotationsRejected        uint64    `json:"rotations_rejected"`
	AuthorizeSucceeded       uint64    `json:"authorize_succeeded"`
	AuthorizeDenied          uint64    `json:"authorize_denied"`
	RequestsTotal            uint64    `json:"requests_total"`
	AverageRequestDurationMs float64   `json:"average_request_duration_ms"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generated_at"`
}
