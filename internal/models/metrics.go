package models

import "time"

// MetricsSnapshot summarises in-process counters for the metrics summary endpoint.
type MetricsSnapshot struct {
	RequestsTotal            uint64    `json:"requestsTotal"`
	AverageRequestDurationMs float64   `json:"averageRequestDurationMs"`
	LedgerTransactions       uint64    `json:"ledgerTransactions"`
	LedgerConflicts          uint64    `json:"ledgerConflicts"`
	AverageLedgerTxMs        float64   `json:"averageLedgerTxMs"`
	ProjectionApplied        uint64    `json:"projectionApplied"`
	ProjectionSkipped        uint64    `json:"projectionSkipped"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generatedAt"`
}
