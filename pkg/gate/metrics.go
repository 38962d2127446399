package gate

import "time"

// Metrics defines the interface for tracking validation and ledger operations.
type Metrics interface {
	// RecordValidation records a token validation attempt with its outcome
	// ("ok", "invalid" or "limit_exceeded").
	RecordValidation(scope Scope, outcome string)

	// RecordCostCheck records the duration of a weekly cost computation.
	RecordCostCheck(duration time.Duration)

	// RecordLedgerWrite records a ledger write ("event", "token_usage" or
	// "checkpoint") and whether it succeeded.
	RecordLedgerWrite(kind string, err error)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordValidation(scope Scope, outcome string) {}
func (n *NoopMetrics) RecordCostCheck(duration time.Duration)       {}
func (n *NoopMetrics) RecordLedgerWrite(kind string, err error)     {}
