package gate

import (
	"context"
	"time"
)

// Store defines the ledger persistence contract. Implementations live under
// storage/ (postgres for production, memory for tests). All reads the cost
// calculator depends on are bounded aggregations filtered by account id and
// a lower timestamp bound.
type Store interface {
	// GetUser retrieves an enabled account.
	// Returns nil, nil when the account does not exist or is disabled.
	GetUser(ctx context.Context, uniqueID string) (*User, error)

	// SaveUser creates or updates an account's feature flags. New accounts
	// are created enabled.
	SaveUser(ctx context.Context, user *User) error

	// AppendEvent appends one usage event row.
	AppendEvent(ctx context.Context, event *UsageEvent) error

	// AppendTokenUsage appends one token usage row.
	AppendTokenUsage(ctx context.Context, rec *TokenUsageRecord) error

	// TokenTotalsSince sums per-class token counts for an account since the
	// given time. No rows is zero totals, not an error.
	TokenTotalsSince(ctx context.Context, uniqueID string, since time.Time) (TokenTotals, error)

	// EventCountSince counts events of one action for an account since the
	// given time.
	EventCountSince(ctx context.Context, uniqueID string, action Action, since time.Time) (int64, error)

	// TranscriptionStatsSince aggregates transcription event count, total
	// words and average words since the given time.
	TranscriptionStatsSince(ctx context.Context, uniqueID string, since time.Time) (TranscriptionStats, error)

	// LastCheckpointTime returns the creation time of the newest cost
	// checkpoint, or the zero time when none exists.
	LastCheckpointTime(ctx context.Context, uniqueID string) (time.Time, error)

	// AppendCheckpoint appends one cost checkpoint row.
	AppendCheckpoint(ctx context.Context, cp *CostCheckpoint) error
}
