package gate

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

const costWindow = 7 * 24 * time.Hour

// Config holds gate manager configuration.
type Config struct {
	// Secret is the HMAC signing secret for tokens and model names.
	Secret string

	// AllowedModels overrides the model allow-list (default: DefaultAllowedModels).
	AllowedModels []string

	// Rates are the unit costs used by the cost calculator.
	Rates Rates

	// WeeklyCap is the maximum trailing-7-day spend in dollars before
	// user-scope tokens are rejected.
	WeeklyCap float64

	// Logger is used for structured logging (default: NoopLogger).
	Logger Logger

	// Metrics is used for tracking operations (default: NoopMetrics).
	Metrics Metrics

	// Now overrides the wall clock, for tests (default: time.Now).
	Now func() time.Time
}

// Manager composes the token codec, usage ledger, cost calculator and
// enforcement gate over an injected Store.
type Manager struct {
	store   Store
	codec   *Codec
	signer  *ModelSigner
	rates   Rates
	cap     float64
	logger  Logger
	metrics Metrics
	now     func() time.Time
}

// NewManager creates a gate manager with the given store and configuration.
func NewManager(store Store, config Config) (*Manager, error) {
	if store == nil {
		return nil, ErrStoreUnavailable
	}
	if config.Secret == "" {
		return nil, fmt.Errorf("signing secret is required")
	}
	if config.Logger == nil {
		config.Logger = &NoopLogger{}
	}
	if config.Metrics == nil {
		config.Metrics = &NoopMetrics{}
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &Manager{
		store:   store,
		codec:   NewCodec(config.Secret),
		signer:  NewModelSigner(config.Secret, config.AllowedModels),
		rates:   config.Rates,
		cap:     config.WeeklyCap,
		logger:  config.Logger,
		metrics: config.Metrics,
		now:     config.Now,
	}, nil
}

// Codec returns the manager's token codec.
func (m *Manager) Codec() *Codec { return m.codec }

// WeeklyCap returns the configured weekly spending cap in dollars.
func (m *Manager) WeeklyCap() float64 { return m.cap }

// ModelSigner returns the manager's model-name signer.
func (m *Manager) ModelSigner() *ModelSigner { return m.signer }

// IssueToken builds a token for the given account id and scope.
func (m *Manager) IssueToken(id string, scope Scope) string {
	return m.codec.Issue(id, scope)
}

// ValidateToken verifies a token for the given scope and returns the
// embedded account id. For user-scope tokens the trailing 7-day spend is
// checked against the weekly cap; a valid signature over the cap yields a
// *LimitExceededError carrying the current spend. Manage-scope tokens are
// never spend-limited.
//
// Two concurrent validations for the same account may both pass on a stale
// cost snapshot. The cap is a soft limit; no locking is done.
func (m *Manager) ValidateToken(ctx context.Context, token string, scope Scope) (string, error) {
	id, ok := m.codec.Verify(token, scope)
	if !ok {
		m.metrics.RecordValidation(scope, "invalid")
		return "", ErrInvalidToken
	}

	if scope == ScopeUser {
		spend := m.WeeklyCost(ctx, id)
		if spend >= m.cap {
			m.metrics.RecordValidation(scope, "limit_exceeded")
			return "", &LimitExceededError{Spend: spend, Cap: m.cap}
		}
	}

	m.metrics.RecordValidation(scope, "ok")
	return id, nil
}

// GetUser retrieves an enabled account. Returns ErrUserNotFound when the
// account does not exist or is disabled.
func (m *Manager) GetUser(ctx context.Context, id string) (*User, error) {
	user, err := m.store.GetUser(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// SaveUser creates or updates an account's feature flags.
func (m *Manager) SaveUser(ctx context.Context, user *User) error {
	if err := m.store.SaveUser(ctx, user); err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	return nil
}

// RecordEvent appends a usage event. Writes are best-effort telemetry:
// failures are logged and counted but never propagated to the caller.
func (m *Manager) RecordEvent(ctx context.Context, id string, action Action, details string) {
	err := m.store.AppendEvent(ctx, &UsageEvent{
		UniqueID:  id,
		Action:    action,
		Details:   details,
		CreatedAt: m.now(),
	})
	m.metrics.RecordLedgerWrite("event", err)
	if err != nil {
		m.logger.Error("failed to record usage event",
			Field{Key: "unique_id", Value: id},
			Field{Key: "action", Value: action},
			Field{Key: "error", Value: err.Error()})
	}
}

// RecordTokenUsage appends one token usage row extracted from an upstream
// usage report. Missing report fields default to zero. Best-effort, like
// RecordEvent.
func (m *Manager) RecordTokenUsage(ctx context.Context, id string, report *UsageReport) {
	rec := report.Record(id)
	rec.CreatedAt = m.now()
	err := m.store.AppendTokenUsage(ctx, rec)
	m.metrics.RecordLedgerWrite("token_usage", err)
	if err != nil {
		m.logger.Error("failed to record token usage",
			Field{Key: "unique_id", Value: id},
			Field{Key: "error", Value: err.Error()})
	}
}

// RecordTranscription appends a transcription event when the word count is
// positive.
func (m *Manager) RecordTranscription(ctx context.Context, id string, wordCount int64) {
	if wordCount <= 0 {
		return
	}
	m.RecordEvent(ctx, id, ActionTranscription, strconv.FormatInt(wordCount, 10))
}

// CostSince returns the account's dollar cost accrued since the given time:
// per-class token sums at the configured rates per 1M tokens, plus the
// picture event count at the per-image rate.
//
// A failed ledger read yields 0 rather than an error. Enforcement fails open
// under a storage outage instead of denying service.
func (m *Manager) CostSince(ctx context.Context, id string, since time.Time) float64 {
	totals, err := m.store.TokenTotalsSince(ctx, id, since)
	if err != nil {
		m.logger.Error("failed to read token totals, assuming zero cost",
			Field{Key: "unique_id", Value: id},
			Field{Key: "error", Value: err.Error()})
		return 0
	}

	images, err := m.store.EventCountSince(ctx, id, ActionPicture, since)
	if err != nil {
		m.logger.Error("failed to count image events, assuming zero cost",
			Field{Key: "unique_id", Value: id},
			Field{Key: "error", Value: err.Error()})
		return 0
	}

	return m.tokenCost(totals) + float64(images)*m.rates.Image
}

// WeeklyCost returns the cost accrued over the trailing 7x24h window. The
// window slides with the wall clock; it is not calendar-aligned.
func (m *Manager) WeeklyCost(ctx context.Context, id string) float64 {
	start := m.now()
	cost := m.CostSince(ctx, id, start.Add(-costWindow))
	m.metrics.RecordCostCheck(m.now().Sub(start))
	return cost
}

// WeeklyCostBreakdown decomposes the trailing-window cost per token class.
func (m *Manager) WeeklyCostBreakdown(ctx context.Context, id string) (*CostBreakdown, error) {
	since := m.now().Add(-costWindow)

	totals, err := m.store.TokenTotalsSince(ctx, id, since)
	if err != nil {
		return nil, fmt.Errorf("token totals: %w", err)
	}
	images, err := m.store.EventCountSince(ctx, id, ActionPicture, since)
	if err != nil {
		return nil, fmt.Errorf("image count: %w", err)
	}

	b := &CostBreakdown{
		TextInputCost:   perMillion(totals.InputText, m.rates.TextInput),
		TextCachedCost:  perMillion(totals.CachedText, m.rates.TextCached),
		TextOutputCost:  perMillion(totals.OutputText, m.rates.TextOutput),
		AudioInputCost:  perMillion(totals.InputAudio, m.rates.AudioInput),
		AudioCachedCost: perMillion(totals.CachedAudio, m.rates.AudioCached),
		AudioOutputCost: perMillion(totals.OutputAudio, m.rates.AudioOutput),
		ImageCost:       float64(images) * m.rates.Image,
		ImageCount:      images,
		Tokens:          totals,
	}
	b.TotalCost = b.TextInputCost + b.TextCachedCost + b.TextOutputCost +
		b.AudioInputCost + b.AudioCachedCost + b.AudioOutputCost + b.ImageCost
	return b, nil
}

// WeeklyTranscriptionStats aggregates transcription volume over the
// trailing 7-day window.
func (m *Manager) WeeklyTranscriptionStats(ctx context.Context, id string) (TranscriptionStats, error) {
	stats, err := m.store.TranscriptionStatsSince(ctx, id, m.now().Add(-costWindow))
	if err != nil {
		return TranscriptionStats{}, fmt.Errorf("transcription stats: %w", err)
	}
	return stats, nil
}

// UpdateCheckpoint appends a sparse cost checkpoint when the newest one is
// missing or older than 7 days, covering the cost accrued since it. Zero
// incremental cost appends nothing, so repeated calls within a window are
// idempotent. Checkpoints are an audit trail only; WeeklyCost always
// recomputes from raw records.
func (m *Manager) UpdateCheckpoint(ctx context.Context, id string) {
	last, err := m.store.LastCheckpointTime(ctx, id)
	if err != nil {
		m.logger.Error("failed to read last checkpoint",
			Field{Key: "unique_id", Value: id},
			Field{Key: "error", Value: err.Error()})
		return
	}

	now := m.now()
	if !last.IsZero() && now.Sub(last) <= costWindow {
		return
	}

	cost := m.CostSince(ctx, id, last)
	if cost <= 0 {
		return
	}

	err = m.store.AppendCheckpoint(ctx, &CostCheckpoint{
		UniqueID:  id,
		Cost:      cost,
		CreatedAt: now,
	})
	m.metrics.RecordLedgerWrite("checkpoint", err)
	if err != nil {
		m.logger.Error("failed to append cost checkpoint",
			Field{Key: "unique_id", Value: id},
			Field{Key: "error", Value: err.Error()})
	}
}

func (m *Manager) tokenCost(t TokenTotals) float64 {
	return perMillion(t.InputText, m.rates.TextInput) +
		perMillion(t.CachedText, m.rates.TextCached) +
		perMillion(t.OutputText, m.rates.TextOutput) +
		perMillion(t.InputAudio, m.rates.AudioInput) +
		perMillion(t.CachedAudio, m.rates.AudioCached) +
		perMillion(t.OutputAudio, m.rates.AudioOutput)
}

func perMillion(tokens int64, rate float64) float64 {
	return float64(tokens) * rate / 1_000_000
}
