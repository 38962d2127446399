// Package postgres provides a PostgreSQL implementation of the gate.Store
// interface. All access is through parameterized point queries and bounded
// aggregations; no schema management happens here (see schema.sql).
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/transcribomatic/gateway/pkg/gate"
)

// Store implements gate.Store using PostgreSQL.
type Store struct {
	pool   *pgxpool.Pool
	config Config
}

// Config holds PostgreSQL store configuration.
type Config struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string

	// Pool configuration
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}
}

// New creates a new PostgreSQL store.
func New(ctx context.Context, config Config) (*Store, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{pool: pool, config: config}, nil
}

// Close closes the PostgreSQL connection pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// GetUser implements gate.Store.
func (s *Store) GetUser(ctx context.Context, uniqueID string) (*gate.User, error) {
	var user gate.User
	err := s.pool.QueryRow(ctx,
		`SELECT unique_id, show_transcription, show_paralanguage, show_image, enabled, created_at, updated_at
			FROM users WHERE unique_id = $1 AND enabled`,
		uniqueID).Scan(
		&user.UniqueID,
		&user.ShowTranscription,
		&user.ShowParalanguage,
		&user.ShowImage,
		&user.Enabled,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	if err == pgx.ErrNoRows {
		return nil, nil // Missing or disabled account is not an error
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return &user, nil
}

// SaveUser implements gate.Store. New accounts are created enabled; updates
// touch only the feature flags and updated_at.
func (s *Store) SaveUser(ctx context.Context, user *gate.User) error {
	if user == nil || user.UniqueID == "" {
		return fmt.Errorf("invalid user")
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (unique_id, show_transcription, show_paralanguage, show_image, enabled, created_at, updated_at)
			VALUES ($1, $2, $3, $4, TRUE, NOW(), NOW())
			ON CONFLICT (unique_id) DO UPDATE SET
				show_transcription = EXCLUDED.show_transcription,
				show_paralanguage = EXCLUDED.show_paralanguage,
				show_image = EXCLUDED.show_image,
				updated_at = NOW()`,
		user.UniqueID, user.ShowTranscription, user.ShowParalanguage, user.ShowImage,
	)
	if err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}

	return nil
}

// AppendEvent implements gate.Store.
func (s *Store) AppendEvent(ctx context.Context, event *gate.UsageEvent) error {
	if event == nil || event.UniqueID == "" {
		return fmt.Errorf("invalid event")
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO usage_events (unique_id, action, details, created_at)
			VALUES ($1, $2, $3, $4)`,
		event.UniqueID, string(event.Action), event.Details, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	return nil
}

// AppendTokenUsage implements gate.Store.
func (s *Store) AppendTokenUsage(ctx context.Context, rec *gate.TokenUsageRecord) error {
	if rec == nil || rec.UniqueID == "" {
		return fmt.Errorf("invalid token usage record")
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO token_usage
				(unique_id, total_tokens, input_tokens, output_tokens, cached_tokens,
				 input_text_tokens, input_audio_tokens, cached_text_tokens, cached_audio_tokens,
				 output_text_tokens, output_audio_tokens, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		rec.UniqueID, rec.TotalTokens, rec.InputTokens, rec.OutputTokens, rec.CachedTokens,
		rec.InputTextTokens, rec.InputAudioTokens, rec.CachedTextTokens, rec.CachedAudioTokens,
		rec.OutputTextTokens, rec.OutputAudioTokens, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append token usage: %w", err)
	}

	return nil
}

// TokenTotalsSince implements gate.Store.
func (s *Store) TokenTotalsSince(ctx context.Context, uniqueID string, since time.Time) (gate.TokenTotals, error) {
	var totals gate.TokenTotals
	err := s.pool.QueryRow(ctx,
		`SELECT
				COALESCE(SUM(input_text_tokens), 0),
				COALESCE(SUM(cached_text_tokens), 0),
				COALESCE(SUM(output_text_tokens), 0),
				COALESCE(SUM(input_audio_tokens), 0),
				COALESCE(SUM(cached_audio_tokens), 0),
				COALESCE(SUM(output_audio_tokens), 0)
			FROM token_usage
			WHERE unique_id = $1 AND created_at >= $2`,
		uniqueID, since).Scan(
		&totals.InputText,
		&totals.CachedText,
		&totals.OutputText,
		&totals.InputAudio,
		&totals.CachedAudio,
		&totals.OutputAudio,
	)
	if err != nil {
		return gate.TokenTotals{}, fmt.Errorf("failed to sum token usage: %w", err)
	}

	return totals, nil
}

// EventCountSince implements gate.Store.
func (s *Store) EventCountSince(ctx context.Context, uniqueID string, action gate.Action, since time.Time) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM usage_events
			WHERE unique_id = $1 AND action = $2 AND created_at >= $3`,
		uniqueID, string(action), since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}

	return count, nil
}

// TranscriptionStatsSince implements gate.Store. The details column holds a
// stringified word count for transcription events; rows with non-numeric
// details are counted but contribute zero words.
func (s *Store) TranscriptionStatsSince(ctx context.Context, uniqueID string, since time.Time) (gate.TranscriptionStats, error) {
	var stats gate.TranscriptionStats
	err := s.pool.QueryRow(ctx,
		`SELECT
				COUNT(*),
				COALESCE(SUM(CASE WHEN details ~ '^[0-9]+$' THEN details::bigint ELSE 0 END), 0),
				COALESCE(AVG(CASE WHEN details ~ '^[0-9]+$' THEN details::bigint ELSE 0 END), 0)
			FROM usage_events
			WHERE unique_id = $1 AND action = 'transcription' AND created_at >= $2`,
		uniqueID, since).Scan(&stats.Count, &stats.TotalWords, &stats.AverageWords)
	if err != nil {
		return gate.TranscriptionStats{}, fmt.Errorf("failed to aggregate transcription stats: %w", err)
	}

	return stats, nil
}

// LastCheckpointTime implements gate.Store.
func (s *Store) LastCheckpointTime(ctx context.Context, uniqueID string) (time.Time, error) {
	var last *time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT MAX(created_at) FROM cost_checkpoints WHERE unique_id = $1`,
		uniqueID).Scan(&last)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get last checkpoint: %w", err)
	}
	if last == nil {
		return time.Time{}, nil
	}

	return *last, nil
}

// AppendCheckpoint implements gate.Store.
func (s *Store) AppendCheckpoint(ctx context.Context, cp *gate.CostCheckpoint) error {
	if cp == nil || cp.UniqueID == "" {
		return fmt.Errorf("invalid checkpoint")
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO cost_checkpoints (unique_id, cost, created_at)
			VALUES ($1, $2, $3)`,
		cp.UniqueID, cp.Cost, cp.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append checkpoint: %w", err)
	}

	return nil
}
