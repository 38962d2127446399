// Package memory provides an in-memory implementation of the gate.Store
// interface. This implementation is primarily intended for testing and
// development.
package memory

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/transcribomatic/gateway/pkg/gate"
)

// Store implements gate.Store using in-memory slices and maps.
type Store struct {
	mu          sync.RWMutex
	users       map[string]*gate.User
	events      []gate.UsageEvent
	tokenUsage  []gate.TokenUsageRecord
	checkpoints []gate.CostCheckpoint
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		users: make(map[string]*gate.User),
	}
}

// GetUser implements gate.Store.
func (s *Store) GetUser(ctx context.Context, uniqueID string) (*gate.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[uniqueID]
	if !ok || !user.Enabled {
		return nil, nil
	}

	// Return a copy to prevent external mutations
	userCopy := *user
	return &userCopy, nil
}

// SaveUser implements gate.Store.
func (s *Store) SaveUser(ctx context.Context, user *gate.User) error {
	if user == nil || user.UniqueID == "" {
		return fmt.Errorf("invalid user")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if existing, ok := s.users[user.UniqueID]; ok {
		existing.ShowTranscription = user.ShowTranscription
		existing.ShowParalanguage = user.ShowParalanguage
		existing.ShowImage = user.ShowImage
		existing.UpdatedAt = now
		return nil
	}

	userCopy := *user
	userCopy.Enabled = true
	userCopy.CreatedAt = now
	userCopy.UpdatedAt = now
	s.users[user.UniqueID] = &userCopy
	return nil
}

// AppendEvent implements gate.Store.
func (s *Store) AppendEvent(ctx context.Context, event *gate.UsageEvent) error {
	if event == nil || event.UniqueID == "" {
		return fmt.Errorf("invalid event")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, *event)
	return nil
}

// AppendTokenUsage implements gate.Store.
func (s *Store) AppendTokenUsage(ctx context.Context, rec *gate.TokenUsageRecord) error {
	if rec == nil || rec.UniqueID == "" {
		return fmt.Errorf("invalid token usage record")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.tokenUsage = append(s.tokenUsage, *rec)
	return nil
}

// TokenTotalsSince implements gate.Store.
func (s *Store) TokenTotalsSince(ctx context.Context, uniqueID string, since time.Time) (gate.TokenTotals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var totals gate.TokenTotals
	for _, rec := range s.tokenUsage {
		if rec.UniqueID != uniqueID || rec.CreatedAt.Before(since) {
			continue
		}
		totals.InputText += rec.InputTextTokens
		totals.CachedText += rec.CachedTextTokens
		totals.OutputText += rec.OutputTextTokens
		totals.InputAudio += rec.InputAudioTokens
		totals.CachedAudio += rec.CachedAudioTokens
		totals.OutputAudio += rec.OutputAudioTokens
	}
	return totals, nil
}

// EventCountSince implements gate.Store.
func (s *Store) EventCountSince(ctx context.Context, uniqueID string, action gate.Action, since time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, ev := range s.events {
		if ev.UniqueID == uniqueID && ev.Action == action && !ev.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

// TranscriptionStatsSince implements gate.Store.
func (s *Store) TranscriptionStatsSince(ctx context.Context, uniqueID string, since time.Time) (gate.TranscriptionStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats gate.TranscriptionStats
	for _, ev := range s.events {
		if ev.UniqueID != uniqueID || ev.Action != gate.ActionTranscription || ev.CreatedAt.Before(since) {
			continue
		}
		stats.Count++
		// Non-numeric details count as zero words, matching SQL CAST semantics.
		words, _ := strconv.ParseInt(ev.Details, 10, 64)
		stats.TotalWords += words
	}
	if stats.Count > 0 {
		stats.AverageWords = float64(stats.TotalWords) / float64(stats.Count)
	}
	return stats, nil
}

// LastCheckpointTime implements gate.Store.
func (s *Store) LastCheckpointTime(ctx context.Context, uniqueID string) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var last time.Time
	for _, cp := range s.checkpoints {
		if cp.UniqueID == uniqueID && cp.CreatedAt.After(last) {
			last = cp.CreatedAt
		}
	}
	return last, nil
}

// AppendCheckpoint implements gate.Store.
func (s *Store) AppendCheckpoint(ctx context.Context, cp *gate.CostCheckpoint) error {
	if cp == nil || cp.UniqueID == "" {
		return fmt.Errorf("invalid checkpoint")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.checkpoints = append(s.checkpoints, *cp)
	return nil
}

// Checkpoints returns all checkpoint rows for an account, oldest first.
// Test helper.
func (s *Store) Checkpoints(uniqueID string) []gate.CostCheckpoint {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []gate.CostCheckpoint
	for _, cp := range s.checkpoints {
		if cp.UniqueID == uniqueID {
			out = append(out, cp)
		}
	}
	return out
}

// Events returns all event rows for an account, oldest first. Test helper.
func (s *Store) Events(uniqueID string) []gate.UsageEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []gate.UsageEvent
	for _, ev := range s.events {
		if ev.UniqueID == uniqueID {
			out = append(out, ev)
		}
	}
	return out
}
