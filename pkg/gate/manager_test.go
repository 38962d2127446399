package gate_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transcribomatic/gateway/pkg/gate"
	"github.com/transcribomatic/gateway/storage/memory"
)

func TestNewManager(t *testing.T) {
	store := memory.New()

	manager, err := gate.NewManager(store, gate.Config{Secret: "s", WeeklyCap: 2.00})
	require.NoError(t, err)
	require.NotNil(t, manager)

	_, err = gate.NewManager(nil, gate.Config{Secret: "s"})
	assert.ErrorIs(t, err, gate.ErrStoreUnavailable)

	_, err = gate.NewManager(store, gate.Config{})
	assert.Error(t, err)
}

func TestValidateToken_RoundTrip(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	manager, _ := newTestManager(t, &now)
	ctx := context.Background()

	token := manager.IssueToken("user1", gate.ScopeUser)
	id, err := manager.ValidateToken(ctx, token, gate.ScopeUser)
	require.NoError(t, err)
	assert.Equal(t, "user1", id)
}

func TestValidateToken_InvalidIsOpaque(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	manager, _ := newTestManager(t, &now)
	ctx := context.Background()

	for _, token := range []string{"", "garbage", "user1:wrongsig", "a:b:c"} {
		_, err := manager.ValidateToken(ctx, token, gate.ScopeUser)
		assert.ErrorIs(t, err, gate.ErrInvalidToken, "token %q", token)
	}

	// Wrong scope is the same opaque rejection.
	manageToken := manager.IssueToken("user1", gate.ScopeManage)
	_, err := manager.ValidateToken(ctx, manageToken, gate.ScopeUser)
	assert.ErrorIs(t, err, gate.ErrInvalidToken)
}

func TestValidateToken_LimitExceeded(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	manager, _ := newTestManager(t, &now)
	ctx := context.Background()

	// Push spend over the $2.00 cap: 1M input text tokens at $5.00.
	report := &gate.UsageReport{}
	report.InputTokenDetails.TextTokens = 1_000_000
	manager.RecordTokenUsage(ctx, "user1", report)

	token := manager.IssueToken("user1", gate.ScopeUser)
	_, err := manager.ValidateToken(ctx, token, gate.ScopeUser)

	var limitErr *gate.LimitExceededError
	require.ErrorAs(t, err, &limitErr)
	assert.InDelta(t, 5.00, limitErr.Spend, 1e-9)
	assert.InDelta(t, 2.00, limitErr.Cap, 1e-9)
}

func TestValidateToken_ManageScopeNeverLimited(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	manager, _ := newTestManager(t, &now)
	ctx := context.Background()

	report := &gate.UsageReport{}
	report.InputTokenDetails.TextTokens = 10_000_000
	manager.RecordTokenUsage(ctx, "user1", report)

	token := manager.IssueToken("user1", gate.ScopeManage)
	id, err := manager.ValidateToken(ctx, token, gate.ScopeManage)
	require.NoError(t, err)
	assert.Equal(t, "user1", id)
}

func TestValidateToken_LimitClearsWithWindow(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	manager, _ := newTestManager(t, &now)
	ctx := context.Background()

	report := &gate.UsageReport{}
	report.InputTokenDetails.TextTokens = 1_000_000
	manager.RecordTokenUsage(ctx, "user1", report)

	token := manager.IssueToken("user1", gate.ScopeUser)
	_, err := manager.ValidateToken(ctx, token, gate.ScopeUser)
	require.Error(t, err)

	// Once the expensive usage ages out of the window the token works again.
	now = now.Add(8 * 24 * time.Hour)
	id, err := manager.ValidateToken(ctx, token, gate.ScopeUser)
	require.NoError(t, err)
	assert.Equal(t, "user1", id)
}

// failingStore errors on every read and write, standing in for a storage
// outage.
type failingStore struct{}

func (failingStore) GetUser(ctx context.Context, uniqueID string) (*gate.User, error) {
	return nil, fmt.Errorf("connection refused")
}

func (failingStore) SaveUser(ctx context.Context, user *gate.User) error {
	return fmt.Errorf("connection refused")
}

func (failingStore) AppendEvent(ctx context.Context, event *gate.UsageEvent) error {
	return fmt.Errorf("connection refused")
}

func (failingStore) AppendTokenUsage(ctx context.Context, rec *gate.TokenUsageRecord) error {
	return fmt.Errorf("connection refused")
}

func (failingStore) TokenTotalsSince(ctx context.Context, uniqueID string, since time.Time) (gate.TokenTotals, error) {
	return gate.TokenTotals{}, fmt.Errorf("connection refused")
}

func (failingStore) EventCountSince(ctx context.Context, uniqueID string, action gate.Action, since time.Time) (int64, error) {
	return 0, fmt.Errorf("connection refused")
}

func (failingStore) TranscriptionStatsSince(ctx context.Context, uniqueID string, since time.Time) (gate.TranscriptionStats, error) {
	return gate.TranscriptionStats{}, fmt.Errorf("connection refused")
}

func (failingStore) LastCheckpointTime(ctx context.Context, uniqueID string) (time.Time, error) {
	return time.Time{}, fmt.Errorf("connection refused")
}

func (failingStore) AppendCheckpoint(ctx context.Context, cp *gate.CostCheckpoint) error {
	return fmt.Errorf("connection refused")
}

func TestCost_FailsOpenOnStorageOutage(t *testing.T) {
	manager, err := gate.NewManager(failingStore{}, gate.Config{
		Secret:    "test-secret",
		Rates:     testRates,
		WeeklyCap: 2.00,
	})
	require.NoError(t, err)
	ctx := context.Background()

	// Cost reads fail open to zero so users are not locked out by an outage.
	assert.Zero(t, manager.WeeklyCost(ctx, "user1"))

	token := manager.IssueToken("user1", gate.ScopeUser)
	id, err := manager.ValidateToken(ctx, token, gate.ScopeUser)
	require.NoError(t, err)
	assert.Equal(t, "user1", id)
}

func TestRecord_BestEffortOnWriteFailure(t *testing.T) {
	manager, err := gate.NewManager(failingStore{}, gate.Config{
		Secret:    "test-secret",
		Rates:     testRates,
		WeeklyCap: 2.00,
	})
	require.NoError(t, err)
	ctx := context.Background()

	// Neither call may panic or surface the write failure.
	manager.RecordEvent(ctx, "user1", gate.ActionLogin, "")
	manager.RecordTokenUsage(ctx, "user1", &gate.UsageReport{TotalTokens: 10})
	manager.RecordTranscription(ctx, "user1", 42)
	manager.UpdateCheckpoint(ctx, "user1")
}

func TestGetUser_NotFound(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	manager, _ := newTestManager(t, &now)
	ctx := context.Background()

	_, err := manager.GetUser(ctx, "nobody")
	assert.ErrorIs(t, err, gate.ErrUserNotFound)
}

func TestSaveAndGetUser(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	manager, _ := newTestManager(t, &now)
	ctx := context.Background()

	err := manager.SaveUser(ctx, &gate.User{
		UniqueID:          "user1",
		ShowTranscription: true,
		ShowParalanguage:  false,
		ShowImage:         true,
	})
	require.NoError(t, err)

	user, err := manager.GetUser(ctx, "user1")
	require.NoError(t, err)
	assert.True(t, user.ShowTranscription)
	assert.False(t, user.ShowParalanguage)
	assert.True(t, user.ShowImage)
	assert.True(t, user.Enabled)

	// Updates keep the account enabled and flip only the flags.
	err = manager.SaveUser(ctx, &gate.User{UniqueID: "user1", ShowImage: false})
	require.NoError(t, err)

	user, err = manager.GetUser(ctx, "user1")
	require.NoError(t, err)
	assert.False(t, user.ShowImage)
	assert.True(t, user.Enabled)
}

func TestUsageReport_DefaultsMissingFieldsToZero(t *testing.T) {
	rec := (&gate.UsageReport{TotalTokens: 7}).Record("user1")
	assert.Equal(t, int64(7), rec.TotalTokens)
	assert.Zero(t, rec.InputTokens)
	assert.Zero(t, rec.CachedAudioTokens)
	assert.Zero(t, rec.OutputAudioTokens)

	var errCheck error = &gate.LimitExceededError{Spend: 2.5, Cap: 2.0}
	assert.Contains(t, errCheck.Error(), "$2.00")
	assert.Contains(t, errCheck.Error(), "$2.5000")
	var limitErr *gate.LimitExceededError
	assert.True(t, errors.As(errCheck, &limitErr))
}
