package gate

import "time"

// Scope partitions tokens into non-interchangeable capabilities.
// The scope string salts the signing key, so a token issued under one
// scope never verifies under another.
type Scope string

const (
	// ScopeUser is the session capability. Validation is spend-limited.
	ScopeUser Scope = "user"
	// ScopeManage is the account-configuration capability. Never spend-limited.
	ScopeManage Scope = "manage"
)

// Action identifies the kind of usage event being recorded.
type Action string

const (
	ActionLogin         Action = "login"
	ActionPicture       Action = "picture"
	ActionTranscription Action = "transcription"
	ActionManage        Action = "manage"
)

// User holds per-account feature flags. Accounts are provisioned lazily on
// the first successful manage-token validation and are never deleted here.
type User struct {
	UniqueID          string
	ShowTranscription bool
	ShowParalanguage  bool
	ShowImage         bool
	Enabled           bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// UsageEvent is one append-only ledger row. Details holds free text (the
// image prompt) or a stringified word count, depending on the action.
type UsageEvent struct {
	UniqueID  string
	Action    Action
	Details   string
	CreatedAt time.Time
}

// TokenUsageRecord is one logged API usage report. All counts are
// non-negative and default to 0 when absent from the source report.
type TokenUsageRecord struct {
	UniqueID          string
	TotalTokens       int64
	InputTokens       int64
	OutputTokens      int64
	CachedTokens      int64
	InputTextTokens   int64
	InputAudioTokens  int64
	CachedTextTokens  int64
	CachedAudioTokens int64
	OutputTextTokens  int64
	OutputAudioTokens int64
	CreatedAt         time.Time
}

// UsageReport mirrors the usage block of an upstream realtime API response.
// Missing nested fields unmarshal to zero.
type UsageReport struct {
	TotalTokens  int64 `json:"total_tokens"`
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`

	InputTokenDetails struct {
		CachedTokens int64 `json:"cached_tokens"`
		TextTokens   int64 `json:"text_tokens"`
		AudioTokens  int64 `json:"audio_tokens"`

		CachedTokensDetails struct {
			TextTokens  int64 `json:"text_tokens"`
			AudioTokens int64 `json:"audio_tokens"`
		} `json:"cached_tokens_details"`
	} `json:"input_token_details"`

	OutputTokenDetails struct {
		TextTokens  int64 `json:"text_tokens"`
		AudioTokens int64 `json:"audio_tokens"`
	} `json:"output_token_details"`
}

// Record flattens the report into a ledger row for the given account.
func (r *UsageReport) Record(uniqueID string) *TokenUsageRecord {
	return &TokenUsageRecord{
		UniqueID:          uniqueID,
		TotalTokens:       r.TotalTokens,
		InputTokens:       r.InputTokens,
		OutputTokens:      r.OutputTokens,
		CachedTokens:      r.InputTokenDetails.CachedTokens,
		InputTextTokens:   r.InputTokenDetails.TextTokens,
		InputAudioTokens:  r.InputTokenDetails.AudioTokens,
		CachedTextTokens:  r.InputTokenDetails.CachedTokensDetails.TextTokens,
		CachedAudioTokens: r.InputTokenDetails.CachedTokensDetails.AudioTokens,
		OutputTextTokens:  r.OutputTokenDetails.TextTokens,
		OutputAudioTokens: r.OutputTokenDetails.AudioTokens,
	}
}

// TokenTotals holds per-class token sums over a query window.
type TokenTotals struct {
	InputText   int64
	CachedText  int64
	OutputText  int64
	InputAudio  int64
	CachedAudio int64
	OutputAudio int64
}

// Rates are the configured unit costs: dollars per 1M tokens for the six
// token classes, dollars per generated image.
type Rates struct {
	TextInput   float64
	TextCached  float64
	TextOutput  float64
	AudioInput  float64
	AudioCached float64
	AudioOutput float64
	Image       float64
}

// CostBreakdown decomposes trailing-window spend per token class.
// TotalCost is the sum of the seven cost components; the token sums and
// image count are informational and excluded from the sum.
type CostBreakdown struct {
	TextInputCost   float64     `json:"textInputCost"`
	TextCachedCost  float64     `json:"textCachedCost"`
	TextOutputCost  float64     `json:"textOutputCost"`
	AudioInputCost  float64     `json:"audioInputCost"`
	AudioCachedCost float64     `json:"audioCachedCost"`
	AudioOutputCost float64     `json:"audioOutputCost"`
	ImageCost       float64     `json:"imageCost"`
	ImageCount      int64       `json:"imageCount"`
	Tokens          TokenTotals `json:"tokens"`
	TotalCost       float64     `json:"totalCost"`
}

// TranscriptionStats summarizes transcription volume over a window.
// Word counts come from the stringified details column.
type TranscriptionStats struct {
	Count        int64   `json:"transcriptionCount"`
	TotalWords   int64   `json:"totalWords"`
	AverageWords float64 `json:"avgWordsPerTranscription"`
}

// CostCheckpoint is a sparse historical cost rollup, written at most once
// per 7-day gap per account. Purely informational; enforcement always
// recomputes from raw records.
type CostCheckpoint struct {
	UniqueID  string
	Cost      float64
	CreatedAt time.Time
}
