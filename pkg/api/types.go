package api

import "github.com/transcribomatic/gateway/pkg/gate"

// UserConfig is the per-account feature flag block returned to clients.
type UserConfig struct {
	ShowTranscription bool `json:"showTranscription"`
	ShowParalanguage  bool `json:"showParalanguage"`
	ShowImage         bool `json:"showImage"`
}

type loginRequest struct {
	Token string `json:"token"`
}

// LoginResponse is returned on successful login.
type LoginResponse struct {
	Success bool       `json:"success"`
	Config  UserConfig `json:"config"`
}

type usageRequest struct {
	Token     string            `json:"token"`
	Usage     *gate.UsageReport `json:"usage"`
	WordCount int64             `json:"wordCount"`
}

type sessionRequest struct {
	Model string `json:"model"`
}

type imageRequest struct {
	Token       string `json:"token"`
	Description string `json:"description"`
}

type accountUpdateRequest struct {
	Token             string `json:"token"`
	ShowTranscription bool   `json:"showTranscription"`
	ShowParalanguage  bool   `json:"showParalanguage"`
	ShowImage         bool   `json:"showImage"`
}

// AccountResponse is returned from the management endpoints. UserToken is
// the derived session token shared with the account holder.
type AccountResponse struct {
	UniqueID  string     `json:"uniqueId"`
	Config    UserConfig `json:"config"`
	UserToken string     `json:"userToken"`
	Created   bool       `json:"created,omitempty"`
}

// CostsResponse is the management view of trailing-week spend.
type CostsResponse struct {
	Breakdown     *gate.CostBreakdown     `json:"breakdown"`
	Transcription gate.TranscriptionStats `json:"transcription"`
	WeeklyCap     float64                 `json:"weeklyCap"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error string `json:"error"`

	// Spend and Cap are set only for limit-exceeded rejections.
	Spend float64 `json:"spend,omitempty"`
	Cap   float64 `json:"cap,omitempty"`
}
