// Package openai is the outbound client for the upstream AI API: realtime
// session creation, transcription session creation and image generation.
// Each call is a single synchronous request; failures are surfaced
// immediately and never retried here.
package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultBaseURL     = "https://api.openai.com"
	defaultHTTPTimeout = 30 * time.Second

	// Session tokens returned by the realtime API expire after 60 seconds.
	SessionTokenTTL = 60

	// TranscribeModel is the model served through transcription sessions
	// rather than plain realtime sessions.
	TranscribeModel = "gpt-4o-transcribe"

	// imagePromptPrefix pins generated images to text-free pictograms.
	imagePromptPrefix = "DO NOT INCLUDE ANY TEXT. Simple black and white PICTOGRAM to convey the message: "
)

// UpstreamError carries the upstream HTTP status and error message for any
// non-200 response. It is one opaque failure; the caller does not retry.
type UpstreamError struct {
	Status  int
	Message string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream API error (HTTP %d): %s", e.Status, e.Message)
}

// Config holds client configuration.
type Config struct {
	// APIKey is the upstream bearer credential (required).
	APIKey string

	// OrgID and ProjectID are optional upstream scoping headers.
	OrgID     string
	ProjectID string

	// BaseURL overrides the upstream base URL, for tests.
	BaseURL string

	// HTTPClient overrides the default client (30s timeout).
	HTTPClient *http.Client
}

// Client talks to the upstream AI API.
type Client struct {
	config     Config
	httpClient *http.Client
	baseURL    string
}

// New creates an upstream client.
func New(config Config) (*Client, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	return &Client{config: config, httpClient: httpClient, baseURL: baseURL}, nil
}

// Session is an ephemeral upstream session credential handed to the client.
type Session struct {
	Token       string `json:"session_token"`
	Type        string `json:"session_type"`
	ExpiresIn   int    `json:"expires_in"`
	GeneratedAt int64  `json:"generated_at"`
}

// sessionResponse is the part of the upstream session body we consume.
type sessionResponse struct {
	ClientSecret struct {
		Value string `json:"value"`
	} `json:"client_secret"`
}

// CreateRealtimeSession creates an ephemeral realtime session for the given
// model and returns its client secret.
func (c *Client) CreateRealtimeSession(ctx context.Context, model string) (*Session, error) {
	payload := map[string]any{
		"model": model,
		"voice": "alloy",
	}

	var resp sessionResponse
	if err := c.post(ctx, "/v1/realtime/sessions", payload, &resp, true); err != nil {
		return nil, err
	}
	if resp.ClientSecret.Value == "" {
		return nil, fmt.Errorf("no client_secret in session response")
	}

	return &Session{
		Token:       resp.ClientSecret.Value,
		Type:        "realtime",
		ExpiresIn:   SessionTokenTTL,
		GeneratedAt: time.Now().Unix(),
	}, nil
}

// CreateTranscriptionSession creates an ephemeral transcription session.
func (c *Client) CreateTranscriptionSession(ctx context.Context) (*Session, error) {
	payload := map[string]any{
		"input_audio_format": "pcm16",
		"input_audio_transcription": map[string]any{
			"model":    TranscribeModel,
			"language": "en",
			"prompt":   "Transcribe speech accurately, including proper punctuation and capitalization.",
		},
		"turn_detection": map[string]any{
			"type":                "server_vad",
			"threshold":           0.6,
			"prefix_padding_ms":   300,
			"silence_duration_ms": 800,
		},
	}

	var resp sessionResponse
	if err := c.post(ctx, "/v1/realtime/transcription_sessions", payload, &resp, true); err != nil {
		return nil, err
	}
	if resp.ClientSecret.Value == "" {
		return nil, fmt.Errorf("no client_secret in transcription session response")
	}

	return &Session{
		Token:       resp.ClientSecret.Value,
		Type:        "transcription",
		ExpiresIn:   SessionTokenTTL,
		GeneratedAt: time.Now().Unix(),
	}, nil
}

// GenerateImage generates one pictogram for the description and returns the
// decoded JPEG bytes.
func (c *Client) GenerateImage(ctx context.Context, description string) ([]byte, error) {
	payload := map[string]any{
		"prompt":             imagePromptPrefix + description,
		"model":              "gpt-image-1",
		"quality":            "low",
		"output_compression": 50,
		"output_format":      "jpeg",
		"n":                  1,
		"size":               "1024x1024",
	}

	var resp struct {
		Data []struct {
			B64JSON string `json:"b64_json"`
		} `json:"data"`
	}
	if err := c.post(ctx, "/v1/images/generations", payload, &resp, false); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return nil, fmt.Errorf("no image data in response")
	}

	img, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image data: %w", err)
	}

	return img, nil
}

func (c *Client) post(ctx context.Context, path string, payload, out any, realtime bool) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	req.Header.Set("Content-Type", "application/json")
	if realtime {
		req.Header.Set("OpenAI-Beta", "realtime=v1")
	}
	if c.config.OrgID != "" {
		req.Header.Set("OpenAI-Organization", c.config.OrgID)
	}
	if c.config.ProjectID != "" {
		req.Header.Set("OpenAI-Project", c.config.ProjectID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("upstream request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read upstream response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return &UpstreamError{Status: resp.StatusCode, Message: upstreamMessage(respBody)}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("invalid JSON in upstream response: %w", err)
	}

	return nil
}

// upstreamMessage extracts the error message from an upstream error body,
// falling back to the raw body.
func upstreamMessage(body []byte) string {
	var parsed struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		return parsed.Error.Message
	}
	if len(body) > 0 {
		return string(body)
	}
	return "unknown API error"
}
