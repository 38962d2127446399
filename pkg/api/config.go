package api

import (
	"context"
	"fmt"

	"github.com/transcribomatic/gateway/pkg/gate"
	"github.com/transcribomatic/gateway/pkg/openai"
)

// Upstream is the outbound AI-service collaborator. *openai.Client satisfies
// it; tests inject a stub.
type Upstream interface {
	CreateRealtimeSession(ctx context.Context, model string) (*openai.Session, error)
	CreateTranscriptionSession(ctx context.Context) (*openai.Session, error)
	GenerateImage(ctx context.Context, description string) ([]byte, error)
}

// Config holds handler configuration.
type Config struct {
	// Manager is the gate manager instance (required).
	Manager *gate.Manager

	// Upstream is the AI-service client (required).
	Upstream Upstream

	// DefaultModel is used when a session request names no model
	// (default: gpt-4o-realtime-preview). The default needs no signature;
	// any explicitly requested model must be signed.
	DefaultModel string

	// Logger is used for structured logging (default: NoopLogger).
	Logger gate.Logger
}

func (c *Config) validate() error {
	if c.Manager == nil {
		return fmt.Errorf("manager is required")
	}
	if c.Upstream == nil {
		return fmt.Errorf("upstream client is required")
	}
	if c.DefaultModel == "" {
		c.DefaultModel = "gpt-4o-realtime-preview"
	}
	if c.Logger == nil {
		c.Logger = &gate.NoopLogger{}
	}
	return nil
}
