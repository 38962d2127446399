// Package api exposes the gateway's HTTP surface: login, usage logging,
// upstream session creation, image generation and account management.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/transcribomatic/gateway/pkg/gate"
	"github.com/transcribomatic/gateway/pkg/openai"
)

// Handler serves the gateway API.
type Handler struct {
	config Config
}

// NewHandler creates a handler from the given configuration.
func NewHandler(config Config) (*Handler, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	return &Handler{config: config}, nil
}

// Routes registers all endpoints on a chi router.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/v1/login", h.Login)
	r.Post("/v1/usage", h.LogUsage)
	r.Get("/v1/session", h.CreateSession)
	r.Post("/v1/session", h.CreateSession)
	r.Post("/v1/images", h.GenerateImage)
	r.Get("/v1/account", h.GetAccount)
	r.Put("/v1/account", h.UpdateAccount)
	r.Get("/v1/account/costs", h.AccountCosts)
}

// Login validates a user token, loads the account's feature flags, records
// the login and refreshes the account's cost checkpoint.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body"))
		return
	}
	if req.Token == "" {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("token required"))
		return
	}

	id, err := h.config.Manager.ValidateToken(ctx, req.Token, gate.ScopeUser)
	if err != nil {
		h.writeGateError(w, err)
		return
	}

	user, err := h.config.Manager.GetUser(ctx, id)
	if err != nil {
		h.writeGateError(w, err)
		return
	}

	h.config.Manager.RecordEvent(ctx, id, gate.ActionLogin, "")
	h.config.Manager.UpdateCheckpoint(ctx, id)

	h.writeJSON(w, http.StatusOK, LoginResponse{
		Success: true,
		Config: UserConfig{
			ShowTranscription: user.ShowTranscription,
			ShowParalanguage:  user.ShowParalanguage,
			ShowImage:         user.ShowImage,
		},
	})
}

// LogUsage records a token usage report and, when a word count is present,
// a transcription event. Ledger writes are best-effort; a valid request
// succeeds even if the writes are dropped.
func (h *Handler) LogUsage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req usageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body"))
		return
	}
	if req.Token == "" {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("token required"))
		return
	}
	if req.Usage == nil {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("usage data required"))
		return
	}

	id, err := h.config.Manager.ValidateToken(ctx, req.Token, gate.ScopeUser)
	if err != nil {
		h.writeGateError(w, err)
		return
	}

	h.config.Manager.RecordTokenUsage(ctx, id, req.Usage)
	h.config.Manager.RecordTranscription(ctx, id, req.WordCount)

	h.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// CreateSession creates an ephemeral upstream session. The capability here
// is the signed model name, not a user token: an explicitly requested model
// must carry a valid signature and be on the allow-list. The transcribe
// model gets a transcription session; everything else a realtime session.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	model := h.config.DefaultModel
	signed := r.URL.Query().Get("model")
	if r.Method == http.MethodPost {
		var req sessionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err == nil && req.Model != "" {
			signed = req.Model
		}
	}
	if signed != "" {
		name, err := h.config.Manager.ModelSigner().Verify(signed)
		if err != nil {
			h.writeGateError(w, err)
			return
		}
		model = name
	}

	var (
		session *openai.Session
		err     error
	)
	if model == openai.TranscribeModel {
		session, err = h.config.Upstream.CreateTranscriptionSession(ctx)
	} else {
		session, err = h.config.Upstream.CreateRealtimeSession(ctx, model)
	}
	if err != nil {
		h.writeUpstreamError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, session)
}

// GenerateImage generates one pictogram for an account with image
// generation enabled, returning raw JPEG bytes and recording a picture
// event on success.
func (h *Handler) GenerateImage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req imageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body"))
		return
	}
	if req.Token == "" {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("token required"))
		return
	}
	if req.Description == "" {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("description required"))
		return
	}

	id, err := h.config.Manager.ValidateToken(ctx, req.Token, gate.ScopeUser)
	if err != nil {
		h.writeGateError(w, err)
		return
	}

	user, err := h.config.Manager.GetUser(ctx, id)
	if err != nil {
		h.writeGateError(w, err)
		return
	}
	if !user.ShowImage {
		h.writeError(w, http.StatusForbidden, fmt.Errorf("image generation disabled for this account"))
		return
	}

	img, err := h.config.Upstream.GenerateImage(ctx, req.Description)
	if err != nil {
		h.writeUpstreamError(w, err)
		return
	}

	h.config.Manager.RecordEvent(ctx, id, gate.ActionPicture, req.Description)

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(img)))
	w.Header().Set("Cache-Control", "max-age=3600")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(img)
}

// GetAccount validates a manage token and returns the account, creating it
// with default settings on first access. Provisioning is idempotent: the
// account key is the id embedded in the token.
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := h.config.Manager.ValidateToken(ctx, r.URL.Query().Get("token"), gate.ScopeManage)
	if err != nil {
		h.writeGateError(w, err)
		return
	}

	created := false
	user, err := h.config.Manager.GetUser(ctx, id)
	if errors.Is(err, gate.ErrUserNotFound) {
		// First manage access provisions the account with everything on.
		newUser := &gate.User{
			UniqueID:          id,
			ShowTranscription: true,
			ShowParalanguage:  true,
			ShowImage:         true,
		}
		if err := h.config.Manager.SaveUser(ctx, newUser); err != nil {
			h.writeError(w, http.StatusInternalServerError, fmt.Errorf("failed to create account"))
			return
		}
		user, err = h.config.Manager.GetUser(ctx, id)
		if err != nil {
			h.writeGateError(w, err)
			return
		}
		created = true
		h.config.Manager.RecordEvent(ctx, id, gate.ActionManage, "Account created")
	} else if err != nil {
		h.writeGateError(w, err)
		return
	} else {
		h.config.Manager.RecordEvent(ctx, id, gate.ActionManage, "Account accessed")
	}

	h.writeJSON(w, http.StatusOK, AccountResponse{
		UniqueID: id,
		Config: UserConfig{
			ShowTranscription: user.ShowTranscription,
			ShowParalanguage:  user.ShowParalanguage,
			ShowImage:         user.ShowImage,
		},
		UserToken: h.config.Manager.IssueToken(id, gate.ScopeUser),
		Created:   created,
	})
}

// UpdateAccount saves an account's feature flags under a manage token.
func (h *Handler) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req accountUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body"))
		return
	}

	id, err := h.config.Manager.ValidateToken(ctx, req.Token, gate.ScopeManage)
	if err != nil {
		h.writeGateError(w, err)
		return
	}

	err = h.config.Manager.SaveUser(ctx, &gate.User{
		UniqueID:          id,
		ShowTranscription: req.ShowTranscription,
		ShowParalanguage:  req.ShowParalanguage,
		ShowImage:         req.ShowImage,
	})
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, fmt.Errorf("failed to save configuration"))
		return
	}

	h.config.Manager.RecordEvent(ctx, id, gate.ActionManage, fmt.Sprintf(
		"Config updated: transcription=%s, paralanguage=%s, image=%s",
		onOff(req.ShowTranscription), onOff(req.ShowParalanguage), onOff(req.ShowImage)))

	user, err := h.config.Manager.GetUser(ctx, id)
	if err != nil {
		h.writeGateError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, AccountResponse{
		UniqueID: id,
		Config: UserConfig{
			ShowTranscription: user.ShowTranscription,
			ShowParalanguage:  user.ShowParalanguage,
			ShowImage:         user.ShowImage,
		},
		UserToken: h.config.Manager.IssueToken(id, gate.ScopeUser),
	})
}

// AccountCosts returns the trailing-week cost breakdown and transcription
// stats under a manage token.
func (h *Handler) AccountCosts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := h.config.Manager.ValidateToken(ctx, r.URL.Query().Get("token"), gate.ScopeManage)
	if err != nil {
		h.writeGateError(w, err)
		return
	}

	breakdown, err := h.config.Manager.WeeklyCostBreakdown(ctx, id)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, fmt.Errorf("failed to compute cost breakdown"))
		return
	}
	stats, err := h.config.Manager.WeeklyTranscriptionStats(ctx, id)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, fmt.Errorf("failed to compute transcription stats"))
		return
	}

	h.writeJSON(w, http.StatusOK, CostsResponse{
		Breakdown:     breakdown,
		Transcription: stats,
		WeeklyCap:     h.config.Manager.WeeklyCap(),
	})
}

// writeGateError maps gate errors onto the error taxonomy: opaque 401 for
// bad tokens, 403 with spend and cap for limit rejections, 404 for missing
// accounts, 400 for rejected models.
func (h *Handler) writeGateError(w http.ResponseWriter, err error) {
	var limitErr *gate.LimitExceededError
	switch {
	case errors.As(err, &limitErr):
		h.writeJSON(w, http.StatusForbidden, ErrorResponse{
			Error: limitErr.Error(),
			Spend: limitErr.Spend,
			Cap:   limitErr.Cap,
		})
	case errors.Is(err, gate.ErrInvalidToken):
		h.writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: gate.ErrInvalidToken.Error()})
	case errors.Is(err, gate.ErrUserNotFound):
		h.writeJSON(w, http.StatusNotFound, ErrorResponse{Error: gate.ErrUserNotFound.Error()})
	case errors.Is(err, gate.ErrModelNotAllowed):
		h.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: gate.ErrModelNotAllowed.Error()})
	default:
		h.config.Logger.Error("internal error", gate.Field{Key: "error", Value: err.Error()})
		h.writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
	}
}

// writeUpstreamError surfaces an upstream failure as 502 with the upstream
// status and message. Single attempt; nothing is retried.
func (h *Handler) writeUpstreamError(w http.ResponseWriter, err error) {
	var upErr *openai.UpstreamError
	if errors.As(err, &upErr) {
		h.config.Logger.Error("upstream API error",
			gate.Field{Key: "status", Value: upErr.Status},
			gate.Field{Key: "message", Value: upErr.Message})
		h.writeJSON(w, http.StatusBadGateway, ErrorResponse{Error: upErr.Error()})
		return
	}
	h.config.Logger.Error("upstream call failed", gate.Field{Key: "error", Value: err.Error()})
	h.writeJSON(w, http.StatusBadGateway, ErrorResponse{Error: "upstream service error"})
}

func (h *Handler) writeError(w http.ResponseWriter, code int, err error) {
	h.writeJSON(w, code, ErrorResponse{Error: err.Error()})
}

func (h *Handler) writeJSON(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.config.Logger.Error("failed to encode response", gate.Field{Key: "error", Value: err.Error()})
	}
}

func onOff(b bool) string {
	if b {
		return "enabled"
	}
	return "disabled"
}
