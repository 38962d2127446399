package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transcribomatic/gateway/pkg/api"
	"github.com/transcribomatic/gateway/pkg/gate"
	"github.com/transcribomatic/gateway/pkg/openai"
	"github.com/transcribomatic/gateway/storage/memory"
)

// stubUpstream records calls and returns canned responses.
type stubUpstream struct {
	realtimeModel     string
	transcriptionHits int
	imagePrompt       string
	err               error
}

func (s *stubUpstream) CreateRealtimeSession(ctx context.Context, model string) (*openai.Session, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.realtimeModel = model
	return &openai.Session{Token: "ek_test", Type: "realtime", ExpiresIn: 60}, nil
}

func (s *stubUpstream) CreateTranscriptionSession(ctx context.Context) (*openai.Session, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.transcriptionHits++
	return &openai.Session{Token: "ek_test", Type: "transcription", ExpiresIn: 60}, nil
}

func (s *stubUpstream) GenerateImage(ctx context.Context, description string) ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.imagePrompt = description
	return []byte("jpeg-bytes"), nil
}

type fixture struct {
	server   *httptest.Server
	manager  *gate.Manager
	store    *memory.Store
	upstream *stubUpstream
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := memory.New()
	manager, err := gate.NewManager(store, gate.Config{
		Secret: "test-secret",
		Rates: gate.Rates{
			TextInput:   5.00,
			TextCached:  2.50,
			TextOutput:  20.00,
			AudioInput:  40.00,
			AudioCached: 2.50,
			AudioOutput: 80.00,
			Image:       0.011,
		},
		WeeklyCap: 2.00,
	})
	require.NoError(t, err)

	upstream := &stubUpstream{}
	handler, err := api.NewHandler(api.Config{
		Manager:  manager,
		Upstream: upstream,
	})
	require.NoError(t, err)

	r := chi.NewRouter()
	handler.Routes(r)
	server := httptest.NewServer(r)
	t.Cleanup(server.Close)

	return &fixture{server: server, manager: manager, store: store, upstream: upstream}
}

// newAccount provisions an enabled account and returns its user token.
func (f *fixture) newAccount(t *testing.T, id string) string {
	t.Helper()
	err := f.manager.SaveUser(context.Background(), &gate.User{
		UniqueID:          id,
		ShowTranscription: true,
		ShowParalanguage:  true,
		ShowImage:         true,
	})
	require.NoError(t, err)
	return f.manager.IssueToken(id, gate.ScopeUser)
}

func (f *fixture) postJSON(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(f.server.URL+path, "application/json", strings.NewReader(string(data)))
	require.NoError(t, err)
	return resp
}

func (f *fixture) putJSON(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPut, f.server.URL+path, strings.NewReader(string(data)))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestLogin_Success(t *testing.T) {
	f := newFixture(t)
	token := f.newAccount(t, "user1")

	resp := f.postJSON(t, "/v1/login", map[string]string{"token": token})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[api.LoginResponse](t, resp)
	assert.True(t, body.Success)
	assert.True(t, body.Config.ShowTranscription)
	assert.True(t, body.Config.ShowImage)

	events := f.store.Events("user1")
	require.Len(t, events, 1)
	assert.Equal(t, gate.ActionLogin, events[0].Action)
}

func TestLogin_InvalidToken(t *testing.T) {
	f := newFixture(t)

	resp := f.postJSON(t, "/v1/login", map[string]string{"token": "user1:deadbeef"})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	body := decode[api.ErrorResponse](t, resp)
	assert.NotEmpty(t, body.Error)
	// The rejection stays opaque: no spend details for a bad signature.
	assert.Zero(t, body.Spend)
}

func TestLogin_MissingToken(t *testing.T) {
	f := newFixture(t)

	resp := f.postJSON(t, "/v1/login", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestLogin_UnknownAccount(t *testing.T) {
	f := newFixture(t)

	// Valid signature over an id that was never provisioned.
	token := f.manager.IssueToken("ghost", gate.ScopeUser)
	resp := f.postJSON(t, "/v1/login", map[string]string{"token": token})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestLogin_LimitExceeded(t *testing.T) {
	f := newFixture(t)
	token := f.newAccount(t, "user1")

	report := &gate.UsageReport{}
	report.InputTokenDetails.TextTokens = 1_000_000
	f.manager.RecordTokenUsage(context.Background(), "user1", report)

	resp := f.postJSON(t, "/v1/login", map[string]string{"token": token})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	body := decode[api.ErrorResponse](t, resp)
	assert.InDelta(t, 5.00, body.Spend, 1e-9)
	assert.InDelta(t, 2.00, body.Cap, 1e-9)
}

func TestLogUsage(t *testing.T) {
	f := newFixture(t)
	token := f.newAccount(t, "user1")

	usage := map[string]any{
		"total_tokens": 150,
		"input_token_details": map[string]any{
			"text_tokens": 100,
		},
		"output_token_details": map[string]any{
			"audio_tokens": 50,
		},
	}
	resp := f.postJSON(t, "/v1/usage", map[string]any{
		"token":     token,
		"usage":     usage,
		"wordCount": 42,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	stats, err := f.manager.WeeklyTranscriptionStats(context.Background(), "user1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Count)
	assert.Equal(t, int64(42), stats.TotalWords)

	b, err := f.manager.WeeklyCostBreakdown(context.Background(), "user1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), b.Tokens.InputText)
	assert.Equal(t, int64(50), b.Tokens.OutputAudio)
}

func TestLogUsage_MissingUsage(t *testing.T) {
	f := newFixture(t)
	token := f.newAccount(t, "user1")

	resp := f.postJSON(t, "/v1/usage", map[string]any{"token": token})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestCreateSession_DefaultModel(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.server.URL + "/v1/session")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	session := decode[openai.Session](t, resp)
	assert.Equal(t, "ek_test", session.Token)
	assert.Equal(t, "realtime", session.Type)
	assert.Equal(t, "gpt-4o-realtime-preview", f.upstream.realtimeModel)
}

func TestCreateSession_SignedModel(t *testing.T) {
	f := newFixture(t)

	signed, err := f.manager.ModelSigner().Sign("gpt-4o-mini-realtime-preview")
	require.NoError(t, err)

	resp, err := http.Get(f.server.URL + "/v1/session?model=" + url.QueryEscape(signed))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	assert.Equal(t, "gpt-4o-mini-realtime-preview", f.upstream.realtimeModel)
}

func TestCreateSession_TranscribeModel(t *testing.T) {
	f := newFixture(t)

	signed, err := f.manager.ModelSigner().Sign(openai.TranscribeModel)
	require.NoError(t, err)

	resp := f.postJSON(t, "/v1/session", map[string]string{"model": signed})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	session := decode[openai.Session](t, resp)
	assert.Equal(t, "transcription", session.Type)
	assert.Equal(t, 1, f.upstream.transcriptionHits)
}

func TestCreateSession_UnsignedModelRejected(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.server.URL + "/v1/session?model=gpt-4o-realtime-preview")
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
	assert.Empty(t, f.upstream.realtimeModel)
}

func TestCreateSession_UpstreamFailure(t *testing.T) {
	f := newFixture(t)
	f.upstream.err = &openai.UpstreamError{Status: 500, Message: "server exploded"}

	resp, err := http.Get(f.server.URL + "/v1/session")
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	resp.Body.Close()
}

func TestGenerateImage(t *testing.T) {
	f := newFixture(t)
	token := f.newAccount(t, "user1")

	resp := f.postJSON(t, "/v1/images", map[string]string{
		"token":       token,
		"description": "a red bicycle",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	defer resp.Body.Close()

	assert.Equal(t, "image/jpeg", resp.Header.Get("Content-Type"))
	assert.Equal(t, "max-age=3600", resp.Header.Get("Cache-Control"))
	assert.Equal(t, "a red bicycle", f.upstream.imagePrompt)

	events := f.store.Events("user1")
	require.Len(t, events, 1)
	assert.Equal(t, gate.ActionPicture, events[0].Action)
	assert.Equal(t, "a red bicycle", events[0].Details)
}

func TestGenerateImage_FeatureDisabled(t *testing.T) {
	f := newFixture(t)
	err := f.manager.SaveUser(context.Background(), &gate.User{
		UniqueID:  "user1",
		ShowImage: false,
	})
	require.NoError(t, err)
	token := f.manager.IssueToken("user1", gate.ScopeUser)

	resp := f.postJSON(t, "/v1/images", map[string]string{
		"token":       token,
		"description": "a red bicycle",
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	// No upstream call and no picture event for a disabled feature.
	assert.Empty(t, f.upstream.imagePrompt)
	assert.Empty(t, f.store.Events("user1"))
}

func TestGetAccount_CreatesOnFirstAccess(t *testing.T) {
	f := newFixture(t)
	manageToken := f.manager.IssueToken("newacct", gate.ScopeManage)

	resp, err := http.Get(f.server.URL + "/v1/account?token=" + url.QueryEscape(manageToken))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[api.AccountResponse](t, resp)
	assert.Equal(t, "newacct", body.UniqueID)
	assert.True(t, body.Created)
	assert.True(t, body.Config.ShowTranscription)
	assert.True(t, body.Config.ShowParalanguage)
	assert.True(t, body.Config.ShowImage)

	// The returned user token must work for login.
	loginResp := f.postJSON(t, "/v1/login", map[string]string{"token": body.UserToken})
	assert.Equal(t, http.StatusOK, loginResp.StatusCode)
	loginResp.Body.Close()

	// Second access finds the existing account.
	resp, err = http.Get(f.server.URL + "/v1/account?token=" + url.QueryEscape(manageToken))
	require.NoError(t, err)
	body = decode[api.AccountResponse](t, resp)
	assert.False(t, body.Created)
}

func TestGetAccount_UserTokenRejected(t *testing.T) {
	f := newFixture(t)
	userToken := f.newAccount(t, "user1")

	resp, err := http.Get(f.server.URL + "/v1/account?token=" + url.QueryEscape(userToken))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestUpdateAccount(t *testing.T) {
	f := newFixture(t)
	f.newAccount(t, "user1")
	manageToken := f.manager.IssueToken("user1", gate.ScopeManage)

	resp := f.putJSON(t, "/v1/account", map[string]any{
		"token":             manageToken,
		"showTranscription": true,
		"showParalanguage":  false,
		"showImage":         false,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[api.AccountResponse](t, resp)
	assert.True(t, body.Config.ShowTranscription)
	assert.False(t, body.Config.ShowParalanguage)
	assert.False(t, body.Config.ShowImage)

	user, err := f.manager.GetUser(context.Background(), "user1")
	require.NoError(t, err)
	assert.False(t, user.ShowImage)
}

func TestAccountCosts(t *testing.T) {
	f := newFixture(t)
	f.newAccount(t, "user1")
	manageToken := f.manager.IssueToken("user1", gate.ScopeManage)

	report := &gate.UsageReport{}
	report.InputTokenDetails.TextTokens = 100_000
	f.manager.RecordTokenUsage(context.Background(), "user1", report)
	f.manager.RecordEvent(context.Background(), "user1", gate.ActionPicture, "a cat")
	f.manager.RecordTranscription(context.Background(), "user1", 250)

	resp, err := http.Get(f.server.URL + "/v1/account/costs?token=" + url.QueryEscape(manageToken))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[api.CostsResponse](t, resp)
	require.NotNil(t, body.Breakdown)
	assert.InDelta(t, 0.50, body.Breakdown.TextInputCost, 1e-9)
	assert.InDelta(t, 0.011, body.Breakdown.ImageCost, 1e-9)
	assert.InDelta(t, 0.511, body.Breakdown.TotalCost, 1e-9)
	assert.Equal(t, int64(1), body.Transcription.Count)
	assert.Equal(t, int64(250), body.Transcription.TotalWords)
	assert.InDelta(t, 2.00, body.WeeklyCap, 1e-9)
}

// Sanity check over the handler's config validation.
func TestNewHandler_Validation(t *testing.T) {
	store := memory.New()
	manager, err := gate.NewManager(store, gate.Config{Secret: "s"})
	require.NoError(t, err)

	_, err = api.NewHandler(api.Config{Upstream: &stubUpstream{}})
	assert.Error(t, err)

	_, err = api.NewHandler(api.Config{Manager: manager})
	assert.Error(t, err)

	_, err = api.NewHandler(api.Config{Manager: manager, Upstream: &stubUpstream{}})
	assert.NoError(t, err)
}
