package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michaelbrown/smartdj/internal/auth"
	"github.com/michaelbrown/smartdj/internal/config"
	"github.com/michaelbrown/smartdj/internal/dj"
	"github.com/michaelbrown/smartdj/internal/llm"
	"github.com/michaelbrown/smartdj/internal/server"
	"github.com/michaelbrown/smartdj/internal/session"
	"github.com/michaelbrown/smartdj/internal/spotify"
	"github.com/michaelbrown/smartdj/internal/storage/sqlite"
)

const testSecret = "test-secret-with-enough-bytes"

// fakeGateway records every call and fails the ops named in failOn.
type fakeGateway struct {
	mu        sync.Mutex
	calls     []string
	tokens    []string
	volume    int
	failOn    map[string]error
	libReads  int
	playState *spotify.PlaybackState
	// emptyLibrary makes every library read come back empty, as after an upstream failure.
	emptyLibrary bool
}

func (g *fakeGateway) record(op, token string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, op)
	g.tokens = append(g.tokens, token)
	return g.failOn[op]
}

func (g *fakeGateway) Calls() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.calls...)
}

func (g *fakeGateway) LastToken() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.tokens) == 0 {
		return ""
	}
	return g.tokens[len(g.tokens)-1]
}

func (g *fakeGateway) PlayTrack(_ context.Context, token, _, _ string) error {
	return g.record("play_track", token)
}
func (g *fakeGateway) PlayPlaylist(_ context.Context, token, _, _ string) error {
	return g.record("play_playlist", token)
}
func (g *fakeGateway) Resume(_ context.Context, token, _ string) error {
	return g.record("resume", token)
}
func (g *fakeGateway) Pause(_ context.Context, token, _ string) error {
	return g.record("pause", token)
}
func (g *fakeGateway) SkipNext(_ context.Context, token, _ string) error {
	return g.record("next", token)
}
func (g *fakeGateway) SkipPrevious(_ context.Context, token, _ string) error {
	return g.record("previous", token)
}
func (g *fakeGateway) SetVolume(_ context.Context, token string, percent int, _ string) error {
	g.mu.Lock()
	g.volume = percent
	g.mu.Unlock()
	return g.record("volume", token)
}
func (g *fakeGateway) SetShuffle(_ context.Context, token string, _ bool, _ string) error {
	return g.record("shuffle", token)
}
func (g *fakeGateway) SetRepeat(_ context.Context, token string, _ spotify.RepeatMode, _ string) error {
	return g.record("repeat", token)
}
func (g *fakeGateway) Enqueue(_ context.Context, token, _, _ string) error {
	return g.record("enqueue", token)
}
func (g *fakeGateway) Search(_ context.Context, token, query string, _ []spotify.MediaType, _ int) spotify.SearchResults {
	_ = g.record("search", token)
	return spotify.SearchResults{Tracks: []spotify.Track{{ID: "t1", Name: query}}}
}
func (g *fakeGateway) Recommendations(_ context.Context, token string, _ spotify.Seeds, _ spotify.TargetFeatures, _ int) []spotify.Track {
	_ = g.record("recommendations", token)
	return []spotify.Track{{ID: "r1"}}
}
func (g *fakeGateway) CreatePlaylist(_ context.Context, token, ownerID, name, _ string, _ bool) (*spotify.Playlist, error) {
	if err := g.record("create_playlist", token); err != nil {
		return nil, err
	}
	return &spotify.Playlist{ID: "pl1", Name: name, Owner: spotify.Owner{ID: ownerID}}, nil
}
func (g *fakeGateway) AddTracksToPlaylist(_ context.Context, token, _ string, _ []string) error {
	return g.record("add_tracks", token)
}
func (g *fakeGateway) PlaybackState(_ context.Context, token string) (*spotify.PlaybackState, error) {
	if err := g.record("playback_state", token); err != nil {
		return nil, err
	}
	return g.playState, nil
}
func (g *fakeGateway) Seek(_ context.Context, token string, _ int, _ string) error {
	return g.record("seek", token)
}
func (g *fakeGateway) Queue(_ context.Context, token string) spotify.Queue {
	_ = g.record("queue", token)
	return spotify.Queue{Queue: []spotify.Track{}}
}
func (g *fakeGateway) Devices(_ context.Context, token string) []spotify.Device {
	_ = g.record("devices", token)
	return []spotify.Device{{ID: "d1", Name: "Laptop", IsActive: true}}
}
func (g *fakeGateway) TransferPlayback(_ context.Context, token, _ string) error {
	return g.record("transfer", token)
}
func (g *fakeGateway) UserPlaylists(_ context.Context, _ string, _ int) []spotify.Playlist {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.libReads++
	if g.emptyLibrary {
		return []spotify.Playlist{}
	}
	return []spotify.Playlist{{ID: "p1", Name: "Focus"}}
}
func (g *fakeGateway) TopTracks(_ context.Context, _ string, _ int, _ string) []spotify.Track {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.emptyLibrary {
		return []spotify.Track{}
	}
	return []spotify.Track{{ID: "top1", Name: "Favourite"}}
}
func (g *fakeGateway) RecentlyPlayed(_ context.Context, _ string, _ int) []spotify.PlayHistory {
	return []spotify.PlayHistory{}
}

type fakeAuthorizer struct {
	mu        sync.Mutex
	refreshes int
	rotate    bool
	failCode  bool
	// during runs inside Refresh, between the session read and its update.
	during func()
}

func (a *fakeAuthorizer) BeginAuthorization(state string, _ ...string) string {
	return "https://accounts.example.test/authorize?state=" + state
}

func (a *fakeAuthorizer) CompleteAuthorization(_ context.Context, code string) (*spotify.Grant, error) {
	if code != "good-code" {
		return nil, errors.New("bad code")
	}
	return &spotify.Grant{
		AccessToken:  "fresh-access",
		RefreshToken: "fresh-refresh",
		ExpiresAt:    time.Now().Add(time.Hour),
		Profile:      spotify.UserProfile{ID: "u-new", DisplayName: "New User"},
	}, nil
}

func (a *fakeAuthorizer) Refresh(_ context.Context, refreshToken string) (*spotify.Grant, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.refreshes++
	if a.during != nil {
		a.during()
	}
	g := &spotify.Grant{AccessToken: "refreshed-access", RefreshToken: refreshToken, ExpiresAt: time.Now().Add(time.Hour)}
	if a.rotate {
		g.RefreshToken = "rotated-refresh"
	}
	return g, nil
}

type scriptedLLM struct {
	resp *llm.Response
}

func (m *scriptedLLM) ChatCompletion(context.Context, []llm.Message, []llm.ToolDef) (*llm.Response, error) {
	if m.resp == nil {
		return nil, errors.New("model down")
	}
	return m.resp, nil
}

type harness struct {
	srv      *server.Server
	gw       *fakeGateway
	auth     *fakeAuthorizer
	sessions *session.MemoryStore
	history  *sqlite.SQLiteStore
	model    *scriptedLLM
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Port:        5000,
			FrontendURL: "http://frontend.test",
			CORSOrigins: []string{"http://frontend.test"},
		},
		Auth: config.AuthConfig{
			JWTSecret:     testSecret,
			JWTTTL:        time.Hour,
			RefreshWindow: 5 * time.Minute,
		},
		DJ: config.DJConfig{ContextCacheSize: 16, ContextCacheTTL: time.Minute},
	}
}

func newHarness(t *testing.T, mutate ...func(*config.Config)) *harness {
	t.Helper()

	cfg := testConfig()
	for _, m := range mutate {
		m(cfg)
	}

	history, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { history.Close() })

	h := &harness{
		gw:       &fakeGateway{failOn: map[string]error{}},
		auth:     &fakeAuthorizer{},
		sessions: session.NewMemoryStore(),
		history:  history,
		model:    &scriptedLLM{},
	}
	reg := prometheus.NewRegistry()
	engine := dj.New(h.model, h.gw, dj.WithMetrics(dj.MustNewMetrics(reg)))

	h.srv = server.New(cfg, server.Deps{
		Sessions: h.sessions,
		Gateway:  h.gw,
		Auth:     h.auth,
		Engine:   engine,
		History:  history,
		Gatherer: reg,
	})
	t.Cleanup(func() { _ = h.srv.Shutdown(context.Background()) })
	return h
}

func (h *harness) login(t *testing.T, userID string, expiresIn time.Duration) string {
	t.Helper()
	require.NoError(t, h.sessions.Put(context.Background(), session.Session{
		UserID:       userID,
		AccessToken:  "access-" + userID,
		RefreshToken: "refresh-" + userID,
		ExpiresAt:    time.Now().Add(expiresIn),
		Profile:      spotify.UserProfile{ID: userID, DisplayName: "Tester"},
	}))
	return h.token(t, userID)
}

func (h *harness) token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := auth.IssueToken(testSecret, auth.Identity{UserID: userID}, time.Hour)
	require.NoError(t, err)
	return tok
}

type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (h *harness) do(t *testing.T, method, path, token string, body any) (int, apiResponse) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rec, req)

	var resp apiResponse
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec.Code, resp
}

func TestHealth(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	code, resp := h.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, resp.Success)
	assert.Contains(t, string(resp.Data), `"status":"ok"`)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.model.resp = &llm.Response{Message: llm.Message{Content: "hello"}}
	tok := h.login(t, "u1", time.Hour)

	code, _ := h.do(t, http.MethodPost, "/api/ai/chat", tok, map[string]string{"message": "hi"})
	require.Equal(t, http.StatusOK, code)

	rec := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "smartdj_engine_turns_total")
}

func TestAuthRequired(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	code, resp := h.do(t, http.MethodPut, "/api/spotify/pause", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "UNAUTHORIZED", resp.Error.Code)

	code, resp = h.do(t, http.MethodPut, "/api/spotify/pause", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "UNAUTHORIZED", resp.Error.Code)
}

func TestMissingSessionRequiresReauth(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	code, resp := h.do(t, http.MethodPut, "/api/spotify/pause", h.token(t, "ghost"), nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "REAUTH_REQUIRED", resp.Error.Code)
	assert.Equal(t, "Please re-authenticate", resp.Error.Message)
	assert.Empty(t, h.gw.Calls())
}

func TestExpiredSessionRequiresReauth(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	tok := h.login(t, "u1", -time.Second)

	code, resp := h.do(t, http.MethodGet, "/api/auth/me", tok, nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "REAUTH_REQUIRED", resp.Error.Code)
}

func TestMeHidesTokens(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	tok := h.login(t, "u1", time.Hour)

	code, resp := h.do(t, http.MethodGet, "/api/auth/me", tok, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(resp.Data), `"user_id":"u1"`)
	assert.Contains(t, string(resp.Data), `"has_refresh_token":true`)
	assert.NotContains(t, string(resp.Data), "access-u1")
	assert.NotContains(t, string(resp.Data), "refresh-u1")
}

func TestPlaybackCommands(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		method  string
		path    string
		body    any
		wantOp  string
		wantMsg string
	}{
		{"pause", http.MethodPut, "/api/spotify/pause", nil, "pause", "Playback paused"},
		{"resume", http.MethodPut, "/api/spotify/play", nil, "resume", "Playback started"},
		{"play track", http.MethodPut, "/api/spotify/play", map[string]string{"track_id": "abc"}, "play_track", "Playback started"},
		{"play playlist", http.MethodPut, "/api/spotify/play", map[string]string{"playlist_id": "xyz"}, "play_playlist", "Playback started"},
		{"next", http.MethodPost, "/api/spotify/next", nil, "next", "Skipped to next track"},
		{"previous", http.MethodPost, "/api/spotify/previous", nil, "previous", "Skipped to previous track"},
		{"shuffle", http.MethodPut, "/api/spotify/shuffle", map[string]bool{"state": true}, "shuffle", "Shuffle enabled"},
		{"repeat", http.MethodPut, "/api/spotify/repeat", map[string]string{"state": "context"}, "repeat", "Repeat set to context"},
		{"seek", http.MethodPut, "/api/spotify/seek", map[string]int{"position_ms": 30000}, "seek", "Seeked"},
		{"transfer", http.MethodPut, "/api/spotify/transfer", map[string]string{"device_id": "d1"}, "transfer", "Playback transferred"},
		{"enqueue", http.MethodPost, "/api/spotify/queue", map[string]any{"track_ids": []string{"a", "b"}}, "enqueue", "Added 2 track(s) to queue"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)
			tok := h.login(t, "u1", time.Hour)

			code, resp := h.do(t, tt.method, tt.path, tok, tt.body)
			require.Equal(t, http.StatusOK, code, string(resp.Data))
			assert.Contains(t, string(resp.Data), tt.wantMsg)
			assert.Contains(t, h.gw.Calls(), tt.wantOp)
			assert.Equal(t, "access-u1", h.gw.LastToken())
		})
	}
}

func TestPlaybackValidation(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	tok := h.login(t, "u1", time.Hour)

	for _, tc := range []struct {
		method, path string
		body         any
	}{
		{http.MethodPut, "/api/spotify/volume", map[string]any{}},
		{http.MethodPut, "/api/spotify/shuffle", map[string]any{}},
		{http.MethodPut, "/api/spotify/repeat", map[string]string{"state": "forever"}},
		{http.MethodPut, "/api/spotify/seek", map[string]int{"position_ms": -1}},
		{http.MethodPut, "/api/spotify/transfer", map[string]any{}},
		{http.MethodPost, "/api/spotify/queue", map[string]any{}},
		{http.MethodGet, "/api/spotify/search", nil},
		{http.MethodGet, "/api/spotify/search?q=x&type=podcast", nil},
		{http.MethodPost, "/api/spotify/playlists", map[string]string{"name": " "}},
	} {
		code, resp := h.do(t, tc.method, tc.path, tok, tc.body)
		assert.Equal(t, http.StatusBadRequest, code, tc.path)
		if assert.NotNil(t, resp.Error, tc.path) {
			assert.Equal(t, "BAD_REQUEST", resp.Error.Code)
		}
	}
	assert.Empty(t, h.gw.Calls())
}

func TestVolumeIsClamped(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	tok := h.login(t, "u1", time.Hour)

	code, resp := h.do(t, http.MethodPut, "/api/spotify/volume", tok, map[string]int{"volume": 150})
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(resp.Data), "Volume set to 100%")
	assert.Equal(t, 100, h.gw.volume)

	code, _ = h.do(t, http.MethodPut, "/api/spotify/volume", tok, map[string]int{"volume": -20})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 0, h.gw.volume)
}

func TestUpstreamErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		wantCode int
		wantErr  string
		wantMsg  string
	}{
		{
			name:     "rejected",
			err:      &spotify.UpstreamError{Op: "pause", StatusCode: http.StatusForbidden, Message: "Premium required"},
			wantCode: http.StatusBadGateway,
			wantErr:  "UPSTREAM_ERROR",
			wantMsg:  "Spotify rejected the pause request",
		},
		{
			name:     "no device",
			err:      &spotify.UpstreamError{Op: "pause", StatusCode: http.StatusNotFound, Reason: "NO_ACTIVE_DEVICE"},
			wantCode: http.StatusBadGateway,
			wantErr:  "UPSTREAM_ERROR",
			wantMsg:  "No active Spotify device found",
		},
		{
			name:     "timeout",
			err:      &spotify.UpstreamError{Op: "pause", Err: context.DeadlineExceeded},
			wantCode: http.StatusBadGateway,
			wantErr:  "UPSTREAM_ERROR",
			wantMsg:  "Spotify did not respond in time",
		},
		{
			name:     "token revoked",
			err:      &spotify.UpstreamError{Op: "pause", StatusCode: http.StatusUnauthorized},
			wantCode: http.StatusUnauthorized,
			wantErr:  "REAUTH_REQUIRED",
			wantMsg:  "Please re-authenticate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)
			h.gw.failOn["pause"] = tt.err
			tok := h.login(t, "u1", time.Hour)

			code, resp := h.do(t, http.MethodPut, "/api/spotify/pause", tok, nil)
			assert.Equal(t, tt.wantCode, code)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.wantErr, resp.Error.Code)
			assert.Equal(t, tt.wantMsg, resp.Error.Message)
		})
	}
}

func TestPlaybackStateIdle(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	tok := h.login(t, "u1", time.Hour)

	code, resp := h.do(t, http.MethodGet, "/api/spotify/playback", tok, nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"playback":null}`, string(resp.Data))
}

func TestReadEndpoints(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	tok := h.login(t, "u1", time.Hour)

	code, resp := h.do(t, http.MethodGet, "/api/spotify/search?q=jazz&type=track&limit=5", tok, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(resp.Data), `"name":"jazz"`)

	code, resp = h.do(t, http.MethodGet, "/api/spotify/devices", tok, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(resp.Data), `"Laptop"`)

	code, _ = h.do(t, http.MethodGet, "/api/spotify/queue", tok, nil)
	require.Equal(t, http.StatusOK, code)

	code, resp = h.do(t, http.MethodGet, "/api/spotify/recommendations", tok, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(resp.Data), `"r1"`)
}

func TestCreatePlaylist(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	tok := h.login(t, "u1", time.Hour)

	code, resp := h.do(t, http.MethodPost, "/api/spotify/playlists", tok,
		map[string]any{"name": "Road Trip", "track_ids": []string{"a", "b"}})
	require.Equal(t, http.StatusCreated, code)
	assert.Contains(t, string(resp.Data), `"Road Trip"`)
	assert.Equal(t, []string{"create_playlist", "add_tracks"}, h.gw.Calls())
}

func TestTokenRefreshInsideWindow(t *testing.T) {
	t.Parallel()

	t.Run("same refresh token", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		tok := h.login(t, "u1", 2*time.Minute)

		code, _ := h.do(t, http.MethodPut, "/api/spotify/pause", tok, nil)
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, 1, h.auth.refreshes)
		assert.Equal(t, "refreshed-access", h.gw.LastToken())

		sess, err := h.sessions.Get(context.Background(), "u1")
		require.NoError(t, err)
		assert.Equal(t, "refreshed-access", sess.AccessToken)
		assert.Equal(t, "refresh-u1", sess.RefreshToken)
	})

	t.Run("rotated refresh token", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		h.auth.rotate = true
		tok := h.login(t, "u1", 2*time.Minute)

		code, _ := h.do(t, http.MethodPut, "/api/spotify/pause", tok, nil)
		require.Equal(t, http.StatusOK, code)

		sess, err := h.sessions.Get(context.Background(), "u1")
		require.NoError(t, err)
		assert.Equal(t, "refreshed-access", sess.AccessToken)
		assert.Equal(t, "rotated-refresh", sess.RefreshToken)
	})

	for _, rotate := range []bool{false, true} {
		t.Run(fmt.Sprintf("logout during refresh rotate=%v", rotate), func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)
			h.auth.rotate = rotate
			h.auth.during = func() { _ = h.sessions.Delete(context.Background(), "u1") }
			tok := h.login(t, "u1", 2*time.Minute)

			code, resp := h.do(t, http.MethodPut, "/api/spotify/pause", tok, nil)
			assert.Equal(t, http.StatusUnauthorized, code)
			assert.Equal(t, "REAUTH_REQUIRED", resp.Error.Code)
			assert.Empty(t, h.gw.Calls())

			_, err := h.sessions.Get(context.Background(), "u1")
			assert.ErrorIs(t, err, session.ErrAbsent, "logged-out session must stay deleted")
		})
	}

	t.Run("outside window", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		tok := h.login(t, "u1", time.Hour)

		code, _ := h.do(t, http.MethodPut, "/api/spotify/pause", tok, nil)
		require.Equal(t, http.StatusOK, code)
		assert.Zero(t, h.auth.refreshes)
		assert.Equal(t, "access-u1", h.gw.LastToken())
	})
}

func TestLoginFlow(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	rec := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/auth/spotify", nil))
	require.Equal(t, http.StatusFound, rec.Code)

	var state *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == "spotify_auth_state" {
			state = c
		}
	}
	require.NotNil(t, state)
	assert.Contains(t, rec.Header().Get("Location"), "state="+state.Value)

	t.Run("state mismatch", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/auth/callback?code=good-code&state=other", nil)
		req.AddCookie(state)
		rec := httptest.NewRecorder()
		h.srv.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("bad code", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/auth/callback?code=nope&state="+state.Value, nil)
		req.AddCookie(state)
		rec := httptest.NewRecorder()
		h.srv.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusFound, rec.Code)
		assert.Equal(t, "http://frontend.test/login?error=authorization_failed", rec.Header().Get("Location"))
	})

	t.Run("success", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/auth/callback?code=good-code&state="+state.Value, nil)
		req.AddCookie(state)
		rec := httptest.NewRecorder()
		h.srv.Handler().ServeHTTP(rec, req)
		require.Equal(t, http.StatusFound, rec.Code)
		assert.Equal(t, "http://frontend.test/dashboard", rec.Header().Get("Location"))

		var jwtCookie *http.Cookie
		for _, c := range rec.Result().Cookies() {
			if c.Name == "authToken" {
				jwtCookie = c
			}
		}
		require.NotNil(t, jwtCookie)
		assert.True(t, jwtCookie.HttpOnly)

		claims, err := auth.ValidateToken(testSecret, jwtCookie.Value)
		require.NoError(t, err)
		assert.Equal(t, "u-new", claims.UserID)

		sess, err := h.sessions.Get(context.Background(), "u-new")
		require.NoError(t, err)
		assert.Equal(t, "fresh-access", sess.AccessToken)

		// The cookie alone authenticates API calls.
		me := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
		me.AddCookie(jwtCookie)
		meRec := httptest.NewRecorder()
		h.srv.Handler().ServeHTTP(meRec, me)
		assert.Equal(t, http.StatusOK, meRec.Code)
	})
}

func TestLogout(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	tok := h.login(t, "u1", time.Hour)

	code, _ := h.do(t, http.MethodPost, "/api/auth/logout", tok, nil)
	require.Equal(t, http.StatusOK, code)

	_, err := h.sessions.Get(context.Background(), "u1")
	assert.ErrorIs(t, err, session.ErrAbsent)

	code, resp := h.do(t, http.MethodGet, "/api/auth/me", tok, nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "REAUTH_REQUIRED", resp.Error.Code)
}

func TestActiveSessions(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(c *config.Config) { c.Auth.AdminUsers = []string{"ops"} })
	admin := h.login(t, "ops", time.Hour)
	user := h.login(t, "u1", time.Hour)
	require.NoError(t, h.sessions.Put(context.Background(), session.Session{
		UserID:       "u2",
		AccessToken:  "access-u2",
		RefreshToken: "refresh-u2",
		ExpiresAt:    time.Now().Add(time.Hour),
		Profile:      spotify.UserProfile{ID: "u2", DisplayName: "Two", Email: "two@example.test", Country: "SE"},
	}))
	h.login(t, "gone", -time.Minute)

	t.Run("non-admin is forbidden", func(t *testing.T) {
		code, resp := h.do(t, http.MethodGet, "/api/admin/sessions", user, nil)
		assert.Equal(t, http.StatusForbidden, code)
		require.NotNil(t, resp.Error)
		assert.Equal(t, "FORBIDDEN", resp.Error.Code)
		assert.NotContains(t, string(resp.Data), "u2")
	})

	t.Run("admin sees summaries only", func(t *testing.T) {
		code, resp := h.do(t, http.MethodGet, "/api/admin/sessions", admin, nil)
		require.Equal(t, http.StatusOK, code)
		body := string(resp.Data)
		assert.Contains(t, body, `"count":3`)
		assert.Contains(t, body, `"display_name":"Two"`)
		assert.NotContains(t, body, "access-")
		assert.NotContains(t, body, "refresh-u")
		assert.NotContains(t, body, "two@example.test")
		assert.NotContains(t, body, `"profile"`)
	})
}

func TestActiveSessionsDisabledWithoutAdmins(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	tok := h.login(t, "u1", time.Hour)

	code, _ := h.do(t, http.MethodGet, "/api/admin/sessions", tok, nil)
	assert.Equal(t, http.StatusForbidden, code)
}

// chatReply mirrors dj.Result; actions are decoded loosely since their data is polymorphic.
type chatReply struct {
	Message string `json:"message"`
	Actions []struct {
		Type string `json:"type"`
	} `json:"actions"`
	Results []dj.ActionResult `json:"results"`
}

func TestChatRunsActionAndRecordsHistory(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.model.resp = &llm.Response{Message: llm.Message{
		Content: "Pausing for you.",
		ToolCalls: []llm.ToolCall{{
			ID:        "call_1",
			Name:      dj.FuncControlPlayback,
			Arguments: `{"action":"pause"}`,
		}},
	}}
	tok := h.login(t, "u1", time.Hour)

	code, resp := h.do(t, http.MethodPost, "/api/ai/chat", tok, map[string]string{"message": "pause please", "persona": "casual"})
	require.Equal(t, http.StatusOK, code)

	var res chatReply
	require.NoError(t, json.Unmarshal(resp.Data, &res))
	assert.Equal(t, "Pausing for you.", res.Message)
	require.Len(t, res.Actions, 1)
	assert.Equal(t, "control_playback", res.Actions[0].Type)
	require.Len(t, res.Results, 1)
	assert.True(t, res.Results[0].OK())
	assert.Contains(t, h.gw.Calls(), "pause")

	code, resp = h.do(t, http.MethodGet, "/api/history", tok, nil)
	require.Equal(t, http.StatusOK, code)
	var page struct {
		Turns []struct {
			Message string `json:"message"`
			Reply   string `json:"reply"`
			Persona string `json:"persona"`
		} `json:"turns"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &page))
	require.Len(t, page.Turns, 1)
	assert.Equal(t, "pause please", page.Turns[0].Message)
	assert.Equal(t, "Pausing for you.", page.Turns[0].Reply)
	assert.Equal(t, "casual", page.Turns[0].Persona)

	code, resp = h.do(t, http.MethodGet, "/api/history/stats", tok, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(resp.Data), `"kind":"control_playback"`)
	assert.Contains(t, string(resp.Data), `"count":1`)

	code, resp = h.do(t, http.MethodDelete, "/api/history", tok, nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"deleted":1}`, string(resp.Data))
}

func TestChatModelFailureIsSoft(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	tok := h.login(t, "u1", time.Hour)

	code, resp := h.do(t, http.MethodPost, "/api/ai/chat", tok, map[string]string{"message": "play something"})
	require.Equal(t, http.StatusOK, code)

	var res chatReply
	require.NoError(t, json.Unmarshal(resp.Data, &res))
	assert.Equal(t, dj.FailureReply, res.Message)
	assert.Empty(t, res.Actions)
	assert.Empty(t, res.Results)
}

func TestChatValidation(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	tok := h.login(t, "u1", time.Hour)

	code, _ := h.do(t, http.MethodPost, "/api/ai/chat", tok, map[string]string{"message": "   "})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = h.do(t, http.MethodPost, "/api/ai/chat", tok, map[string]string{"message": strings.Repeat("x", 2001)})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestChatCachesListeningContext(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.model.resp = &llm.Response{Message: llm.Message{Content: "Sure."}}
	tok := h.login(t, "u1", time.Hour)

	for range 3 {
		code, _ := h.do(t, http.MethodPost, "/api/ai/chat", tok, map[string]string{"message": "hi"})
		require.Equal(t, http.StatusOK, code)
	}
	assert.Equal(t, 1, h.gw.libReads)
}

func TestChatDoesNotCacheEmptyListeningContext(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.gw.emptyLibrary = true
	h.model.resp = &llm.Response{Message: llm.Message{Content: "Sure."}}
	tok := h.login(t, "u1", time.Hour)

	for range 2 {
		code, _ := h.do(t, http.MethodPost, "/api/ai/chat", tok, map[string]string{"message": "hi"})
		require.Equal(t, http.StatusOK, code)
	}
	assert.Equal(t, 2, h.gw.libReads, "empty context is reloaded on the next turn")

	h.gw.mu.Lock()
	h.gw.emptyLibrary = false
	h.gw.mu.Unlock()
	for range 2 {
		code, _ := h.do(t, http.MethodPost, "/api/ai/chat", tok, map[string]string{"message": "hi"})
		require.Equal(t, http.StatusOK, code)
	}
	assert.Equal(t, 3, h.gw.libReads, "populated context is cached again")
}

func TestRateLimit(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(c *config.Config) {
		c.Server.RateLimitRPS = 0.001
		c.Server.RateLimitBurst = 2
	})

	for i := 0; i < 2; i++ {
		code, _ := h.do(t, http.MethodGet, "/api/auth/me", "", nil)
		assert.Equal(t, http.StatusUnauthorized, code)
	}
	code, resp := h.do(t, http.MethodGet, "/api/auth/me", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, code)
	assert.Equal(t, "RATE_LIMITED", resp.Error.Code)
}
