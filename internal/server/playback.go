package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/michaelbrown/smartdj/internal/session"
	"github.com/michaelbrown/smartdj/internal/spotify"
)

const (
	defaultSearchLimit = 20
	maxSearchLimit     = 50
	defaultRecsLimit   = 20
	maxRecsLimit       = 100
)

type deviceRequest struct {
	DeviceID string `json:"device_id"`
}

type playRequest struct {
	TrackID    string `json:"track_id"`
	PlaylistID string `json:"playlist_id"`
	DeviceID   string `json:"device_id"`
}

type volumeRequest struct {
	Volume   *int   `json:"volume"`
	DeviceID string `json:"device_id"`
}

type shuffleRequest struct {
	State    *bool  `json:"state"`
	DeviceID string `json:"device_id"`
}

type repeatRequest struct {
	State    spotify.RepeatMode `json:"state"`
	DeviceID string             `json:"device_id"`
}

type seekRequest struct {
	PositionMs *int   `json:"position_ms"`
	DeviceID   string `json:"device_id"`
}

type enqueueRequest struct {
	TrackID  string   `json:"track_id"`
	TrackIDs []string `json:"track_ids"`
	DeviceID string   `json:"device_id"`
}

type createPlaylistRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Public      bool     `json:"public"`
	TrackIDs    []string `json:"track_ids"`
}

// decodeOptional decodes a body that may be absent.
func decodeOptional(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := decodeJSON(w, r, v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid request body")
		return false
	}
	return true
}

// command runs one playback command for the caller and reports success as
// {"message": msg}. Connected websocket clients are told playback changed.
func (s *Server) command(w http.ResponseWriter, r *http.Request, op, msg string, fn func(ctx context.Context, sess *session.Session) error) {
	sess := s.loadSession(w, r)
	if sess == nil {
		return
	}
	if err := fn(r.Context(), sess); err != nil {
		writeFailure(w, op, err)
		return
	}
	s.hub.PlaybackChanged(sess.UserID, "api", map[string]string{"action": op})
	writeData(w, http.StatusOK, map[string]string{"message": msg})
}

func (s *Server) handlePlaybackState(w http.ResponseWriter, r *http.Request) {
	sess := s.loadSession(w, r)
	if sess == nil {
		return
	}
	state, err := s.gateway.PlaybackState(r.Context(), sess.AccessToken)
	if err != nil {
		writeFailure(w, "playback_state", err)
		return
	}
	// nil means nothing is playing; clients render an idle player.
	writeData(w, http.StatusOK, map[string]any{"playback": state})
}

func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	var req playRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	s.command(w, r, "play", "Playback started", func(ctx context.Context, sess *session.Session) error {
		switch {
		case req.TrackID != "":
			return s.gateway.PlayTrack(ctx, sess.AccessToken, req.TrackID, req.DeviceID)
		case req.PlaylistID != "":
			return s.gateway.PlayPlaylist(ctx, sess.AccessToken, req.PlaylistID, req.DeviceID)
		default:
			return s.gateway.Resume(ctx, sess.AccessToken, req.DeviceID)
		}
	})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	var req deviceRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	s.command(w, r, "pause", "Playback paused", func(ctx context.Context, sess *session.Session) error {
		return s.gateway.Pause(ctx, sess.AccessToken, req.DeviceID)
	})
}

func (s *Server) handleNext(w http.ResponseWriter, r *http.Request) {
	var req deviceRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	s.command(w, r, "next", "Skipped to next track", func(ctx context.Context, sess *session.Session) error {
		return s.gateway.SkipNext(ctx, sess.AccessToken, req.DeviceID)
	})
}

func (s *Server) handlePrevious(w http.ResponseWriter, r *http.Request) {
	var req deviceRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	s.command(w, r, "previous", "Skipped to previous track", func(ctx context.Context, sess *session.Session) error {
		return s.gateway.SkipPrevious(ctx, sess.AccessToken, req.DeviceID)
	})
}

func (s *Server) handleVolume(w http.ResponseWriter, r *http.Request) {
	var req volumeRequest
	if err := decodeJSON(w, r, &req); err != nil || req.Volume == nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "volume is required")
		return
	}
	volume := min(max(*req.Volume, 0), 100)
	s.command(w, r, "volume", "Volume set to "+strconv.Itoa(volume)+"%", func(ctx context.Context, sess *session.Session) error {
		return s.gateway.SetVolume(ctx, sess.AccessToken, volume, req.DeviceID)
	})
}

func (s *Server) handleShuffle(w http.ResponseWriter, r *http.Request) {
	var req shuffleRequest
	if err := decodeJSON(w, r, &req); err != nil || req.State == nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "state is required")
		return
	}
	msg := "Shuffle disabled"
	if *req.State {
		msg = "Shuffle enabled"
	}
	s.command(w, r, "shuffle", msg, func(ctx context.Context, sess *session.Session) error {
		return s.gateway.SetShuffle(ctx, sess.AccessToken, *req.State, req.DeviceID)
	})
}

func (s *Server) handleRepeat(w http.ResponseWriter, r *http.Request) {
	var req repeatRequest
	if err := decodeJSON(w, r, &req); err != nil || !req.State.Valid() {
		writeError(w, http.StatusBadRequest, codeBadRequest, "state must be track, context or off")
		return
	}
	s.command(w, r, "repeat", "Repeat set to "+string(req.State), func(ctx context.Context, sess *session.Session) error {
		return s.gateway.SetRepeat(ctx, sess.AccessToken, req.State, req.DeviceID)
	})
}

func (s *Server) handleSeek(w http.ResponseWriter, r *http.Request) {
	var req seekRequest
	if err := decodeJSON(w, r, &req); err != nil || req.PositionMs == nil || *req.PositionMs < 0 {
		writeError(w, http.StatusBadRequest, codeBadRequest, "position_ms must be a non-negative integer")
		return
	}
	s.command(w, r, "seek", "Seeked", func(ctx context.Context, sess *session.Session) error {
		return s.gateway.Seek(ctx, sess.AccessToken, *req.PositionMs, req.DeviceID)
	})
}

func (s *Server) handleGetQueue(w http.ResponseWriter, r *http.Request) {
	sess := s.loadSession(w, r)
	if sess == nil {
		return
	}
	writeData(w, http.StatusOK, s.gateway.Queue(r.Context(), sess.AccessToken))
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid request body")
		return
	}
	ids := req.TrackIDs
	if req.TrackID != "" {
		ids = append([]string{req.TrackID}, ids...)
	}
	if len(ids) == 0 {
		writeError(w, http.StatusBadRequest, codeBadRequest, "track_id or track_ids is required")
		return
	}
	msg := "Added " + strconv.Itoa(len(ids)) + " track(s) to queue"
	s.command(w, r, "queue", msg, func(ctx context.Context, sess *session.Session) error {
		for _, id := range ids {
			if err := s.gateway.Enqueue(ctx, sess.AccessToken, id, req.DeviceID); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	sess := s.loadSession(w, r)
	if sess == nil {
		return
	}
	writeData(w, http.StatusOK, map[string]any{"devices": s.gateway.Devices(r.Context(), sess.AccessToken)})
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req deviceRequest
	if err := decodeJSON(w, r, &req); err != nil || req.DeviceID == "" {
		writeError(w, http.StatusBadRequest, codeBadRequest, "device_id is required")
		return
	}
	s.command(w, r, "transfer", "Playback transferred", func(ctx context.Context, sess *session.Session) error {
		return s.gateway.TransferPlayback(ctx, sess.AccessToken, req.DeviceID)
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := strings.TrimSpace(q.Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, codeBadRequest, "q is required")
		return
	}
	var types []spotify.MediaType
	for _, t := range splitList(q.Get("type")) {
		mt := spotify.MediaType(t)
		if !mt.Valid() {
			writeError(w, http.StatusBadRequest, codeBadRequest, "unknown search type "+strconv.Quote(t))
			return
		}
		types = append(types, mt)
	}
	limit := intParam(q.Get("limit"), defaultSearchLimit, maxSearchLimit)

	sess := s.loadSession(w, r)
	if sess == nil {
		return
	}
	writeData(w, http.StatusOK, s.gateway.Search(r.Context(), sess.AccessToken, query, types, limit))
}

func (s *Server) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	seeds := spotify.Seeds{
		Tracks:  splitList(q.Get("seed_tracks")),
		Artists: splitList(q.Get("seed_artists")),
		Genres:  splitList(q.Get("seed_genres")),
	}
	target := spotify.TargetFeatures{
		Energy:       floatParam(q.Get("target_energy")),
		Valence:      floatParam(q.Get("target_valence")),
		Danceability: floatParam(q.Get("target_danceability")),
		Tempo:        floatParam(q.Get("target_tempo")),
	}
	limit := intParam(q.Get("limit"), defaultRecsLimit, maxRecsLimit)

	sess := s.loadSession(w, r)
	if sess == nil {
		return
	}
	if seeds.Len() == 0 {
		lc, err := s.contexts.Get(r.Context(), sess)
		if err != nil {
			writeFailure(w, "recommendations", err)
			return
		}
		seeds.Tracks = lc.SeedTrackIDs()
	}
	tracks := s.gateway.Recommendations(r.Context(), sess.AccessToken, seeds, target, limit)
	writeData(w, http.StatusOK, map[string]any{"tracks": tracks})
}

func (s *Server) handleCreatePlaylist(w http.ResponseWriter, r *http.Request) {
	var req createPlaylistRequest
	if err := decodeJSON(w, r, &req); err != nil || strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, codeBadRequest, "name is required")
		return
	}

	sess := s.loadSession(w, r)
	if sess == nil {
		return
	}
	pl, err := s.gateway.CreatePlaylist(r.Context(), sess.AccessToken, sess.Profile.ID, req.Name, req.Description, req.Public)
	if err != nil {
		writeFailure(w, "create_playlist", err)
		return
	}
	if len(req.TrackIDs) > 0 {
		uris := make([]string, len(req.TrackIDs))
		for i, id := range req.TrackIDs {
			uris[i] = spotify.TrackURI(id)
		}
		if err := s.gateway.AddTracksToPlaylist(r.Context(), sess.AccessToken, pl.ID, uris); err != nil {
			writeFailure(w, "add_tracks", err)
			return
		}
	}
	s.contexts.Invalidate(sess.UserID)
	writeData(w, http.StatusCreated, pl)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func intParam(s string, def, limit int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return def
	}
	return min(n, limit)
}

func floatParam(s string) *float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &f
}
