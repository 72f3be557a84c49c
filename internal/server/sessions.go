package server

import (
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/michaelbrown/smartdj/internal/session"
)

// loadSession returns the caller's live session, refreshing the access token
// when it expires within the configured refresh window. On failure the
// response has already been written and nil is returned.
func (s *Server) loadSession(w http.ResponseWriter, r *http.Request) *session.Session {
	id, ok := identityFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, codeUnauthorized, "missing credentials")
		return nil
	}

	sess, err := s.sessions.Get(r.Context(), id.UserID)
	if err != nil {
		writeFailure(w, "session", err)
		return nil
	}

	if sess.RefreshToken == "" || s.cfg.Auth.RefreshWindow <= 0 ||
		sess.ExpiresIn(s.now()) > s.cfg.Auth.RefreshWindow {
		return sess
	}

	grant, err := s.auth.Refresh(r.Context(), sess.RefreshToken)
	if err != nil {
		// The current token is still valid; try again on the next request.
		log.Warn().Err(err).Str("user", sess.UserID).Msg("token refresh failed")
		return sess
	}

	// Conditional updates only: a logout racing this refresh must win.
	if grant.RefreshToken != "" && grant.RefreshToken != sess.RefreshToken {
		ok, err = s.sessions.Rotate(r.Context(), sess.UserID, grant.AccessToken, grant.RefreshToken, grant.ExpiresAt)
		sess.RefreshToken = grant.RefreshToken
	} else {
		ok, err = s.sessions.Refresh(r.Context(), sess.UserID, grant.AccessToken, grant.ExpiresAt)
	}
	if err != nil {
		writeFailure(w, "session", err)
		return nil
	}
	if !ok {
		writeReauth(w)
		return nil
	}
	sess.AccessToken = grant.AccessToken
	sess.ExpiresAt = grant.ExpiresAt
	return sess
}
