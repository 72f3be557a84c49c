package server

import (
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/michaelbrown/smartdj/internal/auth"
	"github.com/michaelbrown/smartdj/internal/session"
)

const (
	stateCookie    = "spotify_auth_state"
	stateCookieTTL = 10 * time.Minute
)

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	state := auth.NewState()
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/api/auth",
		MaxAge:   int(stateCookieTTL.Seconds()),
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, s.auth.BeginAuthorization(state, s.cfg.Spotify.Scopes...), http.StatusFound)
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		s.redirectFrontend(w, r, "/login", "error", e)
		return
	}

	c, err := r.Cookie(stateCookie)
	if err != nil || c.Value == "" || c.Value != q.Get("state") {
		writeError(w, http.StatusBadRequest, codeBadRequest, "state mismatch")
		return
	}
	http.SetCookie(w, &http.Cookie{Name: stateCookie, Path: "/api/auth", MaxAge: -1})

	grant, err := s.auth.CompleteAuthorization(r.Context(), q.Get("code"))
	if err != nil {
		log.Warn().Err(err).Msg("spotify authorization failed")
		s.redirectFrontend(w, r, "/login", "error", "authorization_failed")
		return
	}

	sess := session.Session{
		UserID:       grant.Profile.ID,
		AccessToken:  grant.AccessToken,
		RefreshToken: grant.RefreshToken,
		ExpiresAt:    grant.ExpiresAt,
		Profile:      grant.Profile,
		UpdatedAt:    s.now(),
	}
	if err := s.sessions.Put(r.Context(), sess); err != nil {
		writeFailure(w, "login", err)
		return
	}
	s.contexts.Invalidate(sess.UserID)

	tok, err := auth.IssueToken(s.cfg.Auth.JWTSecret, auth.Identity{
		UserID:      grant.Profile.ID,
		DisplayName: grant.Profile.DisplayName,
		Email:       grant.Profile.Email,
	}, s.cfg.Auth.JWTTTL)
	if err != nil {
		writeFailure(w, "login", err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     authCookie,
		Value:    tok,
		Path:     "/",
		MaxAge:   int(s.cfg.Auth.JWTTTL.Seconds()),
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})

	log.Info().Str("user", sess.UserID).Msg("user logged in")
	s.redirectFrontend(w, r, "/dashboard", "", "")
}

func (s *Server) redirectFrontend(w http.ResponseWriter, r *http.Request, path, key, value string) {
	target := s.cfg.Server.FrontendURL + path
	if key != "" {
		target += "?" + url.Values{key: {value}}.Encode()
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())
	if err := s.sessions.Delete(r.Context(), id.UserID); err != nil {
		writeFailure(w, "logout", err)
		return
	}
	s.contexts.Invalidate(id.UserID)
	http.SetCookie(w, &http.Cookie{Name: authCookie, Path: "/", MaxAge: -1, HttpOnly: true})
	writeData(w, http.StatusOK, map[string]string{"message": "Logged out"})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	sess := s.loadSession(w, r)
	if sess == nil {
		return
	}
	writeData(w, http.StatusOK, sess.View())
}

func (s *Server) handleActiveSessions(w http.ResponseWriter, r *http.Request) {
	active, err := s.sessions.ListActive(r.Context())
	if err != nil {
		writeFailure(w, "list_sessions", err)
		return
	}
	list := make([]session.Summary, 0, len(active))
	for i := range active {
		list = append(list, active[i].Summary())
	}
	writeData(w, http.StatusOK, map[string]any{"count": len(list), "sessions": list})
}
