package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/michaelbrown/smartdj/internal/session"
	"github.com/michaelbrown/smartdj/internal/spotify"
)

// Error codes returned in the error envelope.
const (
	codeBadRequest     = "BAD_REQUEST"
	codeUnauthorized   = "UNAUTHORIZED"
	codeForbidden      = "FORBIDDEN"
	codeReauthRequired = "REAUTH_REQUIRED"
	codeUpstream       = "UPSTREAM_ERROR"
	codeNotFound       = "NOT_FOUND"
	codeRateLimited    = "RATE_LIMITED"
	codeInternal       = "INTERNAL_ERROR"
)

type envelope struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *errorBody `json:"error,omitempty"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("writing response")
	}
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, envelope{Error: &errorBody{Code: code, Message: msg}})
}

func writeReauth(w http.ResponseWriter) {
	writeError(w, http.StatusUnauthorized, codeReauthRequired, "Please re-authenticate")
}

// writeFailure maps gateway and session errors onto HTTP statuses.
func writeFailure(w http.ResponseWriter, op string, err error) {
	switch {
	case session.ReauthRequired(err):
		writeReauth(w)
	case errors.Is(err, spotify.ErrNoProfile):
		writeError(w, http.StatusConflict, codeReauthRequired, "Spotify profile unavailable, please re-authenticate")
	default:
		if ue, ok := spotify.AsUpstream(err); ok {
			msg := "Spotify rejected the " + op + " request"
			switch {
			case ue.NoActiveDevice():
				msg = "No active Spotify device found"
			case ue.Timeout():
				msg = "Spotify did not respond in time"
			case ue.StatusCode == http.StatusUnauthorized:
				writeReauth(w)
				return
			}
			writeError(w, http.StatusBadGateway, codeUpstream, msg)
			return
		}
		log.Error().Err(err).Str("op", op).Msg("request failed")
		writeError(w, http.StatusInternalServerError, codeInternal, "internal error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v)
}
