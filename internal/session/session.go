// Package session holds each user's live Spotify credentials. A session is
// usable only while the current time is before its expiry; expired sessions
// are treated exactly like missing ones.
package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/michaelbrown/smartdj/internal/spotify"
)

var (
	// ErrAbsent means no usable session exists and the user must re-authenticate.
	ErrAbsent = errors.New("session: absent")
	// ErrExpired is returned by the lookup that discovers and evicts an expired session.
	ErrExpired = fmt.Errorf("%w: expired", ErrAbsent)
)

// Session is one user's connection to Spotify. Tokens never leave the process
// through JSON; use View for anything client facing.
type Session struct {
	UserID       string              `json:"user_id"`
	AccessToken  string              `json:"-"`
	RefreshToken string              `json:"-"`
	ExpiresAt    time.Time           `json:"expires_at"`
	Profile      spotify.UserProfile `json:"profile"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

// Valid reports whether the session is usable at now.
func (s *Session) Valid(now time.Time) bool {
	return now.Before(s.ExpiresAt)
}

// ExpiresIn is the remaining lifetime at now (negative once expired).
func (s *Session) ExpiresIn(now time.Time) time.Duration {
	return s.ExpiresAt.Sub(now)
}

// View is the token-free projection of a session.
type View struct {
	UserID          string              `json:"user_id"`
	DisplayName     string              `json:"display_name"`
	ExpiresAt       time.Time           `json:"expires_at"`
	HasRefreshToken bool                `json:"has_refresh_token"`
	Profile         spotify.UserProfile `json:"profile"`
}

func (s *Session) View() View {
	return View{
		UserID:          s.UserID,
		DisplayName:     s.Profile.DisplayName,
		ExpiresAt:       s.ExpiresAt,
		HasRefreshToken: s.RefreshToken != "",
		Profile:         s.Profile,
	}
}

// Summary is the operator-facing listing entry. It carries no profile data.
type Summary struct {
	UserID          string    `json:"user_id"`
	DisplayName     string    `json:"display_name"`
	ExpiresAt       time.Time `json:"expires_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	HasRefreshToken bool      `json:"has_refresh_token"`
}

func (s *Session) Summary() Summary {
	return Summary{
		UserID:          s.UserID,
		DisplayName:     s.Profile.DisplayName,
		ExpiresAt:       s.ExpiresAt,
		UpdatedAt:       s.UpdatedAt,
		HasRefreshToken: s.RefreshToken != "",
	}
}

// Clone returns a copy that shares no memory with s.
func (s *Session) Clone() Session {
	out := *s
	out.Profile.Images = slices.Clone(s.Profile.Images)
	return out
}

// Repository is the session store capability the HTTP surface depends on.
// Every operation is atomic with respect to the others.
type Repository interface {
	// Put stores s, replacing any existing session for s.UserID.
	Put(ctx context.Context, s Session) error

	// Get returns a copy of the user's session if it has not expired. An expired
	// session is evicted and ErrExpired returned; a missing one yields ErrAbsent.
	Get(ctx context.Context, userID string) (*Session, error)

	// Delete removes the user's session. Deleting a missing session is not an error.
	Delete(ctx context.Context, userID string) error

	// Refresh swaps in a new access token and expiry. It reports false and
	// changes nothing when the user has no live session.
	Refresh(ctx context.Context, userID, accessToken string, expiresAt time.Time) (bool, error)

	// Rotate is Refresh for grants that also replace the refresh token. Like
	// Refresh it never recreates a session that was deleted or has expired.
	Rotate(ctx context.Context, userID, accessToken, refreshToken string, expiresAt time.Time) (bool, error)

	// ListActive returns every unexpired session. Diagnostics only.
	ListActive(ctx context.Context) ([]Session, error)
}

// ReauthRequired reports whether err means the caller must log in again.
func ReauthRequired(err error) bool {
	return errors.Is(err, ErrAbsent)
}
