package spotify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// DefaultScopes are requested when BeginAuthorization is called without scopes.
var DefaultScopes = []string{
	"user-read-email",
	"user-read-private",
	"user-read-playback-state",
	"user-modify-playback-state",
	"user-read-currently-playing",
	"user-read-recently-played",
	"user-top-read",
	"playlist-read-private",
	"playlist-read-collaborative",
	"playlist-modify-public",
	"playlist-modify-private",
	"user-library-read",
	"user-library-modify",
}

// Grant is the outcome of a completed authorization or a token refresh.
type Grant struct {
	AccessToken  string      `json:"-"`
	RefreshToken string      `json:"-"`
	ExpiresAt    time.Time   `json:"expires_at"`
	Profile      UserProfile `json:"profile"`
}

// Authenticator runs the two-step authorization-code flow against the Spotify
// accounts service.
type Authenticator struct {
	config     oauth2.Config
	api        *Client
	httpClient *http.Client
	now        func() time.Time
}

type AuthOption func(*Authenticator)

// WithAccountsURL overrides https://accounts.spotify.com.
func WithAccountsURL(u string) AuthOption {
	return func(a *Authenticator) {
		if u == "" {
			return
		}
		u = strings.TrimRight(u, "/")
		a.config.Endpoint.AuthURL = u + "/authorize"
		a.config.Endpoint.TokenURL = u + "/api/token"
	}
}

// WithAPIClient sets the gateway client used to fetch the profile after login.
func WithAPIClient(c *Client) AuthOption {
	return func(a *Authenticator) {
		if c != nil {
			a.api = c
		}
	}
}

// WithAuthTimeout bounds calls to the accounts service.
func WithAuthTimeout(d time.Duration) AuthOption {
	return func(a *Authenticator) {
		if d > 0 {
			a.httpClient = &http.Client{Timeout: d}
		}
	}
}

// WithScopes replaces DefaultScopes.
func WithScopes(scopes []string) AuthOption {
	return func(a *Authenticator) {
		if len(scopes) > 0 {
			a.config.Scopes = scopes
		}
	}
}

// NewAuthenticator creates an Authenticator for a registered Spotify app.
func NewAuthenticator(clientID, clientSecret, redirectURL string, opts ...AuthOption) *Authenticator {
	a := &Authenticator{
		config: oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       DefaultScopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   DefaultAccountsURL + "/authorize",
				TokenURL:  DefaultAccountsURL + "/api/token",
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		api:        NewClient(),
		httpClient: &http.Client{Timeout: defaultTimeout},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// BeginAuthorization returns the URL the user must visit. state is echoed back
// on the callback and must be checked by the caller.
func (a *Authenticator) BeginAuthorization(state string, scopes ...string) string {
	cfg := a.config
	if len(scopes) > 0 {
		cfg.Scopes = scopes
	}
	return cfg.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// CompleteAuthorization exchanges the callback code for tokens and loads the
// user's profile.
func (a *Authenticator) CompleteAuthorization(ctx context.Context, code string) (*Grant, error) {
	if code == "" {
		return nil, errors.New("spotify.CompleteAuthorization: empty authorization code")
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, a.httpClient)
	tok, err := a.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("spotify.CompleteAuthorization: exchange: %w", err)
	}

	profile, err := a.api.CurrentUser(ctx, tok.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("spotify.CompleteAuthorization: profile: %w", err)
	}

	return a.grant(tok, *profile), nil
}

// Refresh obtains a new access token. When the accounts service does not
// rotate the refresh token the old one is kept.
func (a *Authenticator) Refresh(ctx context.Context, refreshToken string) (*Grant, error) {
	if refreshToken == "" {
		return nil, errors.New("spotify.Refresh: empty refresh token")
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, a.httpClient)
	tok, err := a.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, fmt.Errorf("spotify.Refresh: %w", err)
	}
	if tok.RefreshToken == "" {
		tok.RefreshToken = refreshToken
	}
	return a.grant(tok, UserProfile{}), nil
}

func (a *Authenticator) grant(tok *oauth2.Token, profile UserProfile) *Grant {
	expiresAt := tok.Expiry
	if expiresAt.IsZero() {
		expiresAt = a.now().Add(time.Hour)
	}
	return &Grant{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    expiresAt,
		Profile:      profile,
	}
}
