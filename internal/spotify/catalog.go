package spotify

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

const (
	maxSeeds          = 5
	playlistAddBatch  = 100
	defaultTimeRange  = "medium_term"
	defaultSearchType = MediaTrack
)

type page[T any] struct {
	Items []T `json:"items"`
}

// Search queries the catalog. Failures yield empty results.
func (c *Client) Search(ctx context.Context, token, query string, types []MediaType, limit int) SearchResults {
	if len(types) == 0 {
		types = []MediaType{defaultSearchType}
	}
	names := make([]string, 0, len(types))
	for _, t := range types {
		names = append(names, string(t))
	}

	q := url.Values{}
	q.Set("q", query)
	q.Set("type", strings.Join(names, ","))
	q.Set("limit", strconv.Itoa(limit))

	var resp struct {
		Tracks    page[Track]    `json:"tracks"`
		Artists   page[Artist]   `json:"artists"`
		Albums    page[Album]    `json:"albums"`
		Playlists page[Playlist] `json:"playlists"`
	}
	if _, err := c.doRequest(ctx, token, "search", http.MethodGet, "/search", q, nil, &resp); err != nil {
		logAdvisory("search", err)
		return SearchResults{
			Tracks:    []Track{},
			Artists:   []Artist{},
			Albums:    []Album{},
			Playlists: []Playlist{},
		}
	}

	// Playlist pages can contain null entries.
	playlists := make([]Playlist, 0, len(resp.Playlists.Items))
	for _, p := range resp.Playlists.Items {
		if p.ID != "" {
			playlists = append(playlists, p)
		}
	}

	return SearchResults{
		Tracks:    nonNil(resp.Tracks.Items),
		Artists:   nonNil(resp.Artists.Items),
		Albums:    nonNil(resp.Albums.Items),
		Playlists: playlists,
	}
}

// Recommendations returns tracks for the given seeds and targets. Seeds past the
// fifth are dropped. Failures, and calls without any seed, yield an empty list.
func (c *Client) Recommendations(ctx context.Context, token string, seeds Seeds, target TargetFeatures, limit int) []Track {
	seeds = capSeeds(seeds)
	if seeds.Len() == 0 {
		log.Debug().Msg("spotify recommendations skipped: no seeds")
		return []Track{}
	}

	q := url.Values{}
	if len(seeds.Tracks) > 0 {
		ids := make([]string, len(seeds.Tracks))
		for i, id := range seeds.Tracks {
			ids[i] = TrackID(id)
		}
		q.Set("seed_tracks", strings.Join(ids, ","))
	}
	if len(seeds.Artists) > 0 {
		q.Set("seed_artists", strings.Join(seeds.Artists, ","))
	}
	if len(seeds.Genres) > 0 {
		q.Set("seed_genres", strings.Join(seeds.Genres, ","))
	}
	setFloat(q, "target_energy", target.Energy)
	setFloat(q, "target_valence", target.Valence)
	setFloat(q, "target_danceability", target.Danceability)
	setFloat(q, "target_tempo", target.Tempo)
	q.Set("limit", strconv.Itoa(limit))

	var resp struct {
		Tracks []Track `json:"tracks"`
	}
	if _, err := c.doRequest(ctx, token, "recommendations", http.MethodGet, "/recommendations", q, nil, &resp); err != nil {
		logAdvisory("recommendations", err)
		return []Track{}
	}
	return nonNil(resp.Tracks)
}

func capSeeds(s Seeds) Seeds {
	budget := maxSeeds
	take := func(in []string) []string {
		if len(in) > budget {
			in = in[:budget]
		}
		budget -= len(in)
		return in
	}
	return Seeds{Tracks: take(s.Tracks), Artists: take(s.Artists), Genres: take(s.Genres)}
}

func setFloat(q url.Values, key string, v *float64) {
	if v != nil {
		q.Set(key, strconv.FormatFloat(*v, 'f', -1, 64))
	}
}

// CreatePlaylist creates a playlist owned by ownerID.
func (c *Client) CreatePlaylist(ctx context.Context, token, ownerID, name, description string, public bool) (*Playlist, error) {
	if ownerID == "" {
		return nil, &UpstreamError{Op: "create_playlist", Err: ErrNoProfile}
	}
	body := map[string]any{
		"name":        name,
		"description": description,
		"public":      public,
	}
	var p Playlist
	endpoint := "/users/" + url.PathEscape(ownerID) + "/playlists"
	if _, err := c.doRequest(ctx, token, "create_playlist", http.MethodPost, endpoint, nil, body, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// AddTracksToPlaylist appends track URIs in batches of 100.
func (c *Client) AddTracksToPlaylist(ctx context.Context, token, playlistID string, uris []string) error {
	endpoint := "/playlists/" + url.PathEscape(PlaylistID(playlistID)) + "/tracks"
	for start := 0; start < len(uris); start += playlistAddBatch {
		end := min(start+playlistAddBatch, len(uris))
		body := map[string]any{"uris": uris[start:end]}
		if _, err := c.doRequest(ctx, token, "add_tracks", http.MethodPost, endpoint, nil, body, nil); err != nil {
			return err
		}
	}
	return nil
}

// CurrentUser fetches /me.
func (c *Client) CurrentUser(ctx context.Context, token string) (*UserProfile, error) {
	var u UserProfile
	if _, err := c.doRequest(ctx, token, "current_user", http.MethodGet, "/me", nil, nil, &u); err != nil {
		return nil, err
	}
	if u.ID == "" {
		return nil, &UpstreamError{Op: "current_user", StatusCode: http.StatusOK, Err: fmt.Errorf("profile without id")}
	}
	return &u, nil
}

// UserPlaylists lists the user's playlists. Failures yield an empty list.
func (c *Client) UserPlaylists(ctx context.Context, token string, limit int) []Playlist {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	var resp struct {
		Items []Playlist `json:"items"`
	}
	if _, err := c.doRequest(ctx, token, "user_playlists", http.MethodGet, "/me/playlists", q, nil, &resp); err != nil {
		logAdvisory("user_playlists", err)
		return []Playlist{}
	}
	return nonNil(resp.Items)
}

// TopTracks lists the user's top tracks for timeRange (short_term,
// medium_term or long_term). Failures yield an empty list.
func (c *Client) TopTracks(ctx context.Context, token string, limit int, timeRange string) []Track {
	if timeRange == "" {
		timeRange = defaultTimeRange
	}
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("time_range", timeRange)
	var resp struct {
		Items []Track `json:"items"`
	}
	if _, err := c.doRequest(ctx, token, "top_tracks", http.MethodGet, "/me/top/tracks", q, nil, &resp); err != nil {
		logAdvisory("top_tracks", err)
		return []Track{}
	}
	return nonNil(resp.Items)
}

// RecentlyPlayed lists recently played tracks. Failures yield an empty list.
func (c *Client) RecentlyPlayed(ctx context.Context, token string, limit int) []PlayHistory {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	var resp struct {
		Items []PlayHistory `json:"items"`
	}
	if _, err := c.doRequest(ctx, token, "recently_played", http.MethodGet, "/me/player/recently-played", q, nil, &resp); err != nil {
		logAdvisory("recently_played", err)
		return []PlayHistory{}
	}
	return nonNil(resp.Items)
}
