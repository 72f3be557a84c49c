package spotify

import (
	"strings"
	"time"
)

// MediaType is a searchable catalog type.
type MediaType string

const (
	MediaTrack    MediaType = "track"
	MediaArtist   MediaType = "artist"
	MediaAlbum    MediaType = "album"
	MediaPlaylist MediaType = "playlist"
)

// Valid reports whether t is one of the searchable types.
func (t MediaType) Valid() bool {
	switch t {
	case MediaTrack, MediaArtist, MediaAlbum, MediaPlaylist:
		return true
	}
	return false
}

// RepeatMode is the player's repeat state.
type RepeatMode string

const (
	RepeatTrack   RepeatMode = "track"
	RepeatContext RepeatMode = "context"
	RepeatOff     RepeatMode = "off"
)

func (m RepeatMode) Valid() bool {
	return m == RepeatTrack || m == RepeatContext || m == RepeatOff
}

type Image struct {
	URL    string `json:"url"`
	Height int    `json:"height"`
	Width  int    `json:"width"`
}

type SimpleArtist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URI  string `json:"uri"`
}

type Artist struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	URI        string   `json:"uri"`
	Genres     []string `json:"genres,omitempty"`
	Popularity int      `json:"popularity"`
	Images     []Image  `json:"images,omitempty"`
}

type Album struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	URI         string         `json:"uri"`
	AlbumType   string         `json:"album_type"`
	ReleaseDate string         `json:"release_date"`
	Images      []Image        `json:"images,omitempty"`
	Artists     []SimpleArtist `json:"artists,omitempty"`
}

type Track struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	URI        string         `json:"uri"`
	DurationMs int            `json:"duration_ms"`
	Explicit   bool           `json:"explicit"`
	Popularity int            `json:"popularity"`
	PreviewURL string         `json:"preview_url,omitempty"`
	Artists    []SimpleArtist `json:"artists"`
	Album      Album          `json:"album"`
}

// ArtistNames joins the track's artist names with ", ".
func (t Track) ArtistNames() string {
	names := make([]string, 0, len(t.Artists))
	for _, a := range t.Artists {
		names = append(names, a.Name)
	}
	return strings.Join(names, ", ")
}

type Owner struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

type PlaylistTracksRef struct {
	Href  string `json:"href"`
	Total int    `json:"total"`
}

type Playlist struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	URI         string            `json:"uri"`
	Public      bool              `json:"public"`
	Owner       Owner             `json:"owner"`
	Images      []Image           `json:"images,omitempty"`
	Tracks      PlaylistTracksRef `json:"tracks"`
}

type Followers struct {
	Total int `json:"total"`
}

// UserProfile is the subset of /me the application keeps with a session.
type UserProfile struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	Email       string    `json:"email,omitempty"`
	Country     string    `json:"country,omitempty"`
	Product     string    `json:"product,omitempty"`
	Images      []Image   `json:"images,omitempty"`
	Followers   Followers `json:"followers"`
}

type PlayHistory struct {
	Track    Track     `json:"track"`
	PlayedAt time.Time `json:"played_at"`
}

type Device struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Type          string `json:"type"`
	IsActive      bool   `json:"is_active"`
	IsRestricted  bool   `json:"is_restricted"`
	VolumePercent int    `json:"volume_percent"`
}

type PlaybackState struct {
	Device               Device     `json:"device"`
	RepeatState          RepeatMode `json:"repeat_state"`
	ShuffleState         bool       `json:"shuffle_state"`
	ProgressMs           int        `json:"progress_ms"`
	IsPlaying            bool       `json:"is_playing"`
	Item                 *Track     `json:"item"`
	CurrentlyPlayingType string     `json:"currently_playing_type"`
	Timestamp            int64      `json:"timestamp"`
}

type Queue struct {
	CurrentlyPlaying *Track  `json:"currently_playing"`
	Queue            []Track `json:"queue"`
}

// SearchResults holds one list per requested media type.
type SearchResults struct {
	Tracks    []Track    `json:"tracks"`
	Artists   []Artist   `json:"artists"`
	Albums    []Album    `json:"albums"`
	Playlists []Playlist `json:"playlists"`
}

// Len is the total number of matches across all types.
func (r SearchResults) Len() int {
	return len(r.Tracks) + len(r.Artists) + len(r.Albums) + len(r.Playlists)
}

// Items returns the matches for a single type as a non-nil slice.
func (r SearchResults) Items(t MediaType) any {
	switch t {
	case MediaArtist:
		return nonNil(r.Artists)
	case MediaAlbum:
		return nonNil(r.Albums)
	case MediaPlaylist:
		return nonNil(r.Playlists)
	default:
		return nonNil(r.Tracks)
	}
}

// Seeds are recommendation seeds. The upstream accepts at most five in total.
type Seeds struct {
	Tracks  []string
	Artists []string
	Genres  []string
}

func (s Seeds) Len() int {
	return len(s.Tracks) + len(s.Artists) + len(s.Genres)
}

// TargetFeatures are optional audio feature targets; nil means unset.
type TargetFeatures struct {
	Energy       *float64
	Valence      *float64
	Danceability *float64
	Tempo        *float64
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
