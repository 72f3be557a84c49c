package dj

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/michaelbrown/smartdj/internal/spotify"
)

const (
	summaryTopTracks = 5
	summaryRecent    = 3
	summaryPlaylists = 10
	maxSeedTracks    = 5
)

// ListeningContext is the caller-supplied snapshot of the user's library.
type ListeningContext struct {
	Profile      spotify.UserProfile   `json:"profile"`
	Playlists    []spotify.Playlist    `json:"playlists"`
	TopTracks    []spotify.Track       `json:"top_tracks"`
	RecentTracks []spotify.PlayHistory `json:"recent_tracks"`
}

// Empty reports whether none of the library reads returned anything.
func (lc ListeningContext) Empty() bool {
	return len(lc.Playlists) == 0 && len(lc.TopTracks) == 0 && len(lc.RecentTracks) == 0
}

// Summary renders the context as prompt text. Lists are capped first; the
// result is then cut to roughly maxTokens (0 means no token limit).
func (lc ListeningContext) Summary(maxTokens int) string {
	var sections []string

	if lc.Profile.ID != "" || lc.Profile.DisplayName != "" {
		line := "Profile: " + firstNonEmpty(lc.Profile.DisplayName, lc.Profile.ID)
		var extra []string
		if lc.Profile.Country != "" {
			extra = append(extra, lc.Profile.Country)
		}
		if lc.Profile.Product != "" {
			extra = append(extra, lc.Profile.Product)
		}
		if len(extra) > 0 {
			line += " (" + strings.Join(extra, ", ") + ")"
		}
		sections = append(sections, line)
	}

	if len(lc.TopTracks) > 0 {
		top := lc.TopTracks[:min(len(lc.TopTracks), summaryTopTracks)]
		names := make([]string, 0, len(top))
		artists := make([]string, 0, len(top))
		for _, t := range top {
			names = append(names, describeTrack(t))
			if len(t.Artists) > 0 {
				artists = append(artists, t.Artists[0].Name)
			}
		}
		sections = append(sections, "Top tracks: "+strings.Join(names, "; "))
		if len(artists) > 0 {
			sections = append(sections, "Taste: likes "+strings.Join(dedupe(artists), ", "))
		}
	}

	if len(lc.RecentTracks) > 0 {
		recent := lc.RecentTracks[:min(len(lc.RecentTracks), summaryRecent)]
		names := make([]string, 0, len(recent))
		for _, r := range recent {
			names = append(names, describeTrack(r.Track))
		}
		sections = append(sections, "Recent tracks: "+strings.Join(names, "; "))
	}

	if len(lc.Playlists) > 0 {
		shown := lc.Playlists[:min(len(lc.Playlists), summaryPlaylists)]
		names := make([]string, 0, len(shown))
		for _, p := range shown {
			names = append(names, p.Name)
		}
		line := fmt.Sprintf("Playlists (%d): %s", len(lc.Playlists), strings.Join(names, ", "))
		if len(lc.Playlists) > len(shown) {
			line += ", ..."
		}
		sections = append(sections, line)
	}

	if len(sections) == 0 {
		return "No listening history available."
	}
	return fitTokens(sections, maxTokens)
}

// SeedTrackIDs returns up to five top-track ids for seeding recommendations.
func (lc ListeningContext) SeedTrackIDs() []string {
	ids := make([]string, 0, maxSeedTracks)
	for _, t := range lc.TopTracks {
		if t.ID == "" {
			continue
		}
		ids = append(ids, t.ID)
		if len(ids) == maxSeedTracks {
			break
		}
	}
	return ids
}

func describeTrack(t spotify.Track) string {
	if artists := t.ArtistNames(); artists != "" {
		return t.Name + " by " + artists
	}
	return t.Name
}

// estimateTokens uses the chars/4 heuristic.
func estimateTokens(text string) int {
	n := len(text) / 4
	if n == 0 && text != "" {
		n = 1
	}
	return n
}

// fitTokens joins sections in order, stopping once the budget is spent. The
// section that crosses the budget is truncated rather than dropped.
func fitTokens(sections []string, maxTokens int) string {
	joined := strings.Join(sections, "\n")
	if maxTokens <= 0 || estimateTokens(joined) <= maxTokens {
		return joined
	}

	budget := maxTokens * 4
	var b strings.Builder
	for _, s := range sections {
		sep := 0
		if b.Len() > 0 {
			sep = 1
		}
		if b.Len()+sep+len(s) <= budget {
			if sep == 1 {
				b.WriteByte('\n')
			}
			b.WriteString(s)
			continue
		}
		room := budget - b.Len() - sep - len("...")
		if room > 0 {
			if sep == 1 {
				b.WriteByte('\n')
			}
			b.WriteString(truncateBytes(s, room))
			b.WriteString("...")
		}
		break
	}
	return b.String()
}

// truncateBytes cuts s to at most n bytes without splitting a rune.
func truncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0:0]
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
