package spotify

import "strings"

// TrackID accepts a bare id, a spotify:track: URI or an open.spotify.com link
// and returns the bare id.
func TrackID(s string) string { return normalizeID("track", s) }

func TrackURI(s string) string { return "spotify:track:" + TrackID(s) }

func PlaylistID(s string) string { return normalizeID("playlist", s) }

func PlaylistURI(s string) string { return "spotify:playlist:" + PlaylistID(s) }

func normalizeID(kind, s string) string {
	s = strings.TrimSpace(s)
	if rest, ok := strings.CutPrefix(s, "spotify:"+kind+":"); ok {
		return rest
	}
	if i := strings.Index(s, "open.spotify.com/"); i >= 0 {
		path := s[i+len("open.spotify.com/"):]
		if j := strings.IndexAny(path, "?#"); j >= 0 {
			path = path[:j]
		}
		// Localized links look like open.spotify.com/intl-de/track/<id>.
		parts := strings.Split(strings.Trim(path, "/"), "/")
		for k := 0; k+1 < len(parts); k++ {
			if parts[k] == kind {
				return parts[k+1]
			}
		}
	}
	return s
}
