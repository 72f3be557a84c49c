package dj

import "github.com/michaelbrown/smartdj/internal/llm"

// ToolDefs returns the five functions the model may call, at most one per turn.
func ToolDefs() []llm.ToolDef {
	return []llm.ToolDef{
		{
			Name:        FuncSearch,
			Description: "Search for tracks, artists, albums or playlists on Spotify",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{"type": "string", "description": "Search query"},
					"type": map[string]any{
						"type": "string",
						"enum": []string{"track", "artist", "album", "playlist"},
					},
					"limit": map[string]any{"type": "integer", "minimum": 1, "maximum": maxSearchLimit, "default": defaultSearchLimit},
				},
				"required":             []string{"query", "type"},
				"additionalProperties": false,
			},
		},
		{
			Name:        FuncRecommendations,
			Description: "Get personalized recommendations from Spotify",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"seed_tracks": map[string]any{
						"type":        "array",
						"items":       map[string]any{"type": "string"},
						"description": "Track IDs for recommendations",
					},
					"seed_artists": map[string]any{
						"type":        "array",
						"items":       map[string]any{"type": "string"},
						"description": "Artist IDs for recommendations",
					},
					"target_energy":  map[string]any{"type": "number", "minimum": 0, "maximum": 1, "description": "Energy level 0-1"},
					"target_valence": map[string]any{"type": "number", "minimum": 0, "maximum": 1, "description": "Mood level 0-1"},
					"limit":          map[string]any{"type": "integer", "minimum": 1, "maximum": maxRecsLimit, "default": defaultRecsLimit},
				},
				"required":             []string{},
				"additionalProperties": false,
			},
		},
		{
			Name:        FuncCreatePlaylist,
			Description: "Create a new private Spotify playlist, optionally with tracks",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name":        map[string]any{"type": "string", "description": "Playlist name"},
					"description": map[string]any{"type": "string", "description": "Playlist description"},
					"track_ids": map[string]any{
						"type":        "array",
						"items":       map[string]any{"type": "string"},
						"description": "Track IDs to add",
					},
				},
				"required":             []string{"name"},
				"additionalProperties": false,
			},
		},
		{
			Name:        FuncControlPlayback,
			Description: "Control Spotify playback (play, pause, skip, volume, shuffle, repeat)",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"action": map[string]any{
						"type":        "string",
						"enum":        []string{OpPlay, OpPause, OpNext, OpPrevious, OpVolume, OpShuffle, OpRepeat},
						"description": "Playback action to perform",
					},
					"track_id":     map[string]any{"type": "string", "description": "Track ID to play (for play action)"},
					"playlist_id":  map[string]any{"type": "string", "description": "Playlist ID to play (for play action)"},
					"volume":       map[string]any{"type": "integer", "minimum": 0, "maximum": 100, "description": "Volume percentage (for volume action)"},
					"shuffle":      map[string]any{"type": "boolean", "description": "Shuffle state (for shuffle action)"},
					"repeat_state": map[string]any{"type": "string", "enum": []string{"track", "context", "off"}, "description": "Repeat mode (for repeat action)"},
				},
				"required":             []string{"action"},
				"additionalProperties": false,
			},
		},
		{
			Name:        FuncAddToQueue,
			Description: "Add tracks to the Spotify playback queue",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"track_ids": map[string]any{
						"type":        "array",
						"items":       map[string]any{"type": "string"},
						"description": "Track IDs to add to queue",
					},
				},
				"required":             []string{"track_ids"},
				"additionalProperties": false,
			},
		},
	}
}
