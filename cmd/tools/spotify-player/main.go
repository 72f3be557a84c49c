// Command spotify-player is an MCP stdio server exposing Spotify playback
// controls. It acts for the user whose access token is in SPOTIFY_ACCESS_TOKEN.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/michaelbrown/smartdj/internal/spotify"
)

// player is the gateway subset the tools use.
type player interface {
	PlaybackState(ctx context.Context, token string) (*spotify.PlaybackState, error)
	PlayTrack(ctx context.Context, token, trackID, deviceID string) error
	PlayPlaylist(ctx context.Context, token, playlistID, deviceID string) error
	Resume(ctx context.Context, token, deviceID string) error
	Pause(ctx context.Context, token, deviceID string) error
	SkipNext(ctx context.Context, token, deviceID string) error
	SkipPrevious(ctx context.Context, token, deviceID string) error
	SetVolume(ctx context.Context, token string, percent int, deviceID string) error
	Enqueue(ctx context.Context, token, trackID, deviceID string) error
	Search(ctx context.Context, token, query string, types []spotify.MediaType, limit int) spotify.SearchResults
}

type tools struct {
	player player
	token  string
}

func main() {
	api := spotify.NewClient(
		spotify.WithBaseURL(os.Getenv("SPOTIFY_API_URL")),
		spotify.WithTimeout(15*time.Second),
	)
	s := newServer(&tools{player: api, token: os.Getenv("SPOTIFY_ACCESS_TOKEN")})

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
	}
}

func newServer(t *tools) *server.MCPServer {
	s := server.NewMCPServer("smartdj-spotify-player", "0.1.0")

	device := map[string]any{
		"type":        "string",
		"description": "Target device id (default: the active device)",
	}

	s.AddTool(mcp.Tool{
		Name:        "now_playing",
		Description: "Show what is currently playing on the user's Spotify account.",
		InputSchema: mcp.ToolInputSchema{Type: "object", Properties: map[string]any{}},
	}, t.handleNowPlaying)

	s.AddTool(mcp.Tool{
		Name:        "play",
		Description: "Start playback. Plays a track or playlist when given, otherwise resumes.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"track_id":    map[string]any{"type": "string", "description": "Track id, URI or link"},
				"playlist_id": map[string]any{"type": "string", "description": "Playlist id, URI or link"},
				"device_id":   device,
			},
		},
	}, t.handlePlay)

	s.AddTool(mcp.Tool{
		Name:        "pause",
		Description: "Pause playback.",
		InputSchema: mcp.ToolInputSchema{Type: "object", Properties: map[string]any{"device_id": device}},
	}, t.handlePause)

	s.AddTool(mcp.Tool{
		Name:        "skip_next",
		Description: "Skip to the next track.",
		InputSchema: mcp.ToolInputSchema{Type: "object", Properties: map[string]any{"device_id": device}},
	}, t.handleSkipNext)

	s.AddTool(mcp.Tool{
		Name:        "skip_previous",
		Description: "Skip to the previous track.",
		InputSchema: mcp.ToolInputSchema{Type: "object", Properties: map[string]any{"device_id": device}},
	}, t.handleSkipPrevious)

	s.AddTool(mcp.Tool{
		Name:        "set_volume",
		Description: "Set the playback volume in percent (0-100).",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"volume":    map[string]any{"type": "integer", "minimum": 0, "maximum": 100},
				"device_id": device,
			},
			Required: []string{"volume"},
		},
	}, t.handleSetVolume)

	s.AddTool(mcp.Tool{
		Name:        "queue_track",
		Description: "Add a track to the end of the playback queue.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"track_id":  map[string]any{"type": "string", "description": "Track id, URI or link"},
				"device_id": device,
			},
			Required: []string{"track_id"},
		},
	}, t.handleQueueTrack)

	s.AddTool(mcp.Tool{
		Name:        "search_tracks",
		Description: "Search the Spotify catalog for tracks.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"query": map[string]any{"type": "string", "description": "Search query"},
				"limit": map[string]any{"type": "integer", "minimum": 1, "maximum": 50},
			},
			Required: []string{"query"},
		},
	}, t.handleSearchTracks)

	return s
}

func getArgs(request mcp.CallToolRequest) map[string]any {
	args, _ := request.Params.Arguments.(map[string]any)
	return args
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return strings.TrimSpace(s)
}

// intArg reads a JSON number; ok is false when the key is absent or not a number.
func intArg(args map[string]any, key string) (int, bool) {
	switch v := args[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	}
	return 0, false
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: text}},
	}
}

func errResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: text}},
		IsError: true,
	}
}

// failure renders a gateway error for the model.
func failure(err error) *mcp.CallToolResult {
	if ue, ok := spotify.AsUpstream(err); ok {
		switch {
		case ue.NoActiveDevice():
			return errResult("error: no active Spotify device; open Spotify on a device first")
		case ue.StatusCode == 401:
			return errResult("error: the Spotify access token is invalid or expired")
		}
	}
	return errResult(fmt.Sprintf("error: %v", err))
}

func (t *tools) command(ctx context.Context, done string, fn func(ctx context.Context) error) (*mcp.CallToolResult, error) {
	if t.token == "" {
		return errResult("error: SPOTIFY_ACCESS_TOKEN not set"), nil
	}
	if err := fn(ctx); err != nil {
		return failure(err), nil
	}
	return textResult(done), nil
}

func (t *tools) handleNowPlaying(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if t.token == "" {
		return errResult("error: SPOTIFY_ACCESS_TOKEN not set"), nil
	}
	state, err := t.player.PlaybackState(ctx, t.token)
	if err != nil {
		return failure(err), nil
	}
	if state == nil || state.Item == nil {
		return textResult("Nothing is playing."), nil
	}

	status := "Paused"
	if state.IsPlaying {
		status = "Playing"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: %s - %s\n", status, state.Item.Name, state.Item.ArtistNames())
	fmt.Fprintf(&sb, "Position: %s / %s\n", formatMs(state.ProgressMs), formatMs(state.Item.DurationMs))
	fmt.Fprintf(&sb, "Device: %s (volume %d%%)\n", state.Device.Name, state.Device.VolumePercent)
	fmt.Fprintf(&sb, "Shuffle: %t, repeat: %s\n", state.ShuffleState, state.RepeatState)
	return textResult(sb.String()), nil
}

func (t *tools) handlePlay(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := getArgs(request)
	trackID, playlistID, deviceID := stringArg(args, "track_id"), stringArg(args, "playlist_id"), stringArg(args, "device_id")

	return t.command(ctx, "Playback started.", func(ctx context.Context) error {
		switch {
		case trackID != "":
			return t.player.PlayTrack(ctx, t.token, trackID, deviceID)
		case playlistID != "":
			return t.player.PlayPlaylist(ctx, t.token, playlistID, deviceID)
		default:
			return t.player.Resume(ctx, t.token, deviceID)
		}
	})
}

func (t *tools) handlePause(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	deviceID := stringArg(getArgs(request), "device_id")
	return t.command(ctx, "Playback paused.", func(ctx context.Context) error {
		return t.player.Pause(ctx, t.token, deviceID)
	})
}

func (t *tools) handleSkipNext(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	deviceID := stringArg(getArgs(request), "device_id")
	return t.command(ctx, "Skipped to the next track.", func(ctx context.Context) error {
		return t.player.SkipNext(ctx, t.token, deviceID)
	})
}

func (t *tools) handleSkipPrevious(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	deviceID := stringArg(getArgs(request), "device_id")
	return t.command(ctx, "Skipped to the previous track.", func(ctx context.Context) error {
		return t.player.SkipPrevious(ctx, t.token, deviceID)
	})
}

func (t *tools) handleSetVolume(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := getArgs(request)
	volume, ok := intArg(args, "volume")
	if !ok {
		return errResult("error: 'volume' is required"), nil
	}
	if volume < 0 || volume > 100 {
		return errResult("error: 'volume' must be between 0 and 100"), nil
	}
	deviceID := stringArg(args, "device_id")
	return t.command(ctx, fmt.Sprintf("Volume set to %d%%.", volume), func(ctx context.Context) error {
		return t.player.SetVolume(ctx, t.token, volume, deviceID)
	})
}

func (t *tools) handleQueueTrack(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := getArgs(request)
	trackID := stringArg(args, "track_id")
	if trackID == "" {
		return errResult("error: 'track_id' is required"), nil
	}
	deviceID := stringArg(args, "device_id")
	return t.command(ctx, "Track added to the queue.", func(ctx context.Context) error {
		return t.player.Enqueue(ctx, t.token, trackID, deviceID)
	})
}

func (t *tools) handleSearchTracks(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := getArgs(request)
	query := stringArg(args, "query")
	if query == "" {
		return errResult("error: 'query' is required"), nil
	}
	if t.token == "" {
		return errResult("error: SPOTIFY_ACCESS_TOKEN not set"), nil
	}
	limit, ok := intArg(args, "limit")
	if !ok || limit <= 0 {
		limit = 10
	}
	limit = min(limit, 50)

	res := t.player.Search(ctx, t.token, query, []spotify.MediaType{spotify.MediaTrack}, limit)
	if len(res.Tracks) == 0 {
		return textResult("No tracks found."), nil
	}

	var sb strings.Builder
	for i, tr := range res.Tracks {
		fmt.Fprintf(&sb, "%d. %s - %s\n   %s\n", i+1, tr.Name, tr.ArtistNames(), spotify.TrackURI(tr.ID))
	}
	return textResult(sb.String()), nil
}

func formatMs(ms int) string {
	d := time.Duration(ms) * time.Millisecond
	return fmt.Sprintf("%d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}
