package spotify

import (
	"context"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"
)

// PlaybackState returns the user's current playback, or nil when the upstream
// reports no active device (204 or an empty body).
func (c *Client) PlaybackState(ctx context.Context, token string) (*PlaybackState, error) {
	var state *PlaybackState
	status, err := c.doRequest(ctx, token, "playback_state", http.MethodGet, "/me/player", nil, nil, &state)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNoContent {
		return nil, nil
	}
	return state, nil
}

// PlayTrack starts a single track.
func (c *Client) PlayTrack(ctx context.Context, token, trackID, deviceID string) error {
	body := map[string]any{"uris": []string{TrackURI(trackID)}}
	_, err := c.doRequest(ctx, token, "play", http.MethodPut, "/me/player/play", deviceQuery(deviceID), body, nil)
	return err
}

// PlayPlaylist starts a playlist context.
func (c *Client) PlayPlaylist(ctx context.Context, token, playlistID, deviceID string) error {
	body := map[string]any{"context_uri": PlaylistURI(playlistID)}
	_, err := c.doRequest(ctx, token, "play", http.MethodPut, "/me/player/play", deviceQuery(deviceID), body, nil)
	return err
}

// Resume continues whatever was last playing.
func (c *Client) Resume(ctx context.Context, token, deviceID string) error {
	_, err := c.doRequest(ctx, token, "play", http.MethodPut, "/me/player/play", deviceQuery(deviceID), nil, nil)
	return err
}

func (c *Client) Pause(ctx context.Context, token, deviceID string) error {
	_, err := c.doRequest(ctx, token, "pause", http.MethodPut, "/me/player/pause", deviceQuery(deviceID), nil, nil)
	return err
}

func (c *Client) SkipNext(ctx context.Context, token, deviceID string) error {
	_, err := c.doRequest(ctx, token, "next", http.MethodPost, "/me/player/next", deviceQuery(deviceID), nil, nil)
	return err
}

func (c *Client) SkipPrevious(ctx context.Context, token, deviceID string) error {
	_, err := c.doRequest(ctx, token, "previous", http.MethodPost, "/me/player/previous", deviceQuery(deviceID), nil, nil)
	return err
}

func (c *Client) Seek(ctx context.Context, token string, positionMs int, deviceID string) error {
	q := deviceQuery(deviceID)
	q.Set("position_ms", strconv.Itoa(positionMs))
	_, err := c.doRequest(ctx, token, "seek", http.MethodPut, "/me/player/seek", q, nil, nil)
	return err
}

// SetVolume sets the volume percentage. Callers clamp to [0,100].
func (c *Client) SetVolume(ctx context.Context, token string, percent int, deviceID string) error {
	q := deviceQuery(deviceID)
	q.Set("volume_percent", strconv.Itoa(percent))
	_, err := c.doRequest(ctx, token, "volume", http.MethodPut, "/me/player/volume", q, nil, nil)
	return err
}

func (c *Client) SetShuffle(ctx context.Context, token string, enabled bool, deviceID string) error {
	q := deviceQuery(deviceID)
	q.Set("state", strconv.FormatBool(enabled))
	_, err := c.doRequest(ctx, token, "shuffle", http.MethodPut, "/me/player/shuffle", q, nil, nil)
	return err
}

func (c *Client) SetRepeat(ctx context.Context, token string, mode RepeatMode, deviceID string) error {
	q := deviceQuery(deviceID)
	q.Set("state", string(mode))
	_, err := c.doRequest(ctx, token, "repeat", http.MethodPut, "/me/player/repeat", q, nil, nil)
	return err
}

// Enqueue appends a track to the user's queue.
func (c *Client) Enqueue(ctx context.Context, token, trackID, deviceID string) error {
	q := deviceQuery(deviceID)
	q.Set("uri", TrackURI(trackID))
	_, err := c.doRequest(ctx, token, "enqueue", http.MethodPost, "/me/player/queue", q, nil, nil)
	return err
}

// Queue returns the user's queue. Failures yield an empty queue.
func (c *Client) Queue(ctx context.Context, token string) Queue {
	var q Queue
	if _, err := c.doRequest(ctx, token, "queue", http.MethodGet, "/me/player/queue", nil, nil, &q); err != nil {
		logAdvisory("queue", err)
		return Queue{Queue: []Track{}}
	}
	q.Queue = nonNil(q.Queue)
	return q
}

// Devices lists the user's available devices. Failures yield an empty list.
func (c *Client) Devices(ctx context.Context, token string) []Device {
	var resp struct {
		Devices []Device `json:"devices"`
	}
	if _, err := c.doRequest(ctx, token, "devices", http.MethodGet, "/me/player/devices", nil, nil, &resp); err != nil {
		logAdvisory("devices", err)
		return []Device{}
	}
	return nonNil(resp.Devices)
}

// TransferPlayback moves playback to deviceID and starts it there.
func (c *Client) TransferPlayback(ctx context.Context, token, deviceID string) error {
	body := map[string]any{"device_ids": []string{deviceID}, "play": true}
	_, err := c.doRequest(ctx, token, "transfer", http.MethodPut, "/me/player", nil, body, nil)
	return err
}

func logAdvisory(op string, err error) {
	log.Warn().Err(err).Str("op", op).Msg("spotify advisory read failed, returning empty result")
}
