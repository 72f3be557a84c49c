package dj

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/michaelbrown/smartdj/internal/llm"
	"github.com/michaelbrown/smartdj/internal/spotify"
)

// Kind names an action variant in results and history.
type Kind string

const (
	KindSearch          Kind = "search"
	KindRecommendations Kind = "get_recommendations"
	KindCreatePlaylist  Kind = "create_playlist"
	KindControlPlayback Kind = "control_playback"
	KindAddToQueue      Kind = "add_to_queue"
)

// Function names the model calls.
const (
	FuncSearch          = "spotify_search"
	FuncRecommendations = "get_recommendations"
	FuncCreatePlaylist  = "create_playlist"
	FuncControlPlayback = "control_playback"
	FuncAddToQueue      = "add_to_queue"
)

const (
	defaultSearchLimit  = 10
	maxSearchLimit      = 50
	defaultRecsLimit    = 10
	maxRecsLimit        = 100
	defaultPlaylistDesc = "Created by Smart DJ AI"
)

// Playback operations accepted by control_playback.
const (
	OpPlay     = "play"
	OpPause    = "pause"
	OpNext     = "next"
	OpPrevious = "previous"
	OpVolume   = "volume"
	OpShuffle  = "shuffle"
	OpRepeat   = "repeat"
)

var (
	ErrInvalidAction   = errors.New("dj: invalid action")
	ErrUnknownFunction = errors.New("dj: unknown function")
)

// Action is one validated instruction derived from a model function call.
type Action interface {
	Kind() Kind
	Validate() error
}

type SearchAction struct {
	Query     string            `json:"query"`
	MediaType spotify.MediaType `json:"type"`
	Limit     int               `json:"limit,omitempty"`
}

func (SearchAction) Kind() Kind { return KindSearch }

func (a SearchAction) Validate() error {
	if strings.TrimSpace(a.Query) == "" {
		return invalid("search: query is required")
	}
	if !a.MediaType.Valid() {
		return invalid("search: unsupported type %q", a.MediaType)
	}
	if a.Limit < 1 || a.Limit > maxSearchLimit {
		return invalid("search: limit %d outside 1..%d", a.Limit, maxSearchLimit)
	}
	return nil
}

type RecommendationsAction struct {
	SeedTracks    []string `json:"seed_tracks,omitempty"`
	SeedArtists   []string `json:"seed_artists,omitempty"`
	TargetEnergy  *float64 `json:"target_energy,omitempty"`
	TargetValence *float64 `json:"target_valence,omitempty"`
	Limit         int      `json:"limit,omitempty"`
}

func (RecommendationsAction) Kind() Kind { return KindRecommendations }

func (a RecommendationsAction) Validate() error {
	if err := checkUnit("target_energy", a.TargetEnergy); err != nil {
		return err
	}
	if err := checkUnit("target_valence", a.TargetValence); err != nil {
		return err
	}
	if a.Limit < 1 || a.Limit > maxRecsLimit {
		return invalid("get_recommendations: limit %d outside 1..%d", a.Limit, maxRecsLimit)
	}
	if err := checkIDs("seed_tracks", a.SeedTracks); err != nil {
		return err
	}
	return checkIDs("seed_artists", a.SeedArtists)
}

type CreatePlaylistAction struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	TrackIDs    []string `json:"track_ids,omitempty"`
}

func (CreatePlaylistAction) Kind() Kind { return KindCreatePlaylist }

func (a CreatePlaylistAction) Validate() error {
	if strings.TrimSpace(a.Name) == "" {
		return invalid("create_playlist: name is required")
	}
	return checkIDs("track_ids", a.TrackIDs)
}

type ControlPlaybackAction struct {
	Operation    string             `json:"action"`
	TrackID      string             `json:"track_id,omitempty"`
	PlaylistID   string             `json:"playlist_id,omitempty"`
	Volume       *int               `json:"volume,omitempty"`
	ShuffleState *bool              `json:"shuffle,omitempty"`
	RepeatMode   spotify.RepeatMode `json:"repeat_state,omitempty"`
}

func (ControlPlaybackAction) Kind() Kind { return KindControlPlayback }

func (a ControlPlaybackAction) Validate() error {
	switch a.Operation {
	case OpPlay, OpPause, OpNext, OpPrevious:
		return nil
	case OpVolume:
		if a.Volume == nil {
			return invalid("control_playback: volume is required")
		}
		if *a.Volume < 0 || *a.Volume > 100 {
			return invalid("control_playback: volume %d outside 0..100", *a.Volume)
		}
		return nil
	case OpShuffle:
		if a.ShuffleState == nil {
			return invalid("control_playback: shuffle state is required")
		}
		return nil
	case OpRepeat:
		if !a.RepeatMode.Valid() {
			return invalid("control_playback: unsupported repeat mode %q", a.RepeatMode)
		}
		return nil
	case "":
		return invalid("control_playback: action is required")
	default:
		return invalid("control_playback: unsupported action %q", a.Operation)
	}
}

type AddToQueueAction struct {
	TrackIDs []string `json:"track_ids"`
}

func (AddToQueueAction) Kind() Kind { return KindAddToQueue }

func (a AddToQueueAction) Validate() error {
	if len(a.TrackIDs) == 0 {
		return invalid("add_to_queue: track_ids is required")
	}
	return checkIDs("track_ids", a.TrackIDs)
}

// ActionRecord is the serialized form of an attempted action.
type ActionRecord struct {
	Type Kind   `json:"type"`
	Data Action `json:"data"`
}

// Records converts actions for output.
func Records(actions []Action) []ActionRecord {
	out := make([]ActionRecord, 0, len(actions))
	for _, a := range actions {
		out = append(out, ActionRecord{Type: a.Kind(), Data: a})
	}
	return out
}

// ParseToolCall decodes a model function call into a validated Action.
// Arguments must match the variant's fields exactly; syntactically broken
// JSON is repaired once before giving up.
func ParseToolCall(tc llm.ToolCall) (Action, error) {
	var action Action
	switch tc.Name {
	case FuncSearch:
		a := SearchAction{}
		if err := decodeArgs(tc.Arguments, &a); err != nil {
			return nil, err
		}
		if a.MediaType == "" {
			a.MediaType = spotify.MediaTrack
		}
		if a.Limit == 0 {
			a.Limit = defaultSearchLimit
		}
		action = a
	case FuncRecommendations:
		a := RecommendationsAction{}
		if err := decodeArgs(tc.Arguments, &a); err != nil {
			return nil, err
		}
		if a.Limit == 0 {
			a.Limit = defaultRecsLimit
		}
		action = a
	case FuncCreatePlaylist:
		a := CreatePlaylistAction{}
		if err := decodeArgs(tc.Arguments, &a); err != nil {
			return nil, err
		}
		action = a
	case FuncControlPlayback:
		a := ControlPlaybackAction{}
		if err := decodeArgs(tc.Arguments, &a); err != nil {
			return nil, err
		}
		action = a
	case FuncAddToQueue:
		a := AddToQueueAction{}
		if err := decodeArgs(tc.Arguments, &a); err != nil {
			return nil, err
		}
		action = a
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFunction, tc.Name)
	}

	if err := action.Validate(); err != nil {
		return nil, err
	}
	return action, nil
}

func decodeArgs(raw string, dst any) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		raw = "{}"
	}
	err := strictDecode(raw, dst)
	if err == nil {
		return nil
	}
	if !repairable(err) {
		return fmt.Errorf("%w: %v", ErrInvalidAction, err)
	}

	repaired, repairErr := jsonrepair.JSONRepair(raw)
	if repairErr != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAction, err)
	}
	if err := strictDecode(repaired, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAction, err)
	}
	return nil
}

var errTrailingData = errors.New("trailing data after arguments")

func strictDecode(raw string, dst any) error {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if dec.More() {
		return errTrailingData
	}
	return nil
}

// repairable reports whether err is a syntax problem rather than a schema
// mismatch. Unknown fields and wrong types are never repaired.
func repairable(err error) bool {
	var syntaxErr *json.SyntaxError
	return errors.As(err, &syntaxErr) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, errTrailingData)
}

func checkUnit(name string, v *float64) error {
	if v != nil && (*v < 0 || *v > 1) {
		return invalid("%s %.2f outside 0..1", name, *v)
	}
	return nil
}

func checkIDs(name string, ids []string) error {
	for _, id := range ids {
		if strings.TrimSpace(id) == "" {
			return invalid("%s contains an empty id", name)
		}
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidAction, fmt.Sprintf(format, args...))
}
