// Package dj is the orchestration engine: it turns one chat message plus a
// listening-context snapshot into a reply and at most one dispatched action.
package dj

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/michaelbrown/smartdj/internal/llm"
	"github.com/michaelbrown/smartdj/internal/spotify"
)

const (
	FallbackReply = "I'd be happy to help you with your music!"
	FailureReply  = "Sorry, I'm having trouble processing your request right now. Please try again!"

	defaultModelTimeout     = 30 * time.Second
	defaultMaxContextTokens = 1500
)

// Failure classifies a degraded turn.
type Failure string

const (
	FailureNone          Failure = ""
	FailureModel         Failure = "model"
	FailureInvalidAction Failure = "invalid_action"
)

// Action result statuses and error kinds.
const (
	StatusOK    = "ok"
	StatusError = "error"

	ErrorKindUpstream       = "upstream"
	ErrorKindMissingProfile = "missing_profile"
	ErrorKindUnsupported    = "unsupported"
)

// Gateway is the subset of the playback gateway the engine dispatches to.
type Gateway interface {
	PlayTrack(ctx context.Context, token, trackID, deviceID string) error
	PlayPlaylist(ctx context.Context, token, playlistID, deviceID string) error
	Resume(ctx context.Context, token, deviceID string) error
	Pause(ctx context.Context, token, deviceID string) error
	SkipNext(ctx context.Context, token, deviceID string) error
	SkipPrevious(ctx context.Context, token, deviceID string) error
	SetVolume(ctx context.Context, token string, percent int, deviceID string) error
	SetShuffle(ctx context.Context, token string, enabled bool, deviceID string) error
	SetRepeat(ctx context.Context, token string, mode spotify.RepeatMode, deviceID string) error
	Enqueue(ctx context.Context, token, trackID, deviceID string) error
	Search(ctx context.Context, token, query string, types []spotify.MediaType, limit int) spotify.SearchResults
	Recommendations(ctx context.Context, token string, seeds spotify.Seeds, target spotify.TargetFeatures, limit int) []spotify.Track
	CreatePlaylist(ctx context.Context, token, ownerID, name, description string, public bool) (*spotify.Playlist, error)
	AddTracksToPlaylist(ctx context.Context, token, playlistID string, uris []string) error
}

// Request is one chat turn.
type Request struct {
	UserID      string           `json:"user_id"`
	Message     string           `json:"message"`
	AccessToken string           `json:"-"`
	Persona     string           `json:"persona,omitempty"`
	Context     ListeningContext `json:"context"`
}

// Result is the engine's reply to one turn.
type Result struct {
	Message string         `json:"message"`
	Persona string         `json:"persona"`
	Actions []ActionRecord `json:"actions"`
	Results []ActionResult `json:"results"`
	Failure Failure        `json:"-"`
}

// ActionResult is the outcome of one dispatched action. Failed actions carry
// Status "error" and no Data.
type ActionResult struct {
	Action       Kind   `json:"action"`
	ActionDetail string `json:"action_detail,omitempty"`
	Status       string `json:"status"`
	Message      string `json:"message,omitempty"`
	ErrorKind    string `json:"error_kind,omitempty"`
	Error        string `json:"error,omitempty"`
	Data         any    `json:"data,omitempty"`
}

// OK reports whether the action was accepted upstream.
func (r ActionResult) OK() bool { return r.Status == StatusOK }

// Engine runs chat turns. It holds no per-user state and is safe for
// concurrent use.
type Engine struct {
	llm              llm.Client
	gateway          Gateway
	personas         map[string]Persona
	defaultPersona   string
	modelTimeout     time.Duration
	maxContextTokens int
	metrics          *Metrics
}

type Option func(*Engine)

// WithPersonas replaces the built-in persona set.
func WithPersonas(p map[string]Persona) Option {
	return func(e *Engine) {
		if len(p) > 0 {
			e.personas = p
		}
	}
}

func WithDefaultPersona(name string) Option {
	return func(e *Engine) {
		if name != "" {
			e.defaultPersona = name
		}
	}
}

// WithModelTimeout bounds the model call; a timeout takes the failure path.
func WithModelTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.modelTimeout = d
		}
	}
}

func WithMaxContextTokens(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxContextTokens = n
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New creates an Engine.
func New(client llm.Client, gateway Gateway, opts ...Option) *Engine {
	e := &Engine{
		llm:              client,
		gateway:          gateway,
		personas:         BuiltinPersonas(),
		defaultPersona:   DefaultPersona,
		modelTimeout:     defaultModelTimeout,
		maxContextTokens: defaultMaxContextTokens,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Personas returns the names of the configured personas.
func (e *Engine) Personas() []string { return PersonaNames(e.personas) }

// Respond runs one turn. It never fails: model errors produce FailureReply
// with no actions, and dispatch errors are reported per action.
func (e *Engine) Respond(ctx context.Context, req Request) *Result {
	persona := e.persona(req.Persona)
	messages := []llm.Message{
		llm.SystemMessage(systemPrompt(persona, req.Context.Summary(e.maxContextTokens))),
		llm.UserMessage(req.Message),
	}

	resp, err := e.invokeModel(ctx, messages)
	if err != nil {
		log.Warn().Err(err).Str("user", req.UserID).Msg("dj model invocation failed")
		e.metrics.incTurn(string(FailureModel))
		return &Result{
			Message: FailureReply,
			Persona: persona.Name,
			Actions: []ActionRecord{},
			Results: []ActionResult{},
			Failure: FailureModel,
		}
	}

	result := &Result{
		Message: strings.TrimSpace(resp.Message.Content),
		Persona: persona.Name,
		Actions: []ActionRecord{},
		Results: []ActionResult{},
	}

	var actions []Action
	if calls := resp.Message.ToolCalls; len(calls) > 0 {
		if len(calls) > 1 {
			log.Debug().Int("calls", len(calls)).Str("user", req.UserID).Msg("dj ignoring extra function calls")
		}
		action, err := ParseToolCall(calls[0])
		if err != nil {
			log.Info().Err(err).Str("user", req.UserID).Str("function", calls[0].Name).Msg("dj dropped invalid action")
			result.Failure = FailureInvalidAction
		} else {
			actions = append(actions, action)
		}
	}

	if len(actions) > 0 {
		result.Actions = Records(actions)
		result.Results = e.Dispatch(ctx, req.AccessToken, actions, req.Context)
	}

	if result.Message == "" {
		result.Message = FallbackReply
	}

	outcome := "ok"
	if result.Failure != FailureNone {
		outcome = string(result.Failure)
	}
	e.metrics.incTurn(outcome)
	return result
}

func (e *Engine) invokeModel(ctx context.Context, messages []llm.Message) (*llm.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, e.modelTimeout)
	defer cancel()

	start := time.Now()
	resp, err := e.llm.ChatCompletion(ctx, messages, ToolDefs())
	e.metrics.observeModel(time.Since(start))
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, llm.ErrNoChoices
	}
	return resp, nil
}

func (e *Engine) persona(name string) Persona {
	if p, ok := e.personas[name]; ok {
		return p
	}
	if p, ok := e.personas[e.defaultPersona]; ok {
		return p
	}
	return BuiltinPersonas()[DefaultPersona]
}

// Dispatch executes actions in order. A failed action is reported in its
// result and does not stop the remaining ones.
func (e *Engine) Dispatch(ctx context.Context, token string, actions []Action, lc ListeningContext) []ActionResult {
	results := make([]ActionResult, 0, len(actions))
	for _, a := range actions {
		r := e.dispatch(ctx, token, a, lc)
		e.metrics.incAction(r.Action, r.Status)
		if !r.OK() {
			log.Warn().Str("action", string(r.Action)).Str("detail", r.ActionDetail).
				Str("kind", r.ErrorKind).Str("error", r.Error).Msg("dj action failed")
		}
		results = append(results, r)
	}
	return results
}

func (e *Engine) dispatch(ctx context.Context, token string, action Action, lc ListeningContext) ActionResult {
	switch a := action.(type) {
	case SearchAction:
		res := e.gateway.Search(ctx, token, a.Query, []spotify.MediaType{a.MediaType}, a.Limit)
		return ActionResult{
			Action:       KindSearch,
			ActionDetail: string(a.MediaType),
			Status:       StatusOK,
			Message:      fmt.Sprintf("Found %d results for %q", res.Len(), a.Query),
			Data:         res.Items(a.MediaType),
		}

	case RecommendationsAction:
		seeds := spotify.Seeds{Tracks: a.SeedTracks, Artists: a.SeedArtists}
		if seeds.Len() == 0 {
			seeds.Tracks = lc.SeedTrackIDs()
		}
		target := spotify.TargetFeatures{Energy: a.TargetEnergy, Valence: a.TargetValence}
		tracks := e.gateway.Recommendations(ctx, token, seeds, target, a.Limit)
		return ActionResult{
			Action:  KindRecommendations,
			Status:  StatusOK,
			Message: fmt.Sprintf("Found %d recommendations", len(tracks)),
			Data:    tracks,
		}

	case CreatePlaylistAction:
		return e.createPlaylist(ctx, token, a, lc)

	case ControlPlaybackAction:
		return e.controlPlayback(ctx, token, a)

	case AddToQueueAction:
		for i, id := range a.TrackIDs {
			if err := e.gateway.Enqueue(ctx, token, id, ""); err != nil {
				r := failed(KindAddToQueue, "", err)
				r.Message = fmt.Sprintf("Queued %d of %d tracks", i, len(a.TrackIDs))
				return r
			}
		}
		return ActionResult{
			Action:  KindAddToQueue,
			Status:  StatusOK,
			Message: fmt.Sprintf("Added %d tracks to queue", len(a.TrackIDs)),
		}

	default:
		return ActionResult{
			Action:    action.Kind(),
			Status:    StatusError,
			ErrorKind: ErrorKindUnsupported,
			Error:     fmt.Sprintf("unsupported action %T", action),
		}
	}
}

func (e *Engine) createPlaylist(ctx context.Context, token string, a CreatePlaylistAction, lc ListeningContext) ActionResult {
	desc := a.Description
	if desc == "" {
		desc = defaultPlaylistDesc
	}
	p, err := e.gateway.CreatePlaylist(ctx, token, lc.Profile.ID, a.Name, desc, false)
	if err != nil {
		return failed(KindCreatePlaylist, a.Name, err)
	}
	if len(a.TrackIDs) > 0 {
		uris := make([]string, len(a.TrackIDs))
		for i, id := range a.TrackIDs {
			uris[i] = spotify.TrackURI(id)
		}
		if err := e.gateway.AddTracksToPlaylist(ctx, token, p.ID, uris); err != nil {
			r := failed(KindCreatePlaylist, a.Name, err)
			r.Message = fmt.Sprintf("Created playlist %q but could not add tracks", p.Name)
			return r
		}
	}
	return ActionResult{
		Action:       KindCreatePlaylist,
		ActionDetail: a.Name,
		Status:       StatusOK,
		Message:      fmt.Sprintf("Created playlist %q with %d tracks", p.Name, len(a.TrackIDs)),
		Data:         p,
	}
}

func (e *Engine) controlPlayback(ctx context.Context, token string, a ControlPlaybackAction) ActionResult {
	var (
		err error
		msg string
	)
	switch a.Operation {
	case OpPlay:
		switch {
		case a.TrackID != "":
			msg = "Playing track"
			err = e.gateway.PlayTrack(ctx, token, a.TrackID, "")
		case a.PlaylistID != "":
			msg = "Playing playlist"
			err = e.gateway.PlayPlaylist(ctx, token, a.PlaylistID, "")
		default:
			msg = "Resuming playback"
			err = e.gateway.Resume(ctx, token, "")
		}
	case OpPause:
		msg = "Playback paused"
		err = e.gateway.Pause(ctx, token, "")
	case OpNext:
		msg = "Skipped to next track"
		err = e.gateway.SkipNext(ctx, token, "")
	case OpPrevious:
		msg = "Skipped to previous track"
		err = e.gateway.SkipPrevious(ctx, token, "")
	case OpVolume:
		msg = fmt.Sprintf("Volume set to %d%%", *a.Volume)
		err = e.gateway.SetVolume(ctx, token, *a.Volume, "")
	case OpShuffle:
		state := "disabled"
		if *a.ShuffleState {
			state = "enabled"
		}
		msg = "Shuffle " + state
		err = e.gateway.SetShuffle(ctx, token, *a.ShuffleState, "")
	case OpRepeat:
		msg = "Repeat set to " + string(a.RepeatMode)
		err = e.gateway.SetRepeat(ctx, token, a.RepeatMode, "")
	default:
		return ActionResult{
			Action:       KindControlPlayback,
			ActionDetail: a.Operation,
			Status:       StatusError,
			ErrorKind:    ErrorKindUnsupported,
			Error:        "unsupported playback action",
		}
	}

	if err != nil {
		return failed(KindControlPlayback, a.Operation, err)
	}
	return ActionResult{
		Action:       KindControlPlayback,
		ActionDetail: a.Operation,
		Status:       StatusOK,
		Message:      msg,
	}
}

func failed(kind Kind, detail string, err error) ActionResult {
	r := ActionResult{
		Action:       kind,
		ActionDetail: detail,
		Status:       StatusError,
		ErrorKind:    ErrorKindUpstream,
		Error:        err.Error(),
	}
	if errors.Is(err, spotify.ErrNoProfile) {
		r.ErrorKind = ErrorKindMissingProfile
		r.Error = "user profile is not available"
	}
	if ue, ok := spotify.AsUpstream(err); ok && ue.NoActiveDevice() {
		r.Error = "no active Spotify device"
	}
	return r
}
