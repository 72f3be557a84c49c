package spotify

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrMissingToken is returned before any request is sent without an access token.
	ErrMissingToken = errors.New("spotify: missing access token")
	// ErrNoProfile is returned when an operation needs the user's Spotify id and none is known.
	ErrNoProfile = errors.New("spotify: user profile id unknown")
)

// reasonNoActiveDevice is the upstream reason code for commands sent with no player open.
const reasonNoActiveDevice = "NO_ACTIVE_DEVICE"

// UpstreamError reports a command the Spotify Web API rejected or never answered.
type UpstreamError struct {
	Op         string
	StatusCode int
	Reason     string
	Message    string
	Err        error
}

func (e *UpstreamError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("spotify %s: %v", e.Op, e.Err)
	case e.Message != "":
		return fmt.Sprintf("spotify %s: status %d: %s", e.Op, e.StatusCode, e.Message)
	default:
		return fmt.Sprintf("spotify %s: status %d", e.Op, e.StatusCode)
	}
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Timeout reports whether the call was abandoned because its deadline passed.
func (e *UpstreamError) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}

// NoActiveDevice reports whether the upstream rejected the command because no device is playing.
func (e *UpstreamError) NoActiveDevice() bool {
	return e.Reason == reasonNoActiveDevice
}

// AsUpstream unwraps err into an *UpstreamError when it is one.
func AsUpstream(err error) (*UpstreamError, bool) {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}
