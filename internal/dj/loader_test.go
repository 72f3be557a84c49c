package dj_test

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michaelbrown/smartdj/internal/dj"
	"github.com/michaelbrown/smartdj/internal/spotify"
)

type fakeLibrary struct {
	calls atomic.Int32
	token atomic.Value
}

func (f *fakeLibrary) UserPlaylists(_ context.Context, token string, limit int) []spotify.Playlist {
	f.calls.Add(1)
	f.token.Store(token)
	return []spotify.Playlist{{ID: "p1", Name: "Morning"}}
}

func (f *fakeLibrary) TopTracks(_ context.Context, _ string, limit int, _ string) []spotify.Track {
	f.calls.Add(1)
	return []spotify.Track{{ID: "t1", Name: "One"}}
}

func (f *fakeLibrary) RecentlyPlayed(_ context.Context, _ string, limit int) []spotify.PlayHistory {
	f.calls.Add(1)
	return []spotify.PlayHistory{}
}

func TestLoadContext(t *testing.T) {
	t.Parallel()

	lib := &fakeLibrary{}
	profile := spotify.UserProfile{ID: "u1", DisplayName: "Ada"}

	lc, err := dj.LoadContext(context.Background(), lib, "tok", profile)
	require.NoError(t, err)

	assert.Equal(t, int32(3), lib.calls.Load())
	assert.Equal(t, "tok", lib.token.Load())
	assert.Equal(t, "u1", lc.Profile.ID)
	require.Len(t, lc.Playlists, 1)
	require.Len(t, lc.TopTracks, 1)
	assert.Empty(t, lc.RecentTracks)
	assert.Equal(t, []string{"t1"}, lc.SeedTrackIDs())
}

func TestLoadContext_CancelledCaller(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := dj.LoadContext(ctx, &fakeLibrary{}, "tok", spotify.UserProfile{})
	assert.ErrorIs(t, err, context.Canceled)
}
