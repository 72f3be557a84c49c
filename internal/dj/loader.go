package dj

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/michaelbrown/smartdj/internal/spotify"
)

// Sizes of the library reads that make up a listening context.
const (
	ContextPlaylists = 20
	ContextTopTracks = 20
	ContextRecent    = 10
)

// LibraryReader is the subset of the gateway used to build a listening context.
type LibraryReader interface {
	UserPlaylists(ctx context.Context, token string, limit int) []spotify.Playlist
	TopTracks(ctx context.Context, token string, limit int, timeRange string) []spotify.Track
	RecentlyPlayed(ctx context.Context, token string, limit int) []spotify.PlayHistory
}

// LoadContext reads the user's playlists, top tracks and recent plays in
// parallel. The reads are advisory, so a failed read leaves its list empty.
func LoadContext(ctx context.Context, r LibraryReader, token string, profile spotify.UserProfile) (ListeningContext, error) {
	lc := ListeningContext{Profile: profile}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lc.Playlists = r.UserPlaylists(gctx, token, ContextPlaylists)
		return nil
	})
	g.Go(func() error {
		lc.TopTracks = r.TopTracks(gctx, token, ContextTopTracks, "")
		return nil
	})
	g.Go(func() error {
		lc.RecentTracks = r.RecentlyPlayed(gctx, token, ContextRecent)
		return nil
	})
	if err := g.Wait(); err != nil {
		return ListeningContext{}, err
	}
	// The reads swallow their own errors, so report a caller cancellation here.
	return lc, ctx.Err()
}
