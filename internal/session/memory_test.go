package session_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michaelbrown/smartdj/internal/session"
	"github.com/michaelbrown/smartdj/internal/spotify"
)

// fakeClock is a settable clock safe for concurrent reads.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newSession(userID, token string, expiresAt time.Time) session.Session {
	return session.Session{
		UserID:       userID,
		AccessToken:  token,
		RefreshToken: "refresh-" + userID,
		ExpiresAt:    expiresAt,
		Profile:      spotify.UserProfile{ID: userID, DisplayName: "User " + userID},
	}
}

func TestMemoryStore_GetHonoursExpiry(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	store := session.NewMemoryStore(session.WithClock(clock.Now))
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, newSession("u1", "tok", clock.Now().Add(time.Hour))))

	got, err := store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "tok", got.AccessToken)
	assert.Equal(t, "User u1", got.Profile.DisplayName)

	// Exactly at expiry the session is no longer valid.
	clock.Advance(time.Hour)

	_, err = store.Get(ctx, "u1")
	assert.True(t, errors.Is(err, session.ErrExpired))
	assert.True(t, session.ReauthRequired(err))

	// The expired entry was evicted, so a second lookup reports plain absence.
	_, err = store.Get(ctx, "u1")
	assert.True(t, errors.Is(err, session.ErrAbsent))
	assert.False(t, errors.Is(err, session.ErrExpired))

	active, err := store.ListActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestMemoryStore_GetMissing(t *testing.T) {
	t.Parallel()

	store := session.NewMemoryStore()
	got, err := store.Get(context.Background(), "nobody")
	assert.Nil(t, got)
	assert.True(t, session.ReauthRequired(err))
}

func TestMemoryStore_PutOverwrites(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	store := session.NewMemoryStore(session.WithClock(clock.Now))
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, newSession("u1", "first", clock.Now().Add(time.Hour))))
	require.NoError(t, store.Put(ctx, newSession("u1", "second", clock.Now().Add(2*time.Hour))))

	active, err := store.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "second", active[0].AccessToken)
	assert.Equal(t, clock.Now().Add(2*time.Hour), active[0].ExpiresAt)
}

func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	t.Parallel()

	store := session.NewMemoryStore()
	ctx := context.Background()
	in := newSession("u1", "tok", time.Now().Add(time.Hour))
	in.Profile.Images = []spotify.Image{{URL: "https://img.test/a.jpg"}}
	require.NoError(t, store.Put(ctx, in))
	in.Profile.Images[0].URL = "changed-after-put"

	got, err := store.Get(ctx, "u1")
	require.NoError(t, err)
	got.AccessToken = "mutated"
	got.Profile.Images[0].URL = "changed-after-get"

	active, err := store.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	active[0].Profile.Images[0].URL = "changed-after-list"

	again, err := store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "tok", again.AccessToken)
	assert.Equal(t, "https://img.test/a.jpg", again.Profile.Images[0].URL)
}

func TestMemoryStore_Delete(t *testing.T) {
	t.Parallel()

	store := session.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, newSession("u1", "tok", time.Now().Add(time.Hour))))

	require.NoError(t, store.Delete(ctx, "u1"))
	require.NoError(t, store.Delete(ctx, "u1"), "delete is idempotent")

	_, err := store.Get(ctx, "u1")
	assert.True(t, errors.Is(err, session.ErrAbsent))
}

func TestMemoryStore_Refresh(t *testing.T) {
	t.Parallel()

	t.Run("unknown user", func(t *testing.T) {
		t.Parallel()

		store := session.NewMemoryStore()
		ctx := context.Background()

		ok, err := store.Refresh(ctx, "ghost", "new", time.Now().Add(time.Hour))
		require.NoError(t, err)
		assert.False(t, ok)

		active, err := store.ListActive(ctx)
		require.NoError(t, err)
		assert.Empty(t, active, "refresh must not create a session")
	})

	t.Run("existing user", func(t *testing.T) {
		t.Parallel()

		clock := newFakeClock()
		store := session.NewMemoryStore(session.WithClock(clock.Now))
		ctx := context.Background()
		require.NoError(t, store.Put(ctx, newSession("u1", "old", clock.Now().Add(time.Minute))))

		newExpiry := clock.Now().Add(time.Hour)
		ok, err := store.Refresh(ctx, "u1", "new", newExpiry)
		require.NoError(t, err)
		assert.True(t, ok)

		clock.Advance(30 * time.Minute)
		got, err := store.Get(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, "new", got.AccessToken)
		assert.Equal(t, "refresh-u1", got.RefreshToken)
		assert.Equal(t, newExpiry, got.ExpiresAt)
	})

	t.Run("expired user", func(t *testing.T) {
		t.Parallel()

		clock := newFakeClock()
		store := session.NewMemoryStore(session.WithClock(clock.Now))
		ctx := context.Background()
		require.NoError(t, store.Put(ctx, newSession("u1", "old", clock.Now().Add(time.Minute))))
		clock.Advance(2 * time.Minute)

		ok, err := store.Refresh(ctx, "u1", "new", clock.Now().Add(time.Hour))
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestMemoryStore_Rotate(t *testing.T) {
	t.Parallel()

	t.Run("replaces both tokens", func(t *testing.T) {
		t.Parallel()

		store := session.NewMemoryStore()
		ctx := context.Background()
		require.NoError(t, store.Put(ctx, newSession("u1", "old", time.Now().Add(time.Minute))))

		newExpiry := time.Now().Add(time.Hour)
		ok, err := store.Rotate(ctx, "u1", "new", "refresh-new", newExpiry)
		require.NoError(t, err)
		assert.True(t, ok)

		got, err := store.Get(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, "new", got.AccessToken)
		assert.Equal(t, "refresh-new", got.RefreshToken)
		assert.Equal(t, "User u1", got.Profile.DisplayName)
	})

	t.Run("does not resurrect a deleted session", func(t *testing.T) {
		t.Parallel()

		store := session.NewMemoryStore()
		ctx := context.Background()
		require.NoError(t, store.Put(ctx, newSession("u1", "old", time.Now().Add(time.Minute))))
		require.NoError(t, store.Delete(ctx, "u1"))

		ok, err := store.Rotate(ctx, "u1", "new", "refresh-new", time.Now().Add(time.Hour))
		require.NoError(t, err)
		assert.False(t, ok)

		_, err = store.Get(ctx, "u1")
		assert.ErrorIs(t, err, session.ErrAbsent)
	})
}

func TestMemoryStore_ListActiveAndSweep(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	store := session.NewMemoryStore(session.WithClock(clock.Now))
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, newSession("b", "t", clock.Now().Add(time.Hour))))
	require.NoError(t, store.Put(ctx, newSession("a", "t", clock.Now().Add(time.Hour))))
	require.NoError(t, store.Put(ctx, newSession("c", "t", clock.Now().Add(time.Minute))))
	require.NoError(t, store.Put(ctx, newSession("d", "t", clock.Now().Add(time.Minute))))

	clock.Advance(5 * time.Minute)
	assert.Equal(t, 2, store.Sweep())

	active, err := store.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "a", active[0].UserID)
	assert.Equal(t, "b", active[1].UserID)
}

func TestMemoryStore_Janitor(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	store := session.NewMemoryStore(session.WithClock(clock.Now))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, store.Put(ctx, newSession("u1", "t", clock.Now().Add(time.Second))))
	clock.Advance(time.Minute)
	require.Equal(t, 1, store.Len())
	store.StartJanitor(ctx, 5*time.Millisecond)

	assert.Eventually(t, func() bool { return store.Len() == 0 }, time.Second, 10*time.Millisecond)
}

func TestMemoryStore_Concurrent(t *testing.T) {
	t.Parallel()

	store := session.NewMemoryStore()
	ctx := context.Background()
	expires := time.Now().Add(time.Hour)

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("user-%d", i%5)
			_ = store.Put(ctx, newSession(id, fmt.Sprintf("tok-%d", i), expires))
			if s, err := store.Get(ctx, id); err == nil {
				assert.Equal(t, id, s.UserID)
			}
			_, _ = store.Refresh(ctx, id, "refreshed", expires)
			if i%7 == 0 {
				_ = store.Delete(ctx, id)
			}
			_, _ = store.ListActive(ctx)
		}(i)
	}
	wg.Wait()

	active, err := store.ListActive(ctx)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(active), 5)
}

func TestSessionView(t *testing.T) {
	t.Parallel()

	s := newSession("u1", "secret-token", time.Now().Add(time.Hour))
	v := s.View()
	assert.Equal(t, "u1", v.UserID)
	assert.Equal(t, "User u1", v.DisplayName)
	assert.True(t, v.HasRefreshToken)
}
