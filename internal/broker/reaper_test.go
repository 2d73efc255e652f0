package broker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dkeye/Mingle/internal/domain"
	"github.com/dkeye/Mingle/internal/store"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0)}
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

func TestSweep_EvictsStalePairedHandle(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()

	clk := newFakeClock()
	st := store.NewMemory(store.WithClock(clk.Now))
	f := newFakeNotifier()
	b := New(st, f, time.Hour, WithClock(clk.Now))

	// Given a and b chatting since two hours ago
	req.NoError(b.Connect(ctx, "a"))
	req.NoError(b.Connect(ctx, "b"))
	search(t, b, "a")
	search(t, b, "b")

	// And only b has been active since
	clk.Advance(2 * time.Hour)
	req.NoError(st.Touch(ctx, "b"))

	// When the reaper sweeps with a one hour threshold
	reaper := NewReaper(b, time.Hour, time.Hour)
	reaper.Sweep(ctx)

	// Then the stale side is evicted and its socket force-closed
	_, err := st.Get(ctx, "a")
	req.ErrorIs(err, store.ErrNotFound)
	req.Equal([]domain.Handle{"a"}, f.closed)

	// The peer is notified, freed, and stays connected as idle
	req.Equal([]string{EventChatStart, EventGoodBye, EventStrangerDisconnected}, f.eventsFor("b"))
	rec, err := st.Get(ctx, "b")
	req.NoError(err)
	req.Equal(domain.StatusIdle, rec.Status)

	// The online count dropped by exactly one, not two
	n, ok := f.lastOnlineCount()
	req.True(ok)
	req.Equal(1, n)
}

func TestSweep_ToleratesAlreadyGoneHandle(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()

	clk := newFakeClock()
	st := store.NewMemory(store.WithClock(clk.Now))
	f := newFakeNotifier()
	b := New(st, f, time.Hour, WithClock(clk.Now))

	req.NoError(b.Connect(ctx, "a"))
	clk.Advance(2 * time.Hour)

	// The handle disconnects naturally between listing and processing.
	stale, err := st.ListStaleBefore(ctx, clk.Now().Add(-time.Hour))
	req.Equal([]domain.Handle{"a"}, stale)
	req.NoError(err)
	req.NoError(b.Disconnect(ctx, "a"))

	reaper := NewReaper(b, time.Hour, time.Hour)
	reaper.Sweep(ctx)

	// Already-cleaned handles are skipped without error, and the sweep
	// still concludes with a count broadcast.
	n, ok := f.lastOnlineCount()
	req.True(ok)
	req.Equal(0, n)
}

func TestSweep_FreshHandlesSurvive(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()

	clk := newFakeClock()
	st := store.NewMemory(store.WithClock(clk.Now))
	f := newFakeNotifier()
	b := New(st, f, time.Hour, WithClock(clk.Now))

	req.NoError(b.Connect(ctx, "a"))
	clk.Advance(10 * time.Minute)

	reaper := NewReaper(b, time.Hour, time.Hour)
	reaper.Sweep(ctx)

	_, err := st.Get(ctx, "a")
	req.NoError(err)
	req.Empty(f.closed)
}
