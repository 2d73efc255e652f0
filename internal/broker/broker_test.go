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

// fakeNotifier records everything the broker emits, per handle.
type fakeNotifier struct {
	mu         sync.Mutex
	sent       map[domain.Handle][]any
	broadcasts []any
	closed     []domain.Handle
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{sent: make(map[domain.Handle][]any)}
}

func (f *fakeNotifier) Send(h domain.Handle, v any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent[h] = append(f.sent[h], v)
}

func (f *fakeNotifier) Broadcast(v any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcasts = append(f.broadcasts, v)
}

func (f *fakeNotifier) ForceClose(h domain.Handle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, h)
}

func noticeType(v any) string {
	switch n := v.(type) {
	case textNotice:
		return n.Type
	case messageNotice:
		return n.Type
	case typingNotice:
		return n.Type
	case onlineNotice:
		return n.Type
	}
	return "unknown"
}

// eventsFor lists the event names sent to one handle, in order.
func (f *fakeNotifier) eventsFor(h domain.Handle) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, v := range f.sent[h] {
		out = append(out, noticeType(v))
	}
	return out
}

func (f *fakeNotifier) lastOnlineCount() (int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.broadcasts) - 1; i >= 0; i-- {
		if n, ok := f.broadcasts[i].(onlineNotice); ok {
			return n.Count, true
		}
	}
	return 0, false
}

func newTestBroker(opts ...Option) (*Broker, *store.Memory, *fakeNotifier) {
	st := store.NewMemory()
	f := newFakeNotifier()
	return New(st, f, time.Hour, opts...), st, f
}

// search is the start event as the transport dispatches it.
func search(t *testing.T, b *Broker, h domain.Handle) {
	t.Helper()
	req := require.New(t)
	req.NoError(b.StartSearch(context.Background(), h))
	req.NoError(b.TryMatch(context.Background(), h))
}

func TestStartOrder_FirstTwoPairThirdWaits(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	b, st, f := newTestBroker()

	for _, h := range []domain.Handle{"a", "b", "c"} {
		req.NoError(b.Connect(ctx, h))
	}

	// When a, b, c search in order
	search(t, b, "a")
	search(t, b, "b")
	search(t, b, "c")

	// Then a and b share a session
	sid := domain.NewSessionID("a", "b")
	for _, h := range []domain.Handle{"a", "b"} {
		rec, err := st.Get(ctx, h)
		req.NoError(err)
		req.Equal(domain.StatusPaired, rec.Status)
		req.Equal(sid, rec.SessionID)
		req.Contains(f.eventsFor(h), EventChatStart)
	}

	// And c is still waiting
	rec, err := st.Get(ctx, "c")
	req.NoError(err)
	req.Equal(domain.StatusSearching, rec.Status)
	req.Equal([]string{EventSearching}, f.eventsFor("c"))
}

func TestRelay_MessageReachesPeerOnly(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	b, _, f := newTestBroker()

	req.NoError(b.Connect(ctx, "a"))
	req.NoError(b.Connect(ctx, "b"))
	search(t, b, "a")
	search(t, b, "b")

	req.NoError(b.Relay(ctx, "a", RelayMessage, "hi"))

	// The peer receives the message with the sender's handle.
	var got *messageNotice
	for _, v := range f.sent["b"] {
		if n, ok := v.(messageNotice); ok {
			got = &n
		}
	}
	req.NotNil(got)
	req.Equal(domain.Handle("a"), got.Handle)
	req.Equal("hi", got.Text)

	// The sender never sees its own message back.
	req.NotContains(f.eventsFor("a"), EventNewMessage)
}

func TestRelay_TypingSignals(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	b, _, f := newTestBroker()

	req.NoError(b.Connect(ctx, "a"))
	req.NoError(b.Connect(ctx, "b"))
	search(t, b, "a")
	search(t, b, "b")

	req.NoError(b.Relay(ctx, "a", RelayTyping, "h"))
	req.NoError(b.Relay(ctx, "a", RelayDoneTyping, ""))

	events := f.eventsFor("b")
	req.Contains(events, EventStrangerTyping)
	req.Contains(events, EventStrangerDoneTyping)
}

func TestRelay_FromUnpairedIsDropped(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	b, _, f := newTestBroker()

	req.NoError(b.Connect(ctx, "a"))
	req.NoError(b.Connect(ctx, "b"))
	search(t, b, "a")

	// Neither a searching handle nor a stranger to the store errors out.
	req.NoError(b.Relay(ctx, "a", RelayMessage, "hello?"))
	req.NoError(b.Relay(ctx, "ghost", RelayMessage, "boo"))

	req.NotContains(f.eventsFor("b"), EventNewMessage)
}

func TestEndSession_Idempotent(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	b, st, f := newTestBroker()

	req.NoError(b.Connect(ctx, "a"))
	req.NoError(b.Connect(ctx, "b"))
	search(t, b, "a")
	search(t, b, "b")

	req.NoError(b.EndSession(ctx, "a", ReasonStop))
	req.NoError(b.EndSession(ctx, "a", ReasonStop))

	// The peer was told exactly once.
	notices := 0
	for _, e := range f.eventsFor("b") {
		if e == EventStrangerDisconnected {
			notices++
		}
	}
	req.Equal(1, notices)

	for _, h := range []domain.Handle{"a", "b"} {
		rec, err := st.Get(ctx, h)
		req.NoError(err)
		req.Equal(domain.StatusIdle, rec.Status)
		req.Empty(rec.SessionID)
	}
}

func TestStop_PairedEndsChatAndStaysRegistered(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	b, st, f := newTestBroker()

	req.NoError(b.Connect(ctx, "a"))
	req.NoError(b.Connect(ctx, "b"))
	search(t, b, "a")
	search(t, b, "b")

	req.NoError(b.Stop(ctx, "a"))

	req.Contains(f.eventsFor("a"), EventEndChat)
	req.Contains(f.eventsFor("b"), EventStrangerDisconnected)

	rec, err := st.Get(ctx, "a")
	req.NoError(err)
	req.Equal(domain.StatusIdle, rec.Status)
}

func TestStop_UnpairedRemovesPresence(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	b, st, f := newTestBroker()

	req.NoError(b.Connect(ctx, "a"))
	req.NoError(b.Stop(ctx, "a"))

	req.Contains(f.eventsFor("a"), EventEndChat)
	_, err := st.Get(ctx, "a")
	req.ErrorIs(err, store.ErrNotFound)

	// A later start re-registers the handle and queues it again.
	search(t, b, "a")
	rec, err := st.Get(ctx, "a")
	req.NoError(err)
	req.Equal(domain.StatusSearching, rec.Status)
}

func TestDisconnect_PairedFreesPeerInOrder(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	b, st, f := newTestBroker()

	req.NoError(b.Connect(ctx, "a"))
	req.NoError(b.Connect(ctx, "b"))
	search(t, b, "a")
	search(t, b, "b")

	req.NoError(b.Disconnect(ctx, "a"))

	// goodBye precedes the session-end notice.
	req.Equal([]string{EventChatStart, EventGoodBye, EventStrangerDisconnected}, f.eventsFor("b"))

	// The departed record is gone, the peer is idle and can re-search.
	_, err := st.Get(ctx, "a")
	req.ErrorIs(err, store.ErrNotFound)
	rec, err := st.Get(ctx, "b")
	req.NoError(err)
	req.Equal(domain.StatusIdle, rec.Status)

	search(t, b, "b")
	rec, err = st.Get(ctx, "b")
	req.NoError(err)
	req.Equal(domain.StatusSearching, rec.Status)
}

func TestDisconnect_SearchingLeavesPoolImmediately(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	b, st, f := newTestBroker()

	req.NoError(b.Connect(ctx, "a"))
	req.NoError(b.Connect(ctx, "b"))
	search(t, b, "a")

	req.NoError(b.Disconnect(ctx, "a"))

	// The next searcher must not be handed the departed handle.
	search(t, b, "b")
	rec, err := st.Get(ctx, "b")
	req.NoError(err)
	req.Equal(domain.StatusSearching, rec.Status)
	req.Contains(f.eventsFor("b"), EventSearching)
}

func TestDisconnect_UnknownHandleIsNoop(t *testing.T) {
	req := require.New(t)
	b, _, _ := newTestBroker()

	// Reaper and natural disconnect racing: second cleanup finds nothing.
	req.NoError(b.Disconnect(context.Background(), "ghost"))
}

func TestStartSearch_WhilePairedRequeues(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	b, st, f := newTestBroker()

	req.NoError(b.Connect(ctx, "a"))
	req.NoError(b.Connect(ctx, "b"))
	search(t, b, "a")
	search(t, b, "b")

	// a asks for a new stranger while still chatting with b.
	search(t, b, "a")

	req.Contains(f.eventsFor("b"), EventStrangerDisconnected)
	recA, err := st.Get(ctx, "a")
	req.NoError(err)
	req.Equal(domain.StatusSearching, recA.Status)
	recB, err := st.Get(ctx, "b")
	req.NoError(err)
	req.Equal(domain.StatusIdle, recB.Status)
}

func TestConnect_BroadcastsOnlineCount(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	b, _, f := newTestBroker()

	req.NoError(b.Connect(ctx, "a"))
	req.NoError(b.Connect(ctx, "b"))

	n, ok := f.lastOnlineCount()
	req.True(ok)
	req.Equal(2, n)
}
