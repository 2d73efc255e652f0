package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dkeye/Mingle/internal/domain"
)

type fakeConn struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
	reject bool
}

func (c *fakeConn) TrySend(b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reject {
		return errors.New("backpressure")
	}
	c.frames = append(c.frames, b)
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func TestHub_SendMarshalsToBoundConn(t *testing.T) {
	req := require.New(t)
	h := New()
	conn := &fakeConn{}
	h.Bind("a", conn, nil)

	h.Send("a", map[string]string{"type": "searching"})

	req.Len(conn.frames, 1)
	var got map[string]string
	req.NoError(json.Unmarshal(conn.frames[0], &got))
	req.Equal("searching", got["type"])
}

func TestHub_SendToUnboundIsDropped(t *testing.T) {
	h := New()
	// Must not panic; the peer may already be gone.
	h.Send("ghost", map[string]string{"type": "goodBye"})
}

func TestHub_BroadcastReachesEveryConn(t *testing.T) {
	req := require.New(t)
	h := New()
	conns := map[domain.Handle]*fakeConn{
		"a": {}, "b": {}, "c": {},
	}
	for handle, c := range conns {
		h.Bind(handle, c, nil)
	}
	req.Equal(3, h.Count())

	h.Broadcast(map[string]int{"count": 3})

	for handle, c := range conns {
		req.Len(c.frames, 1, "handle %s", handle)
	}
}

func TestHub_BackpressureDoesNotStopBroadcast(t *testing.T) {
	req := require.New(t)
	h := New()
	slow := &fakeConn{reject: true}
	fast := &fakeConn{}
	h.Bind("slow", slow, nil)
	h.Bind("fast", fast, nil)

	h.Broadcast(map[string]int{"count": 2})

	req.Empty(slow.frames)
	req.Len(fast.frames, 1)
}

func TestHub_ForceCloseCancelsAndCloses(t *testing.T) {
	req := require.New(t)
	h := New()
	conn := &fakeConn{}
	ctx, cancel := context.WithCancel(context.Background())
	h.Bind("a", conn, cancel)

	h.ForceClose("a")

	req.True(conn.closed)
	req.Error(ctx.Err())

	// Unknown handles are ignored.
	h.ForceClose("ghost")
}

func TestHub_UnbindRemovesConn(t *testing.T) {
	req := require.New(t)
	h := New()
	conn := &fakeConn{}
	h.Bind("a", conn, nil)
	h.Unbind("a")

	req.Equal(0, h.Count())
	h.Send("a", map[string]string{"type": "endChat"})
	req.Empty(conn.frames)
}
