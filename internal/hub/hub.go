// Package hub tracks live transport connections by handle and fans
// broker notices out to them. It is the only bridge from the broker
// back to the websocket layer.
package hub

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Mingle/internal/domain"
)

// Conn abstracts a participant's outbound channel.
// Owned by the adapter; the adapter must Close() it.
type Conn interface {
	TrySend([]byte) error
	Close()
}

type entry struct {
	conn   Conn
	cancel context.CancelFunc
}

type Hub struct {
	mu    sync.RWMutex
	conns map[domain.Handle]*entry
}

func New() *Hub {
	return &Hub{conns: make(map[domain.Handle]*entry)}
}

func (h *Hub) Bind(handle domain.Handle, conn Conn, cancel context.CancelFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[handle] = &entry{conn: conn, cancel: cancel}
	log.Info().Str("module", "hub").Str("handle", string(handle)).Msg("bound connection")
}

func (h *Hub) Unbind(handle domain.Handle) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, handle)
	log.Info().Str("module", "hub").Str("handle", string(handle)).Msg("unbound connection")
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Send marshals v and pushes it to one handle. Unknown handles and
// backpressure drops are logged, not surfaced: the broker never waits
// on a receiver.
func (h *Hub) Send(handle domain.Handle, v any) {
	h.mu.RLock()
	e, ok := h.conns[handle]
	h.mu.RUnlock()
	if !ok {
		log.Debug().Str("module", "hub").Str("handle", string(handle)).Msg("send to unbound handle")
		return
	}
	h.push(handle, e.conn, v)
}

// Broadcast pushes v to every bound connection.
func (h *Hub) Broadcast(v any) {
	h.mu.RLock()
	snapshot := make(map[domain.Handle]Conn, len(h.conns))
	for handle, e := range h.conns {
		snapshot[handle] = e.conn
	}
	h.mu.RUnlock()

	for handle, conn := range snapshot {
		h.push(handle, conn, v)
	}
}

// ForceClose cancels the connection's context and closes the socket.
// Used by the reaper; the read pump then runs its normal teardown.
func (h *Hub) ForceClose(handle domain.Handle) {
	h.mu.RLock()
	e, ok := h.conns[handle]
	h.mu.RUnlock()
	if !ok {
		return
	}
	if e.cancel != nil {
		e.cancel()
	}
	e.conn.Close()
	log.Info().Str("module", "hub").Str("handle", string(handle)).Msg("force closed")
}

func (h *Hub) push(handle domain.Handle, conn Conn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "hub").Msg("marshal notice")
		return
	}
	if err := conn.TrySend(b); err != nil {
		log.Warn().Err(err).Str("module", "hub").Str("handle", string(handle)).Msg("dropped notice")
	}
}
