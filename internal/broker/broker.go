// Package broker owns the pairing state machine: every status
// transition in the presence store goes through it. It is stateless
// over the store, so multiple instances can share a Redis backend.
package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Mingle/internal/domain"
	"github.com/dkeye/Mingle/internal/store"
)

type Broker struct {
	store  store.Store
	notify Notifier

	// activityWindow bounds the online count: a record counts as
	// connected if it was active within the window.
	activityWindow time.Duration

	now func() time.Time
}

type Option func(*Broker)

// WithClock overrides the time source, used by tests.
func WithClock(now func() time.Time) Option {
	return func(b *Broker) { b.now = now }
}

func New(s store.Store, n Notifier, activityWindow time.Duration, opts ...Option) *Broker {
	b := &Broker{
		store:          s,
		notify:         n,
		activityWindow: activityWindow,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Connect registers a fresh idle presence record and announces the
// new online count.
func (b *Broker) Connect(ctx context.Context, h domain.Handle) error {
	if err := b.store.Put(ctx, h); err != nil {
		return fmt.Errorf("connect %s: %w", h, err)
	}
	log.Info().Str("module", "broker").Str("handle", string(h)).Msg("connected")
	return b.BroadcastCount(ctx)
}

// BroadcastCount emits the live participant count to every connection.
// Called on connect, disconnect and after a reaper sweep, never per
// relayed message.
func (b *Broker) BroadcastCount(ctx context.Context) error {
	n, err := b.store.CountActiveSince(ctx, b.now().Add(-b.activityWindow))
	if err != nil {
		return fmt.Errorf("broadcast count: %w", err)
	}
	b.notify.Broadcast(onlineNotice{Type: EventOnline, Count: n})
	return nil
}
