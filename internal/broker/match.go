package broker

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Mingle/internal/domain"
	"github.com/dkeye/Mingle/internal/store"
)

// StartSearch moves h into the searching pool. A paired handle first
// leaves its session (the peer is notified and freed). A handle whose
// record was removed by an earlier stop is re-registered.
func (b *Broker) StartSearch(ctx context.Context, h domain.Handle) error {
	rec, err := b.store.Get(ctx, h)
	switch {
	case errors.Is(err, store.ErrNotFound):
		if err := b.store.Put(ctx, h); err != nil {
			return fmt.Errorf("start search %s: %w", h, err)
		}
	case err != nil:
		return fmt.Errorf("start search %s: %w", h, err)
	case rec.Paired():
		if err := b.EndSession(ctx, h, ReasonRequeue); err != nil {
			return err
		}
	}
	if err := b.store.SetStatus(ctx, h, domain.StatusSearching, ""); err != nil {
		return fmt.Errorf("start search %s: %w", h, err)
	}
	log.Debug().Str("module", "broker.match").Str("handle", string(h)).Msg("searching")
	return nil
}

// TryMatch pairs h with one other searching participant. Finding
// nobody is the expected idle outcome: h stays searching and is told
// so. A claim lost to a concurrent match leaves h searching with no
// notice; a later start event from anyone picks it back up.
func (b *Broker) TryMatch(ctx context.Context, h domain.Handle) error {
	cand, err := b.store.FindSearching(ctx, h)
	if errors.Is(err, store.ErrNotFound) {
		b.notify.Send(h, textNotice{Type: EventSearching, Message: "Searching..."})
		return nil
	}
	if err != nil {
		return fmt.Errorf("try match %s: %w", h, err)
	}
	return b.CreateSession(ctx, h, cand)
}

// CreateSession claims both handles atomically and starts the chat.
// The claim fails when either side disconnected or got paired between
// candidate selection and now; the caller remains searching.
func (b *Broker) CreateSession(ctx context.Context, a, peer domain.Handle) error {
	sid := domain.NewSessionID(a, peer)
	ok, err := b.store.ClaimPair(ctx, a, peer, sid)
	if err != nil {
		return fmt.Errorf("create session %s: %w", sid, err)
	}
	if !ok {
		log.Debug().Str("module", "broker.match").
			Str("handle", string(a)).Str("candidate", string(peer)).
			Msg("lost pairing claim")
		return nil
	}

	started := textNotice{Type: EventChatStart, Message: "You are now chatting with a random stranger"}
	b.notify.Send(a, started)
	b.notify.Send(peer, started)
	log.Info().Str("module", "broker.match").Str("session", string(sid)).Msg("session started")
	return nil
}
