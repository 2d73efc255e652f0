package broker

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Mingle/internal/domain"
	"github.com/dkeye/Mingle/internal/store"
)

// EndReason selects which notices the departing side's peer receives.
type EndReason int

const (
	// ReasonStop: the participant ended the chat explicitly.
	ReasonStop EndReason = iota
	// ReasonDisconnect: the connection dropped or was reaped.
	ReasonDisconnect
	// ReasonRequeue: the participant started a new search while paired.
	ReasonRequeue
)

// RelayKind names the in-session events forwarded to the peer.
type RelayKind int

const (
	RelayMessage RelayKind = iota
	RelayTyping
	RelayDoneTyping
)

// EndSession tears down h's session. The peer, when still present, is
// notified and returned to idle before anything happens to h's own
// record, so a racing disconnect on the peer cannot find a session
// with a missing counterpart. Idempotent: a handle that is no longer
// paired makes this a no-op.
func (b *Broker) EndSession(ctx context.Context, h domain.Handle, reason EndReason) error {
	rec, err := b.store.Get(ctx, h)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("end session %s: %w", h, err)
	}
	if !rec.Paired() {
		return nil
	}

	peer, ok := rec.SessionID.Peer(h)
	if !ok {
		log.Warn().Str("module", "broker.lifecycle").
			Str("session", string(rec.SessionID)).Msg("malformed session id")
	} else if _, err := b.store.Get(ctx, peer); err == nil {
		if reason == ReasonDisconnect {
			b.notify.Send(peer, textNotice{Type: EventGoodBye, Message: "Stranger has disconnected"})
		}
		b.notify.Send(peer, textNotice{Type: EventStrangerDisconnected, Message: "Stranger has disconnected"})
		if err := b.store.SetStatus(ctx, peer, domain.StatusIdle, ""); err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("end session %s: free peer: %w", rec.SessionID, err)
		}
	}

	if err := b.store.SetStatus(ctx, h, domain.StatusIdle, ""); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("end session %s: %w", rec.SessionID, err)
	}
	log.Info().Str("module", "broker.lifecycle").
		Str("session", string(rec.SessionID)).Int("reason", int(reason)).
		Msg("session ended")
	return nil
}

// Relay forwards an in-session event to h's peer. A relay from a
// handle that is not paired, or whose peer vanished, is dropped
// silently: stray relays race teardown by design and are not errors.
func (b *Broker) Relay(ctx context.Context, h domain.Handle, kind RelayKind, text string) error {
	rec, err := b.store.Get(ctx, h)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("relay %s: %w", h, err)
	}
	if !rec.Paired() {
		return nil
	}
	if err := b.store.Touch(ctx, h); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("relay %s: %w", h, err)
	}

	peer, ok := rec.SessionID.Peer(h)
	if !ok {
		return nil
	}
	if _, err := b.store.Get(ctx, peer); errors.Is(err, store.ErrNotFound) {
		return nil
	} else if err != nil {
		return fmt.Errorf("relay %s: peer lookup: %w", h, err)
	}

	switch kind {
	case RelayMessage:
		b.notify.Send(peer, messageNotice{Type: EventNewMessage, Handle: h, Text: text})
	case RelayTyping:
		b.notify.Send(peer, typingNotice{Type: EventStrangerTyping, Text: text})
	case RelayDoneTyping:
		b.notify.Send(peer, typingNotice{Type: EventStrangerDoneTyping})
	}
	return nil
}

// Stop handles an explicit end-chat request. Paired: the session ends
// and h stays registered as idle. Unpaired: the presence record is
// dropped entirely; a later start re-registers it.
func (b *Broker) Stop(ctx context.Context, h domain.Handle) error {
	rec, err := b.store.Get(ctx, h)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("stop %s: %w", h, err)
	}

	if err == nil && rec.Paired() {
		if err := b.EndSession(ctx, h, ReasonStop); err != nil {
			return err
		}
		b.notify.Send(h, textNotice{Type: EventEndChat, Message: "You have disconnected"})
		return nil
	}

	b.notify.Send(h, textNotice{Type: EventEndChat, Message: "You have disconnected"})
	if err := b.removeQuiesced(ctx, h, ReasonStop); err != nil {
		return fmt.Errorf("stop %s: %w", h, err)
	}
	return nil
}

// Disconnect is the unconditional teardown for a dead connection.
// The presence record is removed last, after the peer side effects,
// so no other operation can observe a removed-but-still-paired state.
// A handle that is already gone is fine: the reaper and a natural
// disconnect may race here.
func (b *Broker) Disconnect(ctx context.Context, h domain.Handle) error {
	if err := b.removeQuiesced(ctx, h, ReasonDisconnect); err != nil {
		return fmt.Errorf("disconnect %s: %w", h, err)
	}
	log.Info().Str("module", "broker.lifecycle").Str("handle", string(h)).Msg("disconnected")
	return nil
}

// removeQuiesced ends any session h is in and deletes its record.
// The store refuses to delete a paired record, so a pairing claim
// that slips in between the status check and the delete just sends
// us around the loop to free the freshly-claimed peer. The loop is
// bounded: after EndSession the handle is idle, and nothing but the
// handle's own events (already ordered behind this one) can make it
// searching again.
func (b *Broker) removeQuiesced(ctx context.Context, h domain.Handle, reason EndReason) error {
	for {
		rec, err := b.store.Get(ctx, h)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if rec.Paired() {
			if err := b.EndSession(ctx, h, reason); err != nil {
				return err
			}
		}
		removed, err := b.store.Remove(ctx, h)
		if err != nil {
			return err
		}
		if removed {
			return nil
		}
	}
}
