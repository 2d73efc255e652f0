package broker

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Reaper evicts presence records with no activity past the threshold
// and force-closes their transport connections. It holds no state of
// its own; every sweep works off a fresh store snapshot.
type Reaper struct {
	broker    *Broker
	threshold time.Duration
	interval  time.Duration
}

func NewReaper(b *Broker, threshold, interval time.Duration) *Reaper {
	return &Reaper{broker: b, threshold: threshold, interval: interval}
}

// Run sweeps on a fixed schedule until ctx is done.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "broker.reaper").Msg("reaper stopped")
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep disconnects every stale handle. A handle that vanished between
// the snapshot and its turn already got cleaned up naturally; the
// broker treats that as a no-op. One count broadcast concludes the
// sweep regardless of how many handles were evicted.
func (r *Reaper) Sweep(ctx context.Context) {
	cutoff := r.broker.now().Add(-r.threshold)
	stale, err := r.broker.store.ListStaleBefore(ctx, cutoff)
	if err != nil {
		log.Error().Err(err).Str("module", "broker.reaper").Msg("sweep: list stale")
		return
	}

	removed := 0
	for _, h := range stale {
		if err := r.broker.Disconnect(ctx, h); err != nil {
			log.Error().Err(err).Str("module", "broker.reaper").
				Str("handle", string(h)).Msg("sweep: disconnect")
			continue
		}
		r.broker.notify.ForceClose(h)
		removed++
	}

	log.Info().Str("module", "broker.reaper").Int("removed", removed).Msg("sweep done")
	if err := r.broker.BroadcastCount(ctx); err != nil {
		log.Error().Err(err).Str("module", "broker.reaper").Msg("sweep: broadcast")
	}
}
