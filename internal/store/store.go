// Package store defines the presence store contract shared by the
// in-memory and Redis backends. The broker is the only writer of
// status transitions; the store guarantees per-record atomicity and
// one true compare-and-set, ClaimPair, for the pairing critical section.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/Mingle/internal/domain"
)

var ErrNotFound = errors.New("presence not found")

type Store interface {
	// Put creates (or resets) an idle presence record for h.
	Put(ctx context.Context, h domain.Handle) error

	// Get returns the current record or ErrNotFound.
	Get(ctx context.Context, h domain.Handle) (domain.Presence, error)

	// Remove deletes the record unless it is currently paired, and
	// reports whether the handle is gone. A paired record must be
	// released through SetStatus first; refusing the delete here is
	// what keeps a teardown racing a pairing claim from orphaning the
	// peer. Removing a missing handle is a no-op (true, nil).
	Remove(ctx context.Context, h domain.Handle) (bool, error)

	// SetStatus writes status and session id for an existing record and
	// refreshes last_active. Returns ErrNotFound for a missing handle so
	// a write racing a Remove can never resurrect a deleted record.
	SetStatus(ctx context.Context, h domain.Handle, st domain.Status, sid domain.SessionID) error

	// Touch refreshes last_active for an existing record.
	Touch(ctx context.Context, h domain.Handle) error

	// FindSearching returns one searching handle other than exclude,
	// earliest last_active first. ErrNotFound when the pool is empty.
	FindSearching(ctx context.Context, exclude domain.Handle) (domain.Handle, error)

	// ClaimPair atomically moves a and b from searching to paired under
	// sid. It succeeds only if both records still exist with status
	// searching; any other state loses the claim (false, nil).
	ClaimPair(ctx context.Context, a, b domain.Handle, sid domain.SessionID) (bool, error)

	// CountActiveSince counts records with last_active after since.
	CountActiveSince(ctx context.Context, since time.Time) (int, error)

	// ListStaleBefore snapshots handles with last_active before cutoff.
	// No lock is held on the returned set; entries may vanish before the
	// caller processes them.
	ListStaleBefore(ctx context.Context, cutoff time.Time) ([]domain.Handle, error)
}
