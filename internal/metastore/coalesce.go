package metastore

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"
)

// CoalescingStore wraps a Store so that concurrent DedupInsert calls racing on
// the same idempotency_key collapse into a single underlying write. The
// persistent store already has correct, unbounded dedup semantics via its
// unique constraint; this layer only saves redundant round-trips when many
// in-flight accept() calls hit the same key at once (e.g. a retried client
// alongside the original request).
type CoalescingStore struct {
	Store
	group singleflight.Group
}

// NewCoalescingStore wraps an existing Store with singleflight-based request
// coalescing on DedupInsert.
func NewCoalescingStore(inner Store) *CoalescingStore {
	return &CoalescingStore{Store: inner}
}

type dedupInsertResult struct {
	inserted   bool
	envelopeID string
}

// DedupInsert coalesces concurrent inserts for the same idempotencyKey into one
// call to the wrapped store, then fans the single result out to every waiter.
func (c *CoalescingStore) DedupInsert(ctx context.Context, idempotencyKey, envelopeID string, firstSeenAt time.Time) (bool, string, error) {
	v, err, _ := c.group.Do(idempotencyKey, func() (interface{}, error) {
		inserted, existing, err := c.Store.DedupInsert(ctx, idempotencyKey, envelopeID, firstSeenAt)
		if err != nil {
			return nil, err
		}
		return dedupInsertResult{inserted: inserted, envelopeID: existing}, nil
	})
	if err != nil {
		return false, "", err
	}
	result := v.(dedupInsertResult)
	if result.envelopeID != envelopeID {
		// A coalesced waiter whose own envelope_id is not the one recorded lost
		// the race, so it sees inserted=false and the winner's envelope_id.
		return false, result.envelopeID, nil
	}
	return result.inserted, result.envelopeID, nil
}
