package conversation

import "context"

// Store persists per-user conversation progress. Each user has at most one
// live record. The contract gives no read-modify-write atomicity; the engine
// serializes access per user (see keyedMutex).
type Store interface {
	// Get returns the state for a user and whether a record exists.
	Get(ctx context.Context, userID int64) (State, bool, error)
	// Set stores the state for a user, refreshing its expiry.
	Set(ctx context.Context, userID int64, st State) error
	// Delete removes the record; deleting an absent record is a no-op.
	Delete(ctx context.Context, userID int64) error
}
