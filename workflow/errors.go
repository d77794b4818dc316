package workflow

import "errors"

var (
	// ErrMissingIdempotencyKey rejects intake requests without a key. The
	// caller must retry with one; nothing is persisted.
	ErrMissingIdempotencyKey = errors.New("idempotency key is required")

	ErrIncidentNotFound       = errors.New("incident not found")
	ErrClassificationNotFound = errors.New("incident classification not found")
)

// errDuplicateKeyRace signals that a concurrent request won the idempotency
// key insert. It forces rollback of the loser's transaction; the winner's
// workflow run id is then re-read and returned.
var errDuplicateKeyRace = errors.New("idempotency key already claimed")
