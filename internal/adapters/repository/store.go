// Package repository defines the association store interface and errors.
package repository

import (
	"context"

	"github.com/SAGUARO-MMA/saguaro-tom/internal/domain/model"
)

// Store provides read/write access to candidates and their event
// associations. Associations are keyed by (candidate, event); upserting an
// existing key updates it in place, and records are never deleted while
// the owning event is referenced.
type Store interface {
	// PutCandidate stores an immutable candidate detection. Re-putting the
	// same id is a no-op.
	PutCandidate(ctx context.Context, c model.Candidate) error

	// Candidate returns a stored candidate. Returns ErrNotFound if unknown.
	Candidate(ctx context.Context, id string) (model.Candidate, error)

	// UpsertAssociation creates or updates the association for
	// (a.CandidateID, a.EventID). Returns true when a new record was
	// created. Creation-time fields (ID, CreatedAt, Threshold) of an
	// existing record are preserved.
	UpsertAssociation(ctx context.Context, a model.Association) (bool, error)

	// Association returns the record for a (candidate, event) pair.
	// Returns ErrNotFound if the pair was never associated.
	Association(ctx context.Context, candidateID, eventID string) (model.Association, error)

	// ByEvent returns every association referencing the event, viable or
	// not, in candidate id order.
	ByEvent(ctx context.Context, eventID string) []model.Association

	// ByCandidate returns every association referencing the candidate, in
	// event id order.
	ByCandidate(ctx context.Context, candidateID string) []model.Association

	// Counts returns the number of stored candidates and associations.
	Counts(ctx context.Context) (candidates, associations int)
}
