package mapping

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists mapping candidates and curator decisions.
type Repository interface {
	// InsertCandidates stores candidates, silently keeping existing rows
	// for already-known (source, target) pairs. Returns how many rows
	// were actually inserted.
	InsertCandidates(ctx context.Context, candidates []*Correspondence) (int, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Correspondence, error)
	// FindBySource returns every candidate from one source concept into
	// one target system, score descending then creation order.
	FindBySource(ctx context.Context, sourceCode, sourceSystem, targetSystem string) ([]*Correspondence, error)
	// SetValidation overwrites the validation state of one candidate.
	SetValidation(ctx context.Context, id uuid.UUID, decision, equivalence, actor string) (*Correspondence, error)
	List(ctx context.Context, validation string, limit, offset int) ([]*Correspondence, int, error)
}
