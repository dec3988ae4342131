package vocabulary

import "context"

// Repository provides access to stored code entries.
type Repository interface {
	// Put inserts a new entry. Returns ErrDuplicate when (code, system)
	// already exists.
	Put(ctx context.Context, entry *CodeEntry) error
	// GetByCode returns the entry for (code, system) or ErrNotFound.
	GetByCode(ctx context.Context, code, system string) (*CodeEntry, error)
	// Search matches query case-insensitively against code, display and
	// definition, optionally narrowed by system and ayush branch.
	Search(ctx context.Context, query, system, ayushSystem string, limit, offset int) ([]*CodeEntry, int, error)
	// ListActive returns every active entry of a system.
	ListActive(ctx context.Context, system string) ([]*CodeEntry, error)
	// ReplaceSystem atomically swaps all entries of a system for the given
	// set. On failure the previous snapshot remains intact.
	ReplaceSystem(ctx context.Context, system string, entries []*CodeEntry) error
	// Count returns the number of entries in a system ("" for all).
	Count(ctx context.Context, system string) (int, error)
}
