package store

import (
	"context"

	"github.com/rendis/stepflow/pkg/schema"
)

// Store persists one execution record per execution ID.
// All implementations must be safe for concurrent use and must copy records on the way
// in and out so callers never alias stored state.
type Store interface {
	// Get returns the record for id, or nil (and no error) when it does not exist.
	Get(ctx context.Context, id string) (*schema.ExecutionRecord, error)
	// Set replaces the whole record keyed by rec.ID.
	Set(ctx context.Context, rec *schema.ExecutionRecord) error
	// Delete removes the record. Deleting a missing record is not an error.
	Delete(ctx context.Context, id string) error
	// List returns records matching filter, most recently updated first.
	List(ctx context.Context, filter Filter) ([]*schema.ExecutionRecord, error)

	Close() error
}
