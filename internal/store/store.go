// Package store implements C1 Persistence: a small collection/key/value
// contract with two interchangeable backends, grounded on the teacher's
// dual StateStore implementations (kanban.State's JSON file backend and
// internal/db.Store's SQLite backend).
package store

import (
	"context"

	"github.com/marcus-ai/marcus-core/internal/marcuserr"
)

// Predicate filters raw JSON-decoded rows during Query. Returning false
// excludes the row.
type Predicate func(value map[string]any) bool

// Store is the persistence contract every backend and every higher
// component depends on. Collection names are plain strings ("tasks",
// "subtasks", "leases", "decisions", "artifacts", "outcomes", "events",
// "projects") so new collections never require an interface change.
type Store interface {
	// Put upserts value under (collection, key). value must be
	// JSON-marshalable.
	Put(ctx context.Context, collection, key string, value any) error

	// Get decodes the stored value for (collection, key) into dest (a
	// pointer). Returns a marcuserr KindNotFound error if absent.
	Get(ctx context.Context, collection, key string, dest any) error

	// Query decodes every row in collection matching pred into a
	// []map[string]any, ordered by key (not by insertion time), then
	// offset/limited.
	// Passing a nil pred returns every row in the collection.
	Query(ctx context.Context, collection string, pred Predicate, offset, limit int) ([]map[string]any, error)

	// Delete removes (collection, key). Deleting an absent key is not
	// an error, mirroring kanban.State's idempotent mutation methods.
	Delete(ctx context.Context, collection, key string) error

	// Cleanup removes rows in collection whose "updated_at" field
	// (RFC3339) is before the given cutoff and returns how many it
	// removed. The file backend falls back to "created_at" when a row has
	// no "updated_at"; the SQL backend leaves such rows in place.
	Cleanup(ctx context.Context, collection string, cutoffRFC3339 string) (int, error)

	// Close releases backend resources.
	Close() error
}

// ErrNotFound has the kind (KindNotFound) of the error Get returns when it
// finds no row. The backends build their own error naming the collection
// and key rather than returning ErrNotFound, so callers test with
// marcuserr.Is(err, marcuserr.KindNotFound).
var ErrNotFound = marcuserr.New(marcuserr.KindNotFound, "store: key not found")
