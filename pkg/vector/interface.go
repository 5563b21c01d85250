package vector

import "context"

// Store defines the capability interface every vector store backend implements.
//
// A Store is bound to one database and one configured collection. Methods other than
// EnsureCollection and ListCollections operate on that collection.
type Store interface {
	// EnsureCollection creates the named collection if it does not exist yet.
	EnsureCollection(ctx context.Context, name string, vectorSize int, distance Distance) error

	// Insert upserts one record per position. vectors, payloads and ids are positionally
	// aligned; a failed record is reported in its InsertResult and does not stop the batch.
	Insert(ctx context.Context, vectors [][]float32, payloads []map[string]any, ids []string) ([]InsertResult, error)

	// Search returns up to req.Limit records ordered best-first.
	Search(ctx context.Context, req SearchRequest) ([]OutputData, error)

	// Get reads one record by id. It returns ErrNotFound if the record is absent.
	Get(ctx context.Context, id string) (OutputData, error)

	// Update writes the supplied fields of an existing record. Nil arguments are left untouched.
	Update(ctx context.Context, id string, vector []float32, payload map[string]any) error

	// Delete removes a record. Deleting a missing record is not an error.
	Delete(ctx context.Context, id string) error

	// List scans the collection. A limit <= 0 returns every matching record.
	List(ctx context.Context, filters map[string]any, limit int) ([]OutputData, error)

	// ListCollections describes every collection in the database.
	ListCollections(ctx context.Context) ([]CollectionInfo, error)

	// CollectionInfo describes the configured collection.
	CollectionInfo(ctx context.Context) (CollectionInfo, error)

	// DeleteCollection drops the configured collection and all of its records.
	DeleteCollection(ctx context.Context) error

	// Reset drops the configured collection and recreates it empty.
	Reset(ctx context.Context) error

	// Close releases the backend client.
	Close() error
}

// Scanner streams complete records, vectors included.
type Scanner interface {
	Scan(ctx context.Context, fn func(Record) error) error
}
