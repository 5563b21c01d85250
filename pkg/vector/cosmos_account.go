package vector

import "context"

// CosmosAccount is the part of the Cosmos DB account API that CosmosStore drives.
// AzureAccount implements it over azcosmos; cosmostest.Account emulates it in memory.
type CosmosAccount interface {
	DatabaseExists(ctx context.Context, database string) (bool, error)

	// CreateDatabase creates a database with shared throughput, or without when tp is nil.
	CreateDatabase(ctx context.Context, database string, tp *Throughput) error

	// DatabaseThroughput reads the shared throughput of a database.
	DatabaseThroughput(ctx context.Context, database string) (Throughput, error)

	ListContainers(ctx context.Context, database string) ([]CollectionInfo, error)

	CreateContainer(ctx context.Context, database string, spec ContainerSpec) error

	// Container acquires a handle on a container. The container need not exist.
	// The handle must be released with Release.
	Container(database, name string) (CosmosContainer, error)

	Close() error
}

// CosmosContainer is a handle on one container.
type CosmosContainer interface {
	Read(ctx context.Context) (CollectionInfo, error)
	Delete(ctx context.Context) error

	UpsertItem(ctx context.Context, id string, body []byte) error

	// ReadItem returns the item body and its etag.
	ReadItem(ctx context.Context, id string) ([]byte, string, error)

	// ReplaceItem replaces an item only if its etag still matches.
	ReplaceItem(ctx context.Context, id string, body []byte, etag string) error

	DeleteItem(ctx context.Context, id string) error

	// Query runs q across partitions and calls fn for every returned item in order.
	Query(ctx context.Context, q ItemQuery, fn func(item []byte) error) error

	Release()
}

// Throughput is a provisioning setting in request units per second.
type Throughput struct {
	Autoscale bool
	Max       int32
}

// ContainerSpec describes a container to create.
type ContainerSpec struct {
	Name       string
	VectorSize int
	Distance   Distance
	// Throughput is nil when the account cannot provision it.
	Throughput *Throughput
}

// ItemQuery is a backend-neutral description of an item query.
//
// With a Vector it is a similarity query: hits carry a "score" field holding the raw
// VectorDistance value and come back most similar first. Without one it is a scan
// returning whole documents.
type ItemQuery struct {
	Vector   []float32
	Distance Distance
	// FullText terms fused into the ranking of a similarity query.
	FullText []string
	Filters  []Filter
	// Limit <= 0 means no limit.
	Limit int
	// Unranked drops TOP and ORDER BY so the gateway can serve the query across
	// partitions. Scores are still projected; the caller ranks and truncates.
	Unranked bool
}
