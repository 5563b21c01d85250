package vector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/data/azcosmos"
)

// placeholderKey is the sample key shipped in config templates. It selects ambient identity.
const placeholderKey = "your-api-key"

// Credential authenticates against the Cosmos DB account.
type Credential interface {
	newClient(endpoint string, opts *azcosmos.ClientOptions) (*azcosmos.Client, error)
}

// KeyCredential authenticates with an account key.
type KeyCredential struct {
	Key string
}

func (c KeyCredential) newClient(endpoint string, opts *azcosmos.ClientOptions) (*azcosmos.Client, error) {
	cred, err := azcosmos.NewKeyCredential(c.Key)
	if err != nil {
		return nil, fmt.Errorf("invalid account key: %w", err)
	}
	return azcosmos.NewClientWithKey(endpoint, cred, opts)
}

// AmbientCredential authenticates with the identity of the environment
// (managed identity, workload identity, Azure CLI login...).
type AmbientCredential struct {
	Options *azidentity.DefaultAzureCredentialOptions
}

func (c AmbientCredential) newClient(endpoint string, opts *azcosmos.ClientOptions) (*azcosmos.Client, error) {
	cred, err := azidentity.NewDefaultAzureCredential(c.Options)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve ambient identity: %w", err)
	}
	return azcosmos.NewClient(endpoint, cred, opts)
}

// CredentialFromKey selects KeyCredential for a real key and AmbientCredential for an
// empty or placeholder one.
func CredentialFromKey(key string) Credential {
	if key == "" || key == placeholderKey {
		return AmbientCredential{}
	}
	return KeyCredential{Key: key}
}

// AzureAccount implements CosmosAccount with the azcosmos SDK.
type AzureAccount struct {
	client *azcosmos.Client
}

var _ CosmosAccount = (*AzureAccount)(nil)

// NewAzureAccount creates an account client for endpoint.
func NewAzureAccount(endpoint string, cred Credential) (*AzureAccount, error) {
	client, err := cred.newClient(endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cosmos client: %w", err)
	}
	return &AzureAccount{client: client}, nil
}

func (a *AzureAccount) DatabaseExists(ctx context.Context, database string) (bool, error) {
	db, err := a.client.NewDatabase(database)
	if err != nil {
		return false, err
	}
	if _, err := db.Read(ctx, nil); err != nil {
		err = wrapAzure("read database", err)
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (a *AzureAccount) CreateDatabase(ctx context.Context, database string, tp *Throughput) error {
	var opts *azcosmos.CreateDatabaseOptions
	if tp != nil {
		props := tp.properties()
		opts = &azcosmos.CreateDatabaseOptions{ThroughputProperties: &props}
	}
	if _, err := a.client.CreateDatabase(ctx, azcosmos.DatabaseProperties{ID: database}, opts); err != nil {
		return wrapAzure("create database", err)
	}
	return nil
}

func (a *AzureAccount) DatabaseThroughput(ctx context.Context, database string) (Throughput, error) {
	db, err := a.client.NewDatabase(database)
	if err != nil {
		return Throughput{}, err
	}
	resp, err := db.ReadThroughput(ctx, nil)
	if err != nil {
		return Throughput{}, wrapAzure("read database throughput", err)
	}
	return throughputFrom(resp.ThroughputProperties)
}

func (a *AzureAccount) ListContainers(ctx context.Context, database string) ([]CollectionInfo, error) {
	db, err := a.client.NewDatabase(database)
	if err != nil {
		return nil, err
	}

	var infos []CollectionInfo
	pager := db.NewQueryContainersPager("SELECT * FROM c", nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, wrapAzure("list containers", err)
		}
		for i := range page.Containers {
			infos = append(infos, collectionInfoFrom(&page.Containers[i]))
		}
	}
	return infos, nil
}

func (a *AzureAccount) CreateContainer(ctx context.Context, database string, spec ContainerSpec) error {
	db, err := a.client.NewDatabase(database)
	if err != nil {
		return err
	}

	var opts *azcosmos.CreateContainerOptions
	if spec.Throughput != nil {
		props := spec.Throughput.properties()
		opts = &azcosmos.CreateContainerOptions{ThroughputProperties: &props}
	}

	if _, err := db.CreateContainer(ctx, ContainerProperties(spec), opts); err != nil {
		return wrapAzure("create container", err)
	}
	return nil
}

func (a *AzureAccount) Container(database, name string) (CosmosContainer, error) {
	c, err := a.client.NewContainer(database, name)
	if err != nil {
		return nil, err
	}
	return &azureContainer{client: c}, nil
}

// Close is a no-op: the azcosmos client holds no connections of its own.
func (a *AzureAccount) Close() error {
	return nil
}

type azureContainer struct {
	client *azcosmos.ContainerClient
}

func (c *azureContainer) Read(ctx context.Context) (CollectionInfo, error) {
	resp, err := c.client.Read(ctx, nil)
	if err != nil {
		return CollectionInfo{}, wrapAzure("read container", err)
	}
	info := collectionInfoFrom(resp.ContainerProperties)

	// Throughput is optional: shared-throughput and serverless containers have no offer.
	if tr, err := c.client.ReadThroughput(ctx, nil); err == nil {
		if tp, err := throughputFrom(tr.ThroughputProperties); err == nil {
			info.Throughput = &tp.Max
		}
	}
	return info, nil
}

func (c *azureContainer) Delete(ctx context.Context) error {
	if _, err := c.client.Delete(ctx, nil); err != nil {
		return wrapAzure("delete container", err)
	}
	return nil
}

func (c *azureContainer) UpsertItem(ctx context.Context, id string, body []byte) error {
	if _, err := c.client.UpsertItem(ctx, azcosmos.NewPartitionKeyString(id), body, nil); err != nil {
		return wrapAzure("upsert item", err)
	}
	return nil
}

func (c *azureContainer) ReadItem(ctx context.Context, id string) ([]byte, string, error) {
	resp, err := c.client.ReadItem(ctx, azcosmos.NewPartitionKeyString(id), id, nil)
	if err != nil {
		return nil, "", wrapAzure("read item", err)
	}
	return resp.Value, string(resp.ETag), nil
}

func (c *azureContainer) ReplaceItem(ctx context.Context, id string, body []byte, etag string) error {
	opts := &azcosmos.ItemOptions{}
	if etag != "" {
		tag := azcore.ETag(etag)
		opts.IfMatchEtag = &tag
	}
	if _, err := c.client.ReplaceItem(ctx, azcosmos.NewPartitionKeyString(id), id, body, opts); err != nil {
		return wrapAzure("replace item", err)
	}
	return nil
}

func (c *azureContainer) DeleteItem(ctx context.Context, id string) error {
	if _, err := c.client.DeleteItem(ctx, azcosmos.NewPartitionKeyString(id), id, nil); err != nil {
		return wrapAzure("delete item", err)
	}
	return nil
}

func (c *azureContainer) Query(ctx context.Context, q ItemQuery, fn func(item []byte) error) error {
	sql, params := BuildCosmosQuery(q)

	opts := &azcosmos.QueryOptions{}
	for _, p := range params {
		opts.QueryParameters = append(opts.QueryParameters, azcosmos.QueryParameter{Name: p.Name, Value: p.Value})
	}

	// An empty partition key fans the query out across partitions.
	pager := c.client.NewQueryItemsPager(sql, azcosmos.NewPartitionKey(), opts)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return wrapAzure("query items", err)
		}
		for _, item := range page.Items {
			if err := fn(item); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *azureContainer) Release() {}

// ContainerProperties builds the container definition for spec: a vector index on /vector,
// a full-text index on /payload and /id as partition key.
func ContainerProperties(spec ContainerSpec) azcosmos.ContainerProperties {
	return azcosmos.ContainerProperties{
		ID: spec.Name,
		PartitionKeyDefinition: azcosmos.PartitionKeyDefinition{
			Paths: []string{"/id"},
		},
		VectorEmbeddingPolicy: &azcosmos.VectorEmbeddingPolicy{
			VectorEmbeddings: []azcosmos.VectorEmbedding{
				{
					Path:             "/vector",
					DataType:         azcosmos.VectorDataTypeFloat32,
					DistanceFunction: azcosmos.VectorDistanceFunction(spec.Distance),
					Dimensions:       int32(spec.VectorSize),
				},
			},
		},
		FullTextPolicy: &azcosmos.FullTextPolicy{
			DefaultLanguage: "en-US",
			FullTextPaths:   []azcosmos.FullTextPath{{Path: "/payload", Language: "en-US"}},
		},
		IndexingPolicy: &azcosmos.IndexingPolicy{
			IndexingMode:  azcosmos.IndexingModeConsistent,
			Automatic:     true,
			IncludedPaths: []azcosmos.IncludedPath{{Path: "/*"}},
			// The vector is served by its own index; _etag changes on every write.
			ExcludedPaths:   []azcosmos.ExcludedPath{{Path: "/_etag/?"}, {Path: "/vector/*"}},
			FullTextIndexes: []azcosmos.FullTextIndex{{Path: "/payload"}},
			VectorIndexes:   []azcosmos.VectorIndex{{Path: "/vector", Type: azcosmos.VectorIndexTypeDiskANN}},
		},
	}
}

func (t Throughput) properties() azcosmos.ThroughputProperties {
	if t.Autoscale {
		return azcosmos.NewAutoscaleThroughputProperties(t.Max)
	}
	return azcosmos.NewManualThroughputProperties(t.Max)
}

func throughputFrom(props *azcosmos.ThroughputProperties) (Throughput, error) {
	if props == nil {
		return Throughput{}, &BackendError{Op: "read throughput", StatusCode: 404, Message: "no throughput defined"}
	}
	if autoscaleMax, ok := props.AutoscaleMaxThroughput(); ok {
		return Throughput{Autoscale: true, Max: autoscaleMax}, nil
	}
	manual, ok := props.ManualThroughput()
	if !ok {
		return Throughput{}, &BackendError{Op: "read throughput", Message: "offer has no throughput"}
	}
	return Throughput{Max: manual}, nil
}

func collectionInfoFrom(p *azcosmos.ContainerProperties) CollectionInfo {
	if p == nil {
		return CollectionInfo{}
	}
	info := CollectionInfo{
		ID:           p.ID,
		ResourceID:   p.ResourceID,
		LastModified: p.LastModified,
		PartitionKey: p.PartitionKeyDefinition.Paths,
		DefaultTTL:   p.DefaultTimeToLive,
	}
	if p.ETag != nil {
		info.ETag = string(*p.ETag)
	}
	if p.IndexingPolicy != nil {
		if data, err := json.Marshal(p.IndexingPolicy); err == nil {
			_ = json.Unmarshal(data, &info.IndexingPolicy)
		}
	}
	return info
}

func wrapAzure(op string, err error) error {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return &BackendError{
			Op:         op,
			StatusCode: respErr.StatusCode,
			Code:       respErr.ErrorCode,
			Message:    respErr.Error(),
			Err:        err,
		}
	}
	return &BackendError{Op: op, Err: err}
}
