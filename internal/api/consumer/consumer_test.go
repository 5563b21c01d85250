package consumer

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zereker/vectorstore/internal/action"
	"github.com/Zereker/vectorstore/pkg/log"
	"github.com/Zereker/vectorstore/pkg/mq"
	"github.com/Zereker/vectorstore/pkg/vector"
	"github.com/Zereker/vectorstore/pkg/vector/cosmostest"
)

func newTestVectors(t *testing.T) (*action.Vectors, *vector.CosmosStore) {
	t.Helper()
	store, err := vector.NewCosmosStoreWithAccount(context.Background(), vector.CosmosConfig{
		Endpoint:         "https://localhost:8081/",
		Database:         "mem0",
		Collection:       "memories",
		VectorSize:       3,
		CreateCollection: true,
	}, cosmostest.NewAccount())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return action.NewVectors(store), store
}

func TestNewConsumer_Disabled(t *testing.T) {
	vectors, _ := newTestVectors(t)

	c, err := NewConsumer(vectors, Config{})
	require.NoError(t, err)
	assert.Empty(t, c.runners)
	assert.NoError(t, c.Start(context.Background()))
	assert.NoError(t, c.Stop())
}

func TestQueueConsumer(t *testing.T) {
	ctx := context.Background()
	vectors, store := newTestVectors(t)
	queue := mq.NewInMemoryQueue()

	c, err := NewQueueConsumer(vectors, queue, "vector-mutations")
	require.NoError(t, err)
	require.NotNil(t, c)

	t.Run("insert", func(t *testing.T) {
		err := queue.Publish(ctx, "vector-mutations", "m1",
			[]byte(`{"op":"insert","ids":["m1"],"vectors":[[1,0,0]],"payloads":[{"data":"likes tea","user_id":"alice"}]}`))
		require.NoError(t, err)

		out, err := store.Get(ctx, "m1")
		require.NoError(t, err)
		assert.Equal(t, "alice", out.Payload["user_id"])
	})

	t.Run("update", func(t *testing.T) {
		err := queue.Publish(ctx, "vector-mutations", "m1",
			[]byte(`{"op":"update","id":"m1","payload":{"data":"likes coffee"}}`))
		require.NoError(t, err)

		out, err := store.Get(ctx, "m1")
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"data": "likes coffee"}, out.Payload)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, queue.Publish(ctx, "vector-mutations", "m1", []byte(`{"op":"delete","id":"m1"}`)))

		_, err := store.Get(ctx, "m1")
		assert.True(t, errors.Is(err, vector.ErrNotFound))
	})

	t.Run("poison message is reported", func(t *testing.T) {
		err := queue.Publish(ctx, "vector-mutations", "", []byte(`{"op":"drop"}`))
		assert.Error(t, err)
	})

	t.Run("other topics are ignored", func(t *testing.T) {
		require.NoError(t, queue.Publish(ctx, "other", "m9", []byte(`{"op":"delete","id":"m9"}`)))
	})
}

type fakeRunner struct {
	mu      sync.Mutex
	started bool
	stopped bool
	err     error
}

func (r *fakeRunner) Start(ctx context.Context) error {
	r.mu.Lock()
	r.started = true
	r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	<-ctx.Done()
	return nil
}

func (r *fakeRunner) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	return nil
}

func TestConsumer_StartStop(t *testing.T) {
	vectors, _ := newTestVectors(t)

	t.Run("runs until cancelled", func(t *testing.T) {
		a, b := &fakeRunner{}, &fakeRunner{}
		c := &Consumer{logger: log.Logger("consumer"), vectors: vectors, runners: []runner{a, b}}

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- c.Start(ctx) }()

		cancel()
		require.NoError(t, <-done)
		require.NoError(t, c.Stop())
		assert.True(t, a.started && b.started)
		assert.True(t, a.stopped && b.stopped)
	})

	t.Run("one failure stops the group", func(t *testing.T) {
		boom := errors.New("broker unreachable")
		c := &Consumer{logger: log.Logger("consumer"), vectors: vectors, runners: []runner{&fakeRunner{}, &fakeRunner{err: boom}}}

		assert.ErrorIs(t, c.Start(context.Background()), boom)
	})
}
