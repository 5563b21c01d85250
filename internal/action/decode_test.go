package action

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zereker/vectorstore/internal/domain"
)

func TestDecodeMutation(t *testing.T) {
	t.Run("insert", func(t *testing.T) {
		m, err := DecodeMutation([]byte(`{
			"op": "insert",
			"ids": ["m1", "m2"],
			"vectors": [[0.5, 1], [0, 0.25]],
			"payloads": [{"data": "likes tea"}, null]
		}`))
		require.NoError(t, err)
		assert.Equal(t, []string{"m1", "m2"}, m.IDs)
		assert.Equal(t, [][]float32{{0.5, 1}, {0, 0.25}}, m.Vectors)
		assert.Equal(t, "likes tea", m.Payloads[0]["data"])
		assert.Nil(t, m.Payloads[1])
	})

	t.Run("weakly typed update", func(t *testing.T) {
		m, err := DecodeMutation([]byte(`{"op": "update", "id": 42, "vector": [1, "2"]}`))
		require.NoError(t, err)
		assert.Equal(t, "42", m.ID)
		assert.Equal(t, []float32{1, 2}, m.Vector)
	})

	t.Run("invalid", func(t *testing.T) {
		for _, message := range []string{
			`not json`,
			`{"op": "delete"}`,
			`{"op": "truncate", "id": "m1"}`,
			`{"op": "update", "id": "m1", "vector": [true]}`,
		} {
			_, err := DecodeMutation([]byte(message))
			assert.True(t, errors.Is(err, domain.ErrInvalidMutation), message)
		}
	})
}

func TestDecode(t *testing.T) {
	var req domain.SearchRequest
	err := Decode(map[string]any{
		"query":   "tea",
		"vector":  []any{1.0, 0.5},
		"limit":   "3",
		"filters": map[string]any{"user_id": "alice"},
	}, &req)
	require.NoError(t, err)

	assert.Equal(t, "tea", req.Query)
	assert.Equal(t, []float32{1, 0.5}, req.Vector)
	assert.Equal(t, 3, req.Limit)
	assert.Equal(t, "alice", req.Filters["user_id"])
}
