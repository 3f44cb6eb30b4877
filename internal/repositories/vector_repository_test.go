package repositories

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docsync/internal/db"
)

// fakeQdrant records the body of the last search request and replies with a
// fixed hit set.
type fakeQdrant struct {
	lastSearchBody map[string]any
}

func (f *fakeQdrant) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/collections/test/points/search":
			require.NoError(t, json.Unmarshal(body, &f.lastSearchBody))
			w.Write([]byte(`{"status":"ok","result":[
				{"id":"p1","score":0.9,"payload":{"doc_id":"doc_a","chunk_index":0,"title_chain":"Guide"}}
			]}`))
		default:
			w.Write([]byte(`{"status":"ok","result":{}}`))
		}
	}
}

func newVectorRepoEnv(t *testing.T) (*QdrantVectorRepository, *fakeQdrant) {
	fake := &fakeQdrant{}
	server := httptest.NewServer(fake.handler(t))
	t.Cleanup(server.Close)

	client := db.NewQdrantClient(db.QdrantConfig{URL: server.URL})
	logger := log.New(io.Discard, "", 0)
	return NewQdrantVectorRepository(client, "test", logger), fake
}

// ============================================================================
// Search filter serialization
// ============================================================================

func TestSearchScopedSendsCollectionFilter(t *testing.T) {
	repo, fake := newVectorRepoEnv(t)

	hits, err := repo.Search(context.Background(), "col_1", []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "doc_a", hits[0].DocID)

	filter, ok := fake.lastSearchBody["filter"].(map[string]any)
	require.True(t, ok, "scoped search must carry a payload filter")
	must, ok := filter["must"].([]any)
	require.True(t, ok)
	require.Len(t, must, 1)
	condition := must[0].(map[string]any)
	assert.Equal(t, "collection_id", condition["key"])
	assert.Equal(t, "col_1", condition["match"].(map[string]any)["value"])
}

func TestSearchUnscopedSendsNoFilter(t *testing.T) {
	repo, fake := newVectorRepoEnv(t)

	_, err := repo.Search(context.Background(), "", []float32{1, 0, 0}, 5)
	require.NoError(t, err)

	_, present := fake.lastSearchBody["filter"]
	assert.False(t, present, "global search must not send a collection filter")
	assert.Equal(t, true, fake.lastSearchBody["with_payload"])
	assert.Equal(t, float64(5), fake.lastSearchBody["limit"])
}
