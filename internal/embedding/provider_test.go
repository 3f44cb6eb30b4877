package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docsync/internal/models"
)

// ============================================================================
// Test Setup
// ============================================================================

func testLogger() *log.Logger {
	return log.New(os.Stdout, "[TEST] ", log.LstdFlags)
}

// fakeProvider returns a fixed vector per text and counts calls.
type fakeProvider struct {
	calls     int
	lastTexts []string
	err       error
}

func (f *fakeProvider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	f.lastTexts = texts
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1}
	}
	return out, nil
}

func (f *fakeProvider) Dimension() int             { return 2 }
func (f *fakeProvider) Ping(context.Context) error { return nil }

// ============================================================================
// Batch
// ============================================================================

func TestBatch_SplitsPreservingOrder(t *testing.T) {
	texts := []string{"a", "b", "c", "d", "e"}

	batches := Batch(texts, 2)
	require.Len(t, batches, 3)
	assert.Equal(t, []string{"a", "b"}, batches[0])
	assert.Equal(t, []string{"c", "d"}, batches[1])
	assert.Equal(t, []string{"e"}, batches[2])
}

func TestBatch_EdgeCases(t *testing.T) {
	assert.Nil(t, Batch(nil, 10))
	assert.Len(t, Batch([]string{"a"}, 10), 1)
	// Non-positive size degrades to batches of one.
	assert.Len(t, Batch([]string{"a", "b"}, 0), 2)
}

// ============================================================================
// OpenAI provider
// ============================================================================

func newOpenAIServer(t *testing.T, handler http.HandlerFunc) *OpenAIProvider {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewOpenAIProvider(OpenAIConfig{BaseURL: srv.URL, APIKey: "test-key", Model: "test-model"}, testLogger())
}

func TestOpenAIProvider_EmbedReturnsVectorsInOrder(t *testing.T) {
	p := newOpenAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Input, 2)

		// Return data out of order; the client must reorder by index.
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"index": 1, "embedding": []float32{2, 2}},
				{"index": 0, "embedding": []float32{1, 1}},
			},
		})
	})

	vectors, err := p.Embed(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Equal(t, []float32{1, 1}, vectors[0])
	assert.Equal(t, []float32{2, 2}, vectors[1])
	assert.Equal(t, 2, p.Dimension())
}

func TestOpenAIProvider_DimensionRecordedOnce(t *testing.T) {
	var (
		mu    sync.Mutex
		calls int
	)
	p := newOpenAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		// A later response with a different width must not overwrite the
		// dimension observed first.
		vec := []float32{1, 1}
		if n > 1 {
			vec = []float32{1, 1, 1, 1}
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"index": 0, "embedding": vec}},
		})
	})

	_, err := p.Embed(context.Background(), []string{"a"})
	require.NoError(t, err)
	_, err = p.Embed(context.Background(), []string{"b"})
	require.NoError(t, err)
	assert.Equal(t, 2, p.Dimension())
}

func TestOpenAIProvider_ConcurrentEmbedsAgreeOnDimension(t *testing.T) {
	p := newOpenAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"index": 0, "embedding": []float32{1, 2, 3}}},
		})
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Embed(context.Background(), []string{"text"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 3, p.Dimension())
}

func TestOpenAIProvider_EmptyInput(t *testing.T) {
	p := NewOpenAIProvider(OpenAIConfig{BaseURL: "http://unused", Model: "m"}, testLogger())
	vectors, err := p.Embed(context.Background(), nil)
	assert.NoError(t, err)
	assert.Nil(t, vectors)
}

func TestOpenAIProvider_ClassifiesStatusCodes(t *testing.T) {
	cases := []struct {
		name     string
		status   int
		body     string
		wantCode models.ErrorCode
	}{
		{"rate limited", http.StatusTooManyRequests, `{}`, models.ErrRateLimited},
		{"quota exhausted", http.StatusTooManyRequests, `{"error":{"message":"quota","code":"insufficient_quota"}}`, models.ErrRateLimited},
		{"bad input", http.StatusBadRequest, `{"error":{"message":"too long"}}`, models.ErrValidation},
		{"auth", http.StatusUnauthorized, `{}`, models.ErrInternal},
		{"server error", http.StatusBadGateway, `{}`, models.ErrDependencyUnavailable},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := newOpenAIServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			})
			_, err := p.Embed(context.Background(), []string{"x"})
			require.Error(t, err)
			assert.Equal(t, tc.wantCode, models.CodeOf(err))
		})
	}
}

func TestOpenAIProvider_CountMismatchIsError(t *testing.T) {
	p := newOpenAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"index": 0, "embedding": []float32{1}}},
		})
	})
	_, err := p.Embed(context.Background(), []string{"a", "b"})
	require.Error(t, err)
	assert.Equal(t, models.ErrDependencyUnavailable, models.CodeOf(err))
}

func TestOpenAIProvider_UnreachableHost(t *testing.T) {
	p := NewOpenAIProvider(OpenAIConfig{BaseURL: "http://127.0.0.1:1", Model: "m"}, testLogger())
	_, err := p.Embed(context.Background(), []string{"x"})
	require.Error(t, err)
	assert.Equal(t, models.ErrDependencyUnavailable, models.CodeOf(err))
}

func TestCheckDimension(t *testing.T) {
	assert.NoError(t, CheckDimension(&fakeProvider{}, 2))
	assert.Error(t, CheckDimension(&fakeProvider{}, 1536))
	// Unknown dimensions pass; the guard only fires on a confirmed mismatch.
	assert.NoError(t, CheckDimension(&fakeProvider{}, 0))
}

// ============================================================================
// Cache
// ============================================================================

func TestCachedProvider_ServesHitsAndEmbedsMisses(t *testing.T) {
	inner := &fakeProvider{}
	cache, err := NewLRUCache(16)
	require.NoError(t, err)
	p := NewCachedProvider(inner, cache, "test-model", testLogger())

	first, err := p.Embed(context.Background(), []string{"aaa", "bb"})
	require.NoError(t, err)
	assert.Equal(t, 1, inner.calls)

	// Second call with one cached text and one new one.
	second, err := p.Embed(context.Background(), []string{"aaa", "cccc"})
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)
	assert.Equal(t, []string{"cccc"}, inner.lastTexts)
	assert.Equal(t, first[0], second[0])
	assert.Equal(t, []float32{4, 1}, second[1])

	// Fully cached call never reaches the provider.
	_, err = p.Embed(context.Background(), []string{"bb", "cccc"})
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)
}

func TestCachedProvider_ProviderErrorPropagates(t *testing.T) {
	inner := &fakeProvider{err: errors.New("down")}
	cache, err := NewLRUCache(16)
	require.NoError(t, err)
	p := NewCachedProvider(inner, cache, "test-model", testLogger())

	_, err = p.Embed(context.Background(), []string{"x"})
	assert.Error(t, err)
}

func TestCacheKey_DistinguishesModelAndText(t *testing.T) {
	assert.NotEqual(t, CacheKey("m1", "text"), CacheKey("m2", "text"))
	assert.NotEqual(t, CacheKey("m1", "a"), CacheKey("m1", "b"))
	assert.Equal(t, CacheKey("m1", "a"), CacheKey("m1", "a"))
}
