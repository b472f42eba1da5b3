package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/kalambet/leadnexus/internal/apperr"
	"github.com/kalambet/leadnexus/internal/engine"
	"github.com/kalambet/leadnexus/internal/vector"
)

// mockEngine implements engine.Engine for testing.
type mockEngine struct {
	embedFn func(ctx context.Context, model string, text string) ([]float32, error)
}

func (m *mockEngine) Name() string { return "mock" }
func (m *mockEngine) Chat(_ context.Context, _ string, _ []engine.Message, _ *engine.Schema) (string, error) {
	return "", fmt.Errorf("not implemented")
}
func (m *mockEngine) Embed(ctx context.Context, model string, text string) ([]float32, error) {
	return m.embedFn(ctx, model, text)
}

// mapCache is an in-memory Cache.
type mapCache struct {
	mu   sync.Mutex
	data map[string][]float32
	sets int
}

func (c *mapCache) Get(_ context.Context, key string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok
}

func (c *mapCache) Set(_ context.Context, key string, vec []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.data == nil {
		c.data = map[string][]float32{}
	}
	c.data[key] = vec
	c.sets++
}

func makeVector(dim int) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = float32(i) * 0.001
	}
	return v
}

func TestEmbed_ReturnsDimension(t *testing.T) {
	mock := &mockEngine{
		embedFn: func(_ context.Context, _ string, _ string) ([]float32, error) {
			return makeVector(vector.Dimension), nil
		},
	}
	e := NewEmbedder(mock, "text-embedding-004", nil)

	vec, err := e.Embed(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != vector.Dimension {
		t.Errorf("got %d dimensions, want %d", len(vec), vector.Dimension)
	}
}

func TestEmbed_PadsShortVectors(t *testing.T) {
	mock := &mockEngine{
		embedFn: func(_ context.Context, _ string, _ string) ([]float32, error) {
			return makeVector(500), nil
		},
	}
	vec, err := NewEmbedder(mock, "m", nil).Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != vector.Dimension {
		t.Fatalf("got %d dimensions, want %d", len(vec), vector.Dimension)
	}
	if vec[499] != float32(499)*0.001 {
		t.Errorf("vec[499] = %v, want provider value kept", vec[499])
	}
	for i := 500; i < vector.Dimension; i++ {
		if vec[i] != 0 {
			t.Fatalf("vec[%d] = %v, want zero padding", i, vec[i])
		}
	}
}

func TestEmbed_TruncatesLongVectors(t *testing.T) {
	mock := &mockEngine{
		embedFn: func(_ context.Context, _ string, _ string) ([]float32, error) {
			return makeVector(3072), nil
		},
	}
	vec, err := NewEmbedder(mock, "m", nil).Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != vector.Dimension {
		t.Errorf("got %d dimensions, want %d", len(vec), vector.Dimension)
	}
}

func TestEmbed_EmptyText(t *testing.T) {
	mock := &mockEngine{
		embedFn: func(_ context.Context, _ string, _ string) ([]float32, error) {
			t.Fatal("should not be called for empty text")
			return nil, nil
		},
	}
	_, err := NewEmbedder(mock, "m", nil).Embed(context.Background(), "  ")
	if !apperr.Is(err, apperr.ValidationFailure) {
		t.Errorf("err = %v, want ValidationFailure", err)
	}
}

func TestEmbed_ProviderError(t *testing.T) {
	mock := &mockEngine{
		embedFn: func(_ context.Context, _ string, _ string) ([]float32, error) {
			return nil, errors.New("connection refused")
		},
	}
	_, err := NewEmbedder(mock, "m", nil).Embed(context.Background(), "hello")
	if !apperr.Is(err, apperr.UpstreamProviderFailure) {
		t.Fatalf("err = %v, want UpstreamProviderFailure", err)
	}
}

func TestEmbed_KeepsConfigurationMissing(t *testing.T) {
	mock := &mockEngine{
		embedFn: func(_ context.Context, _ string, _ string) ([]float32, error) {
			return nil, apperr.New(apperr.ConfigurationMissing, "no key")
		},
	}
	_, err := NewEmbedder(mock, "m", nil).Embed(context.Background(), "hello")
	if !apperr.Is(err, apperr.ConfigurationMissing) {
		t.Fatalf("err = %v, want ConfigurationMissing", err)
	}
}

func TestEmbed_UsesCache(t *testing.T) {
	calls := 0
	mock := &mockEngine{
		embedFn: func(_ context.Context, _ string, _ string) ([]float32, error) {
			calls++
			return makeVector(vector.Dimension), nil
		},
	}
	cache := &mapCache{}
	e := NewEmbedder(mock, "m", cache)

	for range 3 {
		if _, err := e.Embed(context.Background(), "same text"); err != nil {
			t.Fatalf("Embed: %v", err)
		}
	}
	if calls != 1 {
		t.Errorf("provider called %d times, want 1", calls)
	}
	if _, ok := cache.data[cacheKey("m", "same text")]; !ok {
		t.Error("expected the vector to be cached under the model-scoped key")
	}
}

func TestCacheKey(t *testing.T) {
	k := cacheKey("text-embedding-004", "hello")
	if !strings.HasPrefix(k, "leadnexus:emb:text-embedding-004:") {
		t.Errorf("key = %q", k)
	}
	if cacheKey("other", "hello") == k {
		t.Error("keys must differ across models")
	}
}

func TestEmbedBatch_PreservesOrder(t *testing.T) {
	mock := &mockEngine{
		embedFn: func(_ context.Context, _ string, text string) ([]float32, error) {
			v := make([]float32, vector.Dimension)
			v[0] = float32(len(text))
			return v, nil
		},
	}
	e := NewEmbedder(mock, "m", nil)

	texts := []string{"a", "bbbb", "cc", "ddddddd", "eee", "ffffff"}
	vecs, err := e.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vecs) != len(texts) {
		t.Fatalf("got %d vectors, want %d", len(vecs), len(texts))
	}
	for i, text := range texts {
		single, _ := e.Embed(context.Background(), text)
		if vecs[i][0] != single[0] {
			t.Errorf("vecs[%d][0] = %v, want %v", i, vecs[i][0], single[0])
		}
	}
}

func TestEmbedBatch_Error(t *testing.T) {
	mock := &mockEngine{
		embedFn: func(_ context.Context, _ string, text string) ([]float32, error) {
			if text == "b" {
				return nil, errors.New("embedding failed")
			}
			return makeVector(vector.Dimension), nil
		},
	}
	e := NewEmbedder(mock, "m", nil)

	_, err := e.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "embedding failed") {
		t.Errorf("unexpected error message: %v", err)
	}
}

func TestEmbedBatch_EmptyInput(t *testing.T) {
	mock := &mockEngine{
		embedFn: func(_ context.Context, _ string, _ string) ([]float32, error) {
			t.Fatal("should not be called for empty input")
			return nil, nil
		},
	}
	vecs, err := NewEmbedder(mock, "m", nil).EmbedBatch(context.Background(), nil)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if vecs != nil {
		t.Errorf("got %v, want nil", vecs)
	}
}
