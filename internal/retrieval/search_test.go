package retrieval

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/kalambet/leadnexus/internal/apperr"
	"github.com/kalambet/leadnexus/internal/storage"
	"github.com/kalambet/leadnexus/internal/vector"
)

// mockContext implements ContextSource for testing.
type mockContext struct {
	searchFn func(ctx context.Context, query string, leadIDs []string, limitPerLead int) (string, error)
}

func (m *mockContext) SearchContext(ctx context.Context, query string, leadIDs []string, limitPerLead int) (string, error) {
	return m.searchFn(ctx, query, leadIDs, limitPerLead)
}

func axis(i int) []float32 {
	v := make([]float32, vector.Dimension)
	v[i] = 1
	return v
}

func openStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// seedLeads inserts n leads of the given category whose embeddings lean
// increasingly away from axis 0.
func seedLeads(t *testing.T, s *storage.Store, cat storage.Category, n int) []storage.Lead {
	t.Helper()
	out := make([]storage.Lead, n)
	for i := range n {
		emb := axis(0)
		emb[i+1] = float32(i) * 0.1
		l, err := s.CreateLead(context.Background(), storage.Lead{
			Name:      fmt.Sprintf("%s %d", cat, i),
			Email:     fmt.Sprintf("%s%d@example.com", cat, i),
			Bio:       "bio",
			Category:  cat,
			Embedding: emb,
		})
		if err != nil {
			t.Fatalf("CreateLead: %v", err)
		}
		out[i] = l
	}
	return out
}

func axisEmbedder() *Embedder {
	return NewEmbedder(&mockEngine{
		embedFn: func(_ context.Context, _ string, _ string) ([]float32, error) {
			return axis(0), nil
		},
	}, "m", nil)
}

func TestSearch_Pagination(t *testing.T) {
	s := openStore(t)
	seedLeads(t, s, storage.CategoryJournalist, 25)

	res, err := NewSearcher(axisEmbedder(), s, nil).Search(context.Background(), Query{Text: "x", Page: 2, PageSize: 10})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	want := Pagination{Page: 2, PageSize: 10, TotalItems: 25, TotalPages: 3, HasNextPage: true, HasPreviousPage: true}
	if res.Pagination != want {
		t.Errorf("Pagination = %+v, want %+v", res.Pagination, want)
	}
	if len(res.Items) != 10 {
		t.Fatalf("got %d items, want 10", len(res.Items))
	}
	if res.Items[0].Name != "journalist 10" {
		t.Errorf("first item on page 2 = %q, want journalist 10", res.Items[0].Name)
	}
	for i := 1; i < len(res.Items); i++ {
		if res.Items[i].Similarity > res.Items[i-1].Similarity {
			t.Fatalf("items not ordered by similarity at %d", i)
		}
	}
}

func TestSearch_LastPage(t *testing.T) {
	s := openStore(t)
	seedLeads(t, s, storage.CategoryJournalist, 25)

	res, err := NewSearcher(axisEmbedder(), s, nil).Search(context.Background(), Query{Text: "x", Page: 3, PageSize: 10})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res.Items) != 5 || res.Pagination.HasNextPage || !res.Pagination.HasPreviousPage {
		t.Errorf("items = %d, pagination = %+v", len(res.Items), res.Pagination)
	}
}

func TestSearch_FarPageIsEmpty(t *testing.T) {
	s := openStore(t)
	seedLeads(t, s, storage.CategoryJournalist, 3)

	res, err := NewSearcher(axisEmbedder(), s, nil).Search(context.Background(), Query{Text: "x", Page: MaxPage, PageSize: MaxPageSize})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res.Items) != 0 || res.Pagination.TotalItems != 3 || res.Pagination.HasNextPage {
		t.Errorf("items = %d, pagination = %+v", len(res.Items), res.Pagination)
	}
}

func TestSearch_CategoryFilter(t *testing.T) {
	s := openStore(t)
	seedLeads(t, s, storage.CategoryJournalist, 4)
	seedLeads(t, s, storage.CategoryInfluencer, 6)

	res, err := NewSearcher(axisEmbedder(), s, nil).Search(context.Background(), Query{Text: "x", Category: storage.CategoryJournalist, PageSize: 100})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if res.Pagination.TotalItems != 4 || len(res.Items) != 4 {
		t.Fatalf("total = %d, items = %d, want 4", res.Pagination.TotalItems, len(res.Items))
	}
	for _, it := range res.Items {
		if it.Category != storage.CategoryJournalist {
			t.Errorf("got %s lead in journalist search", it.Category)
		}
	}
}

func TestSearch_Empty(t *testing.T) {
	res, err := NewSearcher(axisEmbedder(), openStore(t), nil).Search(context.Background(), Query{Text: "x"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if res.Items == nil || len(res.Items) != 0 {
		t.Errorf("Items = %v, want empty non-nil slice", res.Items)
	}
	if res.Pagination.TotalPages != 0 || res.Pagination.HasNextPage || res.Pagination.HasPreviousPage {
		t.Errorf("Pagination = %+v", res.Pagination)
	}
}

func TestSearch_Validation(t *testing.T) {
	sr := NewSearcher(axisEmbedder(), openStore(t), nil)
	long := make([]rune, MaxQueryRunes+1)
	for i := range long {
		long[i] = 'a'
	}
	cases := []Query{
		{Text: ""},
		{Text: "   "},
		{Text: string(long)},
		{Text: "x", Page: -1},
		{Text: "x", PageSize: 101},
		{Text: "x", Category: "blogger"},
		{Text: "x", Page: math.MaxInt},
		{Text: "x", Page: MaxPage + 1, PageSize: 1},
	}
	for _, q := range cases {
		if _, err := sr.Search(context.Background(), q); !apperr.Is(err, apperr.ValidationFailure) {
			t.Errorf("Search(%+v) err = %v, want ValidationFailure", q, err)
		}
	}
}

func TestSearch_EmbeddingFailureIsFatal(t *testing.T) {
	e := NewEmbedder(&mockEngine{
		embedFn: func(_ context.Context, _ string, _ string) ([]float32, error) {
			return nil, apperr.New(apperr.ConfigurationMissing, "missing google key")
		},
	}, "m", nil)
	_, err := NewSearcher(e, openStore(t), nil).Search(context.Background(), Query{Text: "x"})
	if !apperr.Is(err, apperr.ConfigurationMissing) {
		t.Errorf("err = %v, want ConfigurationMissing", err)
	}
}

func TestSearch_MemoryContext(t *testing.T) {
	s := openStore(t)
	leads := seedLeads(t, s, storage.CategoryPublisher, 3)

	var gotIDs []string
	var gotLimit int
	mem := &mockContext{
		searchFn: func(_ context.Context, query string, ids []string, limit int) (string, error) {
			gotIDs, gotLimit = ids, limit
			return "Lead " + ids[0] + ":\n- note", nil
		},
	}
	res, err := NewSearcher(axisEmbedder(), s, mem).Search(context.Background(), Query{Text: "x"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(gotIDs) != 3 || gotIDs[0] != leads[0].ID || gotLimit != 3 {
		t.Errorf("SearchContext ids = %v, limit = %d", gotIDs, gotLimit)
	}
	if res.MemoryContext == "" {
		t.Error("expected memory context")
	}
}

func TestSearch_MemoryFailureIsSwallowed(t *testing.T) {
	s := openStore(t)
	seedLeads(t, s, storage.CategoryPublisher, 3)

	mem := &mockContext{
		searchFn: func(context.Context, string, []string, int) (string, error) {
			return "", errors.New("memory store down")
		},
	}
	res, err := NewSearcher(axisEmbedder(), s, mem).Search(context.Background(), Query{Text: "x"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res.Items) != 3 || res.Pagination.TotalItems != 3 {
		t.Errorf("items = %d, pagination = %+v", len(res.Items), res.Pagination)
	}
	if res.MemoryContext != "" {
		t.Errorf("MemoryContext = %q, want empty", res.MemoryContext)
	}
}

func TestSimilar_ExcludesSelf(t *testing.T) {
	s := openStore(t)
	leads := seedLeads(t, s, storage.CategoryInfluencer, 6)

	got, err := NewSearcher(axisEmbedder(), s, nil).Similar(context.Background(), leads[0].ID, 3)
	if err != nil {
		t.Fatalf("Similar: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d, want 3", len(got))
	}
	for _, l := range got {
		if l.ID == leads[0].ID {
			t.Error("Similar returned the seed lead")
		}
	}
	if got[0].ID != leads[1].ID {
		t.Errorf("nearest = %s, want %s", got[0].Name, leads[1].Name)
	}
}

func TestSimilar_NotFound(t *testing.T) {
	_, err := NewSearcher(axisEmbedder(), openStore(t), nil).Similar(context.Background(), "missing", 3)
	if !apperr.Is(err, apperr.NotFound) {
		t.Errorf("err = %v, want NotFound", err)
	}
}
