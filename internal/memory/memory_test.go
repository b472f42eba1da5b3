package memory

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/leadnexus/internal/apperr"
	"github.com/kalambet/leadnexus/internal/storage"
	"github.com/kalambet/leadnexus/internal/vector"
)

// wordEmbedder hashes each lowercase word into one dimension, so texts that
// share words score higher.
type wordEmbedder struct {
	err   error
	calls int
}

func (e *wordEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	v := make([]float32, vector.Dimension)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(strings.Trim(w, ".,:;()")))
		v[h.Sum32()%vector.Dimension]++
	}
	return v, nil
}

func newTestService(t *testing.T) (*Service, *SQLiteStore) {
	t.Helper()
	s, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	store := NewSQLiteStore(s.DB())
	svc := NewService(store, &wordEmbedder{})
	svc.now = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }
	return svc, store
}

func lead(id, name string, cat storage.Category, bio string) storage.Lead {
	return storage.Lead{ID: id, Name: name, Category: cat, Bio: bio, SourceURL: "https://example.com/" + id}
}

func TestLeadText(t *testing.T) {
	l := lead("l1", "Jane Doe", storage.CategoryJournalist, "Covers climate.")
	assert.Equal(t,
		"Lead Information:\nName: Jane Doe\nCategory: journalist\nBio: Covers climate.\nSource: https://example.com/l1",
		LeadText(l, ""))
	assert.True(t, strings.HasSuffix(LeadText(l, "Organization: The Daily"), "\nAdditional Context: Organization: The Daily"))
}

func TestAddForLead_StoresMetadata(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	m, err := svc.AddForLead(ctx, lead("l1", "Jane Doe", storage.CategoryJournalist, "Covers climate."), "Location: Oslo")
	require.NoError(t, err)
	assert.Equal(t, "l1", m.OwnerID)
	assert.Equal(t, Metadata{LeadID: "l1", Category: "journalist", SourceURL: "https://example.com/l1", Timestamp: "2025-03-01T12:00:00Z"}, m.Metadata)

	got, err := svc.ForLead(ctx, "l1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, m.Text, got[0].Text)
	assert.Equal(t, m.Metadata, got[0].Metadata)
}

func TestAddRelationship(t *testing.T) {
	svc, _ := newTestService(t)
	m, err := svc.AddRelationship(context.Background(), "a", "b", "collaborated_with")
	require.NoError(t, err)
	assert.Equal(t, "Relationship established: Lead a is connected to Lead b via collaborated_with", m.Text)
	assert.Equal(t, "a", m.OwnerID)
	assert.Equal(t, RelationshipCategory, m.Metadata.Category)
	assert.Equal(t, "b", m.Metadata.RelatedLeadID)
	assert.Equal(t, "collaborated_with", m.Metadata.RelationshipType)
}

func TestSearch_FiltersAndRanks(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.AddForLead(ctx, lead("l1", "Jane", storage.CategoryJournalist, "climate energy reporting"), "")
	require.NoError(t, err)
	_, err = svc.AddForLead(ctx, lead("l2", "Alex", storage.CategoryInfluencer, "fitness video creator"), "")
	require.NoError(t, err)
	_, err = svc.AddRelationship(ctx, "l1", "l2", "interviewed_by")
	require.NoError(t, err)

	got, err := svc.Search(ctx, "climate energy", Filter{})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "l1", got[0].OwnerID)
	assert.GreaterOrEqual(t, got[0].Score, got[1].Score)

	got, err = svc.Search(ctx, "climate", Filter{Category: "influencer"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "l2", got[0].OwnerID)

	got, err = svc.Search(ctx, "climate", Filter{OwnerID: "l1", Limit: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "l1", got[0].OwnerID)

	_, err = svc.Search(ctx, " ", Filter{})
	assert.True(t, apperr.Is(err, apperr.ValidationFailure))
}

func TestSearchContext(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.AddForLead(ctx, lead("l1", "Jane", storage.CategoryJournalist, "climate"), "")
	require.NoError(t, err)
	_, err = svc.AddForLead(ctx, lead("l2", "Alex", storage.CategoryInfluencer, "fitness"), "")
	require.NoError(t, err)

	got, err := svc.SearchContext(ctx, "climate", []string{"l2", "l1"}, 3)
	require.NoError(t, err)
	lines := strings.Split(got, "\n")
	require.Equal(t, "Related context from memory:", lines[0])
	joined := strings.Join(lines[1:], "\n")
	assert.Less(t, strings.Index(joined, "(Lead: l2)"), strings.Index(joined, "(Lead: l1)"), "context must follow leadIDs order")

	empty, err := svc.SearchContext(ctx, "climate", []string{"unknown"}, 3)
	require.NoError(t, err)
	assert.Equal(t, "", empty)
}

func TestSearchContext_LimitPerLead(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	for range 5 {
		_, err := svc.AddRelationship(ctx, "l1", "l2", "mentioned_by")
		require.NoError(t, err)
	}
	got, err := svc.SearchContext(ctx, "mentioned", []string{"l1"}, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(got, "(Lead: l1)"))
}

func TestSearchContext_EmbedderFailure(t *testing.T) {
	svc, _ := newTestService(t)
	svc.embedder = &wordEmbedder{err: errors.New("provider down")}
	_, err := svc.SearchContext(context.Background(), "q", []string{"l1"}, 3)
	assert.Error(t, err)
}

func TestBuildGraph(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.AddForLead(ctx, lead("l1", "Jane", storage.CategoryJournalist, "covers podcasts"), "")
	require.NoError(t, err)
	_, err = svc.AddRelationship(ctx, "l1", "l2", "featured_in")
	require.NoError(t, err)

	g, err := svc.BuildGraph(ctx, "podcasts featured", "")
	require.NoError(t, err)
	require.Len(t, g.Nodes, 1)
	assert.Equal(t, "l1", g.Nodes[0].ID)
	assert.Len(t, g.Nodes[0].Memories, 2)
	assert.Equal(t, []Edge{{Source: "l1", Target: "l2", Type: "featured_in"}}, g.Edges)

	g, err = svc.BuildGraph(ctx, "podcasts", "journalist")
	require.NoError(t, err)
	require.Len(t, g.Nodes, 1)
	assert.Empty(t, g.Edges)
}

func TestUpdateAndDelete(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	m, err := svc.AddForLead(ctx, lead("l1", "Jane", storage.CategoryJournalist, "climate"), "")
	require.NoError(t, err)
	_, err = svc.AddRelationship(ctx, "l1", "l2", "partnered_with")
	require.NoError(t, err)

	require.NoError(t, svc.Update(ctx, m.ID, "Jane now covers energy policy"))
	got, err := store.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "Jane now covers energy policy", got.Text)
	hits, err := svc.Search(ctx, "energy policy", Filter{Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, m.ID, hits[0].ID)

	assert.ErrorIs(t, svc.Update(ctx, "missing", "x"), storage.ErrNotFound)
	assert.True(t, apperr.Is(svc.Update(ctx, m.ID, " "), apperr.ValidationFailure))

	require.NoError(t, svc.Delete(ctx, m.ID))
	assert.ErrorIs(t, svc.Delete(ctx, m.ID), storage.ErrNotFound)

	n, err := svc.DeleteForLead(ctx, "l1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	left, err := svc.ForLead(ctx, "l1")
	require.NoError(t, err)
	assert.Empty(t, left)
}
