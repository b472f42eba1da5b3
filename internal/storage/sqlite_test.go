package storage

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/kalambet/leadnexus/internal/apperr"
	"github.com/kalambet/leadnexus/internal/vector"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// unitVec returns a Dimension-length vector with a single 1 at position i.
func unitVec(i int) []float32 {
	v := make([]float32, vector.Dimension)
	v[i] = 1
	return v
}

func testLead(name, email string, cat Category, emb []float32) Lead {
	return Lead{
		Category:  cat,
		Name:      name,
		Email:     email,
		Bio:       name + " writes about things.",
		SourceURL: "https://example.com/" + name,
		Embedding: emb,
	}
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}

	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

// TestMigrationsOrdered verifies migrations are applied in ascending numeric order.
func TestMigrationsOrdered(t *testing.T) {
	s := openTestStore(t)

	versions, err := s.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(versions) == 0 {
		t.Fatal("expected at least one applied migration")
	}

	for i := 1; i < len(versions); i++ {
		if versions[i] <= versions[i-1] {
			t.Errorf("migrations not in ascending order: %v", versions)
			break
		}
	}
}

func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	indexes := []string{"idx_leads_category", "idx_leads_created", "idx_lead_metadata_lead", "idx_memories_owner", "idx_jobs_status_run_after"}
	for _, idx := range indexes {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&count)
		if err != nil {
			t.Fatalf("querying index %s: %v", idx, err)
		}
		if count != 1 {
			t.Errorf("index %s not found", idx)
		}
	}
}

func TestParseMigrationVersion(t *testing.T) {
	v, err := parseMigrationVersion("007_add_things.sql")
	if err != nil || v != 7 {
		t.Errorf("parseMigrationVersion = %d, %v; want 7, nil", v, err)
	}
	if _, err := parseMigrationVersion("init.sql"); err == nil {
		t.Error("expected error for unnumbered migration")
	}
}

func TestCreateAndGetLead(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	created, err := s.CreateLead(ctx, testLead("Ada", " Ada@Example.COM ", CategoryJournalist, unitVec(0)))
	if err != nil {
		t.Fatalf("CreateLead: %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected generated ID")
	}
	if created.Email != "ada@example.com" {
		t.Errorf("Email = %q, want normalized", created.Email)
	}

	got, err := s.GetLead(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetLead: %v", err)
	}
	if got.Name != "Ada" || got.Category != CategoryJournalist {
		t.Errorf("got %+v", got)
	}
	if len(got.Embedding) != vector.Dimension || got.Embedding[0] != 1 {
		t.Errorf("embedding not round-tripped")
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}

	byEmail, err := s.GetLeadByEmail(ctx, "ADA@example.com")
	if err != nil {
		t.Fatalf("GetLeadByEmail: %v", err)
	}
	if byEmail.ID != created.ID {
		t.Errorf("GetLeadByEmail ID = %q, want %q", byEmail.ID, created.ID)
	}
}

func TestCreateLead_RejectsWrongDimension(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	cases := map[string][]float32{
		"short":   {0.5, 0.5},
		"long":    make([]float32, vector.Dimension+1),
		"missing": nil,
	}
	for name, emb := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := s.CreateLead(ctx, testLead("Wrong", name+"@example.com", CategoryPublisher, emb))
			if !apperr.Is(err, apperr.ValidationFailure) {
				t.Fatalf("err = %v, want ValidationFailure", err)
			}
			if _, err := s.GetLeadByEmail(ctx, name+"@example.com"); !errors.Is(err, ErrNotFound) {
				t.Errorf("lead was stored: %v", err)
			}
		})
	}
}

func TestUpdateLead_RejectsWrongDimension(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	l, err := s.CreateLead(ctx, testLead("Keep", "keep@example.com", CategoryPublisher, unitVec(3)))
	if err != nil {
		t.Fatalf("CreateLead: %v", err)
	}
	l.Embedding = []float32{1, 2, 3}
	if _, err := s.UpdateLead(ctx, l); !apperr.Is(err, apperr.ValidationFailure) {
		t.Fatalf("err = %v, want ValidationFailure", err)
	}
	got, err := s.GetLead(ctx, l.ID)
	if err != nil {
		t.Fatalf("GetLead: %v", err)
	}
	if len(got.Embedding) != vector.Dimension || got.Embedding[3] != 1 {
		t.Errorf("stored embedding changed")
	}
}

func TestCreateLead_DuplicateEmail(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateLead(ctx, testLead("A", "dup@example.com", CategoryInfluencer, unitVec(1))); err != nil {
		t.Fatalf("first CreateLead: %v", err)
	}
	_, err := s.CreateLead(ctx, testLead("B", "DUP@example.com", CategoryInfluencer, unitVec(2)))
	if !apperr.Is(err, apperr.DuplicateEmail) {
		t.Fatalf("err = %v, want DuplicateEmail", err)
	}
}

func TestCreateLead_Validation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	cases := []struct {
		name string
		lead Lead
		kind apperr.Kind
	}{
		{"missing name", testLead("", "x@example.com", CategoryInfluencer, unitVec(0)), apperr.MissingRequiredField},
		{"missing email", testLead("X", "", CategoryInfluencer, unitVec(0)), apperr.MissingRequiredField},
		{"bad category", testLead("X", "x@example.com", Category("blogger"), unitVec(0)), apperr.ValidationFailure},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.CreateLead(ctx, tc.lead)
			if !apperr.Is(err, tc.kind) {
				t.Errorf("err = %v, want %s", err, tc.kind)
			}
		})
	}
}

func TestGetLeadNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetLead(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestUpdateLead(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	l, err := s.CreateLead(ctx, testLead("Old", "old@example.com", CategoryInfluencer, unitVec(0)))
	if err != nil {
		t.Fatalf("CreateLead: %v", err)
	}
	l.Name = "New"
	l.Category = CategoryPublisher
	updated, err := s.UpdateLead(ctx, l)
	if err != nil {
		t.Fatalf("UpdateLead: %v", err)
	}
	if updated.Name != "New" || updated.Category != CategoryPublisher {
		t.Errorf("update not applied: %+v", updated)
	}

	l.ID = "missing"
	if _, err := s.UpdateLead(ctx, l); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateLead missing: err = %v, want ErrNotFound", err)
	}
}

func TestDeleteLead_CascadesRelationships(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a, _ := s.CreateLead(ctx, testLead("A", "a@example.com", CategoryInfluencer, unitVec(0)))
	b, _ := s.CreateLead(ctx, testLead("B", "b@example.com", CategoryInfluencer, unitVec(1)))
	if _, err := s.CreateRelationship(ctx, Relationship{LeadID: a.ID, RelatedLeadID: b.ID, RelationshipType: "colleague"}); err != nil {
		t.Fatalf("CreateRelationship: %v", err)
	}

	if err := s.DeleteLead(ctx, a.ID); err != nil {
		t.Fatalf("DeleteLead: %v", err)
	}
	rels, err := s.ListRelationships(ctx, b.ID)
	if err != nil {
		t.Fatalf("ListRelationships: %v", err)
	}
	if len(rels) != 0 {
		t.Errorf("got %d relationships after cascade, want 0", len(rels))
	}
	if err := s.DeleteLead(ctx, a.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second DeleteLead: err = %v, want ErrNotFound", err)
	}
}

func TestCreateRelationship_Errors(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a, _ := s.CreateLead(ctx, testLead("A", "a@example.com", CategoryInfluencer, unitVec(0)))
	b, _ := s.CreateLead(ctx, testLead("B", "b@example.com", CategoryJournalist, unitVec(1)))

	_, err := s.CreateRelationship(ctx, Relationship{LeadID: a.ID, RelatedLeadID: "ghost", RelationshipType: "x"})
	if !apperr.Is(err, apperr.InvalidReference) {
		t.Errorf("dangling edge: err = %v, want InvalidReference", err)
	}

	r := Relationship{LeadID: a.ID, RelatedLeadID: b.ID, RelationshipType: "mentor"}
	if _, err := s.CreateRelationship(ctx, r); err != nil {
		t.Fatalf("CreateRelationship: %v", err)
	}
	_, err = s.CreateRelationship(ctx, r)
	if !apperr.Is(err, apperr.ValidationFailure) {
		t.Errorf("duplicate edge: err = %v, want ValidationFailure", err)
	}

	rels, err := s.ListRelationships(ctx, a.ID)
	if err != nil {
		t.Fatalf("ListRelationships: %v", err)
	}
	if len(rels) != 1 || rels[0].RelationshipType != "mentor" {
		t.Errorf("rels = %+v", rels)
	}
	if err := s.DeleteRelationship(ctx, rels[0].ID); err != nil {
		t.Fatalf("DeleteRelationship: %v", err)
	}
}

func TestListAndCountLeads(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 25; i++ {
		cat := CategoryInfluencer
		if i%5 == 0 {
			cat = CategoryJournalist
		}
		l := testLead(fmt.Sprintf("lead-%02d", i), fmt.Sprintf("l%02d@example.com", i), cat, unitVec(i))
		l.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if _, err := s.CreateLead(ctx, l); err != nil {
			t.Fatalf("CreateLead %d: %v", i, err)
		}
	}

	total, err := s.CountLeads(ctx, "")
	if err != nil || total != 25 {
		t.Fatalf("CountLeads = %d, %v; want 25", total, err)
	}
	journalists, err := s.CountLeads(ctx, CategoryJournalist)
	if err != nil || journalists != 5 {
		t.Fatalf("CountLeads(journalist) = %d, %v; want 5", journalists, err)
	}

	page3, err := s.ListLeads(ctx, "", 10, 20)
	if err != nil {
		t.Fatalf("ListLeads: %v", err)
	}
	if len(page3) != 5 {
		t.Fatalf("page 3 has %d leads, want 5", len(page3))
	}
	if page3[0].Name != "lead-04" {
		t.Errorf("first on page 3 = %q, want lead-04 (newest first)", page3[0].Name)
	}

	onlyJ, err := s.ListLeads(ctx, CategoryJournalist, 10, 0)
	if err != nil {
		t.Fatalf("ListLeads(journalist): %v", err)
	}
	for _, l := range onlyJ {
		if l.Category != CategoryJournalist {
			t.Errorf("category filter leaked %s", l.Category)
		}
	}
}

func TestSearchLeads_RanksByCosine(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	near := unitVec(0)
	near[1] = 0.1
	far := unitVec(1)
	mid := unitVec(0)
	mid[1] = 1

	for _, l := range []Lead{
		testLead("far", "far@example.com", CategoryInfluencer, far),
		testLead("near", "near@example.com", CategoryInfluencer, near),
		testLead("mid", "mid@example.com", CategoryPublisher, mid),
	} {
		if _, err := s.CreateLead(ctx, l); err != nil {
			t.Fatalf("CreateLead: %v", err)
		}
	}

	got, err := s.SearchLeads(ctx, unitVec(0), "", 10, 0)
	if err != nil {
		t.Fatalf("SearchLeads: %v", err)
	}
	want := []string{"near", "mid", "far"}
	if len(got) != len(want) {
		t.Fatalf("got %d results, want %d", len(got), len(want))
	}
	for i, name := range want {
		if got[i].Name != name {
			t.Errorf("rank %d = %s, want %s", i, got[i].Name, name)
		}
	}
	if got[0].Similarity < 0.99 {
		t.Errorf("top similarity = %v, want ~1", got[0].Similarity)
	}

	page2, err := s.SearchLeads(ctx, unitVec(0), "", 2, 2)
	if err != nil {
		t.Fatalf("SearchLeads page 2: %v", err)
	}
	if len(page2) != 1 || page2[0].Name != "far" {
		t.Errorf("page 2 = %+v, want [far]", page2)
	}

	filtered, err := s.SearchLeads(ctx, unitVec(0), CategoryPublisher, 10, 0)
	if err != nil {
		t.Fatalf("SearchLeads filtered: %v", err)
	}
	if len(filtered) != 1 || filtered[0].Name != "mid" {
		t.Errorf("filtered = %+v, want [mid]", filtered)
	}

	similar, err := s.FindSimilar(ctx, unitVec(1), 1)
	if err != nil {
		t.Fatalf("FindSimilar: %v", err)
	}
	if len(similar) != 1 || similar[0].Name != "far" {
		t.Errorf("FindSimilar = %+v, want [far]", similar)
	}
}

func TestSearchLeads_OffsetBounds(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if _, err := s.CreateLead(ctx, testLead("Only", "only@example.com", CategoryPublisher, unitVec(0))); err != nil {
		t.Fatalf("CreateLead: %v", err)
	}

	if _, err := s.SearchLeads(ctx, unitVec(0), "", 100, -116); !apperr.Is(err, apperr.ValidationFailure) {
		t.Errorf("negative offset: err = %v, want ValidationFailure", err)
	}

	got, err := s.SearchLeads(ctx, unitVec(0), "", 100, math.MaxInt-50)
	if err != nil {
		t.Fatalf("huge offset: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("huge offset returned %d leads, want 0", len(got))
	}
}
