package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/leadnexus/internal/apperr"
	"github.com/kalambet/leadnexus/internal/vector"
)

const leadColumns = "id, category, name, email, bio, source_url, embedding, created_at, updated_at"

// NormalizeEmail is the canonical form used for uniqueness checks.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CreateLead inserts a lead. ID and timestamps are filled in when empty.
func (s *Store) CreateLead(ctx context.Context, l Lead) (Lead, error) {
	l = prepareLead(l)
	if err := l.Validate(); err != nil {
		return Lead{}, err
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO leads (`+leadColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, string(l.Category), l.Name, l.Email, l.Bio, l.SourceURL,
		vector.Encode(l.Embedding),
		l.CreatedAt.Format(time.RFC3339Nano), l.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return Lead{}, fmt.Errorf("inserting lead: %w", translateSQLite(err))
	}
	return l, nil
}

func (s *Store) GetLead(ctx context.Context, id string) (Lead, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = ?`, id)
	l, err := scanLead(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Lead{}, ErrNotFound
	}
	return l, err
}

// GetLeadByEmail looks a lead up by its normalized email.
func (s *Store) GetLeadByEmail(ctx context.Context, email string) (Lead, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE email = ?`, NormalizeEmail(email))
	l, err := scanLead(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Lead{}, ErrNotFound
	}
	return l, err
}

// UpdateLead replaces every mutable field of an existing lead.
func (s *Store) UpdateLead(ctx context.Context, l Lead) (Lead, error) {
	l.Email = NormalizeEmail(l.Email)
	if err := l.Validate(); err != nil {
		return Lead{}, err
	}
	l.UpdatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx,
		`UPDATE leads SET category = ?, name = ?, email = ?, bio = ?, source_url = ?, embedding = ?, updated_at = ?
		 WHERE id = ?`,
		string(l.Category), l.Name, l.Email, l.Bio, l.SourceURL,
		vector.Encode(l.Embedding), l.UpdatedAt.Format(time.RFC3339Nano), l.ID,
	)
	if err != nil {
		return Lead{}, fmt.Errorf("updating lead: %w", translateSQLite(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Lead{}, fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return Lead{}, ErrNotFound
	}
	return s.GetLead(ctx, l.ID)
}

// DeleteLead removes a lead. Its relationships are removed by cascade.
func (s *Store) DeleteLead(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM leads WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting lead: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListLeads returns leads newest first, optionally filtered by category.
func (s *Store) ListLeads(ctx context.Context, category Category, limit, offset int) ([]Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads`
	var args []any
	if category != "" {
		query += ` WHERE category = ?`
		args = append(args, string(category))
	}
	query += ` ORDER BY created_at DESC, id ASC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing leads: %w", err)
	}
	defer rows.Close()

	var out []Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *Store) CountLeads(ctx context.Context, category Category) (int, error) {
	query := `SELECT COUNT(*) FROM leads`
	var args []any
	if category != "" {
		query += ` WHERE category = ?`
		args = append(args, string(category))
	}
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting leads: %w", err)
	}
	return n, nil
}

// FindSimilar returns the k leads closest to vec by cosine similarity.
func (s *Store) FindSimilar(ctx context.Context, vec []float32, k int) ([]ScoredLead, error) {
	return s.rank(ctx, vec, "", k, 0)
}

// SearchLeads ranks leads by similarity to vec and returns one page.
func (s *Store) SearchLeads(ctx context.Context, vec []float32, category Category, limit, offset int) ([]ScoredLead, error) {
	return s.rank(ctx, vec, category, limit, offset)
}

// rank scans embeddings in a first pass keeping only the best offset+limit
// ids, then loads the full rows for the requested page.
func (s *Store) rank(ctx context.Context, vec []float32, category Category, limit, offset int) ([]ScoredLead, error) {
	if offset < 0 {
		return nil, apperr.New(apperr.ValidationFailure, "offset must not be negative")
	}
	if limit <= 0 || offset > math.MaxInt-limit {
		return nil, nil
	}
	query := vector.Normalize(vec, vector.Dimension)
	qNorm := vector.Norm(query)

	sqlQuery := `SELECT id, embedding FROM leads`
	var args []any
	if category != "" {
		sqlQuery += ` WHERE category = ?`
		args = append(args, string(category))
	}
	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("scanning embeddings: %w", err)
	}

	top := vector.NewTopK(offset + limit)
	buf := make([]float32, 0, vector.Dimension)
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning embedding row: %w", err)
		}
		buf, err = vector.DecodeInto(buf[:0], blob)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("decoding embedding for lead %s: %w", id, err)
		}
		top.Push(id, vector.Cosine(query, buf, qNorm))
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	ranked := top.Sorted()
	if offset >= len(ranked) {
		return nil, nil
	}
	ranked = ranked[offset:]

	out := make([]ScoredLead, 0, len(ranked))
	for _, r := range ranked {
		l, err := s.GetLead(ctx, r.ID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, ScoredLead{Lead: l, Similarity: r.Score})
	}
	return out, nil
}

// CreateRelationship records a typed edge between two existing leads.
func (s *Store) CreateRelationship(ctx context.Context, r Relationship) (Relationship, error) {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO lead_metadata (id, lead_id, related_lead_id, relationship_type, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		r.ID, r.LeadID, r.RelatedLeadID, r.RelationshipType, r.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return Relationship{}, fmt.Errorf("inserting relationship: %w", translateSQLite(err))
	}
	return r, nil
}

// ListRelationships returns edges touching leadID on either end.
func (s *Store) ListRelationships(ctx context.Context, leadID string) ([]Relationship, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, lead_id, related_lead_id, relationship_type, created_at
		 FROM lead_metadata WHERE lead_id = ? OR related_lead_id = ?
		 ORDER BY created_at ASC, id ASC`,
		leadID, leadID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing relationships: %w", err)
	}
	defer rows.Close()

	var out []Relationship
	for rows.Next() {
		var r Relationship
		var created string
		if err := rows.Scan(&r.ID, &r.LeadID, &r.RelatedLeadID, &r.RelationshipType, &created); err != nil {
			return nil, fmt.Errorf("scanning relationship: %w", err)
		}
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) DeleteRelationship(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM lead_metadata WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting relationship: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func prepareLead(l Lead) Lead {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if l.CreatedAt.IsZero() {
		l.CreatedAt = now
	}
	if l.UpdatedAt.IsZero() {
		l.UpdatedAt = l.CreatedAt
	}
	l.Email = NormalizeEmail(l.Email)
	return l
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLead(row rowScanner) (Lead, error) {
	var l Lead
	var category, created, updated string
	var blob []byte
	if err := row.Scan(&l.ID, &category, &l.Name, &l.Email, &l.Bio, &l.SourceURL, &blob, &created, &updated); err != nil {
		return Lead{}, err
	}
	l.Category = Category(category)
	emb, err := vector.Decode(blob)
	if err != nil {
		return Lead{}, fmt.Errorf("decoding embedding for lead %s: %w", l.ID, err)
	}
	l.Embedding = emb
	l.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	l.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return l, nil
}
