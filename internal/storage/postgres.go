package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/kalambet/leadnexus/internal/apperr"
	"github.com/kalambet/leadnexus/internal/vector"
)

//go:embed migrations/postgres/*.sql
var postgresMigrations embed.FS

// PGStore keeps leads and relationships in Postgres with the pgvector
// extension. Similarity ranking runs in the database.
type PGStore struct {
	db *sql.DB
}

// OpenPostgres connects to databaseURL and applies pending migrations.
func OpenPostgres(ctx context.Context, databaseURL string) (*PGStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", translatePostgres(err))
	}

	if err := migrate(db, postgresMigrations, "migrations/postgres", "$1"); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", translatePostgres(err))
	}
	return &PGStore{db: db}, nil
}

func (s *PGStore) Close() error {
	return s.db.Close()
}

func (s *PGStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PGStore) AppliedMigrations() ([]int, error) {
	return appliedMigrations(s.db)
}

func (s *PGStore) CreateLead(ctx context.Context, l Lead) (Lead, error) {
	l = prepareLead(l)
	if err := l.Validate(); err != nil {
		return Lead{}, err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO leads (id, category, name, email, bio, source_url, embedding, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::vector, $8, $9)`,
		l.ID, string(l.Category), l.Name, l.Email, l.Bio, l.SourceURL,
		pgVector(l.Embedding), l.CreatedAt, l.UpdatedAt,
	)
	if err != nil {
		return Lead{}, fmt.Errorf("inserting lead: %w", translatePostgres(err))
	}
	return l, nil
}

const pgLeadColumns = "id::text, category::text, name, email, bio, source_url, embedding::text, created_at, updated_at"

func (s *PGStore) GetLead(ctx context.Context, id string) (Lead, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Lead{}, ErrNotFound
	}
	l, err := scanPGLead(s.db.QueryRowContext(ctx, `SELECT `+pgLeadColumns+` FROM leads WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Lead{}, ErrNotFound
	}
	return l, err
}

func (s *PGStore) GetLeadByEmail(ctx context.Context, email string) (Lead, error) {
	l, err := scanPGLead(s.db.QueryRowContext(ctx, `SELECT `+pgLeadColumns+` FROM leads WHERE email = $1`, NormalizeEmail(email)))
	if errors.Is(err, sql.ErrNoRows) {
		return Lead{}, ErrNotFound
	}
	return l, err
}

func (s *PGStore) UpdateLead(ctx context.Context, l Lead) (Lead, error) {
	if _, err := uuid.Parse(l.ID); err != nil {
		return Lead{}, ErrNotFound
	}
	l.Email = NormalizeEmail(l.Email)
	if err := l.Validate(); err != nil {
		return Lead{}, err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE leads SET category = $1, name = $2, email = $3, bio = $4, source_url = $5,
		 embedding = $6::vector, updated_at = now() WHERE id = $7`,
		string(l.Category), l.Name, l.Email, l.Bio, l.SourceURL, pgVector(l.Embedding), l.ID,
	)
	if err != nil {
		return Lead{}, fmt.Errorf("updating lead: %w", translatePostgres(err))
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

func (s *PGStore) DeleteLead(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM leads WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting lead: %w", translatePostgres(err))
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

func (s *PGStore) ListLeads(ctx context.Context, category Category, limit, offset int) ([]Lead, error) {
	query := `SELECT ` + pgLeadColumns + ` FROM leads`
	args := []any{}
	if category != "" {
		args = append(args, string(category))
		query += ` WHERE category = $1::lead_category`
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, id ASC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing leads: %w", translatePostgres(err))
	}
	defer rows.Close()

	var out []Lead
	for rows.Next() {
		l, err := scanPGLead(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *PGStore) CountLeads(ctx context.Context, category Category) (int, error) {
	query := `SELECT COUNT(*) FROM leads`
	var args []any
	if category != "" {
		query += ` WHERE category = $1::lead_category`
		args = append(args, string(category))
	}
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting leads: %w", translatePostgres(err))
	}
	return n, nil
}

func (s *PGStore) FindSimilar(ctx context.Context, vec []float32, k int) ([]ScoredLead, error) {
	return s.SearchLeads(ctx, vec, "", k, 0)
}

// SearchLeads orders by the pgvector cosine distance operator and reports
// similarity as 1 - distance.
func (s *PGStore) SearchLeads(ctx context.Context, vec []float32, category Category, limit, offset int) ([]ScoredLead, error) {
	if offset < 0 {
		return nil, apperr.New(apperr.ValidationFailure, "offset must not be negative")
	}
	if limit <= 0 {
		return nil, nil
	}
	args := []any{pgVector(vector.Normalize(vec, vector.Dimension))}
	query := `SELECT ` + pgLeadColumns + `, 1 - (embedding <=> $1::vector) AS similarity FROM leads`
	if category != "" {
		args = append(args, string(category))
		query += ` WHERE category = $2::lead_category`
	}
	query += fmt.Sprintf(` ORDER BY embedding <=> $1::vector ASC, id ASC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("searching leads: %w", translatePostgres(err))
	}
	defer rows.Close()

	var out []ScoredLead
	for rows.Next() {
		var sl ScoredLead
		var sim sql.NullFloat64
		l, err := scanPGLeadWith(rows, &sim)
		if err != nil {
			return nil, err
		}
		sl.Lead = l
		sl.Similarity = float32(sim.Float64)
		out = append(out, sl)
	}
	return out, rows.Err()
}

func (s *PGStore) CreateRelationship(ctx context.Context, r Relationship) (Relationship, error) {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO lead_metadata (id, lead_id, related_lead_id, relationship_type, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		r.ID, r.LeadID, r.RelatedLeadID, r.RelationshipType, r.CreatedAt,
	)
	if err != nil {
		return Relationship{}, fmt.Errorf("inserting relationship: %w", translatePostgres(err))
	}
	return r, nil
}

func (s *PGStore) ListRelationships(ctx context.Context, leadID string) ([]Relationship, error) {
	if _, err := uuid.Parse(leadID); err != nil {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id::text, lead_id::text, related_lead_id::text, relationship_type, created_at
		 FROM lead_metadata WHERE lead_id = $1 OR related_lead_id = $1
		 ORDER BY created_at ASC, id ASC`, leadID)
	if err != nil {
		return nil, fmt.Errorf("listing relationships: %w", translatePostgres(err))
	}
	defer rows.Close()

	var out []Relationship
	for rows.Next() {
		var r Relationship
		if err := rows.Scan(&r.ID, &r.LeadID, &r.RelatedLeadID, &r.RelationshipType, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning relationship: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PGStore) DeleteRelationship(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM lead_metadata WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting relationship: %w", translatePostgres(err))
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

func scanPGLead(row rowScanner) (Lead, error) {
	return scanPGLeadWith(row)
}

func scanPGLeadWith(row rowScanner, extra ...any) (Lead, error) {
	var l Lead
	var category, emb string
	dest := []any{&l.ID, &category, &l.Name, &l.Email, &l.Bio, &l.SourceURL, &emb, &l.CreatedAt, &l.UpdatedAt}
	dest = append(dest, extra...)
	if err := row.Scan(dest...); err != nil {
		return Lead{}, err
	}
	l.Category = Category(category)
	v, err := parsePGVector(emb)
	if err != nil {
		return Lead{}, fmt.Errorf("parsing embedding for lead %s: %w", l.ID, err)
	}
	l.Embedding = v
	return l, nil
}

// pgVector renders v in pgvector's text input format: [1,2,3].
func pgVector(v []float32) string {
	var b strings.Builder
	b.Grow(len(v) * 10)
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'g', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

func parsePGVector(s string) ([]float32, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]float32, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, err
		}
		out[i] = float32(f)
	}
	return out, nil
}
