package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kalambet/leadnexus/internal/storage"
	"github.com/kalambet/leadnexus/internal/vector"
)

// Store persists memories and ranks them against a query vector.
type Store interface {
	Insert(ctx context.Context, m Memory) error
	Search(ctx context.Context, vec []float32, f Filter) ([]Memory, error)
	Get(ctx context.Context, id string) (Memory, error)
	ListByOwner(ctx context.Context, ownerID string) ([]Memory, error)
	Update(ctx context.Context, id, text string, embedding []float32) error
	Delete(ctx context.Context, id string) error
	DeleteByOwner(ctx context.Context, ownerID string) (int, error)
}

// Compile-time check that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore keeps memories in the memories table of the leadnexus SQLite
// database and searches them with brute-force cosine similarity.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an existing *sql.DB. The memories table must already
// exist (created via storage migrations).
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

const memoryColumns = "id, owner_id, text, metadata_json, embedding, created_at, updated_at"

func (s *SQLiteStore) Insert(ctx context.Context, m Memory) error {
	meta, err := json.Marshal(m.Metadata)
	if err != nil {
		return fmt.Errorf("encoding memory metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO memories (id, owner_id, text, category, metadata_json, embedding, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.OwnerID, m.Text, m.Metadata.Category, string(meta), vector.Encode(m.Embedding),
		m.CreatedAt.UTC().Format(time.RFC3339Nano), m.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting memory %s: %w", m.ID, err)
	}
	return nil
}

// Search scans only id + embedding to find the top candidates, then loads
// the full rows for the winners.
func (s *SQLiteStore) Search(ctx context.Context, vec []float32, f Filter) ([]Memory, error) {
	if f.Limit <= 0 {
		return nil, nil
	}
	queryNorm := vector.Norm(vec)
	if queryNorm == 0 {
		return nil, nil
	}

	query := `SELECT id, embedding FROM memories`
	var conds []string
	var args []any
	if f.OwnerID != "" {
		conds = append(conds, "owner_id = ?")
		args = append(args, f.OwnerID)
	}
	if f.Category != "" {
		conds = append(conds, "category = ?")
		args = append(args, f.Category)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying memory vectors: %w", err)
	}
	top := vector.NewTopK(f.Limit)
	var buf []float32
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		buf, err = vector.DecodeInto(buf, blob)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("decoding embedding for %s: %w", id, err)
		}
		top.Push(id, vector.Cosine(vec, buf, queryNorm))
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}

	ranked := top.Sorted()
	out := make([]Memory, 0, len(ranked))
	for _, r := range ranked {
		m, err := s.Get(ctx, r.ID)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		m.Score = r.Score
		out = append(out, m)
	}
	return out, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (Memory, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+memoryColumns+` FROM memories WHERE id = ?`, id)
	m, err := scanMemory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Memory{}, storage.ErrNotFound
	}
	return m, err
}

// ListByOwner returns an owner's memories, oldest first.
func (s *SQLiteStore) ListByOwner(ctx context.Context, ownerID string) ([]Memory, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+memoryColumns+` FROM memories WHERE owner_id = ? ORDER BY created_at ASC, id ASC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing memories: %w", err)
	}
	defer rows.Close()

	var out []Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Update(ctx context.Context, id, text string, embedding []float32) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE memories SET text = ?, embedding = ?, updated_at = ? WHERE id = ?`,
		text, vector.Encode(embedding), time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("updating memory %s: %w", id, err)
	}
	return expectRow(res)
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting memory %s: %w", id, err)
	}
	return expectRow(res)
}

func (s *SQLiteStore) DeleteByOwner(ctx context.Context, ownerID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE owner_id = ?`, ownerID)
	if err != nil {
		return 0, fmt.Errorf("deleting memories for %s: %w", ownerID, err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func expectRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemory(row rowScanner) (Memory, error) {
	var m Memory
	var meta, createdAt, updatedAt string
	var blob []byte
	if err := row.Scan(&m.ID, &m.OwnerID, &m.Text, &meta, &blob, &createdAt, &updatedAt); err != nil {
		return Memory{}, err
	}
	if err := json.Unmarshal([]byte(meta), &m.Metadata); err != nil {
		return Memory{}, fmt.Errorf("decoding metadata for memory %s: %w", m.ID, err)
	}
	emb, err := vector.Decode(blob)
	if err != nil {
		return Memory{}, fmt.Errorf("decoding embedding for memory %s: %w", m.ID, err)
	}
	m.Embedding = emb
	if m.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return Memory{}, fmt.Errorf("parsing created_at for memory %s: %w", m.ID, err)
	}
	if m.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return Memory{}, fmt.Errorf("parsing updated_at for memory %s: %w", m.ID, err)
	}
	return m, nil
}
