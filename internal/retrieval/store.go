package retrieval

import (
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// Compile-time check that SQLiteVectorStore implements both interfaces.
var (
	_ VectorStore    = (*SQLiteVectorStore)(nil)
	_ SubsetSearcher = (*SQLiteVectorStore)(nil)
)

// SQLiteVectorStore persists catalog vectors in the catalog_vectors table
// and performs brute-force cosine similarity search. Catalogs here are a
// few hundred items, so a full scan per query is well within budget.
type SQLiteVectorStore struct {
	db    *sql.DB
	model string
}

// NewSQLiteVectorStore wraps an existing *sql.DB for vector operations.
// model records which embedding model produced the vectors.
func NewSQLiteVectorStore(db *sql.DB, model string) *SQLiteVectorStore {
	return &SQLiteVectorStore{db: db, model: model}
}

// Upsert replaces the stored vectors for the given ids.
func (s *SQLiteVectorStore) Upsert(vectors []ItemVector) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning upsert transaction: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO catalog_vectors (item_id, model, embedding, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(item_id) DO UPDATE SET
			model = excluded.model,
			embedding = excluded.embedding,
			created_at = excluded.created_at`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("preparing upsert statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, v := range vectors {
		if _, err := stmt.Exec(v.ID, s.model, encodeFloat32s(v.Embedding), now); err != nil {
			tx.Rollback()
			return fmt.Errorf("upserting vector %s: %w", v.ID, err)
		}
	}

	return tx.Commit()
}

// Search performs brute-force cosine similarity search over all stored vectors.
func (s *SQLiteVectorStore) Search(vector []float32, topK int) ([]Match, error) {
	return s.scan(vector, topK, `SELECT item_id, embedding FROM catalog_vectors`)
}

// SearchSubset restricts the search to the given item ids.
func (s *SQLiteVectorStore) SearchSubset(vector []float32, ids []string, topK int) ([]Match, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT item_id, embedding FROM catalog_vectors WHERE item_id IN (?` +
		strings.Repeat(",?", len(ids)-1) + `)`
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return s.scan(vector, topK, query, args...)
}

// Count returns the number of stored vectors.
func (s *SQLiteVectorStore) Count() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM catalog_vectors`).Scan(&n)
	return n, err
}

// Delete removes the vector for the given item id.
func (s *SQLiteVectorStore) Delete(id string) error {
	_, err := s.db.Exec(`DELETE FROM catalog_vectors WHERE item_id = ?`, id)
	return err
}

func (s *SQLiteVectorStore) scan(vector []float32, topK int, query string, args ...any) ([]Match, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	// Reusable buffer for decoding embeddings to avoid per-row allocations.
	var buf []float32
	var matches []Match

	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", id, err)
		}
		matches = append(matches, Match{ID: id, Score: Cosine(vector, buf)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}

	// Equal scores keep scan order; the retriever re-ties on catalog rank.
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// encodeFloat32s packs a vector into a little-endian byte blob.
func encodeFloat32s(vec []float32) []byte {
	blob := make([]byte, 4*len(vec))
	for i, f := range vec {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(f))
	}
	return blob
}

// decodeFloat32sInto decodes a blob into buf, reusing its capacity.
func decodeFloat32sInto(buf []float32, blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("embedding blob length %d is not a multiple of 4", len(blob))
	}
	n := len(blob) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	}
	buf = buf[:n]
	for i := 0; i < n; i++ {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return buf, nil
}
