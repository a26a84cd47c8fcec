// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tidemark Contributors

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"github.com/tidemark-dev/tidemark/internal/store"
	tmerr "github.com/tidemark-dev/tidemark/pkg/errors"
)

// Compile-time interface check.
var _ store.IndexStore = (*IndexStore)(nil)

// schemaVersion is stored in PRAGMA user_version once migrations have run.
const schemaVersion = 1

// IndexStore implements store.IndexStore backed by SQLite with sqlite-vec.
// Vectors live in a vec0 virtual table keyed by rowid; the rowid is shared
// with the chunks table so the two relations join without a mapping table.
type IndexStore struct {
	db         *sql.DB
	dimensions int
	logger     *slog.Logger

	// writeMu serializes all writes; readers go straight to the pool.
	writeMu sync.Mutex
}

// NewIndexStore opens (or creates) a SQLite database at dbPath and
// initialises the vector, chunk, and sync status relations.
func NewIndexStore(dbPath string, dimensions int) (*IndexStore, error) {
	if dimensions <= 0 {
		return nil, tmerr.Errorf(tmerr.CodeStoreInvalidInput, "vector dimensions must be positive, got %d", dimensions)
	}
	if _, err := Probe(); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, tmerr.Errorf(tmerr.CodeStoreDatabaseFailure, "opening sqlite db: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, tmerr.Errorf(tmerr.CodeStoreDatabaseFailure, "pinging sqlite db: %w", err)
	}

	s := &IndexStore{db: db, dimensions: dimensions, logger: slog.Default()}
	if err := s.InitSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// InitSchema creates the three relations and their indexes if missing, then
// runs pending migrations. It is safe to call on a store created earlier.
func (s *IndexStore) InitSchema(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	vecDDL := fmt.Sprintf(
		`CREATE VIRTUAL TABLE IF NOT EXISTS chunk_vectors USING vec0(embedding float[%d])`,
		s.dimensions,
	)
	if _, err := s.db.ExecContext(ctx, vecDDL); err != nil {
		return tmerr.Errorf(tmerr.CodeStoreDatabaseFailure, "creating chunk_vectors virtual table: %w", err)
	}

	const ddl = `
CREATE TABLE IF NOT EXISTS chunks (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	title       TEXT    NOT NULL,
	chunk_index INTEGER NOT NULL,
	text        TEXT    NOT NULL,
	created     TEXT    NOT NULL DEFAULT '',
	modified    TEXT    NOT NULL DEFAULT '',
	tags        TEXT    NOT NULL DEFAULT '[]',
	UNIQUE(title, chunk_index)
);

CREATE INDEX IF NOT EXISTS idx_chunks_title ON chunks(title);
CREATE INDEX IF NOT EXISTS idx_chunks_modified ON chunks(modified);

CREATE TABLE IF NOT EXISTS sync_status (
	title           TEXT PRIMARY KEY,
	last_modified   TEXT    NOT NULL DEFAULT '00000000000000000',
	last_indexed_at TEXT    NOT NULL,
	total_chunks    INTEGER NOT NULL DEFAULT 0,
	status          TEXT    NOT NULL CHECK (status IN ('indexed', 'empty', 'error')),
	error_message   TEXT
);

CREATE TABLE IF NOT EXISTS index_meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return tmerr.Errorf(tmerr.CodeStoreDatabaseFailure, "creating index tables: %w", err)
	}

	if err := s.checkDimensions(ctx); err != nil {
		return err
	}
	return s.migrate(ctx)
}

// checkDimensions records the vector dimension on first use and rejects
// reopening the store with a different one; vec0 would otherwise keep the
// original column width and fail every insert.
func (s *IndexStore) checkDimensions(ctx context.Context) error {
	var stored string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM index_meta WHERE key = 'dimensions'`).Scan(&stored)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = s.db.ExecContext(ctx, `INSERT INTO index_meta(key, value) VALUES ('dimensions', ?)`, strconv.Itoa(s.dimensions))
		if err != nil {
			return tmerr.Errorf(tmerr.CodeStoreDatabaseFailure, "recording vector dimensions: %w", err)
		}
		return nil
	case err != nil:
		return tmerr.Errorf(tmerr.CodeStoreDatabaseFailure, "reading vector dimensions: %w", err)
	}

	if stored != strconv.Itoa(s.dimensions) {
		return tmerr.Errorf(tmerr.CodeStoreConflict,
			"index was created with %s-dimensional vectors, configured dimensions are %d; reindex into a new data dir",
			stored, s.dimensions)
	}
	return nil
}

// migrate applies one-time data migrations gated on PRAGMA user_version.
func (s *IndexStore) migrate(ctx context.Context) error {
	var version int
	if err := s.db.QueryRowContext(ctx, `PRAGMA user_version`).Scan(&version); err != nil {
		return tmerr.Errorf(tmerr.CodeStoreDatabaseFailure, "reading schema version: %w", err)
	}
	if version >= schemaVersion {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return tmerr.Errorf(tmerr.CodeStoreDatabaseFailure, "beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Empty last_modified values break lexical comparison against source
	// timestamps; pin them to the sentinel.
	res, err := tx.ExecContext(ctx,
		`UPDATE sync_status SET last_modified = ? WHERE last_modified = '' OR last_modified IS NULL`,
		store.NeverModified)
	if err != nil {
		return tmerr.Errorf(tmerr.CodeStoreDatabaseFailure, "migrating empty last_modified: %w", err)
	}

	// PRAGMA does not accept bound parameters.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`PRAGMA user_version = %d`, schemaVersion)); err != nil {
		return tmerr.Errorf(tmerr.CodeStoreDatabaseFailure, "setting schema version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return tmerr.Errorf(tmerr.CodeStoreDatabaseFailure, "committing migration: %w", err)
	}

	if n, _ := res.RowsAffected(); n > 0 {
		s.logger.Info("migrated empty last_modified values", "count", n, "sentinel", store.NeverModified)
	}
	return nil
}

// InsertChunk stores a single chunk and its vector, returning the row id.
func (s *IndexStore) InsertChunk(ctx context.Context, chunk store.Chunk) (int64, error) {
	ids, err := s.InsertChunks(ctx, []store.Chunk{chunk})
	if err != nil {
		return 0, err
	}
	return ids[0], nil
}

// InsertChunks stores a chunk set in one transaction; either every chunk is
// written or none is.
func (s *IndexStore) InsertChunks(ctx context.Context, chunks []store.Chunk) ([]int64, error) {
	if len(chunks) == 0 {
		return nil, nil
	}
	for _, c := range chunks {
		if err := c.Validate(s.dimensions); err != nil {
			return nil, err
		}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, tmerr.Errorf(tmerr.CodeStoreDatabaseFailure, "beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	ids := make([]int64, 0, len(chunks))
	for _, c := range chunks {
		id, err := insertChunkTx(ctx, tx, c)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, tmerr.Errorf(tmerr.CodeStoreDatabaseFailure, "committing chunks: %w", err)
	}
	return ids, nil
}

func insertChunkTx(ctx context.Context, tx *sql.Tx, c store.Chunk) (int64, error) {
	tags := c.Meta.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return 0, tmerr.Errorf(tmerr.CodeStoreDatabaseFailure, "marshalling tags: %w", err)
	}

	const q = `INSERT INTO chunks (title, chunk_index, text, created, modified, tags)
VALUES (?, ?, ?, ?, ?, ?)`
	res, err := tx.ExecContext(ctx, q, c.Title, c.Index, c.Text, c.Meta.Created, c.Meta.Modified, string(tagsJSON))
	if err != nil {
		return 0, tmerr.Errorf(tmerr.CodeStoreDatabaseFailure, "inserting chunk %s#%d: %w", c.Title, c.Index, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, tmerr.Errorf(tmerr.CodeStoreDatabaseFailure, "reading chunk id: %w", err)
	}

	blob, err := sqlite_vec.SerializeFloat32(c.Vector)
	if err != nil {
		return 0, tmerr.Errorf(tmerr.CodeStoreDatabaseFailure, "serializing embedding: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO chunk_vectors(rowid, embedding) VALUES (?, ?)`, id, blob); err != nil {
		return 0, tmerr.Errorf(tmerr.CodeStoreDatabaseFailure, "inserting vector %d: %w", id, err)
	}
	return id, nil
}

// SearchNearest performs a k-nearest-neighbor search ordered by ascending
// distance (lower = more similar; 0.0 = exact match).
func (s *IndexStore) SearchNearest(ctx context.Context, query []float32, k int) ([]store.SearchResult, error) {
	if k <= 0 {
		return nil, tmerr.Errorf(tmerr.CodeStoreInvalidInput, "k must be positive, got %d", k)
	}
	if len(query) != s.dimensions {
		return nil, tmerr.Errorf(tmerr.CodeStoreInvalidInput,
			"query vector has %d dimensions, store expects %d", len(query), s.dimensions)
	}
	blob, err := sqlite_vec.SerializeFloat32(query)
	if err != nil {
		return nil, tmerr.Errorf(tmerr.CodeStoreDatabaseFailure, "serializing query vector: %w", err)
	}

	const q = `WITH knn AS (
	SELECT rowid, distance FROM chunk_vectors
	WHERE embedding MATCH ? AND k = ?
)
SELECT c.title, c.chunk_index, c.text, c.created, c.modified, c.tags, knn.distance
FROM knn
JOIN chunks c ON c.id = knn.rowid
ORDER BY knn.distance`

	rows, err := s.db.QueryContext(ctx, q, blob, k)
	if err != nil {
		return nil, tmerr.Errorf(tmerr.CodeStoreDatabaseFailure, "searching vectors: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []store.SearchResult
	for rows.Next() {
		var r store.SearchResult
		var tags string
		if err := rows.Scan(&r.Title, &r.Index, &r.Text, &r.Meta.Created, &r.Meta.Modified, &tags, &r.Distance); err != nil {
			return nil, tmerr.Errorf(tmerr.CodeStoreDatabaseFailure, "scanning search result: %w", err)
		}
		if tags != "" && tags != "[]" {
			if err := json.Unmarshal([]byte(tags), &r.Meta.Tags); err != nil {
				return nil, tmerr.Errorf(tmerr.CodeStoreDatabaseFailure, "unmarshalling tags for %s: %w", r.Title, err)
			}
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, tmerr.Errorf(tmerr.CodeStoreDatabaseFailure, "iterating search results: %w", err)
	}

	return results, nil
}

// DeleteChunks removes all chunk rows and vectors for title.
func (s *IndexStore) DeleteChunks(ctx context.Context, title string) error {
	return s.deleteTitle(ctx, title, false)
}

// DeleteEntry removes all chunk rows, vectors, and the sync row for title in
// a single transaction.
func (s *IndexStore) DeleteEntry(ctx context.Context, title string) error {
	return s.deleteTitle(ctx, title, true)
}

func (s *IndexStore) deleteTitle(ctx context.Context, title string, withSync bool) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return tmerr.Errorf(tmerr.CodeStoreDatabaseFailure, "beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	ids, err := chunkIDsTx(ctx, tx, title)
	if err != nil {
		return err
	}

	// vec0 only plans rowid equality efficiently; delete one row at a time.
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM chunk_vectors WHERE rowid = ?`, id); err != nil {
			return tmerr.Errorf(tmerr.CodeStoreDatabaseFailure, "deleting vector %d: %w", id, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE title = ?`, title); err != nil {
		return tmerr.Errorf(tmerr.CodeStoreDatabaseFailure, "deleting chunks for %s: %w", title, err)
	}

	if withSync {
		if _, err := tx.ExecContext(ctx, `DELETE FROM sync_status WHERE title = ?`, title); err != nil {
			return tmerr.Errorf(tmerr.CodeStoreDatabaseFailure, "deleting sync status for %s: %w", title, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return tmerr.Errorf(tmerr.CodeStoreDatabaseFailure, "committing delete for %s: %w", title, err)
	}
	return nil
}

func chunkIDsTx(ctx context.Context, tx *sql.Tx, title string) ([]int64, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id FROM chunks WHERE title = ?`, title)
	if err != nil {
		return nil, tmerr.Errorf(tmerr.CodeStoreDatabaseFailure, "listing chunks for %s: %w", title, err)
	}
	defer func() { _ = rows.Close() }()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, tmerr.Errorf(tmerr.CodeStoreDatabaseFailure, "scanning chunk id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, tmerr.Errorf(tmerr.CodeStoreDatabaseFailure, "iterating chunk ids: %w", err)
	}
	return ids, nil
}

// UpsertSyncStatus inserts or replaces the sync record for status.Title.
// An empty LastModified is stored as store.NeverModified.
func (s *IndexStore) UpsertSyncStatus(ctx context.Context, status store.SyncStatus) error {
	if err := status.Validate(); err != nil {
		return err
	}
	if status.LastModified == "" {
		status.LastModified = store.NeverModified
	}
	if status.LastIndexedAt.IsZero() {
		status.LastIndexedAt = time.Now()
	}

	var errMsg sql.NullString
	if status.Status == store.SyncStateError {
		errMsg = sql.NullString{String: status.ErrorMessage, Valid: true}
	}

	const q = `INSERT INTO sync_status (title, last_modified, last_indexed_at, total_chunks, status, error_message)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(title) DO UPDATE SET
	last_modified = excluded.last_modified,
	last_indexed_at = excluded.last_indexed_at,
	total_chunks = excluded.total_chunks,
	status = excluded.status,
	error_message = excluded.error_message`

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.ExecContext(ctx, q,
		status.Title, status.LastModified, formatTime(status.LastIndexedAt),
		status.TotalChunks, string(status.Status), errMsg)
	if err != nil {
		return tmerr.Errorf(tmerr.CodeStoreDatabaseFailure, "upserting sync status for %s: %w", status.Title, err)
	}
	return nil
}

const syncColumns = `title, last_modified, last_indexed_at, total_chunks, status, error_message`

// GetSyncStatus returns the sync record for title, or an error wrapping
// store.ErrNotFound when none exists.
func (s *IndexStore) GetSyncStatus(ctx context.Context, title string) (*store.SyncStatus, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+syncColumns+` FROM sync_status WHERE title = ?`, title)
	st, err := scanSyncStatus(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, tmerr.Wrap(store.ErrNotFound, tmerr.CodeStoreEntityNotFound, "sync status not found", tmerr.FieldTitle(title))
	}
	if err != nil {
		return nil, tmerr.Errorf(tmerr.CodeStoreDatabaseFailure, "getting sync status for %s: %w", title, err)
	}
	return &st, nil
}

// ListSyncStatus returns every sync record ordered by title.
func (s *IndexStore) ListSyncStatus(ctx context.Context) ([]store.SyncStatus, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+syncColumns+` FROM sync_status ORDER BY title`)
	if err != nil {
		return nil, tmerr.Errorf(tmerr.CodeStoreDatabaseFailure, "listing sync status: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []store.SyncStatus
	for rows.Next() {
		st, err := scanSyncStatus(rows)
		if err != nil {
			return nil, tmerr.Errorf(tmerr.CodeStoreDatabaseFailure, "scanning sync status: %w", err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, tmerr.Errorf(tmerr.CodeStoreDatabaseFailure, "iterating sync status: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSyncStatus(row scanner) (store.SyncStatus, error) {
	var (
		st        store.SyncStatus
		indexedAt string
		status    string
		errMsg    sql.NullString
	)
	if err := row.Scan(&st.Title, &st.LastModified, &indexedAt, &st.TotalChunks, &status, &errMsg); err != nil {
		return store.SyncStatus{}, err
	}
	st.LastIndexedAt = parseTime(indexedAt)
	st.Status = store.SyncState(status)
	st.ErrorMessage = errMsg.String
	return st, nil
}

// Stats returns vector, entry, and per-status counts.
func (s *IndexStore) Stats(ctx context.Context) (store.Stats, error) {
	stats := store.Stats{CountsByStatus: map[store.SyncState]int64{}}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&stats.TotalVectors); err != nil {
		return store.Stats{}, tmerr.Errorf(tmerr.CodeStoreDatabaseFailure, "counting vectors: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM sync_status GROUP BY status`)
	if err != nil {
		return store.Stats{}, tmerr.Errorf(tmerr.CodeStoreDatabaseFailure, "counting sync status: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return store.Stats{}, tmerr.Errorf(tmerr.CodeStoreDatabaseFailure, "scanning status count: %w", err)
		}
		stats.CountsByStatus[store.SyncState(status)] = n
		stats.TotalSyncedEntries += n
	}
	if err := rows.Err(); err != nil {
		return store.Stats{}, tmerr.Errorf(tmerr.CodeStoreDatabaseFailure, "iterating status counts: %w", err)
	}

	return stats, nil
}

// Dimensions returns the vector width the store was opened with.
func (s *IndexStore) Dimensions() int {
	return s.dimensions
}

// Close closes the underlying database connection.
func (s *IndexStore) Close() error {
	return s.db.Close()
}

// formatTime serialises a time for storage.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime deserialises a time string stored in the database.
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
