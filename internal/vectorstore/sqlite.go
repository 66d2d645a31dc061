package vectorstore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// PersistentStore writes every mutation through to a sqlite table and keeps
// the in-memory Store as the search index.
type PersistentStore struct {
	*Store
	DB *sql.DB
}

// OpenPersistent opens (or creates) the knowledge table at dbPath and loads
// its rows into memory. Rows whose embedding length differs from dims are
// skipped so a store can be re-created with a different embedding model.
func OpenPersistent(ctx context.Context, dbPath string, dims int) (*PersistentStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// A single connection keeps ":memory:" databases coherent.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, err
	}

	ps, err := NewPersistent(ctx, db, dims)
	if err != nil {
		db.Close()
		return nil, err
	}
	return ps, nil
}

// NewPersistent is OpenPersistent over an existing handle, typically the
// one the history store uses. Closing the store closes db.
func NewPersistent(ctx context.Context, db *sql.DB, dims int) (*PersistentStore, error) {
	mem, err := New(dims)
	if err != nil {
		return nil, err
	}

	_, err = db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS knowledge (
		id TEXT PRIMARY KEY,
		embedding BLOB NOT NULL,
		dims INTEGER NOT NULL,
		content TEXT,
		source TEXT,
		entity_id TEXT,
		file_path TEXT,
		chunk_index INTEGER,
		created_at INTEGER
	);`)
	if err != nil {
		return nil, fmt.Errorf("create knowledge table: %w", err)
	}

	ps := &PersistentStore{Store: mem, DB: db}
	if err := ps.load(ctx); err != nil {
		return nil, err
	}
	return ps, nil
}

func (p *PersistentStore) load(ctx context.Context) error {
	rows, err := p.DB.QueryContext(ctx,
		`SELECT id, embedding, dims, content, source, entity_id, file_path, chunk_index, created_at FROM knowledge`)
	if err != nil {
		return fmt.Errorf("load knowledge: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var (
			d         Document
			blob      []byte
			dims      int
			chunk     sql.NullInt64
			createdAt sql.NullInt64
			entityID  sql.NullString
			filePath  sql.NullString
		)
		if err := rows.Scan(&d.ID, &blob, &dims, &d.Content, &d.Metadata.Source, &entityID, &filePath, &chunk, &createdAt); err != nil {
			return err
		}
		if dims != p.dims {
			continue
		}
		d.Embedding = decodeVector(blob)
		d.Metadata.EntityID = entityID.String
		d.Metadata.FilePath = filePath.String
		if chunk.Valid {
			idx := int(chunk.Int64)
			d.Metadata.ChunkIndex = &idx
		}
		if createdAt.Valid {
			d.Metadata.Timestamp = time.Unix(0, createdAt.Int64).UTC()
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	return p.Store.Upsert(docs...)
}

// Upsert validates, persists and indexes docs.
func (p *PersistentStore) Upsert(ctx context.Context, docs ...Document) error {
	for i := range docs {
		if docs[i].ID == "" {
			return ErrMissingID
		}
		if len(docs[i].Embedding) != p.dims {
			return fmt.Errorf("%w: document %s has %d, store expects %d", ErrDimensionMismatch, docs[i].ID, len(docs[i].Embedding), p.dims)
		}
		if docs[i].Metadata.Timestamp.IsZero() {
			docs[i].Metadata.Timestamp = time.Now().UTC()
		}
	}

	tx, err := p.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `INSERT OR REPLACE INTO knowledge (id, embedding, dims, content, source, entity_id, file_path, chunk_index, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	for _, d := range docs {
		var chunk any
		if d.Metadata.ChunkIndex != nil {
			chunk = *d.Metadata.ChunkIndex
		}
		_, err := tx.ExecContext(ctx, query,
			d.ID, encodeVector(d.Embedding), len(d.Embedding), d.Content,
			d.Metadata.Source, d.Metadata.EntityID, d.Metadata.FilePath, chunk, d.Metadata.Timestamp.UnixNano())
		if err != nil {
			return fmt.Errorf("persist document %s: %w", d.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	return p.Store.Upsert(docs...)
}

// Remove deletes documents from both the table and the index.
func (p *PersistentStore) Remove(ctx context.Context, ids ...string) error {
	for _, id := range ids {
		if _, err := p.DB.ExecContext(ctx, `DELETE FROM knowledge WHERE id = ?`, id); err != nil {
			return fmt.Errorf("remove document %s: %w", id, err)
		}
	}
	p.Store.Remove(ids...)
	return nil
}

// Clear empties both the table and the index.
func (p *PersistentStore) Clear(ctx context.Context) error {
	if _, err := p.DB.ExecContext(ctx, `DELETE FROM knowledge`); err != nil {
		return err
	}
	p.Store.Clear()
	return nil
}

// Close releases the database handle.
func (p *PersistentStore) Close() error {
	return p.DB.Close()
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

// Add persists and indexes docs.
func (p *PersistentStore) Add(ctx context.Context, docs ...Document) error {
	return p.Upsert(ctx, docs...)
}

// Delete removes docs from the table and the index.
func (p *PersistentStore) Delete(ctx context.Context, ids ...string) error {
	return p.Remove(ctx, ids...)
}
