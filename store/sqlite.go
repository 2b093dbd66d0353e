package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// SqliteBackend persists the Document in a SQLite database, one row per
// entity.
//
// Tables:
//
//	entities(collection, position, data)  PRIMARY KEY (collection, position)
//
// Save rewrites every row inside one transaction, so the Document is still
// replaced as a unit.
type SqliteBackend struct {
	mu sync.Mutex
	db *sql.DB
}

func NewSqliteBackend(dbPath string) (*SqliteBackend, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS entities (
		collection TEXT NOT NULL,
		position INTEGER NOT NULL,
		data TEXT NOT NULL,
		PRIMARY KEY (collection, position)
	)`); err != nil {
		db.Close()
		return nil, err
	}
	return &SqliteBackend{db: db}, nil
}

func (s *SqliteBackend) Close() error {
	return s.db.Close()
}

func (s *SqliteBackend) Load() (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.Query("SELECT collection, data FROM entities ORDER BY collection, position")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	doc := NewDocument()
	for rows.Next() {
		var name, raw string
		if err := rows.Scan(&name, &raw); err != nil {
			return nil, err
		}
		c, err := ParseCollection(name)
		if err != nil {
			continue
		}
		e := NewEntity()
		if err := json.Unmarshal([]byte(raw), e); err != nil {
			return nil, fmt.Errorf("decode %s row: %w", name, err)
		}
		doc.append(c, e)
	}
	return doc, rows.Err()
}

func (s *SqliteBackend) Save(doc *Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM entities"); err != nil {
		return err
	}
	stmt, err := tx.Prepare("INSERT INTO entities (collection, position, data) VALUES (?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, c := range Collections {
		for i, e := range doc.Collection(c) {
			b, err := marshal(e)
			if err != nil {
				return err
			}
			if _, err := stmt.Exec(string(c), i, string(b)); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}
