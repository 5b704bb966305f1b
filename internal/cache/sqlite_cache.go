package cache

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/glebarez/go-sqlite"
)

// SQLiteCache implements Backend on a SQLite database.
// If the file name is empty, a private in-memory database is used.
type SQLiteCache struct {
	filename   string
	db         *sql.DB
	writeMutex sync.Mutex
}

// NewSQLite creates a SQLite backend. Init opens the database and creates the schema.
func NewSQLite(filename string) *SQLiteCache {
	return &SQLiteCache{filename: filename}
}

func (s *SQLiteCache) Init() error {
	if s.db != nil {
		return nil
	}
	filename := s.filename
	if filename == "" {
		filename = ":memory:"
	} else if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return fmt.Errorf("create sqlite directory: %w", err)
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return fmt.Errorf("open sqlite %s: %w", filename, err)
	}
	// a single connection keeps ":memory:" databases shared and serializes writers
	db.SetMaxOpenConns(1)

	statements := []string{
		`CREATE TABLE IF NOT EXISTS partitions (
			name TEXT PRIMARY KEY
		)`,
		`CREATE TABLE IF NOT EXISTS entries (
			partition TEXT NOT NULL,
			key TEXT NOT NULL,
			bytes BLOB,
			PRIMARY KEY (partition, key)
		)`,
		"PRAGMA journal_mode=WAL",
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return fmt.Errorf("init sqlite schema: %w", err)
		}
	}
	s.db = db
	return nil
}

func (s *SQLiteCache) Open(partition string) error {
	if err := validatePartition(partition); err != nil {
		return err
	}
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.Exec("INSERT OR IGNORE INTO partitions (name) VALUES (?)", partition)
	return err
}

func (s *SQLiteCache) Get(partition, key string) ([]byte, error) {
	var b []byte
	err := s.db.QueryRow("SELECT bytes FROM entries WHERE partition = ? AND key = ?", partition, key).Scan(&b)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if b == nil {
		b = []byte{}
	}
	return b, nil
}

func (s *SQLiteCache) Set(partition, key string, value []byte) error {
	if err := validatePartition(partition); err != nil {
		return err
	}
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec("INSERT OR IGNORE INTO partitions (name) VALUES (?)", partition); err != nil {
		_ = tx.Rollback()
		return err
	}
	if _, err := tx.Exec("INSERT OR REPLACE INTO entries (partition, key, bytes) VALUES (?, ?, ?)", partition, key, value); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *SQLiteCache) Delete(partition, key string) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.Exec("DELETE FROM entries WHERE partition = ? AND key = ?", partition, key)
	return err
}

func (s *SQLiteCache) Partitions() ([]string, error) {
	rows, err := s.db.Query("SELECT name FROM partitions ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *SQLiteCache) DeletePartition(partition string) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM entries WHERE partition = ?", partition); err != nil {
		_ = tx.Rollback()
		return err
	}
	if _, err := tx.Exec("DELETE FROM partitions WHERE name = ?", partition); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *SQLiteCache) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
