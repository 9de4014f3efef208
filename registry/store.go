package registry

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"gopkg.in/yaml.v3"
)

// ErrNoData is returned by Store.Load when nothing has been saved yet.
var ErrNoData = errors.New("registry store is empty")

// Store persists the full set of instrument settings.
type Store interface {
	Load() (map[string]Settings, error)
	Save(map[string]Settings) error
}

// FileStore keeps the registry in a single YAML or JSON file, chosen by
// extension (.yaml/.yml for YAML, anything else JSON).
type FileStore struct {
	Path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

func (f *FileStore) isYAML() bool {
	ext := strings.ToLower(filepath.Ext(f.Path))
	return ext == ".yaml" || ext == ".yml"
}

func (f *FileStore) Load() (map[string]Settings, error) {
	b, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoData
	}
	if err != nil {
		return nil, err
	}

	out := map[string]Settings{}
	if f.isYAML() {
		err = yaml.Unmarshal(b, &out)
	} else {
		err = json.Unmarshal(b, &out)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", f.Path, err)
	}
	return out, nil
}

// Save writes to a temporary file and renames it over Path.
func (f *FileStore) Save(data map[string]Settings) error {
	var (
		b   []byte
		err error
	)
	if f.isYAML() {
		b, err = yaml.Marshal(data)
	} else {
		b, err = json.MarshalIndent(data, "", "    ")
	}
	if err != nil {
		return err
	}

	if dir := filepath.Dir(f.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := f.Path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, f.Path)
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS instruments (
	name TEXT PRIMARY KEY,
	auto_trading INTEGER NOT NULL,
	lot_size REAL NOT NULL,
	sl_pips REAL NOT NULL,
	tp_pips REAL NOT NULL,
	strategy TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS registry_meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// SQLiteStore keeps the registry in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Load() (map[string]Settings, error) {
	var saved string
	err := s.db.QueryRow(`SELECT value FROM registry_meta WHERE key = 'saved_at'`).Scan(&saved)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoData
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(`SELECT name, auto_trading, lot_size, sl_pips, tp_pips, strategy FROM instruments`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]Settings{}
	for rows.Next() {
		var (
			name string
			st   Settings
		)
		if err := rows.Scan(&name, &st.AutoTrading, &st.LotSize, &st.SLPips, &st.TPPips, &st.Strategy); err != nil {
			return nil, err
		}
		out[name] = st
	}
	return out, rows.Err()
}

// Save replaces the stored set in one transaction.
func (s *SQLiteStore) Save(data map[string]Settings) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM instruments`); err != nil {
		return err
	}
	for name, st := range data {
		if _, err := tx.Exec(`
			INSERT INTO instruments
			(name, auto_trading, lot_size, sl_pips, tp_pips, strategy)
			VALUES (?, ?, ?, ?, ?, ?)`,
			name, st.AutoTrading, st.LotSize, st.SLPips, st.TPPips, st.Strategy,
		); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(`
		INSERT INTO registry_meta (key, value) VALUES ('saved_at', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		time.Now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// OpenStore picks a store by kind: "sqlite" or "file".
func OpenStore(kind, path string) (Store, error) {
	switch strings.ToLower(kind) {
	case "sqlite":
		return NewSQLiteStore(path)
	case "", "file":
		return NewFileStore(path), nil
	}
	return nil, fmt.Errorf("unknown registry store %q (want file|sqlite)", kind)
}
