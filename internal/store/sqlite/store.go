// Package sqlite provides a ledger backend backed by a SQLite database file.
// Every ledger operation runs in one SQL transaction.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	log "github.com/sirupsen/logrus"

	"talk.mini/talk/internal/ledger"
	"talk.mini/talk/internal/types"

	_ "modernc.org/sqlite"
)

const (
	defaultDBFile        = "ledger.db"
	defaultBackupDirName = "backups"
	maxBusyTimeoutMs     = 5000
)

var errReadOnly = errors.New("sqlite: write in read-only transaction")

// Store implements ledger.Backend.
type Store struct {
	mu        sync.RWMutex
	db        *sql.DB
	file      string
	backupDir string
}

// NewStore opens (creating if needed) the database at filePath. When the file
// cannot be opened the newest backup is restored; with no backups a fresh
// database is created and the consensus engine replays from height zero.
func NewStore(filePath string) (*Store, error) {
	if filePath == "" {
		filePath = defaultDBFile
	}

	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return nil, fmt.Errorf("resolve db path: %w", err)
	}

	s := &Store{
		file:      absPath,
		backupDir: filepath.Join(filepath.Dir(absPath), defaultBackupDirName),
	}

	if err := s.tryOpenOrRecover(); err != nil {
		return nil, err
	}

	if err := s.ensureSchema(); err != nil {
		_ = s.closeDB()
		return nil, err
	}

	return s, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeDB()
}

func (s *Store) tryOpenOrRecover() error {
	if err := s.openDB(); err != nil {
		log.WithError(err).WithField("file", s.file).Warn("ledger database unusable, recovering")
		if recErr := s.recoverDatabase(err); recErr != nil {
			return recErr
		}
	}
	return nil
}

func (s *Store) openDB() error {
	if err := os.MkdirAll(filepath.Dir(s.file), 0o755); err != nil {
		return fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s", filepath.Clean(s.file)))
	if err != nil {
		return fmt.Errorf("open sqlite: %w", err)
	}
	// one connection: SQLite allows a single writer anyway, and it keeps
	// PRAGMAs and transactions on the same handle
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return fmt.Errorf("ping sqlite: %w", err)
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d", maxBusyTimeoutMs)); err != nil {
		db.Close()
		return fmt.Errorf("set busy timeout: %w", err)
	}

	var check string
	if err := db.QueryRow("PRAGMA quick_check").Scan(&check); err != nil {
		db.Close()
		return fmt.Errorf("check sqlite: %w", err)
	}
	if check != "ok" {
		db.Close()
		return fmt.Errorf("check sqlite: %s", check)
	}

	s.db = db
	return nil
}

func (s *Store) closeDB() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *Store) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY,
			reply_to INTEGER NOT NULL,
			likes INTEGER NOT NULL,
			author TEXT NOT NULL,
			content TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_reply_to ON messages (reply_to, id)`,
		`CREATE TABLE IF NOT EXISTS likes (
			author TEXT NOT NULL,
			message_id INTEGER NOT NULL,
			PRIMARY KEY (author, message_id)
		)`,
		`CREATE TABLE IF NOT EXISTS commit_info (
			singleton INTEGER PRIMARY KEY CHECK (singleton = 1),
			height INTEGER NOT NULL,
			app_hash BLOB
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}

	var mode string
	if err := s.db.QueryRow("PRAGMA journal_mode=WAL").Scan(&mode); err != nil {
		return fmt.Errorf("enable WAL: %w", err)
	}
	return nil
}

// Update runs fn inside BEGIN ... COMMIT, rolling back if fn fails.
func (s *Store) Update(fn func(ledger.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(&sqlTx{tx: tx, writable: true}); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// View runs fn in a transaction that is always rolled back.
func (s *Store) View(fn func(ledger.Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()
	return fn(&sqlTx{tx: tx})
}

func (s *Store) LastCommit() (types.CommitInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var info types.CommitInfo
	err := s.db.QueryRow(`SELECT height, app_hash FROM commit_info WHERE singleton = 1`).Scan(&info.Height, &info.AppHash)
	if errors.Is(err, sql.ErrNoRows) {
		return types.CommitInfo{}, nil
	}
	if err != nil {
		return types.CommitInfo{}, fmt.Errorf("load commit info: %w", err)
	}
	return info, nil
}

// SaveCommit records info on its own, outside any block.
func (s *Store) SaveCommit(info types.CommitInfo) error {
	return s.Update(func(tx ledger.Tx) error { return tx.PutCommit(info) })
}

// SQLite integers are signed; flipping the top bit maps the full uint64 id
// range onto int64 without changing its order.
func encodeID(id uint64) int64 {
	return int64(id ^ (1 << 63))
}

func decodeID(v int64) uint64 {
	return uint64(v) ^ (1 << 63)
}
