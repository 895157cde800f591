// Package pebblestore stores the ledger in a Pebble LSM. Each update is an indexed
// batch: reads inside fn see the batch's own writes, and the batch is
// committed with a sync only when fn succeeds.
package pebblestore

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"

	"talk.mini/talk/internal/ledger"
	"talk.mini/talk/internal/types"
)

// key prefixes
var (
	prefixMessage = []byte("m/")
	prefixReply   = []byte("r/")
	prefixLike    = []byte("l/")
	keyCommit     = []byte("c/commit")
)

var errReadOnly = errors.New("pebblestore: write in read-only transaction")

// Store implements ledger.Backend.
type Store struct {
	mu sync.RWMutex
	db *pebble.DB
}

// Open opens or creates a store in dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create pebble directory: %w", err)
	}
	return open(dir, &pebble.Options{})
}

// OpenInMemory returns a store that lives only as long as the process.
func OpenInMemory() (*Store, error) {
	return open("", &pebble.Options{FS: vfs.NewMem()})
}

func open(dir string, opts *pebble.Options) (*Store, error) {
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("open pebble: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Update(fn func(ledger.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.db.NewIndexedBatch()
	defer b.Close()

	if err := fn(&batchTx{b: b, writable: true}); err != nil {
		return err
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

// View runs fn over an indexed batch that is discarded afterwards.
func (s *Store) View(fn func(ledger.Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b := s.db.NewIndexedBatch()
	defer b.Close()
	return fn(&batchTx{b: b})
}

func (s *Store) LastCommit() (types.CommitInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var info types.CommitInfo
	ok, err := getJSON(s.db, keyCommit, &info)
	if err != nil || !ok {
		return types.CommitInfo{}, err
	}
	return info, nil
}

func (s *Store) SaveCommit(info types.CommitInfo) error {
	return s.Update(func(tx ledger.Tx) error { return tx.PutCommit(info) })
}

type reader interface {
	Get(key []byte) ([]byte, io.Closer, error)
}

func getJSON(r reader, key []byte, out any) (bool, error) {
	v, closer, err := r.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer closer.Close()
	if err := json.Unmarshal(v, out); err != nil {
		return false, fmt.Errorf("decode %q: %w", key, err)
	}
	return true, nil
}

func messageKey(id uint64) []byte {
	return binary.BigEndian.AppendUint64(append([]byte(nil), prefixMessage...), id)
}

func replyPrefix(replyTo uint64) []byte {
	return binary.BigEndian.AppendUint64(append([]byte(nil), prefixReply...), replyTo)
}

func replyKey(replyTo, id uint64) []byte {
	return binary.BigEndian.AppendUint64(replyPrefix(replyTo), id)
}

func likeKey(user string) []byte {
	return append(append([]byte(nil), prefixLike...), user...)
}

// upperBound returns the smallest key greater than every key with prefix p.
func upperBound(p []byte) []byte {
	end := append([]byte(nil), p...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

func prefixOptions(p []byte) *pebble.IterOptions {
	return &pebble.IterOptions{LowerBound: p, UpperBound: upperBound(p)}
}
