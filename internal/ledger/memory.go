package ledger

import (
	"errors"
	"slices"
	"sync"

	"talk.mini/talk/internal/types"
)

var errReadOnly = errors.New("ledger: write in read-only transaction")

// MemoryBackend keeps all state in maps. Writes are staged and merged only
// when the update function succeeds.
type MemoryBackend struct {
	mu       sync.RWMutex
	messages map[uint64]types.Message
	replies  map[uint64][]uint64
	likes    map[string]types.LikeRecord
	lastID   uint64
	nonEmpty bool
	commit   types.CommitInfo
}

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		messages: make(map[uint64]types.Message),
		replies:  make(map[uint64][]uint64),
		likes:    make(map[string]types.LikeRecord),
	}
}

func (b *MemoryBackend) Update(fn func(Tx) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := newStaged(&memTx{b: b})
	if err := fn(s); err != nil {
		return err
	}
	return s.flush(&memTx{b: b, writable: true})
}

func (b *MemoryBackend) View(fn func(Tx) error) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return fn(&memTx{b: b})
}

func (b *MemoryBackend) LastCommit() (types.CommitInfo, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.commit, nil
}

func (b *MemoryBackend) SaveCommit(info types.CommitInfo) error {
	return b.Update(func(tx Tx) error { return tx.PutCommit(info) })
}

func (b *MemoryBackend) Close() error {
	return nil
}

// memTx works on the backend maps directly; the caller holds the lock.
type memTx struct {
	b        *MemoryBackend
	writable bool
}

func (t *memTx) Message(id uint64) (types.Message, bool, error) {
	m, ok := t.b.messages[id]
	return m, ok, nil
}

func (t *memTx) LastMessageID() (uint64, bool, error) {
	return t.b.lastID, t.b.nonEmpty, nil
}

func (t *memTx) PutMessage(m types.Message) error {
	if !t.writable {
		return errReadOnly
	}
	if _, exists := t.b.messages[m.ID]; !exists {
		t.b.replies[m.ReplyTo] = append(t.b.replies[m.ReplyTo], m.ID)
	}
	t.b.messages[m.ID] = m
	if !t.b.nonEmpty || m.ID > t.b.lastID {
		t.b.lastID, t.b.nonEmpty = m.ID, true
	}
	return nil
}

func (t *memTx) Replies(replyTo uint64) ([]uint64, error) {
	ids := slices.Clone(t.b.replies[replyTo])
	slices.Sort(ids)
	return ids, nil
}

func (t *memTx) ForEachMessage(fn func(types.Message) error) error {
	for _, id := range sortedKeys(t.b.messages) {
		if err := fn(t.b.messages[id]); err != nil {
			return err
		}
	}
	return nil
}

func (t *memTx) LikeRecord(user string) (types.LikeRecord, bool, error) {
	r, ok := t.b.likes[user]
	if !ok {
		return types.LikeRecord{}, false, nil
	}
	return copyRecord(r), true, nil
}

func (t *memTx) PutLikeRecord(r types.LikeRecord) error {
	if !t.writable {
		return errReadOnly
	}
	t.b.likes[r.User] = copyRecord(r)
	return nil
}

func (t *memTx) ForEachLikeRecord(fn func(types.LikeRecord) error) error {
	for _, u := range sortedKeys(t.b.likes) {
		if err := fn(copyRecord(t.b.likes[u])); err != nil {
			return err
		}
	}
	return nil
}

func (t *memTx) PutCommit(info types.CommitInfo) error {
	if !t.writable {
		return errReadOnly
	}
	t.b.commit = types.CommitInfo{Height: info.Height, AppHash: slices.Clone(info.AppHash)}
	return nil
}
