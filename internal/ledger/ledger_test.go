package ledger_test

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"talk.mini/talk/internal/ledger"
	"talk.mini/talk/internal/ledger/ledgertest"
	"talk.mini/talk/internal/types"
)

func TestErrorKinds(t *testing.T) {
	_, err := ledger.New(ledger.NewMemoryBackend()).Like(ledgertest.AllowAll, 1, "carol")
	require.Error(t, err)

	kind, ok := ledger.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, ledger.KindReference, kind)
	assert.Equal(t, "reference", kind.String())

	assert.ErrorIs(t, err, ledger.ErrReference)
	assert.NotErrorIs(t, err, ledger.ErrConflict)

	wrapped := fmt.Errorf("deliver: %w", err)
	assert.ErrorIs(t, wrapped, ledger.ErrReference)

	_, ok = ledger.KindOf(errors.New("disk on fire"))
	assert.False(t, ok)
	_, ok = ledger.KindOf(nil)
	assert.False(t, ok)
}

func TestValidatePost(t *testing.T) {
	assert.NoError(t, ledger.ValidatePost(types.PostPayload{ID: 0}))
	assert.NoError(t, ledger.ValidatePost(types.PostPayload{ID: ledger.ReservedIDStart - 1}))
	assert.ErrorIs(t, ledger.ValidatePost(types.PostPayload{ID: ledger.ReservedIDStart}), ledger.ErrValidation)
	assert.ErrorIs(t, ledger.ValidatePost(types.PostPayload{ID: math.MaxUint64}), ledger.ErrValidation)
}

func TestAuthorizationComesFirst(t *testing.T) {
	calls := 0
	auth := ledger.AuthorizerFunc(func(user string) bool {
		calls++
		return false
	})
	l := ledger.New(ledger.NewMemoryBackend())

	// every other check would fail too; authorization must win
	_, err := l.Post(auth, types.PostPayload{ID: math.MaxUint64, ReplyTo: 9, User: "alice"})
	assert.ErrorIs(t, err, ledger.ErrAuthorization)
	_, err = l.Like(auth, 9, "alice")
	assert.ErrorIs(t, err, ledger.ErrAuthorization)
	assert.Equal(t, 2, calls)
}

func TestIDSpaceExhausted(t *testing.T) {
	b := ledger.NewMemoryBackend()
	require.NoError(t, b.Update(func(tx ledger.Tx) error {
		return tx.PutMessage(types.Message{ID: math.MaxUint64, User: "alice"})
	}))

	_, err := ledger.New(b).Post(ledgertest.AllowAll, types.PostPayload{User: "alice", Content: "one more"})
	assert.ErrorIs(t, err, ledger.ErrValidation)
	assert.Equal(t, "next primary key in table is at max", err.Error())
}

// faultyBackend fails the counter write of a like after the like-set write
// already went through, to show both are discarded together.
type faultyBackend struct {
	*ledger.MemoryBackend
}

type faultyTx struct {
	ledger.Tx
	likesWritten bool
}

func (f *faultyTx) PutLikeRecord(r types.LikeRecord) error {
	f.likesWritten = true
	return f.Tx.PutLikeRecord(r)
}

func (f *faultyTx) PutMessage(m types.Message) error {
	if f.likesWritten {
		return errors.New("disk full")
	}
	return f.Tx.PutMessage(m)
}

func (b faultyBackend) Update(fn func(ledger.Tx) error) error {
	return b.MemoryBackend.Update(func(tx ledger.Tx) error {
		return fn(&faultyTx{Tx: tx})
	})
}

func TestLikeIsAtomic(t *testing.T) {
	mem := ledger.NewMemoryBackend()
	root, err := ledger.New(mem).Post(ledgertest.AllowAll, types.PostPayload{User: "alice", Content: "root"})
	require.NoError(t, err)
	before := ledgertest.Snapshot(t, mem)

	l := ledger.New(faultyBackend{mem})
	_, err = l.Like(ledgertest.AllowAll, root.ID, "carol")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	_, isRejection := ledger.KindOf(err)
	assert.False(t, isRejection)

	assert.Equal(t, before, ledgertest.Snapshot(t, mem))
	_, ok, err := l.LikeRecord("carol")
	require.NoError(t, err)
	assert.False(t, ok, "like-set must not exist after the failed like")
	require.NoError(t, l.Audit())
}

func TestAuditDetectsCorruption(t *testing.T) {
	tests := []struct {
		name  string
		write func(tx ledger.Tx) error
		want  string
	}{
		{
			name: "counter without like-set",
			write: func(tx ledger.Tx) error {
				return tx.PutMessage(types.Message{ID: 1, Likes: 3, User: "alice"})
			},
			want: "message 1 has 3 likes, 0 users liked it",
		},
		{
			name: "like-set for unknown message",
			write: func(tx ledger.Tx) error {
				return tx.PutLikeRecord(types.LikeRecord{User: "carol", Messages: []uint64{8}})
			},
			want: "like-set references unknown message 8",
		},
		{
			name: "dangling reply",
			write: func(tx ledger.Tx) error {
				return tx.PutMessage(types.Message{ID: 2, ReplyTo: 99, User: "alice"})
			},
			want: "message 2 replies to unknown message 99",
		},
		{
			name: "zero id",
			write: func(tx ledger.Tx) error {
				return tx.PutMessage(types.Message{ID: 0, User: "alice"})
			},
			want: "message with id zero",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			b := ledger.NewMemoryBackend()
			require.NoError(t, b.Update(tc.write))
			err := ledger.New(b).Audit()
			require.Error(t, err)
			assert.Equal(t, tc.want, err.Error())
		})
	}
}

func TestConcurrentPostsGetUniqueIDs(t *testing.T) {
	l := ledger.New(ledger.NewMemoryBackend())

	const workers = 8
	const perWorker = 25
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = make(map[uint64]bool)
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				m, err := l.Post(ledgertest.AllowAll, types.PostPayload{User: fmt.Sprintf("user%d", w), Content: "x"})
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				ids[m.ID] = true
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()

	assert.Len(t, ids, workers*perWorker)
	for id := range ids {
		assert.GreaterOrEqual(t, id, ledger.ReservedIDStart)
	}
	require.NoError(t, l.Audit())
}

func TestReadOnlyView(t *testing.T) {
	b := ledger.NewMemoryBackend()
	err := b.View(func(tx ledger.Tx) error {
		return tx.PutMessage(types.Message{ID: 1})
	})
	assert.Error(t, err)
}
