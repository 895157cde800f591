// Package ledgertest holds the behaviour every ledger.Backend must show. Each
// backend's tests call Run with a constructor for a fresh, empty backend.
package ledgertest

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"talk.mini/talk/internal/ledger"
	"talk.mini/talk/internal/types"
)

// OpenFunc returns a new empty backend. Cleanup is the caller's job (t.Cleanup).
type OpenFunc func(t *testing.T) ledger.Backend

// AllowAll authorizes every identity.
var AllowAll = ledger.AuthorizerFunc(func(string) bool { return true })

// As authorizes exactly one identity.
func As(user string) ledger.Authorizer {
	return ledger.AuthorizerFunc(func(u string) bool { return u == user })
}

// State is a full copy of a backend's contents.
type State struct {
	Messages []types.Message
	Likes    []types.LikeRecord
}

// Snapshot reads the whole backend.
func Snapshot(t *testing.T, b ledger.Backend) State {
	t.Helper()
	var s State
	err := b.View(func(tx ledger.Tx) error {
		if err := tx.ForEachMessage(func(m types.Message) error {
			s.Messages = append(s.Messages, m)
			return nil
		}); err != nil {
			return err
		}
		return tx.ForEachLikeRecord(func(r types.LikeRecord) error {
			s.Likes = append(s.Likes, r)
			return nil
		})
	})
	require.NoError(t, err)
	return s
}

// Run executes the conformance suite.
func Run(t *testing.T, open OpenFunc) {
	t.Run("Scenario", func(t *testing.T) { testScenario(t, open(t)) })
	t.Run("ExplicitIDs", func(t *testing.T) { testExplicitIDs(t, open(t)) })
	t.Run("RejectionsLeaveStateUnchanged", func(t *testing.T) { testRejections(t, open(t)) })
	t.Run("UpdateRollsBack", func(t *testing.T) { testRollback(t, open(t)) })
	t.Run("ReadYourWrites", func(t *testing.T) { testReadYourWrites(t, open(t)) })
	t.Run("ReplyIndex", func(t *testing.T) { testReplyIndex(t, open(t)) })
	t.Run("CommitInfo", func(t *testing.T) { testCommitInfo(t, open(t)) })
	t.Run("RandomOperations", func(t *testing.T) { testRandomOperations(t, open(t)) })
	t.Run("BlockStagesUntilCommit", func(t *testing.T) { testBlockStaging(t, open(t)) })
	t.Run("BlocksMatchSingleOperations", func(t *testing.T) { testBlocksMatchSingleOperations(t, open(t)) })
}

func testScenario(t *testing.T, b ledger.Backend) {
	l := ledger.New(b)

	hi, err := l.Post(As("alice"), types.PostPayload{User: "alice", Content: "hi"})
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000_000), hi.ID)
	assert.Zero(t, hi.ReplyTo)
	assert.Zero(t, hi.Likes)

	re, err := l.Post(As("bob"), types.PostPayload{ReplyTo: hi.ID, User: "bob", Content: "re: hi"})
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000_001), re.ID)
	assert.Equal(t, uint64(1_000_000_000), re.ReplyTo)

	liked, err := l.Like(As("carol"), hi.ID, "carol")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), liked.Likes)

	_, err = l.Like(As("carol"), hi.ID, "carol")
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrConflict)
	assert.Equal(t, "carol has already liked that post", err.Error())

	got, ok, err := l.Message(hi.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(1), got.Likes)

	record, ok, err := l.LikeRecord("carol")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []uint64{hi.ID}, record.Messages)

	require.NoError(t, l.Audit())
}

func testExplicitIDs(t *testing.T, b ledger.Backend) {
	l := ledger.New(b)

	m, err := l.Post(AllowAll, types.PostPayload{ID: 7, User: "alice", Content: "seven"})
	require.NoError(t, err)
	assert.Equal(t, uint64(7), m.ID)

	m, err = l.Post(AllowAll, types.PostPayload{ID: 999_999_999, User: "alice", Content: "max"})
	require.NoError(t, err)
	assert.Equal(t, uint64(999_999_999), m.ID)

	// the largest caller id is exactly one below the reserved range
	m, err = l.Post(AllowAll, types.PostPayload{User: "alice", Content: "auto"})
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000_000), m.ID)

	m, err = l.Post(AllowAll, types.PostPayload{ID: 3, User: "alice", Content: "low"})
	require.NoError(t, err)
	assert.Equal(t, uint64(3), m.ID)

	m, err = l.Post(AllowAll, types.PostPayload{User: "alice", Content: "auto again"})
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000_001), m.ID, "auto ids keep increasing past low explicit ids")

	_, err = l.Post(AllowAll, types.PostPayload{ID: 1_000_000_000, User: "alice"})
	assert.ErrorIs(t, err, ledger.ErrValidation)

	_, err = l.Post(AllowAll, types.PostPayload{ID: 7, User: "alice"})
	assert.ErrorIs(t, err, ledger.ErrConflict)

	require.NoError(t, l.Audit())
}

func testRejections(t *testing.T, b ledger.Backend) {
	l := ledger.New(b)

	root, err := l.Post(AllowAll, types.PostPayload{User: "alice", Content: "root"})
	require.NoError(t, err)
	_, err = l.Like(AllowAll, root.ID, "bob")
	require.NoError(t, err)

	before := Snapshot(t, b)

	tests := []struct {
		name string
		op   func() error
		want error
		msg  string
	}{
		{
			name: "post as someone else",
			op: func() error {
				_, err := l.Post(As("mallory"), types.PostPayload{User: "alice", Content: "forged"})
				return err
			},
			want: ledger.ErrAuthorization,
			msg:  "missing authority of alice",
		},
		{
			name: "post without an authorizer",
			op: func() error {
				_, err := l.Post(nil, types.PostPayload{User: "alice"})
				return err
			},
			want: ledger.ErrAuthorization,
		},
		{
			name: "reply to missing message",
			op: func() error {
				_, err := l.Post(AllowAll, types.PostPayload{ReplyTo: 42, User: "alice"})
				return err
			},
			want: ledger.ErrReference,
			msg:  "reply target 42 does not exist",
		},
		{
			name: "reserved id",
			op: func() error {
				_, err := l.Post(AllowAll, types.PostPayload{ID: 5_000_000_000, User: "alice"})
				return err
			},
			want: ledger.ErrValidation,
			msg:  "supplied id 5000000000 too large",
		},
		{
			name: "reference is checked before the id bound",
			op: func() error {
				_, err := l.Post(AllowAll, types.PostPayload{ID: 5_000_000_000, ReplyTo: 42, User: "alice"})
				return err
			},
			want: ledger.ErrReference,
		},
		{
			name: "like as someone else",
			op: func() error {
				_, err := l.Like(As("mallory"), root.ID, "carol")
				return err
			},
			want: ledger.ErrAuthorization,
			msg:  "missing authority of carol",
		},
		{
			name: "like missing message",
			op: func() error {
				_, err := l.Like(AllowAll, 12345, "carol")
				return err
			},
			want: ledger.ErrReference,
			msg:  "no post exists with id: 12345",
		},
		{
			name: "like twice",
			op: func() error {
				_, err := l.Like(AllowAll, root.ID, "bob")
				return err
			},
			want: ledger.ErrConflict,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.op()
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)
			if tc.msg != "" {
				assert.Equal(t, tc.msg, err.Error())
			}
			assert.Equal(t, before, Snapshot(t, b))
		})
	}
}

func testRollback(t *testing.T, b ledger.Backend) {
	l := ledger.New(b)
	root, err := l.Post(AllowAll, types.PostPayload{User: "alice", Content: "root"})
	require.NoError(t, err)

	before := Snapshot(t, b)
	boom := errors.New("boom")

	// like-set written, counter write never happens
	err = b.Update(func(tx ledger.Tx) error {
		if err := tx.PutLikeRecord(types.LikeRecord{User: "carol", Messages: []uint64{root.ID}}); err != nil {
			return err
		}
		if err := tx.PutMessage(types.Message{ID: 77, User: "carol", Content: "staged"}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, before, Snapshot(t, b))

	ids, err := l.Replies(0)
	require.NoError(t, err)
	assert.Equal(t, []uint64{root.ID}, ids, "staged reply index entries must not leak")
	require.NoError(t, l.Audit())
}

func testReadYourWrites(t *testing.T, b ledger.Backend) {
	err := b.Update(func(tx ledger.Tx) error {
		if err := tx.PutMessage(types.Message{ID: 10, User: "alice", Content: "a"}); err != nil {
			return err
		}
		if err := tx.PutMessage(types.Message{ID: 11, ReplyTo: 10, User: "bob", Content: "b"}); err != nil {
			return err
		}
		m, ok, err := tx.Message(11)
		if err != nil {
			return err
		}
		if !ok || m.ReplyTo != 10 {
			return fmt.Errorf("staged message not visible: %+v", m)
		}
		last, ok, err := tx.LastMessageID()
		if err != nil {
			return err
		}
		if !ok || last != 11 {
			return fmt.Errorf("last id = %d, %v", last, ok)
		}
		replies, err := tx.Replies(10)
		if err != nil {
			return err
		}
		if len(replies) != 1 || replies[0] != 11 {
			return fmt.Errorf("staged replies = %v", replies)
		}
		if err := tx.PutLikeRecord(types.LikeRecord{User: "carol", Messages: []uint64{10}}); err != nil {
			return err
		}
		r, ok, err := tx.LikeRecord("carol")
		if err != nil {
			return err
		}
		if !ok || !r.Contains(10) {
			return fmt.Errorf("staged like-set not visible: %+v", r)
		}
		return nil
	})
	require.NoError(t, err)

	err = b.View(func(tx ledger.Tx) error {
		_, ok, err := tx.Message(11)
		require.True(t, ok)
		return err
	})
	require.NoError(t, err)
}

func testReplyIndex(t *testing.T, b ledger.Backend) {
	l := ledger.New(b)

	root, err := l.Post(AllowAll, types.PostPayload{User: "alice", Content: "root"})
	require.NoError(t, err)
	other, err := l.Post(AllowAll, types.PostPayload{ID: 1, User: "alice", Content: "other"})
	require.NoError(t, err)

	var want []uint64
	for _, id := range []uint64{500, 0, 20, 0} {
		m, err := l.Post(AllowAll, types.PostPayload{ID: id, ReplyTo: root.ID, User: "bob", Content: "reply"})
		require.NoError(t, err)
		want = append(want, m.ID)
	}
	// liking a reply rewrites it; the index must not grow
	_, err = l.Like(AllowAll, want[0], "carol")
	require.NoError(t, err)

	got, err := l.Replies(root.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, want, got)
	assert.IsIncreasing(t, got)

	top, err := l.Replies(0)
	require.NoError(t, err)
	assert.Equal(t, []uint64{other.ID, root.ID}, top)

	none, err := l.Replies(other.ID)
	require.NoError(t, err)
	assert.Empty(t, none)

	require.NoError(t, l.Audit())
}

func testCommitInfo(t *testing.T, b ledger.Backend) {
	info, err := b.LastCommit()
	require.NoError(t, err)
	assert.Zero(t, info.Height)
	assert.Empty(t, info.AppHash)

	want := types.CommitInfo{Height: 42, AppHash: []byte{0xde, 0xad, 0xbe, 0xef}}
	require.NoError(t, b.SaveCommit(want))

	got, err := b.LastCommit()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func testRandomOperations(t *testing.T, b ledger.Backend) {
	l := ledger.New(b)
	rng := rand.New(rand.NewSource(7))
	users := []string{"alice", "bob", "carol", "dave"}

	var ids []uint64
	likes := make(map[string]map[uint64]bool)
	for i := 0; i < 300; i++ {
		user := users[rng.Intn(len(users))]
		switch {
		case len(ids) == 0 || rng.Intn(3) == 0:
			p := types.PostPayload{User: user, Content: fmt.Sprintf("post %d", i)}
			if rng.Intn(4) == 0 {
				p.ID = uint64(rng.Intn(50) + 1)
			}
			if len(ids) > 0 && rng.Intn(2) == 0 {
				p.ReplyTo = ids[rng.Intn(len(ids))]
			}
			m, err := l.Post(AllowAll, p)
			if err != nil {
				require.ErrorIs(t, err, ledger.ErrConflict, "only explicit id clashes may fail")
				continue
			}
			assert.NotZero(t, m.ID)
			ids = append(ids, m.ID)
		default:
			id := ids[rng.Intn(len(ids))]
			_, err := l.Like(AllowAll, id, user)
			if likes[user][id] {
				require.ErrorIs(t, err, ledger.ErrConflict)
				continue
			}
			require.NoError(t, err)
			if likes[user] == nil {
				likes[user] = make(map[uint64]bool)
			}
			likes[user][id] = true
		}
	}

	require.NoError(t, l.Audit())

	seen := make(map[uint64]bool)
	for _, id := range ids {
		assert.False(t, seen[id], "id %d assigned twice", id)
		seen[id] = true
	}
	for user, set := range likes {
		r, ok, err := l.LikeRecord(user)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Len(t, r.Messages, len(set))
	}
}

func testBlockStaging(t *testing.T, b ledger.Backend) {
	l := ledger.New(b)
	root, err := l.Post(AllowAll, types.PostPayload{User: "alice", Content: "root"})
	require.NoError(t, err)
	before := Snapshot(t, b)

	l.BeginBlock()
	require.True(t, l.InBlock())

	reply, err := l.Post(AllowAll, types.PostPayload{ReplyTo: root.ID, User: "bob", Content: "re"})
	require.NoError(t, err)
	assert.Equal(t, root.ID+1, reply.ID)

	// later operations in the block see earlier ones
	next, err := l.Post(AllowAll, types.PostPayload{ReplyTo: reply.ID, User: "bob", Content: "re: re"})
	require.NoError(t, err)
	assert.Equal(t, reply.ID+1, next.ID)
	liked, err := l.Like(AllowAll, reply.ID, "carol")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), liked.Likes)
	_, err = l.Like(AllowAll, reply.ID, "carol")
	require.ErrorIs(t, err, ledger.ErrConflict)
	_, err = l.Post(AllowAll, types.PostPayload{ReplyTo: 5, User: "bob"})
	require.ErrorIs(t, err, ledger.ErrReference)

	// nothing reaches the backend before CommitBlock
	assert.Equal(t, before, Snapshot(t, b))
	info, err := b.LastCommit()
	require.NoError(t, err)
	assert.Zero(t, info.Height)

	want := types.CommitInfo{Height: 1, AppHash: []byte{1}}
	require.NoError(t, l.CommitBlock(want))
	assert.False(t, l.InBlock())

	got, err := b.LastCommit()
	require.NoError(t, err)
	assert.Equal(t, want, got)

	m, ok, err := l.Message(reply.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(1), m.Likes)
	ids, err := l.Replies(root.ID)
	require.NoError(t, err)
	assert.Equal(t, []uint64{reply.ID}, ids)
	require.NoError(t, l.Audit())

	// an empty block only moves the commit info
	l.BeginBlock()
	require.NoError(t, l.CommitBlock(types.CommitInfo{Height: 2}))
	got, err = b.LastCommit()
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Height)
}

// testBlocksMatchSingleOperations runs one random history in blocks on b and
// operation by operation on a memory backend; the end states must agree.
func testBlocksMatchSingleOperations(t *testing.T, b ledger.Backend) {
	blocked := ledger.New(b)
	direct := ledger.New(ledger.NewMemoryBackend())
	rng := rand.New(rand.NewSource(11))
	users := []string{"alice", "bob", "carol"}

	var ids []uint64
	height := int64(0)
	for block := 0; block < 20; block++ {
		blocked.BeginBlock()
		for op := 0; op < 10; op++ {
			user := users[rng.Intn(len(users))]
			if len(ids) == 0 || rng.Intn(2) == 0 {
				p := types.PostPayload{User: user, Content: "x"}
				if rng.Intn(3) == 0 {
					p.ID = uint64(rng.Intn(30) + 1)
				}
				if len(ids) > 0 && rng.Intn(2) == 0 {
					p.ReplyTo = ids[rng.Intn(len(ids))]
				}
				want, wantErr := direct.Post(AllowAll, p)
				got, gotErr := blocked.Post(AllowAll, p)
				require.Equal(t, wantErr, gotErr)
				require.Equal(t, want, got)
				if gotErr == nil {
					ids = append(ids, got.ID)
				}
				continue
			}
			id := ids[rng.Intn(len(ids))]
			want, wantErr := direct.Like(AllowAll, id, user)
			got, gotErr := blocked.Like(AllowAll, id, user)
			require.Equal(t, wantErr, gotErr)
			require.Equal(t, want, got)
		}
		height++
		require.NoError(t, blocked.CommitBlock(types.CommitInfo{Height: height}))
	}

	assert.Equal(t, Snapshot(t, direct.Backend()), Snapshot(t, b))
	require.NoError(t, blocked.Audit())
}
