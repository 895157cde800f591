package ledger

import (
	"cmp"
	"maps"
	"slices"

	"talk.mini/talk/internal/types"
)

// staged layers uncommitted writes over a base Tx. Reads fall through to the
// base for anything not written here; flush replays the writes onto another Tx.
type staged struct {
	base Tx

	messages map[uint64]types.Message
	added    map[uint64][]uint64 // reply index entries for messages new to base
	likes    map[string]types.LikeRecord
	commit   *types.CommitInfo

	lastID  uint64
	hasLast bool
}

func newStaged(base Tx) *staged {
	return &staged{
		base:     base,
		messages: make(map[uint64]types.Message),
		added:    make(map[uint64][]uint64),
		likes:    make(map[string]types.LikeRecord),
	}
}

func (s *staged) Message(id uint64) (types.Message, bool, error) {
	if m, ok := s.messages[id]; ok {
		return m, true, nil
	}
	return s.base.Message(id)
}

func (s *staged) LastMessageID() (uint64, bool, error) {
	last, ok, err := s.base.LastMessageID()
	if err != nil {
		return 0, false, err
	}
	if s.hasLast && (!ok || s.lastID > last) {
		return s.lastID, true, nil
	}
	return last, ok, nil
}

func (s *staged) PutMessage(m types.Message) error {
	_, exists, err := s.Message(m.ID)
	if err != nil {
		return err
	}
	if !exists {
		s.added[m.ReplyTo] = append(s.added[m.ReplyTo], m.ID)
	}
	s.messages[m.ID] = m
	if !s.hasLast || m.ID > s.lastID {
		s.lastID, s.hasLast = m.ID, true
	}
	return nil
}

func (s *staged) Replies(replyTo uint64) ([]uint64, error) {
	ids, err := s.base.Replies(replyTo)
	if err != nil {
		return nil, err
	}
	if extra := s.added[replyTo]; len(extra) > 0 {
		ids = append(slices.Clone(ids), extra...)
		slices.Sort(ids)
	}
	return ids, nil
}

// ForEachMessage merges the base's ordered walk with the staged messages.
func (s *staged) ForEachMessage(fn func(types.Message) error) error {
	ids := sortedKeys(s.messages)
	i := 0
	err := s.base.ForEachMessage(func(m types.Message) error {
		for ; i < len(ids) && ids[i] < m.ID; i++ {
			if err := fn(s.messages[ids[i]]); err != nil {
				return err
			}
		}
		if i < len(ids) && ids[i] == m.ID {
			m = s.messages[ids[i]]
			i++
		}
		return fn(m)
	})
	if err != nil {
		return err
	}
	for ; i < len(ids); i++ {
		if err := fn(s.messages[ids[i]]); err != nil {
			return err
		}
	}
	return nil
}

func (s *staged) LikeRecord(user string) (types.LikeRecord, bool, error) {
	if r, ok := s.likes[user]; ok {
		return copyRecord(r), true, nil
	}
	return s.base.LikeRecord(user)
}

func (s *staged) PutLikeRecord(r types.LikeRecord) error {
	s.likes[r.User] = copyRecord(r)
	return nil
}

func (s *staged) ForEachLikeRecord(fn func(types.LikeRecord) error) error {
	users := sortedKeys(s.likes)
	i := 0
	err := s.base.ForEachLikeRecord(func(r types.LikeRecord) error {
		for ; i < len(users) && users[i] < r.User; i++ {
			if err := fn(copyRecord(s.likes[users[i]])); err != nil {
				return err
			}
		}
		if i < len(users) && users[i] == r.User {
			r = copyRecord(s.likes[users[i]])
			i++
		}
		return fn(r)
	})
	if err != nil {
		return err
	}
	for ; i < len(users); i++ {
		if err := fn(copyRecord(s.likes[users[i]])); err != nil {
			return err
		}
	}
	return nil
}

func (s *staged) PutCommit(info types.CommitInfo) error {
	s.commit = &types.CommitInfo{Height: info.Height, AppHash: slices.Clone(info.AppHash)}
	return nil
}

// flush writes everything staged onto dst in key order. It never reads base.
func (s *staged) flush(dst Tx) error {
	for _, id := range sortedKeys(s.messages) {
		if err := dst.PutMessage(s.messages[id]); err != nil {
			return err
		}
	}
	for _, user := range sortedKeys(s.likes) {
		if err := dst.PutLikeRecord(s.likes[user]); err != nil {
			return err
		}
	}
	if s.commit != nil {
		return dst.PutCommit(*s.commit)
	}
	return nil
}

func sortedKeys[K cmp.Ordered, V any](m map[K]V) []K {
	return slices.Sorted(maps.Keys(m))
}

func copyRecord(r types.LikeRecord) types.LikeRecord {
	return types.LikeRecord{User: r.User, Messages: slices.Clone(r.Messages)}
}

// committedTx reads a backend's committed state, one View per call. Writes are
// rejected; an open block stages them above it.
type committedTx struct {
	b Backend
}

func (c committedTx) Message(id uint64) (m types.Message, ok bool, err error) {
	err = c.b.View(func(tx Tx) error {
		m, ok, err = tx.Message(id)
		return err
	})
	return m, ok, err
}

func (c committedTx) LastMessageID() (id uint64, ok bool, err error) {
	err = c.b.View(func(tx Tx) error {
		id, ok, err = tx.LastMessageID()
		return err
	})
	return id, ok, err
}

func (c committedTx) PutMessage(types.Message) error { return errReadOnly }

func (c committedTx) Replies(replyTo uint64) (ids []uint64, err error) {
	err = c.b.View(func(tx Tx) error {
		ids, err = tx.Replies(replyTo)
		return err
	})
	return ids, err
}

// ForEachMessage collects first so fn runs outside the View.
func (c committedTx) ForEachMessage(fn func(types.Message) error) error {
	var msgs []types.Message
	err := c.b.View(func(tx Tx) error {
		return tx.ForEachMessage(func(m types.Message) error {
			msgs = append(msgs, m)
			return nil
		})
	})
	if err != nil {
		return err
	}
	for _, m := range msgs {
		if err := fn(m); err != nil {
			return err
		}
	}
	return nil
}

func (c committedTx) LikeRecord(user string) (r types.LikeRecord, ok bool, err error) {
	err = c.b.View(func(tx Tx) error {
		r, ok, err = tx.LikeRecord(user)
		return err
	})
	return r, ok, err
}

func (c committedTx) PutLikeRecord(types.LikeRecord) error { return errReadOnly }

func (c committedTx) ForEachLikeRecord(fn func(types.LikeRecord) error) error {
	var records []types.LikeRecord
	err := c.b.View(func(tx Tx) error {
		return tx.ForEachLikeRecord(func(r types.LikeRecord) error {
			records = append(records, r)
			return nil
		})
	})
	if err != nil {
		return err
	}
	for _, r := range records {
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}

func (c committedTx) PutCommit(types.CommitInfo) error { return errReadOnly }
