package pebblestore

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"

	"talk.mini/talk/internal/types"
)

type batchTx struct {
	b        *pebble.Batch
	writable bool
}

func (t *batchTx) Message(id uint64) (types.Message, bool, error) {
	var m types.Message
	ok, err := getJSON(t.b, messageKey(id), &m)
	if err != nil || !ok {
		return types.Message{}, false, err
	}
	return m, true, nil
}

func (t *batchTx) LastMessageID() (uint64, bool, error) {
	it, err := t.b.NewIter(prefixOptions(prefixMessage))
	if err != nil {
		return 0, false, err
	}
	defer it.Close()

	if !it.Last() {
		return 0, false, it.Error()
	}
	return binary.BigEndian.Uint64(it.Key()[len(prefixMessage):]), true, nil
}

func (t *batchTx) PutMessage(m types.Message) error {
	if !t.writable {
		return errReadOnly
	}
	v, err := json.Marshal(m)
	if err != nil {
		return err
	}
	if err := t.b.Set(messageKey(m.ID), v, nil); err != nil {
		return fmt.Errorf("set message %d: %w", m.ID, err)
	}
	return t.b.Set(replyKey(m.ReplyTo, m.ID), nil, nil)
}

func (t *batchTx) Replies(replyTo uint64) ([]uint64, error) {
	p := replyPrefix(replyTo)
	it, err := t.b.NewIter(prefixOptions(p))
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var ids []uint64
	for ok := it.First(); ok; ok = it.Next() {
		ids = append(ids, binary.BigEndian.Uint64(it.Key()[len(p):]))
	}
	return ids, it.Error()
}

func (t *batchTx) ForEachMessage(fn func(types.Message) error) error {
	it, err := t.b.NewIter(prefixOptions(prefixMessage))
	if err != nil {
		return err
	}
	defer it.Close()

	for ok := it.First(); ok; ok = it.Next() {
		var m types.Message
		if err := json.Unmarshal(it.Value(), &m); err != nil {
			return fmt.Errorf("decode message %x: %w", it.Key(), err)
		}
		if err := fn(m); err != nil {
			return err
		}
	}
	return it.Error()
}

func (t *batchTx) LikeRecord(user string) (types.LikeRecord, bool, error) {
	var ids []uint64
	ok, err := getJSON(t.b, likeKey(user), &ids)
	if err != nil || !ok {
		return types.LikeRecord{}, false, err
	}
	return types.LikeRecord{User: user, Messages: ids}, true, nil
}

func (t *batchTx) PutLikeRecord(r types.LikeRecord) error {
	if !t.writable {
		return errReadOnly
	}
	v, err := json.Marshal(r.Messages)
	if err != nil {
		return err
	}
	return t.b.Set(likeKey(r.User), v, nil)
}

func (t *batchTx) ForEachLikeRecord(fn func(types.LikeRecord) error) error {
	it, err := t.b.NewIter(prefixOptions(prefixLike))
	if err != nil {
		return err
	}
	defer it.Close()

	for ok := it.First(); ok; ok = it.Next() {
		r := types.LikeRecord{User: string(it.Key()[len(prefixLike):])}
		if err := json.Unmarshal(it.Value(), &r.Messages); err != nil {
			return fmt.Errorf("decode likes of %s: %w", r.User, err)
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return it.Error()
}

func (t *batchTx) PutCommit(info types.CommitInfo) error {
	if !t.writable {
		return errReadOnly
	}
	v, err := json.Marshal(info)
	if err != nil {
		return err
	}
	return t.b.Set(keyCommit, v, nil)
}
