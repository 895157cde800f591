package ledger

import (
	"fmt"

	"talk.mini/talk/internal/types"
)

// likeTx adds id to user's like-set, creating the set on first use, and
// increments the message counter. Both writes share tx.
func likeTx(tx Tx, id uint64, user string) (types.Message, error) {
	msg, ok, err := tx.Message(id)
	if err != nil {
		return types.Message{}, fmt.Errorf("load message: %w", err)
	}
	if !ok {
		return types.Message{}, newError(KindReference, "no post exists with id: %d", id)
	}

	record, found, err := tx.LikeRecord(user)
	if err != nil {
		return types.Message{}, fmt.Errorf("load likes: %w", err)
	}
	if !found {
		record = types.LikeRecord{User: user}
	} else if record.Contains(id) {
		return types.Message{}, newError(KindConflict, "%s has already liked that post", user)
	}

	if err := tx.PutLikeRecord(record.Insert(id)); err != nil {
		return types.Message{}, fmt.Errorf("store likes: %w", err)
	}

	msg.Likes++
	if err := tx.PutMessage(msg); err != nil {
		return types.Message{}, fmt.Errorf("store message: %w", err)
	}
	return msg, nil
}
