package ledger

import (
	"fmt"
	"math"

	"talk.mini/talk/internal/types"
)

// ReservedIDStart is the first id the store assigns itself. Callers may only
// choose ids below it.
const ReservedIDStart uint64 = 1_000_000_000

// ValidatePost applies the checks that need no state.
func ValidatePost(p types.PostPayload) error {
	if p.ID >= ReservedIDStart {
		return newError(KindValidation, "supplied id %d too large", p.ID)
	}
	return nil
}

// postTx inserts a message. A non-zero ReplyTo must name an existing message.
// ID zero asks the store to pick max(last id + 1, ReservedIDStart).
func postTx(tx Tx, p types.PostPayload) (types.Message, error) {
	if p.ReplyTo != 0 {
		_, ok, err := tx.Message(p.ReplyTo)
		if err != nil {
			return types.Message{}, fmt.Errorf("load reply target: %w", err)
		}
		if !ok {
			return types.Message{}, newError(KindReference, "reply target %d does not exist", p.ReplyTo)
		}
	}

	if err := ValidatePost(p); err != nil {
		return types.Message{}, err
	}

	id := p.ID
	if id == 0 {
		next, err := nextID(tx)
		if err != nil {
			return types.Message{}, err
		}
		id = next
	} else {
		_, exists, err := tx.Message(id)
		if err != nil {
			return types.Message{}, fmt.Errorf("load message: %w", err)
		}
		if exists {
			return types.Message{}, newError(KindConflict, "message id %d already exists", id)
		}
	}

	msg := types.Message{
		ID:      id,
		ReplyTo: p.ReplyTo,
		Likes:   0,
		User:    p.User,
		Content: p.Content,
	}
	if err := tx.PutMessage(msg); err != nil {
		return types.Message{}, fmt.Errorf("store message: %w", err)
	}
	return msg, nil
}

func nextID(tx Tx) (uint64, error) {
	last, ok, err := tx.LastMessageID()
	if err != nil {
		return 0, fmt.Errorf("load last message id: %w", err)
	}
	var available uint64
	if ok {
		if last == math.MaxUint64 {
			return 0, newError(KindValidation, "next primary key in table is at max")
		}
		available = last + 1
	}
	return max(available, ReservedIDStart), nil
}
