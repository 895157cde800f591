package ledger

import (
	"fmt"
	"slices"

	"talk.mini/talk/internal/types"
)

// Audit walks the whole state and returns the first broken invariant:
// zero ids, dangling reply targets, a reply index out of step with the
// messages, like-sets naming unknown messages, or a counter that differs from
// the number of like-sets containing its message.
func (l *Ledger) Audit() error {
	return l.backend.View(audit)
}

func audit(tx Tx) error {
	likedBy := make(map[uint64]uint64)
	err := tx.ForEachLikeRecord(func(r types.LikeRecord) error {
		for i, id := range r.Messages {
			if i > 0 && r.Messages[i-1] >= id {
				return fmt.Errorf("like-set of %s is not a sorted set", r.User)
			}
			likedBy[id]++
		}
		return nil
	})
	if err != nil {
		return err
	}

	expected := make(map[uint64][]uint64)
	seen := make(map[uint64]bool)
	err = tx.ForEachMessage(func(m types.Message) error {
		if m.ID == 0 {
			return fmt.Errorf("message with id zero")
		}
		if m.Likes != likedBy[m.ID] {
			return fmt.Errorf("message %d has %d likes, %d users liked it", m.ID, m.Likes, likedBy[m.ID])
		}
		seen[m.ID] = true
		expected[m.ReplyTo] = append(expected[m.ReplyTo], m.ID)
		return nil
	})
	if err != nil {
		return err
	}

	for id := range likedBy {
		if !seen[id] {
			return fmt.Errorf("like-set references unknown message %d", id)
		}
	}

	for replyTo, ids := range expected {
		if replyTo != 0 && !seen[replyTo] {
			return fmt.Errorf("message %d replies to unknown message %d", ids[0], replyTo)
		}
		got, err := tx.Replies(replyTo)
		if err != nil {
			return err
		}
		if !slices.Equal(got, ids) {
			return fmt.Errorf("reply index for %d is %v, want %v", replyTo, got, ids)
		}
	}
	return nil
}
