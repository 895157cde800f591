package ledger

import "talk.mini/talk/internal/types"

// Tx is one staged unit of work against a backend. Reads observe earlier
// writes made through the same Tx.
type Tx interface {
	// Message looks a message up by primary key.
	Message(id uint64) (types.Message, bool, error)
	// LastMessageID returns the largest stored id; false when the store is empty.
	LastMessageID() (uint64, bool, error)
	// PutMessage inserts or replaces a message and keeps the reply-target
	// index in step.
	PutMessage(m types.Message) error
	// Replies returns the ids of messages whose ReplyTo equals replyTo, ascending.
	Replies(replyTo uint64) ([]uint64, error)
	// ForEachMessage visits every message in ascending id order.
	ForEachMessage(fn func(types.Message) error) error

	// LikeRecord looks up a user's like-set.
	LikeRecord(user string) (types.LikeRecord, bool, error)
	// PutLikeRecord stores a user's like-set. Like-sets only grow, so a
	// backend may treat it as adding the ids it has not seen.
	PutLikeRecord(r types.LikeRecord) error
	// ForEachLikeRecord visits every like-set in ascending user order.
	ForEachLikeRecord(fn func(types.LikeRecord) error) error

	// PutCommit records the last committed block alongside the writes.
	PutCommit(info types.CommitInfo) error
}

// Backend owns durable state. Update applies fn's writes atomically only if
// fn returns nil; on any error none of them are observable afterwards.
type Backend interface {
	Update(fn func(Tx) error) error
	View(fn func(Tx) error) error

	LastCommit() (types.CommitInfo, error)
	SaveCommit(info types.CommitInfo) error

	Close() error
}
