// Package types defines the core domain records of the talk ledger: the
// Message and LikeRecord rows held by the replicated state machine, and the
// commit bookkeeping the host persists between blocks.
package types

import "slices"

// Version is the current version of talk
const Version = "0.1.0"

// BuildTime is set at build time via -ldflags
var BuildTime = "dev"

// Message is a single post on the ledger. Only Likes ever changes after
// creation.
type Message struct {
	ID      uint64 `json:"id"`       // Never zero
	ReplyTo uint64 `json:"reply_to"` // Zero for a top-level post
	Likes   uint64 `json:"likes"`
	User    string `json:"user"`
	Content string `json:"content"`
}

// LikeRecord holds every message id a user has liked. A user has a record
// only after their first like.
type LikeRecord struct {
	User     string   `json:"user"`
	Messages []uint64 `json:"messages"` // Ascending, no duplicates
}

// Contains reports whether id is in the like-set.
func (r LikeRecord) Contains(id uint64) bool {
	_, found := slices.BinarySearch(r.Messages, id)
	return found
}

// Insert returns a copy of the record with id added, keeping the set sorted.
// Inserting an id already present returns an identical copy.
func (r LikeRecord) Insert(id uint64) LikeRecord {
	out := LikeRecord{User: r.User, Messages: slices.Clone(r.Messages)}
	if i, found := slices.BinarySearch(out.Messages, id); !found {
		out.Messages = slices.Insert(out.Messages, i, id)
	}
	return out
}

// CommitInfo is the last block the application committed.
type CommitInfo struct {
	Height  int64  `json:"height"`
	AppHash []byte `json:"app_hash"`
}
