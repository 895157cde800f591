// Package ledger is the talk state machine. It owns two indexed collections,
// messages (with a reply-target index) and per-user like-sets, and the two
// operations that mutate them: Post and Like. Each operation either applies
// completely or not at all. Outside a block an operation is its own backend
// transaction; inside a block (BeginBlock .. CommitBlock) operations are staged
// in memory and reach the backend together with the block's CommitInfo.
package ledger

import (
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"talk.mini/talk/internal/types"
)

// Authorizer answers whether the current invocation is authorized to act as
// user. The ledger consults it before touching any state.
type Authorizer interface {
	Authorized(user string) bool
}

// AuthorizerFunc adapts a plain function to Authorizer.
type AuthorizerFunc func(user string) bool

func (f AuthorizerFunc) Authorized(user string) bool {
	return f(user)
}

// Ledger serializes operations onto a Backend.
type Ledger struct {
	mu      sync.Mutex
	backend Backend
	block   *staged // nil outside a block
}

// New wraps a backend.
func New(backend Backend) *Ledger {
	return &Ledger{backend: backend}
}

// Backend returns the underlying storage.
func (l *Ledger) Backend() Backend {
	return l.backend
}

// Post stores a new message. See postTx for the rules.
func (l *Ledger) Post(auth Authorizer, p types.PostPayload) (types.Message, error) {
	if err := authorize(auth, p.User); err != nil {
		return types.Message{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var msg types.Message
	err := l.update(func(tx Tx) error {
		var err error
		msg, err = postTx(tx, p)
		return err
	})
	if err != nil {
		log.WithFields(log.Fields{"op": "post", "user": p.User, "id": p.ID}).Debugf("post rejected: %v", err)
		return types.Message{}, err
	}
	log.WithFields(log.Fields{"op": "post", "user": msg.User, "id": msg.ID, "reply_to": msg.ReplyTo}).Info("message posted")
	return msg, nil
}

// Like records that user likes message id and bumps its counter.
func (l *Ledger) Like(auth Authorizer, id uint64, user string) (types.Message, error) {
	if err := authorize(auth, user); err != nil {
		return types.Message{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var msg types.Message
	err := l.update(func(tx Tx) error {
		var err error
		msg, err = likeTx(tx, id, user)
		return err
	})
	if err != nil {
		log.WithFields(log.Fields{"op": "like", "user": user, "id": id}).Debugf("like rejected: %v", err)
		return types.Message{}, err
	}
	log.WithFields(log.Fields{"op": "like", "user": user, "id": id, "likes": msg.Likes}).Info("message liked")
	return msg, nil
}

// BeginBlock starts staging operations. It is a no-op while a block is open.
func (l *Ledger) BeginBlock() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.block == nil {
		l.block = newStaged(committedTx{b: l.backend})
	}
}

// InBlock reports whether a block is open.
func (l *Ledger) InBlock() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.block != nil
}

// CommitBlock writes the open block's operations and info in one backend
// update and closes the block. Without an open block only info is written.
// On failure the block stays open and nothing reaches the backend.
func (l *Ledger) CommitBlock(info types.CommitInfo) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	err := l.backend.Update(func(tx Tx) error {
		if l.block != nil {
			if err := l.block.flush(tx); err != nil {
				return err
			}
		}
		return tx.PutCommit(info)
	})
	if err != nil {
		return fmt.Errorf("commit block %d: %w", info.Height, err)
	}
	l.block = nil
	return nil
}

// update runs fn atomically: against the backend, or staged above the open
// block and folded into it only when fn succeeds. Callers hold l.mu.
func (l *Ledger) update(fn func(Tx) error) error {
	if l.block == nil {
		return l.backend.Update(fn)
	}
	op := newStaged(l.block)
	if err := fn(op); err != nil {
		return err
	}
	return op.flush(l.block)
}

// Message returns a committed message. Operations staged in an open block are
// not visible to the read accessors until CommitBlock.
func (l *Ledger) Message(id uint64) (msg types.Message, ok bool, err error) {
	err = l.backend.View(func(tx Tx) error {
		msg, ok, err = tx.Message(id)
		return err
	})
	return msg, ok, err
}

// Replies returns the committed ids of messages replying to replyTo. Zero
// lists the top-level posts.
func (l *Ledger) Replies(replyTo uint64) (ids []uint64, err error) {
	err = l.backend.View(func(tx Tx) error {
		ids, err = tx.Replies(replyTo)
		return err
	})
	return ids, err
}

// LikeRecord returns user's like-set, if they ever liked anything.
func (l *Ledger) LikeRecord(user string) (r types.LikeRecord, ok bool, err error) {
	err = l.backend.View(func(tx Tx) error {
		r, ok, err = tx.LikeRecord(user)
		return err
	})
	return r, ok, err
}

func authorize(auth Authorizer, user string) error {
	if auth == nil || !auth.Authorized(user) {
		return newError(KindAuthorization, "missing authority of %s", user)
	}
	return nil
}
