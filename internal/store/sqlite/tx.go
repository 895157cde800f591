package sqlite

import (
	"database/sql"
	"errors"
	"fmt"

	"talk.mini/talk/internal/types"
)

type sqlTx struct {
	tx       *sql.Tx
	writable bool
}

func (t *sqlTx) Message(id uint64) (types.Message, bool, error) {
	m := types.Message{ID: id}
	var replyTo, likes int64
	err := t.tx.QueryRow(`SELECT reply_to, likes, author, content FROM messages WHERE id = ?`, encodeID(id)).
		Scan(&replyTo, &likes, &m.User, &m.Content)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Message{}, false, nil
	}
	if err != nil {
		return types.Message{}, false, fmt.Errorf("select message %d: %w", id, err)
	}
	m.ReplyTo = decodeID(replyTo)
	m.Likes = uint64(likes)
	return m, true, nil
}

func (t *sqlTx) LastMessageID() (uint64, bool, error) {
	var v int64
	err := t.tx.QueryRow(`SELECT id FROM messages ORDER BY id DESC LIMIT 1`).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("select last id: %w", err)
	}
	return decodeID(v), true, nil
}

func (t *sqlTx) PutMessage(m types.Message) error {
	if !t.writable {
		return errReadOnly
	}
	_, err := t.tx.Exec(`INSERT INTO messages (id, reply_to, likes, author, content) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			reply_to = excluded.reply_to,
			likes = excluded.likes,
			author = excluded.author,
			content = excluded.content`,
		encodeID(m.ID), encodeID(m.ReplyTo), int64(m.Likes), m.User, m.Content)
	if err != nil {
		return fmt.Errorf("upsert message %d: %w", m.ID, err)
	}
	return nil
}

func (t *sqlTx) Replies(replyTo uint64) ([]uint64, error) {
	rows, err := t.tx.Query(`SELECT id FROM messages WHERE reply_to = ? ORDER BY id`, encodeID(replyTo))
	if err != nil {
		return nil, fmt.Errorf("select replies: %w", err)
	}
	defer rows.Close()

	var ids []uint64
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		ids = append(ids, decodeID(v))
	}
	return ids, rows.Err()
}

func (t *sqlTx) ForEachMessage(fn func(types.Message) error) error {
	rows, err := t.tx.Query(`SELECT id, reply_to, likes, author, content FROM messages ORDER BY id`)
	if err != nil {
		return fmt.Errorf("select messages: %w", err)
	}

	// drain first so fn may issue its own queries on this transaction
	var msgs []types.Message
	for rows.Next() {
		var m types.Message
		var id, replyTo, likes int64
		if err := rows.Scan(&id, &replyTo, &likes, &m.User, &m.Content); err != nil {
			rows.Close()
			return err
		}
		m.ID, m.ReplyTo, m.Likes = decodeID(id), decodeID(replyTo), uint64(likes)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, m := range msgs {
		if err := fn(m); err != nil {
			return err
		}
	}
	return nil
}

func (t *sqlTx) LikeRecord(user string) (types.LikeRecord, bool, error) {
	rows, err := t.tx.Query(`SELECT message_id FROM likes WHERE author = ? ORDER BY message_id`, user)
	if err != nil {
		return types.LikeRecord{}, false, fmt.Errorf("select likes: %w", err)
	}
	defer rows.Close()

	r := types.LikeRecord{User: user}
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return types.LikeRecord{}, false, err
		}
		r.Messages = append(r.Messages, decodeID(v))
	}
	if err := rows.Err(); err != nil {
		return types.LikeRecord{}, false, err
	}
	if len(r.Messages) == 0 {
		return types.LikeRecord{}, false, nil
	}
	return r, true, nil
}

// PutLikeRecord stores the set as one row per liked message. Like-sets only
// grow, so inserting the missing rows is the same as replacing the set.
func (t *sqlTx) PutLikeRecord(r types.LikeRecord) error {
	if !t.writable {
		return errReadOnly
	}
	stmt, err := t.tx.Prepare(`INSERT OR IGNORE INTO likes (author, message_id) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare like insert: %w", err)
	}
	defer stmt.Close()

	for _, id := range r.Messages {
		if _, err := stmt.Exec(r.User, encodeID(id)); err != nil {
			return fmt.Errorf("insert like %s/%d: %w", r.User, id, err)
		}
	}
	return nil
}

func (t *sqlTx) ForEachLikeRecord(fn func(types.LikeRecord) error) error {
	rows, err := t.tx.Query(`SELECT author, message_id FROM likes ORDER BY author, message_id`)
	if err != nil {
		return fmt.Errorf("select likes: %w", err)
	}

	var records []types.LikeRecord
	for rows.Next() {
		var user string
		var v int64
		if err := rows.Scan(&user, &v); err != nil {
			rows.Close()
			return err
		}
		if n := len(records); n == 0 || records[n-1].User != user {
			records = append(records, types.LikeRecord{User: user})
		}
		last := &records[len(records)-1]
		last.Messages = append(last.Messages, decodeID(v))
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, r := range records {
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}

func (t *sqlTx) PutCommit(info types.CommitInfo) error {
	if !t.writable {
		return errReadOnly
	}
	_, err := t.tx.Exec(`INSERT INTO commit_info (singleton, height, app_hash) VALUES (1, ?, ?)
		ON CONFLICT(singleton) DO UPDATE SET height = excluded.height, app_hash = excluded.app_hash`,
		info.Height, info.AppHash)
	if err != nil {
		return fmt.Errorf("save commit info: %w", err)
	}
	return nil
}
