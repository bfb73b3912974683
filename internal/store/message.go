package store

import (
	"database/sql"
	"fmt"
	"strings"
)

// UpsertMessage inserts or updates a message (idempotent by id).
func (db *DB) UpsertMessage(m *Message) error {
	_, err := db.Exec(`
		INSERT INTO message (id, chat_id, text, reply_to, from_profile_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			text = excluded.text,
			reply_to = excluded.reply_to,
			from_profile_id = excluded.from_profile_id,
			created_at = excluded.created_at`,
		m.ID, m.ChatID, m.Text, m.ReplyTo, m.FromProfileID, m.CreatedAt)
	return err
}

// UpsertFile inserts or updates a message file attachment (idempotent by id).
func (db *DB) UpsertFile(f *MessageFile) error {
	_, err := db.Exec(`
		INSERT INTO message_file (id, message_id, filename, file_size)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			message_id = excluded.message_id,
			filename = excluded.filename,
			file_size = excluded.file_size`,
		f.ID, f.MessageID, f.Filename, f.Size)
	return err
}

// SaveMessageBatch upserts authors, messages and attachments in one
// transaction. A reply chain is either fully cached or not cached at all.
func (db *DB) SaveMessageBatch(profiles []Profile, msgs []Message, files []MessageFile) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, p := range profiles {
		if _, err := tx.Exec(`
			INSERT INTO profiles (id, username)
			VALUES (?, ?)
			ON CONFLICT(id) DO UPDATE SET username = excluded.username`,
			p.ID, p.Username); err != nil {
			return fmt.Errorf("upsert profile %d: %w", p.ID, err)
		}
	}
	for _, m := range msgs {
		if _, err := tx.Exec(`
			INSERT INTO message (id, chat_id, text, reply_to, from_profile_id, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				text = excluded.text,
				reply_to = excluded.reply_to,
				from_profile_id = excluded.from_profile_id,
				created_at = excluded.created_at`,
			m.ID, m.ChatID, m.Text, m.ReplyTo, m.FromProfileID, m.CreatedAt); err != nil {
			return fmt.Errorf("upsert message %d: %w", m.ID, err)
		}
	}
	for _, f := range files {
		if _, err := tx.Exec(`
			INSERT INTO message_file (id, message_id, filename, file_size)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				message_id = excluded.message_id,
				filename = excluded.filename,
				file_size = excluded.file_size`,
			f.ID, f.MessageID, f.Filename, f.Size); err != nil {
			return fmt.Errorf("upsert file %d: %w", f.ID, err)
		}
	}
	return tx.Commit()
}

const messageSelect = `
	SELECT m.id, m.chat_id, m.text, m.reply_to, m.from_profile_id, m.created_at,
	       p.id, p.username
	FROM message m
	INNER JOIN profiles p ON p.id = m.from_profile_id`

// MessagesForChat returns all messages of a chat joined with author and
// attachments, ordered by creation time ascending.
func (db *DB) MessagesForChat(chatID int64) ([]MessageRecord, error) {
	rows, err := db.Query(messageSelect+`
		WHERE m.chat_id = ?
		ORDER BY m.created_at`, chatID)
	if err != nil {
		return nil, err
	}
	return db.collectRecords(rows)
}

// MessagesByIDs returns the messages of a chat restricted to the given ids,
// ordered by creation time ascending. Unknown ids are simply absent from the
// result.
func (db *DB) MessagesByIDs(chatID int64, ids []int64) ([]MessageRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?,", len(ids)-1) + "?"
	args := make([]any, 0, len(ids)+1)
	args = append(args, chatID)
	for _, id := range ids {
		args = append(args, id)
	}
	rows, err := db.Query(messageSelect+`
		WHERE m.chat_id = ? AND m.id IN (`+placeholders+`)
		ORDER BY m.created_at`, args...)
	if err != nil {
		return nil, err
	}
	return db.collectRecords(rows)
}

// LastMessageForChat returns the most recent message of a chat, or nil when
// the chat has none.
func (db *DB) LastMessageForChat(chatID int64) (*MessageRecord, error) {
	rows, err := db.Query(messageSelect+`
		WHERE m.chat_id = ?
		ORDER BY m.created_at DESC
		LIMIT 1`, chatID)
	if err != nil {
		return nil, err
	}
	records, err := db.collectRecords(rows)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}

func (db *DB) collectRecords(rows *sql.Rows) ([]MessageRecord, error) {
	defer func() { _ = rows.Close() }()

	var records []MessageRecord
	for rows.Next() {
		var r MessageRecord
		if err := rows.Scan(
			&r.Message.ID, &r.Message.ChatID, &r.Message.Text, &r.Message.ReplyTo,
			&r.Message.FromProfileID, &r.Message.CreatedAt,
			&r.Author.ID, &r.Author.Username,
		); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, db.attachFiles(records)
}

func (db *DB) attachFiles(records []MessageRecord) error {
	if len(records) == 0 {
		return nil
	}
	placeholders := strings.Repeat("?,", len(records)-1) + "?"
	args := make([]any, len(records))
	byID := make(map[int64]*MessageRecord, len(records))
	for i := range records {
		args[i] = records[i].Message.ID
		byID[records[i].Message.ID] = &records[i]
	}

	rows, err := db.Query(`
		SELECT id, message_id, filename, file_size
		FROM message_file
		WHERE message_id IN (`+placeholders+`)
		ORDER BY id`, args...)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var f MessageFile
		if err := rows.Scan(&f.ID, &f.MessageID, &f.Filename, &f.Size); err != nil {
			return err
		}
		if r, ok := byID[f.MessageID]; ok {
			r.Files = append(r.Files, f)
		}
	}
	return rows.Err()
}
