package store

import (
	"database/sql"
	"time"
)

// UpsertChat inserts or updates a chat record, idempotent on
// (chat_id, profile_id). Returns the local row id.
func (db *DB) UpsertChat(c *Chat) (int64, error) {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO chats (chat_id, profile_id, name, created_at, part_count, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(chat_id, profile_id) DO UPDATE SET
			name = excluded.name,
			created_at = excluded.created_at,
			part_count = excluded.part_count,
			updated_at = excluded.updated_at`,
		c.ChatID, c.ProfileID, c.Name, c.CreatedAt, c.Participants, now)
	if err != nil {
		return 0, err
	}

	var id int64
	err = db.QueryRow(`SELECT id FROM chats WHERE chat_id = ? AND profile_id = ?`,
		c.ChatID, c.ProfileID).Scan(&id)
	if err != nil {
		return 0, err
	}
	c.LocalID = id
	return id, nil
}

// FindChat returns the cached chat for (profileID, chatID), or nil.
func (db *DB) FindChat(profileID, chatID int64) (*Chat, error) {
	var c Chat
	err := db.QueryRow(`
		SELECT id, chat_id, profile_id, name, created_at, part_count
		FROM chats
		WHERE chat_id = ? AND profile_id = ?`, chatID, profileID).
		Scan(&c.LocalID, &c.ChatID, &c.ProfileID, &c.Name, &c.CreatedAt, &c.Participants)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ChatsForProfile returns all cached chats for a profile, most recent
// activity first. A chat with no messages falls back to its creation time.
func (db *DB) ChatsForProfile(profileID int64) ([]Chat, error) {
	rows, err := db.Query(`
		SELECT c.id, c.chat_id, c.profile_id, c.name, c.created_at, c.part_count
		FROM chats c
		LEFT JOIN message m ON m.chat_id = c.chat_id
		WHERE c.profile_id = ?
		GROUP BY c.id
		ORDER BY COALESCE(MAX(m.created_at), c.created_at) DESC`, profileID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var chats []Chat
	for rows.Next() {
		var c Chat
		if err := rows.Scan(&c.LocalID, &c.ChatID, &c.ProfileID, &c.Name, &c.CreatedAt, &c.Participants); err != nil {
			return nil, err
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}
