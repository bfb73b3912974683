package store

import (
	"database/sql"
	"fmt"
)

// SaveSession persists a session together with its profile in one
// transaction. Login must never leave a session without a profile or the
// other way around.
func (db *DB) SaveSession(s *Session, p *Profile) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		INSERT INTO sessions (profile_id, token)
		VALUES (?, ?)
		ON CONFLICT(profile_id) DO UPDATE SET token = excluded.token`,
		s.ProfileID, s.Token); err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	if _, err := tx.Exec(`
		INSERT INTO profiles (id, username)
		VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET username = excluded.username`,
		p.ID, p.Username); err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return tx.Commit()
}

// SessionByID returns the session for a profile, or nil when there is none.
func (db *DB) SessionByID(profileID int64) (*Session, error) {
	var s Session
	err := db.QueryRow(`SELECT profile_id, token FROM sessions WHERE profile_id = ?`, profileID).
		Scan(&s.ProfileID, &s.Token)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Sessions returns all stored sessions joined with their profiles.
func (db *DB) Sessions() ([]SessionRecord, error) {
	rows, err := db.Query(`
		SELECT s.profile_id, s.token, p.id, p.username
		FROM sessions s
		INNER JOIN profiles p ON p.id = s.profile_id
		ORDER BY s.profile_id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var records []SessionRecord
	for rows.Next() {
		var r SessionRecord
		if err := rows.Scan(&r.Session.ProfileID, &r.Session.Token, &r.Profile.ID, &r.Profile.Username); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// DeleteSession removes the session for a profile. Cached chats and messages
// are retained for offline viewing.
func (db *DB) DeleteSession(profileID int64) error {
	_, err := db.Exec(`DELETE FROM sessions WHERE profile_id = ?`, profileID)
	return err
}
