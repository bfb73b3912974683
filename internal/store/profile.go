package store

import (
	"database/sql"
	"fmt"
)

// UpsertProfile inserts or updates a profile (idempotent by id).
func (db *DB) UpsertProfile(p *Profile) error {
	_, err := db.Exec(`
		INSERT INTO profiles (id, username)
		VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET username = excluded.username`,
		p.ID, p.Username)
	return err
}

// UpsertProfiles inserts or updates multiple profiles in a single transaction.
func (db *DB) UpsertProfiles(profiles []Profile) error {
	if len(profiles) == 0 {
		return nil
	}
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
	return tx.Commit()
}

// ProfileByID returns a profile by id, or nil when unknown.
func (db *DB) ProfileByID(id int64) (*Profile, error) {
	var p Profile
	err := db.QueryRow(`SELECT id, username FROM profiles WHERE id = ?`, id).
		Scan(&p.ID, &p.Username)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}
