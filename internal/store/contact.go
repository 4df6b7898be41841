package store

import (
	"database/sql"
	"fmt"
	"time"
)

const contactUpsert = `
	INSERT INTO contacts (instance_id, jid, name, alias_jid, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(instance_id, jid) DO UPDATE SET
		name = CASE WHEN excluded.name != '' THEN excluded.name ELSE contacts.name END,
		alias_jid = CASE WHEN excluded.alias_jid != '' THEN excluded.alias_jid ELSE contacts.alias_jid END,
		updated_at = excluded.updated_at`

// UpsertContact inserts or updates a contact. Name and alias writes
// are additive: an empty incoming value never erases a stored one.
func (db *DB) UpsertContact(c *Contact) error {
	_, err := db.Exec(contactUpsert, c.InstanceID, c.JID, c.Name, c.AliasJID, time.Now().UnixMilli())
	return err
}

// LearnContactName records a name observed on a message, keeping any
// name that was already resolved.
func (db *DB) LearnContactName(instanceID int64, jid, name string) error {
	if name == "" {
		return nil
	}
	_, err := db.Exec(`
		INSERT INTO contacts (instance_id, jid, name, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(instance_id, jid) DO UPDATE SET
			name = CASE WHEN contacts.name = '' THEN excluded.name ELSE contacts.name END,
			updated_at = excluded.updated_at`,
		instanceID, jid, name, time.Now().UnixMilli())
	return err
}

// GetContact returns a contact by address, or nil if unknown.
func (db *DB) GetContact(instanceID int64, jid string) (*Contact, error) {
	var c Contact
	err := db.QueryRow(`
		SELECT instance_id, jid, name, alias_jid, avatar_path, avatar_checked_at
		FROM contacts WHERE instance_id = ? AND jid = ?`, instanceID, jid).
		Scan(&c.InstanceID, &c.JID, &c.Name, &c.AliasJID, &c.AvatarPath, &c.AvatarCheckedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ContactName returns the stored display name for an address, or the
// empty string.
func (db *DB) ContactName(instanceID int64, jid string) (string, error) {
	var name string
	err := db.QueryRow(`SELECT name FROM contacts WHERE instance_id = ? AND jid = ?`, instanceID, jid).Scan(&name)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return name, err
}

// ResolveAlias maps a secondary raw address back to the primary
// contact address, or returns the input when no mapping exists.
func (db *DB) ResolveAlias(instanceID int64, aliasJID string) (string, error) {
	var jid string
	err := db.QueryRow(`SELECT jid FROM contacts WHERE instance_id = ? AND alias_jid = ?`, instanceID, aliasJID).Scan(&jid)
	if err == sql.ErrNoRows {
		return aliasJID, nil
	}
	if err != nil {
		return aliasJID, err
	}
	return jid, nil
}

// SetContactAvatar updates the cached avatar reference. An empty path
// clears the cache; the check stamp is written either way.
func (db *DB) SetContactAvatar(instanceID int64, jid, path string) error {
	_, err := db.Exec(`UPDATE contacts SET avatar_path = ?, avatar_checked_at = ? WHERE instance_id = ? AND jid = ?`,
		path, time.Now().UnixMilli(), instanceID, jid)
	return err
}

// ApplyHistoryIdentity persists a history batch's contacts and chats in
// one transaction, contacts first so later chat rows can resolve names.
// Messages are deliberately left out of the transaction; projecting them
// may stall on media downloads.
func (db *DB) ApplyHistoryIdentity(contacts []Contact, chats []Chat) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	for _, c := range contacts {
		if _, err := tx.Exec(contactUpsert, c.InstanceID, c.JID, c.Name, c.AliasJID, now); err != nil {
			return fmt.Errorf("upsert contact %q: %w", c.JID, err)
		}
	}
	for _, c := range chats {
		if _, err := tx.Exec(`
			INSERT INTO chats (instance_id, jid, name, unread_count, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(instance_id, jid) DO UPDATE SET
				name = `+chatNameUpgrade+`,
				unread_count = excluded.unread_count,
				updated_at = excluded.updated_at`,
			c.InstanceID, c.JID, c.Name, c.UnreadCount, now); err != nil {
			return fmt.Errorf("upsert chat %q: %w", c.JID, err)
		}
	}
	return tx.Commit()
}
