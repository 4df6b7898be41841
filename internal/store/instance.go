package store

import (
	"database/sql"
	"fmt"
	"time"
)

// CreateInstance registers a new account and returns its id.
func (db *DB) CreateInstance(name, owner string) (int64, error) {
	res, err := db.Exec(`
		INSERT INTO instances (name, owner, status, presence, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		name, owner, StatusDisconnected, PresenceAvailable, time.Now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("create instance: %w", err)
	}
	return res.LastInsertId()
}

// GetInstance returns an instance by id, or nil if unknown.
func (db *DB) GetInstance(id int64) (*Instance, error) {
	var inst Instance
	err := db.QueryRow(`
		SELECT id, name, owner, status, presence, qr_payload, last_seen
		FROM instances WHERE id = ?`, id).
		Scan(&inst.ID, &inst.Name, &inst.Owner, &inst.Status, &inst.Presence, &inst.QRPayload, &inst.LastSeen)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &inst, nil
}

// ListInstances returns all instances, optionally filtered by owner.
func (db *DB) ListInstances(owner string) ([]Instance, error) {
	query := `SELECT id, name, owner, status, presence, qr_payload, last_seen FROM instances`
	args := []any{}
	if owner != "" {
		query += ` WHERE owner = ?`
		args = append(args, owner)
	}
	query += ` ORDER BY id`
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Instance
	for rows.Next() {
		var inst Instance
		if err := rows.Scan(&inst.ID, &inst.Name, &inst.Owner, &inst.Status, &inst.Presence, &inst.QRPayload, &inst.LastSeen); err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

// SetInstanceStatus records a connection state transition and stamps
// last_seen when the transport reports connected.
func (db *DB) SetInstanceStatus(id int64, status string) error {
	now := time.Now().UnixMilli()
	if status == StatusConnected {
		_, err := db.Exec(`UPDATE instances SET status = ?, last_seen = ? WHERE id = ?`, status, now, id)
		return err
	}
	_, err := db.Exec(`UPDATE instances SET status = ? WHERE id = ?`, status, id)
	return err
}

// SetInstancePresence records the desired presence mode.
func (db *DB) SetInstancePresence(id int64, presence string) error {
	_, err := db.Exec(`UPDATE instances SET presence = ? WHERE id = ?`, presence, id)
	return err
}

// SetInstanceQR stores the pending pairing payload. Pass the empty
// string once pairing succeeds.
func (db *DB) SetInstanceQR(id int64, payload string) error {
	_, err := db.Exec(`UPDATE instances SET qr_payload = ? WHERE id = ?`, payload, id)
	return err
}

// DeleteInstance removes an instance and every row it owns.
func (db *DB) DeleteInstance(id int64) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"reactions", "status_updates", "messages", "contacts", "chats", "outbox"} {
		if _, err := tx.Exec(fmt.Sprintf(`DELETE FROM %s WHERE instance_id = ?`, table), id); err != nil {
			return fmt.Errorf("delete %s: %w", table, err)
		}
	}
	if _, err := tx.Exec(`DELETE FROM instances WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete instance: %w", err)
	}
	return tx.Commit()
}
