package store

import (
	"database/sql"
	"time"
)

// UpsertReaction records the latest reaction a sender left on a
// message. Last write wins per (message, sender); an empty emoji is
// stored as-is rather than deleting the row.
func (db *DB) UpsertReaction(r *Reaction) error {
	_, err := db.Exec(`
		INSERT INTO reactions (instance_id, message_wa_id, sender_jid, emoji, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(instance_id, message_wa_id, sender_jid) DO UPDATE SET
			emoji = excluded.emoji,
			updated_at = excluded.updated_at`,
		r.InstanceID, r.MessageWAID, r.SenderJID, r.Emoji, time.Now().UnixMilli())
	return err
}

// MessageReactions returns the reactions stored for a message.
func (db *DB) MessageReactions(instanceID int64, messageWAID string) ([]Reaction, error) {
	rows, err := db.Query(`
		SELECT instance_id, message_wa_id, sender_jid, emoji
		FROM reactions WHERE instance_id = ? AND message_wa_id = ?`,
		instanceID, messageWAID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Reaction
	for rows.Next() {
		var r Reaction
		if err := rows.Scan(&r.InstanceID, &r.MessageWAID, &r.SenderJID, &r.Emoji); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// AppendStatusUpdate stores one broadcast-channel post.
func (db *DB) AppendStatusUpdate(s *StatusUpdate) error {
	var media any
	if s.MediaPath != "" {
		media = s.MediaPath
	}
	_, err := db.Exec(`
		INSERT INTO status_updates (instance_id, sender_jid, sender_name, kind, body, media_path, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.InstanceID, s.SenderJID, s.SenderName, s.Kind, s.Body, media, s.Timestamp)
	return err
}

// ListStatusUpdates returns an instance's status posts, newest first.
func (db *DB) ListStatusUpdates(instanceID int64, limit int) ([]StatusUpdate, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT id, instance_id, sender_jid, sender_name, kind, body, media_path, timestamp
		FROM status_updates WHERE instance_id = ?
		ORDER BY timestamp DESC LIMIT ?`, instanceID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []StatusUpdate
	for rows.Next() {
		var s StatusUpdate
		var media sql.NullString
		if err := rows.Scan(&s.ID, &s.InstanceID, &s.SenderJID, &s.SenderName, &s.Kind, &s.Body, &media, &s.Timestamp); err != nil {
			return nil, err
		}
		s.MediaPath = media.String
		out = append(out, s)
	}
	return out, rows.Err()
}
