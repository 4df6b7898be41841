package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// UpsertMessage inserts a message, idempotent on (instance_id, wa_id).
// A conflicting insert updates text and status only; every other field
// keeps its first-projected value.
func (db *DB) UpsertMessage(m *Message) error {
	var lat, lon any
	if m.HasLocation {
		lat, lon = m.Latitude, m.Longitude
	}
	var media, vcard any
	if m.MediaPath != "" {
		media = m.MediaPath
	}
	if m.VCard != "" {
		vcard = m.VCard
	}
	_, err := db.Exec(`
		INSERT INTO messages (instance_id, wa_id, chat_jid, sender_jid, sender_name, body, kind,
			media_path, latitude, longitude, vcard, status, timestamp, from_me, reply_to, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(instance_id, wa_id) DO UPDATE SET
			body = excluded.body,
			status = excluded.status`,
		m.InstanceID, m.WAID, m.ChatJID, m.SenderJID, m.SenderName, m.Body, m.Kind,
		media, lat, lon, vcard, m.Status, m.Timestamp, m.FromMe, m.ReplyTo, time.Now().UnixMilli())
	return err
}

// UpdateMessageText applies an edit to an existing message. Unknown
// ids are a silent no-op: the edit may have raced ahead of the
// original projection.
func (db *DB) UpdateMessageText(instanceID int64, waID, text string) error {
	_, err := db.Exec(`UPDATE messages SET body = ? WHERE instance_id = ? AND wa_id = ?`,
		text, instanceID, waID)
	return err
}

// UpdateMessageStatus overwrites a message's status. Used by the send
// path for its sending/sent/failed transitions; receipts go through
// ApplyReceiptStatus instead.
func (db *DB) UpdateMessageStatus(instanceID int64, waID, status string) error {
	_, err := db.Exec(`UPDATE messages SET status = ? WHERE instance_id = ? AND wa_id = ?`,
		status, instanceID, waID)
	return err
}

// statusRank orders delivery statuses so receipts only ever move a
// message forward. Deleted outranks everything; a late receipt must
// not resurrect a cleared message.
const statusRank = `CASE %s
	WHEN 'deleted' THEN 4
	WHEN 'read' THEN 3
	WHEN 'delivered' THEN 2
	WHEN 'sent' THEN 1
	ELSE 0 END`

// ApplyReceiptStatus upgrades a message's delivery status. Receipts
// are delivered at least once and unordered, so a replayed delivered
// after read is a no-op. Unknown ids are a no-op too.
func (db *DB) ApplyReceiptStatus(instanceID int64, waID, status string) error {
	query := fmt.Sprintf(
		`UPDATE messages SET status = ? WHERE instance_id = ? AND wa_id = ? AND %s < %s`,
		fmt.Sprintf(statusRank, "status"), fmt.Sprintf(statusRank, "?"))
	_, err := db.Exec(query, status, instanceID, waID, status)
	return err
}

// ListMessages returns a chat's messages by keyset pagination on
// timestamp, newest first.
func (db *DB) ListMessages(instanceID int64, chatJID string, beforeTS int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTS <= 0 {
		beforeTS = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(`
		SELECT id, instance_id, wa_id, chat_jid, sender_jid, sender_name, body, kind,
			media_path, latitude, longitude, vcard, status, timestamp, from_me, reply_to, deleted_on_device
		FROM messages
		WHERE instance_id = ? AND chat_jid = ? AND timestamp < ?
		ORDER BY timestamp DESC
		LIMIT ?`, instanceID, chatJID, beforeTS, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanMessages(rows)
}

// OldestMessage returns the backward pagination cursor for a chat, or
// nil when the chat has no stored messages yet.
func (db *DB) OldestMessage(instanceID int64, chatJID string) (*MessageCursor, error) {
	var cur MessageCursor
	err := db.QueryRow(`
		SELECT wa_id, timestamp, from_me FROM messages
		WHERE instance_id = ? AND chat_jid = ?
		ORDER BY timestamp ASC LIMIT 1`, instanceID, chatJID).
		Scan(&cur.WAID, &cur.Timestamp, &cur.FromMe)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cur, nil
}

// MessagesAfter returns a chat's not-yet-deleted messages with
// timestamp strictly after the given stamp. Used by the ephemeral sweep.
func (db *DB) MessagesAfter(instanceID int64, chatJID string, afterTS int64) ([]Message, error) {
	rows, err := db.Query(`
		SELECT id, instance_id, wa_id, chat_jid, sender_jid, sender_name, body, kind,
			media_path, latitude, longitude, vcard, status, timestamp, from_me, reply_to, deleted_on_device
		FROM messages
		WHERE instance_id = ? AND chat_jid = ? AND deleted_on_device = 0 AND timestamp > ?`,
		instanceID, chatJID, afterTS)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanMessages(rows)
}

// MarkMessagesDeleted soft-deletes the given external ids.
func (db *DB) MarkMessagesDeleted(instanceID int64, waIDs []string) error {
	if len(waIDs) == 0 {
		return nil
	}
	placeholders := strings.Repeat("?,", len(waIDs)-1) + "?"
	args := make([]any, 0, len(waIDs)+1)
	args = append(args, instanceID)
	for _, id := range waIDs {
		args = append(args, id)
	}
	_, err := db.Exec(
		fmt.Sprintf(`UPDATE messages SET deleted_on_device = 1, status = 'deleted' WHERE instance_id = ? AND wa_id IN (%s)`, placeholders),
		args...)
	return err
}

// MessageCount returns how many messages an instance owns.
func (db *DB) MessageCount(instanceID int64) (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM messages WHERE instance_id = ?`, instanceID).Scan(&count)
	return count, err
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	var msgs []Message
	for rows.Next() {
		var m Message
		var media, vcard sql.NullString
		var lat, lon sql.NullFloat64
		if err := rows.Scan(&m.ID, &m.InstanceID, &m.WAID, &m.ChatJID, &m.SenderJID, &m.SenderName,
			&m.Body, &m.Kind, &media, &lat, &lon, &vcard,
			&m.Status, &m.Timestamp, &m.FromMe, &m.ReplyTo, &m.DeletedOnDevice); err != nil {
			return nil, err
		}
		m.MediaPath = media.String
		m.VCard = vcard.String
		if lat.Valid {
			m.HasLocation = true
			m.Latitude, m.Longitude = lat.Float64, lon.Float64
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
