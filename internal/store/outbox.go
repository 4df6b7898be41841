package store

import "time"

// QueueOutbox adds a message to the send outbox.
func (db *DB) QueueOutbox(instanceID int64, clientMsgID, chatJID, body string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO outbox (instance_id, client_msg_id, chat_jid, body, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, 'queued', ?, ?)`,
		instanceID, clientMsgID, chatJID, body, now, now)
	return err
}

// MarkOutboxSending updates an outbox entry to 'sending'.
func (db *DB) MarkOutboxSending(clientMsgID string) error {
	_, err := db.Exec(`UPDATE outbox SET status = 'sending', updated_at = ? WHERE client_msg_id = ?`,
		time.Now().UnixMilli(), clientMsgID)
	return err
}

// MarkOutboxSent updates an outbox entry to 'sent' with the server id.
func (db *DB) MarkOutboxSent(clientMsgID, serverMsgID string) error {
	_, err := db.Exec(`UPDATE outbox SET status = 'sent', server_msg_id = ?, updated_at = ? WHERE client_msg_id = ?`,
		serverMsgID, time.Now().UnixMilli(), clientMsgID)
	return err
}

// MarkOutboxFailed updates an outbox entry to 'failed'.
func (db *DB) MarkOutboxFailed(clientMsgID, errMsg string) error {
	_, err := db.Exec(`UPDATE outbox SET status = 'failed', error_message = ?, updated_at = ? WHERE client_msg_id = ?`,
		errMsg, time.Now().UnixMilli(), clientMsgID)
	return err
}

// PendingOutbox returns an instance's queued entries, oldest first.
func (db *DB) PendingOutbox(instanceID int64) ([]OutboxEntry, error) {
	rows, err := db.Query(`
		SELECT id, instance_id, client_msg_id, chat_jid, body, status, error_message, server_msg_id
		FROM outbox WHERE instance_id = ? AND status = 'queued' ORDER BY created_at ASC`, instanceID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []OutboxEntry
	for rows.Next() {
		var e OutboxEntry
		if err := rows.Scan(&e.ID, &e.InstanceID, &e.ClientMsgID, &e.ChatJID, &e.Body, &e.Status, &e.ErrorMessage, &e.ServerMsgID); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
