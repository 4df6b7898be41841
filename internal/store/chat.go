package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// chatNameUpgrade is the monotonic name rule shared by every chat
// upsert: a stored name is replaced only while it is empty, a raw
// address, or the unnamed-group placeholder, and only by a non-empty
// candidate. A resolved human name never regresses.
const chatNameUpgrade = `CASE WHEN (chats.name = ''
			OR chats.name LIKE '%@s.whatsapp.net'
			OR chats.name LIKE '%@g.us'
			OR chats.name LIKE '%@lid'
			OR chats.name = 'Unnamed Group')
		AND excluded.name != '' THEN excluded.name ELSE chats.name END`

// UpsertChat creates a chat lazily or upgrades its display name. The
// unread counter is written on first insert only; the message path
// runs this on every delivery and must not zero a counter set by
// history sync or a chat update. Counter writes go through
// SetChatUnread and ApplyHistoryIdentity.
func (db *DB) UpsertChat(c *Chat) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO chats (instance_id, jid, name, unread_count, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(instance_id, jid) DO UPDATE SET
			name = `+chatNameUpgrade+`,
			updated_at = excluded.updated_at`,
		c.InstanceID, c.JID, c.Name, c.UnreadCount, now)
	return err
}

// SetChatLastMessage refreshes the last-message snapshot. Runs on
// every projected message regardless of name-upgrade eligibility.
func (db *DB) SetChatLastMessage(instanceID int64, jid, text string, ts int64) error {
	_, err := db.Exec(`
		UPDATE chats SET last_message_text = ?, last_message_at = ?, updated_at = ?
		WHERE instance_id = ? AND jid = ?`,
		text, ts, time.Now().UnixMilli(), instanceID, jid)
	return err
}

// SetChatName applies a name from an explicit chat-update event. The
// upgrade invariant still holds: raw-shaped candidates never replace a
// resolved name.
func (db *DB) SetChatName(instanceID int64, jid, name string) error {
	if name == "" {
		return nil
	}
	query := `UPDATE chats SET name = ?, updated_at = ? WHERE instance_id = ? AND jid = ?`
	if looksRawName(name) {
		query += ` AND (name = '' OR name LIKE '%@s.whatsapp.net' OR name LIKE '%@g.us' OR name LIKE '%@lid' OR name = 'Unnamed Group')`
	}
	_, err := db.Exec(query, name, time.Now().UnixMilli(), instanceID, jid)
	return err
}

func looksRawName(name string) bool {
	return strings.HasSuffix(name, "@s.whatsapp.net") ||
		strings.HasSuffix(name, "@g.us") ||
		strings.HasSuffix(name, "@lid")
}

// SetChatUnread sets the unread counter.
func (db *DB) SetChatUnread(instanceID int64, jid string, unread int) error {
	_, err := db.Exec(`UPDATE chats SET unread_count = ?, updated_at = ? WHERE instance_id = ? AND jid = ?`,
		unread, time.Now().UnixMilli(), instanceID, jid)
	return err
}

// SetChatArchived flags or unflags a chat as archived.
func (db *DB) SetChatArchived(instanceID int64, jid string, archived bool) error {
	_, err := db.Exec(`UPDATE chats SET is_archived = ?, updated_at = ? WHERE instance_id = ? AND jid = ?`,
		archived, time.Now().UnixMilli(), instanceID, jid)
	return err
}

// SetChatPinned flags or unflags a chat as pinned.
func (db *DB) SetChatPinned(instanceID int64, jid string, pinned bool) error {
	_, err := db.Exec(`UPDATE chats SET is_pinned = ?, updated_at = ? WHERE instance_id = ? AND jid = ?`,
		pinned, time.Now().UnixMilli(), instanceID, jid)
	return err
}

// DeleteChat removes a chat row and its messages.
func (db *DB) DeleteChat(instanceID int64, jid string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.Exec(`DELETE FROM messages WHERE instance_id = ? AND chat_jid = ?`, instanceID, jid); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM chats WHERE instance_id = ? AND jid = ?`, instanceID, jid); err != nil {
		return err
	}
	return tx.Commit()
}

// GetChat returns a single chat, or nil if unknown.
func (db *DB) GetChat(instanceID int64, jid string) (*Chat, error) {
	var c Chat
	err := db.QueryRow(`
		SELECT instance_id, jid, name, unread_count, last_message_text, last_message_at,
			is_archived, is_pinned, is_fully_synced,
			ephemeral_mode, ephemeral_timer, ephemeral_since,
			avatar_path, avatar_checked_at
		FROM chats WHERE instance_id = ? AND jid = ?`, instanceID, jid).
		Scan(&c.InstanceID, &c.JID, &c.Name, &c.UnreadCount, &c.LastMessageText, &c.LastMessageAt,
			&c.IsArchived, &c.IsPinned, &c.IsFullySynced,
			&c.EphemeralMode, &c.EphemeralTimer, &c.EphemeralSince,
			&c.AvatarPath, &c.AvatarCheckedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListChats returns an instance's chats, pinned first, then recency.
func (db *DB) ListChats(instanceID int64, limit int) ([]Chat, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`
		SELECT instance_id, jid, name, unread_count, last_message_text, last_message_at,
			is_archived, is_pinned, is_fully_synced,
			ephemeral_mode, ephemeral_timer, ephemeral_since,
			avatar_path, avatar_checked_at
		FROM chats WHERE instance_id = ?
		ORDER BY is_pinned DESC, last_message_at DESC
		LIMIT ?`, instanceID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanChats(rows)
}

// NextBackfillChat selects the highest-priority chat still awaiting
// history backfill, or nil when every chat is fully synced.
func (db *DB) NextBackfillChat(instanceID int64) (*Chat, error) {
	rows, err := db.Query(`
		SELECT instance_id, jid, name, unread_count, last_message_text, last_message_at,
			is_archived, is_pinned, is_fully_synced,
			ephemeral_mode, ephemeral_timer, ephemeral_since,
			avatar_path, avatar_checked_at
		FROM chats
		WHERE instance_id = ? AND is_fully_synced = 0
		ORDER BY is_pinned DESC, unread_count DESC, last_message_at DESC
		LIMIT 1`, instanceID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	chats, err := scanChats(rows)
	if err != nil || len(chats) == 0 {
		return nil, err
	}
	return &chats[0], nil
}

// MarkChatSynced flags a chat as having its full history stored.
func (db *DB) MarkChatSynced(instanceID int64, jid string) error {
	_, err := db.Exec(`UPDATE chats SET is_fully_synced = 1, updated_at = ? WHERE instance_id = ? AND jid = ?`,
		time.Now().UnixMilli(), instanceID, jid)
	return err
}

// EnableEphemeral turns on timed erasure for a chat, restarting the
// activation clock.
func (db *DB) EnableEphemeral(instanceID int64, jid string, timerMinutes int) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		UPDATE chats SET ephemeral_mode = 1, ephemeral_timer = ?, ephemeral_since = ?, updated_at = ?
		WHERE instance_id = ? AND jid = ?`,
		timerMinutes, now, now, instanceID, jid)
	return err
}

// DisableEphemeral clears the flag only; timer and activation stamp are
// retained for audit.
func (db *DB) DisableEphemeral(instanceID int64, jid string) error {
	_, err := db.Exec(`UPDATE chats SET ephemeral_mode = 0, updated_at = ? WHERE instance_id = ? AND jid = ?`,
		time.Now().UnixMilli(), instanceID, jid)
	return err
}

// EphemeralChats returns the chats opted into timed erasure.
func (db *DB) EphemeralChats(instanceID int64) ([]Chat, error) {
	rows, err := db.Query(`
		SELECT instance_id, jid, name, unread_count, last_message_text, last_message_at,
			is_archived, is_pinned, is_fully_synced,
			ephemeral_mode, ephemeral_timer, ephemeral_since,
			avatar_path, avatar_checked_at
		FROM chats WHERE instance_id = ? AND ephemeral_mode = 1`, instanceID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanChats(rows)
}

// SetChatAvatar updates the cached avatar reference. An empty path
// clears the cache; the check stamp is written either way.
func (db *DB) SetChatAvatar(instanceID int64, jid, path string) error {
	_, err := db.Exec(`UPDATE chats SET avatar_path = ?, avatar_checked_at = ? WHERE instance_id = ? AND jid = ?`,
		path, time.Now().UnixMilli(), instanceID, jid)
	return err
}

// ChatCount returns how many chats an instance owns.
func (db *DB) ChatCount(instanceID int64) (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM chats WHERE instance_id = ?`, instanceID).Scan(&count)
	return count, err
}

func scanChats(rows *sql.Rows) ([]Chat, error) {
	var chats []Chat
	for rows.Next() {
		var c Chat
		if err := rows.Scan(&c.InstanceID, &c.JID, &c.Name, &c.UnreadCount, &c.LastMessageText, &c.LastMessageAt,
			&c.IsArchived, &c.IsPinned, &c.IsFullySynced,
			&c.EphemeralMode, &c.EphemeralTimer, &c.EphemeralSince,
			&c.AvatarPath, &c.AvatarCheckedAt); err != nil {
			return nil, err
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}
