package store

import (
	"database/sql"
	"strconv"
	"time"
)

// Setting keys read by the background workers. Workers re-read them at
// the start of every cycle so operator changes apply within one cycle.
const (
	SettingSyncDelay      = "sync_delay_ms"
	SettingTriggerStart   = "ephemeral_trigger_start"
	SettingTriggerStop    = "ephemeral_trigger_stop"
	SettingAutoNudge      = "auto_nudge_enabled"
	DefaultTriggerStart   = "\U0001F47B" // ghost
	DefaultTriggerStop    = "\U0001F6D1" // stop sign
	DefaultSyncDelayMS    = 2000
	MinSyncDelayMS        = 1000
	MaxSyncDelayMS        = 30000
)

// GetSetting returns the stored value for key, or fallback.
func (db *DB) GetSetting(key, fallback string) string {
	var value string
	err := db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows || err != nil {
		return fallback
	}
	return value
}

// SetSetting stores a key/value pair.
func (db *DB) SetSetting(key, value string) error {
	_, err := db.Exec(`
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	return err
}

// SyncDelay returns the operator-tuned inter-page backfill delay,
// clamped to the supported range.
func (db *DB) SyncDelay() time.Duration {
	ms := DefaultSyncDelayMS
	if raw := db.GetSetting(SettingSyncDelay, ""); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			ms = parsed
		}
	}
	if ms < MinSyncDelayMS {
		ms = MinSyncDelayMS
	}
	if ms > MaxSyncDelayMS {
		ms = MaxSyncDelayMS
	}
	return time.Duration(ms) * time.Millisecond
}

// EphemeralTriggers returns the start and stop trigger strings.
func (db *DB) EphemeralTriggers() (start, stop string) {
	return db.GetSetting(SettingTriggerStart, DefaultTriggerStart),
		db.GetSetting(SettingTriggerStop, DefaultTriggerStop)
}

// AutoNudgeEnabled reports whether the stall watchdog may reconnect.
func (db *DB) AutoNudgeEnabled() bool {
	return db.GetSetting(SettingAutoNudge, "true") != "false"
}
