// Package ephemeral implements per-chat disappearing messages: an
// inbound trigger toggles the mode, and a periodic sweep clears
// messages that outlived the chat's timer on the remote device too.
package ephemeral

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/matheus3301/wahub/internal/bus"
	"github.com/matheus3301/wahub/internal/store"
	"github.com/matheus3301/wahub/internal/transport"
	"go.uber.org/zap"
)

const (
	// DefaultTimerMinutes applies when a trigger carries no explicit
	// duration.
	DefaultTimerMinutes = 60
	// sweepInterval is how often expired messages are collected.
	sweepInterval = 5 * time.Minute
)

// Watcher runs ephemeral mode for one instance.
type Watcher struct {
	instanceID int64
	db         *store.DB
	tr         transport.Transport
	bus        *bus.Bus
	logger     *zap.Logger

	// now is swappable for boundary tests.
	now func() time.Time
}

// New creates a watcher for one instance.
func New(instanceID int64, db *store.DB, tr transport.Transport, b *bus.Bus, logger *zap.Logger) *Watcher {
	return &Watcher{
		instanceID: instanceID,
		db:         db,
		tr:         tr,
		bus:        b,
		logger:     logger,
		now:        time.Now,
	}
}

// Enable turns ephemeral mode on for a chat and posts a notice so every
// participant knows messages will disappear.
func (w *Watcher) Enable(ctx context.Context, chatJID string, timerMinutes int) error {
	if timerMinutes <= 0 {
		timerMinutes = DefaultTimerMinutes
	}
	if err := w.db.EnableEphemeral(w.instanceID, chatJID, timerMinutes); err != nil {
		return fmt.Errorf("enable ephemeral: %w", err)
	}
	notice := fmt.Sprintf("Ephemeral mode is ON. Messages disappear after %d minutes.", timerMinutes)
	if _, err := w.tr.SendText(ctx, chatJID, notice); err != nil {
		w.logger.Warn("ephemeral notice send failed", zap.String("chat", chatJID), zap.Error(err))
	}
	w.publishChanged(chatJID)
	w.logger.Info("ephemeral mode enabled",
		zap.String("chat", chatJID), zap.Int("timer_min", timerMinutes))
	return nil
}

// Disable turns ephemeral mode off. Already-stored messages stay; only
// the flag is cleared, so re-enabling keeps the previous timer.
func (w *Watcher) Disable(ctx context.Context, chatJID string) error {
	if err := w.db.DisableEphemeral(w.instanceID, chatJID); err != nil {
		return fmt.Errorf("disable ephemeral: %w", err)
	}
	if _, err := w.tr.SendText(ctx, chatJID, "Ephemeral mode is OFF."); err != nil {
		w.logger.Warn("ephemeral notice send failed", zap.String("chat", chatJID), zap.Error(err))
	}
	w.publishChanged(chatJID)
	w.logger.Info("ephemeral mode disabled", zap.String("chat", chatJID))
	return nil
}

// HandleMessage inspects one projected message body for the configured
// trigger emojis. Any participant may toggle the mode. Returns whether
// the message was a trigger.
func (w *Watcher) HandleMessage(ctx context.Context, chatJID, body string) (bool, error) {
	start, stop := w.db.EphemeralTriggers()
	switch strings.TrimSpace(body) {
	case start:
		return true, w.Enable(ctx, chatJID, DefaultTimerMinutes)
	case stop:
		return true, w.Disable(ctx, chatJID)
	default:
		return false, nil
	}
}

// Run sweeps expired messages every sweepInterval until ctx is
// canceled. The first sweep runs immediately so a restart does not
// extend any message's life.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	w.Sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep clears every expired message across the instance's ephemeral
// chats. Remote delete and the local soft-delete move together: when
// the remote call fails the local rows stay untouched and the next
// sweep retries.
func (w *Watcher) Sweep(ctx context.Context) {
	chats, err := w.db.EphemeralChats(w.instanceID)
	if err != nil {
		w.logger.Error("list ephemeral chats", zap.Error(err))
		return
	}
	for _, chat := range chats {
		if err := w.sweepChat(ctx, &chat); err != nil {
			w.logger.Warn("ephemeral sweep failed",
				zap.String("chat", chat.JID), zap.Error(err))
		}
	}
}

func (w *Watcher) sweepChat(ctx context.Context, chat *store.Chat) error {
	msgs, err := w.db.MessagesAfter(w.instanceID, chat.JID, chat.EphemeralSince)
	if err != nil {
		return fmt.Errorf("collect candidates: %w", err)
	}

	timerMillis := int64(chat.EphemeralTimer) * 60_000
	nowMillis := w.now().UnixMilli()
	var keys []transport.MessageKey
	var ids []string
	for _, m := range msgs {
		// Strictly older than the timer: a message exactly at the
		// boundary lives until the next sweep.
		if nowMillis-m.Timestamp <= timerMillis {
			continue
		}
		keys = append(keys, transport.MessageKey{ID: m.WAID, FromMe: m.FromMe})
		ids = append(ids, m.WAID)
	}
	if len(keys) == 0 {
		return nil
	}

	if err := w.tr.ClearMessages(ctx, chat.JID, keys); err != nil {
		return fmt.Errorf("remote clear: %w", err)
	}
	if err := w.db.MarkMessagesDeleted(w.instanceID, ids); err != nil {
		return fmt.Errorf("mark deleted: %w", err)
	}
	w.publishChanged(chat.JID)
	w.logger.Info("ephemeral messages cleared",
		zap.String("chat", chat.JID), zap.Int("count", len(ids)))
	return nil
}

func (w *Watcher) publishChanged(chatJID string) {
	w.bus.Publish(bus.Event{
		Kind:       bus.KindChatUpdated,
		InstanceID: w.instanceID,
		Timestamp:  time.Now(),
		Payload:    chatJID,
	})
}
