// Package outbox drains queued outbound messages for one instance.
// Queueing and sending are decoupled so callers get an immediate
// accept and delivery survives a reconnect.
package outbox

import (
	"context"
	"time"

	"github.com/matheus3301/wahub/internal/bus"
	"github.com/matheus3301/wahub/internal/store"
	"go.uber.org/zap"
)

// TextSender is the subset of the transport the sender needs.
type TextSender interface {
	SendText(ctx context.Context, jid string, text string) (serverMsgID string, err error)
}

// Sender drains one instance's outbox.
type Sender struct {
	instanceID int64
	db         *store.DB
	sender     TextSender
	bus        *bus.Bus
	logger     *zap.Logger
	cancel     context.CancelFunc
}

// NewSender creates a new outbox sender for one instance.
func NewSender(instanceID int64, db *store.DB, sender TextSender, b *bus.Bus, logger *zap.Logger) *Sender {
	return &Sender{
		instanceID: instanceID,
		db:         db,
		sender:     sender,
		bus:        b,
		logger:     logger,
	}
}

// Start begins polling the outbox for pending messages.
func (s *Sender) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.loop(ctx)
}

// Stop stops the sender loop.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Sender) loop(ctx context.Context) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.ProcessPending(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// ProcessPending sends every queued entry once, in queue order.
func (s *Sender) ProcessPending(ctx context.Context) {
	pending, err := s.db.PendingOutbox(s.instanceID)
	if err != nil {
		s.logger.Error("failed to read outbox", zap.Error(err))
		return
	}

	for _, entry := range pending {
		if err := s.db.MarkOutboxSending(entry.ClientMsgID); err != nil {
			s.logger.Error("failed to mark sending", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
			continue
		}

		// Optimistic insert: the message shows up locally right away.
		now := time.Now().UnixMilli()
		_ = s.db.UpsertMessage(&store.Message{
			InstanceID: s.instanceID,
			WAID:       entry.ClientMsgID,
			ChatJID:    entry.ChatJID,
			Body:       entry.Body,
			Kind:       store.KindText,
			FromMe:     true,
			Status:     "sending",
			Timestamp:  now,
		})
		s.publish(bus.KindNewMessage, map[string]string{"chat_jid": entry.ChatJID, "msg_id": entry.ClientMsgID})

		serverMsgID, err := s.sender.SendText(ctx, entry.ChatJID, entry.Body)
		if err != nil {
			s.logger.Error("failed to send message", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
			_ = s.db.MarkOutboxFailed(entry.ClientMsgID, err.Error())
			_ = s.db.UpdateMessageStatus(s.instanceID, entry.ClientMsgID, "failed")
			s.publish(bus.KindSendFailed, map[string]string{
				"client_msg_id": entry.ClientMsgID,
				"error":         err.Error(),
			})
			continue
		}

		if err := s.db.MarkOutboxSent(entry.ClientMsgID, serverMsgID); err != nil {
			s.logger.Error("failed to mark sent", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
		}
		_ = s.db.UpdateMessageStatus(s.instanceID, entry.ClientMsgID, "sent")

		s.logger.Info("message sent",
			zap.String("client_msg_id", entry.ClientMsgID),
			zap.String("server_msg_id", serverMsgID))
		s.publish(bus.KindNewMessage, map[string]string{"chat_jid": entry.ChatJID, "msg_id": entry.ClientMsgID})
	}
}

func (s *Sender) publish(kind string, payload any) {
	s.bus.Publish(bus.Event{
		Kind:       kind,
		InstanceID: s.instanceID,
		Timestamp:  time.Now(),
		Payload:    payload,
	})
}
