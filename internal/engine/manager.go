// Package engine owns the instance lifecycle: starting and stopping
// accounts, routing their event streams into projection, and exposing
// the operations an API layer builds on.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/wahub/internal/bus"
	"github.com/matheus3301/wahub/internal/jid"
	"github.com/matheus3301/wahub/internal/paths"
	"github.com/matheus3301/wahub/internal/store"
	"github.com/matheus3301/wahub/internal/transport"
	"go.uber.org/zap"
)

// ErrNotRunning is returned for operations that need a live transport
// on an instance that is not started.
var ErrNotRunning = errors.New("instance is not running")

// ErrUnknownInstance is returned when the instance id has no row.
var ErrUnknownInstance = errors.New("unknown instance")

// ChatAction selects what ModifyChat does.
type ChatAction string

const (
	ChatArchive   ChatAction = "archive"
	ChatUnarchive ChatAction = "unarchive"
	ChatPin       ChatAction = "pin"
	ChatUnpin     ChatAction = "unpin"
	ChatDelete    ChatAction = "delete"
)

// Manager is the registry of running instances. All lifecycle
// transitions go through it; it is safe for concurrent use.
type Manager struct {
	db      *store.DB
	bus     *bus.Bus
	factory transport.Factory
	layout  paths.Layout
	logger  *zap.Logger

	mu      sync.Mutex
	running map[int64]*runningInstance
}

// NewManager creates the instance registry.
func NewManager(db *store.DB, b *bus.Bus, factory transport.Factory, layout paths.Layout, logger *zap.Logger) *Manager {
	return &Manager{
		db:      db,
		bus:     b,
		factory: factory,
		layout:  layout,
		logger:  logger,
		running: make(map[int64]*runningInstance),
	}
}

// ListInstances returns the persisted instances, optionally filtered
// by owner.
func (m *Manager) ListInstances(owner string) ([]store.Instance, error) {
	return m.db.ListInstances(owner)
}

// CreateInstance registers a new account, starts it so pairing begins
// immediately, and returns its id. A connect failure does not undo the
// creation; the instance stays registered for a later Start.
func (m *Manager) CreateInstance(ctx context.Context, name, owner string) (int64, error) {
	id, err := m.db.CreateInstance(name, owner)
	if err != nil {
		return 0, err
	}
	if err := m.layout.EnsureInstance(id); err != nil {
		return 0, fmt.Errorf("instance dirs: %w", err)
	}
	m.logger.Info("instance created", zap.Int64("instance", id), zap.String("name", name))
	if err := m.Start(ctx, id); err != nil {
		m.logger.Error("start after create failed", zap.Int64("instance", id), zap.Error(err))
	}
	return id, nil
}

// Start brings one instance online. Starting an already-running
// instance is a no-op.
func (m *Manager) Start(ctx context.Context, id int64) error {
	m.mu.Lock()
	if _, live := m.running[id]; live {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	row, err := m.db.GetInstance(id)
	if err != nil {
		return err
	}
	if row == nil {
		return ErrUnknownInstance
	}
	if err := m.layout.EnsureInstance(id); err != nil {
		return fmt.Errorf("instance dirs: %w", err)
	}

	tr, err := m.factory(ctx, id, m.layout.AuthDir(id))
	if err != nil {
		return fmt.Errorf("build transport: %w", err)
	}

	inst := newRunningInstance(id, m.db, tr, m.bus, m.layout, m.logger)

	m.mu.Lock()
	if _, raced := m.running[id]; raced {
		m.mu.Unlock()
		tr.Disconnect()
		return nil
	}
	m.running[id] = inst
	m.mu.Unlock()

	if err := inst.start(ctx); err != nil {
		m.mu.Lock()
		delete(m.running, id)
		m.mu.Unlock()
		return fmt.Errorf("start instance %d: %w", id, err)
	}
	return nil
}

// StartAll starts every persisted instance. Per-instance failures are
// logged, not fatal; a broken account must not hold the rest back.
func (m *Manager) StartAll(ctx context.Context) error {
	rows, err := m.db.ListInstances("")
	if err != nil {
		return err
	}
	for _, row := range rows {
		if err := m.Start(ctx, row.ID); err != nil {
			m.logger.Error("instance start failed",
				zap.Int64("instance", row.ID), zap.Error(err))
		}
	}
	return nil
}

// Stop takes one instance offline, keeping its credentials and rows.
func (m *Manager) Stop(id int64) {
	m.mu.Lock()
	inst, live := m.running[id]
	delete(m.running, id)
	m.mu.Unlock()
	if live {
		inst.stop()
	}
}

// StopAll stops every running instance.
func (m *Manager) StopAll() {
	m.mu.Lock()
	insts := make([]*runningInstance, 0, len(m.running))
	for id, inst := range m.running {
		insts = append(insts, inst)
		delete(m.running, id)
	}
	m.mu.Unlock()
	for _, inst := range insts {
		inst.stop()
	}
}

// Reconnect cycles one instance's connection.
func (m *Manager) Reconnect(ctx context.Context, id int64) error {
	inst, err := m.instance(id)
	if err != nil {
		return err
	}
	return inst.reconnect(ctx)
}

// DeleteInstance removes an account completely: remote logout when a
// transport is live, the credential tree, and every projected row.
func (m *Manager) DeleteInstance(ctx context.Context, id int64) error {
	m.mu.Lock()
	inst, live := m.running[id]
	delete(m.running, id)
	m.mu.Unlock()

	if live {
		if err := inst.tr.Logout(ctx); err != nil {
			m.logger.Warn("remote logout failed, deleting anyway",
				zap.Int64("instance", id), zap.Error(err))
		}
		inst.stop()
	}
	if err := m.layout.RemoveInstance(id); err != nil {
		return fmt.Errorf("remove instance files: %w", err)
	}
	if err := m.db.DeleteInstance(id); err != nil {
		return fmt.Errorf("delete instance rows: %w", err)
	}
	m.logger.Info("instance deleted", zap.Int64("instance", id))
	return nil
}

// SetPresence persists and pushes the desired presence mode.
func (m *Manager) SetPresence(ctx context.Context, id int64, available bool) error {
	presence := store.PresenceUnavailable
	if available {
		presence = store.PresenceAvailable
	}
	if err := m.db.SetInstancePresence(id, presence); err != nil {
		return err
	}
	inst, err := m.instance(id)
	if err != nil {
		// Not running: the persisted mode is applied on next connect.
		return nil
	}
	return inst.tr.SendPresence(ctx, available)
}

// SendMessage queues a text message for delivery and returns the
// client message id. Delivery is asynchronous through the outbox.
func (m *Manager) SendMessage(id int64, chatJID, text string) (string, error) {
	chatJID = jid.Normalize(chatJID)
	if !jid.IsRoutable(chatJID) {
		return "", fmt.Errorf("address %q is not routable", chatJID)
	}
	row, err := m.db.GetInstance(id)
	if err != nil {
		return "", err
	}
	if row == nil {
		return "", ErrUnknownInstance
	}
	clientMsgID := uuid.NewString()
	if err := m.db.QueueOutbox(id, clientMsgID, chatJID, text); err != nil {
		return "", fmt.Errorf("queue message: %w", err)
	}
	return clientMsgID, nil
}

// EnableEphemeral turns on disappearing messages for a chat.
func (m *Manager) EnableEphemeral(ctx context.Context, id int64, chatJID string, timerMinutes int) error {
	inst, err := m.instance(id)
	if err != nil {
		return err
	}
	return inst.watcher.Enable(ctx, jid.Normalize(chatJID), timerMinutes)
}

// DisableEphemeral turns off disappearing messages for a chat.
func (m *Manager) DisableEphemeral(ctx context.Context, id int64, chatJID string) error {
	inst, err := m.instance(id)
	if err != nil {
		return err
	}
	return inst.watcher.Disable(ctx, jid.Normalize(chatJID))
}

// ModifyChat applies an archive, pin, or delete action to a chat,
// mirroring archive and pin state to the account when the instance is
// online.
func (m *Manager) ModifyChat(ctx context.Context, id int64, chatJID string, action ChatAction) error {
	chatJID = jid.Normalize(chatJID)

	switch action {
	case ChatArchive, ChatUnarchive:
		archived := action == ChatArchive
		if err := m.db.SetChatArchived(id, chatJID, archived); err != nil {
			return err
		}
		if inst, err := m.instance(id); err == nil {
			if err := inst.tr.Archive(ctx, chatJID, archived); err != nil {
				m.logger.Warn("archive mirror failed", zap.String("chat", chatJID), zap.Error(err))
			}
		}
	case ChatPin, ChatUnpin:
		pinned := action == ChatPin
		if err := m.db.SetChatPinned(id, chatJID, pinned); err != nil {
			return err
		}
		if inst, err := m.instance(id); err == nil {
			if err := inst.tr.Pin(ctx, chatJID, pinned); err != nil {
				m.logger.Warn("pin mirror failed", zap.String("chat", chatJID), zap.Error(err))
			}
		}
	case ChatDelete:
		if err := m.db.DeleteChat(id, chatJID); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown chat action %q", action)
	}

	m.publishChatUpdated(id, chatJID)
	return nil
}

func (m *Manager) instance(id int64) (*runningInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, live := m.running[id]
	if !live {
		return nil, ErrNotRunning
	}
	return inst, nil
}

func (m *Manager) publishChatUpdated(id int64, chatJID string) {
	m.bus.Publish(bus.Event{
		Kind:       bus.KindChatUpdated,
		InstanceID: id,
		Timestamp:  time.Now(),
		Payload:    chatJID,
	})
}
