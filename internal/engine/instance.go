package engine

import (
	"context"
	"sync"
	"time"

	"github.com/matheus3301/wahub/internal/avatar"
	"github.com/matheus3301/wahub/internal/backfill"
	"github.com/matheus3301/wahub/internal/bus"
	"github.com/matheus3301/wahub/internal/ephemeral"
	"github.com/matheus3301/wahub/internal/jid"
	"github.com/matheus3301/wahub/internal/outbox"
	"github.com/matheus3301/wahub/internal/paths"
	"github.com/matheus3301/wahub/internal/project"
	"github.com/matheus3301/wahub/internal/store"
	"github.com/matheus3301/wahub/internal/transport"
	qrcode "github.com/skip2/go-qrcode"
	"go.uber.org/zap"
)

const (
	// reconnectSettle is the pause between disconnect and reconnect so
	// the server sees a clean session teardown.
	reconnectSettle = 2 * time.Second
	// stallWindow is how long a connected instance may sit with zero
	// chats before the watchdog nudges it with a reconnect.
	stallWindow = 10 * time.Minute
)

// runningInstance is one live account: a transport, its projector, and
// the workers that run while it is connected.
type runningInstance struct {
	id     int64
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger
	layout paths.Layout

	tr        transport.Transport
	projector *project.Projector
	watcher   *ephemeral.Watcher
	backfill  *backfill.Worker
	avatars   *avatar.Queue
	sender    *outbox.Sender

	cancel      context.CancelFunc
	wg          sync.WaitGroup
	workersOnce sync.Once

	// reconnecting suppresses the disconnected status flap during a
	// deliberate reconnect cycle.
	mu           sync.Mutex
	reconnecting bool
}

func newRunningInstance(id int64, db *store.DB, tr transport.Transport, b *bus.Bus, layout paths.Layout, logger *zap.Logger) *runningInstance {
	log := logger.With(zap.Int64("instance", id))
	inst := &runningInstance{
		id:     id,
		db:     db,
		bus:    b,
		logger: log,
		layout: layout,
		tr:     tr,
	}
	inst.projector = project.New(id, db, tr, b, layout.MediaDir(id), log)
	inst.watcher = ephemeral.New(id, db, tr, b, log)
	inst.backfill = backfill.New(id, db, tr, log)
	inst.avatars = avatar.New(id, db, tr, layout.AvatarDir(id), log)
	inst.sender = outbox.NewSender(id, db, tr, b, log)
	return inst
}

// start connects the transport and launches the event loop and the
// stall watchdog.
func (inst *runningInstance) start(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	inst.cancel = cancel

	if err := inst.db.SetInstanceStatus(inst.id, store.StatusConnecting); err != nil {
		cancel()
		return err
	}
	inst.publishStatus(store.StatusConnecting)

	if err := inst.tr.Connect(ctx); err != nil {
		cancel()
		_ = inst.db.SetInstanceStatus(inst.id, store.StatusDisconnected)
		return err
	}

	inst.wg.Add(2)
	go inst.eventLoop(ctx)
	go inst.watchdog(ctx)
	return nil
}

// stop tears the instance down without touching credentials.
func (inst *runningInstance) stop() {
	if inst.cancel != nil {
		inst.cancel()
	}
	inst.tr.Disconnect()
	inst.wg.Wait()
	_ = inst.db.SetInstanceStatus(inst.id, store.StatusDisconnected)
	inst.publishStatus(store.StatusDisconnected)
	inst.logger.Info("instance stopped")
}

// reconnect cycles the connection: disconnect, settle, connect. Used
// both by the API and by the stall watchdog.
func (inst *runningInstance) reconnect(ctx context.Context) error {
	inst.mu.Lock()
	if inst.reconnecting {
		inst.mu.Unlock()
		return nil
	}
	inst.reconnecting = true
	inst.mu.Unlock()
	defer func() {
		inst.mu.Lock()
		inst.reconnecting = false
		inst.mu.Unlock()
	}()

	inst.logger.Info("reconnecting")
	inst.tr.Disconnect()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(reconnectSettle):
	}

	if err := inst.db.SetInstanceStatus(inst.id, store.StatusConnecting); err != nil {
		return err
	}
	inst.publishStatus(store.StatusConnecting)
	return inst.tr.Connect(ctx)
}

func (inst *runningInstance) eventLoop(ctx context.Context) {
	defer inst.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-inst.tr.Events():
			if !ok {
				return
			}
			inst.handleEvent(ctx, evt)
		}
	}
}

func (inst *runningInstance) handleEvent(ctx context.Context, evt transport.Event) {
	switch e := evt.(type) {
	case transport.ConnState:
		if e.Connected {
			_ = inst.db.SetInstanceStatus(inst.id, store.StatusConnected)
			_ = inst.db.SetInstanceQR(inst.id, "")
			inst.publishStatus(store.StatusConnected)
			inst.logger.Info("connected")
			inst.startWorkers(ctx)
			inst.applyPresence(ctx)
		} else {
			inst.mu.Lock()
			deliberate := inst.reconnecting
			inst.mu.Unlock()
			if !deliberate {
				_ = inst.db.SetInstanceStatus(inst.id, store.StatusDisconnected)
				inst.publishStatus(store.StatusDisconnected)
				inst.logger.Warn("disconnected")
			}
		}
	case transport.PairingQR:
		inst.storeQR(e.Code)
	case transport.LoggedOut:
		inst.logger.Warn("logged out remotely", zap.String("reason", e.Reason))
		_ = inst.db.SetInstanceStatus(inst.id, store.StatusDisconnected)
		inst.publishStatus(store.StatusDisconnected)
	case transport.Message:
		inst.projector.HandleEvent(ctx, evt)
		inst.afterMessage(ctx, &e)
	case transport.HistoryBatch:
		inst.projector.HandleEvent(ctx, evt)
		for _, c := range e.Chats {
			inst.maybeQueueAvatar(c.JID)
		}
	case transport.ChatUpsert:
		inst.projector.HandleEvent(ctx, evt)
		inst.maybeQueueAvatar(e.Chat.JID)
	case transport.ContactUpsert:
		inst.projector.HandleEvent(ctx, evt)
		inst.maybeQueueAvatar(e.Contact.JID)
	default:
		inst.projector.HandleEvent(ctx, evt)
	}
}

// afterMessage runs the post-projection hooks: ephemeral trigger
// matching and avatar warm-up for the chat.
func (inst *runningInstance) afterMessage(ctx context.Context, m *transport.Message) {
	if m.Kind == transport.KindText && jid.IsRoutable(m.ChatJID) {
		if _, err := inst.watcher.HandleMessage(ctx, jid.Normalize(m.ChatJID), m.Text); err != nil {
			inst.logger.Warn("ephemeral trigger failed", zap.Error(err))
		}
	}
	inst.maybeQueueAvatar(m.ChatJID)
}

// maybeQueueAvatar enqueues an avatar fetch the first time an address
// shows up; anything with a check stamp already had its turn.
func (inst *runningInstance) maybeQueueAvatar(addr string) {
	addr = jid.Normalize(addr)
	if !jid.IsRoutable(addr) {
		return
	}
	chat, err := inst.db.GetChat(inst.id, addr)
	if err == nil && chat != nil && chat.AvatarCheckedAt == 0 {
		inst.avatars.Enqueue(addr)
		return
	}
	contact, err := inst.db.GetContact(inst.id, addr)
	if err == nil && contact != nil && contact.AvatarCheckedAt == 0 {
		inst.avatars.Enqueue(addr)
	}
}

// startWorkers launches the per-instance background loops once, on the
// first successful connect.
func (inst *runningInstance) startWorkers(ctx context.Context) {
	inst.workersOnce.Do(func() {
		inst.wg.Add(3)
		go func() { defer inst.wg.Done(); inst.backfill.Run(ctx) }()
		go func() { defer inst.wg.Done(); inst.watcher.Run(ctx) }()
		go func() { defer inst.wg.Done(); inst.avatars.Run(ctx) }()
		inst.sender.Start(ctx)
		inst.logger.Info("workers started")
	})
}

// applyPresence pushes the persisted desired presence after a connect.
func (inst *runningInstance) applyPresence(ctx context.Context) {
	row, err := inst.db.GetInstance(inst.id)
	if err != nil || row == nil {
		return
	}
	if err := inst.tr.SendPresence(ctx, row.Presence == store.PresenceAvailable); err != nil {
		inst.logger.Warn("presence push failed", zap.Error(err))
	}
}

// storeQR persists the pairing payload and renders it as a PNG so an
// operator can scan it without a terminal.
func (inst *runningInstance) storeQR(code string) {
	if err := inst.db.SetInstanceQR(inst.id, code); err != nil {
		inst.logger.Error("store qr payload", zap.Error(err))
		return
	}
	path := inst.layout.QRPath(inst.id)
	if err := qrcode.WriteFile(code, qrcode.Medium, 512, path); err != nil {
		inst.logger.Warn("qr png render failed", zap.Error(err))
	}
	inst.bus.Publish(bus.Event{
		Kind:       bus.KindPairingQR,
		InstanceID: inst.id,
		Timestamp:  time.Now(),
		Payload:    code,
	})
	inst.logger.Info("pairing qr ready", zap.String("png", path))
}

// watchdog reconnects an instance that sits connected with zero chats
// for a whole stall window. A healthy login always produces at least
// one chat through history sync; silence that long means the sync
// never arrived.
func (inst *runningInstance) watchdog(ctx context.Context) {
	defer inst.wg.Done()
	ticker := time.NewTicker(stallWindow)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if !inst.db.AutoNudgeEnabled() {
			continue
		}
		row, err := inst.db.GetInstance(inst.id)
		if err != nil || row == nil || row.Status != store.StatusConnected {
			continue
		}
		n, err := inst.db.ChatCount(inst.id)
		if err != nil || n > 0 {
			continue
		}
		inst.logger.Warn("no chats after stall window, nudging connection")
		if err := inst.reconnect(ctx); err != nil {
			inst.logger.Error("watchdog reconnect failed", zap.Error(err))
		}
	}
}

func (inst *runningInstance) publishStatus(status string) {
	inst.bus.Publish(bus.Event{
		Kind:       bus.KindInstanceStatus,
		InstanceID: inst.id,
		Timestamp:  time.Now(),
		Payload:    status,
	})
}
