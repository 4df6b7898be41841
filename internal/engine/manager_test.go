package engine

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/matheus3301/wahub/internal/bus"
	"github.com/matheus3301/wahub/internal/paths"
	"github.com/matheus3301/wahub/internal/store"
	"github.com/matheus3301/wahub/internal/transport"
	"go.uber.org/zap"
)

// scriptedTransport lets tests feed events and observe calls.
type scriptedTransport struct {
	events     chan transport.Event
	connects   atomic.Int32
	loggedOut  atomic.Bool
	presences  []bool
	sentTexts  []string
	archived   map[string]bool
	pinned     map[string]bool
}

func newScripted() *scriptedTransport {
	return &scriptedTransport{
		events:   make(chan transport.Event, 64),
		archived: map[string]bool{},
		pinned:   map[string]bool{},
	}
}

func (s *scriptedTransport) Connect(context.Context) error {
	s.connects.Add(1)
	return nil
}
func (s *scriptedTransport) Disconnect()                    {}
func (s *scriptedTransport) Events() <-chan transport.Event { return s.events }
func (s *scriptedTransport) IsLoggedIn() bool               { return true }
func (s *scriptedTransport) Logout(context.Context) error {
	s.loggedOut.Store(true)
	return nil
}
func (s *scriptedTransport) SendText(_ context.Context, _, text string) (string, error) {
	s.sentTexts = append(s.sentTexts, text)
	return "srv1", nil
}
func (s *scriptedTransport) FetchHistoryPage(context.Context, string, *transport.HistoryCursor, int) (int, error) {
	return 0, nil
}
func (s *scriptedTransport) FetchGroupSubject(context.Context, string) (string, error) {
	return "", nil
}
func (s *scriptedTransport) FetchAvatar(context.Context, string) ([]byte, error) {
	return nil, transport.ErrAvatarRemoved
}
func (s *scriptedTransport) DownloadMedia(context.Context, *transport.MediaRef) ([]byte, error) {
	return nil, nil
}
func (s *scriptedTransport) ClearMessages(context.Context, string, []transport.MessageKey) error {
	return nil
}
func (s *scriptedTransport) Archive(_ context.Context, jid string, archived bool) error {
	s.archived[jid] = archived
	return nil
}
func (s *scriptedTransport) Pin(_ context.Context, jid string, pinned bool) error {
	s.pinned[jid] = pinned
	return nil
}
func (s *scriptedTransport) SendPresence(_ context.Context, available bool) error {
	s.presences = append(s.presences, available)
	return nil
}

func testManager(t *testing.T) (*Manager, *store.DB, *scriptedTransport) {
	t.Helper()
	base := t.TempDir()
	db, err := store.Open(filepath.Join(base, "wahub.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if _, err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	st := newScripted()
	factory := func(context.Context, int64, string) (transport.Transport, error) {
		return st, nil
	}
	m := NewManager(db, bus.New(), factory, paths.Layout{Base: base}, zap.NewNop())
	t.Cleanup(m.StopAll)
	return m, db, st
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestStartIsIdempotent(t *testing.T) {
	m, _, st := testManager(t)
	id, err := m.CreateInstance(context.Background(), "primary", "ops")
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	if err := m.Start(ctx, id); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Start(ctx, id); err != nil {
		t.Fatalf("second start: %v", err)
	}
	if n := st.connects.Load(); n != 1 {
		t.Errorf("connects = %d, want 1", n)
	}
}

func TestCreateInstanceStartsTransport(t *testing.T) {
	m, db, st := testManager(t)
	id, err := m.CreateInstance(context.Background(), "primary", "ops")
	if err != nil {
		t.Fatal(err)
	}

	// Creation begins pairing right away, no separate Start call.
	if n := st.connects.Load(); n != 1 {
		t.Errorf("connects = %d, want 1 after create", n)
	}
	row, _ := db.GetInstance(id)
	if row == nil || row.Status != store.StatusConnecting {
		t.Errorf("status = %+v, want connecting", row)
	}
}

func TestStartUnknownInstance(t *testing.T) {
	m, _, _ := testManager(t)
	if err := m.Start(context.Background(), 9999); err != ErrUnknownInstance {
		t.Errorf("err = %v, want ErrUnknownInstance", err)
	}
}

func TestConnectedEventUpdatesStatus(t *testing.T) {
	m, db, st := testManager(t)
	id, _ := m.CreateInstance(context.Background(), "primary", "ops")
	if err := m.Start(context.Background(), id); err != nil {
		t.Fatal(err)
	}

	st.events <- transport.ConnState{Connected: true}
	waitFor(t, "connected status", func() bool {
		row, _ := db.GetInstance(id)
		return row != nil && row.Status == store.StatusConnected
	})
	row, _ := db.GetInstance(id)
	if row.LastSeen == 0 {
		t.Error("last_seen not stamped on connect")
	}
}

func TestPairingQRPersistedAndRendered(t *testing.T) {
	m, db, st := testManager(t)
	id, _ := m.CreateInstance(context.Background(), "primary", "ops")
	if err := m.Start(context.Background(), id); err != nil {
		t.Fatal(err)
	}

	st.events <- transport.PairingQR{Code: "2@pairing-payload"}
	waitFor(t, "qr payload", func() bool {
		row, _ := db.GetInstance(id)
		return row != nil && row.QRPayload == "2@pairing-payload"
	})
	qr := m.layout.QRPath(id)
	waitFor(t, "qr png", func() bool {
		_, err := os.Stat(qr)
		return err == nil
	})
}

func TestMessagesProjectThroughEventLoop(t *testing.T) {
	m, db, st := testManager(t)
	id, _ := m.CreateInstance(context.Background(), "primary", "ops")
	if err := m.Start(context.Background(), id); err != nil {
		t.Fatal(err)
	}

	st.events <- transport.Message{
		ID:        "w1",
		ChatJID:   "111@s.whatsapp.net",
		SenderJID: "111@s.whatsapp.net",
		Kind:      transport.KindText,
		Text:      "hello",
		Timestamp: 1000,
	}
	waitFor(t, "projected message", func() bool {
		n, _ := db.MessageCount(id)
		return n == 1
	})
}

func TestSendMessageQueues(t *testing.T) {
	m, db, _ := testManager(t)
	id, _ := m.CreateInstance(context.Background(), "primary", "ops")

	clientID, err := m.SendMessage(id, "111:7@s.whatsapp.net", "hi there")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	pending, err := db.PendingOutbox(id)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].ClientMsgID != clientID {
		t.Fatalf("pending = %+v", pending)
	}
	if pending[0].ChatJID != "111@s.whatsapp.net" {
		t.Errorf("chat jid not normalized: %q", pending[0].ChatJID)
	}

	if _, err := m.SendMessage(id, "status@broadcast", "nope"); err == nil {
		t.Error("broadcast send accepted")
	}
}

func TestModifyChatMirrorsToTransport(t *testing.T) {
	m, db, st := testManager(t)
	id, _ := m.CreateInstance(context.Background(), "primary", "ops")
	const chat = "111@s.whatsapp.net"
	if err := db.UpsertChat(&store.Chat{InstanceID: id, JID: chat, Name: "Alice"}); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := m.Start(ctx, id); err != nil {
		t.Fatal(err)
	}

	if err := m.ModifyChat(ctx, id, chat, ChatArchive); err != nil {
		t.Fatal(err)
	}
	c, _ := db.GetChat(id, chat)
	if !c.IsArchived || !st.archived[chat] {
		t.Errorf("archive: local=%v remote=%v", c.IsArchived, st.archived[chat])
	}

	if err := m.ModifyChat(ctx, id, chat, ChatPin); err != nil {
		t.Fatal(err)
	}
	c, _ = db.GetChat(id, chat)
	if !c.IsPinned || !st.pinned[chat] {
		t.Errorf("pin: local=%v remote=%v", c.IsPinned, st.pinned[chat])
	}

	if err := m.ModifyChat(ctx, id, chat, ChatDelete); err != nil {
		t.Fatal(err)
	}
	c, _ = db.GetChat(id, chat)
	if c != nil {
		t.Error("chat still present after delete")
	}
}

func TestDeleteInstanceRemovesEverything(t *testing.T) {
	m, db, st := testManager(t)
	id, _ := m.CreateInstance(context.Background(), "primary", "ops")
	ctx := context.Background()
	if err := m.Start(ctx, id); err != nil {
		t.Fatal(err)
	}
	instDir := m.layout.InstanceDir(id)
	if _, err := os.Stat(instDir); err != nil {
		t.Fatalf("instance dir missing before delete: %v", err)
	}

	if err := m.DeleteInstance(ctx, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !st.loggedOut.Load() {
		t.Error("remote logout not attempted")
	}
	if _, err := os.Stat(instDir); !os.IsNotExist(err) {
		t.Error("instance dir survived delete")
	}
	row, _ := db.GetInstance(id)
	if row != nil {
		t.Error("instance row survived delete")
	}
}

func TestSetPresencePersistsWhenOffline(t *testing.T) {
	m, db, _ := testManager(t)
	id, _ := m.CreateInstance(context.Background(), "primary", "ops")
	m.Stop(id)

	if err := m.SetPresence(context.Background(), id, false); err != nil {
		t.Fatalf("set presence: %v", err)
	}
	row, _ := db.GetInstance(id)
	if row.Presence != store.PresenceUnavailable {
		t.Errorf("presence = %q", row.Presence)
	}
}
