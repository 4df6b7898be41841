package backfill

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/matheus3301/wahub/internal/store"
	"github.com/matheus3301/wahub/internal/transport"
	"go.uber.org/zap"
)

func testWorker(t *testing.T) (*Worker, *store.DB, int64) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "wahub.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if _, err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	id, err := db.CreateInstance("test", "owner")
	if err != nil {
		t.Fatalf("create instance: %v", err)
	}
	w := New(id, db, nil, zap.NewNop())
	return w, db, id
}

func seedChat(t *testing.T, db *store.DB, id int64, jid string, pinned bool) {
	t.Helper()
	if err := db.UpsertChat(&store.Chat{InstanceID: id, JID: jid, Name: jid}); err != nil {
		t.Fatal(err)
	}
	if pinned {
		if err := db.SetChatPinned(id, jid, true); err != nil {
			t.Fatal(err)
		}
	}
}

func TestCycleIdleWhenNothingPending(t *testing.T) {
	w, _, _ := testWorker(t)
	w.fetch = func(context.Context, string, *transport.HistoryCursor, int) (int, error) {
		t.Fatal("fetch called with no pending chat")
		return 0, nil
	}
	if d := w.cycle(context.Background()); d != idleDelay {
		t.Errorf("delay = %v, want %v", d, idleDelay)
	}
}

func TestCycleMarksEmptyPageSynced(t *testing.T) {
	w, db, id := testWorker(t)
	seedChat(t, db, id, "111@s.whatsapp.net", false)

	w.fetch = func(_ context.Context, chat string, cursor *transport.HistoryCursor, size int) (int, error) {
		if chat != "111@s.whatsapp.net" {
			t.Errorf("chat = %q", chat)
		}
		if cursor != nil {
			t.Errorf("cursor = %+v, want nil for empty chat", cursor)
		}
		if size != PageSize {
			t.Errorf("page size = %d", size)
		}
		return 0, nil
	}

	if d := w.cycle(context.Background()); d != donePause {
		t.Errorf("delay = %v, want %v", d, donePause)
	}
	chat, err := db.GetChat(id, "111@s.whatsapp.net")
	if err != nil || chat == nil {
		t.Fatalf("chat: %v", err)
	}
	if !chat.IsFullySynced {
		t.Error("chat not marked fully synced")
	}
}

func TestCyclePassesOldestMessageCursor(t *testing.T) {
	w, db, id := testWorker(t)
	seedChat(t, db, id, "111@s.whatsapp.net", false)
	for i, ts := range []int64{300, 100, 200} {
		if err := db.UpsertMessage(&store.Message{
			InstanceID: id,
			WAID:       []string{"a", "b", "c"}[i],
			ChatJID:    "111@s.whatsapp.net",
			SenderJID:  "111@s.whatsapp.net",
			Body:       "x",
			Kind:       store.KindText,
			Status:     "sent",
			Timestamp:  ts,
		}); err != nil {
			t.Fatal(err)
		}
	}

	var got *transport.HistoryCursor
	w.fetch = func(_ context.Context, _ string, cursor *transport.HistoryCursor, _ int) (int, error) {
		got = cursor
		return 42, nil
	}
	if d := w.cycle(context.Background()); d != db.SyncDelay() {
		t.Errorf("delay = %v, want configured sync delay", d)
	}
	if got == nil || got.MessageID != "b" || got.Timestamp != 100 {
		t.Errorf("cursor = %+v, want oldest message b@100", got)
	}
}

func TestCycleBacksOffOnFetchError(t *testing.T) {
	w, db, id := testWorker(t)
	seedChat(t, db, id, "111@s.whatsapp.net", false)

	w.fetch = func(context.Context, string, *transport.HistoryCursor, int) (int, error) {
		return 0, errors.New("socket closed")
	}
	if d := w.cycle(context.Background()); d != errorBackoff {
		t.Errorf("delay = %v, want %v", d, errorBackoff)
	}
	chat, _ := db.GetChat(id, "111@s.whatsapp.net")
	if chat.IsFullySynced {
		t.Error("failed chat must not be marked synced")
	}
}

func TestCyclePrefersPinnedChat(t *testing.T) {
	w, db, id := testWorker(t)
	seedChat(t, db, id, "111@s.whatsapp.net", false)
	seedChat(t, db, id, "222@s.whatsapp.net", true)

	var fetched string
	w.fetch = func(_ context.Context, chat string, _ *transport.HistoryCursor, _ int) (int, error) {
		fetched = chat
		return 0, nil
	}
	w.cycle(context.Background())
	if fetched != "222@s.whatsapp.net" {
		t.Errorf("fetched %q, want pinned chat first", fetched)
	}
}

// TestWorkerTerminates walks a two-chat backlog to completion: with a
// transport whose history is exhausted, every cycle either finishes a
// chat or parks idle, so the loop reaches the idle state in a bounded
// number of steps.
func TestWorkerTerminates(t *testing.T) {
	w, db, id := testWorker(t)
	seedChat(t, db, id, "111@s.whatsapp.net", false)
	seedChat(t, db, id, "222@s.whatsapp.net", false)

	w.fetch = func(context.Context, string, *transport.HistoryCursor, int) (int, error) {
		return 0, nil
	}
	for i := 0; i < 3; i++ {
		if d := w.cycle(context.Background()); d == idleDelay {
			chats, err := db.ListChats(id, 10)
			if err != nil {
				t.Fatal(err)
			}
			for _, c := range chats {
				if !c.IsFullySynced {
					t.Errorf("chat %s reached idle unsynced", c.JID)
				}
			}
			return
		}
	}
	t.Fatal("loop did not reach idle after all chats synced")
}

func TestRunSingleFlight(t *testing.T) {
	w, _, _ := testWorker(t)
	w.fetch = func(context.Context, string, *transport.HistoryCursor, int) (int, error) {
		return 0, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	go func() {
		close(started)
		w.Run(ctx)
	}()
	<-started
	// Give the first loop a beat to claim the flag.
	for i := 0; i < 100 && !w.running.Load(); i++ {
		time.Sleep(time.Millisecond)
	}

	done := make(chan struct{})
	go func() {
		w.Run(ctx) // must return immediately
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("second Run did not bail out")
	}
	cancel()
}
