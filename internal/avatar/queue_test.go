package avatar

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/matheus3301/wahub/internal/store"
	"github.com/matheus3301/wahub/internal/transport"
	"go.uber.org/zap"
)

type avatarFake struct {
	images map[string][]byte
	err    error
	calls  int
}

func (f *avatarFake) Connect(context.Context) error  { return nil }
func (f *avatarFake) Disconnect()                    {}
func (f *avatarFake) Events() <-chan transport.Event { return nil }
func (f *avatarFake) IsLoggedIn() bool               { return true }
func (f *avatarFake) Logout(context.Context) error   { return nil }
func (f *avatarFake) SendText(context.Context, string, string) (string, error) {
	return "", nil
}
func (f *avatarFake) FetchHistoryPage(context.Context, string, *transport.HistoryCursor, int) (int, error) {
	return 0, nil
}
func (f *avatarFake) FetchGroupSubject(context.Context, string) (string, error) { return "", nil }
func (f *avatarFake) FetchAvatar(_ context.Context, jid string) ([]byte, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	img, ok := f.images[jid]
	if !ok {
		return nil, transport.ErrAvatarRemoved
	}
	return img, nil
}
func (f *avatarFake) DownloadMedia(context.Context, *transport.MediaRef) ([]byte, error) {
	return nil, nil
}
func (f *avatarFake) ClearMessages(context.Context, string, []transport.MessageKey) error {
	return nil
}
func (f *avatarFake) Archive(context.Context, string, bool) error { return nil }
func (f *avatarFake) Pin(context.Context, string, bool) error     { return nil }
func (f *avatarFake) SendPresence(context.Context, bool) error    { return nil }

func testQueue(t *testing.T) (*Queue, *store.DB, *avatarFake, int64) {
	t.Helper()
	dir := t.TempDir()
	db, err := store.Open(filepath.Join(dir, "wahub.db"))
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
	ft := &avatarFake{images: map[string][]byte{}}
	q := New(id, db, ft, filepath.Join(dir, "avatars"), zap.NewNop())
	return q, db, ft, id
}

func seedIdentity(t *testing.T, db *store.DB, id int64, jid string) {
	t.Helper()
	if err := db.UpsertContact(&store.Contact{InstanceID: id, JID: jid, Name: "Alice"}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertChat(&store.Chat{InstanceID: id, JID: jid, Name: "Alice"}); err != nil {
		t.Fatal(err)
	}
}

func TestFetchOneStoresImage(t *testing.T) {
	q, db, ft, id := testQueue(t)
	const jid = "111@s.whatsapp.net"
	seedIdentity(t, db, id, jid)
	ft.images[jid] = []byte{0xFF, 0xD8, 0xFF}

	if err := q.fetchOne(context.Background(), jid); err != nil {
		t.Fatalf("fetch: %v", err)
	}

	contact, _ := db.GetContact(id, jid)
	if contact.AvatarPath == "" || contact.AvatarCheckedAt == 0 {
		t.Fatalf("contact avatar not recorded: %+v", contact)
	}
	if _, err := os.Stat(contact.AvatarPath); err != nil {
		t.Errorf("avatar file missing: %v", err)
	}
	chat, _ := db.GetChat(id, jid)
	if chat.AvatarPath != contact.AvatarPath {
		t.Errorf("chat avatar = %q, want %q", chat.AvatarPath, contact.AvatarPath)
	}
}

func TestFetchOneDefinitiveNegativeClearsAndStamps(t *testing.T) {
	q, db, _, id := testQueue(t)
	const jid = "111@s.whatsapp.net"
	seedIdentity(t, db, id, jid)
	if err := db.SetContactAvatar(id, jid, "/old/path.jpg"); err != nil {
		t.Fatal(err)
	}

	if err := q.fetchOne(context.Background(), jid); err != nil {
		t.Fatalf("fetch: %v", err)
	}

	contact, _ := db.GetContact(id, jid)
	if contact.AvatarPath != "" {
		t.Errorf("stale path kept: %q", contact.AvatarPath)
	}
	if contact.AvatarCheckedAt == 0 {
		t.Error("negative result not stamped")
	}
}

func TestFetchOneTransientErrorLeavesState(t *testing.T) {
	q, db, ft, id := testQueue(t)
	const jid = "111@s.whatsapp.net"
	seedIdentity(t, db, id, jid)
	if err := db.SetContactAvatar(id, jid, "/old/path.jpg"); err != nil {
		t.Fatal(err)
	}
	before, _ := db.GetContact(id, jid)

	ft.err = errors.New("timeout")
	if err := q.fetchOne(context.Background(), jid); err == nil {
		t.Fatal("transient error swallowed")
	}

	after, _ := db.GetContact(id, jid)
	if after.AvatarPath != before.AvatarPath || after.AvatarCheckedAt != before.AvatarCheckedAt {
		t.Errorf("transient error mutated state: %+v -> %+v", before, after)
	}
}

func TestEnqueueDedupes(t *testing.T) {
	q, _, _, _ := testQueue(t)
	q.Enqueue("111@s.whatsapp.net")
	q.Enqueue("111:2@s.whatsapp.net") // same address after normalization
	q.Enqueue("222@s.whatsapp.net")

	if len(q.work) != 2 {
		t.Errorf("queued = %d, want 2", len(q.work))
	}
}

func TestEnqueueRejectsBroadcast(t *testing.T) {
	q, _, _, _ := testQueue(t)
	q.Enqueue("status@broadcast")
	q.Enqueue("")
	if len(q.work) != 0 {
		t.Errorf("queued = %d, want 0", len(q.work))
	}
}
