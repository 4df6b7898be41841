// Package wa implements the transport boundary over whatsmeow.
package wa

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/matheus3301/wahub/internal/transport"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/appstate"
	"go.mau.fi/whatsmeow/proto/waE2E"
	wastore "go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	_ "github.com/mattn/go-sqlite3"
)

// Adapter wraps one whatsmeow client as a transport.Transport.
type Adapter struct {
	client     *whatsmeow.Client
	container  *sqlstore.Container
	logger     *zap.Logger
	instanceID int64

	events chan transport.Event

	// done marks the end of one connection lifetime. Disconnect closes
	// it, Connect replaces it, so the adapter survives reconnect cycles.
	doneMu sync.Mutex
	done   chan struct{}

	// histResult receives the item count of an on-demand history page.
	histResult chan int

	httpClient *http.Client
}

var _ transport.Transport = (*Adapter)(nil)

// NewAdapter creates an adapter whose credential store lives under
// authDir. Satisfies transport.Factory.
func NewAdapter(ctx context.Context, instanceID int64, authDir string, logger *zap.Logger) (*Adapter, error) {
	// Device name shown on the phone's linked devices list.
	wastore.SetOSInfo("WAHub", [3]uint32{0, 1, 0})

	dbPath := filepath.Join(authDir, "session.db")
	container, err := sqlstore.New(ctx, "sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=on", dbPath),
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("create session store: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("get device store: %w", err)
	}

	a := &Adapter{
		client:     whatsmeow.NewClient(deviceStore, nil),
		container:  container,
		logger:     logger,
		instanceID: instanceID,
		events:     make(chan transport.Event, 512),
		done:       make(chan struct{}),
		histResult: make(chan int, 1),
		httpClient: &http.Client{Timeout: 2 * time.Minute},
	}
	a.client.AddEventHandler(a.handleEvent)
	return a, nil
}

// IsLoggedIn reports whether credentials are stored.
func (a *Adapter) IsLoggedIn() bool {
	return a.client.Store.ID != nil
}

// Events returns the translated event stream.
func (a *Adapter) Events() <-chan transport.Event {
	return a.events
}

// Connect opens the connection. Without stored credentials the QR
// pairing flow starts and codes are forwarded as PairingQR events.
func (a *Adapter) Connect(ctx context.Context) error {
	a.resetDone()
	if a.IsLoggedIn() {
		a.logger.Info("connecting to WhatsApp")
		return a.client.Connect()
	}

	// QR channel must be obtained before Connect.
	qrChan, err := a.client.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("get QR channel: %w", err)
	}
	a.logger.Info("no credentials, starting QR pairing")
	if err := a.client.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	go func() {
		for item := range qrChan {
			switch item.Event {
			case "code":
				a.emit(transport.PairingQR{Code: item.Code})
			case "success":
				a.logger.Info("QR pairing succeeded")
				return
			case "timeout":
				a.logger.Warn("QR pairing timed out")
				a.emit(transport.LoggedOut{Reason: "pairing timeout"})
				return
			default:
				if item.Error != nil {
					a.logger.Warn("QR pairing failed", zap.Error(item.Error))
					a.emit(transport.LoggedOut{Reason: item.Error.Error()})
					return
				}
			}
		}
	}()
	return nil
}

// Disconnect closes the connection and the event stream. Credentials
// stay on disk.
func (a *Adapter) Disconnect() {
	a.logger.Info("disconnecting from WhatsApp")
	a.client.Disconnect()
	a.closeDone()
}

// doneCh returns the current lifetime's done channel.
func (a *Adapter) doneCh() chan struct{} {
	a.doneMu.Lock()
	defer a.doneMu.Unlock()
	return a.done
}

// resetDone starts a fresh connection lifetime if the previous one was
// ended by Disconnect.
func (a *Adapter) resetDone() {
	a.doneMu.Lock()
	defer a.doneMu.Unlock()
	select {
	case <-a.done:
		a.done = make(chan struct{})
	default:
	}
}

// closeDone ends the current connection lifetime. Idempotent, so a
// repeated Disconnect never panics.
func (a *Adapter) closeDone() {
	a.doneMu.Lock()
	defer a.doneMu.Unlock()
	select {
	case <-a.done:
	default:
		close(a.done)
	}
}

// Logout revokes the session remotely.
func (a *Adapter) Logout(ctx context.Context) error {
	return a.client.Logout(ctx)
}

// SendText sends a text message and returns the server message id.
func (a *Adapter) SendText(ctx context.Context, jidStr, text string) (string, error) {
	to, err := types.ParseJID(jidStr)
	if err != nil {
		return "", fmt.Errorf("parse JID: %w", err)
	}
	resp, err := a.client.SendMessage(ctx, to, &waE2E.Message{
		Conversation: proto.String(text),
	})
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	return resp.ID, nil
}

// FetchHistoryPage requests one page of a chat's history older than
// the cursor. The page arrives asynchronously as an on-demand history
// sync; this call waits for it and returns the item count.
func (a *Adapter) FetchHistoryPage(ctx context.Context, chatJID string, cursor *transport.HistoryCursor, pageSize int) (int, error) {
	chat, err := types.ParseJID(chatJID)
	if err != nil {
		return 0, fmt.Errorf("parse JID: %w", err)
	}
	if a.client.Store.ID == nil {
		return 0, fmt.Errorf("not logged in")
	}

	info := &types.MessageInfo{
		MessageSource: types.MessageSource{Chat: chat},
		Timestamp:     time.Now(),
	}
	if cursor != nil {
		info.ID = cursor.MessageID
		info.MessageSource.IsFromMe = cursor.FromMe
		info.Timestamp = time.UnixMilli(cursor.Timestamp)
	}

	// Drain a stale result from an interrupted previous call.
	select {
	case <-a.histResult:
	default:
	}

	req := a.client.BuildHistorySyncRequest(info, pageSize)
	own := a.client.Store.ID.ToNonAD()
	if _, err := a.client.SendMessage(ctx, own, req, whatsmeow.SendRequestExtra{Peer: true}); err != nil {
		return 0, fmt.Errorf("send history request: %w", err)
	}

	select {
	case n := <-a.histResult:
		return n, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-a.doneCh():
		return 0, fmt.Errorf("disconnected")
	}
}

// FetchGroupSubject resolves a group's subject line.
func (a *Adapter) FetchGroupSubject(ctx context.Context, jidStr string) (string, error) {
	gjid, err := types.ParseJID(jidStr)
	if err != nil {
		return "", fmt.Errorf("parse JID: %w", err)
	}
	info, err := a.client.GetGroupInfo(ctx, gjid)
	if err != nil {
		return "", fmt.Errorf("group info: %w", err)
	}
	return info.Name, nil
}

// FetchAvatar returns the high-resolution profile image bytes.
// Not-set and not-authorized map to transport.ErrAvatarRemoved.
func (a *Adapter) FetchAvatar(ctx context.Context, jidStr string) ([]byte, error) {
	pjid, err := types.ParseJID(jidStr)
	if err != nil {
		return nil, fmt.Errorf("parse JID: %w", err)
	}
	pic, err := a.client.GetProfilePictureInfo(ctx, pjid, &whatsmeow.GetProfilePictureParams{})
	if err == whatsmeow.ErrProfilePictureUnauthorized || err == whatsmeow.ErrProfilePictureNotSet {
		return nil, transport.ErrAvatarRemoved
	}
	if err != nil {
		return nil, fmt.Errorf("profile picture info: %w", err)
	}
	if pic == nil || pic.URL == "" {
		return nil, transport.ErrAvatarRemoved
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pic.URL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download avatar: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		return nil, transport.ErrAvatarRemoved
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download avatar: HTTP %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// DownloadMedia fetches and decrypts a message's media payload.
func (a *Adapter) DownloadMedia(ctx context.Context, ref *transport.MediaRef) ([]byte, error) {
	dm, ok := ref.Raw.(whatsmeow.DownloadableMessage)
	if !ok {
		return nil, fmt.Errorf("media payload is not downloadable")
	}
	return a.client.Download(ctx, dm)
}

// ClearMessages issues remote deletes for the given messages. Only own
// messages can be revoked; peer messages are skipped.
func (a *Adapter) ClearMessages(ctx context.Context, chatJID string, keys []transport.MessageKey) error {
	chat, err := types.ParseJID(chatJID)
	if err != nil {
		return fmt.Errorf("parse JID: %w", err)
	}
	for _, key := range keys {
		if !key.FromMe {
			a.logger.Debug("skipping remote delete of peer message", zap.String("msg_id", key.ID))
			continue
		}
		if _, err := a.client.SendMessage(ctx, chat, a.client.BuildRevoke(chat, types.EmptyJID, key.ID)); err != nil {
			return fmt.Errorf("revoke %s: %w", key.ID, err)
		}
	}
	return nil
}

// Archive mirrors the archived flag to account app state.
func (a *Adapter) Archive(ctx context.Context, jidStr string, archived bool) error {
	target, err := types.ParseJID(jidStr)
	if err != nil {
		return fmt.Errorf("parse JID: %w", err)
	}
	return a.client.SendAppState(ctx, appstate.BuildArchive(target, archived, time.Time{}, nil))
}

// Pin mirrors the pinned flag to account app state.
func (a *Adapter) Pin(ctx context.Context, jidStr string, pinned bool) error {
	target, err := types.ParseJID(jidStr)
	if err != nil {
		return fmt.Errorf("parse JID: %w", err)
	}
	return a.client.SendAppState(ctx, appstate.BuildPin(target, pinned))
}

// SendPresence announces the account's availability.
func (a *Adapter) SendPresence(ctx context.Context, available bool) error {
	state := types.PresenceAvailable
	if !available {
		state = types.PresenceUnavailable
	}
	return a.client.SendPresence(ctx, state)
}

// emit delivers an event unless the adapter has been shut down.
func (a *Adapter) emit(evt transport.Event) {
	select {
	case a.events <- evt:
	case <-a.doneCh():
	}
}
