// Package transport defines the boundary to the wire-level WhatsApp
// client. Events are a closed variant union so consumers switch on the
// concrete type instead of probing payload fields.
package transport

import (
	"context"
	"errors"
)

// ErrAvatarRemoved is the definitive negative result for an avatar
// fetch: the picture does not exist or is not visible to this account.
// Callers cache it as "no avatar" instead of retrying.
var ErrAvatarRemoved = errors.New("avatar not set or not authorized")

// Event is implemented by every transport event variant.
type Event interface {
	isTransportEvent()
}

// ConnState reports a connection state change.
type ConnState struct {
	Connected bool
}

// PairingQR carries a pending pairing payload.
type PairingQR struct {
	Code string
}

// LoggedOut reports a remote credential revocation.
type LoggedOut struct {
	Reason string
}

// MessageKind is the variant tag of a message payload.
type MessageKind string

const (
	KindText     MessageKind = "text"
	KindImage    MessageKind = "image"
	KindVideo    MessageKind = "video"
	KindAudio    MessageKind = "audio"
	KindDocument MessageKind = "document"
	KindSticker  MessageKind = "sticker"
	KindLocation MessageKind = "location"
	KindPoll     MessageKind = "poll"
	KindVCard    MessageKind = "vcard"
	// KindEdit and KindReaction are protocol control variants; they
	// mutate an existing message and never create a new one.
	KindEdit     MessageKind = "edit"
	KindReaction MessageKind = "reaction"
)

// Location is a geo payload.
type Location struct {
	Latitude  float64
	Longitude float64
}

// Poll is a poll-creation payload.
type Poll struct {
	Name    string
	Options []string
}

// Message is one inbound or historical message, already classified.
type Message struct {
	ID         string
	ChatJID    string
	SenderJID  string
	SenderName string
	Kind       MessageKind
	Text       string // body or caption
	FromMe     bool
	Timestamp  int64 // unix millis
	ReplyTo    string

	// Media is non-nil for image/video/audio/document/sticker and
	// downloadable through Transport.DownloadMedia.
	Media *MediaRef
	// Location is non-nil for KindLocation.
	Location *Location
	// Poll is non-nil for KindPoll.
	Poll *Poll
	// VCard is the raw contact-card payload for KindVCard.
	VCard string

	// TargetID is the external id the control variant applies to
	// (KindEdit, KindReaction).
	TargetID string
	// Emoji is the reaction body for KindReaction; empty on removal.
	Emoji string
}

// MediaRef is an opaque handle to downloadable media. Raw is the
// transport's native payload and only meaningful to the transport that
// produced it.
type MediaRef struct {
	MimeType string
	FileExt  string
	Raw      any
}

// ChatSnapshot is a chat row from the transport side.
type ChatSnapshot struct {
	JID         string
	Name        string
	UnreadCount int
	Archived    bool
	Pinned      bool
}

// ContactSnapshot is a contact row from the transport side. AliasJID
// is the secondary raw address of the same person, when known.
type ContactSnapshot struct {
	JID      string
	Name     string
	AliasJID string
}

// HistoryBatch is the bulk payload of the initial history sync.
type HistoryBatch struct {
	Chats    []ChatSnapshot
	Contacts []ContactSnapshot
	Messages []Message
	// OnDemand marks a batch produced by an explicit FetchHistoryPage
	// call rather than the initial sync.
	OnDemand bool
}

// ChatUpsert announces a new or replaced chat.
type ChatUpsert struct {
	Chat ChatSnapshot
}

// ChatUpdate carries partial chat changes; nil fields were absent.
type ChatUpdate struct {
	JID         string
	Name        *string
	UnreadCount *int
	Archived    *bool
	Pinned      *bool
}

// ContactUpsert announces a new or replaced contact.
type ContactUpsert struct {
	Contact ContactSnapshot
}

// ContactUpdate carries partial contact changes; nil fields were absent.
type ContactUpdate struct {
	JID      string
	Name     *string
	AliasJID *string
}

// Receipt reports delivery state for a set of message ids.
type Receipt struct {
	ChatJID    string
	MessageIDs []string
	Read       bool
	Delivered  bool
}

// Presence reports a correspondent going online or offline.
type Presence struct {
	JID       string
	Available bool
}

func (ConnState) isTransportEvent()     {}
func (PairingQR) isTransportEvent()     {}
func (LoggedOut) isTransportEvent()     {}
func (Message) isTransportEvent()       {}
func (HistoryBatch) isTransportEvent()  {}
func (ChatUpsert) isTransportEvent()    {}
func (ChatUpdate) isTransportEvent()    {}
func (ContactUpsert) isTransportEvent() {}
func (ContactUpdate) isTransportEvent() {}
func (Receipt) isTransportEvent()       {}
func (Presence) isTransportEvent()      {}

// MessageKey identifies a message for remote mutation calls.
type MessageKey struct {
	ID     string
	FromMe bool
}

// HistoryCursor points at the oldest locally stored message of a chat.
// A nil cursor asks for the newest page.
type HistoryCursor struct {
	MessageID string
	Timestamp int64
	FromMe    bool
}

// Transport is one account's connection to the wire protocol. All
// blocking calls honor their context; the implementation applies its
// own generous upper timeout.
type Transport interface {
	// Connect opens the connection. Events start flowing on Events()
	// after a successful connect, including the pairing QR stream when
	// no credentials exist yet.
	Connect(ctx context.Context) error
	// Disconnect closes the connection without revoking credentials.
	Disconnect()
	// Events returns the event stream. Closed on Disconnect.
	Events() <-chan Event
	// IsLoggedIn reports whether stored credentials exist.
	IsLoggedIn() bool
	// SendText sends a text message and returns the server message id.
	SendText(ctx context.Context, jid, text string) (string, error)
	// FetchHistoryPage requests one page of history older than the
	// cursor for a chat. The page's messages arrive through Events()
	// as an on-demand HistoryBatch; the return value is the number of
	// messages in the page, zero meaning the history is exhausted.
	FetchHistoryPage(ctx context.Context, chatJID string, cursor *HistoryCursor, pageSize int) (int, error)
	// FetchGroupSubject resolves a group chat's subject.
	FetchGroupSubject(ctx context.Context, jid string) (string, error)
	// FetchAvatar returns the high-resolution profile image bytes for
	// an address, or ErrAvatarRemoved as the definitive negative.
	FetchAvatar(ctx context.Context, jid string) ([]byte, error)
	// DownloadMedia fetches and decodes a message's media payload.
	DownloadMedia(ctx context.Context, ref *MediaRef) ([]byte, error)
	// ClearMessages asks the remote side to delete the given messages
	// from a chat.
	ClearMessages(ctx context.Context, chatJID string, keys []MessageKey) error
	// Archive and Pin mirror local chat flags to the account state.
	Archive(ctx context.Context, jid string, archived bool) error
	Pin(ctx context.Context, jid string, pinned bool) error
	// SendPresence announces the account as available or unavailable.
	SendPresence(ctx context.Context, available bool) error
	// Logout revokes credentials remotely.
	Logout(ctx context.Context) error
}

// Factory builds a Transport for one instance. The auth directory
// holds the credential material and is owned by the transport.
type Factory func(ctx context.Context, instanceID int64, authDir string) (Transport, error)
