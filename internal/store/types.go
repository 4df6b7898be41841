package store

// Instance connection statuses.
const (
	StatusDisconnected = "disconnected"
	StatusConnecting   = "connecting"
	StatusConnected    = "connected"
)

// Desired presence modes.
const (
	PresenceAvailable   = "available"
	PresenceUnavailable = "unavailable"
)

// UnnamedGroup is the placeholder shown for groups whose subject is
// still unknown. A placeholder name is always eligible for upgrade.
const UnnamedGroup = "Unnamed Group"

// Instance is one connected account.
type Instance struct {
	ID        int64
	Name      string
	Owner     string
	Status    string
	Presence  string
	QRPayload string
	LastSeen  int64
}

// Chat is one conversation within an instance.
type Chat struct {
	InstanceID      int64
	JID             string
	Name            string
	UnreadCount     int
	LastMessageText string
	LastMessageAt   int64
	IsArchived      bool
	IsPinned        bool
	IsFullySynced   bool
	EphemeralMode   bool
	EphemeralTimer  int // minutes
	EphemeralSince  int64
	AvatarPath      string
	AvatarCheckedAt int64
}

// Contact is one known correspondent within an instance. AliasJID
// carries a secondary raw address (hidden-user id) that maps to the
// same person for history lookups.
type Contact struct {
	InstanceID      int64
	JID             string
	Name            string
	AliasJID        string
	AvatarPath      string
	AvatarCheckedAt int64
}

// Message content kinds.
const (
	KindText     = "text"
	KindImage    = "image"
	KindVideo    = "video"
	KindAudio    = "audio"
	KindDocument = "document"
	KindSticker  = "sticker"
	KindLocation = "location"
	KindPoll     = "poll"
	KindVCard    = "vcard"
)

// Message is one projected message. WAID is the external id and the
// idempotency key, unique per instance.
type Message struct {
	ID              int64
	InstanceID      int64
	WAID            string
	ChatJID         string
	SenderJID       string
	SenderName      string
	Body            string
	Kind            string
	MediaPath       string
	Latitude        float64
	Longitude       float64
	HasLocation     bool
	VCard           string
	Status          string
	Timestamp       int64
	FromMe          bool
	ReplyTo         string
	DeletedOnDevice bool
}

// Reaction is the last reaction a sender left on a message.
type Reaction struct {
	InstanceID  int64
	MessageWAID string
	SenderJID   string
	Emoji       string
}

// StatusUpdate is one broadcast-channel post. Append-only.
type StatusUpdate struct {
	ID         int64
	InstanceID int64
	SenderJID  string
	SenderName string
	Kind       string
	Body       string
	MediaPath  string
	Timestamp  int64
}

// OutboxEntry is one pending outbound message.
type OutboxEntry struct {
	ID           int64
	InstanceID   int64
	ClientMsgID  string
	ChatJID      string
	Body         string
	Status       string // queued, sending, sent, failed
	ErrorMessage string
	ServerMsgID  string
}

// MessageCursor identifies the oldest stored message of a chat, used
// as the backward pagination cursor for history backfill.
type MessageCursor struct {
	WAID      string
	Timestamp int64
	FromMe    bool
}
