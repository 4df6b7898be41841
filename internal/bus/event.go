package bus

import "time"

// Event kinds published by the engine. Subscribers filter by prefix,
// so "chat." matches both chat.updated and chat.ephemeral.
const (
	KindChatUpdated    = "chat.updated"
	KindNewMessage     = "message.new"
	KindSendFailed     = "message.send_failed"
	KindStatusPosted   = "status.posted"
	KindPresence       = "presence.update"
	KindInstanceStatus = "instance.status"
	KindPairingQR      = "instance.qr"
)

// Event is a domain notification scoped to one instance. Delivery is
// fire-and-forget and unordered across instances.
type Event struct {
	Kind       string
	InstanceID int64
	Timestamp  time.Time
	Payload    any
}

// PresencePayload is the payload for presence.update events. The contact
// counts as idle again once IdleAfter elapses without a newer event.
type PresencePayload struct {
	JID       string
	Available bool
	IdleAfter time.Duration
}
