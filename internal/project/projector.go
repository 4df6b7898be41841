// Package project turns raw transport events into durable rows. All
// writes are idempotent: re-delivery and replay of any event leaves
// the store unchanged except for the fields the event legitimately
// updates.
package project

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/wahub/internal/bus"
	"github.com/matheus3301/wahub/internal/jid"
	"github.com/matheus3301/wahub/internal/store"
	"github.com/matheus3301/wahub/internal/transport"
	"go.uber.org/zap"
)

// PresenceIdleAfter is how long a presence marker stays fresh before
// consumers reset the contact to idle.
const PresenceIdleAfter = 5 * time.Second

// Projector projects one instance's event stream into the store.
type Projector struct {
	instanceID int64
	db         *store.DB
	tr         transport.Transport
	bus        *bus.Bus
	logger     *zap.Logger
	mediaDir   string
}

// New creates a projector for one instance. Media files are written
// under mediaDir, named by external message id.
func New(instanceID int64, db *store.DB, tr transport.Transport, b *bus.Bus, mediaDir string, logger *zap.Logger) *Projector {
	return &Projector{
		instanceID: instanceID,
		db:         db,
		tr:         tr,
		bus:        b,
		logger:     logger,
		mediaDir:   mediaDir,
	}
}

// HandleEvent dispatches one transport event. Connection lifecycle
// variants are the engine's concern and ignored here.
func (p *Projector) HandleEvent(ctx context.Context, evt transport.Event) {
	var err error
	switch e := evt.(type) {
	case transport.Message:
		err = p.ProjectMessage(ctx, &e)
	case transport.HistoryBatch:
		err = p.ProjectHistoryBatch(ctx, &e)
	case transport.ChatUpsert:
		err = p.projectChatUpsert(&e.Chat)
	case transport.ChatUpdate:
		err = p.projectChatUpdate(&e)
	case transport.ContactUpsert:
		err = p.projectContact(e.Contact.JID, e.Contact.Name, e.Contact.AliasJID)
	case transport.ContactUpdate:
		name := ""
		if e.Name != nil {
			name = *e.Name
		}
		alias := ""
		if e.AliasJID != nil {
			alias = *e.AliasJID
		}
		err = p.projectContact(e.JID, name, alias)
	case transport.Receipt:
		err = p.ProjectReceipt(&e)
	case transport.Presence:
		p.ProjectPresence(&e)
	}
	if err != nil {
		p.logger.Error("projection failed", zap.Error(err))
	}
}

// ProjectMessage projects one inbound, outbound, or historical message.
// Edit and reaction variants short-circuit with a targeted mutation.
func (p *Projector) ProjectMessage(ctx context.Context, m *transport.Message) error {
	chatJID := jid.Normalize(m.ChatJID)
	if chatJID == jid.StatusBroadcast {
		return p.projectStatus(ctx, m)
	}
	if !jid.IsRoutable(chatJID) {
		return nil
	}
	chatJID, err := p.canonicalJID(chatJID)
	if err != nil {
		return err
	}
	senderJID := jid.Normalize(m.SenderJID)
	if senderJID == "" {
		senderJID = chatJID
	}

	switch m.Kind {
	case transport.KindEdit:
		// An edit that arrives before its original is a silent no-op.
		if m.TargetID == "" || m.Text == "" {
			return nil
		}
		return p.db.UpdateMessageText(p.instanceID, m.TargetID, m.Text)
	case transport.KindReaction:
		if m.TargetID == "" {
			return nil
		}
		return p.db.UpsertReaction(&store.Reaction{
			InstanceID:  p.instanceID,
			MessageWAID: m.TargetID,
			SenderJID:   senderJID,
			Emoji:       m.Emoji,
		})
	}

	senderName := m.SenderName
	if senderName != "" && senderName != "Unknown" {
		if err := p.db.LearnContactName(p.instanceID, senderJID, senderName); err != nil {
			return fmt.Errorf("learn sender name: %w", err)
		}
	} else {
		senderName = p.resolveName(senderJID)
	}

	body := p.synthesizeBody(m)

	waID := m.ID
	if waID == "" {
		waID = fallbackID()
	}

	var mediaPath string
	if m.Media != nil {
		mediaPath = p.materializeMedia(ctx, waID, m.Media)
	}

	// Ghost filter: protocol noise arrives as text with no content.
	if m.Kind == transport.KindText && strings.TrimSpace(body) == "" {
		return nil
	}

	msg := &store.Message{
		InstanceID: p.instanceID,
		WAID:       waID,
		ChatJID:    chatJID,
		SenderJID:  senderJID,
		SenderName: senderName,
		Body:       body,
		Kind:       string(m.Kind),
		MediaPath:  mediaPath,
		VCard:      m.VCard,
		Status:     "sent",
		Timestamp:  m.Timestamp,
		FromMe:     m.FromMe,
		ReplyTo:    m.ReplyTo,
	}
	if m.Location != nil {
		msg.HasLocation = true
		msg.Latitude = m.Location.Latitude
		msg.Longitude = m.Location.Longitude
	}
	if err := p.db.UpsertMessage(msg); err != nil {
		return fmt.Errorf("upsert message: %w", err)
	}

	// The chat identity, never the individual sender, names 1:1 chats.
	if err := p.db.UpsertChat(&store.Chat{
		InstanceID: p.instanceID,
		JID:        chatJID,
		Name:       p.resolveName(chatJID),
	}); err != nil {
		return fmt.Errorf("upsert chat: %w", err)
	}

	preview := body
	if preview == "" {
		preview = "[" + string(m.Kind) + "]"
	}
	if err := p.db.SetChatLastMessage(p.instanceID, chatJID, preview, m.Timestamp); err != nil {
		return fmt.Errorf("refresh last message: %w", err)
	}

	p.maybeResolveGroupSubject(ctx, chatJID)

	p.publish(bus.KindNewMessage, map[string]string{"chat_jid": chatJID, "msg_id": waID})
	p.publish(bus.KindChatUpdated, chatJID)
	return nil
}

// ProjectHistoryBatch projects the bulk history payload. Contacts land
// first, in one transaction with the chats, so chat and message
// projection below can resolve display names from them. Messages then
// go through the regular per-message path in input order.
func (p *Projector) ProjectHistoryBatch(ctx context.Context, batch *transport.HistoryBatch) error {
	var contacts []store.Contact
	for _, c := range batch.Contacts {
		cjid := jid.Normalize(c.JID)
		if !jid.IsRoutable(cjid) {
			continue
		}
		// A raw-shaped name is dropped, but the contact itself is kept
		// so its alias mapping still lands.
		name := c.Name
		if jid.LooksRaw(name) {
			name = ""
		}
		if name == "" && c.AliasJID == "" {
			continue
		}
		contacts = append(contacts, store.Contact{
			InstanceID: p.instanceID,
			JID:        cjid,
			Name:       name,
			AliasJID:   c.AliasJID,
		})
	}

	var chats []store.Chat
	for _, c := range batch.Chats {
		cjid := jid.Normalize(c.JID)
		if !jid.IsRoutable(cjid) {
			continue
		}
		cjid, err := p.canonicalJID(cjid)
		if err != nil {
			return err
		}
		name := c.Name
		if name == "" {
			name = p.resolveFromSnapshot(cjid, contacts)
		}
		chats = append(chats, store.Chat{
			InstanceID:  p.instanceID,
			JID:         cjid,
			Name:        name,
			UnreadCount: c.UnreadCount,
		})
	}

	if err := p.db.ApplyHistoryIdentity(contacts, chats); err != nil {
		return fmt.Errorf("apply history identity: %w", err)
	}

	for i := range batch.Messages {
		if err := p.ProjectMessage(ctx, &batch.Messages[i]); err != nil {
			p.logger.Error("history message projection failed",
				zap.Error(err), zap.String("msg_id", batch.Messages[i].ID))
		}
	}

	p.logger.Info("history batch projected",
		zap.Int("chats", len(chats)),
		zap.Int("contacts", len(contacts)),
		zap.Int("messages", len(batch.Messages)))
	p.publish(bus.KindChatUpdated, "")
	return nil
}

// ProjectReceipt writes a delivery receipt onto the matching external
// ids. Unknown ids are a no-op.
func (p *Projector) ProjectReceipt(r *transport.Receipt) error {
	status := "sent"
	switch {
	case r.Read:
		status = "read"
	case r.Delivered:
		status = "delivered"
	}
	for _, id := range r.MessageIDs {
		if err := p.db.ApplyReceiptStatus(p.instanceID, id, status); err != nil {
			return fmt.Errorf("update status: %w", err)
		}
	}
	p.publish(bus.KindChatUpdated, jid.Normalize(r.ChatJID))
	return nil
}

// ProjectPresence forwards a transient presence marker; nothing is
// persisted.
func (p *Projector) ProjectPresence(pr *transport.Presence) {
	p.publish(bus.KindPresence, bus.PresencePayload{
		JID:       jid.Normalize(pr.JID),
		Available: pr.Available,
		IdleAfter: PresenceIdleAfter,
	})
}

func (p *Projector) projectChatUpsert(c *transport.ChatSnapshot) error {
	cjid := jid.Normalize(c.JID)
	if !jid.IsRoutable(cjid) {
		return nil
	}
	cjid, err := p.canonicalJID(cjid)
	if err != nil {
		return err
	}
	name := c.Name
	if name == "" {
		name = p.resolveName(cjid)
	}
	if err := p.db.UpsertChat(&store.Chat{
		InstanceID:  p.instanceID,
		JID:         cjid,
		Name:        name,
		UnreadCount: c.UnreadCount,
	}); err != nil {
		return err
	}
	// The snapshot's counter is authoritative for an upsert.
	if err := p.db.SetChatUnread(p.instanceID, cjid, c.UnreadCount); err != nil {
		return err
	}
	if c.Archived {
		if err := p.db.SetChatArchived(p.instanceID, cjid, true); err != nil {
			return err
		}
	}
	if c.Pinned {
		if err := p.db.SetChatPinned(p.instanceID, cjid, true); err != nil {
			return err
		}
	}
	p.publish(bus.KindChatUpdated, cjid)
	return nil
}

func (p *Projector) projectChatUpdate(u *transport.ChatUpdate) error {
	cjid := jid.Normalize(u.JID)
	if !jid.IsRoutable(cjid) {
		return nil
	}
	if u.Name != nil {
		if err := p.db.SetChatName(p.instanceID, cjid, *u.Name); err != nil {
			return err
		}
	}
	if u.UnreadCount != nil {
		if err := p.db.SetChatUnread(p.instanceID, cjid, *u.UnreadCount); err != nil {
			return err
		}
	}
	if u.Archived != nil {
		if err := p.db.SetChatArchived(p.instanceID, cjid, *u.Archived); err != nil {
			return err
		}
	}
	if u.Pinned != nil {
		if err := p.db.SetChatPinned(p.instanceID, cjid, *u.Pinned); err != nil {
			return err
		}
	}
	p.publish(bus.KindChatUpdated, cjid)
	return nil
}

func (p *Projector) projectContact(rawJID, name, alias string) error {
	cjid := jid.Normalize(rawJID)
	if !jid.IsRoutable(cjid) {
		return nil
	}
	// Contact names are additive-only and never raw-address shaped.
	if jid.LooksRaw(name) {
		name = ""
	}
	if name == "" && alias == "" {
		return nil
	}
	return p.db.UpsertContact(&store.Contact{
		InstanceID: p.instanceID,
		JID:        cjid,
		Name:       name,
		AliasJID:   alias,
	})
}

// projectStatus appends a broadcast-channel post.
func (p *Projector) projectStatus(ctx context.Context, m *transport.Message) error {
	senderJID := jid.Normalize(m.SenderJID)
	senderName := m.SenderName
	if senderName == "" {
		senderName = "Unknown"
	}

	var mediaPath string
	if m.Media != nil {
		mediaPath = p.materializeMedia(ctx, "status_"+m.ID, m.Media)
	}

	if err := p.db.AppendStatusUpdate(&store.StatusUpdate{
		InstanceID: p.instanceID,
		SenderJID:  senderJID,
		SenderName: senderName,
		Kind:       string(m.Kind),
		Body:       m.Text,
		MediaPath:  mediaPath,
		Timestamp:  m.Timestamp,
	}); err != nil {
		return fmt.Errorf("append status update: %w", err)
	}
	p.publish(bus.KindStatusPosted, senderJID)
	return nil
}

// synthesizeBody returns the stored text for a message: the body or
// caption as-is, or a readable summary for structured kinds.
func (p *Projector) synthesizeBody(m *transport.Message) string {
	switch m.Kind {
	case transport.KindLocation:
		if m.Location == nil {
			return ""
		}
		return fmt.Sprintf("Location: %v, %v", m.Location.Latitude, m.Location.Longitude)
	case transport.KindPoll:
		if m.Poll == nil {
			return ""
		}
		return fmt.Sprintf("Poll: %s\nOptions: %s", m.Poll.Name, strings.Join(m.Poll.Options, ", "))
	case transport.KindVCard:
		return "Shared Contact Card"
	default:
		return m.Text
	}
}

// materializeMedia downloads and persists a media payload, returning
// the stored file path. Failure is non-fatal and returns "".
func (p *Projector) materializeMedia(ctx context.Context, stem string, ref *transport.MediaRef) string {
	data, err := p.tr.DownloadMedia(ctx, ref)
	if err != nil {
		p.logger.Warn("media download failed", zap.String("msg_id", stem), zap.Error(err))
		return ""
	}
	if err := os.MkdirAll(p.mediaDir, 0o700); err != nil {
		p.logger.Warn("media dir create failed", zap.Error(err))
		return ""
	}
	name := stem + "." + ref.FileExt
	path := filepath.Join(p.mediaDir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		p.logger.Warn("media write failed", zap.String("path", path), zap.Error(err))
		return ""
	}
	return path
}

// resolveName returns the display name for an address: the stored
// contact name when resolved, a placeholder for unnamed groups, else
// the local part.
func (p *Projector) resolveName(addr string) string {
	name, err := p.db.ContactName(p.instanceID, addr)
	if err == nil && name != "" && !jid.LooksRaw(name) {
		return name
	}
	if jid.IsGroup(addr) {
		return store.UnnamedGroup
	}
	return jid.LocalPart(addr)
}

// resolveFromSnapshot is resolveName against a not-yet-persisted
// contact batch, for chats in the same history payload.
func (p *Projector) resolveFromSnapshot(addr string, contacts []store.Contact) string {
	for _, c := range contacts {
		if c.JID == addr && c.Name != "" {
			return c.Name
		}
	}
	return p.resolveName(addr)
}

// canonicalJID folds a secondary raw address onto the primary contact
// address so both identities share one chat history.
func (p *Projector) canonicalJID(addr string) (string, error) {
	if !strings.HasSuffix(addr, "@lid") {
		return addr, nil
	}
	return p.db.ResolveAlias(p.instanceID, addr)
}

// maybeResolveGroupSubject fills in a group chat's subject when the
// stored name is still a placeholder. Lookup failure is not an error;
// the next message retries.
func (p *Projector) maybeResolveGroupSubject(ctx context.Context, chatJID string) {
	if !jid.IsGroup(chatJID) {
		return
	}
	chat, err := p.db.GetChat(p.instanceID, chatJID)
	if err != nil || chat == nil {
		return
	}
	if chat.Name != "" && chat.Name != store.UnnamedGroup && !jid.LooksRaw(chat.Name) {
		return
	}
	subject, err := p.tr.FetchGroupSubject(ctx, chatJID)
	if err != nil || subject == "" {
		return
	}
	if err := p.db.SetChatName(p.instanceID, chatJID, subject); err == nil {
		p.publish(bus.KindChatUpdated, chatJID)
	}
}

// fallbackID synthesizes an id for the rare message that arrives
// without one, so the idempotency key is never empty.
func fallbackID() string {
	return "local-" + uuid.NewString()
}

func (p *Projector) publish(kind string, payload any) {
	p.bus.Publish(bus.Event{
		Kind:       kind,
		InstanceID: p.instanceID,
		Timestamp:  time.Now(),
		Payload:    payload,
	})
}
