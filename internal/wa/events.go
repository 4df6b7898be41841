package wa

import (
	"github.com/matheus3301/wahub/internal/jid"
	"github.com/matheus3301/wahub/internal/transport"
	"go.mau.fi/whatsmeow/proto/waHistorySync"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
)

// handleEvent translates whatsmeow events into the transport union.
func (a *Adapter) handleEvent(rawEvt any) {
	switch evt := rawEvt.(type) {
	case *events.Connected:
		a.logger.Info("WhatsApp connected")
		a.emit(transport.ConnState{Connected: true})
	case *events.Disconnected:
		a.logger.Warn("WhatsApp disconnected")
		a.emit(transport.ConnState{Connected: false})
	case *events.LoggedOut:
		a.logger.Warn("WhatsApp logged out", zap.String("reason", evt.Reason.String()))
		a.emit(transport.LoggedOut{Reason: evt.Reason.String()})
	case *events.Message:
		a.emit(*ParseMessage(evt))
	case *events.HistorySync:
		a.handleHistorySync(evt)
	case *events.Receipt:
		a.emit(transport.Receipt{
			ChatJID:    jid.Normalize(evt.Chat.String()),
			MessageIDs: evt.MessageIDs,
			Read:       evt.Type == types.ReceiptTypeRead,
			Delivered:  evt.Type == types.ReceiptTypeDelivered,
		})
	case *events.Presence:
		a.emit(transport.Presence{
			JID:       jid.Normalize(evt.From.String()),
			Available: !evt.Unavailable,
		})
	case *events.PushName:
		name := evt.NewPushName
		a.emit(transport.ContactUpdate{
			JID:  jid.Normalize(evt.JID.String()),
			Name: &name,
		})
	case *events.Contact:
		name := evt.Action.GetFullName()
		a.emit(transport.ContactUpdate{
			JID:  jid.Normalize(evt.JID.String()),
			Name: &name,
		})
	case *events.GroupInfo:
		if evt.Name != nil {
			name := evt.Name.Name
			a.emit(transport.ChatUpdate{
				JID:  jid.Normalize(evt.JID.String()),
				Name: &name,
			})
		}
	case *events.JoinedGroup:
		a.emit(transport.ChatUpsert{Chat: transport.ChatSnapshot{
			JID:  jid.Normalize(evt.JID.String()),
			Name: evt.Name,
		}})
	case *events.Archive:
		archived := evt.Action.GetArchived()
		a.emit(transport.ChatUpdate{
			JID:      jid.Normalize(evt.JID.String()),
			Archived: &archived,
		})
	case *events.Pin:
		pinned := evt.Action.GetPinned()
		a.emit(transport.ChatUpdate{
			JID:    jid.Normalize(evt.JID.String()),
			Pinned: &pinned,
		})
	}
}

// handleHistorySync converts a history payload into one HistoryBatch:
// pushnames become contacts, conversations become chats, and each
// conversation message is parsed through the live message path.
func (a *Adapter) handleHistorySync(evt *events.HistorySync) {
	data := evt.Data
	if data == nil {
		return
	}
	onDemand := data.GetSyncType() == waHistorySync.HistorySync_ON_DEMAND

	batch := transport.HistoryBatch{OnDemand: onDemand}

	for _, pn := range data.GetPushnames() {
		batch.Contacts = append(batch.Contacts, transport.ContactSnapshot{
			JID:  jid.Normalize(pn.GetID()),
			Name: pn.GetPushname(),
		})
	}

	for _, conv := range data.GetConversations() {
		parsedJID, err := types.ParseJID(conv.GetID())
		if err != nil {
			continue
		}
		chatJID := jid.Normalize(conv.GetID())
		batch.Chats = append(batch.Chats, transport.ChatSnapshot{
			JID:         chatJID,
			Name:        conv.GetName(),
			UnreadCount: int(conv.GetUnreadCount()),
			Archived:    conv.GetArchived(),
			Pinned:      conv.GetPinned() > 0,
		})

		for _, hm := range conv.GetMessages() {
			wmsg := hm.GetMessage()
			if wmsg == nil || wmsg.GetMessage() == nil {
				continue
			}
			parsed, err := a.client.ParseWebMessage(parsedJID, wmsg)
			if err != nil {
				a.logger.Debug("unparseable history message", zap.Error(err))
				continue
			}
			batch.Messages = append(batch.Messages, *ParseMessage(parsed))
		}
	}

	if onDemand {
		// Unblock the FetchHistoryPage caller before delivering the
		// batch so the worker observes the page count promptly.
		select {
		case a.histResult <- len(batch.Messages):
		default:
		}
	}

	if len(batch.Chats) > 0 || len(batch.Contacts) > 0 || len(batch.Messages) > 0 {
		a.emit(batch)
	}
}
