package wa

import (
	"encoding/json"

	"github.com/matheus3301/wahub/internal/jid"
	"github.com/matheus3301/wahub/internal/transport"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types/events"
)

// ParseMessage classifies a live whatsmeow message event into the
// transport variant union. Exactly one payload group is populated,
// matching the Kind tag.
func ParseMessage(evt *events.Message) *transport.Message {
	sender := jid.Normalize(evt.Info.Sender.String())
	out := &transport.Message{
		ID:         evt.Info.ID,
		ChatJID:    jid.Normalize(evt.Info.Chat.String()),
		SenderJID:  sender,
		SenderName: evt.Info.PushName,
		FromMe:     evt.Info.IsFromMe,
		Timestamp:  evt.Info.Timestamp.UnixMilli(),
	}
	classify(evt.Message, out)
	return out
}

// classify inspects which payload variant of the wire message is
// populated, control messages first, and fills the variant fields.
func classify(msg *waE2E.Message, out *transport.Message) {
	if msg == nil {
		out.Kind = transport.KindText
		return
	}

	if prot := msg.GetProtocolMessage(); prot != nil && prot.GetType() == waE2E.ProtocolMessage_MESSAGE_EDIT {
		out.Kind = transport.KindEdit
		out.TargetID = prot.GetKey().GetID()
		out.Text = extractText(prot.GetEditedMessage())
		return
	}

	if react := msg.GetReactionMessage(); react != nil {
		out.Kind = transport.KindReaction
		out.TargetID = react.GetKey().GetID()
		out.Emoji = react.GetText()
		return
	}

	switch {
	case msg.GetImageMessage() != nil:
		img := msg.GetImageMessage()
		out.Kind = transport.KindImage
		out.Text = img.GetCaption()
		out.Media = &transport.MediaRef{MimeType: img.GetMimetype(), FileExt: "jpg", Raw: img}
	case msg.GetVideoMessage() != nil:
		vid := msg.GetVideoMessage()
		out.Kind = transport.KindVideo
		out.Text = vid.GetCaption()
		out.Media = &transport.MediaRef{MimeType: vid.GetMimetype(), FileExt: "mp4", Raw: vid}
	case msg.GetAudioMessage() != nil:
		aud := msg.GetAudioMessage()
		out.Kind = transport.KindAudio
		out.Media = &transport.MediaRef{MimeType: aud.GetMimetype(), FileExt: "ogg", Raw: aud}
	case msg.GetDocumentMessage() != nil:
		doc := msg.GetDocumentMessage()
		out.Kind = transport.KindDocument
		out.Text = doc.GetCaption()
		out.Media = &transport.MediaRef{MimeType: doc.GetMimetype(), FileExt: "bin", Raw: doc}
	case msg.GetStickerMessage() != nil:
		stk := msg.GetStickerMessage()
		out.Kind = transport.KindSticker
		out.Media = &transport.MediaRef{MimeType: stk.GetMimetype(), FileExt: "webp", Raw: stk}
	case msg.GetLocationMessage() != nil:
		loc := msg.GetLocationMessage()
		out.Kind = transport.KindLocation
		out.Location = &transport.Location{Latitude: loc.GetDegreesLatitude(), Longitude: loc.GetDegreesLongitude()}
	case msg.GetLiveLocationMessage() != nil:
		loc := msg.GetLiveLocationMessage()
		out.Kind = transport.KindLocation
		out.Location = &transport.Location{Latitude: loc.GetDegreesLatitude(), Longitude: loc.GetDegreesLongitude()}
	case pollMessage(msg) != nil:
		poll := pollMessage(msg)
		out.Kind = transport.KindPoll
		out.Poll = &transport.Poll{Name: poll.GetName()}
		for _, opt := range poll.GetOptions() {
			out.Poll.Options = append(out.Poll.Options, opt.GetOptionName())
		}
	case msg.GetContactMessage() != nil:
		out.Kind = transport.KindVCard
		out.VCard = msg.GetContactMessage().GetVcard()
	case msg.GetContactsArrayMessage() != nil:
		out.Kind = transport.KindVCard
		var cards []string
		for _, c := range msg.GetContactsArrayMessage().GetContacts() {
			cards = append(cards, c.GetVcard())
		}
		encoded, _ := json.Marshal(cards)
		out.VCard = string(encoded)
	default:
		out.Kind = transport.KindText
		out.Text = extractText(msg)
		if ext := msg.GetExtendedTextMessage(); ext != nil {
			out.ReplyTo = ext.GetContextInfo().GetStanzaID()
		}
	}
}

func pollMessage(msg *waE2E.Message) *waE2E.PollCreationMessage {
	if p := msg.GetPollCreationMessage(); p != nil {
		return p
	}
	if p := msg.GetPollCreationMessageV2(); p != nil {
		return p
	}
	return msg.GetPollCreationMessageV3()
}

func extractText(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	if c := msg.GetConversation(); c != "" {
		return c
	}
	return msg.GetExtendedTextMessage().GetText()
}
