package wa

import (
	"testing"
	"time"

	"github.com/matheus3301/wahub/internal/transport"
	"go.mau.fi/whatsmeow/proto/waCommon"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"
)

func liveEvent(t *testing.T, msg *waE2E.Message) *events.Message {
	t.Helper()
	chat, err := types.ParseJID("5511999@s.whatsapp.net")
	if err != nil {
		t.Fatal(err)
	}
	sender, err := types.ParseJID("5511999:12@s.whatsapp.net")
	if err != nil {
		t.Fatal(err)
	}
	return &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{Chat: chat, Sender: sender},
			ID:            "ABC123",
			PushName:      "Maria",
			Timestamp:     time.UnixMilli(1700000000000),
		},
		Message: msg,
	}
}

func TestParseTextMessage(t *testing.T) {
	got := ParseMessage(liveEvent(t, &waE2E.Message{Conversation: proto.String("hello")}))

	if got.Kind != transport.KindText || got.Text != "hello" {
		t.Errorf("kind/text = %v/%q, want text/hello", got.Kind, got.Text)
	}
	if got.SenderJID != "5511999@s.whatsapp.net" {
		t.Errorf("sender = %q, want device suffix stripped", got.SenderJID)
	}
	if got.ID != "ABC123" || got.Timestamp != 1700000000000 {
		t.Errorf("id/ts = %q/%d", got.ID, got.Timestamp)
	}
}

func TestParseExtendedTextReply(t *testing.T) {
	got := ParseMessage(liveEvent(t, &waE2E.Message{
		ExtendedTextMessage: &waE2E.ExtendedTextMessage{
			Text: proto.String("quoted reply"),
			ContextInfo: &waE2E.ContextInfo{
				StanzaID: proto.String("ORIG1"),
			},
		},
	}))

	if got.Kind != transport.KindText || got.Text != "quoted reply" {
		t.Errorf("kind/text = %v/%q", got.Kind, got.Text)
	}
	if got.ReplyTo != "ORIG1" {
		t.Errorf("reply_to = %q, want ORIG1", got.ReplyTo)
	}
}

func TestParseImageMessage(t *testing.T) {
	got := ParseMessage(liveEvent(t, &waE2E.Message{
		ImageMessage: &waE2E.ImageMessage{
			Caption:  proto.String("look"),
			Mimetype: proto.String("image/jpeg"),
		},
	}))

	if got.Kind != transport.KindImage || got.Text != "look" {
		t.Errorf("kind/caption = %v/%q", got.Kind, got.Text)
	}
	if got.Media == nil || got.Media.FileExt != "jpg" {
		t.Errorf("media = %+v, want jpg ref", got.Media)
	}
}

func TestParseLocationMessage(t *testing.T) {
	got := ParseMessage(liveEvent(t, &waE2E.Message{
		LocationMessage: &waE2E.LocationMessage{
			DegreesLatitude:  proto.Float64(-23.55),
			DegreesLongitude: proto.Float64(-46.63),
		},
	}))

	if got.Kind != transport.KindLocation || got.Location == nil {
		t.Fatalf("kind = %v, location = %+v", got.Kind, got.Location)
	}
	if got.Location.Latitude != -23.55 || got.Location.Longitude != -46.63 {
		t.Errorf("coords = %v,%v", got.Location.Latitude, got.Location.Longitude)
	}
}

func TestParsePollMessage(t *testing.T) {
	got := ParseMessage(liveEvent(t, &waE2E.Message{
		PollCreationMessage: &waE2E.PollCreationMessage{
			Name: proto.String("Lunch?"),
			Options: []*waE2E.PollCreationMessage_Option{
				{OptionName: proto.String("Pizza")},
				{OptionName: proto.String("Sushi")},
			},
		},
	}))

	if got.Kind != transport.KindPoll || got.Poll == nil {
		t.Fatalf("kind = %v, poll = %+v", got.Kind, got.Poll)
	}
	if got.Poll.Name != "Lunch?" || len(got.Poll.Options) != 2 {
		t.Errorf("poll = %+v", got.Poll)
	}
}

func TestParseVCardMessage(t *testing.T) {
	got := ParseMessage(liveEvent(t, &waE2E.Message{
		ContactMessage: &waE2E.ContactMessage{
			DisplayName: proto.String("Jo"),
			Vcard:       proto.String("BEGIN:VCARD"),
		},
	}))

	if got.Kind != transport.KindVCard || got.VCard != "BEGIN:VCARD" {
		t.Errorf("kind/vcard = %v/%q", got.Kind, got.VCard)
	}
}

func TestParseEditShortCircuit(t *testing.T) {
	got := ParseMessage(liveEvent(t, &waE2E.Message{
		ProtocolMessage: &waE2E.ProtocolMessage{
			Type: waE2E.ProtocolMessage_MESSAGE_EDIT.Enum(),
			Key: &waCommon.MessageKey{
				ID: proto.String("TARGET1"),
			},
			EditedMessage: &waE2E.Message{Conversation: proto.String("fixed")},
		},
	}))

	if got.Kind != transport.KindEdit {
		t.Fatalf("kind = %v, want edit", got.Kind)
	}
	if got.TargetID != "TARGET1" || got.Text != "fixed" {
		t.Errorf("target/text = %q/%q", got.TargetID, got.Text)
	}
}

func TestParseReaction(t *testing.T) {
	got := ParseMessage(liveEvent(t, &waE2E.Message{
		ReactionMessage: &waE2E.ReactionMessage{
			Key:  &waCommon.MessageKey{ID: proto.String("TARGET2")},
			Text: proto.String("👍"),
		},
	}))

	if got.Kind != transport.KindReaction {
		t.Fatalf("kind = %v, want reaction", got.Kind)
	}
	if got.TargetID != "TARGET2" || got.Emoji != "👍" {
		t.Errorf("target/emoji = %q/%q", got.TargetID, got.Emoji)
	}
}

func TestParseNilPayloadFallsBackToText(t *testing.T) {
	got := ParseMessage(liveEvent(t, nil))
	if got.Kind != transport.KindText || got.Text != "" {
		t.Errorf("kind/text = %v/%q, want empty text", got.Kind, got.Text)
	}
}
