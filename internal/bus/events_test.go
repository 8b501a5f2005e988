package bus

import (
	"testing"

	"github.com/stellarlinkco/geminibot/internal/media"
)

func TestInboundMessage_Tags(t *testing.T) {
	tests := []struct {
		name string
		msg  InboundMessage
		want string
	}{
		{"plain", InboundMessage{Text: "hi"}, ""},
		{"reply", InboundMessage{ReplyTo: &InboundMessage{MessageID: 41}}, "reply:41"},
		{"media", InboundMessage{Attachment: &Attachment{Kind: media.Voice}}, "media:voice"},
		{
			"all",
			InboundMessage{
				ReplyTo:    &InboundMessage{MessageID: 7},
				Attachment: &Attachment{Kind: media.Document},
				Forwarded:  true,
			},
			"reply:7 media:doc forward",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.msg.Tags(); got != tt.want {
				t.Errorf("Tags() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewMessageBus(t *testing.T) {
	b := NewMessageBus(3)
	if cap(b.Inbound) != 3 {
		t.Errorf("cap = %d, want 3", cap(b.Inbound))
	}
}
