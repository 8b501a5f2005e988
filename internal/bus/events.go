package bus

import (
	"fmt"
	"strings"
	"time"

	"github.com/stellarlinkco/geminibot/internal/media"
)

// Attachment is a file carried by a chat message, not yet downloaded.
type Attachment struct {
	Kind     media.Kind
	FileID   string
	MIMEType string
	FileName string
}

type InboundMessage struct {
	ChatID     int64
	MessageID  int
	SenderID   int64
	Author     string
	Text       string
	Timestamp  time.Time
	Forwarded  bool
	ReplyTo    *InboundMessage
	Attachment *Attachment
}

// Tags renders the free-form tag string stored with the message.
func (m *InboundMessage) Tags() string {
	var tags []string
	if m.ReplyTo != nil {
		tags = append(tags, fmt.Sprintf("reply:%d", m.ReplyTo.MessageID))
	}
	if m.Attachment != nil {
		tags = append(tags, "media:"+m.Attachment.Kind.String())
	}
	if m.Forwarded {
		tags = append(tags, "forward")
	}
	return strings.Join(tags, " ")
}

type OutboundMessage struct {
	ChatID  int64
	ReplyTo int
	Content string
}

type MessageBus struct {
	Inbound chan InboundMessage
}

func NewMessageBus(bufSize int) *MessageBus {
	return &MessageBus{
		Inbound: make(chan InboundMessage, bufSize),
	}
}
