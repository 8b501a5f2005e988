package channel

import (
	"context"
	"strconv"

	"github.com/stellarlinkco/geminibot/internal/bus"
)

type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
}

// BaseChannel carries what every transport needs: its name, the bus it
// publishes to and an optional sender allow-list.
type BaseChannel struct {
	name      string
	bus       *bus.MessageBus
	allowFrom map[string]bool
}

func NewBaseChannel(name string, b *bus.MessageBus, allowFrom []string) BaseChannel {
	allowed := make(map[string]bool, len(allowFrom))
	for _, id := range allowFrom {
		allowed[id] = true
	}
	return BaseChannel{name: name, bus: b, allowFrom: allowed}
}

func (c *BaseChannel) Name() string { return c.name }

// IsAllowed reports whether senderID may reach the bot. An empty list
// allows everyone.
func (c *BaseChannel) IsAllowed(senderID int64) bool {
	if len(c.allowFrom) == 0 {
		return true
	}
	return c.allowFrom[strconv.FormatInt(senderID, 10)]
}
