package bus

import (
	"context"

	"github.com/yungbote/medialab-backend/internal/realtime"
)

// Bus fans SSE messages out across process instances. The local bus is a
// no-op passthrough; the redis bus bridges instances via pub/sub.
type Bus interface {
	Publish(ctx context.Context, msg realtime.SSEMessage) error
	StartForwarder(ctx context.Context, onMsg func(m realtime.SSEMessage)) error
	Close() error
}

type localBus struct {
	onMsg func(m realtime.SSEMessage)
}

func NewLocalBus() Bus { return &localBus{} }

func (b *localBus) Publish(ctx context.Context, msg realtime.SSEMessage) error {
	if b.onMsg != nil {
		b.onMsg(msg)
	}
	return nil
}

func (b *localBus) StartForwarder(ctx context.Context, onMsg func(m realtime.SSEMessage)) error {
	b.onMsg = onMsg
	return nil
}

func (b *localBus) Close() error { return nil }
