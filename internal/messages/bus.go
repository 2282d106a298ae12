package messages

import (
	"context"
	"io"
	"log/slog"
	"slices"
	"sync"
)

// Handler answers one request. It should return when ctx is done.
type Handler func(ctx context.Context, msg Message) Response

// Bus routes requests to one handler per message type and fans posted
// messages out to subscribers.
type Bus struct {
	mu          sync.RWMutex
	handlers    map[Type]Handler
	subscribers []chan Message
	logger      *slog.Logger
}

func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Bus{
		handlers: make(map[Type]Handler),
		logger:   logger,
	}
}

// Handle registers h for t, replacing any earlier handler.
func (b *Bus) Handle(t Type, h Handler) {
	b.mu.Lock()
	b.handlers[t] = h
	b.mu.Unlock()
}

// Request delivers msg to its handler and waits for the answer or for ctx.
func (b *Bus) Request(ctx context.Context, msg Message) Response {
	b.mu.RLock()
	h, ok := b.handlers[msg.Type]
	b.mu.RUnlock()
	if !ok {
		return Response{OK: false, Error: "Unknown message type"}
	}

	done := make(chan Response, 1)
	go func() {
		done <- h(ctx, msg)
	}()

	select {
	case resp := <-done:
		return resp
	case <-ctx.Done():
		return Fail(ctx.Err())
	}
}

// Subscribe returns a channel receiving every posted message. Messages are
// dropped for a subscriber whose buffer is full.
func (b *Bus) Subscribe(buffer int) <-chan Message {
	ch := make(chan Message, buffer)
	b.mu.Lock()
	b.subscribers = append(b.subscribers, ch)
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes a subscription.
func (b *Bus) Unsubscribe(sub <-chan Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, ch := range b.subscribers {
		if (<-chan Message)(ch) == sub {
			b.subscribers = slices.Delete(b.subscribers, i, i+1)
			close(ch)
			return
		}
	}
}

// Post is fire-and-forget: it never blocks the caller.
func (b *Bus) Post(msg Message) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- msg:
		default:
			b.logger.Debug("dropping message for slow subscriber", "type", msg.Type)
		}
	}
}

// Close closes every subscription.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subscribers {
		close(ch)
	}
	b.subscribers = nil
}
