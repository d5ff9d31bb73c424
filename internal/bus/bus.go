// Package bus is the in-process message bus agents use to talk to each
// other: fire-and-forget sends, broadcasts, and request/reply with timeouts.
package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Topic selects which deliveries a subscriber receives.
type Topic string

const (
	// TopicMessage carries point-to-point sends and requests.
	TopicMessage Topic = "message"
	// TopicBroadcast carries broadcasts.
	TopicBroadcast Topic = "broadcast"
)

// Kind distinguishes plain sends from requests awaiting a reply.
type Kind string

const (
	KindSend      Kind = "send"
	KindBroadcast Kind = "broadcast"
	KindRequest   Kind = "request"
	// KindReply answers a request; CorrelationID holds the request id.
	KindReply Kind = "reply"
)

// Message is one bus delivery.
type Message struct {
	ID            string    `json:"id"`
	Kind          Kind      `json:"kind"`
	From          string    `json:"from"`
	To            string    `json:"to,omitempty"`
	Broadcast     bool      `json:"broadcast"`
	Content       string    `json:"content"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// Defaults applied by New.
const (
	DefaultHistoryLimit   = 100
	DefaultBufferSize     = 64
	DefaultRequestTimeout = 5 * time.Second
	DefaultDeliveryGrace  = 100 * time.Millisecond
)

// ErrRequestTimeout is returned when no reply arrives in time.
var ErrRequestTimeout = errors.New("request timed out")

// ErrClosed is returned by operations on a closed bus.
var ErrClosed = errors.New("bus closed")

// RemoteError is a failure reported by the responder of a request.
type RemoteError struct {
	From    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s", e.From, e.Message)
}

// Handler answers one request.
type Handler func(ctx context.Context, msg Message) (string, error)

type subscriber struct {
	topic  Topic
	filter func(Message) bool
	ch     chan Message
}

type reply struct {
	from    string
	content string
	err     error
}

type pendingRequest struct {
	requester string
	ch        chan reply
}

// Option configures a Bus.
type Option func(*Bus)

// WithHistoryLimit bounds the history FIFO.
func WithHistoryLimit(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.historyLimit = n
		}
	}
}

// WithBufferSize sets each subscriber's channel capacity.
func WithBufferSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.bufferSize = n
		}
	}
}

// WithRequestTimeout sets the timeout used when Request is given zero.
func WithRequestTimeout(d time.Duration) Option {
	return func(b *Bus) {
		if d > 0 {
			b.requestTimeout = d
		}
	}
}

// WithDeliveryGrace sets how long a full subscriber may stall dispatch
// before the message is dropped for it.
func WithDeliveryGrace(d time.Duration) Option {
	return func(b *Bus) {
		b.grace = d
	}
}

// WithLogger sets the bus logger.
func WithLogger(l zerolog.Logger) Option {
	return func(b *Bus) {
		b.log = l
	}
}

// Bus is safe for concurrent use. Dispatch is serialized, so every
// subscriber observes messages in publish order.
type Bus struct {
	historyLimit   int
	bufferSize     int
	requestTimeout time.Duration
	grace          time.Duration
	log            zerolog.Logger

	mu      sync.Mutex
	subs    map[uint64]*subscriber
	nextSub uint64
	history []Message
	closed  bool

	pendingMu sync.Mutex
	pending   map[string]pendingRequest

	dropped atomic.Uint64
}

// New creates a bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		historyLimit:   DefaultHistoryLimit,
		bufferSize:     DefaultBufferSize,
		requestTimeout: DefaultRequestTimeout,
		grace:          DefaultDeliveryGrace,
		log:            zerolog.Nop(),
		subs:           make(map[uint64]*subscriber),
		pending:        make(map[string]pendingRequest),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func newMessage(kind Kind, from, to, content string) Message {
	return Message{
		ID:        uuid.NewString(),
		Kind:      kind,
		From:      from,
		To:        to,
		Broadcast: kind == KindBroadcast,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
}

// Send delivers content from one agent to another.
func (b *Bus) Send(from, to, content string) Message {
	msg := newMessage(KindSend, from, to, content)
	b.publish(TopicMessage, msg)
	return msg
}

// Broadcast delivers content to every broadcast subscriber.
func (b *Bus) Broadcast(from, content string) Message {
	msg := newMessage(KindBroadcast, from, "", content)
	b.publish(TopicBroadcast, msg)
	return msg
}

// Request sends content to an agent and waits for a Reply keyed by the
// request's message id. A zero timeout uses the bus default.
func (b *Bus) Request(ctx context.Context, from, to, content string, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = b.requestTimeout
	}

	msg := newMessage(KindRequest, from, to, content)
	ch := make(chan reply, 1)

	b.pendingMu.Lock()
	b.pending[msg.ID] = pendingRequest{requester: from, ch: ch}
	b.pendingMu.Unlock()

	if !b.publish(TopicMessage, msg) {
		b.forget(msg.ID)
		return "", ErrClosed
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-ch:
		return r.result()
	case <-timer.C:
		if !b.forget(msg.ID) {
			return (<-ch).result()
		}
		return "", fmt.Errorf("%s -> %s after %s: %w", from, to, timeout, ErrRequestTimeout)
	case <-ctx.Done():
		if !b.forget(msg.ID) {
			return (<-ch).result()
		}
		return "", ctx.Err()
	}
}

// forget drops a pending request. It returns false when a Reply already
// claimed it; that reply is then on its way to the request's channel.
func (b *Bus) forget(id string) bool {
	b.pendingMu.Lock()
	defer b.pendingMu.Unlock()
	_, ok := b.pending[id]
	delete(b.pending, id)
	return ok
}

func (r reply) result() (string, error) {
	if r.err != nil {
		return "", &RemoteError{From: r.from, Message: r.err.Error()}
	}
	return r.content, nil
}

// Reply resolves the pending request with the given id. It returns false if
// the request was already resolved, timed out, or never existed.
func (b *Bus) Reply(id, from, content string) bool {
	return b.resolve(id, reply{from: from, content: content})
}

func (b *Bus) resolve(id string, r reply) bool {
	b.pendingMu.Lock()
	p, ok := b.pending[id]
	delete(b.pending, id)
	b.pendingMu.Unlock()
	if !ok {
		return false
	}
	p.ch <- r

	msg := newMessage(KindReply, r.from, p.requester, r.content)
	msg.CorrelationID = id
	if r.err != nil {
		msg.Content = r.err.Error()
	}
	b.publish(TopicMessage, msg)
	return true
}

// Pending returns the number of requests awaiting a reply.
func (b *Bus) Pending() int {
	b.pendingMu.Lock()
	defer b.pendingMu.Unlock()
	return len(b.pending)
}

// Subscribe registers a listener on topic. A nil filter accepts everything.
// The returned cancel func unregisters and closes the channel.
func (b *Bus) Subscribe(topic Topic, filter func(Message) bool) (<-chan Message, func()) {
	sub := &subscriber{
		topic:  topic,
		filter: filter,
		ch:     make(chan Message, b.bufferSize),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	id := b.nextSub
	b.nextSub++
	b.subs[id] = sub
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub.ch)
			}
		})
	}
	return sub.ch, cancel
}

func (b *Bus) publish(topic Topic, msg Message) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}

	if msg.Kind == KindSend || msg.Kind == KindBroadcast {
		b.history = append(b.history, msg)
		if over := len(b.history) - b.historyLimit; over > 0 {
			b.history = append([]Message(nil), b.history[over:]...)
		}
	}

	for _, sub := range b.subs {
		if sub.topic != topic {
			continue
		}
		if sub.filter != nil && !sub.filter(msg) {
			continue
		}
		b.deliver(sub, msg)
	}
	return true
}

// deliver tries an immediate send, then waits out the grace period before
// dropping the message for this subscriber.
func (b *Bus) deliver(sub *subscriber, msg Message) {
	select {
	case sub.ch <- msg:
		return
	default:
	}

	timer := time.NewTimer(b.grace)
	defer timer.Stop()
	select {
	case sub.ch <- msg:
	case <-timer.C:
		count := b.dropped.Add(1)
		if count%10 == 1 {
			b.log.Warn().
				Uint64("dropped_total", count).
				Str("message_id", msg.ID).
				Str("to", msg.To).
				Msg("subscriber full, message dropped")
		}
	}
}

// Dropped returns how many deliveries were dropped to full subscribers.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// History returns the most recent send and broadcast messages, oldest
// first. Requests and replies are delivered but not recorded.
func (b *Bus) History() []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Message(nil), b.history...)
}

// Serve answers requests addressed to agentID until ctx is done. Handler
// errors are returned to the requester as a RemoteError.
func (b *Bus) Serve(ctx context.Context, agentID string, handler Handler) error {
	ch, cancel := b.Subscribe(TopicMessage, func(m Message) bool {
		return m.Kind == KindRequest && m.To == agentID
	})
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return ErrClosed
			}
			content, err := handler(ctx, msg)
			if !b.resolve(msg.ID, reply{from: agentID, content: content, err: err}) {
				b.log.Debug().Str("message_id", msg.ID).Str("agent", agentID).Msg("reply after request expired")
			}
		}
	}
}

// Close closes every subscriber channel. Later publishes are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		close(sub.ch)
		delete(b.subs, id)
	}
}
