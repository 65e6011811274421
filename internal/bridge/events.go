package bridge

import (
	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"
	"code.hybscloud.com/lfq"
	"github.com/rs/zerolog"
)

// EventKind tags an Event.
type EventKind uint8

const (
	EventData EventKind = iota + 1
	EventError
	EventClosed
)

// Event is produced by the I/O loop. Closed is always the last event of a session.
type Event struct {
	Kind    EventKind
	Data    []byte
	Message string
}

// Notifier receives a session's consumer-visible notifications, in order,
// from a single goroutine. Closed is called exactly once per session.
type Notifier interface {
	Output(text string)
	Error(message string)
	Closed(message string)
}

// eventChannel is the bounded single-producer single-consumer mailbox from
// the I/O loop to the event bridge. The producer never blocks on Data or
// Error; those are dropped when the queue is full.
type eventChannel struct {
	q       lfq.SPSC[Event]
	wake    chan struct{}
	dropped atomix.Uint64

	// consumerGone is closed when the event bridge stops consuming.
	consumerGone chan struct{}
}

func newEventChannel(capacity int) *eventChannel {
	c := &eventChannel{
		wake:         make(chan struct{}, 1),
		consumerGone: make(chan struct{}),
	}
	c.q.Init(capacity)
	return c
}

// publish enqueues ev without waiting. It reports false if ev was dropped.
func (c *eventChannel) publish(ev Event) bool {
	if err := c.q.Enqueue(&ev); err != nil {
		c.dropped.Add(1)
		return false
	}
	c.signal()
	return true
}

// publishClosed retries until the terminal event is accepted or the consumer is gone.
func (c *eventChannel) publishClosed(ev Event) {
	var bo iox.Backoff
	for {
		if err := c.q.Enqueue(&ev); err == nil {
			c.signal()
			return
		}
		select {
		case <-c.consumerGone:
			return
		default:
		}
		bo.Wait()
	}
}

func (c *eventChannel) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// next blocks until an event is available. It reports false once the
// producer has exited and the queue is drained.
func (c *eventChannel) next(producerDone <-chan struct{}) (Event, bool) {
	for {
		ev, err := c.q.Dequeue()
		if err == nil {
			return ev, true
		}
		select {
		case <-c.wake:
		case <-producerDone:
			if ev, err := c.q.Dequeue(); err == nil {
				return ev, true
			}
			return Event{}, false
		}
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (c *eventChannel) Dropped() uint64 {
	return c.dropped.Load()
}

// eventBridge turns one session's events into notifications and retires the
// registry entry when the session ends.
type eventBridge struct {
	events       *eventChannel
	producerDone <-chan struct{}
	notifier     Notifier
	registry     *Registry
	token        uint32
	decoder      *Decoder
	log          zerolog.Logger
}

func (b *eventBridge) run() {
	defer close(b.events.consumerGone)

	for {
		ev, ok := b.events.next(b.producerDone)
		if !ok {
			// Loop exited without a Closed event reaching the queue.
			b.finish(MsgUnexpectedClosed)
			return
		}

		switch ev.Kind {
		case EventData:
			text, err := b.decoder.Decode(ev.Data)
			if text != "" {
				b.notifier.Output(text)
			}
			if err != nil {
				b.notifier.Error(err.Error())
			}
		case EventError:
			b.notifier.Error(ev.Message)
		case EventClosed:
			b.finish(ev.Message)
			return
		}
	}
}

func (b *eventBridge) finish(message string) {
	if err := b.decoder.Flush(); err != nil {
		b.notifier.Error(err.Error())
	}
	if dropped := b.events.Dropped(); dropped > 0 {
		b.log.Warn().Uint64("dropped", dropped).Msg("events dropped under backpressure")
	}
	b.notifier.Closed(message)

	if s := b.registry.TakeIf(b.token); s != nil {
		b.log.Debug().Uint32("serial", b.token).Msg("session retired after close")
	}
}
