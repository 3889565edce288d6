package pty

import "sync"

// Chunk is one unit of PTY output delivered to a subscriber, or a lag
// marker when the subscriber fell behind and some bytes were dropped on its
// behalf.
type Chunk struct {
	Data    []byte
	Lagged  bool
	Dropped int
}

// Receiver is an independent view of a Broadcaster's output stream,
// starting from the point of Subscribe. It never blocks the producer: if
// the receiver's buffer fills, the broadcaster drops the oldest undelivered
// chunk for that receiver and queues a lag marker in place of the new chunk,
// counting the bytes the receiver missed.
type Receiver struct {
	ch <-chan Chunk
}

// Recv blocks until a chunk is available or the broadcaster is closed, in
// which case ok is false.
func (r *Receiver) Recv() (Chunk, bool) {
	c, ok := <-r.ch
	return c, ok
}

// C exposes the underlying channel for use in a select statement.
func (r *Receiver) C() <-chan Chunk { return r.ch }

// Broadcaster fans PTY output to any number of subscribers while
// maintaining one scrollback ring. feed never blocks on a slow subscriber:
// subscribers that fall behind skip forward rather than stall the PTY
// reader or other subscribers.
type Broadcaster struct {
	scrollback      *Scrollback
	channelCapacity int

	mu   sync.Mutex
	subs map[int]chan Chunk
	next int
	closed bool
}

// NewBroadcaster constructs a Broadcaster with the given scrollback ring
// capacity (bytes) and per-subscriber channel capacity (chunks).
func NewBroadcaster(scrollbackCapacity, channelCapacity int) *Broadcaster {
	return &Broadcaster{
		scrollback:      NewScrollback(scrollbackCapacity),
		channelCapacity: channelCapacity,
		subs:            make(map[int]chan Chunk),
	}
}

// Subscribe returns a new independent Receiver. Safe to call concurrently
// with Feed.
func (b *Broadcaster) Subscribe() *Receiver {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Chunk, b.channelCapacity)
	if b.closed {
		close(ch)
		return &Receiver{ch: ch}
	}
	id := b.next
	b.next++
	b.subs[id] = ch
	return &Receiver{ch: ch}
}

// ScrollbackContents returns a snapshot of the ring.
func (b *Broadcaster) ScrollbackContents() []byte {
	return b.scrollback.Contents()
}

// Feed pushes data into the scrollback ring and emits it to every live
// subscriber. A subscriber with a full channel is sent a lag marker instead
// of blocking the caller. Safe for a single concurrent caller (the PTY
// reader); Subscribe/ReceiverCount may be called concurrently with it.
func (b *Broadcaster) Feed(data []byte) {
	if len(data) == 0 {
		return
	}
	b.scrollback.Push(data)

	cp := make([]byte, len(data))
	copy(cp, data)

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- Chunk{Data: cp}:
		default:
			// Subscriber's channel is full: drop its oldest undelivered chunk
			// to make room, then queue a lag marker in place of this chunk.
			dropped := len(cp)
			select {
			case old := <-ch:
				dropped += len(old.Data) + old.Dropped
			default:
			}
			select {
			case ch <- Chunk{Lagged: true, Dropped: dropped}:
			default:
			}
		}
	}
}

// ReceiverCount reports the number of live subscribers, for diagnostics.
func (b *Broadcaster) ReceiverCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close closes every subscriber channel and marks the broadcaster closed;
// subsequent Subscribe calls return an already-closed Receiver. Called once
// the session's PTY has exited.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}
