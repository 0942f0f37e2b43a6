package server

import (
	"sync"
	"sync/atomic"
)

// packet is one unit of queued output.
type packet struct {
	payload []byte
	debug   string

	// suspendWrite pauses the send loop right after this packet is
	// written, before the next one is taken.
	suspendWrite bool

	// done receives the delivery result once, then is closed. nil for
	// fire-and-forget sends.
	done chan error
	once sync.Once
}

func newPacket(payload []byte, debug string, await bool) *packet {
	p := &packet{payload: payload, debug: debug}
	if await {
		p.done = make(chan error, 1)
	}
	return p
}

// resolve reports the delivery result. Only the first call has an effect.
func (p *packet) resolve(err error) {
	if p.done == nil {
		return
	}
	p.once.Do(func() {
		p.done <- err
		close(p.done)
	})
}

// sendQueue is an unbounded FIFO with many producers and one consumer,
// the connection's send loop.
type sendQueue struct {
	mu     sync.Mutex
	items  []*packet
	sealed bool
	closed bool

	// notify has capacity 1 so a push between the consumer's empty check
	// and its wait is never lost.
	notify chan struct{}

	// pending counts packets pushed but not yet acknowledged by the consumer.
	pending atomic.Int64
}

func newSendQueue() *sendQueue {
	return &sendQueue{notify: make(chan struct{}, 1)}
}

// push appends p. It fails once the queue is sealed or closed.
func (q *sendQueue) push(p *packet) bool {
	q.mu.Lock()
	if q.sealed || q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, p)
	q.pending.Add(1)
	q.mu.Unlock()
	q.signal()
	return true
}

// pushFinal appends p and seals the queue against further pushes.
func (q *sendQueue) pushFinal(p *packet) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.sealed = true
	q.items = append(q.items, p)
	q.pending.Add(1)
	q.mu.Unlock()
	q.signal()
	return true
}

// seal refuses further pushes without closing the queue.
func (q *sendQueue) seal() {
	q.mu.Lock()
	q.sealed = true
	q.mu.Unlock()
}

// pop removes the oldest packet. The consumer must call ack after writing it.
func (q *sendQueue) pop() (*packet, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	p := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return p, true
}

func (q *sendQueue) ack() {
	q.pending.Add(-1)
}

// drained reports whether every pushed packet has been written or dropped.
func (q *sendQueue) drained() bool {
	return q.pending.Load() <= 0
}

func (q *sendQueue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func (q *sendQueue) wait() <-chan struct{} {
	return q.notify
}

func (q *sendQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// close stops the queue and returns the packets that were never popped.
func (q *sendQueue) close() []*packet {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.sealed = true
	rest := q.items
	q.items = nil
	q.pending.Add(-int64(len(rest)))
	q.mu.Unlock()
	q.signal()
	return rest
}

// len returns the number of packets waiting to be popped.
func (q *sendQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
