package ingest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/valyala/bytebufferpool"
)

// OpType represents an operation kind for the write pipeline.
type OpType string

const (
	OpSend       OpType = "send"
	OpDelete     OpType = "delete"
	OpMarkRead   OpType = "mark_read"
	OpPresence   OpType = "presence"
	OpCreateChat OpType = "create_chat"
)

// ErrQueueFull is returned by TryEnqueue when the queue is at capacity.
var ErrQueueFull = errors.New("ingest queue full")

// ErrQueueClosed is returned once CloseAndDrain has run. Late producers
// (a typing self-clear timer that fired during shutdown) get this instead
// of a panic on the closed channel.
var ErrQueueClosed = errors.New("ingest queue closed")

// Op is the in-memory representation of one write intent. Payload may be
// backed by a pooled buffer; consumers must call Item.Done() when finished.
type Op struct {
	Type OpType
	// Chat is the target conversation, where applicable.
	Chat string
	// ID is the target message id for deletes.
	ID string
	// User is the acting user for permission checks and read stamps.
	User string
	// Payload holds the op's JSON body (message draft, presence patch,
	// conversation).
	Payload []byte
	// EnqSeq is a monotonic enqueue sequence assigned on acceptance, used
	// for deterministic ordering.
	EnqSeq uint64
	// Result, when non-nil, receives exactly one apply outcome. Callers
	// that need synchronous errors pass a buffered channel; fire-and-forget
	// callers leave it nil.
	Result chan error
}

// finish reports the apply outcome without ever blocking the applier.
func (op *Op) finish(err error) {
	if op.Result == nil {
		return
	}
	select {
	case op.Result <- err:
	default:
	}
}

// Item wraps an Op and owns a pooled buffer if one was used. Consumers MUST
// call Done() exactly once after processing.
type Item struct {
	Op *Op

	buf  *bytebufferpool.ByteBuffer
	once sync.Once
}

// maxPooledBuffer caps what is returned to the buffer pool so one huge
// payload cannot pin resident memory.
const maxPooledBuffer = 256 * 1024

var opPool = sync.Pool{New: func() any { return &Op{} }}

// Done releases pooled resources back to their pools.
func (it *Item) Done() {
	it.once.Do(func() {
		if it.buf != nil {
			if cap(it.buf.B) > maxPooledBuffer {
				it.buf = nil
			} else {
				bytebufferpool.Put(it.buf)
				it.buf = nil
			}
		}
		if it.Op != nil {
			it.Op.Payload = nil
			it.Op.Result = nil
			opPool.Put(it.Op)
			it.Op = nil
		}
	})
}

// Queue is a bounded in-memory queue between the operation layer and the
// applier. Safe for concurrent producers; drained by a single consumer.
type Queue struct {
	ch       chan *Item
	capacity int
	dropped  uint64
	enqSeq   uint64

	// mu guards closed. Producers hold the read side across their channel
	// send so CloseAndDrain cannot close q.ch mid-enqueue.
	mu     sync.RWMutex
	closed bool
}

// NewQueue creates a bounded Queue. Non-positive capacities fall back to a
// small default.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Queue{ch: make(chan *Item, capacity), capacity: capacity}
}

// Out returns the consumer side of the queue. Do not close it from callers.
func (q *Queue) Out() <-chan *Item { return q.ch }

func (q *Queue) prepare(op *Op) *Item {
	newOp := opPool.Get().(*Op)
	*newOp = *op
	newOp.EnqSeq = atomic.AddUint64(&q.enqSeq, 1)

	var bb *bytebufferpool.ByteBuffer
	if len(op.Payload) > 0 {
		bb = bytebufferpool.Get()
		bb.B = append(bb.B[:0], op.Payload...)
		newOp.Payload = bb.B[:len(op.Payload)]
	}
	return &Item{Op: newOp, buf: bb}
}

func (q *Queue) release(it *Item) {
	atomic.AddUint64(&q.dropped, 1)
	it.Done()
}

// TryEnqueue attempts a non-blocking enqueue, copying the payload into a
// pooled buffer. Returns ErrQueueFull when at capacity and ErrQueueClosed
// after shutdown.
func (q *Queue) TryEnqueue(op *Op) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		atomic.AddUint64(&q.dropped, 1)
		return ErrQueueClosed
	}
	it := q.prepare(op)
	select {
	case q.ch <- it:
		return nil
	default:
		q.release(it)
		return ErrQueueFull
	}
}

// Enqueue blocks until space is available or ctx is done. The read lock is
// held across the wait; the consumer keeps draining until CloseAndDrain
// acquires the write lock, so blocked producers are not starved.
func (q *Queue) Enqueue(ctx context.Context, op *Op) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		atomic.AddUint64(&q.dropped, 1)
		return ErrQueueClosed
	}
	it := q.prepare(op)
	select {
	case q.ch <- it:
		return nil
	case <-ctx.Done():
		q.release(it)
		return ctx.Err()
	}
}

// CloseAndDrain marks the queue closed, then closes the channel and
// releases any remaining items. Pending synchronous callers are failed
// with ErrQueueClosed. Safe to call once; later producers get
// ErrQueueClosed instead of a send on a closed channel.
func (q *Queue) CloseAndDrain() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()
	for it := range q.ch {
		it.Op.finish(ErrQueueClosed)
		it.Done()
	}
}

// Len returns the number of queued items.
func (q *Queue) Len() int { return len(q.ch) }

// Cap returns the configured capacity.
func (q *Queue) Cap() int { return q.capacity }

// Dropped returns how many operations were rejected or abandoned.
func (q *Queue) Dropped() uint64 { return atomic.LoadUint64(&q.dropped) }
