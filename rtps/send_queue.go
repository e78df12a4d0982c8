package rtps

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rtps/rtps/history"
	"github.com/go-rtps/rtps/rtpserr"
	"github.com/sirupsen/logrus"
)

// sendQueue is the bounded single-producer/single-consumer queue
// behind a writer in ASYNCHRONOUS publish mode (spec.md §9). Grounded
// on the teacher's destinationUpdateQueue
// (controller/api/destination/update_queue.go): a buffered channel
// guarded by atomic closed/overflow flags and a sync.Once-protected
// Close.
//
// The overflow policy differs from the teacher on purpose: the
// teacher's Enqueue fails fast and tears down the whole stream on a
// full queue, which fits its one-shot watch-stream lifecycle. A
// writer's send queue instead must let the publishing application
// block up to a configured maximum before giving up on that one
// sample, per spec.md §9, so Enqueue blocks on the channel send with a
// timer rather than using a non-blocking select.
type sendQueue struct {
	changes chan *history.CacheChange
	done    chan struct{}
	closed  atomic.Bool
	once    sync.Once
	log     *logrus.Entry
}

func newSendQueue(capacity int, log *logrus.Entry) *sendQueue {
	return &sendQueue{
		changes: make(chan *history.CacheChange, capacity),
		done:    make(chan struct{}),
		log:     log.WithField("component", "send-queue"),
	}
}

// Enqueue blocks until c is accepted, the queue closes, ctx is
// cancelled, or maxBlockingTime elapses, in which case it returns
// rtpserr.Timeout (spec.md §9 overflow policy). The underlying channel
// is never closed while a producer might still send on it; Close only
// signals done, so there is no send-on-closed-channel race here.
func (q *sendQueue) Enqueue(ctx context.Context, c *history.CacheChange, maxBlockingTime time.Duration) error {
	if q.closed.Load() {
		return rtpserr.New(rtpserr.PreconditionNotMet, "send queue closed")
	}
	var timer <-chan time.Time
	if maxBlockingTime > 0 {
		t := time.NewTimer(maxBlockingTime)
		defer t.Stop()
		timer = t.C
	}
	select {
	case q.changes <- c:
		return nil
	case <-timer:
		q.log.Warnf("send queue full, dropping sample seq=%d after %s", c.SequenceNumber, maxBlockingTime)
		return rtpserr.New(rtpserr.Timeout, "send queue full after %s", maxBlockingTime)
	case <-ctx.Done():
		return ctx.Err()
	case <-q.done:
		return rtpserr.New(rtpserr.PreconditionNotMet, "send queue closed")
	}
}

// Forward drains the queue, calling send for each change in order,
// until ctx is cancelled or Close is called and the queue is fully
// drained.
func (q *sendQueue) Forward(ctx context.Context, send func(*history.CacheChange)) {
	for {
		select {
		case c := <-q.changes:
			send(c)
		case <-ctx.Done():
			q.drain(send)
			return
		case <-q.done:
			q.drain(send)
			return
		}
	}
}

func (q *sendQueue) drain(send func(*history.CacheChange)) {
	for {
		select {
		case c := <-q.changes:
			send(c)
		default:
			return
		}
	}
}

// Close stops accepting new changes. Safe to call more than once.
func (q *sendQueue) Close() {
	q.once.Do(func() {
		q.closed.Store(true)
		close(q.done)
	})
}
