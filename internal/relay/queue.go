// Package relay is the client side of the audio bridge. It owns the single
// connection to the peer, keeps it alive, and runs the sender and receiver
// pipelines over it.
//
// Captured frames enter through [Queue.Push], which is safe to call from a
// hardware callback. A [Manager] dials the peer, starts one sender and one
// receiver per connection generation, pings the peer, and reconnects with
// exponential backoff when the connection is lost. Received frames are
// written to a playback stream and optionally recorded by a [CaptureSession].
package relay

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MrWong99/voicebridge/pkg/audio"
)

// DefaultQueueSize is the queue capacity used when none is configured. At the
// default buffer size this holds roughly 1.5s of captured audio.
const DefaultQueueSize = 64

// ErrPopTimeout is returned by [Queue.Pop] when no frame arrived in time.
var ErrPopTimeout = errors.New("relay: no frame within timeout")

// Queue is a bounded FIFO of captured frames shared between the capture
// callback (producer) and the sender loop (consumer).
//
// Push never blocks. When the queue is full the oldest frame is discarded to
// make room, so latency stays bounded if the connection stalls.
type Queue struct {
	mu      sync.Mutex
	frames  []audio.AudioFrame
	head    int
	size    int
	dropped int64
	ready   chan struct{}

	// OnDrop, when set, is called once per discarded frame, outside the lock.
	OnDrop func()
}

// NewQueue returns an empty queue holding at most capacity frames.
// capacity ≤ 0 selects [DefaultQueueSize].
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueSize
	}
	return &Queue{
		frames: make([]audio.AudioFrame, capacity),
		ready:  make(chan struct{}, 1),
	}
}

// Push appends f, discarding the oldest queued frame when full.
func (q *Queue) Push(f audio.AudioFrame) {
	q.mu.Lock()
	dropped := false
	if q.size == len(q.frames) {
		q.frames[q.head] = audio.AudioFrame{}
		q.head = (q.head + 1) % len(q.frames)
		q.size--
		q.dropped++
		dropped = true
	}
	q.frames[(q.head+q.size)%len(q.frames)] = f
	q.size++
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	if dropped && q.OnDrop != nil {
		q.OnDrop()
	}
}

// Pop removes and returns the oldest frame. It waits up to timeout for one to
// arrive and returns [ErrPopTimeout] if none does, or ctx.Err() if ctx ends
// first.
func (q *Queue) Pop(ctx context.Context, timeout time.Duration) (audio.AudioFrame, error) {
	if f, ok := q.tryPop(); ok {
		return f, nil
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return audio.AudioFrame{}, ctx.Err()
		case <-timer.C:
			if f, ok := q.tryPop(); ok {
				return f, nil
			}
			return audio.AudioFrame{}, ErrPopTimeout
		case <-q.ready:
			if f, ok := q.tryPop(); ok {
				return f, nil
			}
		}
	}
}

func (q *Queue) tryPop() (audio.AudioFrame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.size == 0 {
		return audio.AudioFrame{}, false
	}
	f := q.frames[q.head]
	q.frames[q.head] = audio.AudioFrame{}
	q.head = (q.head + 1) % len(q.frames)
	q.size--
	if q.size > 0 {
		// Keep the signal armed for the next waiter.
		select {
		case q.ready <- struct{}{}:
		default:
		}
	}
	return f, true
}

// Len returns the number of queued frames.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Cap returns the maximum number of queued frames.
func (q *Queue) Cap() int { return len(q.frames) }

// Dropped returns how many frames have been discarded since creation.
func (q *Queue) Dropped() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
