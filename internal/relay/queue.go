package relay

import (
	"sync"
	"time"
)

type popStatus int

const (
	popItem popStatus = iota
	popEnd
	popTimeout
)

// sentenceQueue is the unbounded ordered handoff between the event receiver
// (producer) and the synthesis worker (consumer). The end mark acts as the
// sentinel: it is only honored once every queued sentence has been popped, so
// audio already segmented is never dropped by a racing end-of-turn.
type sentenceQueue struct {
	mu     sync.Mutex
	items  []string
	ended  bool
	notify chan struct{}
}

func newSentenceQueue() *sentenceQueue {
	return &sentenceQueue{notify: make(chan struct{}, 1)}
}

func (q *sentenceQueue) push(s string) {
	q.mu.Lock()
	q.items = append(q.items, s)
	q.mu.Unlock()
	q.wake()
}

// end marks the queue as finished. Items pushed before end still drain first.
func (q *sentenceQueue) end() {
	q.mu.Lock()
	q.ended = true
	q.mu.Unlock()
	q.wake()
}

func (q *sentenceQueue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// pop returns the next sentence, or popEnd once the queue is both ended and
// empty, or popTimeout after the bounded wait so the caller can re-check its
// own cancellation state before retrying.
func (q *sentenceQueue) pop(timeout time.Duration) (string, popStatus) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return item, popItem
		}
		if q.ended {
			q.mu.Unlock()
			return "", popEnd
		}
		q.mu.Unlock()

		select {
		case <-q.notify:
		case <-deadline.C:
			return "", popTimeout
		}
	}
}

func (q *sentenceQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
