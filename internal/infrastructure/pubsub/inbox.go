package pubsub

import (
	"errors"
	"sync"

	"meetroom/internal/core/signaling"
)

var ErrChannelClosed = errors.New("channel closed")

// inbox decouples publishers from a slow subscriber. Messages are queued
// without bound and handed out in arrival order.
type inbox struct {
	out    chan signaling.Received
	notify chan struct{}
	done   chan struct{}

	mu     sync.Mutex
	queue  []signaling.Received
	closed bool
	once   sync.Once
}

func newInbox() *inbox {
	in := &inbox{
		out:    make(chan signaling.Received),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go in.pump()
	return in
}

func (in *inbox) push(msg signaling.Received) {
	in.mu.Lock()
	if in.closed {
		in.mu.Unlock()
		return
	}
	in.queue = append(in.queue, msg)
	in.mu.Unlock()

	select {
	case in.notify <- struct{}{}:
	default:
	}
}

func (in *inbox) pump() {
	defer close(in.out)
	for {
		in.mu.Lock()
		batch := in.queue
		in.queue = nil
		in.mu.Unlock()

		for _, msg := range batch {
			select {
			case in.out <- msg:
			case <-in.done:
				return
			}
		}

		select {
		case <-in.notify:
		case <-in.done:
			return
		}
	}
}

func (in *inbox) close() {
	in.once.Do(func() {
		in.mu.Lock()
		in.closed = true
		in.queue = nil
		in.mu.Unlock()
		close(in.done)
	})
}
