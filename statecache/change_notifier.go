package statecache

import (
	"context"
	"sync"
)

// ChangeNotifier is a simple in-process pub-sub used to signal that a fresh
// snapshot replaced the current one, so transports can push
// resource-updated notifications to connected clients.
type ChangeNotifier struct {
	subscribers   []chan struct{}
	subscribersMu sync.RWMutex
	closed        bool
}

// ChangeSubscriber is implemented by anything that can hand out snapshot
// change channels; the Cache satisfies it.
type ChangeSubscriber interface {
	Subscriber() <-chan struct{}
}

// Notify signals all registered listeners. Delivery is best-effort: sends
// are non-blocking so a slow consumer cannot stall the refresh loop.
func (cn *ChangeNotifier) Notify(ctx context.Context) error {
	cn.subscribersMu.RLock()
	defer cn.subscribersMu.RUnlock()

	if cn.closed {
		return nil
	}
	for _, ch := range cn.subscribers {
		select {
		case ch <- struct{}{}:
		default:
			// drop if subscriber is backed up
		}
	}
	return nil
}

// Subscriber returns a channel that receives a signal whenever Notify is
// called. The channel is buffered with capacity 1; coalesced signals are
// fine since consumers re-read the snapshot anyway.
func (cn *ChangeNotifier) Subscriber() <-chan struct{} {
	cn.subscribersMu.Lock()
	defer cn.subscribersMu.Unlock()

	if cn.closed {
		ch := make(chan struct{})
		close(ch)
		return ch
	}

	ch := make(chan struct{}, 1)
	cn.subscribers = append(cn.subscribers, ch)
	return ch
}

// Close closes all subscriber channels. Further Notify calls are no-ops and
// further Subscriber calls return closed channels.
func (cn *ChangeNotifier) Close() {
	cn.subscribersMu.Lock()
	if cn.closed {
		cn.subscribersMu.Unlock()
		return
	}
	cn.closed = true
	subs := cn.subscribers
	cn.subscribers = nil
	cn.subscribersMu.Unlock()

	for _, ch := range subs {
		close(ch)
	}
}
