package stores

import (
	"context"
	"sync"
	"time"
)

// ChangeOp is the kind of mutation a Change reports.
type ChangeOp string

const (
	OpSet    ChangeOp = "set"
	OpDelete ChangeOp = "delete"
)

// Change announces that a document was written or deleted.
type Change struct {
	Collection string    `json:"collection"`
	ID         string    `json:"id"`
	Op         ChangeOp  `json:"op"`
	At         time.Time `json:"at"`
}

// ChangeFeed carries change notifications from writers to watchers.
type ChangeFeed interface {
	Publish(ctx context.Context, c Change) error
	// Subscribe delivers changes of collection until ctx is cancelled, then
	// closes the channel.
	Subscribe(ctx context.Context, collection string) (<-chan Change, error)
	Close() error
}

const feedBuffer = 256

// MemoryFeed fans changes out to in-process subscribers. A subscriber
// whose buffer is full misses the change; watchers re-read current state on
// every change they do receive.
type MemoryFeed struct {
	mu     sync.RWMutex
	subs   map[string]map[chan Change]struct{}
	closed bool
}

func NewMemoryFeed() *MemoryFeed {
	return &MemoryFeed{subs: make(map[string]map[chan Change]struct{})}
}

func (f *MemoryFeed) Publish(ctx context.Context, c Change) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for ch := range f.subs[c.Collection] {
		select {
		case ch <- c:
		default:
		}
	}
	return nil
}

func (f *MemoryFeed) Subscribe(ctx context.Context, collection string) (<-chan Change, error) {
	ch := make(chan Change, feedBuffer)
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		close(ch)
		return ch, nil
	}
	set, ok := f.subs[collection]
	if !ok {
		set = make(map[chan Change]struct{})
		f.subs[collection] = set
	}
	set[ch] = struct{}{}
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		f.remove(collection, ch)
	}()
	return ch, nil
}

func (f *MemoryFeed) remove(collection string, ch chan Change) {
	f.mu.Lock()
	defer f.mu.Unlock()
	set, ok := f.subs[collection]
	if !ok {
		return
	}
	if _, ok := set[ch]; !ok {
		return
	}
	delete(set, ch)
	if len(set) == 0 {
		delete(f.subs, collection)
	}
	close(ch)
}

// Close ends every subscription.
func (f *MemoryFeed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	for _, set := range f.subs {
		for ch := range set {
			close(ch)
		}
	}
	f.subs = make(map[string]map[chan Change]struct{})
	return nil
}

// Subscribers returns the number of live subscriptions on collection.
func (f *MemoryFeed) Subscribers(collection string) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs[collection])
}
