package repository

import (
	"sync"

	"github.com/abdelhakim-sahifa/ESTT-community-sub002/internal/model"
)

// subscriberBuffer is how many messages a stream may lag behind before
// further messages are dropped for it.
const subscriberBuffer = 16

// fanout hands chat messages to in-process subscribers keyed by channel.
type fanout struct {
	mu   sync.Mutex
	subs map[string]map[chan model.Message]struct{}
	n    int
}

func newFanout() *fanout {
	return &fanout{subs: make(map[string]map[chan model.Message]struct{})}
}

// add registers a subscriber for key.
func (f *fanout) add(key string) chan model.Message {
	ch := make(chan model.Message, subscriberBuffer)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subs[key] == nil {
		f.subs[key] = make(map[chan model.Message]struct{})
	}
	f.subs[key][ch] = struct{}{}
	f.n++
	return ch
}

// remove closes ch if it is still registered and returns how many
// subscribers remain across all keys.
func (f *fanout) remove(key string, ch chan model.Message) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.subs[key][ch]; ok {
		delete(f.subs[key], ch)
		if len(f.subs[key]) == 0 {
			delete(f.subs, key)
		}
		close(ch)
		f.n--
	}
	return f.n
}

// wants reports whether anyone is subscribed to key.
func (f *fanout) wants(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs[key]) > 0
}

// publish delivers m to the subscribers of its channel without blocking.
func (f *fanout) publish(m model.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subs[m.ChannelKey] {
		select {
		case ch <- m:
		default:
		}
	}
}

// closeAll ends every subscription.
func (f *fanout) closeAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for key, chans := range f.subs {
		for ch := range chans {
			close(ch)
		}
		delete(f.subs, key)
	}
	f.n = 0
}
