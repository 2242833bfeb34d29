// Package event provides typed observer lists owned by the emitting component.
package event

import (
	"sort"
	"sync"
)

// Observers is a list of subscribers for one event type. The zero value is ready to use.
type Observers[T any] struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]func(T)
}

// Subscribe registers fn and returns a function that removes it again
func (o *Observers[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.subs == nil {
		o.subs = make(map[int]func(T))
	}
	id := o.nextID
	o.nextID++
	o.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			o.mu.Lock()
			delete(o.subs, id)
			o.mu.Unlock()
		})
	}
}

// Emit calls every subscriber synchronously in subscription order.
// Subscribers may unsubscribe from inside the callback.
func (o *Observers[T]) Emit(v T) {
	o.mu.RLock()
	ids := make([]int, 0, len(o.subs))
	for id := range o.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(T), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, o.subs[id])
	}
	o.mu.RUnlock()

	for _, fn := range fns {
		fn(v)
	}
}

// Len returns the number of subscribers
func (o *Observers[T]) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.subs)
}
