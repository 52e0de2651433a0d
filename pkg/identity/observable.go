package identity

import "sync"

// Observable holds a value and notifies subscribers when it changes.
// Subscribers run synchronously on the writer's goroutine, outside the lock,
// in subscription order.
type Observable[T comparable] struct {
	mu          sync.RWMutex
	value       T
	subscribers map[int]func(T)
	order       []int
	nextID      int
}

// NewObservable creates an observable holding initial
func NewObservable[T comparable](initial T) *Observable[T] {
	return &Observable[T]{
		value:       initial,
		subscribers: make(map[int]func(T)),
	}
}

// Get returns the current value
func (o *Observable[T]) Get() T {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.value
}

// Set stores v and notifies subscribers if it differs from the current value.
// Reports whether the value changed.
func (o *Observable[T]) Set(v T) bool {
	_, changed := o.Update(func(T) (T, bool) { return v, true })
	return changed
}

// Update calls fn with the current value under the write lock. fn returns
// the next value and whether to store it, so a check and the write it
// guards cannot be split by another writer. Subscribers are notified when
// the stored value changed. Returns the previous value and whether it changed.
func (o *Observable[T]) Update(fn func(current T) (T, bool)) (T, bool) {
	o.mu.Lock()
	prev := o.value
	next, ok := fn(prev)
	if !ok || next == prev {
		o.mu.Unlock()
		return prev, false
	}
	o.value = next
	subscribers := o.snapshotLocked()
	o.mu.Unlock()

	for _, fn := range subscribers {
		fn(next)
	}
	return prev, true
}

// Subscribe registers fn for future changes and returns a function that
// removes it
func (o *Observable[T]) Subscribe(fn func(T)) func() {
	o.mu.Lock()
	defer o.mu.Unlock()

	id := o.nextID
	o.nextID++
	o.subscribers[id] = fn
	o.order = append(o.order, id)

	var once sync.Once
	return func() {
		once.Do(func() {
			o.mu.Lock()
			defer o.mu.Unlock()
			delete(o.subscribers, id)
			for i, existing := range o.order {
				if existing == id {
					o.order = append(o.order[:i], o.order[i+1:]...)
					break
				}
			}
		})
	}
}

func (o *Observable[T]) snapshotLocked() []func(T) {
	fns := make([]func(T), 0, len(o.order))
	for _, id := range o.order {
		fns = append(fns, o.subscribers[id])
	}
	return fns
}
