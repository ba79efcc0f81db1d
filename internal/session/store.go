// Package session holds the current token set of a process and broadcasts every change.
//
// A Store is constructed explicitly at startup and handed to whoever needs it; there is
// no package-level instance. Only the auth manager is expected to call Swap.
package session

import (
	"fmt"
	"slices"
	"sync"

	"github.com/florianilch/dashauth/internal/tokens"
)

// Listener is a subscription handle. Handles compare by identity, which makes
// subscribing the same handle twice a no-op.
type Listener struct {
	fn func(*tokens.Set)
}

// NewListener wraps fn in a handle that can be passed to Subscribe.
func NewListener(fn func(*tokens.Set)) *Listener {
	return &Listener{fn: fn}
}

// Store holds the current token set and its subscribers. Safe for concurrent use.
type Store struct {
	mu        sync.Mutex
	current   *tokens.Set
	listeners []*Listener
}

// NewStore returns a Store holding initial.
func NewStore(initial *tokens.Set) (*Store, error) {
	if initial == nil {
		return nil, fmt.Errorf("%w: nil initial token set", tokens.ErrInvalidTokenSet)
	}
	return &Store{current: initial}, nil
}

// Get returns the current token set.
func (s *Store) Get() *tokens.Set {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Swap replaces the current set and notifies subscribers synchronously, in subscription
// order. Listeners subscribed while a dispatch is running are not part of that dispatch.
func (s *Store) Swap(next *tokens.Set) error {
	if next == nil {
		return fmt.Errorf("%w: nil token set", tokens.ErrInvalidTokenSet)
	}

	s.mu.Lock()
	s.current = next
	snapshot := make([]*Listener, len(s.listeners))
	copy(snapshot, s.listeners)
	s.mu.Unlock()

	// Dispatch outside the lock so listeners may call back into the store.
	for _, l := range snapshot {
		l.fn(next)
	}
	return nil
}

// Subscribe registers l for every future swap and returns a function removing it.
// A nil handle, or one without a callback, is ignored.
func (s *Store) Subscribe(l *Listener) (unsubscribe func()) {
	if l == nil || l.fn == nil {
		return func() {}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.indexOf(l) < 0 {
		s.listeners = append(s.listeners, l)
	}
	return func() { s.Unsubscribe(l) }
}

// Unsubscribe removes l. Removing an unknown listener is a no-op.
func (s *Store) Unsubscribe(l *Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(l)
	if i < 0 {
		return
	}
	s.listeners = slices.Delete(s.listeners, i, i+1)
}

// SubscribeOnce registers fn for the next swap only. The listener removes itself
// before it runs and runs at most once, even with concurrent swaps.
func (s *Store) SubscribeOnce(fn func(*tokens.Set)) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}

	var once sync.Once
	l := &Listener{}
	l.fn = func(set *tokens.Set) {
		once.Do(func() {
			s.Unsubscribe(l)
			fn(set)
		})
	}
	return s.Subscribe(l)
}

// Len returns the number of registered listeners.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners)
}

func (s *Store) indexOf(l *Listener) int {
	return slices.Index(s.listeners, l)
}
