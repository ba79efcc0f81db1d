package session

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/florianilch/dashauth/internal/tokens"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(tokens.Initial(time.Now()))
	require.NoError(t, err)
	return store
}

func authenticated(t *testing.T, accessToken string) *tokens.Set {
	t.Helper()
	set, err := tokens.New(tokens.Params{
		AccessToken: accessToken,
		State:       tokens.StateAuthenticated,
		ExpiresAt:   time.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	return set
}

func TestNewStoreRejectsNil(t *testing.T) {
	_, err := NewStore(nil)
	assert.ErrorIs(t, err, tokens.ErrInvalidTokenSet)
}

func TestInitialStoreIsUnknown(t *testing.T) {
	store := newStore(t)
	assert.Equal(t, tokens.StateUnknown, store.Get().State())
}

func TestSwapThenGet(t *testing.T) {
	store := newStore(t)
	a := authenticated(t, "abc")

	require.NoError(t, store.Swap(a))
	assert.Same(t, a, store.Get())
}

func TestSwapRejectsNil(t *testing.T) {
	store := newStore(t)
	before := store.Get()

	err := store.Swap(nil)
	assert.ErrorIs(t, err, tokens.ErrInvalidTokenSet)
	assert.Same(t, before, store.Get())
}

func TestSubscribersNotifiedInOrder(t *testing.T) {
	store := newStore(t)
	x := authenticated(t, "abc")

	var calls []int
	for i := range 5 {
		store.Subscribe(NewListener(func(got *tokens.Set) {
			assert.Same(t, x, got)
			calls = append(calls, i)
		}))
	}

	require.NoError(t, store.Swap(x))
	assert.Equal(t, []int{0, 1, 2, 3, 4}, calls)
}

func TestSubscribeIsIdempotent(t *testing.T) {
	store := newStore(t)
	count := 0
	l := NewListener(func(*tokens.Set) { count++ })

	store.Subscribe(l)
	store.Subscribe(l)
	require.NoError(t, store.Swap(authenticated(t, "abc")))

	assert.Equal(t, 1, count)
	assert.Equal(t, 1, store.Len())
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	store := newStore(t)
	removedCalls, keptCalls := 0, 0
	removed := NewListener(func(*tokens.Set) { removedCalls++ })
	kept := NewListener(func(*tokens.Set) { keptCalls++ })

	unsubscribe := store.Subscribe(removed)
	store.Subscribe(kept)

	unsubscribe()
	unsubscribe()
	store.Unsubscribe(removed)
	store.Unsubscribe(NewListener(func(*tokens.Set) {}))

	require.NoError(t, store.Swap(authenticated(t, "abc")))
	assert.Equal(t, 0, removedCalls)
	assert.Equal(t, 1, keptCalls)
}

func TestNilListenersAreIgnored(t *testing.T) {
	store := newStore(t)

	store.Subscribe(nil)()
	store.Subscribe(NewListener(nil))
	store.SubscribeOnce(nil)
	store.Unsubscribe(nil)
	assert.Zero(t, store.Len())

	assert.NotPanics(t, func() {
		require.NoError(t, store.Swap(authenticated(t, "abc")))
	})
}

func TestSubscribeOnce(t *testing.T) {
	store := newStore(t)
	var got []*tokens.Set
	store.SubscribeOnce(func(set *tokens.Set) { got = append(got, set) })

	first := authenticated(t, "first")
	require.NoError(t, store.Swap(first))
	require.NoError(t, store.Swap(authenticated(t, "second")))

	require.Len(t, got, 1)
	assert.Same(t, first, got[0])
	assert.Equal(t, 0, store.Len())
}

func TestSubscribeOnceCanBeCancelled(t *testing.T) {
	store := newStore(t)
	called := false
	unsubscribe := store.SubscribeOnce(func(*tokens.Set) { called = true })

	unsubscribe()
	require.NoError(t, store.Swap(authenticated(t, "abc")))
	assert.False(t, called)
}

func TestListenerAddedDuringDispatchWaitsForNextSwap(t *testing.T) {
	store := newStore(t)
	lateCalls := 0
	late := NewListener(func(*tokens.Set) { lateCalls++ })

	store.Subscribe(NewListener(func(*tokens.Set) { store.Subscribe(late) }))

	require.NoError(t, store.Swap(authenticated(t, "first")))
	assert.Equal(t, 0, lateCalls)

	require.NoError(t, store.Swap(authenticated(t, "second")))
	assert.Equal(t, 1, lateCalls)
}

func TestListenerRemovedDuringDispatchStillSeesCurrentSwap(t *testing.T) {
	store := newStore(t)
	secondCalls := 0
	second := NewListener(func(*tokens.Set) { secondCalls++ })

	store.Subscribe(NewListener(func(*tokens.Set) { store.Unsubscribe(second) }))
	store.Subscribe(second)

	require.NoError(t, store.Swap(authenticated(t, "first")))
	require.NoError(t, store.Swap(authenticated(t, "second")))
	assert.Equal(t, 1, secondCalls)
}

func TestSubscribeOnceUnderConcurrentSwaps(t *testing.T) {
	store := newStore(t)
	var mu sync.Mutex
	calls := 0
	store.SubscribeOnce(func(*tokens.Set) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	set := authenticated(t, "abc")
	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = store.Swap(set)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, calls)
}
