package pending

import "sync"

// KeyLock serializes enqueue and drain for a single (instance, number) key,
// so a message enqueued while a flush is in progress for the same recipient
// is never lost between the drain and the send.
type KeyLock struct {
	mu    sync.Mutex
	locks map[string]*keyEntry
}

type keyEntry struct {
	mu   sync.Mutex
	refs int
}

// NewKeyLock creates an empty lock registry.
func NewKeyLock() *KeyLock {
	return &KeyLock{locks: make(map[string]*keyEntry)}
}

// Lock acquires the per-key mutex and returns its unlock func. Entries are
// reference-counted and removed when the last holder releases, so the
// registry does not grow with the number of recipients ever seen.
func (k *KeyLock) Lock(instanceID, number string) (unlock func()) {
	key := instanceID + "\x00" + number

	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
