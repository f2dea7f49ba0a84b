package ledger

import "sync"

// keyedMutex provides per-key mutual exclusion. Debits against the same
// UTXO id serialize; different ids proceed concurrently. Lock entries are
// reclaimed once the last holder releases them.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*lockRef
}

type lockRef struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*lockRef)}
}

// Lock acquires the mutex for key and returns its release function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	ref, ok := k.locks[key]
	if !ok {
		ref = &lockRef{}
		k.locks[key] = ref
	}
	ref.refs++
	k.mu.Unlock()

	ref.mu.Lock()

	return func() {
		ref.mu.Unlock()

		k.mu.Lock()
		ref.refs--
		if ref.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
