package lock

// KeyedMutex hands out one mutex per key. Locks for different keys never
// block each other. The zero value is ready to use.
type KeyedMutex struct {
	mu    Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   Mutex
	refs int
}

// Lock blocks until the mutex for key is held and returns the func that
// releases it.
func (k *KeyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyedEntry)
	}
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{}
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

// Len returns number of keys currently locked or waited on.
func (k *KeyedMutex) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
