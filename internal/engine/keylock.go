package engine

import "sync"

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// KeyedMutex serializes work per key. Unrelated keys never contend beyond
// the short critical section that looks up the per-key mutex, and entries
// are dropped once no goroutine holds or waits on them.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{
		locks: make(map[string]*keyLock),
	}
}

func (k *KeyedMutex) Lock(key string) func() {
	k.mu.Lock()
	lk, exists := k.locks[key]
	if !exists {
		lk = &keyLock{}
		k.locks[key] = lk
	}
	lk.refs++
	k.mu.Unlock()

	lk.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			lk.mu.Unlock()

			k.mu.Lock()
			lk.refs--
			if lk.refs == 0 {
				delete(k.locks, key)
			}
			k.mu.Unlock()
		})
	}
}

func (k *KeyedMutex) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
