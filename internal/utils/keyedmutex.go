// Package utils holds small shared helpers with no domain knowledge.
package utils

import "sync"

// KeyedMutex serializes operations per key. Mutations touching the same
// symbol must not interleave between the guard check and the write; different
// symbols proceed concurrently.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewKeyedMutex creates an empty keyed mutex
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the mutex for key and returns the unlock function.
//
//	defer locks.Lock(symbol)()
func (k *KeyedMutex) Lock(key string) func() {
	k.mu.Lock()
	lock, ok := k.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		k.locks[key] = lock
	}
	k.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}
