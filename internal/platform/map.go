package platform

import (
	"sync"
)

// Map is a thread-safe generic map.
// Hooks are called with the map locked, so they must not call back into the map.
type Map[K comparable, V any] struct {
	mutex sync.RWMutex
	data  map[K]V

	onAdd    []func(key K, value V)
	onDelete []func(key K, value V, reason error)
}

// NewMap creates a new thread-safe generic map.
func NewMap[K comparable, V any]() *Map[K, V] {
	return &Map[K, V]{
		data:     make(map[K]V),
		onAdd:    []func(key K, value V){},
		onDelete: []func(key K, value V, reason error){},
	}
}

// Get retrieves a value from the map.
func (m *Map[K, V]) Get(key K) (V, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	val, ok := m.data[key]
	return val, ok
}

// PutNew stores a value only if the key is not present yet.
// Returns false if the key already exists.
func (m *Map[K, V]) PutNew(key K, val V) bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if _, exists := m.data[key]; exists {
		return false
	}
	m.data[key] = val

	for _, fn := range m.onAdd {
		fn(key, val)
	}

	return true
}

// Delete removes a value from the map.
// Returns the removed value and true if it was present.
func (m *Map[K, V]) Delete(key K, reason error) (V, bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	val, exists := m.data[key]
	if !exists {
		return val, false
	}

	delete(m.data, key)
	for _, fn := range m.onDelete {
		fn(key, val, reason)
	}

	return val, true
}

// DeleteAll removes all values from the map and returns them.
func (m *Map[K, V]) DeleteAll(reason error) map[K]V {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	removed := m.data
	m.data = make(map[K]V)

	for k, v := range removed {
		for _, fn := range m.onDelete {
			fn(k, v, reason)
		}
	}

	return removed
}

// Keys returns all keys of the map.
func (m *Map[K, V]) Keys() []K {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	keys := make([]K, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}

	return keys
}

// Len returns the number of entries.
func (m *Map[K, V]) Len() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	return len(m.data)
}

// NotifyAdd adds a hook function to be called when a new key is added.
func (m *Map[K, V]) NotifyAdd(fn func(key K, value V)) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.onAdd = append(m.onAdd, fn)
}

// NotifyDelete adds a hook function to be called when a key is deleted.
func (m *Map[K, V]) NotifyDelete(fn func(key K, value V, reason error)) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.onDelete = append(m.onDelete, fn)
}
