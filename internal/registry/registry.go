// Copyright 2024 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package registry provides goroutine-safe wrappers around chained.Table for
// long-lived lookup registries.
package registry

import (
	"sync"

	"github.com/cockroachdb/chained"
)

// Registry guards a chained.Table with a mutex so that it can be shared
// between goroutines. Destructors configured on the table run while the lock
// is held and must not call back into the Registry.
type Registry[K, V any] struct {
	mtx   sync.Mutex
	table *chained.Table[K, V]
}

// New wraps table, which must not be used directly afterwards.
func New[K, V any](table *chained.Table[K, V]) *Registry[K, V] {
	return &Registry[K, V]{table: table}
}

// Size returns the amount of stored key-value pairs
func (r *Registry[K, V]) Size() int {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return r.table.Len()
}

// Has returns whether a value is assigned to the given key
func (r *Registry[K, V]) Has(key K) bool {
	_, ok := r.Lookup(key)
	return ok
}

// Lookup returns the value assigned to the given key and a boolean
// indicating if it was found
func (r *Registry[K, V]) Lookup(key K) (V, bool) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return r.table.Get(key)
}

// Set assigns value to key, replacing and destroying any previous pair
func (r *Registry[K, V]) Set(key K, value V) error {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return r.table.Put(key, value)
}

// Unset deletes the pair stored under key and reports whether there was one
func (r *Registry[K, V]) Unset(key K) bool {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return r.table.Delete(key)
}

// LoadOrCreate returns the value stored under key. If there is none, it
// calls create and stores the result. create runs under the lock, so
// concurrent callers for the same key observe a single value.
func (r *Registry[K, V]) LoadOrCreate(key K, create func(key K) (V, error)) (V, error) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	if v, ok := r.table.Get(key); ok {
		return v, nil
	}
	v, err := create(key)
	if err != nil {
		return v, err
	}
	if err := r.table.Put(key, v); err != nil {
		var zero V
		return zero, err
	}
	return v, nil
}

// Range calls fn for every pair in table order until fn returns false. The
// lock is held throughout, so fn must not call back into the Registry.
func (r *Registry[K, V]) Range(fn func(key K, value V) bool) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.table.All(fn)
}

// Clear removes every pair
func (r *Registry[K, V]) Clear() {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.table.Clear()
}

// Close destroys every pair and releases the underlying table
func (r *Registry[K, V]) Close() error {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return r.table.Close()
}
