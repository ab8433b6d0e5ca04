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

package registry

import (
	"errors"

	"github.com/cockroachdb/chained"
)

// ErrUnsupported is returned by Threads when the platform provides no thread
// ids, which would make every thread share one value.
var ErrUnsupported = errors.New("registry: thread ids are not supported on this platform")

// Threads keeps one value per operating system thread, such as a formatting
// buffer that must not be shared. Callers must pin their goroutine with
// runtime.LockOSThread for as long as they use the value, otherwise the
// goroutine may migrate and observe another thread's value.
type Threads[V any] struct {
	values  *Registry[chained.ThreadID, V]
	create  func(id chained.ThreadID) (V, error)
	current func() chained.ThreadID
}

// NewThreads creates a Threads registry backed by table. create is called the
// first time a thread asks for its value.
func NewThreads[V any](
	table *chained.Table[chained.ThreadID, V], create func(id chained.ThreadID) (V, error),
) *Threads[V] {
	return &Threads[V]{
		values:  New(table),
		create:  create,
		current: chained.CurrentThreadID,
	}
}

// Current returns the calling thread's value, creating it if necessary. It
// returns ErrUnsupported on platforms without thread ids.
func (t *Threads[V]) Current() (V, error) {
	id := t.current()
	if id.IsZero() {
		var zero V
		return zero, ErrUnsupported
	}
	return t.values.LoadOrCreate(id, t.create)
}

// Release drops the calling thread's value, passing it to the table's value
// destructor. It reports whether the thread had one.
func (t *Threads[V]) Release() bool {
	id := t.current()
	if id.IsZero() {
		return false
	}
	return t.values.Unset(id)
}

// Size returns the number of threads holding a value.
func (t *Threads[V]) Size() int {
	return t.values.Size()
}

// Close destroys every thread's value.
func (t *Threads[V]) Close() error {
	return t.values.Close()
}
