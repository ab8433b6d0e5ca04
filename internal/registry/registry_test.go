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
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/cockroachdb/chained"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStringRegistry(t *testing.T, destroyed *atomic.Int64) *Registry[string, int] {
	table, err := chained.New[string, int](4, chained.StringHash, chained.StringEqual,
		chained.WithValueDestructor[string, int](func(int) { destroyed.Add(1) }))
	require.NoError(t, err)
	return New(table)
}

func TestRegistry(t *testing.T) {
	var destroyed atomic.Int64
	r := newStringRegistry(t, &destroyed)

	require.NoError(t, r.Set("a", 1))
	require.NoError(t, r.Set("b", 2))
	require.EqualValues(t, 2, r.Size())
	require.True(t, r.Has("a"))

	v, ok := r.Lookup("b")
	require.True(t, ok)
	require.EqualValues(t, 2, v)

	require.NoError(t, r.Set("a", 10))
	require.EqualValues(t, 1, destroyed.Load())
	v, _ = r.Lookup("a")
	require.EqualValues(t, 10, v)

	require.True(t, r.Unset("a"))
	require.False(t, r.Unset("a"))
	require.EqualValues(t, 2, destroyed.Load())
	require.False(t, r.Has("a"))

	got := make(map[string]int)
	r.Range(func(k string, v int) bool {
		got[k] = v
		return true
	})
	require.Equal(t, map[string]int{"b": 2}, got)

	r.Clear()
	require.EqualValues(t, 0, r.Size())
	require.EqualValues(t, 3, destroyed.Load())

	require.NoError(t, r.Set("c", 3))
	require.NoError(t, r.Close())
	require.EqualValues(t, 4, destroyed.Load())
	require.ErrorIs(t, r.Set("d", 4), chained.ErrClosed)
}

func TestRegistryConcurrent(t *testing.T) {
	var destroyed atomic.Int64
	r := newStringRegistry(t, &destroyed)

	const workers, perWorker = 8, 500
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				key := fmt.Sprintf("w%d.%d", w, i)
				assert.NoError(t, r.Set(key, i))
				v, ok := r.Lookup(key)
				assert.True(t, ok)
				assert.EqualValues(t, i, v)
				if i%2 == 1 {
					assert.True(t, r.Unset(key))
				}
			}
		}(w)
	}
	wg.Wait()

	require.EqualValues(t, workers*perWorker/2, r.Size())
	require.EqualValues(t, workers*perWorker/2, destroyed.Load())
}

func TestLoadOrCreate(t *testing.T) {
	var destroyed atomic.Int64
	r := newStringRegistry(t, &destroyed)

	var calls atomic.Int64
	create := func(key string) (int, error) {
		calls.Add(1)
		return len(key), nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := r.LoadOrCreate("category", create)
			assert.NoError(t, err)
			assert.EqualValues(t, 8, v)
		}()
	}
	wg.Wait()
	require.EqualValues(t, 1, calls.Load())
	require.EqualValues(t, 1, r.Size())

	errBoom := errors.New("boom")
	_, err := r.LoadOrCreate("other", func(string) (int, error) { return 0, errBoom })
	require.ErrorIs(t, err, errBoom)
	require.False(t, r.Has("other"))
}

func TestThreads(t *testing.T) {
	if runtime.GOOS != "linux" && runtime.GOOS != "windows" {
		t.Skipf("thread ids are not available on %s", runtime.GOOS)
	}

	type buffer struct {
		owner chained.ThreadID
		data  []byte
	}
	var released atomic.Int64
	table, err := chained.New[chained.ThreadID, *buffer](2, chained.ThreadIDHash, chained.ThreadIDEqual,
		chained.WithValueDestructor[chained.ThreadID, *buffer](func(*buffer) { released.Add(1) }))
	require.NoError(t, err)
	threads := NewThreads(table, func(id chained.ThreadID) (*buffer, error) {
		return &buffer{owner: id, data: make([]byte, 0, 64)}, nil
	})

	const workers = 4
	var recorded, done sync.WaitGroup
	recorded.Add(workers)
	done.Add(workers)
	release := make(chan struct{})
	for i := 0; i < workers; i++ {
		go func() {
			defer done.Done()
			runtime.LockOSThread()
			defer runtime.UnlockOSThread()

			a, err := threads.Current()
			assert.NoError(t, err)
			b, err := threads.Current()
			assert.NoError(t, err)
			assert.Same(t, a, b)
			assert.True(t, a.owner.Equal(chained.CurrentThreadID()))
			recorded.Done()
			<-release
		}()
	}
	recorded.Wait()
	require.EqualValues(t, workers, threads.Size())
	close(release)
	done.Wait()

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	_, err = threads.Current()
	require.NoError(t, err)
	require.True(t, threads.Release())
	require.False(t, threads.Release())
	require.EqualValues(t, 1, released.Load())

	// Worker threads return to the runtime's pool, so this goroutine may
	// have been handed one of them; count what is left rather than assume.
	remaining := int64(threads.Size())
	require.NoError(t, threads.Close())
	require.EqualValues(t, 1+remaining, released.Load())
}

func TestThreadsWithoutThreadIDs(t *testing.T) {
	var created int
	table, err := chained.New[chained.ThreadID, int](2, chained.ThreadIDHash, chained.ThreadIDEqual)
	require.NoError(t, err)
	threads := NewThreads(table, func(chained.ThreadID) (int, error) {
		created++
		return created, nil
	})
	threads.current = func() chained.ThreadID { return chained.ThreadID{} }

	for i := 0; i < 2; i++ {
		_, err := threads.Current()
		require.ErrorIs(t, err, ErrUnsupported)
	}
	require.False(t, threads.Release())
	require.Zero(t, created)
	require.Zero(t, threads.Size())
	require.NoError(t, threads.Close())
}
