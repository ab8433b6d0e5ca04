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

package chained

import (
	"bytes"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// StringHash is the classic multiplicative string hash: h = h*129 + c over
// the bytes of s, accumulated in 32 bits starting from 0. It is cheap and
// adequate for short identifiers such as category names, but it is not
// collision resistant.
func StringHash(s string) uint64 {
	var h uint32
	for i := 0; i < len(s); i++ {
		h = h*129 + uint32(s[i])
	}
	return uint64(h)
}

// StringEqual compares two strings by content.
func StringEqual(a, b string) bool {
	return a == b
}

// XXStringHash hashes s with xxHash64. Prefer it over StringHash for long or
// attacker-influenced keys.
func XXStringHash(s string) uint64 {
	return xxhash.Sum64String(s)
}

// BytesHash hashes b with xxHash64.
func BytesHash(b []byte) uint64 {
	return xxhash.Sum64(b)
}

// BytesEqual compares two byte slices by content. A nil slice equals an empty
// one.
func BytesEqual(a, b []byte) bool {
	return bytes.Equal(a, b)
}

// ComparableEqual is an EqualFunc for comparable key types.
func ComparableEqual[K comparable](a, b K) bool {
	return a == b
}

// ThreadID identifies an operating system thread. Values are opaque: they
// must be compared with Equal, and are only meaningful while the thread is
// alive.
//
// Thread ids are available on Linux and Windows. Elsewhere CurrentThreadID
// returns the zero ThreadID for every thread, so zero ids cannot tell threads
// apart; check IsZero before keying per-thread state by them.
type ThreadID struct {
	id uint64
}

// IsZero reports whether t is the zero ThreadID, which identifies no thread.
func (t ThreadID) IsZero() bool {
	return t.id == 0
}

// Equal reports whether t and o identify the same thread.
func (t ThreadID) Equal(o ThreadID) bool {
	return threadIDEqual(t, o)
}

// String implements fmt.Stringer.
func (t ThreadID) String() string {
	return strconv.FormatUint(t.id, 10)
}

// ThreadIDHash hashes the bit pattern of id.
func ThreadIDHash(id ThreadID) uint64 {
	return id.id
}

// ThreadIDEqual is an EqualFunc for ThreadID keys.
func ThreadIDEqual(a, b ThreadID) bool {
	return a.Equal(b)
}

// CurrentThreadID returns the id of the OS thread the calling goroutine is
// running on. Goroutines migrate between threads, so the result is only
// stable for a goroutine that has called runtime.LockOSThread.
func CurrentThreadID() ThreadID {
	return ThreadID{id: gettid()}
}
