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

// Package chained is a generic separately chained hash table with
// caller-supplied hash and equality functions and optional key and value
// destructors. It is meant for long-lived registries such as logging
// categories or per-thread buffers, where keys are not necessarily
// comparable and entries are rarely removed.
//
// # Layout
//
// A Table owns an array of bucket heads and an arena of slots. Every entry
// lives in a slot and is addressed by a uint32 handle (slot index + 1, so
// that the zero handle means "absent" and a freshly allocated bucket array
// is entirely empty). Entries sharing a bucket form a doubly linked chain
// threaded through the slots' next/prev handles, which makes unlinking O(1)
// without raw pointers:
//
//	buckets            slots
//	+---+
//	| 0 |              +------------------------------+
//	+---+              | h=..  "b"  next=1  prev=0    | <- handle 3
//	| 3 | -----------> +------------------------------+
//	+---+                          |
//	| 0 |              +------------------------------+
//	+---+              | h=..  "a"  next=0  prev=3    | <- handle 1
//	                   +------------------------------+
//
// New entries are prepended to their chain. Removed slots go onto a free
// list and are reused before the arena grows.
//
// # Growth
//
// Before inserting a key that is not already present, the table checks
// whether the number of live entries exceeds 1.3 times the bucket count. If
// it does, the bucket array is doubled and every entry is relinked using the
// hash cached in its slot; hash functions are never re-invoked. The bucket
// array never shrinks.
//
// # Ownership
//
// Keys and values handed to Put belong to the table. They are handed back
// only through the configured destructors, which run exactly once per key
// and per value: when Put overwrites an entry, when Delete removes it, and
// when Clear or Close sweep the table.
//
// A Table is NOT goroutine-safe.
package chained

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	debug = false

	// maxLoadFactor is the live entries per bucket beyond which inserting a
	// new key first doubles the bucket array.
	maxLoadFactor = 1.3

	// maxSlots bounds the slot arena so that every handle fits in a uint32
	// and every slot count fits in an int.
	maxSlots = math.MaxInt32
)

var (
	// ErrInvalidArgument is returned when a required argument is missing or
	// out of range.
	ErrInvalidArgument = errors.New("chained: invalid argument")
	// ErrAllocation is returned when the Allocator refuses to provide memory.
	// The operation that observed it made no change to the table.
	ErrAllocation = errors.New("chained: allocation failed")
	// ErrClosed is returned by Put on a table that has been closed.
	ErrClosed = errors.New("chained: table closed")
)

// HashFunc maps a key to an unsigned integer. Keys that are equal according
// to the table's EqualFunc must hash identically.
type HashFunc[K any] func(key K) uint64

// EqualFunc reports whether two keys identify the same entry.
type EqualFunc[K any] func(a, b K) bool

// Slot holds a key and value along with the cached hash of the key and the
// handles linking it into its bucket chain.
type Slot[K, V any] struct {
	hash  uint64
	key   K
	value V
	next  uint32
	prev  uint32
}

// Entry is a handle to a live entry of a Table. It is valid until the entry
// is deleted or the table is cleared or closed.
type Entry[K, V any] struct {
	t *Table[K, V]
	h uint32
}

// Key returns the entry's key.
func (e Entry[K, V]) Key() K {
	return e.t.slot(e.h).key
}

// Value returns the entry's value.
func (e Entry[K, V]) Value() V {
	return e.t.slot(e.h).value
}

// Table is a chained hash table from keys to values with Put, Get, Delete,
// and ordered iteration via First and Next. Hashing and equality are
// supplied by the caller, so K need not be comparable.
//
// Methods called on a nil *Table log the misuse through the global zerolog
// logger, change nothing and report an empty table. Put and Close return
// ErrInvalidArgument.
//
// A Table is NOT goroutine-safe.
type Table[K, V any] struct {
	hash  HashFunc[K]
	equal EqualFunc[K]
	// Optional. Called on every key and value the table gives up.
	keyDestroy   func(key K)
	valueDestroy func(value V)
	// The allocator to use for the buckets and slots slices.
	allocator Allocator[K, V]
	logger    zerolog.Logger
	// buckets holds the handle of the first slot of each chain, or 0 for an
	// empty bucket. A nil buckets slice marks a closed table.
	buckets []uint32
	// slots is the entry arena. Only slots[:nslots] have ever been handed
	// out; those not linked into a chain are on the free list.
	slots  []Slot[K, V]
	nslots int
	// free is the handle of the first slot on the free list, linked through
	// Slot.next.
	free uint32
	// The number of live entries.
	used int
}

// New constructs a new Table with initialSize buckets using the supplied
// hash and equality functions. The zero value for a Table is not usable.
//
// New returns ErrInvalidArgument if initialSize is not positive or if hash
// or equal is nil, and ErrAllocation if the allocator refuses the initial
// bucket array or slot arena.
func New[K, V any](
	initialSize int, hash HashFunc[K], equal EqualFunc[K], options ...option[K, V],
) (*Table[K, V], error) {
	t := &Table[K, V]{
		hash:      hash,
		equal:     equal,
		allocator: defaultAllocator[K, V]{},
		logger:    zerolog.Nop(),
	}
	for _, op := range options {
		op.apply(t)
	}

	var err error
	switch {
	case initialSize <= 0:
		err = fmt.Errorf("initial size %d must be positive: %w", initialSize, ErrInvalidArgument)
	case initialSize > maxSlots:
		err = fmt.Errorf("initial size %d exceeds %d: %w", initialSize, maxSlots, ErrInvalidArgument)
	case hash == nil:
		err = fmt.Errorf("hash function is required: %w", ErrInvalidArgument)
	case equal == nil:
		err = fmt.Errorf("equal function is required: %w", ErrInvalidArgument)
	case t.allocator == nil:
		err = fmt.Errorf("allocator is required: %w", ErrInvalidArgument)
	}
	if err != nil {
		t.logger.Error().Err(err).Msg("cannot create table")
		return nil, err
	}

	buckets := t.allocator.AllocBuckets(initialSize)
	if buckets == nil {
		return nil, t.allocFailure("buckets", initialSize)
	}
	slots := t.allocator.AllocSlots(initialSize)
	if slots == nil {
		t.allocator.FreeBuckets(buckets)
		return nil, t.allocFailure("slots", initialSize)
	}
	clear(buckets)
	t.buckets = buckets
	t.slots = slots

	t.checkInvariants()
	return t, nil
}

// Close invokes the destructors on every remaining entry and releases the
// bucket array and slot arena back to the configured allocator. It is
// invalid to use a Table after it has been closed, though Close itself is
// idempotent. Closing a nil Table returns ErrInvalidArgument.
func (t *Table[K, V]) Close() error {
	if t == nil {
		return nilTable("close")
	}
	if t.closed() {
		return nil
	}

	t.sweep()
	t.allocator.FreeBuckets(t.buckets)
	t.allocator.FreeSlots(t.slots)
	t.buckets = nil
	t.slots = nil
	t.nslots = 0
	t.free = 0
	t.used = 0
	return nil
}

// Clear invokes the destructors on every entry and removes all entries from
// the table. The bucket array keeps its current size.
func (t *Table[K, V]) Clear() {
	if t == nil {
		_ = nilTable("clear")
		return
	}
	if t.closed() {
		return
	}

	t.sweep()
	clear(t.buckets)
	clear(t.slots[:t.nslots])
	t.nslots = 0
	t.free = 0
	t.used = 0
	t.checkInvariants()
}

// Put inserts an entry into the table, overwriting the key and value of an
// existing entry with an equal key. On overwrite the old key and value are
// passed to the destructors and the entry keeps its position: the new key
// must hash exactly like the one it replaces.
//
// Put returns ErrAllocation if the table needed to grow and could not, in
// which case neither the entries nor the bucket array change and ownership of
// key and value stays with the caller. Put on a nil Table returns
// ErrInvalidArgument.
func (t *Table[K, V]) Put(key K, value V) error {
	if t == nil {
		return nilTable("put")
	}
	if t.closed() {
		return ErrClosed
	}

	h := t.hash(key)
	if s := t.find(h, key); s != 0 {
		slot := t.slot(s)
		if invariants && slot.hash != h {
			panic(fmt.Sprintf("invariant failed: replacing key with hash %016x by key with hash %016x",
				slot.hash, h))
		}
		if debug {
			fmt.Printf("put(updating): handle=%d hash=%016x\n", s, h)
		}
		t.destroy(slot.key, slot.value)
		slot.key = key
		slot.value = value
		t.checkInvariants()
		return nil
	}

	// The slot is taken before growing the bucket array so that a refused
	// slot leaves the buckets untouched.
	nslots := t.nslots
	s, err := t.allocSlot()
	if err != nil {
		return err
	}
	if float64(t.used) > float64(len(t.buckets))*maxLoadFactor {
		if err := t.rehash(); err != nil {
			t.releaseSlot(s, nslots)
			return err
		}
	}

	slot := t.slot(s)
	slot.hash = h
	slot.key = key
	slot.value = value
	t.pushFront(t.buckets, h%uint64(len(t.buckets)), s)
	t.used++
	if debug {
		fmt.Printf("put(inserting): handle=%d hash=%016x used=%d\n", s, h, t.used)
	}

	t.checkInvariants()
	return nil
}

// Find returns the entry whose key is equal to key, or ok=false if the key
// is not present.
func (t *Table[K, V]) Find(key K) (e Entry[K, V], ok bool) {
	if t == nil {
		_ = nilTable("find")
		return e, false
	}
	if t.closed() {
		return e, false
	}
	if s := t.find(t.hash(key), key); s != 0 {
		return Entry[K, V]{t: t, h: s}, true
	}
	return e, false
}

// Get retrieves the value from the table for the specified key, return
// ok=false if the key is not present.
func (t *Table[K, V]) Get(key K) (value V, ok bool) {
	e, ok := t.Find(key)
	if !ok {
		return value, false
	}
	return e.Value(), true
}

// Has reports whether an entry with the specified key is present.
func (t *Table[K, V]) Has(key K) bool {
	_, ok := t.Find(key)
	return ok
}

// Delete removes the entry corresponding to the specified key from the
// table, passing its key and value to the destructors. It returns false, and
// leaves the table unchanged, if the key is not present.
func (t *Table[K, V]) Delete(key K) bool {
	if t == nil {
		_ = nilTable("delete")
		return false
	}
	if t.closed() {
		return false
	}

	h := t.hash(key)
	s := t.find(h, key)
	if s == 0 {
		t.logger.Warn().Uint64("hash", h).Msg("delete: key not found")
		return false
	}

	slot := t.slot(s)
	t.destroy(slot.key, slot.value)

	if slot.next != 0 {
		t.slot(slot.next).prev = slot.prev
	}
	if slot.prev != 0 {
		t.slot(slot.prev).next = slot.next
	} else {
		t.buckets[slot.hash%uint64(len(t.buckets))] = slot.next
	}

	*slot = Slot[K, V]{next: t.free}
	t.free = s
	t.used--
	if debug {
		fmt.Printf("delete: handle=%d hash=%016x used=%d\n", s, h, t.used)
	}

	t.checkInvariants()
	return true
}

// First returns the first entry in iteration order, or ok=false if the table
// is empty. Iteration visits buckets in ascending index order and, within a
// bucket, the most recently inserted entry first. The order changes whenever
// the table grows.
func (t *Table[K, V]) First() (Entry[K, V], bool) {
	if t == nil {
		_ = nilTable("first")
		return Entry[K, V]{}, false
	}
	return t.scan(0)
}

// Next returns the entry following e in iteration order, or ok=false once
// every entry has been visited. Mutating the table invalidates the
// iteration; restart it from First.
func (t *Table[K, V]) Next(e Entry[K, V]) (Entry[K, V], bool) {
	if t == nil {
		_ = nilTable("next")
		return Entry[K, V]{}, false
	}
	if t.closed() || e.t != t || e.h == 0 {
		return Entry[K, V]{}, false
	}
	slot := t.slot(e.h)
	if slot.next != 0 {
		return Entry[K, V]{t: t, h: slot.next}, true
	}
	return t.scan(int(slot.hash%uint64(len(t.buckets))) + 1)
}

// All calls yield sequentially for each key and value present in the table,
// in the order of First and Next. If yield returns false, range stops the
// iteration. The table must not be mutated during iteration.
func (t *Table[K, V]) All(yield func(key K, value V) bool) {
	for e, ok := t.First(); ok; e, ok = t.Next(e) {
		if !yield(e.Key(), e.Value()) {
			return
		}
	}
}

// Len returns the number of entries in the table.
func (t *Table[K, V]) Len() int {
	if t == nil {
		return 0
	}
	return t.used
}

// BucketCount returns the current length of the bucket array. It is always
// the initial size multiplied by a power of two, or 0 once closed.
func (t *Table[K, V]) BucketCount() int {
	if t == nil {
		return 0
	}
	return len(t.buckets)
}

func (t *Table[K, V]) closed() bool {
	return t.buckets == nil
}

func (t *Table[K, V]) slot(s uint32) *Slot[K, V] {
	return &t.slots[s-1]
}

// find returns the handle of the slot in hash's chain whose key is equal to
// key, or 0.
func (t *Table[K, V]) find(hash uint64, key K) uint32 {
	for s := t.buckets[hash%uint64(len(t.buckets))]; s != 0; s = t.slot(s).next {
		if t.equal(key, t.slot(s).key) {
			return s
		}
	}
	return 0
}

// scan returns the head of the first non-empty bucket at or after index i.
func (t *Table[K, V]) scan(i int) (Entry[K, V], bool) {
	for ; i < len(t.buckets); i++ {
		if s := t.buckets[i]; s != 0 {
			return Entry[K, V]{t: t, h: s}, true
		}
	}
	return Entry[K, V]{}, false
}

// pushFront links slot s in as the head of buckets[i].
func (t *Table[K, V]) pushFront(buckets []uint32, i uint64, s uint32) {
	slot := t.slot(s)
	slot.prev = 0
	slot.next = buckets[i]
	if slot.next != 0 {
		t.slot(slot.next).prev = s
	}
	buckets[i] = s
}

// allocSlot takes a slot from the free list, or from the unused tail of the
// arena, doubling the arena when it is exhausted.
func (t *Table[K, V]) allocSlot() (uint32, error) {
	if s := t.free; s != 0 {
		slot := t.slot(s)
		t.free = slot.next
		slot.next = 0
		return s, nil
	}

	if t.nslots == len(t.slots) {
		if t.nslots >= maxSlots {
			return 0, t.allocFailure("slots", t.nslots+1)
		}
		n := maxSlots
		if len(t.slots) <= maxSlots/2 {
			n = 2 * len(t.slots)
		}
		slots := t.allocator.AllocSlots(n)
		if slots == nil {
			return 0, t.allocFailure("slots", n)
		}
		copy(slots, t.slots[:t.nslots])
		t.allocator.FreeSlots(t.slots)
		t.slots = slots
	}
	t.nslots++
	return uint32(t.nslots), nil
}

// releaseSlot undoes an allocSlot that returned s when the arena had nslots
// slots in use: a slot from the tail is handed back to the tail, one from the
// free list goes back to its head.
func (t *Table[K, V]) releaseSlot(s uint32, nslots int) {
	slot := t.slot(s)
	if t.nslots != nslots {
		*slot = Slot[K, V]{}
		t.nslots = nslots
		return
	}
	*slot = Slot[K, V]{next: t.free}
	t.free = s
}

// rehash doubles the bucket array and relinks every entry by its cached
// hash. If the allocator refuses the new array nothing is moved.
func (t *Table[K, V]) rehash() error {
	oldCount := len(t.buckets)
	newCount := 2 * oldCount
	buckets := t.allocator.AllocBuckets(newCount)
	if buckets == nil {
		return t.allocFailure("buckets", newCount)
	}
	clear(buckets)

	for i := range t.buckets {
		for s := t.buckets[i]; s != 0; {
			next := t.slot(s).next
			t.pushFront(buckets, t.slot(s).hash%uint64(newCount), s)
			s = next
		}
	}

	t.allocator.FreeBuckets(t.buckets)
	t.buckets = buckets
	t.logger.Debug().
		Int("from", oldCount).
		Int("to", newCount).
		Int("entries", t.used).
		Msg("grew bucket array")
	if debug {
		fmt.Printf("rehash: buckets=%d->%d used=%d\n", oldCount, newCount, t.used)
	}
	return nil
}

// sweep passes every live key and value to the destructors.
func (t *Table[K, V]) sweep() {
	if t.keyDestroy == nil && t.valueDestroy == nil {
		return
	}
	for i := range t.buckets {
		for s := t.buckets[i]; s != 0; s = t.slot(s).next {
			slot := t.slot(s)
			t.destroy(slot.key, slot.value)
		}
	}
}

func (t *Table[K, V]) destroy(key K, value V) {
	if t.keyDestroy != nil {
		t.keyDestroy(key)
	}
	if t.valueDestroy != nil {
		t.valueDestroy(value)
	}
}

// nilTable reports an operation invoked on a nil Table.
func nilTable(op string) error {
	err := fmt.Errorf("%s on nil table: %w", op, ErrInvalidArgument)
	log.Error().Err(err).Msg("invalid table")
	return err
}

func (t *Table[K, V]) allocFailure(what string, n int) error {
	err := fmt.Errorf("allocating %d %s: %w", n, what, ErrAllocation)
	t.logger.Error().Err(err).Int("buckets", len(t.buckets)).Int("entries", t.used).Msg("allocation failed")
	return err
}

func (t *Table[K, V]) checkInvariants() {
	if invariants {
		if t.closed() {
			return
		}
		if len(t.buckets) == 0 {
			panic("invariant failed: empty bucket array")
		}

		var used int
		for i := range t.buckets {
			var prev uint32
			for s := t.buckets[i]; s != 0; s = t.slot(s).next {
				if s > uint32(t.nslots) {
					panic(fmt.Sprintf("invariant failed: bucket(%d): handle %d beyond %d slots\n%s",
						i, s, t.nslots, t.debugString()))
				}
				slot := t.slot(s)
				if j := slot.hash % uint64(len(t.buckets)); j != uint64(i) {
					panic(fmt.Sprintf("invariant failed: slot(%d) hash=%016x belongs in bucket %d, found in %d\n%s",
						s, slot.hash, j, i, t.debugString()))
				}
				if slot.prev != prev {
					panic(fmt.Sprintf("invariant failed: slot(%d): prev=%d, expected %d\n%s",
						s, slot.prev, prev, t.debugString()))
				}
				if f := t.find(slot.hash, slot.key); f != s {
					panic(fmt.Sprintf("invariant failed: slot(%d): key %v resolves to slot %d\n%s",
						s, slot.key, f, t.debugString()))
				}
				prev = s
				used++
			}
		}
		if used != t.used {
			panic(fmt.Sprintf("invariant failed: found %d linked slots, but used count is %d\n%s",
				used, t.used, t.debugString()))
		}

		var free int
		for s := t.free; s != 0; s = t.slot(s).next {
			free++
		}
		if used+free != t.nslots {
			panic(fmt.Sprintf("invariant failed: %d used + %d free slots != %d allocated\n%s",
				used, free, t.nslots, t.debugString()))
		}
	}
}

func (t *Table[K, V]) debugString() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "buckets=%d  used=%d  slots=%d/%d  free=%d\n",
		len(t.buckets), t.used, t.nslots, len(t.slots), t.free)
	for i := range t.buckets {
		if t.buckets[i] == 0 {
			continue
		}
		fmt.Fprintf(&buf, "  %4d:", i)
		for s := t.buckets[i]; s != 0; s = t.slot(s).next {
			slot := t.slot(s)
			fmt.Fprintf(&buf, " [%d %v h=%016x p=%d n=%d]", s, slot.key, slot.hash, slot.prev, slot.next)
		}
		buf.WriteString("\n")
	}
	return buf.String()
}
