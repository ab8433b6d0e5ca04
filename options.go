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

import "github.com/rs/zerolog"

// option provide an interface to do work on Table while it is being created.
type option[K, V any] interface {
	apply(t *Table[K, V])
}

type keyDestructorOption[K, V any] struct {
	fn func(key K)
}

func (op keyDestructorOption[K, V]) apply(t *Table[K, V]) {
	t.keyDestroy = op.fn
}

// WithKeyDestructor is an option to specify a function that is called
// exactly once for every key the table relinquishes: when the key's entry is
// overwritten by Put, removed by Delete, or swept by Clear or Close.
func WithKeyDestructor[K, V any](fn func(key K)) option[K, V] {
	return keyDestructorOption[K, V]{fn}
}

type valueDestructorOption[K, V any] struct {
	fn func(value V)
}

func (op valueDestructorOption[K, V]) apply(t *Table[K, V]) {
	t.valueDestroy = op.fn
}

// WithValueDestructor is the value counterpart of WithKeyDestructor.
func WithValueDestructor[K, V any](fn func(value V)) option[K, V] {
	return valueDestructorOption[K, V]{fn}
}

type loggerOption[K, V any] struct {
	logger zerolog.Logger
}

func (op loggerOption[K, V]) apply(t *Table[K, V]) {
	t.logger = op.logger
}

// WithLogger is an option to specify the logger diagnostics are written to.
// By default a Table logs nothing.
func WithLogger[K, V any](logger zerolog.Logger) option[K, V] {
	return loggerOption[K, V]{logger}
}

// Allocator specifies an interface for allocating and releasing memory used
// by a Table. The default allocator utilizes Go's builtin make() and allows
// the GC to reclaim memory.
//
// An allocator may refuse a request by returning nil. The table treats this
// as an allocation failure: the operation that needed the memory returns
// ErrAllocation and the table's entries and bucket array are left exactly as
// they were.
type Allocator[K, V any] interface {
	// AllocBuckets should return a slice equivalent to make([]uint32, n).
	AllocBuckets(n int) []uint32

	// AllocSlots should return a slice equivalent to make([]Slot[K,V], n).
	AllocSlots(n int) []Slot[K, V]

	// FreeBuckets can optional release the memory associated with the
	// supplied slice that is guaranteed to have been allocated by
	// AllocBuckets.
	FreeBuckets(v []uint32)

	// FreeSlots can optional release the memory associated with the supplied
	// slice that is guaranteed to have been allocated by AllocSlots.
	FreeSlots(v []Slot[K, V])
}

type defaultAllocator[K, V any] struct{}

func (defaultAllocator[K, V]) AllocBuckets(n int) []uint32 {
	return make([]uint32, n)
}

func (defaultAllocator[K, V]) AllocSlots(n int) []Slot[K, V] {
	return make([]Slot[K, V], n)
}

func (defaultAllocator[K, V]) FreeBuckets(v []uint32) {
}

func (defaultAllocator[K, V]) FreeSlots(v []Slot[K, V]) {
}

type allocatorOption[K, V any] struct {
	allocator Allocator[K, V]
}

func (op allocatorOption[K, V]) apply(t *Table[K, V]) {
	t.allocator = op.allocator
}

// WithAllocator is an option for specify the Allocator to use for a
// Table[K,V].
func WithAllocator[K, V any](allocator Allocator[K, V]) option[K, V] {
	return allocatorOption[K, V]{allocator}
}
