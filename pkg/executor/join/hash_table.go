// Copyright 2024 The Impala-Go Authors.
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

package join

import (
	"unsafe"

	"github.com/bits-and-blooms/bitset"

	"github.com/ggy8784/Impala/pkg/util/chunk"
)

const (
	initialEntrySliceLen = 64
	maxEntrySliceLen     = 8192
)

// tableEntry is one build row in a bucket chain. ord is the insertion ordinal
// of the row, used to address its RowPtr, key and matched bit.
type tableEntry struct {
	ord  uint32
	next *tableEntry
}

// entryStore allocates entries in slabs to keep GC overhead low.
type entryStore struct {
	slices [][]tableEntry
	cursor int
}

func newEntryStore() *entryStore {
	es := new(entryStore)
	es.slices = [][]tableEntry{make([]tableEntry, initialEntrySliceLen)}
	es.cursor = 0
	return es
}

func (es *entryStore) getStore() (e *tableEntry, memDelta int64) {
	sliceIdx := len(es.slices) - 1
	slice := es.slices[sliceIdx]
	if es.cursor >= len(slice) {
		size := len(slice) * 2
		if size > maxEntrySliceLen {
			size = maxEntrySliceLen
		}
		es.slices = append(es.slices, make([]tableEntry, size))
		sliceIdx++
		es.cursor = 0
		memDelta = int64(unsafe.Sizeof(tableEntry{})) * int64(size)
	}
	e = &es.slices[sliceIdx][es.cursor]
	es.cursor++
	return
}

// hashTable is a chained multimap from the 64-bit key hash to build rows.
// It is not thread-safe. The matched bits are monotonic: once set for an
// entry they stay set for the lifetime of the table.
type hashTable struct {
	buckets    map[uint64]*tableEntry
	entryStore *entryStore
	rowList    *chunk.List

	ptrs    []chunk.RowPtr
	keys    [][]byte
	matched *bitset.BitSet

	memDelta int64
}

// approximate per-entry map overhead, in addition to the slab entry itself.
const hashTableEntryOverhead = 48

func newHashTable(rowList *chunk.List, estCount int) *hashTable {
	return &hashTable{
		buckets:    make(map[uint64]*tableEntry, estCount),
		entryStore: newEntryStore(),
		rowList:    rowList,
		matched:    bitset.New(uint(estCount)),
	}
}

// Put inserts a build row under its key hash. key is retained for the
// collision re-check on probe.
func (ht *hashTable) Put(hashValue uint64, key []byte, ptr chunk.RowPtr) {
	newEntry, memDelta := ht.entryStore.getStore()
	newEntry.ord = uint32(len(ht.ptrs))
	newEntry.next = ht.buckets[hashValue]
	ht.buckets[hashValue] = newEntry
	ht.ptrs = append(ht.ptrs, ptr)
	ht.keys = append(ht.keys, key)
	ht.memDelta += memDelta + int64(len(key)) + hashTableEntryOverhead
}

// Probe returns the bucket chain head for a hash, or nil.
func (ht *hashTable) Probe(hashValue uint64) *tableEntry {
	return ht.buckets[hashValue]
}

// Len returns the number of rows in the table.
func (ht *hashTable) Len() int { return len(ht.ptrs) }

// Key returns the serialized key of the entry ordinal.
func (ht *hashTable) Key(ord uint32) []byte { return ht.keys[ord] }

// GetRow returns the build row of the entry ordinal.
func (ht *hashTable) GetRow(ord uint32) chunk.Row {
	return ht.rowList.GetRow(ht.ptrs[ord])
}

// SetMatched marks the entry ordinal as matched.
func (ht *hashTable) SetMatched(ord uint32) { ht.matched.Set(uint(ord)) }

// Matched reports whether the entry ordinal was matched.
func (ht *hashTable) Matched(ord uint32) bool { return ht.matched.Test(uint(ord)) }

// GetAndCleanMemoryDelta returns the untracked memory growth since the last
// call and resets it.
func (ht *hashTable) GetAndCleanMemoryDelta() int64 {
	delta := ht.memDelta
	ht.memDelta = 0
	return delta
}

// unmatchedIter iterates build rows whose matched bit is clear, in insertion
// order.
type unmatchedIter struct {
	ht  *hashTable
	ord uint32
}

func (ht *hashTable) unmatchedIterator() *unmatchedIter {
	return &unmatchedIter{ht: ht}
}

// Next returns the next unmatched entry ordinal, or false when exhausted.
func (it *unmatchedIter) Next() (uint32, bool) {
	for it.ord < uint32(it.ht.Len()) {
		ord := it.ord
		it.ord++
		if !it.ht.Matched(ord) {
			return ord, true
		}
	}
	return 0, false
}
