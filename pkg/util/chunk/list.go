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

package chunk

import (
	"github.com/ggy8784/Impala/pkg/types"
	"github.com/ggy8784/Impala/pkg/util/memory"
)

// List holds many rows in memory, addressable by RowPtr. It reports its
// consumption to an internal tracker which callers attach to their own.
type List struct {
	fields       []*types.FieldType
	maxChunkSize int
	length       int
	chunks       []*Chunk
	memTracker   *memory.Tracker
}

// NewList creates a List for the given schema.
func NewList(fields []*types.FieldType, maxChunkSize int) *List {
	return &List{
		fields:       fields,
		maxChunkSize: maxChunkSize,
		memTracker:   memory.NewTracker("chunk.List", -1),
	}
}

// GetMemTracker returns the memory tracker of the list.
func (l *List) GetMemTracker() *memory.Tracker { return l.memTracker }

// FieldTypes returns the schema of the list.
func (l *List) FieldTypes() []*types.FieldType { return l.fields }

// NumChunks returns the number of chunks.
func (l *List) NumChunks() int { return len(l.chunks) }

// NumRows returns the number of rows.
func (l *List) NumRows() int { return l.length }

// GetChunk returns the chunk at chkIdx.
func (l *List) GetChunk(chkIdx int) *Chunk { return l.chunks[chkIdx] }

// AppendRow copies row into the list and returns its position.
func (l *List) AppendRow(row Row) RowPtr {
	numChunks := len(l.chunks)
	if numChunks == 0 || l.chunks[numChunks-1].NumRows() >= l.maxChunkSize {
		l.chunks = append(l.chunks, NewChunkWithCapacity(l.fields, l.maxChunkSize))
		l.memTracker.Consume(int64(l.maxChunkSize) * rowOverhead)
		numChunks++
	}
	chk := l.chunks[numChunks-1]
	chk.AppendRow(row)
	l.length++
	l.memTracker.Consume(row.MemUsage())
	return RowPtr{ChkIdx: uint32(numChunks - 1), RowIdx: uint32(chk.NumRows() - 1)}
}

// GetRow returns the row at ptr.
func (l *List) GetRow(ptr RowPtr) Row {
	return l.chunks[ptr.ChkIdx].GetRow(int(ptr.RowIdx))
}

// Clear drops all rows and releases the tracked memory.
func (l *List) Clear() {
	l.memTracker.Release(l.memTracker.BytesConsumed())
	l.chunks = nil
	l.length = 0
}
