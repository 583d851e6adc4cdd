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
)

// Chunk is a batch of rows with a bounded row count. Operators fill a chunk
// up to its required-rows watermark and hand it downstream; the memory backing
// the rows travels with the chunk.
type Chunk struct {
	fields       []*types.FieldType
	rows         [][]types.Datum
	capacity     int
	requiredRows int
}

// rowOverhead approximates the slice header and bookkeeping bytes per row.
const rowOverhead = 48

// NewChunkWithCapacity creates a chunk for the given schema.
func NewChunkWithCapacity(fields []*types.FieldType, capacity int) *Chunk {
	return &Chunk{
		fields:       fields,
		rows:         make([][]types.Datum, 0, capacity),
		capacity:     capacity,
		requiredRows: capacity,
	}
}

// FieldTypes returns the schema of the chunk.
func (c *Chunk) FieldTypes() []*types.FieldType { return c.fields }

// NumCols returns the number of columns.
func (c *Chunk) NumCols() int { return len(c.fields) }

// NumRows returns the number of rows.
func (c *Chunk) NumRows() int { return len(c.rows) }

// Capacity returns the row capacity of the chunk.
func (c *Chunk) Capacity() int { return c.capacity }

// RequiredRows returns the watermark at which the chunk reports IsFull.
func (c *Chunk) RequiredRows() int { return c.requiredRows }

// SetRequiredRows lowers the full watermark. A value outside [1, capacity]
// resets it to capacity.
func (c *Chunk) SetRequiredRows(requiredRows int) *Chunk {
	if requiredRows <= 0 || requiredRows > c.capacity {
		requiredRows = c.capacity
	}
	c.requiredRows = requiredRows
	return c
}

// IsFull reports whether the chunk reached its required row count.
func (c *Chunk) IsFull() bool { return len(c.rows) >= c.requiredRows }

// Reset truncates the chunk to zero rows, keeping the allocated space.
func (c *Chunk) Reset() { c.rows = c.rows[:0] }

// AppendRow appends a copy of row to the chunk.
func (c *Chunk) AppendRow(row Row) {
	vals := make([]types.Datum, len(row.vals))
	copy(vals, row.vals)
	c.rows = append(c.rows, vals)
}

// AppendDatums appends a row built from ds. The slice is owned by the chunk
// afterwards.
func (c *Chunk) AppendDatums(ds []types.Datum) {
	c.rows = append(c.rows, ds)
}

// GetRow returns the row at idx. The row shares memory with the chunk.
func (c *Chunk) GetRow(idx int) Row {
	return Row{vals: c.rows[idx]}
}

// MemoryUsage returns an estimate of the heap bytes held by the chunk.
func (c *Chunk) MemoryUsage() int64 {
	usage := int64(cap(c.rows)) * rowOverhead
	for i := range c.rows {
		for j := range c.rows[i] {
			usage += datumSize + c.rows[i][j].MemUsage()
		}
	}
	return usage
}

// datumSize approximates the in-struct bytes of one datum.
const datumSize = 40

// Row is a handle to one row of a chunk or list.
type Row struct {
	vals []types.Datum
}

// RowFromDatums builds a standalone row from a datum slice.
func RowFromDatums(ds []types.Datum) Row {
	return Row{vals: ds}
}

// Len returns the number of columns in the row.
func (r Row) Len() int { return len(r.vals) }

// GetDatum returns the datum of the column at colIdx.
func (r Row) GetDatum(colIdx int) types.Datum { return r.vals[colIdx] }

// IsNull reports whether the column at colIdx is NULL.
func (r Row) IsNull(colIdx int) bool { return r.vals[colIdx].IsNull() }

// Datums exposes the backing datum slice of the row.
func (r Row) Datums() []types.Datum { return r.vals }

// MemUsage returns an estimate of the heap bytes held by the row.
func (r Row) MemUsage() int64 {
	usage := int64(rowOverhead)
	for i := range r.vals {
		usage += datumSize + r.vals[i].MemUsage()
	}
	return usage
}

// RowPtr is a logical position of a row inside a List.
type RowPtr struct {
	ChkIdx uint32
	RowIdx uint32
}
