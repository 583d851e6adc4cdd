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

package exec

import (
	"context"

	"github.com/ggy8784/Impala/pkg/types"
	"github.com/ggy8784/Impala/pkg/util/chunk"
)

// Executor is the physical operator interface. Next fills req with up to
// req.RequiredRows() rows; an empty req signals end of stream.
type Executor interface {
	Open(ctx context.Context) error
	Next(ctx context.Context, req *chunk.Chunk) error
	Close() error
	RetFieldTypes() []*types.FieldType
	MaxChunkSize() int
	NewChunk() *chunk.Chunk
}

// BaseExecutor carries the common fields of an executor.
type BaseExecutor struct {
	retFieldTypes []*types.FieldType
	maxChunkSize  int
	children      []Executor
}

// NewBaseExecutor creates a BaseExecutor.
func NewBaseExecutor(retFieldTypes []*types.FieldType, maxChunkSize int, children ...Executor) BaseExecutor {
	return BaseExecutor{
		retFieldTypes: retFieldTypes,
		maxChunkSize:  maxChunkSize,
		children:      children,
	}
}

// Open opens all children.
func (e *BaseExecutor) Open(ctx context.Context) error {
	for _, child := range e.children {
		if err := child.Open(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Next does nothing by default.
func (*BaseExecutor) Next(context.Context, *chunk.Chunk) error { return nil }

// Close closes all children, returning the first error.
func (e *BaseExecutor) Close() error {
	var firstErr error
	for _, child := range e.children {
		if err := child.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// RetFieldTypes returns the output schema.
func (e *BaseExecutor) RetFieldTypes() []*types.FieldType { return e.retFieldTypes }

// MaxChunkSize returns the batch row capacity.
func (e *BaseExecutor) MaxChunkSize() int { return e.maxChunkSize }

// NewChunk creates a chunk matching the output schema.
func (e *BaseExecutor) NewChunk() *chunk.Chunk {
	return chunk.NewChunkWithCapacity(e.retFieldTypes, e.maxChunkSize)
}

// Children returns the child executors.
func (e *BaseExecutor) Children() []Executor { return e.children }

// ListSource replays the rows of a chunk.List. It backs tests and the demo
// driver where a stored input stands in for a child plan tree.
type ListSource struct {
	BaseExecutor
	list   *chunk.List
	chkIdx int
	rowIdx int
}

// NewListSource creates a ListSource over list.
func NewListSource(list *chunk.List, maxChunkSize int) *ListSource {
	return &ListSource{
		BaseExecutor: NewBaseExecutor(list.FieldTypes(), maxChunkSize),
		list:         list,
	}
}

// Open implements Executor.
func (e *ListSource) Open(context.Context) error {
	e.chkIdx, e.rowIdx = 0, 0
	return nil
}

// Next implements Executor.
func (e *ListSource) Next(_ context.Context, req *chunk.Chunk) error {
	req.Reset()
	for !req.IsFull() && e.chkIdx < e.list.NumChunks() {
		chk := e.list.GetChunk(e.chkIdx)
		if e.rowIdx >= chk.NumRows() {
			e.chkIdx++
			e.rowIdx = 0
			continue
		}
		req.AppendRow(chk.GetRow(e.rowIdx))
		e.rowIdx++
	}
	return nil
}
