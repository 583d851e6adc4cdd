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
	"bytes"

	"github.com/pingcap/errors"

	"github.com/ggy8784/Impala/pkg/types"
	"github.com/ggy8784/Impala/pkg/util/chunk"
	"github.com/ggy8784/Impala/pkg/util/codec"
)

// probeState is the resumable cursor over the current probe chunk. The
// evaluate-and-hash group runs ahead of the per-row processing by up to
// probeCacheSize rows so bucket lookups can be warmed before use.
type probeState struct {
	keys    [][]byte
	hasNull []bool
	hashes  []uint64
	heads   []*tableEntry

	groupEnd int
	rowIdx   int

	// currently processed row
	inRow      bool
	table      *hashTable
	iter       *tableEntry
	rowMatched bool
}

func (ps *probeState) resetForChunk(numRows int) {
	if cap(ps.keys) < numRows {
		ps.keys = make([][]byte, numRows)
		ps.hasNull = make([]bool, numRows)
		ps.hashes = make([]uint64, numRows)
		ps.heads = make([]*tableEntry, numRows)
	}
	ps.keys = ps.keys[:numRows]
	ps.hasNull = ps.hasNull[:numRows]
	ps.hashes = ps.hashes[:numRows]
	ps.heads = ps.heads[:numRows]
	ps.groupEnd = 0
	ps.rowIdx = 0
	ps.inRow = false
	ps.table = nil
	ps.iter = nil
	ps.rowMatched = false
}

// ProcessProbeBatchFn is the contract of the probe-batch routine. A compiled
// specialization installed through SetProcessProbeBatchFn replaces the
// interpreted dispatch with an identical contract.
type ProcessProbeBatchFn func(e *HashJoinExec, req *chunk.Chunk) error

// SetProcessProbeBatchFn installs a replacement probe-batch routine. It must
// be called after Open, which installs the interpreted routine, and before
// the first Next.
func (e *HashJoinExec) SetProcessProbeBatchFn(fn ProcessProbeBatchFn) {
	e.processProbeBatchFn = fn
}

// processProbeRowFn processes the current probe row until its candidates are
// exhausted (done=true) or the output batch fills (done=false).
type processProbeRowFn func(e *HashJoinExec, req *chunk.Chunk) (done bool, err error)

// The interpreted dispatch table, indexed by JoinType.
var processProbeRowFuncs = [...]processProbeRowFn{
	InnerJoin:             processProbeRowInnerJoin,
	LeftOuterJoin:         processProbeRowOuterJoin,
	RightOuterJoin:        processProbeRowOuterJoin,
	FullOuterJoin:         processProbeRowOuterJoin,
	LeftSemiJoin:          processProbeRowLeftSemiJoins,
	LeftAntiJoin:          processProbeRowLeftSemiJoins,
	NullAwareLeftAntiJoin: processProbeRowLeftSemiJoins,
	RightSemiJoin:         processProbeRowRightSemiJoins,
	RightAntiJoin:         processProbeRowRightSemiJoins,
}

// processProbeBatch is the interpreted probe-batch routine: advance to the
// next probe row with a resident partition, then run the mode-specific row
// function against its candidate chain.
func processProbeBatch(e *HashJoinExec, req *chunk.Chunk) error {
	ps := &e.ps
	for !req.IsFull() {
		if !ps.inRow {
			ok, err := e.advanceProbeRow()
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
		}
		done, err := e.processProbeRowFn(e, req)
		if err != nil {
			return err
		}
		if !done {
			return nil
		}
		ps.inRow = false
		ps.rowIdx++
	}
	return nil
}

// advanceProbeRow evaluates and dispatches probe rows until one lands on a
// resident partition (true) or the chunk is exhausted (false). Rows bound for
// spilled partitions are appended to their probe streams here; NAAJ null-key
// rows are diverted to the null-probe stream.
func (e *HashJoinExec) advanceProbeRow() (bool, error) {
	ps := &e.ps
	chk := e.probeChk
	for ps.rowIdx < chk.NumRows() {
		if ps.rowIdx >= ps.groupEnd {
			if err := e.evalAndHashProbeGroup(); err != nil {
				return false, err
			}
		}
		i := ps.rowIdx
		e.stats.probeRowsPartitioned++
		if ps.hasNull[i] {
			if e.JoinType == NullAwareLeftAntiJoin {
				if err := e.nullProbeRows.Append(chk.GetRow(i)); err != nil {
					return false, err
				}
				ps.rowIdx++
				continue
			}
			// No candidate can match: run the mode function with an empty
			// chain so the miss path (outer null-extension, anti emission)
			// still applies.
			ps.table, ps.iter, ps.rowMatched, ps.inRow = nil, nil, false, true
			return true, nil
		}
		idx := int(ps.hashes[i] >> (64 - uint(e.partitionBits)))
		table := e.hashTables[idx]
		if table == nil {
			pp := e.probePartitions[idx]
			if pp == nil {
				return false, errors.Annotatef(ErrInvalidState,
					"probe row hashed to partition %d outside the current pass at level %d", idx, e.probeLevel)
			}
			if err := pp.stream.Append(chk.GetRow(i)); err != nil {
				return false, err
			}
			ps.rowIdx++
			continue
		}
		ps.table = table
		if e.prefetch {
			ps.iter = ps.heads[i]
		} else {
			ps.iter = table.Probe(ps.hashes[i])
		}
		ps.rowMatched = false
		ps.inRow = true
		return true, nil
	}
	return false, nil
}

// evalAndHashProbeGroup evaluates the probe key expressions and hashes for a
// window of rows, optionally touching the destination buckets ahead of the
// lookups.
func (e *HashJoinExec) evalAndHashProbeGroup() error {
	ps := &e.ps
	chk := e.probeChk
	end := ps.groupEnd + e.probeCacheSize
	if end > chk.NumRows() {
		end = chk.NumRows()
	}
	for i := ps.groupEnd; i < end; i++ {
		key, hasNull, err := e.probeKeyEval.evalKey(chk.GetRow(i), ps.keys[i][:0])
		if err != nil {
			return err
		}
		ps.keys[i] = key
		ps.hasNull[i] = hasNull
		if hasNull {
			continue
		}
		ps.hashes[i] = codec.HashKey(e.probeLevel, key)
		if e.prefetch {
			idx := int(ps.hashes[i] >> (64 - uint(e.partitionBits)))
			if table := e.hashTables[idx]; table != nil {
				ps.heads[i] = table.Probe(ps.hashes[i])
			} else {
				ps.heads[i] = nil
			}
		}
	}
	ps.groupEnd = end
	return nil
}

// evalOtherConds evaluates the other-join conjuncts over the candidate pair.
// A pair matches only when every conjunct is strictly true.
func (e *HashJoinExec) evalOtherConds(probeRow, buildRow chunk.Row) (bool, error) {
	if len(e.OtherConditions) == 0 {
		return true, nil
	}
	e.joinedBuf = e.joinedBuf[:0]
	e.joinedBuf = append(e.joinedBuf, probeRow.Datums()...)
	e.joinedBuf = append(e.joinedBuf, buildRow.Datums()...)
	ok, _, err := e.OtherConditions.EvalBool(chunk.RowFromDatums(e.joinedBuf))
	return ok, err
}

func processProbeRowInnerJoin(e *HashJoinExec, req *chunk.Chunk) (bool, error) {
	ps := &e.ps
	probeRow := e.probeChk.GetRow(ps.rowIdx)
	for ps.iter != nil {
		if req.IsFull() {
			return false, nil
		}
		ord := ps.iter.ord
		ps.iter = ps.iter.next
		if !bytes.Equal(ps.table.Key(ord), ps.keys[ps.rowIdx]) {
			e.stats.probeCollision++
			continue
		}
		buildRow := ps.table.GetRow(ord)
		pass, err := e.evalOtherConds(probeRow, buildRow)
		if err != nil {
			return false, err
		}
		if pass {
			e.emitJoinedRow(req, probeRow, buildRow)
		}
	}
	return true, nil
}

// processProbeRowOuterJoin handles left-outer, right-outer and full-outer.
func processProbeRowOuterJoin(e *HashJoinExec, req *chunk.Chunk) (bool, error) {
	ps := &e.ps
	probeRow := e.probeChk.GetRow(ps.rowIdx)
	for ps.iter != nil {
		if req.IsFull() {
			return false, nil
		}
		ord := ps.iter.ord
		ps.iter = ps.iter.next
		if !bytes.Equal(ps.table.Key(ord), ps.keys[ps.rowIdx]) {
			e.stats.probeCollision++
			continue
		}
		buildRow := ps.table.GetRow(ord)
		pass, err := e.evalOtherConds(probeRow, buildRow)
		if err != nil {
			return false, err
		}
		if !pass {
			continue
		}
		ps.rowMatched = true
		e.emitJoinedRow(req, probeRow, buildRow)
		if e.JoinType == RightOuterJoin || e.JoinType == FullOuterJoin {
			ps.table.SetMatched(ord)
		}
	}
	if !ps.rowMatched && (e.JoinType == LeftOuterJoin || e.JoinType == FullOuterJoin) {
		if req.IsFull() {
			return false, nil
		}
		e.emitProbeNullExtended(req, probeRow)
		ps.rowMatched = true
	}
	return true, nil
}

// processProbeRowLeftSemiJoins handles left-semi, left-anti and the
// null-aware left-anti variant. All three short-circuit on the first match.
func processProbeRowLeftSemiJoins(e *HashJoinExec, req *chunk.Chunk) (bool, error) {
	ps := &e.ps
	probeRow := e.probeChk.GetRow(ps.rowIdx)
	for ps.iter != nil {
		ord := ps.iter.ord
		ps.iter = ps.iter.next
		if !bytes.Equal(ps.table.Key(ord), ps.keys[ps.rowIdx]) {
			e.stats.probeCollision++
			continue
		}
		pass, err := e.evalOtherConds(probeRow, ps.table.GetRow(ord))
		if err != nil {
			return false, err
		}
		if !pass {
			continue
		}
		// Matched: semi emits the probe row once, the anti modes drop it.
		if e.JoinType == LeftSemiJoin {
			if req.IsFull() {
				// Re-enter through this candidate on the next call.
				ps.iter = &tableEntry{ord: ord, next: ps.iter}
				return false, nil
			}
			e.emitProbeRow(req, probeRow)
		}
		ps.iter = nil
		return true, nil
	}
	switch e.JoinType {
	case LeftAntiJoin:
		if req.IsFull() {
			return false, nil
		}
		e.emitProbeRow(req, probeRow)
	case NullAwareLeftAntiJoin:
		// A row with no equi match may still be blocked by a null-key build
		// row; defer it to the null-aware output phase.
		if err := e.nullAwareProbeRows.Append(probeRow); err != nil {
			return false, err
		}
	}
	return true, nil
}

// processProbeRowRightSemiJoins handles right-semi and right-anti. Right-semi
// emits each build row on its first match; right-anti only marks, emission
// happens in the unmatched-build scan.
func processProbeRowRightSemiJoins(e *HashJoinExec, req *chunk.Chunk) (bool, error) {
	ps := &e.ps
	probeRow := e.probeChk.GetRow(ps.rowIdx)
	for ps.iter != nil {
		ord := ps.iter.ord
		if e.JoinType == RightSemiJoin && req.IsFull() {
			return false, nil
		}
		ps.iter = ps.iter.next
		if !bytes.Equal(ps.table.Key(ord), ps.keys[ps.rowIdx]) {
			e.stats.probeCollision++
			continue
		}
		if e.JoinType == RightSemiJoin && ps.table.Matched(ord) {
			continue
		}
		buildRow := ps.table.GetRow(ord)
		pass, err := e.evalOtherConds(probeRow, buildRow)
		if err != nil {
			return false, err
		}
		if !pass {
			continue
		}
		ps.table.SetMatched(ord)
		if e.JoinType == RightSemiJoin {
			e.emitBuildRow(req, buildRow)
		}
	}
	return true, nil
}

// Output helpers. The joined layout is probe columns followed by build
// columns; the semi/anti modes project one side only.

func (e *HashJoinExec) emitJoinedRow(req *chunk.Chunk, probeRow, buildRow chunk.Row) {
	vals := make([]types.Datum, 0, probeRow.Len()+buildRow.Len())
	vals = append(vals, probeRow.Datums()...)
	vals = append(vals, buildRow.Datums()...)
	req.AppendDatums(vals)
}

func (e *HashJoinExec) emitProbeNullExtended(req *chunk.Chunk, probeRow chunk.Row) {
	vals := make([]types.Datum, 0, probeRow.Len()+len(e.buildTypes))
	vals = append(vals, probeRow.Datums()...)
	vals = vals[:probeRow.Len()+len(e.buildTypes)]
	req.AppendDatums(vals)
}

func (e *HashJoinExec) emitBuildNullExtended(req *chunk.Chunk, buildRow chunk.Row) {
	vals := make([]types.Datum, len(e.probeTypes), len(e.probeTypes)+buildRow.Len())
	vals = append(vals, buildRow.Datums()...)
	req.AppendDatums(vals)
}

func (e *HashJoinExec) emitProbeRow(req *chunk.Chunk, probeRow chunk.Row) {
	vals := make([]types.Datum, probeRow.Len())
	copy(vals, probeRow.Datums())
	req.AppendDatums(vals)
}

func (e *HashJoinExec) emitBuildRow(req *chunk.Chunk, buildRow chunk.Row) {
	vals := make([]types.Datum, buildRow.Len())
	copy(vals, buildRow.Datums())
	req.AppendDatums(vals)
}
