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
	"time"

	"github.com/bits-and-blooms/bitset"

	"github.com/ggy8784/Impala/pkg/metrics"
	"github.com/ggy8784/Impala/pkg/util/chunk"
)

// The null-aware left anti join accumulates three side streams during regular
// probing: build rows with a null key, probe rows with a null key, and probe
// rows that found no equi-key match. Once every partition is processed the
// streams are joined on the other-join conjuncts alone: a probe row survives
// only when no build row can possibly match it.
type naajPhase int

const (
	naajPhaseNone naajPhase = iota
	naajPhaseProbeOutput
	naajPhaseNullProbeOutput
	naajPhaseDone
)

type naajState struct {
	phase naajPhase

	// nullProbeList pins the null-key probe rows for repeated conjunct
	// evaluation; matched carries one bit per pinned row.
	nullProbeList *chunk.List
	matched       *bitset.BitSet
	matchedCount  uint

	// nullsBuildList materializes the null-key build rows for the first
	// output phase.
	nullsBuildList *chunk.List

	scanChk *chunk.Chunk
	scanIdx int
	scanEOF bool

	outChkIdx int
	outRowIdx int
	outOrd    uint
}

func (n *naajState) init(e *HashJoinExec) {
	*n = naajState{}
	e.nullsBuildRows = chunk.NewTupleStream(e.buildTypes, e.spillDir, e.memTracker, e.diskTracker)
	e.nullProbeRows = chunk.NewTupleStream(e.probeTypes, e.spillDir, e.memTracker, e.diskTracker)
	e.nullAwareProbeRows = chunk.NewTupleStream(e.probeTypes, e.spillDir, e.memTracker, e.diskTracker)
}

func (n *naajState) outputting() bool {
	return n.phase == naajPhaseProbeOutput || n.phase == naajPhaseNullProbeOutput
}

func (n *naajState) done() bool { return n.phase == naajPhaseDone }

// pinNullProbe loads the null-key probe rows into memory once, after the
// top-level probe pass collected them all.
func (n *naajState) pinNullProbe(e *HashJoinExec) error {
	if n.nullProbeList != nil {
		return nil
	}
	n.nullProbeList = chunk.NewList(e.probeTypes, e.MaxChunkSize())
	n.nullProbeList.GetMemTracker().AttachTo(e.memTracker)
	if e.nullProbeRows.NumRows() > 0 {
		if err := e.nullProbeRows.PrepareForRead(true); err != nil {
			return err
		}
		chk := chunk.NewChunkWithCapacity(e.probeTypes, e.MaxChunkSize())
		for {
			chk.Reset()
			eof, err := e.nullProbeRows.NextChunk(chk)
			if err != nil {
				return err
			}
			for i := 0; i < chk.NumRows(); i++ {
				n.nullProbeList.AppendRow(chk.GetRow(i))
			}
			if eof {
				break
			}
		}
	}
	e.nullProbeRows.Close()
	n.matched = bitset.New(uint(n.nullProbeList.NumRows()))
	return nil
}

// evalNullProbe evaluates the other-join conjuncts of one build row against
// every still-unmatched null probe row.
func (n *naajState) evalNullProbe(e *HashJoinExec, buildRow chunk.Row) error {
	total := uint(n.nullProbeList.NumRows())
	if n.matchedCount == total {
		return nil
	}
	var ord uint
	for chkIdx := 0; chkIdx < n.nullProbeList.NumChunks(); chkIdx++ {
		chk := n.nullProbeList.GetChunk(chkIdx)
		for rowIdx := 0; rowIdx < chk.NumRows(); rowIdx++ {
			if n.matched.Test(ord) {
				ord++
				continue
			}
			pass, err := e.evalOtherConds(chk.GetRow(rowIdx), buildRow)
			if err != nil {
				return err
			}
			if pass {
				n.matched.Set(ord)
				n.matchedCount++
			}
			ord++
		}
	}
	return nil
}

// onPassCleanup runs at the end of each probe pass: the resident build rows
// of the pass get one shot at matching the null-key probe rows before their
// partitions go away.
func (n *naajState) onPassCleanup(e *HashJoinExec) error {
	if e.JoinType != NullAwareLeftAntiJoin {
		return nil
	}
	start := time.Now()
	defer func() { e.stats.nullAwareEval += time.Since(start) }()
	if err := n.pinNullProbe(e); err != nil {
		return err
	}
	if n.nullProbeList.NumRows() == 0 {
		return nil
	}
	for _, p := range e.passPartitions {
		if p.isSpilled() || p.state == partitionClosed {
			continue
		}
		for chkIdx := 0; chkIdx < p.rows.NumChunks(); chkIdx++ {
			chk := p.rows.GetChunk(chkIdx)
			for rowIdx := 0; rowIdx < chk.NumRows(); rowIdx++ {
				if err := n.evalNullProbe(e, chk.GetRow(rowIdx)); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// prepareOutput runs once all spilled partitions are processed: evaluate the
// null-key build rows against the null-key probe rows, materialize them for
// the first output phase and open the no-equi-match probe stream.
func (n *naajState) prepareOutput(e *HashJoinExec) error {
	start := time.Now()
	if err := n.pinNullProbe(e); err != nil {
		return err
	}
	// Step 1: null-key build rows, streamed, against the pinned null-key
	// probe rows. These rows also feed the first output phase, so they are
	// collected into a list on the way through.
	n.nullsBuildList = chunk.NewList(e.buildTypes, e.MaxChunkSize())
	n.nullsBuildList.GetMemTracker().AttachTo(e.memTracker)
	if e.nullsBuildRows.NumRows() > 0 {
		if err := e.nullsBuildRows.PrepareForRead(true); err != nil {
			return err
		}
		chk := chunk.NewChunkWithCapacity(e.buildTypes, e.MaxChunkSize())
		for {
			chk.Reset()
			eof, err := e.nullsBuildRows.NextChunk(chk)
			if err != nil {
				return err
			}
			for i := 0; i < chk.NumRows(); i++ {
				row := chk.GetRow(i)
				if n.nullProbeList.NumRows() > 0 {
					if err := n.evalNullProbe(e, row); err != nil {
						return err
					}
				}
				n.nullsBuildList.AppendRow(row)
			}
			if eof {
				break
			}
		}
	}
	e.nullsBuildRows.Close()
	if err := e.nullAwareProbeRows.PrepareForRead(true); err != nil {
		return err
	}
	n.scanChk = chunk.NewChunkWithCapacity(e.probeTypes, e.MaxChunkSize())
	n.scanIdx = 0
	n.scanEOF = false
	n.phase = naajPhaseProbeOutput
	elapsed := time.Since(start)
	e.stats.nullAwareEval += elapsed
	metrics.NullAwareEvalDuration.Observe(elapsed.Seconds())
	return nil
}

// output drives the two null-aware output phases.
func (n *naajState) output(e *HashJoinExec, req *chunk.Chunk) error {
	switch n.phase {
	case naajPhaseProbeOutput:
		return n.outputProbeRows(e, req)
	case naajPhaseNullProbeOutput:
		n.outputNullProbeRows(e, req)
		return nil
	}
	return nil
}

// outputProbeRows emits probe rows with no equi-key match, unless some
// null-key build row passes the other-join conjuncts against them.
func (n *naajState) outputProbeRows(e *HashJoinExec, req *chunk.Chunk) error {
	for !req.IsFull() {
		if n.scanIdx >= n.scanChk.NumRows() {
			if n.scanEOF {
				n.phase = naajPhaseNullProbeOutput
				n.outChkIdx, n.outRowIdx, n.outOrd = 0, 0, 0
				return nil
			}
			n.scanChk.Reset()
			n.scanIdx = 0
			eof, err := e.nullAwareProbeRows.NextChunk(n.scanChk)
			if err != nil {
				return err
			}
			n.scanEOF = eof
			continue
		}
		probeRow := n.scanChk.GetRow(n.scanIdx)
		blocked, err := n.anyNullBuildPasses(e, probeRow)
		if err != nil {
			return err
		}
		if !blocked {
			e.emitProbeRow(req, probeRow)
		}
		n.scanIdx++
	}
	return nil
}

func (n *naajState) anyNullBuildPasses(e *HashJoinExec, probeRow chunk.Row) (bool, error) {
	for chkIdx := 0; chkIdx < n.nullsBuildList.NumChunks(); chkIdx++ {
		chk := n.nullsBuildList.GetChunk(chkIdx)
		for rowIdx := 0; rowIdx < chk.NumRows(); rowIdx++ {
			pass, err := e.evalOtherConds(probeRow, chk.GetRow(rowIdx))
			if err != nil {
				return false, err
			}
			if pass {
				return true, nil
			}
		}
	}
	return false, nil
}

// outputNullProbeRows emits the null-key probe rows no build row matched.
func (n *naajState) outputNullProbeRows(e *HashJoinExec, req *chunk.Chunk) {
	for !req.IsFull() {
		if n.outChkIdx >= n.nullProbeList.NumChunks() {
			n.phase = naajPhaseDone
			return
		}
		chk := n.nullProbeList.GetChunk(n.outChkIdx)
		if n.outRowIdx >= chk.NumRows() {
			n.outChkIdx++
			n.outRowIdx = 0
			continue
		}
		if !n.matched.Test(n.outOrd) {
			e.emitProbeRow(req, chk.GetRow(n.outRowIdx))
		}
		n.outRowIdx++
		n.outOrd++
	}
}

func (n *naajState) close() {
	if n.nullProbeList != nil {
		n.nullProbeList.Clear()
		n.nullProbeList.GetMemTracker().Detach()
		n.nullProbeList = nil
	}
	if n.nullsBuildList != nil {
		n.nullsBuildList.Clear()
		n.nullsBuildList.GetMemTracker().Detach()
		n.nullsBuildList = nil
	}
}
