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
	"context"
	"fmt"
	"time"

	"github.com/pingcap/errors"
	"github.com/pingcap/failpoint"
	"go.uber.org/zap"

	"github.com/ggy8784/Impala/pkg/config"
	"github.com/ggy8784/Impala/pkg/executor/internal/exec"
	"github.com/ggy8784/Impala/pkg/expression"
	"github.com/ggy8784/Impala/pkg/metrics"
	"github.com/ggy8784/Impala/pkg/types"
	"github.com/ggy8784/Impala/pkg/util/chunk"
	"github.com/ggy8784/Impala/pkg/util/disk"
	"github.com/ggy8784/Impala/pkg/util/logutil"
	"github.com/ggy8784/Impala/pkg/util/memory"
	"github.com/ggy8784/Impala/pkg/util/sqlkiller"
)

var _ exec.Executor = &HashJoinExec{}

// HashJoinState is the phase of the partitioned hash join algorithm.
type HashJoinState int

// States of the operator. Transitions happen only at batch boundaries.
const (
	partitioningBuild HashJoinState = iota
	partitioningProbe
	probingSpilledPartition
	repartitioningBuild
	repartitioningProbe
)

var hashJoinStateNames = [...]string{
	"PartitioningBuild",
	"PartitioningProbe",
	"ProbingSpilledPartition",
	"RepartitioningBuild",
	"RepartitioningProbe",
}

func (s HashJoinState) String() string { return hashJoinStateNames[s] }

// HashJoinExec is a partitioned, spill-capable hash join operator. The build
// side is the right child, the probe side the left child. It consumes the
// build input once, partitioning it into hash partitions and spilling under
// memory pressure; probe rows bound for spilled partitions are co-partitioned
// to disk and replayed in later passes, repartitioning recursively when a
// spilled partition still does not fit.
//
// The operator is single-threaded: one Next call site drives the state
// machine and control returns whenever the output batch fills.
type HashJoinExec struct {
	exec.BaseExecutor

	JoinType        JoinType
	ProbeKeys       []expression.Expression
	BuildKeys       []expression.Expression
	NullEQ          []bool
	OtherConditions expression.CNFExprs
	Killer          *sqlkiller.SQLKiller

	partitionBits     int
	maxPartitionDepth int
	probeCacheSize    int
	prefetch          bool
	spillDir          string
	memQuota          int64

	probeTypes []*types.FieldType
	buildTypes []*types.FieldType

	memTracker  *memory.Tracker
	diskTracker *disk.Tracker
	stats       *hashJoinRuntimeStats

	state    HashJoinState
	prepared bool
	eos      bool

	builder             *Builder
	probeLevel          int
	hashTables          []*hashTable
	probePartitions     []*ProbePartition
	passPartitions      []*buildPartition
	passProbePartitions []*ProbePartition
	spilledPartitions   []*ProbePartition
	inputPartition      *ProbePartition

	outputBuildPartitions []*buildPartition
	unmatchedIt           *unmatchedIter
	unmatchedNullIdx      int

	probeChk     *chunk.Chunk
	probeSrcDone bool
	ps           probeState
	probeKeyEval *keyEvaluator
	joinedBuf    []types.Datum

	processProbeBatchFn ProcessProbeBatchFn
	processProbeRowFn   processProbeRowFn

	// Null-aware anti-join streams: build rows with a null key, probe rows
	// with a null key, and probe rows that found no equi-key match.
	nullsBuildRows     *chunk.TupleStream
	nullProbeRows      *chunk.TupleStream
	nullAwareProbeRows *chunk.TupleStream

	naaj naajState
}

// NewHashJoinExec wires a hash join over its two children. probeSide is the
// left child, buildSide the right.
func NewHashJoinExec(cfg *config.Config, joinType JoinType, probeSide, buildSide exec.Executor,
	probeKeys, buildKeys []expression.Expression, nullEQ []bool, otherConds expression.CNFExprs,
	killer *sqlkiller.SQLKiller) (*HashJoinExec, error) {
	if len(probeKeys) == 0 || len(probeKeys) != len(buildKeys) {
		return nil, errors.New("hash join requires matching, non-empty key vectors")
	}
	if nullEQ == nil {
		nullEQ = make([]bool, len(probeKeys))
	}
	if len(nullEQ) != len(probeKeys) {
		return nil, errors.New("null-equality flags must match the key vector")
	}
	if killer == nil {
		killer = &sqlkiller.SQLKiller{}
	}
	probeTypes := probeSide.RetFieldTypes()
	buildTypes := buildSide.RetFieldTypes()
	var retTypes []*types.FieldType
	switch {
	case joinType.probeOnlyOutput():
		retTypes = probeTypes
	case joinType.buildOnlyOutput():
		retTypes = buildTypes
	default:
		retTypes = make([]*types.FieldType, 0, len(probeTypes)+len(buildTypes))
		retTypes = append(retTypes, probeTypes...)
		retTypes = append(retTypes, buildTypes...)
	}
	e := &HashJoinExec{
		BaseExecutor:      exec.NewBaseExecutor(retTypes, cfg.MaxChunkSize, probeSide, buildSide),
		JoinType:          joinType,
		ProbeKeys:         probeKeys,
		BuildKeys:         buildKeys,
		NullEQ:            nullEQ,
		OtherConditions:   otherConds,
		Killer:            killer,
		partitionBits:     cfg.PartitionBits,
		maxPartitionDepth: cfg.MaxPartitionDepth,
		probeCacheSize:    cfg.ProbeCacheSize,
		prefetch:          cfg.EnablePrefetch,
		spillDir:          cfg.SpillDir,
		memQuota:          cfg.MemQuota,
		probeTypes:        probeTypes,
		buildTypes:        buildTypes,
	}
	return e, nil
}

func (e *HashJoinExec) probeSide() exec.Executor { return e.Children()[0] }
func (e *HashJoinExec) buildSide() exec.Executor { return e.Children()[1] }

// Open implements the Executor interface.
func (e *HashJoinExec) Open(ctx context.Context) error {
	if err := e.BaseExecutor.Open(ctx); err != nil {
		return err
	}
	e.memTracker = memory.NewTracker("HashJoinExec", e.memQuota)
	e.memTracker.SetActionOnExceed(&memory.LogOnExceed{})
	e.diskTracker = disk.NewTracker("HashJoinExec", -1)
	e.stats = &hashJoinRuntimeStats{}
	e.state = partitioningBuild
	e.prepared = false
	e.eos = false
	if e.JoinType == NullAwareLeftAntiJoin {
		// NAAJ always treats NULL keys as unknown: null-equals-null matching
		// would defeat the reroute of null-key rows.
		e.NullEQ = make([]bool, len(e.ProbeKeys))
		e.naaj.init(e)
	}
	e.probeKeyEval = &keyEvaluator{keyExprs: e.ProbeKeys, nullEQ: e.NullEQ}
	e.probeChk = chunk.NewChunkWithCapacity(e.probeTypes, e.MaxChunkSize())
	e.processProbeBatchFn = processProbeBatch
	e.processProbeRowFn = processProbeRowFuncs[e.JoinType]
	return nil
}

func (e *HashJoinExec) updateState(next HashJoinState) {
	logutil.BgLogger().Debug("hash join state transition",
		zap.String("from", e.state.String()),
		zap.String("to", next.String()))
	e.state = next
}

// Next implements the Executor interface.
func (e *HashJoinExec) Next(ctx context.Context, req *chunk.Chunk) error {
	req.Reset()
	if e.eos {
		return nil
	}
	if !e.prepared {
		if err := e.fetchAndBuildHashTable(ctx); err != nil {
			return err
		}
		e.prepared = true
	}
	start := time.Now()
	defer func() { e.stats.probe += time.Since(start) }()
	for !req.IsFull() && !e.eos {
		if err := e.Killer.HandleSignal(); err != nil {
			return err
		}
		switch {
		case len(e.outputBuildPartitions) > 0:
			if err := e.outputUnmatchedBuild(req); err != nil {
				return err
			}
		case e.naaj.outputting():
			if err := e.naaj.output(e, req); err != nil {
				return err
			}
		case e.haveProbeRows():
			failpoint.Inject("processProbeBatchPanic", nil)
			if err := e.processProbeBatchFn(e, req); err != nil {
				return err
			}
		default:
			fetched, err := e.nextProbeChunk(ctx)
			if err != nil {
				return err
			}
			if fetched {
				continue
			}
			if err := e.cleanUpHashPartitions(); err != nil {
				return err
			}
			if len(e.outputBuildPartitions) > 0 {
				continue
			}
			if err := e.advance(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

// fetchAndBuildHashTable runs the initial build pass: consume the build
// child, partition it, build the resident hash tables and prepare the
// probe-side structures.
func (e *HashJoinExec) fetchAndBuildHashTable(ctx context.Context) error {
	start := time.Now()
	defer func() { e.stats.fetchAndBuild = time.Since(start) }()
	e.builder = newBuilder(e, 0)
	if err := e.builder.partitionBuildSide(ctx, e.buildSide()); err != nil {
		return err
	}
	if err := e.builder.buildTables(); err != nil {
		return err
	}
	e.prepareForProbe(partitioningProbe)
	return nil
}

// prepareForProbe initializes the hash-table lookup array and one probe
// partition per spilled build partition, then starts the probe pass.
func (e *HashJoinExec) prepareForProbe(next HashJoinState) {
	e.updateState(next)
	fanout := 1 << uint(e.partitionBits)
	e.hashTables = make([]*hashTable, fanout)
	e.probePartitions = make([]*ProbePartition, fanout)
	e.passPartitions = e.builder.hashPartitions()
	e.passProbePartitions = e.probePartitions
	for i, p := range e.passPartitions {
		if p.isSpilled() {
			e.probePartitions[i] = newProbePartition(e, p)
		} else {
			e.hashTables[i] = p.table
		}
	}
	e.probeLevel = e.builder.level
	e.probeSrcDone = false
	e.probeChk.Reset()
	e.ps.resetForChunk(0)
}

func (e *HashJoinExec) haveProbeRows() bool {
	return e.probeChk != nil && (e.ps.inRow || e.ps.rowIdx < e.probeChk.NumRows())
}

// nextProbeChunk pulls the next probe batch from the probe child or, in the
// spilled-partition states, from the input partition's probe stream.
func (e *HashJoinExec) nextProbeChunk(ctx context.Context) (bool, error) {
	if e.probeSrcDone {
		return false, nil
	}
	chk := e.probeChk
	chk.Reset()
	if e.state == partitioningProbe {
		if err := e.probeSide().Next(ctx, chk); err != nil {
			return false, err
		}
		if chk.NumRows() == 0 {
			e.probeSrcDone = true
			return false, nil
		}
	} else {
		eof, err := e.inputPartition.stream.NextChunk(chk)
		if err != nil {
			return false, err
		}
		if eof {
			e.probeSrcDone = true
		}
		if chk.NumRows() == 0 {
			return false, nil
		}
	}
	e.ps.resetForChunk(chk.NumRows())
	return true, nil
}

// cleanUpHashPartitions ends a probe pass: resident partitions either close
// or queue for the unmatched-build scan; spilled pairs push onto the stack
// for a later pass.
func (e *HashJoinExec) cleanUpHashPartitions() error {
	if e.passPartitions == nil {
		return nil
	}
	if err := e.naaj.onPassCleanup(e); err != nil {
		return err
	}
	for i, p := range e.passPartitions {
		if p.state == partitionClosed {
			continue
		}
		if p.isSpilled() {
			pp := e.passProbePartitions[i]
			e.spilledPartitions = append(e.spilledPartitions, pp)
			e.stats.bytesSpilled += pp.stream.BytesAppended() + p.stream.BytesAppended()
			metrics.BytesSpilledCounter.Add(float64(pp.stream.BytesAppended() + p.stream.BytesAppended()))
			continue
		}
		if e.JoinType.needScanRowTableAfterProbe() && p.table != nil {
			e.outputBuildPartitions = append(e.outputBuildPartitions, p)
		} else {
			p.close()
		}
	}
	if e.inputPartition != nil {
		e.inputPartition.close()
		e.inputPartition = nil
	}
	e.passPartitions = nil
	e.passProbePartitions = nil
	e.hashTables = nil
	e.probePartitions = nil
	e.builder = nil
	return nil
}

// advance selects the next spilled partition to process, or enters the
// null-aware output protocol, or ends the stream.
func (e *HashJoinExec) advance(ctx context.Context) error {
	if len(e.spilledPartitions) > 0 {
		return e.prepareSpilledPartitionForProbe(ctx)
	}
	if e.JoinType == NullAwareLeftAntiJoin && !e.naaj.done() {
		return e.naaj.prepareOutput(e)
	}
	e.eos = true
	return nil
}

// prepareSpilledPartitionForProbe pops the most recently spilled partition
// and either re-admits its build side under the current reservation or
// repartitions it one level deeper.
func (e *HashJoinExec) prepareSpilledPartitionForProbe(ctx context.Context) error {
	n := len(e.spilledPartitions)
	pp := e.spilledPartitions[n-1]
	e.spilledPartitions = e.spilledPartitions[:n-1]
	// Owned from here on: Close releases it if this pass errors out.
	e.inputPartition = pp
	bp := pp.buildPart

	readmitted, err := e.tryReadmit(bp)
	if err != nil {
		return err
	}
	if readmitted {
		e.updateState(probingSpilledPartition)
		fanout := 1 << uint(e.partitionBits)
		e.hashTables = make([]*hashTable, fanout)
		e.hashTables[bp.idx] = bp.table
		e.probePartitions = make([]*ProbePartition, fanout)
		e.passPartitions = []*buildPartition{bp}
		e.passProbePartitions = []*ProbePartition{nil}
		e.probeLevel = bp.level
	} else {
		if bp.level+1 > e.maxPartitionDepth {
			logutil.BgLogger().Warn("hash join exceeded max partition depth",
				zap.Int("level", bp.level),
				zap.Int64("buildRows", bp.stream.NumRows()))
			return errors.Trace(ErrMemoryExceeded)
		}
		e.updateState(repartitioningBuild)
		bp.state = partitionRepartitioning
		e.builder = newBuilder(e, bp.level+1)
		if err := e.builder.repartition(bp.stream); err != nil {
			return err
		}
		if err := e.builder.buildTables(); err != nil {
			return err
		}
		bp.close()
		e.prepareForProbe(repartitioningProbe)
	}
	e.probeSrcDone = false
	e.probeChk.Reset()
	e.ps.resetForChunk(0)
	return pp.stream.PrepareForRead(true)
}

// tryReadmit attempts to pin the spilled build rows and rebuild the hash
// table under the current reservation. On failure everything is rolled back
// and the partition stays spilled.
func (e *HashJoinExec) tryReadmit(bp *buildPartition) (bool, error) {
	if err := bp.stream.PrepareForRead(false); err != nil {
		return false, err
	}
	chk := chunk.NewChunkWithCapacity(e.buildTypes, e.MaxChunkSize())
	for {
		chk.Reset()
		eof, err := bp.stream.NextChunk(chk)
		if err != nil {
			return false, err
		}
		for i := 0; i < chk.NumRows(); i++ {
			bp.rows.AppendRow(chk.GetRow(i))
		}
		if e.memTracker.LimitExceeded() {
			bp.rows.Clear()
			return false, nil
		}
		if eof {
			break
		}
	}
	bp.state = partitionBuilding
	fit, err := bp.b.buildTableForPartition(bp, false)
	if err != nil {
		return false, err
	}
	if !fit {
		bp.rows.Clear()
		bp.dropTable()
		bp.nullRows = nil
		bp.state = partitionSpilled
		return false, nil
	}
	// The rows are resident now; the on-disk copy is no longer needed.
	bp.stream.Close()
	bp.stream = nil
	return true, nil
}

// outputUnmatchedBuild emits build rows whose matched bit is clear for the
// partition at the front of outputBuildPartitions, closing it when drained.
func (e *HashJoinExec) outputUnmatchedBuild(req *chunk.Chunk) error {
	p := e.outputBuildPartitions[0]
	if e.unmatchedIt == nil {
		e.unmatchedIt = p.table.unmatchedIterator()
		e.unmatchedNullIdx = 0
	}
	for !req.IsFull() {
		ord, ok := e.unmatchedIt.Next()
		if !ok {
			break
		}
		e.emitUnmatchedBuildRow(req, p.table.GetRow(ord))
	}
	for !req.IsFull() && e.unmatchedNullIdx < len(p.nullRows) {
		e.emitUnmatchedBuildRow(req, p.rows.GetRow(p.nullRows[e.unmatchedNullIdx]))
		e.unmatchedNullIdx++
	}
	if req.IsFull() {
		return nil
	}
	p.close()
	e.outputBuildPartitions = e.outputBuildPartitions[1:]
	e.unmatchedIt = nil
	return nil
}

func (e *HashJoinExec) emitUnmatchedBuildRow(req *chunk.Chunk, buildRow chunk.Row) {
	if e.JoinType == RightAntiJoin {
		e.emitBuildRow(req, buildRow)
		return
	}
	e.emitBuildNullExtended(req, buildRow)
}

// Close implements the Executor interface.
func (e *HashJoinExec) Close() error {
	for _, pp := range e.spilledPartitions {
		if pp.buildPart != nil {
			pp.buildPart.close()
		}
		pp.close()
	}
	e.spilledPartitions = nil
	if e.inputPartition != nil {
		if e.inputPartition.buildPart != nil {
			e.inputPartition.buildPart.close()
		}
		e.inputPartition.close()
		e.inputPartition = nil
	}
	for _, p := range e.outputBuildPartitions {
		p.close()
	}
	e.outputBuildPartitions = nil
	for _, p := range e.passPartitions {
		p.close()
	}
	e.passPartitions = nil
	for _, pp := range e.passProbePartitions {
		if pp != nil {
			pp.close()
		}
	}
	e.passProbePartitions = nil
	if e.builder != nil {
		e.builder.close()
	}
	e.hashTables = nil
	e.probePartitions = nil
	e.builder = nil
	for _, ts := range []*chunk.TupleStream{e.nullsBuildRows, e.nullProbeRows, e.nullAwareProbeRows} {
		if ts != nil {
			ts.Close()
		}
	}
	e.naaj.close()
	if e.stats != nil {
		metrics.PartitionsSpilledCounter.Add(float64(e.stats.partitionsSpilled))
		metrics.ProbeRowsPartitionedCounter.Add(float64(e.stats.probeRowsPartitioned))
		metrics.MaxPartitionLevelGauge.Set(float64(e.stats.maxPartitionLevel))
		logutil.BgLogger().Debug("hash join closed", zap.String("stats", e.stats.String()))
	}
	return e.BaseExecutor.Close()
}

// Reset prepares the operator for re-execution.
func (e *HashJoinExec) Reset() error {
	if err := e.Close(); err != nil {
		return err
	}
	e.prepared = false
	e.eos = false
	e.state = partitioningBuild
	e.probeSrcDone = false
	e.unmatchedIt = nil
	if e.stats != nil {
		*e.stats = hashJoinRuntimeStats{}
	}
	return nil
}

// RuntimeStats returns the operator's observable counters.
func (e *HashJoinExec) RuntimeStats() string {
	if e.stats == nil {
		return ""
	}
	return e.stats.String()
}

// DebugString describes the operator state for diagnostics.
func (e *HashJoinExec) DebugString() string {
	return fmt.Sprintf("HashJoinExec{type=%v state=%v spilledPartitions=%d mem=%s disk=%s}",
		e.JoinType, e.state, len(e.spilledPartitions),
		memory.FormatBytes(e.memTracker.BytesConsumed()),
		memory.FormatBytes(e.diskTracker.BytesConsumed()))
}
