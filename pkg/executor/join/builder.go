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

	"github.com/pingcap/errors"
	"github.com/pingcap/failpoint"
	"go.uber.org/zap"

	"github.com/ggy8784/Impala/pkg/executor/internal/exec"
	"github.com/ggy8784/Impala/pkg/expression"
	"github.com/ggy8784/Impala/pkg/types"
	"github.com/ggy8784/Impala/pkg/util/chunk"
	"github.com/ggy8784/Impala/pkg/util/codec"
	"github.com/ggy8784/Impala/pkg/util/disk"
	"github.com/ggy8784/Impala/pkg/util/logutil"
	"github.com/ggy8784/Impala/pkg/util/memory"
	"github.com/ggy8784/Impala/pkg/util/sqlkiller"
)

// keyEvaluator evaluates a key expression vector over a row into a serialized
// key. hasNull is set when a key column is NULL and its null-equals-null flag
// is off, i.e. the row cannot equi-match anything.
type keyEvaluator struct {
	keyExprs []expression.Expression
	nullEQ   []bool
}

func (ke *keyEvaluator) evalKey(row chunk.Row, buf []byte) (key []byte, hasNull bool, err error) {
	key = buf[:0]
	for i, keyExpr := range ke.keyExprs {
		d, err := keyExpr.Eval(row)
		if err != nil {
			return nil, false, err
		}
		if d.IsNull() && !ke.nullEQ[i] {
			hasNull = true
		}
		key = codec.EncodeDatum(key, d)
	}
	return key, hasNull, nil
}

// Builder consumes one build input pass and partitions it into fanout hash
// partitions, spilling under memory pressure and building a hash table per
// resident partition. A fresh Builder is created for every partitioning pass,
// including repartitioning passes at deeper levels.
type Builder struct {
	level        int
	numBits      int
	fanout       int
	maxDepth     int
	maxChunkSize int
	spillDir     string

	keyEval    *keyEvaluator
	buildTypes []*types.FieldType

	// naaj diverts null-key build rows to nullsBuildRows; keepNullKeyRows
	// keeps them in their partition for the unmatched-build scan.
	naaj            bool
	keepNullKeyRows bool
	nullsBuildRows  *chunk.TupleStream

	partitions []*buildPartition

	memTracker   *memory.Tracker
	quotaTracker *memory.Tracker
	diskTracker  *disk.Tracker
	killer       *sqlkiller.SQLKiller
	stats        *hashJoinRuntimeStats

	keyBuf   []byte
	spilling bool
}

func newBuilder(e *HashJoinExec, level int) *Builder {
	b := &Builder{
		level:           level,
		numBits:         e.partitionBits,
		fanout:          1 << e.partitionBits,
		maxDepth:        e.maxPartitionDepth,
		maxChunkSize:    e.MaxChunkSize(),
		spillDir:        e.spillDir,
		keyEval:         &keyEvaluator{keyExprs: e.BuildKeys, nullEQ: e.NullEQ},
		buildTypes:      e.buildTypes,
		naaj:            e.JoinType == NullAwareLeftAntiJoin && level == 0,
		keepNullKeyRows: e.JoinType.needScanRowTableAfterProbe(),
		nullsBuildRows:  e.nullsBuildRows,
		memTracker:      memory.NewTracker("join.Builder", -1),
		quotaTracker:    e.memTracker,
		diskTracker:     e.diskTracker,
		killer:          e.Killer,
		stats:           e.stats,
	}
	b.memTracker.AttachTo(e.memTracker)
	b.partitions = make([]*buildPartition, b.fanout)
	for i := range b.partitions {
		b.partitions[i] = newBuildPartition(b, i)
	}
	if level > e.stats.maxPartitionLevel {
		e.stats.maxPartitionLevel = level
	}
	return b
}

// hashPartitions returns the partitions of the last pass.
func (b *Builder) hashPartitions() []*buildPartition { return b.partitions }

// partitionIdx: the top numBits bits of the hash select the partition.
func (b *Builder) partitionIdx(hashValue uint64) int {
	return int(hashValue >> (64 - uint(b.numBits)))
}

// partitionBuildSide consumes the whole build child.
func (b *Builder) partitionBuildSide(ctx context.Context, child exec.Executor) error {
	chk := chunk.NewChunkWithCapacity(b.buildTypes, b.maxChunkSize)
	for {
		if err := b.killer.HandleSignal(); err != nil {
			return err
		}
		chk.Reset()
		if err := child.Next(ctx, chk); err != nil {
			return err
		}
		if chk.NumRows() == 0 {
			return nil
		}
		if err := b.partitionChunk(chk); err != nil {
			return err
		}
	}
}

// repartition re-partitions a spilled build stream at this builder's level.
// The stream is consumed destructively.
func (b *Builder) repartition(stream *chunk.TupleStream) error {
	if err := stream.PrepareForRead(true); err != nil {
		return err
	}
	chk := chunk.NewChunkWithCapacity(b.buildTypes, b.maxChunkSize)
	for {
		if err := b.killer.HandleSignal(); err != nil {
			return err
		}
		chk.Reset()
		eof, err := stream.NextChunk(chk)
		if err != nil {
			return err
		}
		if chk.NumRows() > 0 {
			if err := b.partitionChunk(chk); err != nil {
				return err
			}
		}
		if eof {
			return nil
		}
	}
}

func (b *Builder) partitionChunk(chk *chunk.Chunk) error {
	failpoint.Inject("partitionBuildChunkPanic", nil)
	for i := 0; i < chk.NumRows(); i++ {
		if err := b.partitionRow(chk.GetRow(i)); err != nil {
			return err
		}
	}
	return b.reclaimIfNeeded()
}

func (b *Builder) partitionRow(row chunk.Row) error {
	key, hasNull, err := b.keyEval.evalKey(row, b.keyBuf)
	if err != nil {
		return err
	}
	b.keyBuf = key[:0]
	if hasNull {
		if b.naaj {
			return b.nullsBuildRows.Append(row)
		}
		if !b.keepNullKeyRows {
			// The row can never match and is never output: drop it.
			return nil
		}
		// fall through: route it normally so the unmatched-build scan of its
		// partition can emit it later.
	}
	p := b.partitions[b.partitionIdx(codec.HashKey(b.level, key))]
	if p.isSpilled() {
		return p.stream.Append(row)
	}
	p.rows.AppendRow(row)
	return nil
}

// reclaimIfNeeded spills partitions, largest first, until the reservation
// fits again. Called at chunk boundaries of the build input.
func (b *Builder) reclaimIfNeeded() error {
	if b.spilling {
		return nil
	}
	b.spilling = true
	defer func() { b.spilling = false }()
	for b.quotaTracker.LimitExceeded() {
		victim := b.largestResident()
		if victim == nil {
			return errors.Trace(ErrMemoryExceeded)
		}
		if b.level >= b.maxDepth {
			// A partition at the depth bound must not spill.
			logutil.BgLogger().Warn("hash join reached max partition depth under memory pressure",
				zap.Int("level", b.level))
			return errors.Trace(ErrMemoryExceeded)
		}
		if err := victim.spill(); err != nil {
			return err
		}
	}
	return nil
}

func (b *Builder) largestResident() *buildPartition {
	var victim *buildPartition
	var victimBytes int64
	for _, p := range b.partitions {
		if p.state != partitionBuilding && p.state != partitionResident {
			continue
		}
		bytes := p.rows.GetMemTracker().BytesConsumed()
		if victim == nil || bytes > victimBytes {
			victim, victimBytes = p, bytes
		}
	}
	if victim != nil && victim.numRows() == 0 {
		return nil
	}
	return victim
}

// buildTables builds one hash table per resident partition. A partition whose
// table does not fit is spilled instead, unless the depth bound forbids it.
func (b *Builder) buildTables() error {
	b.spilling = true
	defer func() { b.spilling = false }()
	for _, p := range b.partitions {
		if p.isSpilled() {
			continue
		}
		if _, err := b.buildTableForPartition(p, true); err != nil {
			return err
		}
	}
	return nil
}

// buildTableForPartition builds the hash table of one resident partition.
// When the reservation overflows it either spills the partition (allowSpill)
// or reports fit=false so the caller can roll back a re-admission attempt.
func (b *Builder) buildTableForPartition(p *buildPartition, allowSpill bool) (fit bool, err error) {
	failpoint.Inject("buildHashTablePanic", nil)
	table := newHashTable(p.rows, p.rows.NumRows())
	for chkIdx := 0; chkIdx < p.rows.NumChunks(); chkIdx++ {
		chk := p.rows.GetChunk(chkIdx)
		for rowIdx := 0; rowIdx < chk.NumRows(); rowIdx++ {
			row := chk.GetRow(rowIdx)
			key, hasNull, err := b.keyEval.evalKey(row, b.keyBuf)
			if err != nil {
				return false, err
			}
			b.keyBuf = key[:0]
			ptr := chunk.RowPtr{ChkIdx: uint32(chkIdx), RowIdx: uint32(rowIdx)}
			if hasNull {
				p.nullRows = append(p.nullRows, ptr)
				continue
			}
			keyCopy := make([]byte, len(key))
			copy(keyCopy, key)
			table.Put(codec.HashKey(p.level, key), keyCopy, ptr)
		}
		delta := table.GetAndCleanMemoryDelta()
		p.tableMem += delta
		b.memTracker.Consume(delta)
		if b.quotaTracker.LimitExceeded() {
			p.table = table
			if !allowSpill {
				return false, nil
			}
			if b.level >= b.maxDepth {
				return false, errors.Trace(ErrMemoryExceeded)
			}
			return false, p.spill()
		}
	}
	delta := table.GetAndCleanMemoryDelta()
	p.tableMem += delta
	b.memTracker.Consume(delta)
	p.table = table
	p.state = partitionResident
	return true, nil
}

// close closes every partition still owned by the builder.
func (b *Builder) close() {
	for _, p := range b.partitions {
		p.close()
	}
	b.memTracker.Detach()
}
