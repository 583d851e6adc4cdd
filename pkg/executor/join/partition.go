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
	"go.uber.org/zap"

	"github.com/ggy8784/Impala/pkg/util/chunk"
	"github.com/ggy8784/Impala/pkg/util/logutil"
	"github.com/ggy8784/Impala/pkg/util/memory"
)

type partitionState int

const (
	partitionBuilding partitionState = iota
	partitionResident
	partitionSpilled
	partitionRepartitioning
	partitionClosed
)

var partitionStateNames = [...]string{
	"building", "resident", "spilled", "repartitioning", "closed",
}

func (s partitionState) String() string { return partitionStateNames[s] }

// buildPartition is one hash partition of the build side. While resident its
// rows live in a pinned list with a hash table over them; once spilled the
// rows live in a tuple stream on disk.
type buildPartition struct {
	idx   int
	level int
	state partitionState

	rows     *chunk.List
	nullRows []chunk.RowPtr
	table    *hashTable
	stream   *chunk.TupleStream

	// tableMem is the table consumption charged to the builder tracker,
	// released when the table goes away.
	tableMem int64

	b *Builder
}

func newBuildPartition(b *Builder, idx int) *buildPartition {
	p := &buildPartition{
		idx:   idx,
		level: b.level,
		state: partitionBuilding,
		rows:  chunk.NewList(b.buildTypes, b.maxChunkSize),
		b:     b,
	}
	p.rows.GetMemTracker().AttachTo(b.memTracker)
	return p
}

func (p *buildPartition) isSpilled() bool { return p.state == partitionSpilled }

// numRows returns the row count across the resident list and the stream.
func (p *buildPartition) numRows() int64 {
	n := int64(p.rows.NumRows())
	if p.stream != nil {
		n += p.stream.NumRows()
	}
	return n
}

func (p *buildPartition) ensureStream() {
	if p.stream == nil {
		p.stream = chunk.NewTupleStream(p.b.buildTypes, p.b.spillDir, p.b.memTracker, p.b.diskTracker)
	}
}

// spill converts the partition to its on-disk form: all resident rows move to
// the build stream and the hash table, if any, is dropped.
func (p *buildPartition) spill() error {
	if p.state == partitionSpilled {
		return nil
	}
	logutil.BgLogger().Info("spilling hash join build partition",
		zap.Int("partition", p.idx),
		zap.Int("level", p.level),
		zap.String("residentBytes", memory.FormatBytes(p.rows.GetMemTracker().BytesConsumed())))
	p.ensureStream()
	for chkIdx := 0; chkIdx < p.rows.NumChunks(); chkIdx++ {
		chk := p.rows.GetChunk(chkIdx)
		for rowIdx := 0; rowIdx < chk.NumRows(); rowIdx++ {
			if err := p.stream.Append(chk.GetRow(rowIdx)); err != nil {
				return err
			}
		}
	}
	p.rows.Clear()
	p.dropTable()
	p.nullRows = nil
	p.state = partitionSpilled
	p.b.stats.partitionsSpilled++
	return nil
}

func (p *buildPartition) dropTable() {
	if p.table == nil {
		return
	}
	p.table = nil
	p.b.memTracker.Release(p.tableMem)
	p.tableMem = 0
}

// close releases everything the partition holds. Idempotent.
func (p *buildPartition) close() {
	if p.state == partitionClosed {
		return
	}
	p.dropTable()
	p.rows.Clear()
	p.rows.GetMemTracker().Detach()
	if p.stream != nil {
		p.stream.Close()
		p.stream = nil
	}
	p.nullRows = nil
	p.state = partitionClosed
}

// ProbePartition is the probe-side companion of a spilled build partition.
// Its stream holds the probe rows destined for that partition; the reserved
// write buffer guarantees Append cannot fail for memory reasons. The build
// partition is owned by the Builder and outlives the probe partition.
type ProbePartition struct {
	e         *HashJoinExec
	buildPart *buildPartition
	stream    *chunk.TupleStream
}

func newProbePartition(e *HashJoinExec, buildPart *buildPartition) *ProbePartition {
	return &ProbePartition{
		e:         e,
		buildPart: buildPart,
		stream:    chunk.NewTupleStream(e.probeTypes, e.spillDir, e.memTracker, e.diskTracker),
	}
}

func (pp *ProbePartition) close() {
	if pp.stream != nil {
		pp.stream.Close()
		pp.stream = nil
	}
}
