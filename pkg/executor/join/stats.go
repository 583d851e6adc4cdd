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
	"strconv"
	"time"

	"github.com/ggy8784/Impala/pkg/util/memory"
)

// hashJoinRuntimeStats are the observable counters of one operator instance.
type hashJoinRuntimeStats struct {
	fetchAndBuild        time.Duration
	probe                time.Duration
	probeRowsPartitioned int64
	partitionsSpilled    int64
	bytesSpilled         int64
	maxPartitionLevel    int
	probeCollision       int64
	nullAwareEval        time.Duration
}

func (s *hashJoinRuntimeStats) String() string {
	buf := bytes.NewBuffer(make([]byte, 0, 128))
	buf.WriteString("build:{total:")
	buf.WriteString(formatDuration(s.fetchAndBuild))
	buf.WriteString("}, probe:{total:")
	buf.WriteString(formatDuration(s.probe))
	buf.WriteString(", rows_partitioned:")
	buf.WriteString(strconv.FormatInt(s.probeRowsPartitioned, 10))
	if s.probeCollision > 0 {
		buf.WriteString(", probe_collision:")
		buf.WriteString(strconv.FormatInt(s.probeCollision, 10))
	}
	buf.WriteString("}")
	if s.partitionsSpilled > 0 {
		buf.WriteString(", spill:{partitions:")
		buf.WriteString(strconv.FormatInt(s.partitionsSpilled, 10))
		buf.WriteString(", bytes:")
		buf.WriteString(memory.FormatBytes(s.bytesSpilled))
		buf.WriteString(", max_partition_level:")
		buf.WriteString(strconv.Itoa(s.maxPartitionLevel))
		buf.WriteString("}")
	}
	if s.nullAwareEval > 0 {
		buf.WriteString(", null_aware_eval:")
		buf.WriteString(formatDuration(s.nullAwareEval))
	}
	return buf.String()
}

// Clone returns a copy of the stats.
func (s *hashJoinRuntimeStats) Clone() *hashJoinRuntimeStats {
	cloned := *s
	return &cloned
}

// Merge folds another instance's stats into this one.
func (s *hashJoinRuntimeStats) Merge(other *hashJoinRuntimeStats) {
	s.fetchAndBuild += other.fetchAndBuild
	s.probe += other.probe
	s.probeRowsPartitioned += other.probeRowsPartitioned
	s.partitionsSpilled += other.partitionsSpilled
	s.bytesSpilled += other.bytesSpilled
	if other.maxPartitionLevel > s.maxPartitionLevel {
		s.maxPartitionLevel = other.maxPartitionLevel
	}
	s.probeCollision += other.probeCollision
	s.nullAwareEval += other.nullAwareEval
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}
	switch {
	case d > time.Second:
		return d.Round(time.Millisecond).String()
	case d > time.Millisecond:
		return d.Round(time.Microsecond).String()
	}
	return d.String()
}
