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
	"github.com/pingcap/errors"
)

// JoinType enumerates the join modes of the hash join executor.
type JoinType int

// Join modes. The probe side is the left child, the build side the right.
const (
	InnerJoin JoinType = iota
	LeftOuterJoin
	RightOuterJoin
	FullOuterJoin
	LeftSemiJoin
	LeftAntiJoin
	RightSemiJoin
	RightAntiJoin
	NullAwareLeftAntiJoin
)

var joinTypeNames = [...]string{
	"inner join",
	"left outer join",
	"right outer join",
	"full outer join",
	"left semi join",
	"left anti join",
	"right semi join",
	"right anti join",
	"null-aware left anti join",
}

func (t JoinType) String() string {
	if int(t) < len(joinTypeNames) {
		return joinTypeNames[t]
	}
	return "unknown join"
}

// needScanRowTableAfterProbe reports whether unmatched build rows are emitted
// after the probe side of a partition is drained.
func (t JoinType) needScanRowTableAfterProbe() bool {
	switch t {
	case RightOuterJoin, FullOuterJoin, RightAntiJoin:
		return true
	}
	return false
}

// probeOnlyOutput reports whether the output schema holds probe columns only.
func (t JoinType) probeOnlyOutput() bool {
	switch t {
	case LeftSemiJoin, LeftAntiJoin, NullAwareLeftAntiJoin:
		return true
	}
	return false
}

// buildOnlyOutput reports whether the output schema holds build columns only.
func (t JoinType) buildOnlyOutput() bool {
	switch t {
	case RightSemiJoin, RightAntiJoin:
		return true
	}
	return false
}

// Errors returned by the join executor.
var (
	// ErrMemoryExceeded is returned when the reservation cannot hold even a
	// single partition and no further spilling is possible.
	ErrMemoryExceeded = errors.New("memory limit exceeded and the hash join cannot spill further")
	// ErrInvalidState reports an internal invariant breach.
	ErrInvalidState = errors.New("hash join executor in invalid state")
)
