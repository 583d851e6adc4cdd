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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ggy8784/Impala/pkg/expression"
)

func TestNAAJNullBuildRowDisablesAllEmission(t *testing.T) {
	// A build row with a NULL key can "match" any probe row when there are
	// no other conjuncts, so nothing survives the anti join.
	got, _, err := runJoinCase(t, joinCase{
		cfg:       testConfig(t),
		joinType:  NullAwareLeftAntiJoin,
		buildRows: [][]interface{}{{1, "a"}, {nil, "b"}},
		probeRows: [][]interface{}{{1, "x"}, {2, "y"}, {nil, "z"}},
	})
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestNAAJWithoutNullBuildRows(t *testing.T) {
	// No null build rows: non-matching probe rows survive, but a null-key
	// probe row is blocked by any build row at all.
	got, _, err := runJoinCase(t, joinCase{
		cfg:       testConfig(t),
		joinType:  NullAwareLeftAntiJoin,
		buildRows: [][]interface{}{{1, "a"}},
		probeRows: [][]interface{}{{1, "x"}, {2, "y"}, {nil, "z"}},
	})
	require.NoError(t, err)
	require.Equal(t, expectRows(t, [][]interface{}{{2, "y"}}), got)
}

func TestNAAJEmptyBuildEmitsEverything(t *testing.T) {
	got, _, err := runJoinCase(t, joinCase{
		cfg:       testConfig(t),
		joinType:  NullAwareLeftAntiJoin,
		probeRows: [][]interface{}{{1, "x"}, {nil, "z"}},
	})
	require.NoError(t, err)
	require.Equal(t, expectRows(t, [][]interface{}{{1, "x"}, {nil, "z"}}), got)
}

func TestNAAJOtherConjunctsGateNullMatches(t *testing.T) {
	// ON p.k = b.k AND p.w < b.v over the joined layout (probe cols 0-1,
	// build cols 2-3). The null-key build row only blocks probe rows whose
	// second column sorts below "m".
	cond := expression.CNFExprs{
		expression.NewFunction(expression.OpLT,
			&expression.Column{Index: 1, RetType: intStrSchema[1]},
			&expression.Column{Index: 3, RetType: intStrSchema[1]}),
	}
	got, _, err := runJoinCase(t, joinCase{
		cfg:        testConfig(t),
		joinType:   NullAwareLeftAntiJoin,
		buildRows:  [][]interface{}{{nil, "m"}},
		probeRows:  [][]interface{}{{2, "c"}, {2, "z"}},
		otherConds: cond,
	})
	require.NoError(t, err)
	require.Equal(t, expectRows(t, [][]interface{}{{2, "z"}}), got)
}

func TestNAAJNullProbeAgainstResidentBuildRows(t *testing.T) {
	// A null-key probe row is checked against resident build rows through
	// the other conjuncts: it only survives when no build row passes them.
	cond := expression.CNFExprs{
		expression.NewFunction(expression.OpLT,
			&expression.Column{Index: 1, RetType: intStrSchema[1]},
			&expression.Column{Index: 3, RetType: intStrSchema[1]}),
	}
	got, _, err := runJoinCase(t, joinCase{
		cfg:        testConfig(t),
		joinType:   NullAwareLeftAntiJoin,
		buildRows:  [][]interface{}{{1, "b"}},
		probeRows:  [][]interface{}{{nil, "a"}, {nil, "z"}},
		otherConds: cond,
	})
	require.NoError(t, err)
	// (nil,"a") matches build via "a" < "b" and is dropped; (nil,"z") has
	// no possible match and survives.
	require.Equal(t, expectRows(t, [][]interface{}{{nil, "z"}}), got)
}

func TestNAAJMatchesPlainAntiJoinWithoutNulls(t *testing.T) {
	buildRows := [][]interface{}{{1, "a"}, {3, "c"}, {5, "e"}}
	probeRows := [][]interface{}{{1, "p"}, {2, "q"}, {3, "r"}, {4, "s"}}

	naaj, _, err := runJoinCase(t, joinCase{
		cfg: testConfig(t), joinType: NullAwareLeftAntiJoin, buildRows: buildRows, probeRows: probeRows,
	})
	require.NoError(t, err)
	anti, _, err := runJoinCase(t, joinCase{
		cfg: testConfig(t), joinType: LeftAntiJoin, buildRows: buildRows, probeRows: probeRows,
	})
	require.NoError(t, err)
	require.Equal(t, anti, naaj)
}

func TestNAAJUnderSpill(t *testing.T) {
	const n = 6144
	buildRows := make([][]interface{}, 0, n+1)
	probeRows := make([][]interface{}, 0, n)
	for i := 0; i < n; i++ {
		buildRows = append(buildRows, []interface{}{i * 2, bigString("b", i)})
		probeRows = append(probeRows, []interface{}{i, bigString("p", i)})
	}

	cfg := testConfig(t)
	cfg.MemQuota = 1 << 20
	got, stats, err := runJoinCase(t, joinCase{
		cfg: cfg, joinType: NullAwareLeftAntiJoin, buildRows: buildRows, probeRows: probeRows,
	})
	require.NoError(t, err)
	// Probe keys 0..n-1; build keys are the even numbers: odd probe keys
	// survive the anti join.
	require.Len(t, got, n/2)
	require.GreaterOrEqual(t, stats.partitionsSpilled, int64(1))
}
