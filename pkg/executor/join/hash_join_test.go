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
	"sort"
	"strings"
	"testing"

	"github.com/pingcap/errors"
	"github.com/stretchr/testify/require"

	"github.com/ggy8784/Impala/pkg/config"
	"github.com/ggy8784/Impala/pkg/executor/internal/exec"
	"github.com/ggy8784/Impala/pkg/expression"
	"github.com/ggy8784/Impala/pkg/types"
	"github.com/ggy8784/Impala/pkg/util/chunk"
	"github.com/ggy8784/Impala/pkg/util/sqlkiller"
)

var intStrSchema = []*types.FieldType{
	types.NewFieldType(types.TypeLonglong),
	types.NewFieldType(types.TypeVarString),
}

func testConfig(t *testing.T) *config.Config {
	cfg := config.DefaultConfig()
	cfg.PartitionBits = 2
	cfg.MaxChunkSize = 32
	cfg.ProbeCacheSize = 8
	cfg.SpillDir = t.TempDir()
	return cfg
}

func makeList(tps []*types.FieldType, rows [][]interface{}) *chunk.List {
	list := chunk.NewList(tps, 32)
	for _, vals := range rows {
		list.AppendRow(chunk.RowFromDatums(types.MakeDatums(vals...)))
	}
	return list
}

func keyCol(idx int) []expression.Expression {
	return []expression.Expression{&expression.Column{Index: idx, RetType: intStrSchema[0]}}
}

type joinCase struct {
	cfg        *config.Config
	joinType   JoinType
	buildRows  [][]interface{}
	probeRows  [][]interface{}
	nullEQ     []bool
	otherConds expression.CNFExprs
	killer     *sqlkiller.SQLKiller
}

func runJoinCase(t *testing.T, tc joinCase) ([]string, *hashJoinRuntimeStats, error) {
	probe := exec.NewListSource(makeList(intStrSchema, tc.probeRows), tc.cfg.MaxChunkSize)
	build := exec.NewListSource(makeList(intStrSchema, tc.buildRows), tc.cfg.MaxChunkSize)
	e, err := NewHashJoinExec(tc.cfg, tc.joinType, probe, build, keyCol(0), keyCol(0), tc.nullEQ, tc.otherConds, tc.killer)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, e.Open(ctx))
	defer func() {
		require.NoError(t, e.Close())
	}()
	var rows []string
	req := e.NewChunk()
	for {
		if err := e.Next(ctx, req); err != nil {
			return nil, e.stats, err
		}
		if req.NumRows() == 0 {
			break
		}
		for i := 0; i < req.NumRows(); i++ {
			rows = append(rows, renderRow(req.GetRow(i)))
		}
	}
	sort.Strings(rows)
	return rows, e.stats, nil
}

func renderRow(row chunk.Row) string {
	cols := make([]string, row.Len())
	for i := 0; i < row.Len(); i++ {
		d := row.GetDatum(i)
		cols[i] = d.String()
	}
	return strings.Join(cols, ",")
}

func expectRows(t *testing.T, rows [][]interface{}) []string {
	rendered := make([]string, 0, len(rows))
	for _, vals := range rows {
		rendered = append(rendered, renderRow(chunk.RowFromDatums(types.MakeDatums(vals...))))
	}
	sort.Strings(rendered)
	return rendered
}

func TestInnerJoinInMemory(t *testing.T) {
	got, _, err := runJoinCase(t, joinCase{
		cfg:       testConfig(t),
		joinType:  InnerJoin,
		buildRows: [][]interface{}{{1, "a"}, {2, "b"}, {2, "c"}},
		probeRows: [][]interface{}{{2, "x"}, {3, "y"}},
	})
	require.NoError(t, err)
	require.Equal(t, expectRows(t, [][]interface{}{
		{2, "x", 2, "b"},
		{2, "x", 2, "c"},
	}), got)
}

func TestLeftOuterJoin(t *testing.T) {
	got, _, err := runJoinCase(t, joinCase{
		cfg:       testConfig(t),
		joinType:  LeftOuterJoin,
		buildRows: [][]interface{}{{1, "a"}, {2, "b"}, {2, "c"}},
		probeRows: [][]interface{}{{2, "x"}, {3, "y"}},
	})
	require.NoError(t, err)
	require.Equal(t, expectRows(t, [][]interface{}{
		{2, "x", 2, "b"},
		{2, "x", 2, "c"},
		{3, "y", nil, nil},
	}), got)
}

func TestRightOuterJoin(t *testing.T) {
	got, _, err := runJoinCase(t, joinCase{
		cfg:       testConfig(t),
		joinType:  RightOuterJoin,
		buildRows: [][]interface{}{{1, "a"}, {2, "b"}, {2, "c"}},
		probeRows: [][]interface{}{{2, "x"}, {3, "y"}},
	})
	require.NoError(t, err)
	require.Equal(t, expectRows(t, [][]interface{}{
		{2, "x", 2, "b"},
		{2, "x", 2, "c"},
		{nil, nil, 1, "a"},
	}), got)
}

func TestFullOuterJoin(t *testing.T) {
	got, _, err := runJoinCase(t, joinCase{
		cfg:       testConfig(t),
		joinType:  FullOuterJoin,
		buildRows: [][]interface{}{{1, "a"}, {2, "b"}},
		probeRows: [][]interface{}{{2, "x"}, {3, "y"}},
	})
	require.NoError(t, err)
	require.Equal(t, expectRows(t, [][]interface{}{
		{2, "x", 2, "b"},
		{3, "y", nil, nil},
		{nil, nil, 1, "a"},
	}), got)
}

func TestLeftSemiAndAntiAreComplementary(t *testing.T) {
	buildRows := [][]interface{}{{1, "a"}, {2, "b"}, {2, "c"}, {5, "e"}}
	probeRows := [][]interface{}{{1, "p"}, {2, "q"}, {3, "r"}, {5, "s"}, {7, "t"}}

	semi, _, err := runJoinCase(t, joinCase{
		cfg: testConfig(t), joinType: LeftSemiJoin, buildRows: buildRows, probeRows: probeRows,
	})
	require.NoError(t, err)
	require.Equal(t, expectRows(t, [][]interface{}{{1, "p"}, {2, "q"}, {5, "s"}}), semi)

	anti, _, err := runJoinCase(t, joinCase{
		cfg: testConfig(t), joinType: LeftAntiJoin, buildRows: buildRows, probeRows: probeRows,
	})
	require.NoError(t, err)
	require.Equal(t, expectRows(t, [][]interface{}{{3, "r"}, {7, "t"}}), anti)

	all := append(append([]string{}, semi...), anti...)
	sort.Strings(all)
	require.Equal(t, expectRows(t, probeRows), all)
}

func TestRightSemiJoin(t *testing.T) {
	got, _, err := runJoinCase(t, joinCase{
		cfg:       testConfig(t),
		joinType:  RightSemiJoin,
		buildRows: [][]interface{}{{1, "a"}, {2, "b"}, {2, "c"}},
		probeRows: [][]interface{}{{2, "x"}, {2, "z"}, {3, "y"}},
	})
	require.NoError(t, err)
	// Each matched build row appears exactly once despite two matching
	// probe rows.
	require.Equal(t, expectRows(t, [][]interface{}{{2, "b"}, {2, "c"}}), got)
}

func TestRightAntiJoin(t *testing.T) {
	got, _, err := runJoinCase(t, joinCase{
		cfg:       testConfig(t),
		joinType:  RightAntiJoin,
		buildRows: [][]interface{}{{1, "a"}, {2, "b"}, {2, "c"}},
		probeRows: [][]interface{}{{2, "x"}, {3, "y"}},
	})
	require.NoError(t, err)
	require.Equal(t, expectRows(t, [][]interface{}{{1, "a"}}), got)
}

func TestEmptyBuildSide(t *testing.T) {
	probeRows := [][]interface{}{{1, "x"}, {2, "y"}}

	inner, _, err := runJoinCase(t, joinCase{
		cfg: testConfig(t), joinType: InnerJoin, probeRows: probeRows,
	})
	require.NoError(t, err)
	require.Empty(t, inner)

	leftOuter, _, err := runJoinCase(t, joinCase{
		cfg: testConfig(t), joinType: LeftOuterJoin, probeRows: probeRows,
	})
	require.NoError(t, err)
	require.Equal(t, expectRows(t, [][]interface{}{
		{1, "x", nil, nil},
		{2, "y", nil, nil},
	}), leftOuter)

	leftAnti, _, err := runJoinCase(t, joinCase{
		cfg: testConfig(t), joinType: LeftAntiJoin, probeRows: probeRows,
	})
	require.NoError(t, err)
	require.Equal(t, expectRows(t, probeRows), leftAnti)
}

func TestEmptyProbeSide(t *testing.T) {
	buildRows := [][]interface{}{{1, "a"}, {2, "b"}}

	inner, _, err := runJoinCase(t, joinCase{
		cfg: testConfig(t), joinType: InnerJoin, buildRows: buildRows,
	})
	require.NoError(t, err)
	require.Empty(t, inner)

	semi, _, err := runJoinCase(t, joinCase{
		cfg: testConfig(t), joinType: LeftSemiJoin, buildRows: buildRows,
	})
	require.NoError(t, err)
	require.Empty(t, semi)

	rightOuter, _, err := runJoinCase(t, joinCase{
		cfg: testConfig(t), joinType: RightOuterJoin, buildRows: buildRows,
	})
	require.NoError(t, err)
	require.Equal(t, expectRows(t, [][]interface{}{
		{nil, nil, 1, "a"},
		{nil, nil, 2, "b"},
	}), rightOuter)
}

func TestDuplicateKeysCrossProduct(t *testing.T) {
	got, _, err := runJoinCase(t, joinCase{
		cfg:       testConfig(t),
		joinType:  InnerJoin,
		buildRows: [][]interface{}{{7, "a"}, {7, "b"}},
		probeRows: [][]interface{}{{7, "x"}, {7, "y"}, {7, "z"}},
	})
	require.NoError(t, err)
	require.Len(t, got, 6)
}

func TestNullKeysNeverEquiMatch(t *testing.T) {
	got, _, err := runJoinCase(t, joinCase{
		cfg:       testConfig(t),
		joinType:  InnerJoin,
		buildRows: [][]interface{}{{nil, "a"}, {1, "b"}},
		probeRows: [][]interface{}{{nil, "x"}, {1, "y"}},
	})
	require.NoError(t, err)
	require.Equal(t, expectRows(t, [][]interface{}{{1, "y", 1, "b"}}), got)
}

func TestNullEqualsNullPolicy(t *testing.T) {
	got, _, err := runJoinCase(t, joinCase{
		cfg:       testConfig(t),
		joinType:  InnerJoin,
		buildRows: [][]interface{}{{nil, "a"}, {1, "b"}},
		probeRows: [][]interface{}{{nil, "x"}, {1, "y"}},
		nullEQ:    []bool{true},
	})
	require.NoError(t, err)
	require.Equal(t, expectRows(t, [][]interface{}{
		{nil, "x", nil, "a"},
		{1, "y", 1, "b"},
	}), got)
}

func TestOtherJoinConjuncts(t *testing.T) {
	// ON p.k = b.k AND p.w < b.v, over string columns of the joined layout
	// (probe cols 0-1, build cols 2-3).
	cond := expression.CNFExprs{
		expression.NewFunction(expression.OpLT,
			&expression.Column{Index: 1, RetType: intStrSchema[1]},
			&expression.Column{Index: 3, RetType: intStrSchema[1]}),
	}
	got, _, err := runJoinCase(t, joinCase{
		cfg:        testConfig(t),
		joinType:   InnerJoin,
		buildRows:  [][]interface{}{{1, "m"}, {1, "a"}},
		probeRows:  [][]interface{}{{1, "c"}, {1, "z"}},
		otherConds: cond,
	})
	require.NoError(t, err)
	require.Equal(t, expectRows(t, [][]interface{}{{1, "c", 1, "m"}}), got)
}

func TestUnmatchedBuildRowWithNullKeyIsEmitted(t *testing.T) {
	got, _, err := runJoinCase(t, joinCase{
		cfg:       testConfig(t),
		joinType:  RightOuterJoin,
		buildRows: [][]interface{}{{nil, "a"}, {2, "b"}},
		probeRows: [][]interface{}{{2, "x"}},
	})
	require.NoError(t, err)
	require.Equal(t, expectRows(t, [][]interface{}{
		{2, "x", 2, "b"},
		{nil, nil, nil, "a"},
	}), got)
}

func bigString(tag string, i int) string {
	return fmt.Sprintf("%s-%06d-%s", tag, i, strings.Repeat("x", 96))
}

func TestForcedSpillMatchesInMemoryResult(t *testing.T) {
	const n = 8192
	buildRows := make([][]interface{}, 0, n)
	probeRows := make([][]interface{}, 0, n)
	for i := 0; i < n; i++ {
		buildRows = append(buildRows, []interface{}{i, bigString("b", i)})
		probeRows = append(probeRows, []interface{}{i, bigString("p", i)})
	}

	cfg := testConfig(t)
	cfg.MemQuota = 1 << 20
	got, stats, err := runJoinCase(t, joinCase{
		cfg: cfg, joinType: InnerJoin, buildRows: buildRows, probeRows: probeRows,
	})
	require.NoError(t, err)
	require.Len(t, got, n)
	require.GreaterOrEqual(t, stats.partitionsSpilled, int64(1))
	require.Greater(t, stats.bytesSpilled, int64(0))

	unlimited, _, err := runJoinCase(t, joinCase{
		cfg: testConfig(t), joinType: InnerJoin, buildRows: buildRows, probeRows: probeRows,
	})
	require.NoError(t, err)
	require.Equal(t, unlimited, got)
}

func TestForcedSpillOuterJoin(t *testing.T) {
	const n = 6144
	buildRows := make([][]interface{}, 0, n)
	probeRows := make([][]interface{}, 0, n)
	for i := 0; i < n; i++ {
		buildRows = append(buildRows, []interface{}{i * 2, bigString("b", i)})
		probeRows = append(probeRows, []interface{}{i, bigString("p", i)})
	}

	cfg := testConfig(t)
	cfg.MemQuota = 1 << 20
	got, stats, err := runJoinCase(t, joinCase{
		cfg: cfg, joinType: FullOuterJoin, buildRows: buildRows, probeRows: probeRows,
	})
	require.NoError(t, err)
	// Matches: even probe keys below 2n. Unmatched probes: odd keys.
	// Unmatched builds: keys >= n.
	matches := n / 2
	require.Len(t, got, matches+(n-matches)+(n-matches))
	require.GreaterOrEqual(t, stats.partitionsSpilled, int64(1))
}

func TestRecursiveRepartition(t *testing.T) {
	const n = 8192
	buildRows := make([][]interface{}, 0, n)
	probeRows := make([][]interface{}, 0, n)
	for i := 0; i < n; i++ {
		buildRows = append(buildRows, []interface{}{i, bigString("b", i)})
		probeRows = append(probeRows, []interface{}{i, bigString("p", i)})
	}

	cfg := testConfig(t)
	cfg.PartitionBits = 1
	cfg.MemQuota = 768 << 10
	got, stats, err := runJoinCase(t, joinCase{
		cfg: cfg, joinType: InnerJoin, buildRows: buildRows, probeRows: probeRows,
	})
	require.NoError(t, err)
	require.Len(t, got, n)
	require.GreaterOrEqual(t, stats.maxPartitionLevel, 1)
}

func TestMaxPartitionDepthExceeded(t *testing.T) {
	// Every row shares one key, so every level funnels into a single
	// partition that can never fit. The query must fail rather than drop
	// rows.
	const n = 4096
	buildRows := make([][]interface{}, 0, n)
	for i := 0; i < n; i++ {
		buildRows = append(buildRows, []interface{}{42, bigString("b", i)})
	}
	probeRows := [][]interface{}{{42, "p"}}

	cfg := testConfig(t)
	cfg.PartitionBits = 1
	cfg.MaxPartitionDepth = 3
	cfg.MemQuota = 512 << 10
	_, _, err := runJoinCase(t, joinCase{
		cfg: cfg, joinType: InnerJoin, buildRows: buildRows, probeRows: probeRows,
	})
	require.Error(t, err)
	require.True(t, errors.ErrorEqual(err, ErrMemoryExceeded), "got %v", err)
}

func TestCancellation(t *testing.T) {
	killer := &sqlkiller.SQLKiller{}
	killer.Kill()
	_, _, err := runJoinCase(t, joinCase{
		cfg:       testConfig(t),
		joinType:  InnerJoin,
		buildRows: [][]interface{}{{1, "a"}},
		probeRows: [][]interface{}{{1, "x"}},
		killer:    killer,
	})
	require.Error(t, err)
	require.True(t, errors.ErrorEqual(err, sqlkiller.ErrQueryInterrupted), "got %v", err)
}

func TestProbeBatchHookReplacesInterpretedPath(t *testing.T) {
	var hooked bool
	cfg := testConfig(t)
	probe := exec.NewListSource(makeList(intStrSchema, [][]interface{}{{1, "x"}}), cfg.MaxChunkSize)
	build := exec.NewListSource(makeList(intStrSchema, [][]interface{}{{1, "a"}}), cfg.MaxChunkSize)
	e, err := NewHashJoinExec(cfg, InnerJoin, probe, build, keyCol(0), keyCol(0), nil, nil, nil)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, e.Open(ctx))
	defer func() { require.NoError(t, e.Close()) }()
	e.SetProcessProbeBatchFn(func(e *HashJoinExec, req *chunk.Chunk) error {
		hooked = true
		return processProbeBatch(e, req)
	})
	req := e.NewChunk()
	total := 0
	for {
		require.NoError(t, e.Next(ctx, req))
		if req.NumRows() == 0 {
			break
		}
		total += req.NumRows()
	}
	require.True(t, hooked)
	require.Equal(t, 1, total)
}

func BenchmarkInnerJoinProbe(b *testing.B) {
	const n = 4096
	cfg := config.DefaultConfig()
	cfg.SpillDir = b.TempDir()
	buildList := makeListN(n)
	probeList := makeListN(n)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		probe := exec.NewListSource(probeList, cfg.MaxChunkSize)
		build := exec.NewListSource(buildList, cfg.MaxChunkSize)
		e, err := NewHashJoinExec(cfg, InnerJoin, probe, build, keyCol(0), keyCol(0), nil, nil, nil)
		if err != nil {
			b.Fatal(err)
		}
		ctx := context.Background()
		if err := e.Open(ctx); err != nil {
			b.Fatal(err)
		}
		req := e.NewChunk()
		for {
			if err := e.Next(ctx, req); err != nil {
				b.Fatal(err)
			}
			if req.NumRows() == 0 {
				break
			}
		}
		if err := e.Close(); err != nil {
			b.Fatal(err)
		}
	}
}

func makeListN(n int) *chunk.List {
	list := chunk.NewList(intStrSchema, 1024)
	for i := 0; i < n; i++ {
		list.AppendRow(chunk.RowFromDatums(types.MakeDatums(int64(i), "v"+fmt.Sprint(i))))
	}
	return list
}

func TestSmallOutputChunkResumesMidRow(t *testing.T) {
	// A single probe row with many matches must resume across Next calls
	// when the output chunk is tiny.
	buildRows := make([][]interface{}, 0, 100)
	for i := 0; i < 100; i++ {
		buildRows = append(buildRows, []interface{}{1, "b" + fmt.Sprint(i)})
	}
	cfg := testConfig(t)
	cfg.MaxChunkSize = 7
	got, _, err := runJoinCase(t, joinCase{
		cfg: cfg, joinType: InnerJoin, buildRows: buildRows,
		probeRows: [][]interface{}{{1, "x"}},
	})
	require.NoError(t, err)
	require.Len(t, got, 100)
}
