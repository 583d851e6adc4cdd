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

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/ggy8784/Impala/pkg/config"
	"github.com/ggy8784/Impala/pkg/executor/internal/exec"
	"github.com/ggy8784/Impala/pkg/executor/join"
	"github.com/ggy8784/Impala/pkg/expression"
	"github.com/ggy8784/Impala/pkg/metrics"
	"github.com/ggy8784/Impala/pkg/types"
	"github.com/ggy8784/Impala/pkg/util/chunk"
	"github.com/ggy8784/Impala/pkg/util/logutil"
	"github.com/ggy8784/Impala/pkg/util/sqlkiller"
)

var (
	configPath = flag.String("config", "", "config file path")
	mode       = flag.String("mode", "inner", "join mode: inner, left-outer, right-outer, full-outer, left-semi, left-anti, right-semi, right-anti, naaj")
	buildRows  = flag.Int("build-rows", 100000, "number of build rows to generate")
	probeRows  = flag.Int("probe-rows", 1000000, "number of probe rows to generate")
	memQuota   = flag.Int64("quota", 0, "memory quota in bytes, 0 for unlimited")
	logLevel   = flag.String("L", "info", "log level: debug, info, warn, error")
)

var joinModes = map[string]join.JoinType{
	"inner":       join.InnerJoin,
	"left-outer":  join.LeftOuterJoin,
	"right-outer": join.RightOuterJoin,
	"full-outer":  join.FullOuterJoin,
	"left-semi":   join.LeftSemiJoin,
	"left-anti":   join.LeftAntiJoin,
	"right-semi":  join.RightSemiJoin,
	"right-anti":  join.RightAntiJoin,
	"naaj":        join.NullAwareLeftAntiJoin,
}

func main() {
	flag.Parse()
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "joindemo:", err)
		os.Exit(1)
	}
}

func run() error {
	if err := logutil.InitLogger(*logLevel); err != nil {
		return err
	}
	cfg := config.DefaultConfig()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if *memQuota > 0 {
		cfg.MemQuota = *memQuota
	}
	joinType, ok := joinModes[*mode]
	if !ok {
		return fmt.Errorf("unknown join mode %q", *mode)
	}
	metrics.RegisterMetrics(prometheus.DefaultRegisterer)

	intTp := types.NewFieldType(types.TypeLonglong)
	strTp := types.NewFieldType(types.TypeVarString)
	schema := []*types.FieldType{intTp, strTp}

	buildList := chunk.NewList(schema, cfg.MaxChunkSize)
	for i := 0; i < *buildRows; i++ {
		buildList.AppendRow(chunk.RowFromDatums(types.MakeDatums(int64(i), "b"+strconv.Itoa(i))))
	}
	probeList := chunk.NewList(schema, cfg.MaxChunkSize)
	for i := 0; i < *probeRows; i++ {
		probeList.AppendRow(chunk.RowFromDatums(types.MakeDatums(int64(i%(*buildRows+1)), "p"+strconv.Itoa(i))))
	}

	probeSide := exec.NewListSource(probeList, cfg.MaxChunkSize)
	buildSide := exec.NewListSource(buildList, cfg.MaxChunkSize)
	probeKeys := []expression.Expression{&expression.Column{Index: 0, RetType: intTp}}
	buildKeys := []expression.Expression{&expression.Column{Index: 0, RetType: intTp}}

	killer := &sqlkiller.SQLKiller{}
	executor, err := join.NewHashJoinExec(cfg, joinType, probeSide, buildSide, probeKeys, buildKeys, nil, nil, killer)
	if err != nil {
		return err
	}
	ctx := context.Background()
	if err := executor.Open(ctx); err != nil {
		return err
	}
	defer func() {
		if err := executor.Close(); err != nil {
			logutil.BgLogger().Warn("close failed", zap.Error(err))
		}
	}()

	req := executor.NewChunk()
	total := 0
	for {
		if err := executor.Next(ctx, req); err != nil {
			return err
		}
		if req.NumRows() == 0 {
			break
		}
		total += req.NumRows()
	}
	fmt.Printf("join mode: %s\noutput rows: %d\nruntime stats: %s\n", *mode, total, executor.RuntimeStats())
	fmt.Println(executor.DebugString())
	return nil
}
