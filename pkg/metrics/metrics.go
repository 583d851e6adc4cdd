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

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Join executor metrics.
var (
	PartitionsSpilledCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "impala",
			Subsystem: "executor",
			Name:      "join_partitions_spilled_total",
			Help:      "Counter of hash join partitions spilled to disk.",
		})

	BytesSpilledCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "impala",
			Subsystem: "executor",
			Name:      "join_bytes_spilled_total",
			Help:      "Counter of bytes written to join spill files.",
		})

	ProbeRowsPartitionedCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "impala",
			Subsystem: "executor",
			Name:      "join_probe_rows_partitioned_total",
			Help:      "Counter of probe rows routed to a hash partition.",
		})

	NullAwareEvalDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "impala",
			Subsystem: "executor",
			Name:      "join_null_aware_eval_seconds",
			Help:      "Bucketed histogram of time spent evaluating null-aware anti join conjuncts.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 20),
		})

	MaxPartitionLevelGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "impala",
			Subsystem: "executor",
			Name:      "join_max_partition_level",
			Help:      "Deepest partition recursion level reached by the last join.",
		})
)

// RegisterMetrics registers the join executor metrics with the registry.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(PartitionsSpilledCounter)
	reg.MustRegister(BytesSpilledCounter)
	reg.MustRegister(ProbeRowsPartitionedCounter)
	reg.MustRegister(NullAwareEvalDuration)
	reg.MustRegister(MaxPartitionLevelGauge)
}
