// Copyright 2026 bdpdx
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
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// 全局 Registry，供 API 进程注册与暴露
var DefaultRegistry = prometheus.NewRegistry()

func init() {
	DefaultRegistry.MustRegister(
		JobTotal, GateDecisionTotal, PlanHashConflictTotal,
		LockRunning, LockQueueDepth, LockPromotionTotal,
		SnapshotVersion, SnapshotMutateDuration,
		ACPCacheTotal, ACPResolveTotal,
	)
}

// JobTotal Job 总数（按进入的状态）
var JobTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "rrs_job_total",
		Help: "Job 状态变迁总数（按目标状态）",
	},
	[]string{"status"}, // queued | running | paused | completed | failed | cancelled
)

// GateDecisionTotal dry-run gate 决策总数
var GateDecisionTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "rrs_gate_decision_total",
		Help: "Dry-run plan gate 决策总数",
	},
	[]string{"decision"}, // executable | preview_only | blocked
)

// PlanHashConflictTotal plan_hash 冲突（409）总数
var PlanHashConflictTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "rrs_plan_hash_conflict_total",
		Help: "同一 plan_id 提交不同 plan_hash 的冲突总数",
	},
)

// LockRunning 当前 running_jobs 数
var LockRunning = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "rrs_lock_running",
		Help: "当前持有表锁运行中的 Job 数",
	},
)

// LockQueueDepth 当前 queued_jobs 队列深度
var LockQueueDepth = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "rrs_lock_queue_depth",
		Help: "当前表锁 FIFO 等待队列深度",
	},
)

// LockPromotionTotal release 触发的队首晋升总数
var LockPromotionTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "rrs_lock_promotion_total",
		Help: "锁释放后按 FIFO 晋升为 running 的 Job 总数",
	},
)

// SnapshotVersion 各逻辑存储当前快照版本号
var SnapshotVersion = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "rrs_snapshot_version",
		Help: "逻辑存储当前快照版本号",
	},
	[]string{"store"}, // plans | jobs
)

// SnapshotMutateDuration snapshot.Mutate 耗时（秒）
var SnapshotMutateDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "rrs_snapshot_mutate_duration_seconds",
		Help:    "快照事务执行耗时（秒）",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"store"},
)

// ACPCacheTotal Registry 缓存命中统计
var ACPCacheTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "rrs_acp_cache_total",
		Help: "ACP 映射缓存查询总数（按结果）",
	},
	[]string{"result"}, // hit_positive | hit_negative | miss
)

// ACPResolveTotal ACP 解析结果统计
var ACPResolveTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "rrs_acp_resolve_total",
		Help: "ACP 源映射解析总数（按结果）",
	},
	[]string{"outcome"}, // found | not_found | outage
)

// WritePrometheus 将 Prometheus 文本格式写入 w（供 Hertz /metrics 复用）
func WritePrometheus(w io.Writer) error {
	metrics, err := DefaultRegistry.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.FmtText)
	for _, mf := range metrics {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}
