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

// Package watermark 权威分区新鲜度索引的只读视图。
// gate 只消费 Watermark，不产出；缺失分区以 freshness=unknown 返回（fail-closed）。
package watermark

import (
	"context"
	"time"

	"github.com/bdpdx/rezilient-restore-service-sub001/pkg/reason"
)

// Freshness 取值
const (
	FreshnessFresh   = "fresh"
	FreshnessStale   = "stale"
	FreshnessUnknown = "unknown"
)

// Executability 取值
const (
	Executable  = "executable"
	PreviewOnly = "preview_only"
	Blocked     = "blocked"
)

// Scope 查询归属的 (tenant, instance, source) 三元组
type Scope struct {
	TenantID   string `json:"tenant_id"`
	InstanceID string `json:"instance_id"`
	Source     string `json:"source"`
}

// Partition (topic, partition) 键
type Partition struct {
	Topic     string `json:"topic"`
	Partition int64  `json:"partition"`
}

// Watermark 每 (topic, partition) 的新鲜度描述
type Watermark struct {
	Topic              string      `json:"topic"`
	Partition          int64       `json:"partition"`
	Freshness          string      `json:"freshness"`
	Executability      string      `json:"executability"`
	ReasonCode         reason.Code `json:"reason_code"`
	IndexedThroughTime string      `json:"indexed_through_time,omitempty"`
	MeasuredAt         string      `json:"measured_at,omitempty"`
}

// Reader 权威水位读取契约
type Reader interface {
	// ReadWatermarksForPartitions 返回每个请求分区一条 Watermark；
	// 索引中缺失的分区返回 freshness=unknown、reason_code=blocked_freshness_unknown
	ReadWatermarksForPartitions(ctx context.Context, scope Scope, partitions []Partition, measuredAt time.Time) ([]Watermark, error)
	// ListWatermarksForSource 返回该 source 下全部已知水位
	ListWatermarksForSource(ctx context.Context, scope Scope) ([]Watermark, error)
}

// MissingWatermark 缺失分区的 fail-closed 占位
func MissingWatermark(p Partition, measuredAt time.Time) Watermark {
	return Watermark{
		Topic:         p.Topic,
		Partition:     p.Partition,
		Freshness:     FreshnessUnknown,
		Executability: Blocked,
		ReasonCode:    reason.BlockedFreshnessUnknown,
		MeasuredAt:    measuredAt.UTC().Format(time.RFC3339Nano),
	}
}
