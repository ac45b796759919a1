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

package plan

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/bdpdx/rezilient-restore-service-sub001/internal/watermark"
)

// partitionValue 从透传元数据取非负整数分区号
func partitionValue(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		if n < 0 || n != float64(int64(n)) {
			return 0, false
		}
		return int64(n), true
	case int:
		if n < 0 {
			return 0, false
		}
		return int64(n), true
	case int64:
		if n < 0 {
			return 0, false
		}
		return n, true
	case json.Number:
		i, err := n.Int64()
		if err != nil || i < 0 {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}

// partitionsFromRows 行元数据派生 (topic, partition)：topic 非空、partition 为非负整数
func partitionsFromRows(rows []Row) []watermark.Partition {
	seen := make(map[watermark.Partition]struct{})
	var out []watermark.Partition
	for _, r := range rows {
		topic, _ := r.Metadata["topic"].(string)
		topic = strings.TrimSpace(topic)
		if topic == "" {
			continue
		}
		part, ok := partitionValue(r.Metadata["partition"])
		if !ok {
			continue
		}
		p := watermark.Partition{Topic: topic, Partition: part}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Topic != out[j].Topic {
			return out[i].Topic < out[j].Topic
		}
		return out[i].Partition < out[j].Partition
	})
	return out
}

// topicsFromRows 行元数据中的 topic 集合（不要求 partition 有效）
func topicsFromRows(rows []Row) map[string]struct{} {
	topics := make(map[string]struct{})
	for _, r := range rows {
		topic, _ := r.Metadata["topic"].(string)
		topic = strings.TrimSpace(topic)
		if topic != "" {
			topics[topic] = struct{}{}
		}
	}
	return topics
}

// hintPartitions 提示中的 (topic, partition)，保序去重
func hintPartitions(hints []WatermarkHint) []watermark.Partition {
	seen := make(map[watermark.Partition]struct{})
	var out []watermark.Partition
	for _, h := range hints {
		topic := strings.TrimSpace(h.Topic)
		if topic == "" || h.Partition < 0 {
			continue
		}
		p := watermark.Partition{Topic: topic, Partition: h.Partition}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

// readAuthoritativeWatermarks 权威水位读取链：
// 行派生分区直接点查；否则列出 source 全量并按行 topic（再退到提示 topic）取交集；
// 交集为空时退到提示分区逐一点查。提示本身不产出水位，只决定查询范围。
func readAuthoritativeWatermarks(ctx context.Context, reader watermark.Reader, scope watermark.Scope, req *DryRunRequest, measuredAt time.Time) ([]watermark.Watermark, error) {
	rowParts := partitionsFromRows(req.Rows)
	if len(rowParts) > 0 {
		return reader.ReadWatermarksForPartitions(ctx, scope, rowParts, measuredAt)
	}

	all, err := reader.ListWatermarksForSource(ctx, scope)
	if err != nil {
		return nil, err
	}
	topics := topicsFromRows(req.Rows)
	if len(topics) == 0 {
		for _, h := range req.Watermarks {
			if t := strings.TrimSpace(h.Topic); t != "" {
				topics[t] = struct{}{}
			}
		}
	}
	var filtered []watermark.Watermark
	for _, wm := range all {
		if _, ok := topics[wm.Topic]; ok {
			filtered = append(filtered, wm)
		}
	}
	if len(filtered) > 0 {
		return filtered, nil
	}

	hints := hintPartitions(req.Watermarks)
	if len(hints) == 0 {
		return nil, nil
	}
	return reader.ReadWatermarksForPartitions(ctx, scope, hints, measuredAt)
}
