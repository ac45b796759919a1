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

package watermark

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryReader 可 Upsert 的内存实现，测试与单机部署使用
type MemoryReader struct {
	mu      sync.RWMutex
	entries map[Scope]map[Partition]Watermark
}

// NewMemoryReader 创建空的内存索引
func NewMemoryReader() *MemoryReader {
	return &MemoryReader{entries: make(map[Scope]map[Partition]Watermark)}
}

// Upsert 写入/覆盖一条水位
func (r *MemoryReader) Upsert(scope Scope, wm Watermark) {
	r.mu.Lock()
	defer r.mu.Unlock()
	byPartition, ok := r.entries[scope]
	if !ok {
		byPartition = make(map[Partition]Watermark)
		r.entries[scope] = byPartition
	}
	byPartition[Partition{Topic: wm.Topic, Partition: wm.Partition}] = wm
}

func (r *MemoryReader) ReadWatermarksForPartitions(ctx context.Context, scope Scope, partitions []Partition, measuredAt time.Time) ([]Watermark, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	byPartition := r.entries[scope]
	out := make([]Watermark, 0, len(partitions))
	for _, p := range partitions {
		if wm, ok := byPartition[p]; ok {
			out = append(out, wm)
		} else {
			out = append(out, MissingWatermark(p, measuredAt))
		}
	}
	return out, nil
}

func (r *MemoryReader) ListWatermarksForSource(ctx context.Context, scope Scope) ([]Watermark, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	byPartition := r.entries[scope]
	out := make([]Watermark, 0, len(byPartition))
	for _, wm := range byPartition {
		out = append(out, wm)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Topic != out[j].Topic {
			return out[i].Topic < out[j].Topic
		}
		return out[i].Partition < out[j].Partition
	})
	return out, nil
}
