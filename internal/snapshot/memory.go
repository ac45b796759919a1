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

package snapshot

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bdpdx/rezilient-restore-service-sub001/pkg/metrics"
)

// memoryStore 内存实现：互斥锁保护的 JSON 文档；
// 状态始终以序列化字节持有，Read/Mutate 均经过反序列化获得深拷贝。
type memoryStore[S any] struct {
	mu      sync.Mutex
	name    string
	state   []byte
	version int64
	closed  bool
}

// NewMemoryStore 创建内存快照存储；name 仅用于指标标签。初始为 S 的零值、version 0。
func NewMemoryStore[S any](name string) (Store[S], error) {
	var zero S
	raw, err := json.Marshal(zero)
	if err != nil {
		return nil, err
	}
	return &memoryStore[S]{name: name, state: raw}, nil
}

func (s *memoryStore[S]) Read(ctx context.Context) (S, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out S
	if s.closed {
		return out, 0, ErrClosed
	}
	if err := json.Unmarshal(s.state, &out); err != nil {
		return out, 0, err
	}
	return out, s.version, nil
}

func (s *memoryStore[S]) Mutate(ctx context.Context, fn func(state *S) error) (int64, error) {
	timer := prometheus.NewTimer(metrics.SnapshotMutateDuration.WithLabelValues(s.name))
	defer timer.ObserveDuration()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	var working S
	if err := json.Unmarshal(s.state, &working); err != nil {
		return 0, err
	}
	if err := fn(&working); err != nil {
		return 0, err
	}
	raw, err := json.Marshal(working)
	if err != nil {
		return 0, err
	}
	s.state = raw
	s.version++
	metrics.SnapshotVersion.WithLabelValues(s.name).Set(float64(s.version))
	return s.version, nil
}

func (s *memoryStore[S]) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}
