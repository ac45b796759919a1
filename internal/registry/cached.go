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

package registry

import (
	"context"
	"errors"
	"time"

	"github.com/bdpdx/rezilient-restore-service-sub001/internal/storage/cache"
	"github.com/bdpdx/rezilient-restore-service-sub001/pkg/metrics"
)

// CachedResolver 缓存包装：found 结果缓存 positiveTTL，not_found 缓存 negativeTTL，
// outage 永不缓存。键 = (tenant_id, instance_id, service_scope)。
type CachedResolver struct {
	inner       Resolver
	store       cache.Store
	positiveTTL time.Duration
	negativeTTL time.Duration
}

// cachedEntry 缓存内容（outage 不会出现在这里）
type cachedEntry struct {
	Outcome Outcome  `json:"outcome"`
	Mapping *Mapping `json:"mapping,omitempty"`
}

// NewCachedResolver 包装 inner 解析器
func NewCachedResolver(inner Resolver, store cache.Store, positiveTTL, negativeTTL time.Duration) *CachedResolver {
	return &CachedResolver{inner: inner, store: store, positiveTTL: positiveTTL, negativeTTL: negativeTTL}
}

// ResolveSourceMapping 先查缓存，未命中时透传并按结果类别写回
func (r *CachedResolver) ResolveSourceMapping(ctx context.Context, req Request) Resolution {
	key := "acp:" + req.TenantID + "/" + req.InstanceID + "/" + req.ServiceScope

	var entry cachedEntry
	err := r.store.Get(ctx, key, &entry)
	if err == nil {
		if entry.Outcome == OutcomeFound {
			metrics.ACPCacheTotal.WithLabelValues("hit_positive").Inc()
			return Resolution{Outcome: OutcomeFound, Mapping: entry.Mapping}
		}
		metrics.ACPCacheTotal.WithLabelValues("hit_negative").Inc()
		return Resolution{Outcome: OutcomeNotFound}
	}
	if !errors.Is(err, cache.ErrNotFound) {
		// 缓存故障退化为直连，不影响正确性
		return r.inner.ResolveSourceMapping(ctx, req)
	}

	metrics.ACPCacheTotal.WithLabelValues("miss").Inc()
	res := r.inner.ResolveSourceMapping(ctx, req)
	switch res.Outcome {
	case OutcomeFound:
		_ = r.store.Set(ctx, key, cachedEntry{Outcome: OutcomeFound, Mapping: res.Mapping}, r.positiveTTL)
	case OutcomeNotFound:
		_ = r.store.Set(ctx, key, cachedEntry{Outcome: OutcomeNotFound}, r.negativeTTL)
	}
	return res
}
