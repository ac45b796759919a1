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
	"sync"
)

// LocalResolver 静态映射实现：(tenant_id, instance_id) → source，
// 单机部署与测试使用；映射默认全激活、允许 rrs scope。
type LocalResolver struct {
	mu       sync.RWMutex
	mappings map[string]Mapping
}

// NewLocalResolver 创建静态解析器；static 的键为 "tenant/instance"，值为 source
func NewLocalResolver(static map[string]string) *LocalResolver {
	r := &LocalResolver{mappings: make(map[string]Mapping, len(static))}
	for key, source := range static {
		tenantID, instanceID, ok := splitKey(key)
		if !ok {
			continue
		}
		r.mappings[key] = Mapping{
			TenantID:         tenantID,
			InstanceID:       instanceID,
			Source:           source,
			TenantState:      StateActive,
			EntitlementState: StateActive,
			InstanceState:    StateActive,
			AllowedServices:  []string{"rrs"},
		}
	}
	return r
}

// Upsert 注入/覆盖一条完整映射（测试与运维脚本使用）
func (r *LocalResolver) Upsert(m Mapping) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mappings[m.TenantID+"/"+m.InstanceID] = m
}

// ResolveSourceMapping 查表；未命中返回 not_found，本实现不会产生 outage
func (r *LocalResolver) ResolveSourceMapping(ctx context.Context, req Request) Resolution {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.mappings[req.TenantID+"/"+req.InstanceID]
	if !ok {
		return Resolution{Outcome: OutcomeNotFound}
	}
	mapping := m
	return Resolution{Outcome: OutcomeFound, Mapping: &mapping}
}

func splitKey(key string) (tenantID, instanceID string, ok bool) {
	for i := 0; i < len(key); i++ {
		if key[i] == '/' {
			return key[:i], key[i+1:], key[:i] != "" && key[i+1:] != ""
		}
	}
	return "", "", false
}
