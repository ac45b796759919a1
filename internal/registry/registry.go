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

// Package registry 源映射解析：校验 (tenant, instance, source) 三元组与 ACP 的
// 规范映射一致。Local 为静态映射；External 调用进程外 ACP 控制面；
// Cached 记忆 found/not_found 结果（outage 永不缓存）。
package registry

import (
	"context"

	"github.com/bdpdx/rezilient-restore-service-sub001/pkg/auth"
	"github.com/bdpdx/rezilient-restore-service-sub001/pkg/reason"
)

// Outcome 解析结果类别
type Outcome string

const (
	OutcomeFound    Outcome = "found"
	OutcomeNotFound Outcome = "not_found"
	OutcomeOutage   Outcome = "outage"
)

// 映射与请求共用的激活状态值
const StateActive = "active"

// Request 解析请求
type Request struct {
	TenantID     string `json:"tenant_id"`
	InstanceID   string `json:"instance_id"`
	ServiceScope string `json:"service_scope"`
}

// Mapping ACP 规范映射
type Mapping struct {
	TenantID         string   `json:"tenant_id"`
	InstanceID       string   `json:"instance_id"`
	Source           string   `json:"source"`
	TenantState      string   `json:"tenant_state"`
	EntitlementState string   `json:"entitlement_state"`
	InstanceState    string   `json:"instance_state"`
	AllowedServices  []string `json:"allowed_services"`
}

// Resolution 解析裁决；Outcome=outage 时 Message/Status 携带诊断信息
type Resolution struct {
	Outcome Outcome  `json:"outcome"`
	Mapping *Mapping `json:"mapping,omitempty"`
	Message string   `json:"message,omitempty"`
	Status  int      `json:"status,omitempty"`
}

// Resolver ResolveSourceMapping 契约；实现为 Local / External / Cached
type Resolver interface {
	ResolveSourceMapping(ctx context.Context, req Request) Resolution
}

// ScopeCheck 三元组 scope 校验结果
type ScopeCheck struct {
	OK         bool
	StatusCode int
	ReasonCode reason.Code
	Message    string
}

// ValidateScope Plan/Job 服务共用的 scope 校验策略：
// claims 三元组 == 请求三元组；映射三元组 == 请求三元组；
// service_scope ∈ allowedServices；tenant/entitlement/instance 三个状态均为 active。
// token 与 body 的三元组必须各自独立校验，绝不由一方推导另一方。
func ValidateScope(claims *auth.Claims, tenantID, instanceID, source string, res Resolution) ScopeCheck {
	switch res.Outcome {
	case OutcomeOutage:
		return ScopeCheck{
			StatusCode: 503,
			ReasonCode: reason.BlockedAuthControlPlaneOutage,
			Message:    "auth control plane unavailable: " + res.Message,
		}
	case OutcomeNotFound:
		return ScopeCheck{
			StatusCode: 403,
			ReasonCode: reason.BlockedUnknownSourceMapping,
			Message:    "no source mapping for tenant/instance",
		}
	}
	m := res.Mapping
	if claims == nil ||
		claims.TenantID != tenantID || claims.InstanceID != instanceID || claims.Source != source {
		return scopeBlocked("request scope does not match token claims")
	}
	if m == nil || m.TenantID != tenantID || m.InstanceID != instanceID || m.Source != source {
		return scopeBlocked("request scope does not match canonical mapping")
	}
	if !containsService(m.AllowedServices, auth.ServiceScope) {
		return scopeBlocked("service not enabled for this instance")
	}
	if m.TenantState != StateActive || m.EntitlementState != StateActive || m.InstanceState != StateActive {
		return scopeBlocked("tenant, entitlement or instance is not active")
	}
	return ScopeCheck{OK: true, ReasonCode: reason.None}
}

func scopeBlocked(msg string) ScopeCheck {
	return ScopeCheck{
		StatusCode: 403,
		ReasonCode: reason.BlockedUnknownSourceMapping,
		Message:    msg,
	}
}

func containsService(services []string, want string) bool {
	for _, s := range services {
		if s == want {
			return true
		}
	}
	return false
}
