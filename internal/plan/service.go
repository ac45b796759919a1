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
	"fmt"
	"time"

	"github.com/bdpdx/rezilient-restore-service-sub001/internal/registry"
	"github.com/bdpdx/rezilient-restore-service-sub001/internal/snapshot"
	"github.com/bdpdx/rezilient-restore-service-sub001/internal/watermark"
	"github.com/bdpdx/rezilient-restore-service-sub001/pkg/auth"
	"github.com/bdpdx/rezilient-restore-service-sub001/pkg/errors"
	"github.com/bdpdx/rezilient-restore-service-sub001/pkg/log"
	"github.com/bdpdx/rezilient-restore-service-sub001/pkg/metrics"
	"github.com/bdpdx/rezilient-restore-service-sub001/pkg/reason"
)

// 错误体 error 字段的取值（§错误处理）
const (
	ErrInvalidRequest = "invalid_request"
	ErrScopeBlocked   = "scope_blocked"
	ErrConflict       = "conflict"
	ErrExternalOutage = "external_outage"
	ErrNotFound       = "not_found"
	ErrInternal       = "internal_error"
)

// Result 服务层裁决，由 HTTP 边界映射为响应
type Result struct {
	Status     int
	Record     *Record
	Err        string
	ReasonCode reason.Code
	Message    string
}

// Service 计划服务：解析请求、计算 plan hash、读取权威水位、评估门控并持久化
type Service struct {
	store    snapshot.Store[State]
	reader   watermark.Reader
	resolver registry.Resolver
	logger   *log.Logger
	now      func() time.Time
}

// NewService 组装计划服务
func NewService(store snapshot.Store[State], reader watermark.Reader, resolver registry.Resolver, logger *log.Logger) *Service {
	return &Service{store: store, reader: reader, resolver: resolver, logger: logger, now: time.Now}
}

// validateDryRun 结构校验，返回首个违规字段的消息，通过时为空串
func validateDryRun(req *DryRunRequest) string {
	switch {
	case req.PlanID == "":
		return "plan_id is required"
	case req.TenantID == "":
		return "tenant_id is required"
	case req.InstanceID == "":
		return "instance_id is required"
	case req.Source == "":
		return "source is required"
	}
	for i, r := range req.Rows {
		if r.RowID == "" {
			return fmt.Sprintf("rows[%d].row_id is required", i)
		}
		switch r.Action {
		case "", ActionUpdate, ActionInsert, ActionDelete, ActionSkip:
		default:
			return fmt.Sprintf("rows[%d].action %q is not a valid action", i, r.Action)
		}
	}
	for i, m := range req.MediaCandidates {
		if m.CandidateID == "" {
			return fmt.Sprintf("media_candidates[%d].candidate_id is required", i)
		}
		switch m.Decision {
		case "", DecisionInclude, DecisionExclude:
		default:
			return fmt.Sprintf("media_candidates[%d].decision %q is not a valid decision", i, m.Decision)
		}
	}
	for i, d := range req.DeleteCandidates {
		if d.CandidateID == "" {
			return fmt.Sprintf("delete_candidates[%d].candidate_id is required", i)
		}
	}
	return ""
}

// validateScope 解析 ACP 映射并校验三元组；失败时返回非 nil Result
func (s *Service) validateScope(ctx context.Context, claims *auth.Claims, tenantID, instanceID, source string) *Result {
	res := s.resolver.ResolveSourceMapping(ctx, registry.Request{
		TenantID:     tenantID,
		InstanceID:   instanceID,
		ServiceScope: auth.ServiceScope,
	})
	check := registry.ValidateScope(claims, tenantID, instanceID, source, res)
	if check.OK {
		return nil
	}
	kind := ErrScopeBlocked
	if check.StatusCode == 503 {
		kind = ErrExternalOutage
	}
	return &Result{Status: check.StatusCode, Err: kind, ReasonCode: check.ReasonCode, Message: check.Message}
}

// CreateDryRunPlan dry-run 入口。同一 plan_id 重复提交：hash 一致返回 200 与既有记录，
// 不一致返回 409 blocked_plan_hash_mismatch。
func (s *Service) CreateDryRunPlan(ctx context.Context, claims *auth.Claims, req *DryRunRequest) *Result {
	if msg := validateDryRun(req); msg != "" {
		return &Result{Status: 400, Err: ErrInvalidRequest, ReasonCode: reason.None, Message: msg}
	}
	if blocked := s.validateScope(ctx, claims, req.TenantID, req.InstanceID, req.Source); blocked != nil {
		return blocked
	}

	now := s.now()
	scope := watermark.Scope{TenantID: req.TenantID, InstanceID: req.InstanceID, Source: req.Source}
	wms, err := readAuthoritativeWatermarks(ctx, s.reader, scope, req, now)
	if err != nil {
		s.logger.Warn("restore index read failed", "plan_id", req.PlanID, "err", err)
		return &Result{
			Status:     503,
			Err:        ErrExternalOutage,
			ReasonCode: reason.BlockedFreshnessUnknown,
			Message:    "restore index unavailable",
		}
	}

	counts := ComputeActionCounts(req.Rows, req.Conflicts, req.MediaCandidates)
	hash, err := ComputePlanHash(req, counts)
	if err != nil {
		return &Result{Status: 400, Err: ErrInvalidRequest, ReasonCode: reason.None, Message: err.Error()}
	}
	gate := EvaluateGate(req.DeleteCandidates, req.Conflicts, req.MediaCandidates, wms)
	resolutions := ResolvePIT(req.PITCandidates)

	record := &Record{
		PlanID:               req.PlanID,
		PlanHash:             hash,
		TenantID:             req.TenantID,
		InstanceID:           req.InstanceID,
		Source:               req.Source,
		LockScopeTables:      normalizeTables(req.LockScopeTables),
		RequiredCapabilities: req.RequiredCapabilities,
		RequestedBy:          req.RequestedBy,
		Approval:             req.Approval,
		PIT:                  req.PIT,
		Scope:                req.Scope,
		ExecutionOptions:     req.ExecutionOptions,
		Rows:                 req.Rows,
		Conflicts:            req.Conflicts,
		DeleteCandidates:     req.DeleteCandidates,
		MediaCandidates:      req.MediaCandidates,
		ActionCounts:         counts,
		Gate:                 gate,
		PITResolutions:       resolutions,
		Watermarks:           wms,
		GeneratedAt:          isoMillis(now),
	}

	var out Result
	if _, err := s.store.Mutate(ctx, func(st *State) error {
		if st.Plans == nil {
			st.Plans = make(map[string]*Record)
		}
		existing := st.Plans[req.PlanID]
		if existing != nil && existing.PlanHash != hash {
			metrics.PlanHashConflictTotal.Inc()
			out = Result{
				Status:     409,
				Err:        ErrConflict,
				ReasonCode: reason.BlockedPlanHashMismatch,
				Message:    fmt.Sprintf("plan %s already exists with a different plan_hash", req.PlanID),
			}
			return nil
		}
		if existing != nil && !existing.Placeholder {
			out = Result{Status: 200, Record: existing}
			return nil
		}
		// 不存在或仅有任务侧占位：写入完整记录
		st.Plans[req.PlanID] = record
		out = Result{Status: 201, Record: record}
		return nil
	}); err != nil {
		s.logger.Error("plan snapshot mutate failed", "plan_id", req.PlanID, "err", err)
		return &Result{Status: 500, Err: ErrInternal, ReasonCode: reason.FailedInternalError, Message: "plan state unavailable"}
	}

	if out.Status == 201 {
		metrics.GateDecisionTotal.WithLabelValues(gate.Decision).Inc()
		s.logger.Info("dry-run plan created",
			"plan_id", req.PlanID, "plan_hash", hash,
			"gate", gate.Decision, "reason_code", gate.ReasonCode)
	}
	return &out
}

// GetPlan 按 plan_id 读取记录；跨租户访问与缺失一样返回 ErrNotFound
func (s *Service) GetPlan(ctx context.Context, claims *auth.Claims, planID string) (*Record, error) {
	st, _, err := s.store.Read(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "read plan state")
	}
	rec, ok := st.Plans[planID]
	if !ok || rec.TenantID != claims.TenantID || rec.InstanceID != claims.InstanceID {
		return nil, errors.Wrapf(errors.ErrNotFound, "plan %s", planID)
	}
	return rec, nil
}

// EnsureJobPlan 任务创建路径的计划约束：既有记录 hash 不一致返回 ErrConflict；
// 缺失时写入占位记录，保证任务引用的 plan_id 恰有一条 PlanRecord 且 hash 相等
func (s *Service) EnsureJobPlan(ctx context.Context, tenantID, instanceID, source, planID, planHash string, tables []string) error {
	_, err := s.store.Mutate(ctx, func(st *State) error {
		if st.Plans == nil {
			st.Plans = make(map[string]*Record)
		}
		if existing := st.Plans[planID]; existing != nil {
			if existing.PlanHash != planHash {
				metrics.PlanHashConflictTotal.Inc()
				return errors.Wrapf(errors.ErrConflict, "plan %s hash mismatch", planID)
			}
			return nil
		}
		st.Plans[planID] = &Record{
			PlanID:          planID,
			PlanHash:        planHash,
			TenantID:        tenantID,
			InstanceID:      instanceID,
			Source:          source,
			LockScopeTables: normalizeTables(tables),
			GeneratedAt:     isoMillis(s.now()),
			Placeholder:     true,
		}
		return nil
	})
	return err
}
