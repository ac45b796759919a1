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

package job

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/bdpdx/rezilient-restore-service-sub001/internal/audit"
	"github.com/bdpdx/rezilient-restore-service-sub001/internal/lockmgr"
	"github.com/bdpdx/rezilient-restore-service-sub001/internal/plan"
	"github.com/bdpdx/rezilient-restore-service-sub001/internal/registry"
	"github.com/bdpdx/rezilient-restore-service-sub001/internal/snapshot"
	"github.com/bdpdx/rezilient-restore-service-sub001/pkg/auth"
	"github.com/bdpdx/rezilient-restore-service-sub001/pkg/errors"
	"github.com/bdpdx/rezilient-restore-service-sub001/pkg/log"
	"github.com/bdpdx/rezilient-restore-service-sub001/pkg/metrics"
	"github.com/bdpdx/rezilient-restore-service-sub001/pkg/reason"
)

// 错误体 error 字段的取值
const (
	errInvalidRequest = "invalid_request"
	errScopeBlocked   = "scope_blocked"
	errBlocked        = "blocked"
	errConflict       = "conflict"
	errNotFound       = "not_found"
	errOutage         = "external_outage"
	errInternal       = "internal_error"
)

// CreateRequest POST /v1/jobs 请求体
type CreateRequest struct {
	TenantID             string         `json:"tenant_id"`
	InstanceID           string         `json:"instance_id"`
	Source               string         `json:"source"`
	PlanID               string         `json:"plan_id"`
	PlanHash             string         `json:"plan_hash"`
	LockScopeTables      []string       `json:"lock_scope_tables"`
	RequiredCapabilities []string       `json:"required_capabilities,omitempty"`
	RequestedBy          string         `json:"requested_by,omitempty"`
	Approval             map[string]any `json:"approval,omitempty"`
}

// CompleteRequest POST /v1/jobs/:job_id/complete 请求体
type CompleteRequest struct {
	Status     string      `json:"status"`
	ReasonCode reason.Code `json:"reason_code,omitempty"`
}

// Result 服务层裁决，由 HTTP 边界映射为响应
type Result struct {
	Status         int
	Job            *Record
	PromotedJobIDs []string
	Err            string
	ReasonCode     reason.Code
	Message        string
}

// Service 任务服务：锁裁决、生命周期迁移与审计追加
type Service struct {
	store        snapshot.Store[State]
	plans        *plan.Service
	resolver     registry.Resolver
	capabilities map[string]struct{}
	logger       *log.Logger
	now          func() time.Time
	newJobID     func() string
}

// NewService 组装任务服务；capabilities 为进程声明的可执行能力集合
func NewService(store snapshot.Store[State], plans *plan.Service, resolver registry.Resolver, capabilities []string, logger *log.Logger) *Service {
	caps := make(map[string]struct{}, len(capabilities))
	for _, c := range capabilities {
		caps[c] = struct{}{}
	}
	return &Service{
		store:        store,
		plans:        plans,
		resolver:     resolver,
		capabilities: caps,
		logger:       logger,
		now:          time.Now,
		newJobID:     func() string { return "job_" + uuid.NewString() },
	}
}

func isHex64(s string) bool {
	if len(s) != 64 {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

func validateCreate(req *CreateRequest) string {
	switch {
	case req.PlanID == "":
		return "plan_id is required"
	case !isHex64(req.PlanHash):
		return "plan_hash must be a lowercase hex sha-256"
	case req.TenantID == "":
		return "tenant_id is required"
	case req.InstanceID == "":
		return "instance_id is required"
	case req.Source == "":
		return "source is required"
	}
	return ""
}

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
	kind := errScopeBlocked
	if check.StatusCode == 503 {
		kind = errOutage
	}
	return &Result{Status: check.StatusCode, Err: kind, ReasonCode: check.ReasonCode, Message: check.Message}
}

// missingCapability 返回进程未声明的第一个所需能力
func (s *Service) missingCapability(required []string) string {
	for _, c := range required {
		if _, ok := s.capabilities[c]; !ok {
			return c
		}
	}
	return ""
}

func normalizerFor(rec *Record) audit.Normalizer {
	return audit.Normalizer{
		TenantID:   rec.TenantID,
		InstanceID: rec.InstanceID,
		Source:     rec.Source,
		PlanID:     rec.PlanID,
		PlanHash:   rec.PlanHash,
	}
}

func appendEvent(st *State, rec *Record, eventType string, code reason.Code, createdAt string, details map[string]any) {
	seq := len(st.Events[rec.JobID]) + 1
	st.Events[rec.JobID] = append(st.Events[rec.JobID], normalizerFor(rec).Event(seq, rec.JobID, eventType, code, createdAt, details))
}

func exportLocks(st *State, mgr *lockmgr.Manager) {
	st.Locks = mgr.ExportState()
	metrics.LockRunning.Set(float64(len(st.Locks.Running)))
	metrics.LockQueueDepth.Set(float64(len(st.Locks.Queued)))
}

// refreshQueuePositions 晋升/出队后重排剩余排队任务的 1-based 位置
func refreshQueuePositions(st *State) {
	for i, q := range st.Locks.Queued {
		if rec, ok := st.Jobs[q.JobID]; ok && rec.Status == StatusQueued {
			pos := i + 1
			rec.QueuePosition = &pos
		}
	}
}

// CreateJob 创建任务：计划约束校验（hash 不可变，缺失时占位）后由锁管理器裁决
// running/queued，任务记录与 job_created + job_queued/job_started 事件同事务写入。
func (s *Service) CreateJob(ctx context.Context, claims *auth.Claims, req *CreateRequest) *Result {
	if msg := validateCreate(req); msg != "" {
		return &Result{Status: 400, Err: errInvalidRequest, ReasonCode: reason.None, Message: msg}
	}
	if blocked := s.validateScope(ctx, claims, req.TenantID, req.InstanceID, req.Source); blocked != nil {
		return blocked
	}
	if missing := s.missingCapability(req.RequiredCapabilities); missing != "" {
		return &Result{
			Status:     403,
			Err:        errBlocked,
			ReasonCode: reason.BlockedMissingCapability,
			Message:    fmt.Sprintf("capability %q is not available", missing),
		}
	}

	if err := s.plans.EnsureJobPlan(ctx, req.TenantID, req.InstanceID, req.Source, req.PlanID, req.PlanHash, req.LockScopeTables); err != nil {
		if errors.Is(err, errors.ErrConflict) {
			return &Result{
				Status:     409,
				Err:        errConflict,
				ReasonCode: reason.BlockedPlanHashMismatch,
				Message:    fmt.Sprintf("plan %s already exists with a different plan_hash", req.PlanID),
			}
		}
		s.logger.Error("plan constraint check failed", "plan_id", req.PlanID, "err", err)
		return &Result{Status: 500, Err: errInternal, ReasonCode: reason.FailedInternalError, Message: "plan state unavailable"}
	}

	jobID := s.newJobID()
	now := isoMillis(s.now())

	var out Result
	if _, err := s.store.Mutate(ctx, func(st *State) error {
		st.init()
		mgr := lockmgr.Load(st.Locks)
		acq := mgr.Acquire(jobID, req.TenantID, req.InstanceID, req.LockScopeTables)

		rec := &Record{
			JobID:                jobID,
			PlanID:               req.PlanID,
			PlanHash:             req.PlanHash,
			TenantID:             req.TenantID,
			InstanceID:           req.InstanceID,
			Source:               req.Source,
			StatusReasonCode:     acq.ReasonCode,
			LockScopeTables:      normalizeTables(req.LockScopeTables),
			RequiredCapabilities: req.RequiredCapabilities,
			RequestedBy:          req.RequestedBy,
			CreatedAt:            now,
			UpdatedAt:            now,
		}
		appendEvent(st, rec, audit.EventJobCreated, reason.None, now, map[string]any{
			"requested_by": req.RequestedBy,
		})
		if acq.State == "queued" {
			rec.Status = StatusQueued
			pos := acq.QueuePosition
			rec.QueuePosition = &pos
			rec.WaitTables = acq.BlockedTables
			appendEvent(st, rec, audit.EventJobQueued, acq.ReasonCode, now, map[string]any{
				"queue_position": acq.QueuePosition,
				"wait_tables":    acq.BlockedTables,
			})
		} else {
			rec.Status = StatusRunning
			rec.StartedAt = now
			appendEvent(st, rec, audit.EventJobStarted, reason.None, now, nil)
		}
		st.Jobs[jobID] = rec
		exportLocks(st, mgr)

		out = Result{Status: 201, Job: rec}
		return nil
	}); err != nil {
		s.logger.Error("job snapshot mutate failed", "plan_id", req.PlanID, "err", err)
		return &Result{Status: 500, Err: errInternal, ReasonCode: reason.FailedInternalError, Message: "job state unavailable"}
	}

	metrics.JobTotal.WithLabelValues(out.Job.Status).Inc()
	s.logger.Info("job created",
		"job_id", out.Job.JobID, "plan_id", out.Job.PlanID,
		"status", out.Job.Status, "reason_code", out.Job.StatusReasonCode)
	return &out
}

func eventTypeForTerminal(status string) string {
	switch status {
	case StatusCompleted:
		return audit.EventJobCompleted
	case StatusFailed:
		return audit.EventJobFailed
	default:
		return audit.EventJobCancelled
	}
}

// CompleteJob 将任务迁入终态。排队中的任务出队且不触发晋升；
// 持锁任务释放其表并按 FIFO 贪心晋升队头集合，被晋升者置为 running。
func (s *Service) CompleteJob(ctx context.Context, claims *auth.Claims, jobID string, req *CompleteRequest) *Result {
	if !Terminal(req.Status) {
		return &Result{Status: 400, Err: errInvalidRequest, ReasonCode: reason.None,
			Message: fmt.Sprintf("status %q is not a terminal status", req.Status)}
	}
	if req.ReasonCode != "" && !reason.Valid(req.ReasonCode) {
		return &Result{Status: 400, Err: errInvalidRequest, ReasonCode: reason.None,
			Message: fmt.Sprintf("reason_code %q is not in the vocabulary", req.ReasonCode)}
	}
	code := req.ReasonCode
	if code == "" {
		code = reason.None
	}
	now := isoMillis(s.now())

	var out Result
	if _, err := s.store.Mutate(ctx, func(st *State) error {
		st.init()
		rec, ok := st.Jobs[jobID]
		if !ok || rec.TenantID != claims.TenantID {
			out = Result{Status: 404, Err: errNotFound, ReasonCode: reason.None, Message: "job not found"}
			return nil
		}
		if Terminal(rec.Status) {
			out = Result{Status: 409, Err: errConflict, ReasonCode: reason.None, Message: "already_terminal"}
			return nil
		}

		mgr := lockmgr.Load(st.Locks)
		var promoted []string
		if rec.Status == StatusQueued {
			mgr.Dequeue(jobID)
		} else {
			rel := mgr.Release(jobID)
			for _, p := range rel.Promoted {
				promoted = append(promoted, p.JobID)
			}
		}

		rec.Status = req.Status
		rec.StatusReasonCode = code
		rec.QueuePosition = nil
		rec.WaitTables = nil
		rec.CompletedAt = now
		rec.UpdatedAt = now
		appendEvent(st, rec, eventTypeForTerminal(req.Status), code, now, nil)

		for _, id := range promoted {
			p, ok := st.Jobs[id]
			if !ok {
				continue
			}
			p.Status = StatusRunning
			p.StatusReasonCode = reason.None
			p.QueuePosition = nil
			p.WaitTables = nil
			p.StartedAt = now
			p.UpdatedAt = now
			appendEvent(st, p, audit.EventJobStarted, reason.None, now, nil)
			metrics.JobTotal.WithLabelValues(StatusRunning).Inc()
		}
		metrics.LockPromotionTotal.Add(float64(len(promoted)))

		exportLocks(st, mgr)
		refreshQueuePositions(st)

		out = Result{Status: 200, Job: rec, PromotedJobIDs: promoted}
		return nil
	}); err != nil {
		s.logger.Error("job snapshot mutate failed", "job_id", jobID, "err", err)
		return &Result{Status: 500, Err: errInternal, ReasonCode: reason.FailedInternalError, Message: "job state unavailable"}
	}

	if out.Status == 200 {
		metrics.JobTotal.WithLabelValues(out.Job.Status).Inc()
		s.logger.Info("job completed",
			"job_id", jobID, "status", out.Job.Status,
			"reason_code", out.Job.StatusReasonCode, "promoted", out.PromotedJobIDs)
	}
	return &out
}

// PauseJob 暂停 running 任务；锁保持持有，队列不受影响
func (s *Service) PauseJob(ctx context.Context, claims *auth.Claims, jobID string, code reason.Code) *Result {
	if code == "" {
		code = reason.PausedTokenRefreshGraceExhausted
	}
	if !reason.Valid(code) {
		return &Result{Status: 400, Err: errInvalidRequest, ReasonCode: reason.None,
			Message: fmt.Sprintf("reason_code %q is not in the vocabulary", code)}
	}
	now := isoMillis(s.now())

	var out Result
	if _, err := s.store.Mutate(ctx, func(st *State) error {
		st.init()
		rec, ok := st.Jobs[jobID]
		if !ok || rec.TenantID != claims.TenantID {
			out = Result{Status: 404, Err: errNotFound, ReasonCode: reason.None, Message: "job not found"}
			return nil
		}
		if rec.Status != StatusRunning {
			out = Result{Status: 409, Err: errConflict, ReasonCode: reason.None, Message: "job_not_running"}
			return nil
		}
		rec.Status = StatusPaused
		rec.StatusReasonCode = code
		rec.UpdatedAt = now
		appendEvent(st, rec, audit.EventJobPaused, code, now, nil)
		out = Result{Status: 200, Job: rec}
		return nil
	}); err != nil {
		s.logger.Error("job snapshot mutate failed", "job_id", jobID, "err", err)
		return &Result{Status: 500, Err: errInternal, ReasonCode: reason.FailedInternalError, Message: "job state unavailable"}
	}
	return &out
}

// ResumePausedJob 恢复 paused 任务为 running
func (s *Service) ResumePausedJob(ctx context.Context, claims *auth.Claims, jobID string) *Result {
	now := isoMillis(s.now())

	var out Result
	if _, err := s.store.Mutate(ctx, func(st *State) error {
		st.init()
		rec, ok := st.Jobs[jobID]
		if !ok || rec.TenantID != claims.TenantID {
			out = Result{Status: 404, Err: errNotFound, ReasonCode: reason.None, Message: "job not found"}
			return nil
		}
		if rec.Status != StatusPaused {
			out = Result{Status: 409, Err: errConflict, ReasonCode: reason.None, Message: "job_not_paused"}
			return nil
		}
		rec.Status = StatusRunning
		rec.StatusReasonCode = reason.None
		rec.UpdatedAt = now
		appendEvent(st, rec, audit.EventJobStarted, reason.None, now, map[string]any{
			"resumed_from_pause": true,
		})
		out = Result{Status: 200, Job: rec}
		return nil
	}); err != nil {
		s.logger.Error("job snapshot mutate failed", "job_id", jobID, "err", err)
		return &Result{Status: 500, Err: errInternal, ReasonCode: reason.FailedInternalError, Message: "job state unavailable"}
	}
	return &out
}

// GetJob 按 job_id 读取；跨租户与缺失一样返回 ErrNotFound
func (s *Service) GetJob(ctx context.Context, claims *auth.Claims, jobID string) (*Record, error) {
	st, _, err := s.store.Read(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "read job state")
	}
	rec, ok := st.Jobs[jobID]
	if !ok || rec.TenantID != claims.TenantID {
		return nil, errors.Wrapf(errors.ErrNotFound, "job %s", jobID)
	}
	return rec, nil
}

// ListJobs 列出调用方 (tenant, instance) 下的任务，按创建时间与 job_id 排序
func (s *Service) ListJobs(ctx context.Context, claims *auth.Claims) ([]*Record, error) {
	st, _, err := s.store.Read(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "read job state")
	}
	out := make([]*Record, 0, len(st.Jobs))
	for _, rec := range st.Jobs {
		if rec.TenantID == claims.TenantID && rec.InstanceID == claims.InstanceID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].JobID < out[j].JobID
	})
	return out, nil
}

// ListJobEvents 返回任务的归一化审计流，按回放比较器 (created_at, event_id) 排序
func (s *Service) ListJobEvents(ctx context.Context, claims *auth.Claims, jobID string) ([]audit.Event, error) {
	st, _, err := s.store.Read(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "read job state")
	}
	rec, ok := st.Jobs[jobID]
	if !ok || rec.TenantID != claims.TenantID {
		return nil, errors.Wrapf(errors.ErrNotFound, "job %s", jobID)
	}
	events := make([]audit.Event, len(st.Events[jobID]))
	copy(events, st.Events[jobID])
	audit.SortForReplay(events)
	return events, nil
}

// LockSnapshot 当前锁状态的只读视图
func (s *Service) LockSnapshot(ctx context.Context) (lockmgr.State, error) {
	st, _, err := s.store.Read(ctx)
	if err != nil {
		return lockmgr.State{}, errors.Wrap(err, "read job state")
	}
	return st.Locks, nil
}

// normalizeTables 去重并按字典序排序（与锁管理器一致）
func normalizeTables(tables []string) []string {
	seen := make(map[string]struct{}, len(tables))
	out := make([]string, 0, len(tables))
	for _, t := range tables {
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
