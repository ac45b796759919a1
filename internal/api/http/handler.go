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

// Package http 还原服务的 HTTP 边界：JSON over HTTP，错误体统一为
// {error, reason_code, message}，所有业务路由要求 bearer token。
package http

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"github.com/bdpdx/rezilient-restore-service-sub001/internal/job"
	"github.com/bdpdx/rezilient-restore-service-sub001/internal/plan"
	"github.com/bdpdx/rezilient-restore-service-sub001/pkg/auth"
	"github.com/bdpdx/rezilient-restore-service-sub001/pkg/errors"
	"github.com/bdpdx/rezilient-restore-service-sub001/pkg/metrics"
	"github.com/bdpdx/rezilient-restore-service-sub001/pkg/reason"
)

// Handler 聚合计划与任务服务
type Handler struct {
	plans *plan.Service
	jobs  *job.Service
}

// NewHandler 创建 Handler
func NewHandler(plans *plan.Service, jobs *job.Service) *Handler {
	return &Handler{plans: plans, jobs: jobs}
}

func writeError(c *app.RequestContext, status int, kind string, code reason.Code, message string) {
	if code == "" {
		code = reason.None
	}
	c.JSON(status, map[string]string{
		"error":       kind,
		"reason_code": string(code),
		"message":     message,
	})
}

func claimsOrAbort(ctx context.Context, c *app.RequestContext) *auth.Claims {
	claims := auth.GetClaims(ctx)
	if claims == nil {
		writeError(c, consts.StatusUnauthorized, "unauthorized", reason.DeniedTokenMalformed, "missing claims")
		return nil
	}
	return claims
}

// decodeBody 以 UseNumber 解析请求体，保持数字字面量进入 hash 规范化时不失真
func decodeBody(c *app.RequestContext, v any) error {
	dec := json.NewDecoder(bytes.NewReader(c.Request.Body()))
	dec.UseNumber()
	return dec.Decode(v)
}

// CreateDryRunPlan POST /v1/plans/dry-run
func (h *Handler) CreateDryRunPlan(ctx context.Context, c *app.RequestContext) {
	claims := claimsOrAbort(ctx, c)
	if claims == nil {
		return
	}
	var req plan.DryRunRequest
	if err := decodeBody(c, &req); err != nil {
		writeError(c, consts.StatusBadRequest, plan.ErrInvalidRequest, reason.None, "request body is not valid JSON")
		return
	}
	res := h.plans.CreateDryRunPlan(ctx, claims, &req)
	if res.Err != "" {
		writeError(c, res.Status, res.Err, res.ReasonCode, res.Message)
		return
	}
	c.JSON(res.Status, map[string]any{"plan": res.Record})
}

// GetPlan GET /v1/plans/:plan_id
func (h *Handler) GetPlan(ctx context.Context, c *app.RequestContext) {
	claims := claimsOrAbort(ctx, c)
	if claims == nil {
		return
	}
	rec, err := h.plans.GetPlan(ctx, claims, c.Param("plan_id"))
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			writeError(c, consts.StatusNotFound, "not_found", reason.None, "plan not found")
			return
		}
		hlog.CtxErrorf(ctx, "get plan failed: %v", err)
		writeError(c, consts.StatusInternalServerError, "internal_error", reason.FailedInternalError, "plan state unavailable")
		return
	}
	c.JSON(consts.StatusOK, map[string]any{"plan": rec})
}

// CreateJob POST /v1/jobs
func (h *Handler) CreateJob(ctx context.Context, c *app.RequestContext) {
	claims := claimsOrAbort(ctx, c)
	if claims == nil {
		return
	}
	var req job.CreateRequest
	if err := decodeBody(c, &req); err != nil {
		writeError(c, consts.StatusBadRequest, "invalid_request", reason.None, "request body is not valid JSON")
		return
	}
	res := h.jobs.CreateJob(ctx, claims, &req)
	if res.Err != "" {
		writeError(c, res.Status, res.Err, res.ReasonCode, res.Message)
		return
	}
	c.JSON(res.Status, map[string]any{"job": res.Job})
}

// ListJobs GET /v1/jobs
func (h *Handler) ListJobs(ctx context.Context, c *app.RequestContext) {
	claims := claimsOrAbort(ctx, c)
	if claims == nil {
		return
	}
	jobs, err := h.jobs.ListJobs(ctx, claims)
	if err != nil {
		hlog.CtxErrorf(ctx, "list jobs failed: %v", err)
		writeError(c, consts.StatusInternalServerError, "internal_error", reason.FailedInternalError, "job state unavailable")
		return
	}
	c.JSON(consts.StatusOK, map[string]any{"jobs": jobs})
}

// GetJob GET /v1/jobs/:job_id
func (h *Handler) GetJob(ctx context.Context, c *app.RequestContext) {
	claims := claimsOrAbort(ctx, c)
	if claims == nil {
		return
	}
	rec, err := h.jobs.GetJob(ctx, claims, c.Param("job_id"))
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			writeError(c, consts.StatusNotFound, "not_found", reason.None, "job not found")
			return
		}
		hlog.CtxErrorf(ctx, "get job failed: %v", err)
		writeError(c, consts.StatusInternalServerError, "internal_error", reason.FailedInternalError, "job state unavailable")
		return
	}
	c.JSON(consts.StatusOK, map[string]any{"job": rec})
}

// ListJobEvents GET /v1/jobs/:job_id/events
func (h *Handler) ListJobEvents(ctx context.Context, c *app.RequestContext) {
	claims := claimsOrAbort(ctx, c)
	if claims == nil {
		return
	}
	events, err := h.jobs.ListJobEvents(ctx, claims, c.Param("job_id"))
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			writeError(c, consts.StatusNotFound, "not_found", reason.None, "job not found")
			return
		}
		hlog.CtxErrorf(ctx, "list job events failed: %v", err)
		writeError(c, consts.StatusInternalServerError, "internal_error", reason.FailedInternalError, "job state unavailable")
		return
	}
	c.JSON(consts.StatusOK, map[string]any{"events": events})
}

// CompleteJob POST /v1/jobs/:job_id/complete
func (h *Handler) CompleteJob(ctx context.Context, c *app.RequestContext) {
	claims := claimsOrAbort(ctx, c)
	if claims == nil {
		return
	}
	var req job.CompleteRequest
	if err := decodeBody(c, &req); err != nil {
		writeError(c, consts.StatusBadRequest, "invalid_request", reason.None, "request body is not valid JSON")
		return
	}
	res := h.jobs.CompleteJob(ctx, claims, c.Param("job_id"), &req)
	if res.Err != "" {
		writeError(c, res.Status, res.Err, res.ReasonCode, res.Message)
		return
	}
	promoted := res.PromotedJobIDs
	if promoted == nil {
		promoted = []string{}
	}
	c.JSON(res.Status, map[string]any{"job": res.Job, "promoted_job_ids": promoted})
}

// pauseRequest POST /v1/jobs/:job_id/pause 请求体
type pauseRequest struct {
	ReasonCode reason.Code `json:"reason_code,omitempty"`
}

// PauseJob POST /v1/jobs/:job_id/pause
func (h *Handler) PauseJob(ctx context.Context, c *app.RequestContext) {
	claims := claimsOrAbort(ctx, c)
	if claims == nil {
		return
	}
	var req pauseRequest
	if len(c.Request.Body()) > 0 {
		if err := decodeBody(c, &req); err != nil {
			writeError(c, consts.StatusBadRequest, "invalid_request", reason.None, "request body is not valid JSON")
			return
		}
	}
	res := h.jobs.PauseJob(ctx, claims, c.Param("job_id"), req.ReasonCode)
	if res.Err != "" {
		writeError(c, res.Status, res.Err, res.ReasonCode, res.Message)
		return
	}
	c.JSON(res.Status, map[string]any{"job": res.Job})
}

// ResumeJob POST /v1/jobs/:job_id/resume
func (h *Handler) ResumeJob(ctx context.Context, c *app.RequestContext) {
	claims := claimsOrAbort(ctx, c)
	if claims == nil {
		return
	}
	res := h.jobs.ResumePausedJob(ctx, claims, c.Param("job_id"))
	if res.Err != "" {
		writeError(c, res.Status, res.Err, res.ReasonCode, res.Message)
		return
	}
	c.JSON(res.Status, map[string]any{"job": res.Job})
}

// GetLocks GET /v1/locks
func (h *Handler) GetLocks(ctx context.Context, c *app.RequestContext) {
	if claims := claimsOrAbort(ctx, c); claims == nil {
		return
	}
	state, err := h.jobs.LockSnapshot(ctx)
	if err != nil {
		hlog.CtxErrorf(ctx, "lock snapshot failed: %v", err)
		writeError(c, consts.StatusInternalServerError, "internal_error", reason.FailedInternalError, "job state unavailable")
		return
	}
	c.JSON(consts.StatusOK, state)
}

// Health GET /api/health
func (h *Handler) Health(ctx context.Context, c *app.RequestContext) {
	c.JSON(consts.StatusOK, map[string]string{"status": "ok"})
}

// Metrics GET /metrics
func (h *Handler) Metrics(ctx context.Context, c *app.RequestContext) {
	var buf bytes.Buffer
	if err := metrics.WritePrometheus(&buf); err != nil {
		hlog.CtxErrorf(ctx, "write metrics failed: %v", err)
		c.AbortWithStatus(consts.StatusInternalServerError)
		return
	}
	c.Data(consts.StatusOK, "text/plain; version=0.0.4; charset=utf-8", buf.Bytes())
}
