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

package http

import (
	"github.com/cloudwego/hertz/pkg/app/server"

	"github.com/bdpdx/rezilient-restore-service-sub001/internal/api/http/middleware"
)

// RegisterRoutes 注册全部路由；/v1 下的业务路由经过限流与 bearer 认证
func RegisterRoutes(r *server.Hertz, h *Handler, authMW *middleware.AuthMiddleware, rps int) {
	r.GET("/api/health", h.Health)
	r.GET("/metrics", h.Metrics)

	v1 := r.Group("/v1", middleware.RateLimit(rps), authMW.RequireToken())
	v1.POST("/plans/dry-run", h.CreateDryRunPlan)
	v1.GET("/plans/:plan_id", h.GetPlan)
	v1.POST("/jobs", h.CreateJob)
	v1.GET("/jobs", h.ListJobs)
	v1.GET("/jobs/:job_id", h.GetJob)
	v1.GET("/jobs/:job_id/events", h.ListJobEvents)
	v1.POST("/jobs/:job_id/complete", h.CompleteJob)
	v1.POST("/jobs/:job_id/pause", h.PauseJob)
	v1.POST("/jobs/:job_id/resume", h.ResumeJob)
	v1.GET("/locks", h.GetLocks)
}
