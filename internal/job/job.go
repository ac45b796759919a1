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

// Package job 还原任务生命周期：锁裁决决定 queued/running，终态吸收，
// 审计事件与状态迁移在同一次快照 mutate 中写入。锁状态随任务快照持久化。
package job

import (
	"time"

	"github.com/bdpdx/rezilient-restore-service-sub001/internal/audit"
	"github.com/bdpdx/rezilient-restore-service-sub001/internal/lockmgr"
	"github.com/bdpdx/rezilient-restore-service-sub001/pkg/reason"
)

// 任务状态
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusPaused    = "paused"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Terminal 终态判定；终态是吸收态
func Terminal(status string) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Record 任务记录。
// queue_position 非空当且仅当 status=queued；started_at 非空当且仅当曾经 running。
type Record struct {
	JobID                string      `json:"job_id"`
	PlanID               string      `json:"plan_id"`
	PlanHash             string      `json:"plan_hash"`
	TenantID             string      `json:"tenant_id"`
	InstanceID           string      `json:"instance_id"`
	Source               string      `json:"source"`
	Status               string      `json:"status"`
	StatusReasonCode     reason.Code `json:"status_reason_code"`
	QueuePosition        *int        `json:"queue_position,omitempty"`
	WaitTables           []string    `json:"wait_tables,omitempty"`
	LockScopeTables      []string    `json:"lock_scope_tables"`
	RequiredCapabilities []string    `json:"required_capabilities,omitempty"`
	RequestedBy          string      `json:"requested_by,omitempty"`
	StartedAt            string      `json:"started_at,omitempty"`
	CompletedAt          string      `json:"completed_at,omitempty"`
	CreatedAt            string      `json:"created_at"`
	UpdatedAt            string      `json:"updated_at"`
}

// State jobs 快照文档的完整逻辑状态；锁状态与任务同文档持久化，
// 队列顺序与它指向的任务原子地一起恢复
type State struct {
	Jobs   map[string]*Record       `json:"jobs"`
	Events map[string][]audit.Event `json:"events"`
	Locks  lockmgr.State            `json:"locks"`
}

func (s *State) init() {
	if s.Jobs == nil {
		s.Jobs = make(map[string]*Record)
	}
	if s.Events == nil {
		s.Events = make(map[string][]audit.Event)
	}
}

// isoMillis 审计与记录统一的 ISO-8601 毫秒时间格式
func isoMillis(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}
