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

// Package audit 任务审计流：事件与状态迁移在同一次 mutate 中追加，
// 回放顺序由 (created_at, event_id) 比较器定义，跨重启保持前缀封闭。
package audit

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/bdpdx/rezilient-restore-service-sub001/pkg/reason"
)

// 事件类型
const (
	EventJobCreated   = "job_created"
	EventJobQueued    = "job_queued"
	EventJobStarted   = "job_started"
	EventJobPaused    = "job_paused"
	EventJobCompleted = "job_completed"
	EventJobFailed    = "job_failed"
	EventJobCancelled = "job_cancelled"
)

// Event 归一化后的审计事件。scope 与 plan 字段由 Normalizer 注入，
// 使单条事件可脱离任务记录被跨服务消费。
type Event struct {
	EventID    string         `json:"event_id"`
	EventType  string         `json:"event_type"`
	JobID      string         `json:"job_id"`
	TenantID   string         `json:"tenant_id,omitempty"`
	InstanceID string         `json:"instance_id,omitempty"`
	Source     string         `json:"source,omitempty"`
	PlanID     string         `json:"plan_id,omitempty"`
	PlanHash   string         `json:"plan_hash,omitempty"`
	ReasonCode reason.Code    `json:"reason_code"`
	CreatedAt  string         `json:"created_at"`
	Details    map[string]any `json:"details,omitempty"`
}

// Normalizer 为一个任务的事件注入跨服务标识
type Normalizer struct {
	TenantID   string
	InstanceID string
	Source     string
	PlanID     string
	PlanHash   string
}

// Event 构造一条归一化事件。seq 为该任务内单调递增的事件序号，
// 进入 event_id 前缀，使同一时间戳下的回放顺序与产生顺序一致。
func (n Normalizer) Event(seq int, jobID, eventType string, code reason.Code, createdAt string, details map[string]any) Event {
	if code == "" {
		code = reason.None
	}
	return Event{
		EventID:    NewEventID(seq),
		EventType:  eventType,
		JobID:      jobID,
		TenantID:   n.TenantID,
		InstanceID: n.InstanceID,
		Source:     n.Source,
		PlanID:     n.PlanID,
		PlanHash:   n.PlanHash,
		ReasonCode: code,
		CreatedAt:  createdAt,
		Details:    details,
	}
}

// NewEventID 生成 ev_<seq>_<uuid> 形式的事件 ID；seq 定宽补零保证字典序
func NewEventID(seq int) string {
	return fmt.Sprintf("ev_%06d_%s", seq, uuid.NewString())
}

// Less 回放比较器：created_at 优先，event_id 字典序决胜
func Less(a, b Event) bool {
	if a.CreatedAt != b.CreatedAt {
		return a.CreatedAt < b.CreatedAt
	}
	return a.EventID < b.EventID
}

// SortForReplay 按回放比较器稳定排序（原地）
func SortForReplay(events []Event) {
	sort.SliceStable(events, func(i, j int) bool { return Less(events[i], events[j]) })
}
