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

// Package plan dry-run 计划门控：确定性 plan hash、权威水位评估与可执行性裁决。
// 同一 plan_id 的 hash 不可变，重复提交按 hash 幂等或硬冲突处理。
package plan

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/bdpdx/rezilient-restore-service-sub001/internal/watermark"
	"github.com/bdpdx/rezilient-restore-service-sub001/pkg/reason"
)

// gate 裁决取值
const (
	GateExecutable  = "executable"
	GatePreviewOnly = "preview_only"
	GateBlocked     = "blocked"
)

// row action 取值
const (
	ActionUpdate = "update"
	ActionInsert = "insert"
	ActionDelete = "delete"
	ActionSkip   = "skip"
)

// media candidate decision 取值
const (
	DecisionInclude = "include"
	DecisionExclude = "exclude"
)

// Row 计划中的一行还原动作。Metadata 为透传映射，
// 其中 topic/partition 用于派生权威水位查询分区。
type Row struct {
	RowID    string         `json:"row_id"`
	Table    string         `json:"table,omitempty"`
	Action   string         `json:"action,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Fields   map[string]any `json:"fields,omitempty"`
}

// Conflict 还原冲突；class=reference_conflict 且无 resolution 时阻断
type Conflict struct {
	ConflictID string `json:"conflict_id,omitempty"`
	RowID      string `json:"row_id,omitempty"`
	Class      string `json:"class"`
	Resolution string `json:"resolution,omitempty"`
}

// DeleteCandidate 删除候选；decision 为空即未决
type DeleteCandidate struct {
	CandidateID string `json:"candidate_id"`
	RowID       string `json:"row_id,omitempty"`
	Table       string `json:"table,omitempty"`
	Decision    string `json:"decision,omitempty"`
}

// MediaCandidate 附件候选；decision ∈ {include, exclude}，为空即未决
type MediaCandidate struct {
	CandidateID string `json:"candidate_id"`
	RowID       string `json:"row_id,omitempty"`
	Decision    string `json:"decision,omitempty"`
}

// WatermarkHint 请求随带的水位提示；仅在行元数据派生不出分区时兜底
type WatermarkHint struct {
	Topic     string `json:"topic"`
	Partition int64  `json:"partition"`
	Freshness string `json:"freshness,omitempty"`
}

// VersionTuple PIT 候选的一个版本
type VersionTuple struct {
	EventID      string `json:"event_id"`
	SysUpdatedOn string `json:"sys_updated_on"`
	SysModCount  *int64 `json:"sys_mod_count,omitempty"`
	EventTime    string `json:"__time,omitempty"`
}

// PITCandidate point-in-time 解析候选
type PITCandidate struct {
	RowID       string         `json:"row_id"`
	Table       string         `json:"table,omitempty"`
	RecordSysID string         `json:"record_sys_id,omitempty"`
	Versions    []VersionTuple `json:"versions"`
}

// PITResolution 每个候选的胜出版本
type PITResolution struct {
	RowID               string `json:"row_id"`
	Table               string `json:"table,omitempty"`
	RecordSysID         string `json:"record_sys_id,omitempty"`
	WinningEventID      string `json:"winning_event_id"`
	WinningSysUpdatedOn string `json:"winning_sys_updated_on"`
	WinningSysModCount  *int64 `json:"winning_sys_mod_count,omitempty"`
	WinningEventTime    string `json:"winning_event_time,omitempty"`
}

// ActionCounts 行动作统计，进入 plan hash
type ActionCounts struct {
	Update          int `json:"update"`
	Insert          int `json:"insert"`
	Delete          int `json:"delete"`
	Skip            int `json:"skip"`
	Conflict        int `json:"conflict"`
	AttachmentApply int `json:"attachment_apply"`
	AttachmentSkip  int `json:"attachment_skip"`
}

// Gate 门控裁决及统计
type Gate struct {
	Decision                   string      `json:"decision"`
	ReasonCode                 reason.Code `json:"reason_code"`
	UnresolvedDeleteCandidates int         `json:"unresolved_delete_candidates"`
	ReferenceConflicts         int         `json:"reference_conflicts"`
	UnresolvedMediaCandidates  int         `json:"unresolved_media_candidates"`
	StalePartitions            int         `json:"stale_partitions"`
	UnknownPartitions          int         `json:"unknown_partitions"`
}

// DryRunRequest POST /v1/plans/dry-run 请求体。
// 字段名是规范性的：pit/scope/execution_options/rows/media_candidates 进入 hash 规范化。
type DryRunRequest struct {
	TenantID             string            `json:"tenant_id"`
	InstanceID           string            `json:"instance_id"`
	Source               string            `json:"source"`
	PlanID               string            `json:"plan_id"`
	PlanHash             string            `json:"plan_hash,omitempty"`
	LockScopeTables      []string          `json:"lock_scope_tables"`
	RequiredCapabilities []string          `json:"required_capabilities,omitempty"`
	RequestedBy          string            `json:"requested_by,omitempty"`
	Approval             map[string]any    `json:"approval,omitempty"`
	PIT                  json.RawMessage   `json:"pit,omitempty"`
	Scope                json.RawMessage   `json:"scope,omitempty"`
	ExecutionOptions     json.RawMessage   `json:"execution_options,omitempty"`
	Rows                 []Row             `json:"rows,omitempty"`
	Conflicts            []Conflict        `json:"conflicts,omitempty"`
	DeleteCandidates     []DeleteCandidate `json:"delete_candidates,omitempty"`
	MediaCandidates      []MediaCandidate  `json:"media_candidates,omitempty"`
	Watermarks           []WatermarkHint   `json:"watermarks,omitempty"`
	PITCandidates        []PITCandidate    `json:"pit_candidates,omitempty"`
}

// Record 冻结的 PlanRecord；plan_hash 对给定 plan_id 不可变
type Record struct {
	PlanID               string                `json:"plan_id"`
	PlanHash             string                `json:"plan_hash"`
	TenantID             string                `json:"tenant_id"`
	InstanceID           string                `json:"instance_id"`
	Source               string                `json:"source"`
	LockScopeTables      []string              `json:"lock_scope_tables"`
	RequiredCapabilities []string              `json:"required_capabilities,omitempty"`
	RequestedBy          string                `json:"requested_by,omitempty"`
	Approval             map[string]any        `json:"approval,omitempty"`
	PIT                  json.RawMessage       `json:"pit,omitempty"`
	Scope                json.RawMessage       `json:"scope,omitempty"`
	ExecutionOptions     json.RawMessage       `json:"execution_options,omitempty"`
	Rows                 []Row                 `json:"rows,omitempty"`
	Conflicts            []Conflict            `json:"conflicts,omitempty"`
	DeleteCandidates     []DeleteCandidate     `json:"delete_candidates,omitempty"`
	MediaCandidates      []MediaCandidate      `json:"media_candidates,omitempty"`
	ActionCounts         ActionCounts          `json:"action_counts"`
	Gate                 Gate                  `json:"gate"`
	PITResolutions       []PITResolution       `json:"pit_resolutions,omitempty"`
	Watermarks           []watermark.Watermark `json:"watermarks,omitempty"`
	GeneratedAt          string                `json:"generated_at"`
	Placeholder          bool                  `json:"placeholder,omitempty"`
}

// State plans 快照文档的完整逻辑状态
type State struct {
	Plans map[string]*Record `json:"plans"`
}

// normalizeTables 去重并按字典序排序
func normalizeTables(tables []string) []string {
	seen := make(map[string]struct{}, len(tables))
	out := make([]string, 0, len(tables))
	for _, t := range tables {
		t = strings.TrimSpace(t)
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

// isoMillis 审计与记录统一的 ISO-8601 毫秒时间格式
func isoMillis(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}
