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

// Package lockmgr 表级锁管理器：跨所有 scope 保证同一张表至多一个 running job，
// 等待者按到达顺序 FIFO 排队。状态可整体导出/装载，随 job 快照一起持久化；
// 每次 mutate 开始时装载、结束时导出，manager 本身不保留跨 mutate 状态。
package lockmgr

import (
	"sort"

	"github.com/bdpdx/rezilient-restore-service-sub001/pkg/reason"
)

// RunningEntry running_jobs 中的一项
type RunningEntry struct {
	JobID  string   `json:"job_id"`
	Tables []string `json:"tables"`
}

// QueuedEntry queued_jobs 中的一项（FIFO，按插入顺序）
type QueuedEntry struct {
	JobID         string      `json:"job_id"`
	Tables        []string    `json:"tables"`
	TenantID      string      `json:"tenant_id"`
	InstanceID    string      `json:"instance_id"`
	ReasonCode    reason.Code `json:"reason_code"`
	BlockedTables []string    `json:"blocked_tables"`
}

// State 可序列化的完整锁状态；两个序列的顺序即语义
type State struct {
	Running []RunningEntry `json:"running_jobs"`
	Queued  []QueuedEntry  `json:"queued_jobs"`
}

// AcquireResult acquire 的裁决
type AcquireResult struct {
	State         string      // "running" | "queued"
	ReasonCode    reason.Code // none | queued_scope_lock
	QueuePosition int         // 1-based；running 时为 0
	BlockedTables []string    // queued 时按字典序排好的阻塞表集合
}

// Promotion release 后被晋升为 running 的 job
type Promotion struct {
	JobID      string      `json:"job_id"`
	ReasonCode reason.Code `json:"reason_code"`
}

// ReleaseResult release 的结果
type ReleaseResult struct {
	Released []string    `json:"released"`
	Promoted []Promotion `json:"promoted"`
}

// Manager 内存锁管理器；非并发安全，调用方需在 snapshot mutate 内串行使用
type Manager struct {
	running []RunningEntry
	queued  []QueuedEntry
}

// New 创建空的锁管理器
func New() *Manager {
	return &Manager{}
}

// Load 从导出的状态重建管理器，顺序逐项保留；装载本身不触发任何晋升
func Load(state State) *Manager {
	m := &Manager{}
	m.LoadState(state)
	return m
}

// Acquire 申请 tables 的锁。全部空闲则进入 running；
// 与任一 running 或任一已排队 entry 有表交集时进入队尾（公平规则：
// 后到者即使可立即运行，只要与排队者有交集也必须排在其后，防止队头饿死）。
func (m *Manager) Acquire(jobID, tenantID, instanceID string, tables []string) AcquireResult {
	tables = normalizeTables(tables)
	blocked := make(map[string]struct{})
	for _, t := range tables {
		for _, r := range m.running {
			if containsTable(r.Tables, t) {
				blocked[t] = struct{}{}
			}
		}
		for _, q := range m.queued {
			if containsTable(q.Tables, t) {
				blocked[t] = struct{}{}
			}
		}
	}
	if len(blocked) == 0 {
		m.running = append(m.running, RunningEntry{JobID: jobID, Tables: tables})
		return AcquireResult{State: "running", ReasonCode: reason.None}
	}
	blockedTables := sortedKeys(blocked)
	m.queued = append(m.queued, QueuedEntry{
		JobID:         jobID,
		Tables:        tables,
		TenantID:      tenantID,
		InstanceID:    instanceID,
		ReasonCode:    reason.QueuedScopeLock,
		BlockedTables: blockedTables,
	})
	return AcquireResult{
		State:         "queued",
		ReasonCode:    reason.QueuedScopeLock,
		QueuePosition: len(m.queued),
		BlockedTables: blockedTables,
	}
}

// Release 释放 jobID 持有或排队的锁，然后自队头贪心晋升：
// 依次检查队列，表集合与 running 无交集者晋升为 running；
// 在第一个不可晋升的 entry 处停止（保持 FIFO，不跳队）。
func (m *Manager) Release(jobID string) ReleaseResult {
	result := ReleaseResult{Released: []string{}, Promoted: []Promotion{}}

	if idx := m.runningIndex(jobID); idx >= 0 {
		result.Released = m.running[idx].Tables
		m.running = append(m.running[:idx], m.running[idx+1:]...)
	} else if idx := m.queuedIndex(jobID); idx >= 0 {
		result.Released = m.queued[idx].Tables
		m.queued = append(m.queued[:idx], m.queued[idx+1:]...)
	} else {
		return result
	}

	for len(m.queued) > 0 {
		head := m.queued[0]
		if m.overlapsRunning(head.Tables) {
			break
		}
		m.queued = m.queued[1:]
		m.running = append(m.running, RunningEntry{JobID: head.JobID, Tables: head.Tables})
		result.Promoted = append(result.Promoted, Promotion{JobID: head.JobID, ReasonCode: reason.None})
	}
	return result
}

// Dequeue 移除一个排队中的 entry，不触发晋升（外部取消路径使用）
func (m *Manager) Dequeue(jobID string) bool {
	idx := m.queuedIndex(jobID)
	if idx < 0 {
		return false
	}
	m.queued = append(m.queued[:idx], m.queued[idx+1:]...)
	return true
}

// QueuePosition 返回 jobID 当前的 1-based 队列位置；不在队列中返回 0
func (m *Manager) QueuePosition(jobID string) int {
	if idx := m.queuedIndex(jobID); idx >= 0 {
		return idx + 1
	}
	return 0
}

// Snapshot 返回两个序列的精简只读视图
func (m *Manager) Snapshot() State {
	return m.ExportState()
}

// ExportState 导出可序列化状态（深拷贝，顺序保留）
func (m *Manager) ExportState() State {
	state := State{
		Running: make([]RunningEntry, len(m.running)),
		Queued:  make([]QueuedEntry, len(m.queued)),
	}
	for i, r := range m.running {
		state.Running[i] = RunningEntry{JobID: r.JobID, Tables: copyStrings(r.Tables)}
	}
	for i, q := range m.queued {
		state.Queued[i] = QueuedEntry{
			JobID:         q.JobID,
			Tables:        copyStrings(q.Tables),
			TenantID:      q.TenantID,
			InstanceID:    q.InstanceID,
			ReasonCode:    q.ReasonCode,
			BlockedTables: copyStrings(q.BlockedTables),
		}
	}
	return state
}

// LoadState 以导出的状态覆盖当前状态；下一次 Release 按装载后的顺序裁决
func (m *Manager) LoadState(state State) {
	m.running = make([]RunningEntry, len(state.Running))
	m.queued = make([]QueuedEntry, len(state.Queued))
	for i, r := range state.Running {
		m.running[i] = RunningEntry{JobID: r.JobID, Tables: copyStrings(r.Tables)}
	}
	for i, q := range state.Queued {
		m.queued[i] = QueuedEntry{
			JobID:         q.JobID,
			Tables:        copyStrings(q.Tables),
			TenantID:      q.TenantID,
			InstanceID:    q.InstanceID,
			ReasonCode:    q.ReasonCode,
			BlockedTables: copyStrings(q.BlockedTables),
		}
	}
}

func (m *Manager) runningIndex(jobID string) int {
	for i, r := range m.running {
		if r.JobID == jobID {
			return i
		}
	}
	return -1
}

func (m *Manager) queuedIndex(jobID string) int {
	for i, q := range m.queued {
		if q.JobID == jobID {
			return i
		}
	}
	return -1
}

func (m *Manager) overlapsRunning(tables []string) bool {
	for _, t := range tables {
		for _, r := range m.running {
			if containsTable(r.Tables, t) {
				return true
			}
		}
	}
	return false
}

// normalizeTables 去重并按字典序排序
func normalizeTables(tables []string) []string {
	seen := make(map[string]struct{}, len(tables))
	for _, t := range tables {
		if t == "" {
			continue
		}
		seen[t] = struct{}{}
	}
	return sortedKeys(seen)
}

func containsTable(tables []string, t string) bool {
	for _, x := range tables {
		if x == t {
			return true
		}
	}
	return false
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func copyStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
