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
	"github.com/bdpdx/rezilient-restore-service-sub001/internal/watermark"
	"github.com/bdpdx/rezilient-restore-service-sub001/pkg/reason"
)

const classReferenceConflict = "reference_conflict"

// EvaluateGate 有序评估，首个命中生效：
// 未决删除候选 > 未决引用冲突 > 未决附件候选 > unknown 水位 > stale 水位 > executable。
// 最终水位集为空时按 unknown 处理（fail-closed）。
func EvaluateGate(deletes []DeleteCandidate, conflicts []Conflict, media []MediaCandidate, wms []watermark.Watermark) Gate {
	g := Gate{Decision: GateExecutable, ReasonCode: reason.None}

	for _, d := range deletes {
		if d.Decision == "" {
			g.UnresolvedDeleteCandidates++
		}
	}
	for _, c := range conflicts {
		if c.Class == classReferenceConflict && c.Resolution == "" {
			g.ReferenceConflicts++
		}
	}
	for _, m := range media {
		if m.Decision == "" {
			g.UnresolvedMediaCandidates++
		}
	}
	for _, wm := range wms {
		switch {
		case wm.Freshness == watermark.FreshnessUnknown || wm.ReasonCode == reason.BlockedFreshnessUnknown:
			g.UnknownPartitions++
		case wm.Freshness == watermark.FreshnessStale ||
			wm.Executability != watermark.Executable ||
			wm.ReasonCode == reason.BlockedFreshnessStale:
			g.StalePartitions++
		}
	}

	switch {
	case g.UnresolvedDeleteCandidates > 0:
		g.Decision, g.ReasonCode = GateBlocked, reason.BlockedUnresolvedDeleteCandidates
	case g.ReferenceConflicts > 0:
		g.Decision, g.ReasonCode = GateBlocked, reason.BlockedReferenceConflict
	case g.UnresolvedMediaCandidates > 0:
		g.Decision, g.ReasonCode = GateBlocked, reason.BlockedUnresolvedMediaCandidates
	case g.UnknownPartitions > 0 || len(wms) == 0:
		g.Decision, g.ReasonCode = GateBlocked, reason.BlockedFreshnessUnknown
	case g.StalePartitions > 0:
		g.Decision, g.ReasonCode = GatePreviewOnly, reason.BlockedFreshnessStale
	}
	return g
}
