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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bdpdx/rezilient-restore-service-sub001/internal/watermark"
	"github.com/bdpdx/rezilient-restore-service-sub001/pkg/reason"
)

func freshSet() []watermark.Watermark {
	return []watermark.Watermark{{
		Topic: "rez.cdc", Partition: 0,
		Freshness:     watermark.FreshnessFresh,
		Executability: watermark.Executable,
		ReasonCode:    reason.None,
	}}
}

func TestGateExecutable(t *testing.T) {
	g := EvaluateGate(nil, nil, nil, freshSet())
	require.Equal(t, GateExecutable, g.Decision)
	require.Equal(t, reason.None, g.ReasonCode)
}

// 未决删除候选优先于 unknown 水位
func TestGateDeleteTakesPrecedenceOverFreshness(t *testing.T) {
	wms := []watermark.Watermark{{
		Topic: "rez.cdc", Partition: 1,
		Freshness:     watermark.FreshnessUnknown,
		Executability: watermark.Blocked,
		ReasonCode:    reason.BlockedFreshnessUnknown,
	}}
	g := EvaluateGate([]DeleteCandidate{{CandidateID: "d1"}}, nil, nil, wms)
	require.Equal(t, GateBlocked, g.Decision)
	require.Equal(t, reason.BlockedUnresolvedDeleteCandidates, g.ReasonCode)
	require.Equal(t, 1, g.UnresolvedDeleteCandidates)
	require.Equal(t, 1, g.UnknownPartitions)
}

func TestGateReferenceConflict(t *testing.T) {
	conflicts := []Conflict{
		{ConflictID: "c1", Class: classReferenceConflict},
		{ConflictID: "c2", Class: classReferenceConflict, Resolution: "remap"},
		{ConflictID: "c3", Class: "value_conflict"},
	}
	g := EvaluateGate(nil, conflicts, nil, freshSet())
	require.Equal(t, GateBlocked, g.Decision)
	require.Equal(t, reason.BlockedReferenceConflict, g.ReasonCode)
	require.Equal(t, 1, g.ReferenceConflicts)
}

func TestGateUnresolvedMedia(t *testing.T) {
	g := EvaluateGate(nil, nil, []MediaCandidate{{CandidateID: "m1"}}, freshSet())
	require.Equal(t, GateBlocked, g.Decision)
	require.Equal(t, reason.BlockedUnresolvedMediaCandidates, g.ReasonCode)
}

func TestGateStaleIsPreviewOnly(t *testing.T) {
	wms := []watermark.Watermark{{
		Topic: "rez.cdc", Partition: 0,
		Freshness:     watermark.FreshnessStale,
		Executability: watermark.PreviewOnly,
		ReasonCode:    reason.BlockedFreshnessStale,
	}}
	g := EvaluateGate(nil, nil, nil, wms)
	require.Equal(t, GatePreviewOnly, g.Decision)
	require.Equal(t, reason.BlockedFreshnessStale, g.ReasonCode)
	require.Equal(t, 1, g.StalePartitions)
}

// executability 非 executable 即视为 stale，即使 freshness 标 fresh
func TestGateNonExecutableCountsStale(t *testing.T) {
	wms := []watermark.Watermark{{
		Topic: "rez.cdc", Partition: 0,
		Freshness:     watermark.FreshnessFresh,
		Executability: watermark.PreviewOnly,
		ReasonCode:    reason.None,
	}}
	g := EvaluateGate(nil, nil, nil, wms)
	require.Equal(t, GatePreviewOnly, g.Decision)
}

func TestGateUnknownBeatsStale(t *testing.T) {
	wms := []watermark.Watermark{
		{Topic: "rez.cdc", Partition: 0, Freshness: watermark.FreshnessStale, Executability: watermark.PreviewOnly},
		{Topic: "rez.cdc", Partition: 1, Freshness: watermark.FreshnessUnknown, Executability: watermark.Blocked, ReasonCode: reason.BlockedFreshnessUnknown},
	}
	g := EvaluateGate(nil, nil, nil, wms)
	require.Equal(t, GateBlocked, g.Decision)
	require.Equal(t, reason.BlockedFreshnessUnknown, g.ReasonCode)
	require.Equal(t, 1, g.StalePartitions)
	require.Equal(t, 1, g.UnknownPartitions)
}

// 水位集为空时 fail-closed
func TestGateEmptyWatermarksBlocked(t *testing.T) {
	g := EvaluateGate(nil, nil, nil, nil)
	require.Equal(t, GateBlocked, g.Decision)
	require.Equal(t, reason.BlockedFreshnessUnknown, g.ReasonCode)
}
