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
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func hashRequest() *DryRunRequest {
	return &DryRunRequest{
		TenantID:   "acme",
		InstanceID: "dev",
		Source:     "sn://acme-dev",
		PlanID:     "plan-01",
		PIT:        json.RawMessage(`{"target_time":"2026-08-20T00:00:00Z"}`),
		Scope:      json.RawMessage(`{"tables":["incident"]}`),
		Rows: []Row{
			{RowID: "r2", Table: "incident", Action: ActionUpdate},
			{RowID: "r1", Table: "incident", Action: ActionInsert},
		},
		MediaCandidates: []MediaCandidate{
			{CandidateID: "m2", Decision: DecisionExclude},
			{CandidateID: "m1", Decision: DecisionInclude},
		},
	}
}

func TestCanonicalJSONSortsKeysAndPreservesNumbers(t *testing.T) {
	got, err := CanonicalJSON(map[string]any{
		"zeta":  json.RawMessage(`{"b":2,"a":1}`),
		"alpha": json.Number("10.50"),
	})
	require.NoError(t, err)
	require.Equal(t, `{"alpha":10.50,"zeta":{"a":1,"b":2}}`, string(got))
}

func TestComputePlanHashDeterministic(t *testing.T) {
	req := hashRequest()
	counts := ComputeActionCounts(req.Rows, req.Conflicts, req.MediaCandidates)
	h1, err := ComputePlanHash(req, counts)
	require.NoError(t, err)
	h2, err := ComputePlanHash(req, counts)
	require.NoError(t, err)
	require.Equal(t, h1, h2)
	require.Len(t, h1, 64)
	require.Regexp(t, "^[0-9a-f]{64}$", h1)
}

// 行与候选的提交顺序不影响 hash：规范化阶段按 row_id / candidate_id 排序
func TestComputePlanHashOrderIndependent(t *testing.T) {
	req := hashRequest()
	counts := ComputeActionCounts(req.Rows, req.Conflicts, req.MediaCandidates)
	h1, err := ComputePlanHash(req, counts)
	require.NoError(t, err)

	shuffled := hashRequest()
	shuffled.Rows[0], shuffled.Rows[1] = shuffled.Rows[1], shuffled.Rows[0]
	shuffled.MediaCandidates[0], shuffled.MediaCandidates[1] = shuffled.MediaCandidates[1], shuffled.MediaCandidates[0]
	h2, err := ComputePlanHash(shuffled, counts)
	require.NoError(t, err)
	require.Equal(t, h1, h2)
}

func TestComputePlanHashSensitiveToAction(t *testing.T) {
	req := hashRequest()
	counts := ComputeActionCounts(req.Rows, req.Conflicts, req.MediaCandidates)
	h1, err := ComputePlanHash(req, counts)
	require.NoError(t, err)

	changed := hashRequest()
	changed.Rows[0].Action = ActionDelete
	counts2 := ComputeActionCounts(changed.Rows, changed.Conflicts, changed.MediaCandidates)
	h2, err := ComputePlanHash(changed, counts2)
	require.NoError(t, err)
	require.NotEqual(t, h1, h2)
}

func TestComputeActionCounts(t *testing.T) {
	rows := []Row{
		{RowID: "r1", Action: ActionUpdate},
		{RowID: "r2", Action: ActionUpdate},
		{RowID: "r3", Action: ActionInsert},
		{RowID: "r4", Action: ActionDelete},
		{RowID: "r5", Action: ActionSkip},
	}
	conflicts := []Conflict{{ConflictID: "c1", Class: "value_conflict"}}
	media := []MediaCandidate{
		{CandidateID: "m1", Decision: DecisionInclude},
		{CandidateID: "m2", Decision: DecisionExclude},
		{CandidateID: "m3"},
	}
	c := ComputeActionCounts(rows, conflicts, media)
	require.Equal(t, ActionCounts{
		Update: 2, Insert: 1, Delete: 1, Skip: 1,
		Conflict: 1, AttachmentApply: 1, AttachmentSkip: 1,
	}, c)
}
