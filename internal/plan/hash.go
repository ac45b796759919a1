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
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/bdpdx/rezilient-restore-service-sub001/pkg/errors"
)

// hash 输入的固定版本标识；任何一个变更都意味着旧 hash 不再可比
const (
	ContractVersion          = "rrs/v1"
	PlanHashInputVersion     = 1
	PlanHashAlgorithm        = "sha256"
	MetadataAllowlistVersion = 1
)

// hashInput 进入规范化序列化的全部字段，键名是规范性的
type hashInput struct {
	ContractVersion          string           `json:"contract_version"`
	PlanHashInputVersion     int              `json:"plan_hash_input_version"`
	PlanHashAlgorithm        string           `json:"plan_hash_algorithm"`
	PIT                      json.RawMessage  `json:"pit"`
	Scope                    json.RawMessage  `json:"scope"`
	ExecutionOptions         json.RawMessage  `json:"execution_options"`
	ActionCounts             ActionCounts     `json:"action_counts"`
	Rows                     []Row            `json:"rows"`
	MediaCandidates          []MediaCandidate `json:"media_candidates"`
	MetadataAllowlistVersion int              `json:"metadata_allowlist_version"`
}

// CanonicalJSON 规范 JSON：键按字典序、无多余空白、数字以原样十进制保留。
// 先编码再以 UseNumber 解码为通用值重编码，map 键由编码器排序。
func CanonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "canonical marshal")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, errors.Wrap(err, "canonical decode")
	}
	out, err := json.Marshal(generic)
	if err != nil {
		return nil, errors.Wrap(err, "canonical remarshal")
	}
	return out, nil
}

// ComputeActionCounts 扫描行与候选统计动作计数
func ComputeActionCounts(rows []Row, conflicts []Conflict, media []MediaCandidate) ActionCounts {
	var c ActionCounts
	for _, r := range rows {
		switch r.Action {
		case ActionUpdate:
			c.Update++
		case ActionInsert:
			c.Insert++
		case ActionDelete:
			c.Delete++
		case ActionSkip:
			c.Skip++
		}
	}
	c.Conflict = len(conflicts)
	for _, m := range media {
		switch m.Decision {
		case DecisionInclude:
			c.AttachmentApply++
		case DecisionExclude:
			c.AttachmentSkip++
		}
	}
	return c
}

// ComputePlanHash 对规范化输入取 SHA-256，返回小写十六进制。
// rows 按 row_id 升序、media candidates 按 candidate_id 升序后参与序列化。
func ComputePlanHash(req *DryRunRequest, counts ActionCounts) (string, error) {
	rows := make([]Row, len(req.Rows))
	copy(rows, req.Rows)
	sort.Slice(rows, func(i, j int) bool { return rows[i].RowID < rows[j].RowID })

	media := make([]MediaCandidate, len(req.MediaCandidates))
	copy(media, req.MediaCandidates)
	sort.Slice(media, func(i, j int) bool { return media[i].CandidateID < media[j].CandidateID })

	input := hashInput{
		ContractVersion:          ContractVersion,
		PlanHashInputVersion:     PlanHashInputVersion,
		PlanHashAlgorithm:        PlanHashAlgorithm,
		PIT:                      req.PIT,
		Scope:                    req.Scope,
		ExecutionOptions:         req.ExecutionOptions,
		ActionCounts:             counts,
		Rows:                     rows,
		MediaCandidates:          media,
		MetadataAllowlistVersion: MetadataAllowlistVersion,
	}
	canonical, err := CanonicalJSON(input)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
