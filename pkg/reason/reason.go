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

// Package reason 定义闭集 reason code 词汇表；所有非成功响应均携带其中一个值，
// 且序列化/反序列化必须完整往返（不得出现词表之外的值）。
package reason

// Code reason code（闭集枚举）
type Code string

const (
	None            Code = "none"
	QueuedScopeLock Code = "queued_scope_lock"

	BlockedUnknownSourceMapping       Code = "blocked_unknown_source_mapping"
	BlockedMissingCapability          Code = "blocked_missing_capability"
	BlockedUnresolvedDeleteCandidates Code = "blocked_unresolved_delete_candidates"
	BlockedUnresolvedMediaCandidates  Code = "blocked_unresolved_media_candidates"
	BlockedReferenceConflict          Code = "blocked_reference_conflict"
	BlockedMediaParentMissing         Code = "blocked_media_parent_missing"
	BlockedFreshnessStale             Code = "blocked_freshness_stale"
	BlockedFreshnessUnknown           Code = "blocked_freshness_unknown"
	BlockedAuthControlPlaneOutage     Code = "blocked_auth_control_plane_outage"
	BlockedPlanHashMismatch           Code = "blocked_plan_hash_mismatch"
	BlockedEvidenceNotReady           Code = "blocked_evidence_not_ready"
	BlockedResumePreconditionMismatch Code = "blocked_resume_precondition_mismatch"
	BlockedResumeCheckpointMissing    Code = "blocked_resume_checkpoint_missing"

	PausedTokenRefreshGraceExhausted Code = "paused_token_refresh_grace_exhausted"
	PausedEntitlementDisabled        Code = "paused_entitlement_disabled"
	PausedInstanceDisabled           Code = "paused_instance_disabled"

	FailedMediaParentMissing            Code = "failed_media_parent_missing"
	FailedMediaHashMismatch             Code = "failed_media_hash_mismatch"
	FailedMediaRetryExhausted           Code = "failed_media_retry_exhausted"
	FailedEvidenceReportHashMismatch    Code = "failed_evidence_report_hash_mismatch"
	FailedEvidenceArtifactHashMismatch  Code = "failed_evidence_artifact_hash_mismatch"
	FailedEvidenceSignatureVerification Code = "failed_evidence_signature_verification"
	FailedSchemaConflict                Code = "failed_schema_conflict"
	FailedPermissionConflict            Code = "failed_permission_conflict"
	FailedInternalError                 Code = "failed_internal_error"

	DeniedTokenMalformed         Code = "denied_token_malformed"
	DeniedTokenInvalidSignature  Code = "denied_token_invalid_signature"
	DeniedTokenExpired           Code = "denied_token_expired"
	DeniedTokenWrongServiceScope Code = "denied_token_wrong_service_scope"
)

// all 词表全集（用于 Valid 校验）
var all = map[Code]struct{}{
	None:            {},
	QueuedScopeLock: {},

	BlockedUnknownSourceMapping:       {},
	BlockedMissingCapability:          {},
	BlockedUnresolvedDeleteCandidates: {},
	BlockedUnresolvedMediaCandidates:  {},
	BlockedReferenceConflict:          {},
	BlockedMediaParentMissing:         {},
	BlockedFreshnessStale:             {},
	BlockedFreshnessUnknown:           {},
	BlockedAuthControlPlaneOutage:     {},
	BlockedPlanHashMismatch:           {},
	BlockedEvidenceNotReady:           {},
	BlockedResumePreconditionMismatch: {},
	BlockedResumeCheckpointMissing:    {},

	PausedTokenRefreshGraceExhausted: {},
	PausedEntitlementDisabled:        {},
	PausedInstanceDisabled:           {},

	FailedMediaParentMissing:            {},
	FailedMediaHashMismatch:             {},
	FailedMediaRetryExhausted:           {},
	FailedEvidenceReportHashMismatch:    {},
	FailedEvidenceArtifactHashMismatch:  {},
	FailedEvidenceSignatureVerification: {},
	FailedSchemaConflict:                {},
	FailedPermissionConflict:            {},
	FailedInternalError:                 {},

	DeniedTokenMalformed:         {},
	DeniedTokenInvalidSignature:  {},
	DeniedTokenExpired:           {},
	DeniedTokenWrongServiceScope: {},
}

// Valid 判断 code 是否属于词表（空串视为非法；无 reason 时应使用 None）
func Valid(c Code) bool {
	_, ok := all[c]
	return ok
}

// String 实现 fmt.Stringer
func (c Code) String() string {
	return string(c)
}
