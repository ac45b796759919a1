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
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/ut"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/bdpdx/rezilient-restore-service-sub001/internal/api/http/middleware"
	"github.com/bdpdx/rezilient-restore-service-sub001/internal/job"
	"github.com/bdpdx/rezilient-restore-service-sub001/internal/plan"
	"github.com/bdpdx/rezilient-restore-service-sub001/internal/registry"
	"github.com/bdpdx/rezilient-restore-service-sub001/internal/snapshot"
	"github.com/bdpdx/rezilient-restore-service-sub001/internal/watermark"
	"github.com/bdpdx/rezilient-restore-service-sub001/pkg/auth"
	"github.com/bdpdx/rezilient-restore-service-sub001/pkg/log"
	"github.com/bdpdx/rezilient-restore-service-sub001/pkg/reason"
)

var testKey = []byte("test-signing-key")

func mintToken(t *testing.T, mutate func(*auth.Claims)) string {
	t.Helper()
	claims := &auth.Claims{
		ServiceScope: auth.ServiceScope,
		TenantID:     "acme",
		InstanceID:   "dev",
		Source:       "sn://acme-dev",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "rezilient-test",
			Subject:   "ops@acme",
			Audience:  jwt.ClaimStrings{auth.Audience},
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	if mutate != nil {
		mutate(claims)
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testKey)
	require.NoError(t, err)
	return token
}

func newTestServer(t *testing.T) (*server.Hertz, *watermark.MemoryReader) {
	t.Helper()
	planStore, err := snapshot.NewMemoryStore[plan.State]("plans")
	require.NoError(t, err)
	jobStore, err := snapshot.NewMemoryStore[job.State]("jobs")
	require.NoError(t, err)
	logger, err := log.NewLogger(nil)
	require.NoError(t, err)

	reader := watermark.NewMemoryReader()
	resolver := registry.NewLocalResolver(map[string]string{"acme/dev": "sn://acme-dev"})
	plans := plan.NewService(planStore, reader, resolver, logger)
	jobs := job.NewService(jobStore, plans, resolver, []string{"restore:execute"}, logger)

	h := server.Default(server.WithHostPorts(":0"))
	authMW := middleware.NewAuthMiddleware(auth.NewVerifier(testKey, 30*time.Second))
	RegisterRoutes(h, NewHandler(plans, jobs), authMW, 0)
	return h, reader
}

func perform(t *testing.T, h *server.Hertz, method, path, token string, body any) *ut.ResponseRecorder {
	t.Helper()
	var raw []byte
	if body != nil {
		var err error
		raw, err = json.Marshal(body)
		require.NoError(t, err)
	}
	headers := []ut.Header{{Key: "Content-Type", Value: "application/json"}}
	if token != "" {
		headers = append(headers, ut.Header{Key: "Authorization", Value: "Bearer " + token})
	}
	return ut.PerformRequest(h.Engine, method, path, &ut.Body{Body: bytes.NewReader(raw), Len: len(raw)}, headers...)
}

func decodeResp(t *testing.T, w *ut.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Result().Body(), v))
}

func TestHealth(t *testing.T) {
	h, _ := newTestServer(t)
	w := perform(t, h, "GET", "/api/health", "", nil)
	require.Equal(t, 200, w.Result().StatusCode())
	require.Contains(t, string(w.Result().Body()), "ok")
}

func TestMetricsEndpoint(t *testing.T) {
	h, _ := newTestServer(t)
	w := perform(t, h, "GET", "/metrics", "", nil)
	require.Equal(t, 200, w.Result().StatusCode())
	require.Contains(t, string(w.Result().Body()), "rrs_")
}

func TestAuthRejections(t *testing.T) {
	h, _ := newTestServer(t)

	w := perform(t, h, "GET", "/v1/jobs", "", nil)
	require.Equal(t, 401, w.Result().StatusCode())
	require.Contains(t, string(w.Result().Body()), string(reason.DeniedTokenMalformed))

	expired := mintToken(t, func(c *auth.Claims) {
		c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
	})
	w = perform(t, h, "GET", "/v1/jobs", expired, nil)
	require.Equal(t, 401, w.Result().StatusCode())
	require.Contains(t, string(w.Result().Body()), string(reason.DeniedTokenExpired))

	wrongScope := mintToken(t, func(c *auth.Claims) { c.ServiceScope = "other" })
	w = perform(t, h, "GET", "/v1/jobs", wrongScope, nil)
	require.Equal(t, 401, w.Result().StatusCode())
	require.Contains(t, string(w.Result().Body()), string(reason.DeniedTokenWrongServiceScope))
}

func dryRunBody(planID string) map[string]any {
	return map[string]any{
		"tenant_id":         "acme",
		"instance_id":       "dev",
		"source":            "sn://acme-dev",
		"plan_id":           planID,
		"lock_scope_tables": []string{"incident"},
		"rows": []map[string]any{
			{"row_id": "r1", "table": "incident", "action": "update",
				"metadata": map[string]any{"topic": "rez.cdc", "partition": 0}},
		},
	}
}

func TestDryRunPlanLifecycle(t *testing.T) {
	h, reader := newTestServer(t)
	reader.Upsert(watermark.Scope{TenantID: "acme", InstanceID: "dev", Source: "sn://acme-dev"},
		watermark.Watermark{Topic: "rez.cdc", Partition: 0,
			Freshness: watermark.FreshnessFresh, Executability: watermark.Executable, ReasonCode: reason.None})
	token := mintToken(t, nil)

	w := perform(t, h, "POST", "/v1/plans/dry-run", token, dryRunBody("plan-01"))
	require.Equal(t, 201, w.Result().StatusCode())
	var created struct {
		Plan plan.Record `json:"plan"`
	}
	decodeResp(t, w, &created)
	require.Len(t, created.Plan.PlanHash, 64)
	require.Equal(t, plan.GateExecutable, created.Plan.Gate.Decision)

	// 幂等重放
	w = perform(t, h, "POST", "/v1/plans/dry-run", token, dryRunBody("plan-01"))
	require.Equal(t, 200, w.Result().StatusCode())

	w = perform(t, h, "GET", "/v1/plans/plan-01", token, nil)
	require.Equal(t, 200, w.Result().StatusCode())

	w = perform(t, h, "GET", "/v1/plans/plan-99", token, nil)
	require.Equal(t, 404, w.Result().StatusCode())
}

func TestJobLifecycleOverHTTP(t *testing.T) {
	h, _ := newTestServer(t)
	token := mintToken(t, nil)
	hash := "cccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccc"

	jobBody := func(planID, planHash string) map[string]any {
		return map[string]any{
			"tenant_id":         "acme",
			"instance_id":       "dev",
			"source":            "sn://acme-dev",
			"plan_id":           planID,
			"plan_hash":         planHash,
			"lock_scope_tables": []string{"incident"},
			"requested_by":      "ops@acme",
		}
	}

	w := perform(t, h, "POST", "/v1/jobs", token, jobBody("plan-01", hash))
	require.Equal(t, 201, w.Result().StatusCode())
	var first struct {
		Job job.Record `json:"job"`
	}
	decodeResp(t, w, &first)
	require.Equal(t, job.StatusRunning, first.Job.Status)

	hash2 := "dddddddddddddddddddddddddddddddddddddddddddddddddddddddddddddddd"
	w = perform(t, h, "POST", "/v1/jobs", token, jobBody("plan-02", hash2))
	require.Equal(t, 201, w.Result().StatusCode())
	var second struct {
		Job job.Record `json:"job"`
	}
	decodeResp(t, w, &second)
	require.Equal(t, job.StatusQueued, second.Job.Status)
	require.Equal(t, 1, *second.Job.QueuePosition)

	// 同 plan_id 不同 hash 为硬冲突
	w = perform(t, h, "POST", "/v1/jobs", token, jobBody("plan-01", hash2))
	require.Equal(t, 409, w.Result().StatusCode())
	require.Contains(t, string(w.Result().Body()), string(reason.BlockedPlanHashMismatch))

	w = perform(t, h, "POST", "/v1/jobs/"+first.Job.JobID+"/complete", token,
		map[string]any{"status": "completed"})
	require.Equal(t, 200, w.Result().StatusCode())
	var done struct {
		Job            job.Record `json:"job"`
		PromotedJobIDs []string   `json:"promoted_job_ids"`
	}
	decodeResp(t, w, &done)
	require.Equal(t, job.StatusCompleted, done.Job.Status)
	require.Equal(t, []string{second.Job.JobID}, done.PromotedJobIDs)

	w = perform(t, h, "GET", "/v1/jobs/"+second.Job.JobID+"/events", token, nil)
	require.Equal(t, 200, w.Result().StatusCode())
	require.Contains(t, string(w.Result().Body()), "job_started")

	w = perform(t, h, "GET", "/v1/jobs", token, nil)
	require.Equal(t, 200, w.Result().StatusCode())

	w = perform(t, h, "GET", "/v1/locks", token, nil)
	require.Equal(t, 200, w.Result().StatusCode())
	require.Contains(t, string(w.Result().Body()), "running_jobs")
}

func TestPauseResumeOverHTTP(t *testing.T) {
	h, _ := newTestServer(t)
	token := mintToken(t, nil)
	hash := "cccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccc"

	w := perform(t, h, "POST", "/v1/jobs", token, map[string]any{
		"tenant_id": "acme", "instance_id": "dev", "source": "sn://acme-dev",
		"plan_id": "plan-01", "plan_hash": hash, "lock_scope_tables": []string{"incident"},
	})
	require.Equal(t, 201, w.Result().StatusCode())
	var created struct {
		Job job.Record `json:"job"`
	}
	decodeResp(t, w, &created)

	w = perform(t, h, "POST", "/v1/jobs/"+created.Job.JobID+"/pause", token, nil)
	require.Equal(t, 200, w.Result().StatusCode())
	require.Contains(t, string(w.Result().Body()), string(reason.PausedTokenRefreshGraceExhausted))

	w = perform(t, h, "POST", "/v1/jobs/"+created.Job.JobID+"/resume", token, nil)
	require.Equal(t, 200, w.Result().StatusCode())
	require.Contains(t, string(w.Result().Body()), job.StatusRunning)

	w = perform(t, h, "POST", "/v1/jobs/job_missing/pause", token, nil)
	require.Equal(t, 404, w.Result().StatusCode())
}

func TestInvalidJSONBody(t *testing.T) {
	h, _ := newTestServer(t)
	token := mintToken(t, nil)
	raw := []byte("{not json")
	w := ut.PerformRequest(h.Engine, "POST", "/v1/jobs",
		&ut.Body{Body: bytes.NewReader(raw), Len: len(raw)},
		ut.Header{Key: "Authorization", Value: "Bearer " + token},
		ut.Header{Key: "Content-Type", Value: "application/json"})
	require.Equal(t, 400, w.Result().StatusCode())
}
