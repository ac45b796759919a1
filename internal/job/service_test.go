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

package job

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bdpdx/rezilient-restore-service-sub001/internal/audit"
	"github.com/bdpdx/rezilient-restore-service-sub001/internal/plan"
	"github.com/bdpdx/rezilient-restore-service-sub001/internal/registry"
	"github.com/bdpdx/rezilient-restore-service-sub001/internal/snapshot"
	"github.com/bdpdx/rezilient-restore-service-sub001/internal/watermark"
	"github.com/bdpdx/rezilient-restore-service-sub001/pkg/auth"
	"github.com/bdpdx/rezilient-restore-service-sub001/pkg/errors"
	"github.com/bdpdx/rezilient-restore-service-sub001/pkg/log"
	"github.com/bdpdx/rezilient-restore-service-sub001/pkg/reason"
)

var testClaims = &auth.Claims{TenantID: "acme", InstanceID: "dev", Source: "sn://acme-dev"}

type fixture struct {
	jobStore  snapshot.Store[State]
	planStore snapshot.Store[plan.State]
	resolver  registry.Resolver
	logger    *log.Logger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	jobStore, err := snapshot.NewMemoryStore[State]("jobs")
	require.NoError(t, err)
	planStore, err := snapshot.NewMemoryStore[plan.State]("plans")
	require.NoError(t, err)
	logger, err := log.NewLogger(nil)
	require.NoError(t, err)
	return &fixture{
		jobStore:  jobStore,
		planStore: planStore,
		resolver:  registry.NewLocalResolver(map[string]string{"acme/dev": "sn://acme-dev"}),
		logger:    logger,
	}
}

// service 在既有存储上组装服务；重复调用等价于进程重启后的重新装配
func (f *fixture) service() *Service {
	plans := plan.NewService(f.planStore, watermark.NewMemoryReader(), f.resolver, f.logger)
	return NewService(f.jobStore, plans, f.resolver, []string{"restore:execute"}, f.logger)
}

func hashOf(c byte) string { return strings.Repeat(string(c), 64) }

func createReq(planID, planHash string, tables ...string) *CreateRequest {
	return &CreateRequest{
		TenantID:        "acme",
		InstanceID:      "dev",
		Source:          "sn://acme-dev",
		PlanID:          planID,
		PlanHash:        planHash,
		LockScopeTables: tables,
		RequestedBy:     "ops@acme",
	}
}

func TestCreateJobValidation(t *testing.T) {
	svc := newFixture(t).service()
	ctx := context.Background()

	res := svc.CreateJob(ctx, testClaims, createReq("", hashOf('c'), "incident"))
	require.Equal(t, 400, res.Status)

	res = svc.CreateJob(ctx, testClaims, createReq("plan-01", "XYZ", "incident"))
	require.Equal(t, 400, res.Status)
	require.Contains(t, res.Message, "plan_hash")
}

func TestCreateJobRunsWhenTablesFree(t *testing.T) {
	svc := newFixture(t).service()
	res := svc.CreateJob(context.Background(), testClaims, createReq("plan-01", hashOf('c'), "incident"))
	require.Equal(t, 201, res.Status)
	require.Equal(t, StatusRunning, res.Job.Status)
	require.Equal(t, reason.None, res.Job.StatusReasonCode)
	require.Nil(t, res.Job.QueuePosition)
	require.NotEmpty(t, res.Job.StartedAt)
	require.True(t, strings.HasPrefix(res.Job.JobID, "job_"))
}

func TestCreateJobMissingCapability(t *testing.T) {
	svc := newFixture(t).service()
	req := createReq("plan-01", hashOf('c'), "incident")
	req.RequiredCapabilities = []string{"restore:execute", "media:fetch"}
	res := svc.CreateJob(context.Background(), testClaims, req)
	require.Equal(t, 403, res.Status)
	require.Equal(t, reason.BlockedMissingCapability, res.ReasonCode)
	require.Contains(t, res.Message, "media:fetch")
}

func TestCreateJobPlanHashMismatch(t *testing.T) {
	svc := newFixture(t).service()
	ctx := context.Background()

	first := svc.CreateJob(ctx, testClaims, createReq("plan-01", hashOf('c'), "incident"))
	require.Equal(t, 201, first.Status)

	second := svc.CreateJob(ctx, testClaims, createReq("plan-01", hashOf('d'), "problem"))
	require.Equal(t, 409, second.Status)
	require.Equal(t, reason.BlockedPlanHashMismatch, second.ReasonCode)
}

func TestCreateJobScopeMismatch(t *testing.T) {
	svc := newFixture(t).service()
	other := &auth.Claims{TenantID: "globex", InstanceID: "dev", Source: "sn://acme-dev"}
	res := svc.CreateJob(context.Background(), other, createReq("plan-01", hashOf('c'), "incident"))
	require.Equal(t, 403, res.Status)
	require.Equal(t, reason.BlockedUnknownSourceMapping, res.ReasonCode)
}

// 场景：重启后 FIFO。三个任务同表依次创建，重启（重新装配）两次，
// 完成顺序与队列顺序一致，每次恰好晋升队头
func TestFIFOAcrossRestart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	svc := f.service()
	j1 := svc.CreateJob(ctx, testClaims, createReq("plan-fair-01", hashOf('c'), "incident"))
	j2 := svc.CreateJob(ctx, testClaims, createReq("plan-fair-02", hashOf('d'), "incident"))
	j3 := svc.CreateJob(ctx, testClaims, createReq("plan-fair-03", hashOf('e'), "incident"))

	require.Equal(t, StatusRunning, j1.Job.Status)
	require.Equal(t, StatusQueued, j2.Job.Status)
	require.Equal(t, 1, *j2.Job.QueuePosition)
	require.Equal(t, reason.QueuedScopeLock, j2.Job.StatusReasonCode)
	require.Equal(t, StatusQueued, j3.Job.Status)
	require.Equal(t, 2, *j3.Job.QueuePosition)

	// 重启
	svc = f.service()
	done := svc.CompleteJob(ctx, testClaims, j1.Job.JobID, &CompleteRequest{Status: StatusCompleted})
	require.Equal(t, 200, done.Status)
	require.Equal(t, []string{j2.Job.JobID}, done.PromotedJobIDs)

	promoted, err := svc.GetJob(ctx, testClaims, j2.Job.JobID)
	require.NoError(t, err)
	require.Equal(t, StatusRunning, promoted.Status)
	require.NotEmpty(t, promoted.StartedAt)
	require.Nil(t, promoted.QueuePosition)

	// 第三个任务的位置前移
	third, err := svc.GetJob(ctx, testClaims, j3.Job.JobID)
	require.NoError(t, err)
	require.Equal(t, 1, *third.QueuePosition)

	// 再次重启
	svc = f.service()
	done = svc.CompleteJob(ctx, testClaims, j2.Job.JobID, &CompleteRequest{Status: StatusCompleted})
	require.Equal(t, 200, done.Status)
	require.Equal(t, []string{j3.Job.JobID}, done.PromotedJobIDs)

	last, err := svc.GetJob(ctx, testClaims, j3.Job.JobID)
	require.NoError(t, err)
	require.Equal(t, StatusRunning, last.Status)
}

// 场景：锁公平性。A running、B queued 后提交的 C 不得越过 B，即使其表当下可运行
func TestLockFairnessNoStarvation(t *testing.T) {
	svc := newFixture(t).service()
	ctx := context.Background()

	a := svc.CreateJob(ctx, testClaims, createReq("plan-a", hashOf('a'), "incident"))
	b := svc.CreateJob(ctx, testClaims, createReq("plan-b", hashOf('b'), "incident"))
	c := svc.CreateJob(ctx, testClaims, createReq("plan-c", hashOf('c'), "incident"))
	require.Equal(t, StatusRunning, a.Job.Status)
	require.Equal(t, StatusQueued, b.Job.Status)
	require.Equal(t, StatusQueued, c.Job.Status)

	done := svc.CompleteJob(ctx, testClaims, a.Job.JobID, &CompleteRequest{Status: StatusCompleted})
	require.Equal(t, []string{b.Job.JobID}, done.PromotedJobIDs)

	still, err := svc.GetJob(ctx, testClaims, c.Job.JobID)
	require.NoError(t, err)
	require.Equal(t, StatusQueued, still.Status)
	require.Equal(t, 1, *still.QueuePosition)
}

// 排队中的任务进入终态：出队且不触发晋升
func TestCompleteQueuedJobNoPromotion(t *testing.T) {
	svc := newFixture(t).service()
	ctx := context.Background()

	a := svc.CreateJob(ctx, testClaims, createReq("plan-a", hashOf('a'), "incident"))
	b := svc.CreateJob(ctx, testClaims, createReq("plan-b", hashOf('b'), "incident"))
	c := svc.CreateJob(ctx, testClaims, createReq("plan-c", hashOf('c'), "incident"))

	done := svc.CompleteJob(ctx, testClaims, b.Job.JobID, &CompleteRequest{Status: StatusCancelled})
	require.Equal(t, 200, done.Status)
	require.Empty(t, done.PromotedJobIDs)
	require.Equal(t, StatusCancelled, done.Job.Status)

	running, err := svc.GetJob(ctx, testClaims, a.Job.JobID)
	require.NoError(t, err)
	require.Equal(t, StatusRunning, running.Status)

	waiting, err := svc.GetJob(ctx, testClaims, c.Job.JobID)
	require.NoError(t, err)
	require.Equal(t, StatusQueued, waiting.Status)
	require.Equal(t, 1, *waiting.QueuePosition)
}

func TestCompleteJobErrors(t *testing.T) {
	svc := newFixture(t).service()
	ctx := context.Background()

	res := svc.CompleteJob(ctx, testClaims, "job_missing", &CompleteRequest{Status: StatusCompleted})
	require.Equal(t, 404, res.Status)

	created := svc.CreateJob(ctx, testClaims, createReq("plan-a", hashOf('a'), "incident"))
	res = svc.CompleteJob(ctx, testClaims, created.Job.JobID, &CompleteRequest{Status: "running"})
	require.Equal(t, 400, res.Status)

	res = svc.CompleteJob(ctx, testClaims, created.Job.JobID, &CompleteRequest{Status: StatusFailed, ReasonCode: "bogus_code"})
	require.Equal(t, 400, res.Status)

	ok := svc.CompleteJob(ctx, testClaims, created.Job.JobID, &CompleteRequest{Status: StatusFailed, ReasonCode: reason.FailedMediaHashMismatch})
	require.Equal(t, 200, ok.Status)
	require.Equal(t, reason.FailedMediaHashMismatch, ok.Job.StatusReasonCode)
	require.NotEmpty(t, ok.Job.CompletedAt)

	// 终态吸收
	res = svc.CompleteJob(ctx, testClaims, created.Job.JobID, &CompleteRequest{Status: StatusCompleted})
	require.Equal(t, 409, res.Status)
	require.Equal(t, "already_terminal", res.Message)
}

func TestPauseAndResume(t *testing.T) {
	svc := newFixture(t).service()
	ctx := context.Background()

	created := svc.CreateJob(ctx, testClaims, createReq("plan-a", hashOf('a'), "incident"))

	paused := svc.PauseJob(ctx, testClaims, created.Job.JobID, "")
	require.Equal(t, 200, paused.Status)
	require.Equal(t, StatusPaused, paused.Job.Status)
	require.Equal(t, reason.PausedTokenRefreshGraceExhausted, paused.Job.StatusReasonCode)

	// 暂停不释放锁：同表新任务仍然排队
	queued := svc.CreateJob(ctx, testClaims, createReq("plan-b", hashOf('b'), "incident"))
	require.Equal(t, StatusQueued, queued.Job.Status)

	again := svc.PauseJob(ctx, testClaims, created.Job.JobID, "")
	require.Equal(t, 409, again.Status)
	require.Equal(t, "job_not_running", again.Message)

	resumed := svc.ResumePausedJob(ctx, testClaims, created.Job.JobID)
	require.Equal(t, 200, resumed.Status)
	require.Equal(t, StatusRunning, resumed.Job.Status)

	notPaused := svc.ResumePausedJob(ctx, testClaims, created.Job.JobID)
	require.Equal(t, 409, notPaused.Status)
	require.Equal(t, "job_not_paused", notPaused.Message)
}

func TestPausedJobCanComplete(t *testing.T) {
	svc := newFixture(t).service()
	ctx := context.Background()

	created := svc.CreateJob(ctx, testClaims, createReq("plan-a", hashOf('a'), "incident"))
	queued := svc.CreateJob(ctx, testClaims, createReq("plan-b", hashOf('b'), "incident"))

	paused := svc.PauseJob(ctx, testClaims, created.Job.JobID, reason.PausedEntitlementDisabled)
	require.Equal(t, 200, paused.Status)
	require.Equal(t, reason.PausedEntitlementDisabled, paused.Job.StatusReasonCode)

	// paused 持锁，终止时照常释放并晋升
	done := svc.CompleteJob(ctx, testClaims, created.Job.JobID, &CompleteRequest{Status: StatusCancelled})
	require.Equal(t, 200, done.Status)
	require.Equal(t, []string{queued.Job.JobID}, done.PromotedJobIDs)
}

func TestAuditStream(t *testing.T) {
	svc := newFixture(t).service()
	ctx := context.Background()

	a := svc.CreateJob(ctx, testClaims, createReq("plan-a", hashOf('a'), "incident"))
	b := svc.CreateJob(ctx, testClaims, createReq("plan-b", hashOf('b'), "incident"))

	svc.CompleteJob(ctx, testClaims, a.Job.JobID, &CompleteRequest{Status: StatusCompleted})

	events, err := svc.ListJobEvents(ctx, testClaims, a.Job.JobID)
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.Equal(t, audit.EventJobCreated, events[0].EventType)
	require.Equal(t, audit.EventJobStarted, events[1].EventType)
	require.Equal(t, audit.EventJobCompleted, events[2].EventType)

	// 归一化字段注入
	require.Equal(t, "acme", events[0].TenantID)
	require.Equal(t, "sn://acme-dev", events[0].Source)
	require.Equal(t, "plan-a", events[0].PlanID)
	require.Equal(t, hashOf('a'), events[0].PlanHash)

	// 被晋升任务的事件流：created → queued → started
	events, err = svc.ListJobEvents(ctx, testClaims, b.Job.JobID)
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.Equal(t, audit.EventJobQueued, events[1].EventType)
	require.Equal(t, reason.QueuedScopeLock, events[1].ReasonCode)
	require.Equal(t, audit.EventJobStarted, events[2].EventType)

	_, err = svc.ListJobEvents(ctx, testClaims, "job_missing")
	require.ErrorIs(t, err, errors.ErrNotFound)
}

func TestListJobsScoped(t *testing.T) {
	svc := newFixture(t).service()
	ctx := context.Background()

	svc.CreateJob(ctx, testClaims, createReq("plan-a", hashOf('a'), "incident"))
	svc.CreateJob(ctx, testClaims, createReq("plan-b", hashOf('b'), "problem"))

	jobs, err := svc.ListJobs(ctx, testClaims)
	require.NoError(t, err)
	require.Len(t, jobs, 2)

	other, err := svc.ListJobs(ctx, &auth.Claims{TenantID: "globex", InstanceID: "dev"})
	require.NoError(t, err)
	require.Empty(t, other)
}

func TestGetJobCrossTenantHidden(t *testing.T) {
	svc := newFixture(t).service()
	ctx := context.Background()

	created := svc.CreateJob(ctx, testClaims, createReq("plan-a", hashOf('a'), "incident"))
	_, err := svc.GetJob(ctx, &auth.Claims{TenantID: "globex", InstanceID: "dev"}, created.Job.JobID)
	require.ErrorIs(t, err, errors.ErrNotFound)
}

func TestLockSnapshot(t *testing.T) {
	svc := newFixture(t).service()
	ctx := context.Background()

	a := svc.CreateJob(ctx, testClaims, createReq("plan-a", hashOf('a'), "incident"))
	b := svc.CreateJob(ctx, testClaims, createReq("plan-b", hashOf('b'), "incident"))

	state, err := svc.LockSnapshot(ctx)
	require.NoError(t, err)
	require.Len(t, state.Running, 1)
	require.Equal(t, a.Job.JobID, state.Running[0].JobID)
	require.Len(t, state.Queued, 1)
	require.Equal(t, b.Job.JobID, state.Queued[0].JobID)
}

// 不同表的任务互不阻塞
func TestDisjointTablesRunConcurrently(t *testing.T) {
	svc := newFixture(t).service()
	ctx := context.Background()

	a := svc.CreateJob(ctx, testClaims, createReq("plan-a", hashOf('a'), "incident"))
	b := svc.CreateJob(ctx, testClaims, createReq("plan-b", hashOf('b'), "problem"))
	require.Equal(t, StatusRunning, a.Job.Status)
	require.Equal(t, StatusRunning, b.Job.Status)
}
