package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"timeline-rag-api/internal/application/acquisition"
	"timeline-rag-api/internal/domain/entity"
	"timeline-rag-api/internal/infrastructure/persistence/memory"
	apperrors "timeline-rag-api/pkg/errors"
)

func newJob(t *testing.T, f *pipelineFixture, id string) *Job {
	t.Helper()
	require.NoError(t, f.mem.Jobs().Create(context.Background(), entity.NewIngestionJob(id, tenant, "doc", entity.SourceText)))
	return &Job{ID: id, TenantID: tenant, DocumentName: "doc", Text: article, Source: entity.SourceText}
}

func TestWorkerRunRecordsOutcome(t *testing.T) {
	ctx := context.Background()
	f := newPipelineFixture(t)
	w := NewWorker(f.p, f.mem.Jobs(), memory.NewTenantLocker(), time.Minute)

	require.NoError(t, w.Run(ctx, newJob(t, f, "job-1")))

	job, err := f.mem.Jobs().GetByID(ctx, tenant, "job-1")
	require.NoError(t, err)
	assert.Equal(t, entity.JobStatusCompleted, job.Status)
	assert.Equal(t, []string{"九一八事变", "卢沟桥事变"}, []string(job.EventTitles))
	assert.Equal(t, 1, job.Relations)
	assert.NotNil(t, job.CompletedAt)

	// 已完成的任务不会重跑
	calls := f.gen.count(workflowTimeline)
	require.NoError(t, w.Run(ctx, &Job{ID: "job-1", TenantID: tenant, DocumentName: "doc", Text: article}))
	assert.Equal(t, calls, f.gen.count(workflowTimeline))
}

func TestWorkerRunPipelineFailureIsAcked(t *testing.T) {
	ctx := context.Background()
	f := newPipelineFixture(t)
	f.gen.reply(workflowTimeline, "not json")
	w := NewWorker(f.p, f.mem.Jobs(), memory.NewTenantLocker(), time.Minute)

	require.NoError(t, w.Run(ctx, newJob(t, f, "job-2")))

	job, err := f.mem.Jobs().GetByID(ctx, tenant, "job-2")
	require.NoError(t, err)
	assert.Equal(t, entity.JobStatusFailed, job.Status)
	assert.NotEmpty(t, job.ErrorMessage)
}

func TestWorkerRunBusyTenant(t *testing.T) {
	ctx := context.Background()
	f := newPipelineFixture(t)
	locker := memory.NewTenantLocker()
	release, err := locker.Acquire(ctx, tenant, time.Minute)
	require.NoError(t, err)

	w := NewWorker(f.p, f.mem.Jobs(), locker, time.Minute)
	err = w.Run(ctx, newJob(t, f, "job-3"))
	assert.True(t, apperrors.HasCode(err, apperrors.CodeIngestionBusy))
	assert.Zero(t, f.gen.count(workflowTimeline))

	require.NoError(t, release(ctx))
	require.NoError(t, w.Run(ctx, &Job{ID: "job-3", TenantID: tenant, DocumentName: "doc", Text: article}))
}

func TestWorkerAbandonMarksPendingJobFailed(t *testing.T) {
	ctx := context.Background()
	f := newPipelineFixture(t)
	w := NewWorker(f.p, f.mem.Jobs(), memory.NewTenantLocker(), time.Minute)
	newJob(t, f, "job-dlq")

	require.NoError(t, w.Abandon(ctx, tenant, "job-dlq", errors.New("job store unavailable")))

	job, err := f.mem.Jobs().GetByID(ctx, tenant, "job-dlq")
	require.NoError(t, err)
	assert.Equal(t, entity.JobStatusFailed, job.Status)
	assert.Equal(t, "job store unavailable", job.ErrorMessage)
}

func TestWorkerAbandonKeepsFinishedJob(t *testing.T) {
	ctx := context.Background()
	f := newPipelineFixture(t)
	w := NewWorker(f.p, f.mem.Jobs(), memory.NewTenantLocker(), time.Minute)
	require.NoError(t, w.Run(ctx, newJob(t, f, "job-done")))

	require.NoError(t, w.Abandon(ctx, tenant, "job-done", errors.New("late failure")))

	job, err := f.mem.Jobs().GetByID(ctx, tenant, "job-done")
	require.NoError(t, err)
	assert.Equal(t, entity.JobStatusCompleted, job.Status)
	assert.Empty(t, job.ErrorMessage)
}

type recordingDispatcher struct {
	mu   sync.Mutex
	jobs []*Job
	err  error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, job *Job) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.jobs = append(d.jobs, job)
	return nil
}

type stubFetcher struct {
	*acquisition.Client
	text  string
	links []string
}

func (s *stubFetcher) Fetch(_ context.Context, link string) (*acquisition.Content, error) {
	s.links = append(s.links, link)
	return &acquisition.Content{Link: link, Kind: acquisition.KindWeb, Text: s.text}, nil
}

func TestServiceSubmitText(t *testing.T) {
	ctx := context.Background()
	jobs := memory.NewStore().Jobs()
	d := &recordingDispatcher{}
	fetcher := &stubFetcher{Client: acquisition.NewClient(nil, 0)}
	svc := NewService(jobs, d, fetcher)

	job, err := svc.Submit(ctx, tenant, SubmitRequest{Name: "抗战史.txt", Text: article})
	require.NoError(t, err)
	assert.Equal(t, entity.JobStatusPending, job.Status)
	assert.Equal(t, entity.SourceText, job.Source)

	require.Len(t, d.jobs, 1)
	assert.Equal(t, job.ID, d.jobs[0].ID)
	assert.Equal(t, article, d.jobs[0].Text)
	assert.Empty(t, fetcher.links)

	stored, err := svc.Job(ctx, tenant, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "抗战史.txt", stored.DocumentName)
}

func TestServiceSubmitLinkInText(t *testing.T) {
	d := &recordingDispatcher{}
	fetcher := &stubFetcher{Client: acquisition.NewClient(nil, 0), text: article}
	svc := NewService(memory.NewStore().Jobs(), d, fetcher)

	job, err := svc.Submit(context.Background(), tenant, SubmitRequest{Name: "网页", Text: "请读 https://example.com/a 这篇"})
	require.NoError(t, err)
	assert.Equal(t, entity.SourceLink, job.Source)
	assert.Equal(t, "https://example.com/a", job.SourceURL)
	assert.Equal(t, []string{"https://example.com/a"}, fetcher.links)
	require.Len(t, d.jobs, 1)
	assert.Equal(t, article, d.jobs[0].Text)
}

func TestServiceSubmitValidation(t *testing.T) {
	svc := NewService(memory.NewStore().Jobs(), &recordingDispatcher{}, &stubFetcher{Client: acquisition.NewClient(nil, 0)})

	_, err := svc.Submit(context.Background(), tenant, SubmitRequest{Name: "短", Text: "太短了"})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeContentTooShort))

	_, err = svc.Submit(context.Background(), tenant, SubmitRequest{Text: article})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidParam))
}

func TestServiceSubmitDispatchFailureMarksJob(t *testing.T) {
	ctx := context.Background()
	jobs := memory.NewStore().Jobs()
	d := &recordingDispatcher{err: apperrors.New(apperrors.CodeQueueError, "queue down")}
	svc := NewService(jobs, d, &stubFetcher{Client: acquisition.NewClient(nil, 0)})

	_, err := svc.Submit(ctx, tenant, SubmitRequest{Name: "doc", Text: article})
	require.Error(t, err)

	list, err := svc.Jobs(ctx, tenant, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, entity.JobStatusFailed, list[0].Status)
}

func TestInlineDispatcherRunsJob(t *testing.T) {
	ctx := context.Background()
	f := newPipelineFixture(t)
	w := NewWorker(f.p, f.mem.Jobs(), memory.NewTenantLocker(), time.Minute)
	d := NewInlineDispatcher(ctx, w)

	require.NoError(t, d.Dispatch(ctx, newJob(t, f, "job-inline")))

	assert.Eventually(t, func() bool {
		job, err := f.mem.Jobs().GetByID(ctx, tenant, "job-inline")
		return err == nil && job.Status == entity.JobStatusCompleted
	}, 5*time.Second, 10*time.Millisecond)
}
