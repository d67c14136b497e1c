package messaging

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"timeline-rag-api/internal/application/ingest"
	"timeline-rag-api/internal/domain/entity"
	apperrors "timeline-rag-api/pkg/errors"
)

type fakePublisher struct {
	got *IngestDocumentMessage
	err error
}

func (f *fakePublisher) PublishIngestJob(_ context.Context, job *IngestDocumentMessage) (string, error) {
	f.got = job
	return "1-0", f.err
}

type fakeRunner struct {
	jobs []*ingest.Job
	err  error
}

func (f *fakeRunner) Run(_ context.Context, job *ingest.Job) error {
	f.jobs = append(f.jobs, job)
	return f.err
}

func TestJobDispatcherPublishes(t *testing.T) {
	pub := &fakePublisher{}
	d := NewJobDispatcher(pub)

	err := d.Dispatch(context.Background(), &ingest.Job{
		ID:           "job-1",
		TenantID:     "t1",
		DocumentName: "抗日战争",
		Text:         "正文",
		Source:       entity.SourceLink,
		SourceURL:    "https://www.bilibili.com/video/BV1",
	})
	require.NoError(t, err)
	require.NotNil(t, pub.got)
	assert.Equal(t, "job-1", pub.got.JobID)
	assert.Equal(t, "link", pub.got.Source)
	assert.Equal(t, "https://www.bilibili.com/video/BV1", pub.got.SourceURL)
}

func TestJobDispatcherWrapsQueueError(t *testing.T) {
	d := NewJobDispatcher(&fakePublisher{err: errors.New("connection refused")})

	err := d.Dispatch(context.Background(), &ingest.Job{ID: "job-1", TenantID: "t1"})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeQueueError))
}

func TestIngestHandlerRunsJob(t *testing.T) {
	runner := &fakeRunner{}
	h := NewIngestHandler(runner)

	msg, err := NewMessage("job-2", TypeIngestDocument, "t2", &IngestDocumentMessage{
		JobID:        "job-2",
		DocumentName: "东北史",
		Text:         "正文",
		Source:       "text",
	})
	require.NoError(t, err)

	require.NoError(t, h(context.Background(), msg))
	require.Len(t, runner.jobs, 1)
	assert.Equal(t, "t2", runner.jobs[0].TenantID)
	assert.Equal(t, entity.SourceText, runner.jobs[0].Source)
}

func TestIngestHandlerDefersBusyTenant(t *testing.T) {
	busy := apperrors.New(apperrors.CodeIngestionBusy, "tenant busy")
	h := NewIngestHandler(&fakeRunner{err: busy})

	msg, err := NewMessage("job-3", TypeIngestDocument, "t1", &IngestDocumentMessage{JobID: "job-3", TenantID: "t1"})
	require.NoError(t, err)
	err = h(context.Background(), msg)
	assert.ErrorIs(t, err, busy)
	assert.ErrorIs(t, err, ErrDeferred)
}

func TestIngestHandlerDoesNotDeferOtherErrors(t *testing.T) {
	h := NewIngestHandler(&fakeRunner{err: apperrors.New(apperrors.CodeDatabaseError, "db down")})

	msg, err := NewMessage("job-4", TypeIngestDocument, "t1", &IngestDocumentMessage{JobID: "job-4", TenantID: "t1"})
	require.NoError(t, err)
	err = h(context.Background(), msg)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrDeferred)
}

type abandonCall struct {
	tenantID, jobID string
	cause           error
}

type fakeAbandoner struct {
	mu    sync.Mutex
	calls []abandonCall
}

func (f *fakeAbandoner) Abandon(_ context.Context, tenantID, jobID string, cause error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, abandonCall{tenantID: tenantID, jobID: jobID, cause: cause})
	return nil
}

func (f *fakeAbandoner) snapshot() []abandonCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]abandonCall(nil), f.calls...)
}

func TestIngestDeadLetterHandlerAbandonsJob(t *testing.T) {
	jobs := &fakeAbandoner{}
	h := NewIngestDeadLetterHandler(jobs)

	msg, err := NewMessage("job-5", TypeIngestDocument, "t9", &IngestDocumentMessage{JobID: "job-5"})
	require.NoError(t, err)
	h(context.Background(), msg, errors.New("db down"))

	calls := jobs.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, "t9", calls[0].tenantID)
	assert.Equal(t, "job-5", calls[0].jobID)
	assert.EqualError(t, calls[0].cause, "db down")
}

func TestIngestHandlerDropsMalformedPayload(t *testing.T) {
	runner := &fakeRunner{}
	h := NewIngestHandler(runner)

	msg := &Message{ID: "bad", Type: TypeIngestDocument, Payload: []byte("{not json")}
	require.NoError(t, h(context.Background(), msg))
	assert.Empty(t, runner.jobs)
}
