package ingestion_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/research-rag/internal/core/ingestion"
	"github.com/jinford/research-rag/internal/infra/hashembed"
	"github.com/jinford/research-rag/internal/infra/memindex"
	"github.com/jinford/research-rag/internal/infra/memstore"
	"github.com/jinford/research-rag/internal/platform/eventhub"
)

type serviceFixture struct {
	store    *memstore.Store
	loader   *stubLoader
	provider *countingProvider
	hub      *eventhub.Hub[ingestion.Event]
	sources  *ingestion.SourceService
	jobs     *ingestion.JobService
}

func newServiceFixture(loader *stubLoader, provider *countingProvider) *serviceFixture {
	f := &serviceFixture{
		store:    memstore.New(),
		loader:   loader,
		provider: provider,
		hub:      eventhub.New[ingestion.Event](),
	}
	pipeline := ingestion.NewPipeline(
		f.store,
		f.loader,
		ingestion.NewChunker(),
		f.provider,
		memindex.New(),
		f.hub,
		ingestion.WithPipelineLogger(newTestLogger()),
	)
	f.sources = ingestion.NewSourceService(f.store, ingestion.WithSourceLogger(newTestLogger()))
	f.jobs = ingestion.NewJobService(f.store, pipeline, f.hub, ingestion.WithJobLogger(newTestLogger()))
	return f
}

func (f *serviceFixture) createTextSource(t *testing.T) *ingestion.Source {
	t.Helper()
	notes := "service fixture notes"
	src, err := f.sources.CreateSource(context.Background(), ingestion.CreateSourceParams{
		Kind:  ingestion.SourceKindText,
		Title: "Service Fixture",
		Notes: &notes,
	})
	require.NoError(t, err)
	return src
}

func statusSequence(events []ingestion.Event) []ingestion.JobStatus {
	var out []ingestion.JobStatus
	for _, ev := range events {
		if st, ok := ev.(ingestion.StatusEvent); ok {
			out = append(out, st.Status)
		}
	}
	return out
}

func TestJobService_CreateJobPublishesQueued(t *testing.T) {
	loader := &stubLoader{docs: []ingestion.LoadedDocument{
		{Kind: "text", Title: "Doc", Text: fixtureText()},
	}}
	f := newServiceFixture(loader, &countingProvider{inner: hashembed.New()})
	ctx := context.Background()

	src := f.createTextSource(t)
	job, err := f.jobs.CreateJob(ctx, src.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, ingestion.JobStatusQueued, job.Status)
	assert.Equal(t, ingestion.DefaultJobConfig(), job.Config)
	assert.Equal(t, 0, job.Attempts)

	events := drainEvents(f.jobs.Subscribe(job.ID))
	require.Len(t, events, 1)
	st, ok := events[0].(ingestion.StatusEvent)
	require.True(t, ok)
	assert.Equal(t, ingestion.JobStatusQueued, st.Status)
	assert.Equal(t, job.ID, st.JobID)
}

func TestJobService_CreateJobRejectsInvalidConfig(t *testing.T) {
	f := newServiceFixture(&stubLoader{}, &countingProvider{inner: hashembed.New()})
	ctx := context.Background()

	src := f.createTextSource(t)
	_, err := f.jobs.CreateJob(ctx, src.ID, &ingestion.JobConfig{MaxChunkSize: 0, ChunkOverlap: 0})
	require.Error(t, err)
	var verr *ingestion.ValidationError
	assert.ErrorAs(t, err, &verr)

	// 不正な設定のジョブは永続化されない
	jobs, err := f.jobs.ListJobsBySource(ctx, src.ID)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestJobService_CreateJobUnknownSource(t *testing.T) {
	f := newServiceFixture(&stubLoader{}, &countingProvider{inner: hashembed.New()})

	_, err := f.jobs.CreateJob(context.Background(), uuid.New(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ingestion.ErrSourceNotFound)
}

func TestJobService_DispatchRunsJobToCompletion(t *testing.T) {
	loader := &stubLoader{docs: []ingestion.LoadedDocument{
		{Kind: "text", Title: "Doc", Text: fixtureText()},
	}}
	f := newServiceFixture(loader, &countingProvider{inner: hashembed.New()})
	ctx := context.Background()

	src := f.createTextSource(t)
	job, err := f.jobs.CreateJob(ctx, src.ID, nil)
	require.NoError(t, err)

	handle := f.jobs.Dispatch(ctx, job.ID)
	assert.Equal(t, job.ID, handle.JobID())
	require.NoError(t, handle.Wait(ctx))

	got, err := f.jobs.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, ingestion.JobStatusSucceeded, got.Status)

	// 完了後に購読しても全履歴が再生される
	events := drainEvents(f.jobs.Subscribe(job.ID))
	require.Len(t, events, 6)
	assert.Equal(t,
		[]ingestion.JobStatus{ingestion.JobStatusQueued, ingestion.JobStatusRunning, ingestion.JobStatusSucceeded},
		statusSequence(events),
	)
}

func TestJobService_DispatchSurfacesFailure(t *testing.T) {
	// 読み取れないソースはLoadステージで失敗する
	f := newServiceFixture(&stubLoader{docs: nil}, &countingProvider{inner: hashembed.New()})
	ctx := context.Background()

	src := f.createTextSource(t)
	job, err := f.jobs.CreateJob(ctx, src.ID, nil)
	require.NoError(t, err)

	handle := f.jobs.Dispatch(ctx, job.ID)
	err = handle.Wait(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no readable content")
	assert.Equal(t, err, handle.Err())

	got, err := f.jobs.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, ingestion.JobStatusFailed, got.Status)
	require.NotNil(t, got.LastError)
}

func TestJobService_RetryJob(t *testing.T) {
	loader := &stubLoader{docs: []ingestion.LoadedDocument{
		{Kind: "text", Title: "Doc", Text: fixtureText()},
	}}
	provider := &countingProvider{inner: hashembed.New(), failuresLeft: 1}
	f := newServiceFixture(loader, provider)
	ctx := context.Background()

	src := f.createTextSource(t)
	job, err := f.jobs.CreateJob(ctx, src.ID, nil)
	require.NoError(t, err)

	require.Error(t, f.jobs.Dispatch(ctx, job.ID).Wait(ctx))
	chunksAfterFailure := f.store.CountChunks()
	require.Greater(t, chunksAfterFailure, 0)

	retried, err := f.jobs.RetryJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, ingestion.JobStatusQueued, retried.Status)
	assert.Equal(t, 1, retried.Attempts)
	assert.Nil(t, retried.LastError)
	assert.Nil(t, retried.StartedAt)
	assert.Nil(t, retried.EndedAt)

	// 失敗した試行の行はそのまま残る
	assert.Equal(t, chunksAfterFailure, f.store.CountChunks())

	require.NoError(t, f.jobs.Dispatch(ctx, job.ID).Wait(ctx))

	got, err := f.jobs.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, ingestion.JobStatusSucceeded, got.Status)
	assert.Equal(t, chunksAfterFailure, f.store.CountChunkEmbeddings())

	assert.Equal(t,
		[]ingestion.JobStatus{
			ingestion.JobStatusQueued,
			ingestion.JobStatusRunning,
			ingestion.JobStatusFailed,
			ingestion.JobStatusQueued,
			ingestion.JobStatusRunning,
			ingestion.JobStatusSucceeded,
		},
		statusSequence(drainEvents(f.jobs.Subscribe(job.ID))),
	)
}

func TestJobService_RetryRejectsNonFailedJob(t *testing.T) {
	loader := &stubLoader{docs: []ingestion.LoadedDocument{
		{Kind: "text", Title: "Doc", Text: fixtureText()},
	}}
	f := newServiceFixture(loader, &countingProvider{inner: hashembed.New()})
	ctx := context.Background()

	src := f.createTextSource(t)
	job, err := f.jobs.CreateJob(ctx, src.ID, nil)
	require.NoError(t, err)

	_, err = f.jobs.RetryJob(ctx, job.ID)
	assert.ErrorIs(t, err, ingestion.ErrJobNotRetryable)

	require.NoError(t, f.jobs.Dispatch(ctx, job.ID).Wait(ctx))
	_, err = f.jobs.RetryJob(ctx, job.ID)
	assert.ErrorIs(t, err, ingestion.ErrJobNotRetryable)
}

func TestJobService_WaitBlocksUntilTasksFinish(t *testing.T) {
	loader := &stubLoader{docs: []ingestion.LoadedDocument{
		{Kind: "text", Title: "Doc", Text: fixtureText()},
	}}
	f := newServiceFixture(loader, &countingProvider{inner: hashembed.New()})
	ctx := context.Background()

	src := f.createTextSource(t)
	job, err := f.jobs.CreateJob(ctx, src.ID, nil)
	require.NoError(t, err)

	handle := f.jobs.Dispatch(ctx, job.ID)
	f.jobs.Wait()

	select {
	case <-handle.Done():
	default:
		t.Fatal("Wait returned before the task finished")
	}
	assert.NoError(t, handle.Err())
}

func TestSourceService_CreateSourceValidatesByKind(t *testing.T) {
	f := newServiceFixture(&stubLoader{}, &countingProvider{inner: hashembed.New()})
	ctx := context.Background()

	uri := "https://example.com/article"
	path := "/var/data/research/paper.txt"
	notes := "memo"

	tests := []struct {
		name    string
		params  ingestion.CreateSourceParams
		wantErr bool
	}{
		{
			name:    "url source",
			params:  ingestion.CreateSourceParams{Kind: ingestion.SourceKindURL, Title: "Article", URI: &uri},
			wantErr: false,
		},
		{
			name:    "upload source",
			params:  ingestion.CreateSourceParams{Kind: ingestion.SourceKindUpload, Title: "Paper", StoragePath: &path},
			wantErr: false,
		},
		{
			name:    "note source",
			params:  ingestion.CreateSourceParams{Kind: ingestion.SourceKindNote, Title: "Memo", Notes: &notes},
			wantErr: false,
		},
		{
			name:    "missing title",
			params:  ingestion.CreateSourceParams{Kind: ingestion.SourceKindNote, Notes: &notes},
			wantErr: true,
		},
		{
			name:    "url source without uri",
			params:  ingestion.CreateSourceParams{Kind: ingestion.SourceKindURL, Title: "Article"},
			wantErr: true,
		},
		{
			name:    "upload source without storage path",
			params:  ingestion.CreateSourceParams{Kind: ingestion.SourceKindUpload, Title: "Paper"},
			wantErr: true,
		},
		{
			name:    "text source without notes",
			params:  ingestion.CreateSourceParams{Kind: ingestion.SourceKindText, Title: "Text"},
			wantErr: true,
		},
		{
			name:    "unknown kind",
			params:  ingestion.CreateSourceParams{Kind: "binary", Title: "Blob"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, err := f.sources.CreateSource(ctx, tt.params)
			if tt.wantErr {
				require.Error(t, err)
				var verr *ingestion.ValidationError
				assert.ErrorAs(t, err, &verr)
				return
			}
			require.NoError(t, err)

			got, err := f.sources.GetSource(ctx, src.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.params.Title, got.Title)
			assert.Equal(t, tt.params.Kind, got.Kind)
			assert.False(t, got.CreatedAt.IsZero())
		})
	}

	sources, err := f.sources.ListSources(ctx)
	require.NoError(t, err)
	assert.Len(t, sources, 3)
}
