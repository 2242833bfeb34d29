package report

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"floodwatch/internal/client"
	"floodwatch/internal/model"
	"floodwatch/internal/service/storage"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSubmitter struct {
	mu    sync.Mutex
	posts []model.FloodReport
	err   error
}

func (f *fakeSubmitter) SubmitReport(_ context.Context, r model.FloodReport) (*client.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.posts = append(f.posts, r)
	return &client.Response{Status: http.StatusCreated}, nil
}

type switchConn struct {
	mu     sync.Mutex
	online bool
}

func (c *switchConn) Online() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

func (c *switchConn) set(v bool) {
	c.mu.Lock()
	c.online = v
	c.mu.Unlock()
}

func validInput() model.ReportInput {
	return model.ReportInput{
		Latitude:    14.65,
		Longitude:   121.1,
		WaterLevel:  "knee",
		Description: "Street flooded near the market",
	}
}

func TestSubmit_OfflineRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	sub := &fakeSubmitter{}
	conn := &switchConn{}
	svc := NewReportService(store, sub, conn, zap.NewNop())

	res, err := svc.Submit(ctx, validInput())
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.Offline)
	assert.False(t, res.Report.Synced)
	assert.Empty(t, sub.posts)

	unsynced, err := svc.List(ctx, true)
	require.NoError(t, err)
	require.Len(t, unsynced, 1)

	conn.set(true)
	summary, err := svc.SyncUnsynced(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.SyncSummary{Total: 1, Succeeded: 1}, summary)
	require.Len(t, sub.posts, 1)
	assert.Equal(t, res.Report.ID, sub.posts[0].ID)

	stored, err := storage.GetJSON[model.FloodReport](ctx, store, model.PartitionFloodReports, res.Report.ID)
	require.NoError(t, err)
	assert.True(t, stored.Synced)
	assert.NotNil(t, stored.SyncedAt)

	summary, err = svc.SyncUnsynced(ctx)
	require.NoError(t, err)
	assert.Zero(t, summary.Total)
	assert.Len(t, sub.posts, 1)
}

func TestSubmit_OnlineSyncsImmediately(t *testing.T) {
	ctx := context.Background()
	sub := &fakeSubmitter{}
	svc := NewReportService(storage.NewMemoryStorage(), sub, &switchConn{online: true}, zap.NewNop())

	res, err := svc.Submit(ctx, validInput())
	require.NoError(t, err)
	assert.False(t, res.Offline)
	assert.True(t, res.Report.Synced)
	assert.Len(t, sub.posts, 1)

	unsynced, err := svc.List(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, unsynced)
}

func TestSubmit_UnreachableFallsBackToOffline(t *testing.T) {
	sub := &fakeSubmitter{err: &model.NetworkError{Kind: model.ErrNetworkTimeout}}
	svc := NewReportService(storage.NewMemoryStorage(), sub, &switchConn{online: true}, zap.NewNop())

	res, err := svc.Submit(context.Background(), validInput())
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.Offline)
}

func TestSubmit_RejectedIsDiscarded(t *testing.T) {
	store := storage.NewMemoryStorage()
	sub := &fakeSubmitter{err: &model.NetworkError{Kind: model.ErrServer, Status: 422, Message: "duplicate"}}
	svc := NewReportService(store, sub, &switchConn{online: true}, zap.NewNop())

	_, err := svc.Submit(context.Background(), validInput())
	assert.ErrorIs(t, err, model.ErrServer)
	assert.Zero(t, store.Count(model.PartitionFloodReports))
}

func TestSubmit_Validation(t *testing.T) {
	svc := NewReportService(storage.NewMemoryStorage(), &fakeSubmitter{}, &switchConn{}, zap.NewNop())

	tests := []struct {
		name   string
		mutate func(*model.ReportInput)
	}{
		{"latitude out of range", func(in *model.ReportInput) { in.Latitude = 91 }},
		{"longitude out of range", func(in *model.ReportInput) { in.Longitude = -181 }},
		{"missing water level", func(in *model.ReportInput) { in.WaterLevel = "" }},
		{"unknown water level", func(in *model.ReportInput) { in.WaterLevel = "roof" }},
		{"bad photo url", func(in *model.ReportInput) { in.PhotoURLs = []string{"not a url"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validInput()
			tt.mutate(&in)
			_, err := svc.Submit(context.Background(), in)
			require.Error(t, err)
			var verrs validator.ValidationErrors
			assert.ErrorAs(t, err, &verrs)
		})
	}
}

func TestSyncUnsynced_FailureKeepsReport(t *testing.T) {
	ctx := context.Background()
	sub := &fakeSubmitter{}
	conn := &switchConn{}
	svc := NewReportService(storage.NewMemoryStorage(), sub, conn, zap.NewNop())

	_, err := svc.Submit(ctx, validInput())
	require.NoError(t, err)

	sub.err = &model.NetworkError{Kind: model.ErrServer, Status: 500}
	summary, err := svc.SyncUnsynced(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.SyncSummary{Total: 1, Failed: 1}, summary)

	unsynced, err := svc.List(ctx, true)
	require.NoError(t, err)
	require.Len(t, unsynced, 1)
	assert.Contains(t, unsynced[0].LastError, "500")
}

// gatedSubmitter holds every post until release is closed
type gatedSubmitter struct {
	fakeSubmitter
	entered chan struct{}
	release chan struct{}
}

func (g *gatedSubmitter) SubmitReport(ctx context.Context, r model.FloodReport) (*client.Response, error) {
	g.entered <- struct{}{}
	<-g.release
	return g.fakeSubmitter.SubmitReport(ctx, r)
}

func TestSyncUnsynced_SkipsReportBeingSubmitted(t *testing.T) {
	ctx := context.Background()
	sub := &gatedSubmitter{entered: make(chan struct{}, 1), release: make(chan struct{})}
	svc := NewReportService(storage.NewMemoryStorage(), sub, &switchConn{online: true}, zap.NewNop())

	done := make(chan SubmitResult, 1)
	go func() {
		res, err := svc.Submit(ctx, validInput())
		assert.NoError(t, err)
		done <- res
	}()
	<-sub.entered

	summary, err := svc.SyncUnsynced(ctx)
	require.NoError(t, err)
	assert.Zero(t, summary.Total)

	close(sub.release)
	res := <-done
	assert.True(t, res.Success)
	assert.False(t, res.Offline)

	sub.mu.Lock()
	assert.Len(t, sub.posts, 1)
	sub.mu.Unlock()

	unsynced, err := svc.List(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, unsynced)
}

// flakyStore fails every Put while failing is set
type flakyStore struct {
	storage.Store
	mu      sync.Mutex
	failing bool
}

func (f *flakyStore) setFailing(v bool) {
	f.mu.Lock()
	f.failing = v
	f.mu.Unlock()
}

func (f *flakyStore) Put(ctx context.Context, partition string, record model.CachedRecord) error {
	f.mu.Lock()
	failing := f.failing
	f.mu.Unlock()
	if failing {
		return errors.New("disk full")
	}
	return f.Store.Put(ctx, partition, record)
}

func TestSyncUnsynced_StoreFailureDoesNotRepost(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{Store: storage.NewMemoryStorage()}
	sub := &fakeSubmitter{}
	conn := &switchConn{}
	svc := NewReportService(store, sub, conn, zap.NewNop())

	_, err := svc.Submit(ctx, validInput())
	require.NoError(t, err)

	conn.set(true)
	store.setFailing(true)
	summary, err := svc.SyncUnsynced(ctx)
	require.Error(t, err)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Zero(t, summary.Failed)

	store.setFailing(false)
	summary, err = svc.SyncUnsynced(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)

	sub.mu.Lock()
	assert.Len(t, sub.posts, 1)
	sub.mu.Unlock()

	unsynced, err := svc.List(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, unsynced)
}
