package app

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"floodwatch/internal/config"
	"floodwatch/internal/model"
	"floodwatch/internal/service/location"
	"floodwatch/internal/service/monitor"
	"floodwatch/internal/service/storage"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var home = model.LocationFix{Latitude: 14.6507, Longitude: 121.1029, Accuracy: 5}

type staticSource struct{ fix model.LocationFix }

func (s staticSource) Supported() bool { return true }

func (s staticSource) Current(context.Context, location.Options) (model.LocationFix, error) {
	fix := s.fix
	fix.Timestamp = time.Now()
	return fix, nil
}

func (s staticSource) Watch(location.Options, func(model.LocationFix), func(error)) (func(), error) {
	return func() {}, nil
}

// fakeBackend records the writes it receives
type fakeBackend struct {
	mu      sync.Mutex
	patches []string
	reports int
}

func (b *fakeBackend) server(t *testing.T) *httptest.Server {
	t.Helper()
	r := gin.New()
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/alerts/nearby", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"data": []model.HazardZone{{
			ID:       "marikina-river",
			Name:     "Marikina River",
			Severity: model.SeverityHigh,
			Geometry: model.Geometry{
				Type:   model.GeometryCircle,
				Circle: &model.Circle{Center: [2]float64{home.Latitude, home.Longitude}, RadiusMeters: 800},
			},
		}}})
	})
	r.POST("/risk/assess", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"data": model.RiskAssessment{Level: model.RiskHigh, Summary: "River above critical level"}})
	})
	r.POST("/evacuation/routes", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"data": []model.EvacuationRoute{{ID: "r1", Name: "To Nangka Elementary", ShelterName: "Nangka Elementary"}}})
	})
	r.POST("/reports", func(c *gin.Context) {
		b.mu.Lock()
		b.reports++
		b.mu.Unlock()
		c.JSON(http.StatusCreated, gin.H{"data": gin.H{"ok": true}})
	})
	r.PATCH("/contacts/:id", func(c *gin.Context) {
		body, _ := io.ReadAll(c.Request.Body)
		b.mu.Lock()
		b.patches = append(b.patches, string(body))
		b.mu.Unlock()
		c.JSON(http.StatusOK, gin.H{"data": gin.H{"ok": true}})
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func (b *fakeBackend) patchCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.patches)
}

func testConfig(backendURL string) config.Config {
	return config.Config{
		API:     config.APIConfig{Listen: "127.0.0.1:0"},
		Backend: config.BackendConfig{URL: backendURL, Timeout: time.Second, ExtendedTimeout: 2 * time.Second},
		Store:   config.StoreConfig{URL: "memory://"},
		Cache:   config.CacheConfig{TTL: time.Hour},
		Location: config.LocationConfig{
			SignificantDistanceMeters: 10,
			Timeout:                   time.Second,
		},
		Monitor:      config.MonitorConfig{Interval: time.Hour, SearchRadiusMeters: 5000},
		Queue:        config.QueueConfig{MaxRetries: 3, Retention: time.Hour, PruneInterval: time.Hour},
		Connectivity: config.ConnectivityConfig{ProbeInterval: time.Hour},
	}
}

func TestApp_ReconnectDrainsQueue(t *testing.T) {
	backend := &fakeBackend{}
	srv := backend.server(t)

	a := New(testConfig(srv.URL), storage.NewMemoryStorage(), staticSource{fix: home}, zap.NewNop())
	defer a.Close()
	ctx := context.Background()

	// connectivity starts offline until the first probe
	res, err := a.Writer.Write(ctx, http.MethodPatch, "/contacts/c1", []byte(`{"phone":"911"}`), nil)
	require.NoError(t, err)
	require.True(t, res.Queued)

	_, err = a.Reports.Submit(ctx, model.ReportInput{Latitude: home.Latitude, Longitude: home.Longitude, WaterLevel: "knee"})
	require.NoError(t, err)

	require.NoError(t, a.Start(ctx))
	assert.True(t, a.Connectivity.Online())

	require.Eventually(t, func() bool {
		n, err := a.Queue.PendingCount(ctx)
		return err == nil && n == 0 && backend.patchCount() == 1
	}, 3*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		unsynced, err := a.Reports.List(ctx, true)
		return err == nil && len(unsynced) == 0
	}, 3*time.Second, 20*time.Millisecond)

	backend.mu.Lock()
	assert.Equal(t, 1, backend.reports)
	backend.mu.Unlock()
	assert.Equal(t, monitor.StateIdle, a.Monitor.State())
}

func TestApp_AutoStartNotifiesOnEntry(t *testing.T) {
	backend := &fakeBackend{}
	srv := backend.server(t)

	cfg := testConfig(srv.URL)
	cfg.Monitor.AutoStart = true
	a := New(cfg, storage.NewMemoryStorage(), staticSource{fix: home}, zap.NewNop())
	defer a.Close()

	var entered []monitor.EnterEvent
	var mu sync.Mutex
	a.Monitor.OnEnter.Subscribe(func(e monitor.EnterEvent) {
		mu.Lock()
		entered = append(entered, e)
		mu.Unlock()
	})

	require.NoError(t, a.Start(context.Background()))
	assert.Equal(t, monitor.StateActive, a.Monitor.State())

	delivered := a.Notifier.Delivered()
	require.Len(t, delivered, 1)
	assert.Equal(t, "marikina-river", delivered[0].ZoneID)
	assert.Len(t, delivered[0].Routes, 1)

	mu.Lock()
	require.NotEmpty(t, entered)
	assert.Equal(t, "marikina-river", entered[0].Zones[0].ID)
	mu.Unlock()

	assert.True(t, a.Monitor.Membership().Has("marikina-river"))

	// remote zones are now cached for offline use
	alerts, err := a.Zones.Alerts(context.Background(), true)
	require.NoError(t, err)
	assert.Len(t, alerts, 1)
}

func TestApp_CloseIsIdempotent(t *testing.T) {
	a := New(testConfig("http://127.0.0.1:1"), storage.NewMemoryStorage(), staticSource{fix: home}, zap.NewNop())
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
}
