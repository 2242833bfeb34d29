package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"floodwatch/internal/client"
	"floodwatch/internal/model"
	"floodwatch/internal/service/contact"
	"floodwatch/internal/service/geofence"
	"floodwatch/internal/service/monitor"
	"floodwatch/internal/service/queue"
	"floodwatch/internal/service/report"
	"floodwatch/internal/service/storage"
	"floodwatch/internal/service/syncer"
	"floodwatch/internal/service/zone"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// backend is an offline-capable fake of the remote API
type backend struct {
	mu     sync.Mutex
	online bool
	sent   []client.Request
	posts  int
}

func (b *backend) Online() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.online
}

func (b *backend) setOnline(v bool) {
	b.mu.Lock()
	b.online = v
	b.mu.Unlock()
}

func (b *backend) Send(_ context.Context, req client.Request) (*client.Response, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.online {
		return nil, &model.NetworkError{Kind: model.ErrOffline}
	}
	b.sent = append(b.sent, req)
	return &client.Response{Status: http.StatusOK}, nil
}

func (b *backend) SubmitReport(context.Context, model.FloodReport) (*client.Response, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.online {
		return nil, &model.NetworkError{Kind: model.ErrOffline}
	}
	b.posts++
	return &client.Response{Status: http.StatusCreated}, nil
}

type fakeMonitor struct {
	mu    sync.Mutex
	state monitor.State
}

func (m *fakeMonitor) Start(context.Context) (monitor.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = monitor.StateActive
	return monitor.Session{ID: 1, StartedAt: time.Now()}, nil
}

func (m *fakeMonitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = monitor.StateIdle
}

func (m *fakeMonitor) CheckNow(context.Context) (geofence.Result, error) {
	if m.State() != monitor.StateActive {
		return geofence.Result{}, monitor.ErrNotActive
	}
	return geofence.Result{Entered: []string{"z1"}, Membership: model.ZoneMembership{"z1": {}}}, nil
}

func (m *fakeMonitor) State() monitor.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *fakeMonitor) Session() monitor.Session { return monitor.Session{} }

func (m *fakeMonitor) Membership() model.ZoneMembership { return model.ZoneMembership{} }

type harness struct {
	router  *gin.Engine
	backend *backend
	zones   *zone.ZoneService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := storage.NewMemoryStorage()
	be := &backend{}
	q := queue.New(store, be, 3, zap.NewNop())
	reports := report.NewReportService(store, be, be, zap.NewNop())
	zones := zone.NewZoneService(store, nil, time.Hour, 5000, zap.NewNop())

	r := gin.New()
	SetupRouter(r, Services{
		Info:         map[string]string{"name": "floodwatch"},
		Monitor:      &fakeMonitor{},
		Sync:         syncer.New(q, zap.NewNop(), syncer.RecordSync{Name: "reports", Syncer: reports}),
		Mutations:    q,
		Writer:       queue.NewWriter(q, be, be, zap.NewNop()),
		Reports:      reports,
		Alerts:       zones,
		Contacts:     contact.NewContactService(store),
		Connectivity: be,
	})
	return &harness{router: r, backend: be, zones: zones}
}

func (h *harness) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func TestRouter_Info(t *testing.T) {
	h := newHarness(t)
	w := h.do(t, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"name":"floodwatch"}`, w.Body.String())

	w = h.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_MonitorLifecycle(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodPost, "/api/monitor/check", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = h.do(t, http.MethodPost, "/api/monitor/start", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "active", decode[map[string]any](t, w)["state"])

	w = h.do(t, http.MethodPost, "/api/monitor/check", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []any{"z1"}, decode[map[string]any](t, w)["entered"])

	w = h.do(t, http.MethodPost, "/api/monitor/stop", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "idle", decode[map[string]any](t, w)["state"])
}

func TestRouter_OfflineWritesThenSync(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodPost, "/api/mutations", `{"method":"patch","url":"/contacts/c1","data":{"phone":"911"}}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	queued := decode[queue.WriteResult](t, w)
	require.True(t, queued.Queued)
	assert.Equal(t, http.MethodPatch, queued.Mutation.Method)

	w = h.do(t, http.MethodPost, "/api/reports", `{"latitude":14.6,"longitude":121.0,"waterLevel":"knee"}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.True(t, decode[report.SubmitResult](t, w).Offline)

	status := decode[map[string]any](t, h.do(t, http.MethodGet, "/api/status", ""))
	assert.Equal(t, false, status["online"])
	assert.Equal(t, float64(1), status["pending"])
	assert.Equal(t, "idle", status["monitor"])

	h.backend.setOnline(true)
	w = h.do(t, http.MethodPost, "/api/sync", "")
	require.Equal(t, http.StatusOK, w.Code)
	result := decode[syncer.Result](t, w)
	assert.Equal(t, 1, result.Mutations.Succeeded)
	assert.Equal(t, 1, result.Records["reports"].Succeeded)

	list := decode[[]model.QueuedMutation](t, h.do(t, http.MethodGet, "/api/mutations?status=completed", ""))
	require.Len(t, list, 1)
	assert.Equal(t, queued.Mutation.ID, list[0].ID)

	unsynced := decode[[]model.FloodReport](t, h.do(t, http.MethodGet, "/api/reports?unsynced=true", ""))
	assert.Empty(t, unsynced)
}

func TestRouter_Errors(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"bad mutation method", http.MethodPost, "/api/mutations", `{"method":"GET","url":"/x"}`, http.StatusBadRequest},
		{"invalid report", http.MethodPost, "/api/reports", `{"latitude":14.6,"longitude":121.0,"waterLevel":"ocean"}`, http.StatusBadRequest},
		{"unknown mutation", http.MethodGet, "/api/mutations/nope", "", http.StatusNotFound},
		{"retry unknown mutation", http.MethodPost, "/api/mutations/nope/retry", "", http.StatusNotFound},
		{"read unknown alert", http.MethodPost, "/api/alerts/nope/read", "", http.StatusNotFound},
		{"invalid contact", http.MethodPut, "/api/contacts", `{"name":"x","phone":"1","type":"plumber"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := h.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
}

func TestRouter_RetryPendingConflicts(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodPost, "/api/mutations", `{"method":"POST","url":"/reports"}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	id := decode[queue.WriteResult](t, w).Mutation.ID

	w = h.do(t, http.MethodPost, "/api/mutations/"+id+"/retry", "")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestRouter_AlertsAndContacts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.zones.Import(ctx, []model.HazardZone{{
		ID:       "z1",
		Name:     "Riverside",
		Severity: model.SeverityHigh,
		Geometry: model.Geometry{Type: model.GeometryCircle, Circle: &model.Circle{Center: [2]float64{14.6, 121.0}, RadiusMeters: 500}},
	}})
	require.NoError(t, err)

	fc := decode[map[string]any](t, h.do(t, http.MethodGet, "/api/zones", ""))
	assert.Equal(t, "FeatureCollection", fc["type"])
	assert.Len(t, fc["features"], 1)

	unread := decode[[]model.Alert](t, h.do(t, http.MethodGet, "/api/alerts?unread=true", ""))
	require.Len(t, unread, 1)

	w := h.do(t, http.MethodPost, "/api/alerts/z1/read", "")
	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, decode[[]model.Alert](t, h.do(t, http.MethodGet, "/api/alerts?unread=true", "")))
	assert.Len(t, decode[[]model.Alert](t, h.do(t, http.MethodGet, "/api/alerts", "")), 1)

	w = h.do(t, http.MethodPut, "/api/contacts", `{"name":"Barangay Rescue","phone":"161","type":"rescue"}`)
	require.Equal(t, http.StatusOK, w.Code)
	saved := decode[model.EmergencyContact](t, w)
	assert.NotEmpty(t, saved.ID)

	assert.Len(t, decode[[]model.EmergencyContact](t, h.do(t, http.MethodGet, "/api/contacts?type=rescue", "")), 1)
	assert.Empty(t, decode[[]model.EmergencyContact](t, h.do(t, http.MethodGet, "/api/contacts?type=medical", "")))

	w = h.do(t, http.MethodDelete, "/api/contacts/"+saved.ID, "")
	assert.Equal(t, http.StatusNoContent, w.Code)
}
