package monitor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"floodwatch/internal/model"
	"floodwatch/internal/service/geofence"
	"floodwatch/internal/service/location"
	"floodwatch/internal/service/notify"
	"floodwatch/internal/util"
	"floodwatch/internal/worker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeTracker struct {
	mu       sync.Mutex
	startErr error
	last     *model.LocationFix
	onFix    func(model.LocationFix)
	starts   int
	stops    int
	watching bool
	// gate, when set, holds Start until it is closed
	gate chan struct{}
}

func (f *fakeTracker) Start(context.Context, location.Options) (model.LocationFix, error) {
	f.mu.Lock()
	f.starts++
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return model.LocationFix{}, f.startErr
	}
	return *f.last, nil
}

func (f *fakeTracker) isWatching() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.watching
}

func (f *fakeTracker) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts
}

func (f *fakeTracker) Watch(_ location.Options, onFix func(model.LocationFix), _ func(error)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onFix = onFix
	f.watching = true
	return nil
}

func (f *fakeTracker) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.watching = false
	f.onFix = nil
}

func (f *fakeTracker) LastFix() (model.LocationFix, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.last == nil {
		return model.LocationFix{}, false
	}
	return *f.last, true
}

// move sets the last fix and, like the real tracker, reports it to the watcher
func (f *fakeTracker) move(fix model.LocationFix) {
	f.mu.Lock()
	f.last = &fix
	fn := f.onFix
	f.mu.Unlock()
	if fn != nil {
		fn(fix)
	}
}

type fakeZones struct {
	zones []model.HazardZone
	calls atomic.Int32
	block atomic.Pointer[chan struct{}]
	err   atomic.Pointer[error]
}

func (f *fakeZones) Index(ctx context.Context, _ model.LocationFix) (*geofence.Index, error) {
	f.calls.Add(1)
	if ch := f.block.Load(); ch != nil {
		<-*ch
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := f.err.Load(); err != nil {
		return nil, *err
	}
	return geofence.NewIndex(f.zones), nil
}

type fakeRisk struct {
	level       model.RiskLevel
	err         error
	assessCalls atomic.Int32
	routeCalls  atomic.Int32
}

func (f *fakeRisk) AssessRisk(context.Context, model.LocationFix) (model.RiskAssessment, error) {
	f.assessCalls.Add(1)
	return model.RiskAssessment{Level: f.level}, f.err
}

func (f *fakeRisk) EvacuationRoutes(context.Context, model.LocationFix) ([]model.EvacuationRoute, error) {
	f.routeCalls.Add(1)
	return []model.EvacuationRoute{{ID: "r1", Name: "North", ShelterName: "Gym"}}, nil
}

type recordingSink struct {
	mu  sync.Mutex
	got []model.Notification
}

func (s *recordingSink) Deliver(_ context.Context, n model.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, n)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got)
}

type harness struct {
	ctrl    *Controller
	tracker *fakeTracker
	zones   *fakeZones
	risk    *fakeRisk
	sink    *recordingSink

	mu     sync.Mutex
	enters []EnterEvent
	leaves []LeaveEvent
	errs   []error
}

func fixAt(northMeters float64) model.LocationFix {
	lat, lng := util.OffsetNorth(14.6, 121.0, northMeters)
	return model.LocationFix{Latitude: lat, Longitude: lng, Timestamp: time.Now()}
}

func newHarness(t *testing.T, interval time.Duration, start model.LocationFix) *harness {
	t.Helper()
	scheduler := worker.NewScheduler(zap.NewNop())
	t.Cleanup(scheduler.Stop)

	h := &harness{
		tracker: &fakeTracker{last: &start},
		zones:   &fakeZones{zones: []model.HazardZone{model.NewCircleZone("marikina", 14.6, 121.0, 5000, model.SeverityHigh)}},
		risk:    &fakeRisk{level: model.RiskHigh},
		sink:    &recordingSink{},
	}
	h.ctrl = NewController(h.tracker, h.zones, h.risk, notify.NewNotifier(zap.NewNop(), h.sink), scheduler,
		Options{Interval: interval}, zap.NewNop())
	t.Cleanup(h.ctrl.Stop)

	h.ctrl.OnEnter.Subscribe(func(e EnterEvent) {
		h.mu.Lock()
		h.enters = append(h.enters, e)
		h.mu.Unlock()
	})
	h.ctrl.OnLeave.Subscribe(func(e LeaveEvent) {
		h.mu.Lock()
		h.leaves = append(h.leaves, e)
		h.mu.Unlock()
	})
	h.ctrl.OnError.Subscribe(func(err error) {
		h.mu.Lock()
		h.errs = append(h.errs, err)
		h.mu.Unlock()
	})
	return h
}

func (h *harness) counts() (enters, leaves, errs int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.enters), len(h.leaves), len(h.errs)
}

func TestController_StartRunsImmediateCheck(t *testing.T) {
	h := newHarness(t, time.Hour, fixAt(4000))

	session, err := h.ctrl.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateActive, h.ctrl.State())
	assert.NotZero(t, session.ID)

	assert.True(t, h.ctrl.Membership().Has("marikina"))
	require.Len(t, h.enters, 1)
	assert.Equal(t, "marikina", h.enters[0].Zones[0].ID)
	require.NotNil(t, h.enters[0].Risk)
	assert.Len(t, h.enters[0].Routes, 1)
	assert.Equal(t, int32(1), h.risk.assessCalls.Load())
	assert.Equal(t, int32(1), h.risk.routeCalls.Load())
	assert.Equal(t, 1, h.sink.count())

	again, err := h.ctrl.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, session, again)
	assert.Equal(t, 1, h.tracker.starts)
}

func TestController_LowRiskSkipsRoutes(t *testing.T) {
	h := newHarness(t, time.Hour, fixAt(1000))
	h.risk.level = model.RiskLow

	_, err := h.ctrl.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), h.risk.assessCalls.Load())
	assert.Zero(t, h.risk.routeCalls.Load())
	require.Len(t, h.enters, 1)
	assert.Empty(t, h.enters[0].Routes)
}

func TestController_LeaveAndReenter(t *testing.T) {
	h := newHarness(t, time.Hour, fixAt(4000))
	_, err := h.ctrl.Start(context.Background())
	require.NoError(t, err)

	h.tracker.move(fixAt(6000))
	require.Eventually(t, func() bool { _, leaves, _ := h.counts(); return leaves == 1 }, time.Second, time.Millisecond)

	h.mu.Lock()
	assert.Equal(t, []string{"marikina"}, h.leaves[0].ZoneIDs)
	h.mu.Unlock()
	assert.False(t, h.ctrl.Membership().Has("marikina"))

	h.tracker.move(fixAt(3000))
	require.Eventually(t, func() bool { enters, _, _ := h.counts(); return enters == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, 2, h.sink.count())
}

func TestController_RepeatedChecksDoNotRenotify(t *testing.T) {
	h := newHarness(t, time.Hour, fixAt(4000))
	_, err := h.ctrl.Start(context.Background())
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		res, err := h.ctrl.CheckNow(context.Background())
		require.NoError(t, err)
		assert.False(t, res.Changed())
	}
	assert.Equal(t, 1, h.sink.count())
	enters, _, _ := h.counts()
	assert.Equal(t, 1, enters)
}

func TestController_CheckNowCoalesces(t *testing.T) {
	h := newHarness(t, time.Hour, fixAt(10000))
	_, err := h.ctrl.Start(context.Background())
	require.NoError(t, err)
	base := h.zones.calls.Load()

	gate := make(chan struct{})
	h.zones.block.Store(&gate)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.ctrl.CheckNow(context.Background())
			assert.NoError(t, err)
		}()
	}
	require.Eventually(t, func() bool { return h.zones.calls.Load() == base+1 }, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	h.zones.block.Store(nil)
	close(gate)
	wg.Wait()

	assert.LessOrEqual(t, h.zones.calls.Load(), base+2)
}

func TestController_ErrorsKeepMonitoring(t *testing.T) {
	h := newHarness(t, time.Hour, fixAt(4000))
	boom := &model.NetworkError{Kind: model.ErrServer, Status: 500}
	var asErr error = boom
	h.zones.err.Store(&asErr)

	_, err := h.ctrl.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateActive, h.ctrl.State())

	_, err = h.ctrl.CheckNow(context.Background())
	assert.ErrorIs(t, err, model.ErrServer)
	assert.Equal(t, StateActive, h.ctrl.State())

	_, _, errs := h.counts()
	assert.Equal(t, 2, errs)

	h.zones.err.Store(nil)
	res, err := h.ctrl.CheckNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"marikina"}, res.Entered)
}

func TestController_RiskFailureStillNotifies(t *testing.T) {
	h := newHarness(t, time.Hour, fixAt(100))
	h.risk.err = &model.NetworkError{Kind: model.ErrOffline}

	_, err := h.ctrl.Start(context.Background())
	require.NoError(t, err)

	enters, _, errs := h.counts()
	assert.Equal(t, 1, enters)
	assert.Equal(t, 1, errs)
	assert.Nil(t, h.enters[0].Risk)
	assert.Equal(t, 1, h.sink.count())
}

func TestController_StartFailureStaysIdle(t *testing.T) {
	h := newHarness(t, time.Hour, fixAt(0))
	h.tracker.startErr = model.NewLocationError(model.ErrPermissionDenied, nil)

	_, err := h.ctrl.Start(context.Background())
	assert.ErrorIs(t, err, model.ErrPermissionDenied)
	assert.Equal(t, StateIdle, h.ctrl.State())
	assert.False(t, h.tracker.watching)

	_, err = h.ctrl.CheckNow(context.Background())
	assert.ErrorIs(t, err, ErrNotActive)
}

func TestController_StopIsIdempotentAndResets(t *testing.T) {
	h := newHarness(t, time.Hour, fixAt(4000))
	_, err := h.ctrl.Start(context.Background())
	require.NoError(t, err)

	h.ctrl.Stop()
	h.ctrl.Stop()

	assert.Equal(t, StateIdle, h.ctrl.State())
	assert.Empty(t, h.ctrl.Membership())
	assert.Zero(t, h.ctrl.Session().ID)
	assert.Equal(t, 1, h.tracker.stops)

	_, err = h.ctrl.CheckNow(context.Background())
	assert.ErrorIs(t, err, ErrNotActive)

	// a fresh session sees the zone as newly entered again
	_, err = h.ctrl.Start(context.Background())
	require.NoError(t, err)
	enters, _, _ := h.counts()
	assert.Equal(t, 2, enters)
	assert.Equal(t, 2, h.sink.count())
}

func TestController_TimerDrivesChecks(t *testing.T) {
	h := newHarness(t, 5*time.Millisecond, fixAt(10000))
	_, err := h.ctrl.Start(context.Background())
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return h.zones.calls.Load() >= 4 }, time.Second, time.Millisecond)

	h.ctrl.Stop()
	time.Sleep(20 * time.Millisecond)
	settled := h.zones.calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, settled, h.zones.calls.Load())
}

func TestController_StopDuringStartReleasesWatch(t *testing.T) {
	h := newHarness(t, time.Hour, fixAt(10000))
	gate := make(chan struct{})
	h.tracker.mu.Lock()
	h.tracker.gate = gate
	h.tracker.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		_, err := h.ctrl.Start(context.Background())
		errCh <- err
	}()
	require.Eventually(t, func() bool { return h.tracker.startCount() == 1 }, time.Second, time.Millisecond)

	h.ctrl.Stop()
	close(gate)
	require.ErrorIs(t, <-errCh, ErrStopping)
	assert.Equal(t, StateIdle, h.ctrl.State())
	assert.False(t, h.tracker.isWatching())

	h.tracker.mu.Lock()
	h.tracker.gate = nil
	h.tracker.mu.Unlock()

	_, err := h.ctrl.Start(context.Background())
	require.NoError(t, err)
	assert.False(t, h.ctrl.Membership().Has("marikina"))

	h.tracker.move(fixAt(1000))
	require.Eventually(t, func() bool { return h.ctrl.Membership().Has("marikina") }, time.Second, time.Millisecond)
}

func TestController_CancelledCallerDoesNotFailSharedCheck(t *testing.T) {
	h := newHarness(t, time.Hour, fixAt(10000))
	_, err := h.ctrl.Start(context.Background())
	require.NoError(t, err)

	// the device moves inside without the watch firing
	inside := fixAt(1000)
	h.tracker.mu.Lock()
	h.tracker.last = &inside
	h.tracker.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := h.ctrl.CheckNow(ctx); err != nil {
		assert.ErrorIs(t, err, context.Canceled)
	}

	require.Eventually(t, func() bool { return h.ctrl.Membership().Has("marikina") }, time.Second, time.Millisecond)
	_, _, errs := h.counts()
	assert.Zero(t, errs)
	assert.Equal(t, StateActive, h.ctrl.State())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "starting", StateStarting.String())
	assert.Equal(t, "active", StateActive.String())
	assert.Equal(t, "stopping", StateStopping.String())
	assert.True(t, errors.Is(ErrNotActive, ErrNotActive))
}
