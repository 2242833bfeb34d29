// Package monitor owns a flood zone monitoring session: it drives the location
// tracker and the geofence evaluation on a timer and dispatches enter/leave
// events, risk lookups and notifications.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"floodwatch/internal/event"
	"floodwatch/internal/metrics"
	"floodwatch/internal/model"
	"floodwatch/internal/service/geofence"
	"floodwatch/internal/service/location"
	"floodwatch/internal/worker"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var (
	ErrNotActive = errors.New("monitoring is not active")
	ErrStopping  = errors.New("monitoring is stopping")
	ErrNoFix     = errors.New("no location fix yet")
)

type State int

const (
	StateIdle State = iota
	StateStarting
	StateActive
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateActive:
		return "active"
	case StateStopping:
		return "stopping"
	}
	return "idle"
}

// Tracker is the location side of a session
type Tracker interface {
	Start(ctx context.Context, opts location.Options) (model.LocationFix, error)
	Watch(opts location.Options, onFix func(model.LocationFix), onError func(error)) error
	Stop()
	LastFix() (model.LocationFix, bool)
}

// ZoneProvider builds the zone index relevant at a fix
type ZoneProvider interface {
	Index(ctx context.Context, fix model.LocationFix) (*geofence.Index, error)
}

// RiskAssessor looks up risk and evacuation routes for a position
type RiskAssessor interface {
	AssessRisk(ctx context.Context, fix model.LocationFix) (model.RiskAssessment, error)
	EvacuationRoutes(ctx context.Context, fix model.LocationFix) ([]model.EvacuationRoute, error)
}

// Notifier delivers entered notifications deduplicated by zone id
type Notifier interface {
	NotifyEntered(ctx context.Context, zone model.HazardZone, risk *model.RiskAssessment, routes []model.EvacuationRoute) (model.Notification, bool)
	Clear(zoneID string)
	Reset()
}

// EnterEvent is raised once per check that entered at least one zone
type EnterEvent struct {
	Zones  []model.HazardZone      `json:"zones"`
	Fix    model.LocationFix       `json:"fix"`
	Risk   *model.RiskAssessment   `json:"risk,omitempty"`
	Routes []model.EvacuationRoute `json:"routes,omitempty"`
}

// LeaveEvent is raised once per check that left at least one zone
type LeaveEvent struct {
	ZoneIDs []string          `json:"zoneIds"`
	Fix     model.LocationFix `json:"fix"`
}

// Session identifies one Start..Stop span
type Session struct {
	ID        uint64            `json:"id"`
	StartedAt time.Time         `json:"startedAt"`
	Fix       model.LocationFix `json:"fix"`
}

type Options struct {
	Interval time.Duration
	Location location.Options
}

// Controller is the monitoring state machine
// Idle -> Starting -> Active -> Stopping -> Idle.
// Membership is only written here and always equals the result of the last
// evaluation of the current session.
type Controller struct {
	tracker   Tracker
	zones     ZoneProvider
	risk      RiskAssessor
	notifier  Notifier
	scheduler *worker.Scheduler
	opts      Options
	logger    *zap.Logger

	mu          sync.Mutex
	state       State
	session     Session
	generation  uint64
	membership  model.ZoneMembership
	cancelTimer func()

	checks singleflight.Group

	OnEnter event.Observers[EnterEvent]
	OnLeave event.Observers[LeaveEvent]
	OnError event.Observers[error]
}

func NewController(tracker Tracker, zones ZoneProvider, risk RiskAssessor, notifier Notifier, scheduler *worker.Scheduler, opts Options, logger *zap.Logger) *Controller {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Minute
	}
	return &Controller{
		tracker:    tracker,
		zones:      zones,
		risk:       risk,
		notifier:   notifier,
		scheduler:  scheduler,
		opts:       opts,
		logger:     logger.Named("monitor"),
		membership: make(model.ZoneMembership),
	}
}

// Start begins a session: first fix, location watch, an immediate check and
// then the periodic timer. While Starting or Active it returns the existing
// session without doing anything. Location errors abort the start and leave
// the controller Idle.
func (c *Controller) Start(ctx context.Context) (Session, error) {
	c.mu.Lock()
	switch c.state {
	case StateStarting, StateActive:
		s := c.session
		c.mu.Unlock()
		return s, nil
	case StateStopping:
		c.mu.Unlock()
		return Session{}, ErrStopping
	}
	c.generation++
	gen := c.generation
	c.state = StateStarting
	c.session = Session{ID: gen, StartedAt: time.Now()}
	c.mu.Unlock()

	c.logger.Info("Starting flood zone monitoring", zap.Uint64("session", gen))

	fix, err := c.tracker.Start(ctx, c.opts.Location)
	if err != nil {
		c.abortStart(gen)
		return Session{}, fmt.Errorf("failed to start location tracking: %w", err)
	}

	if !c.isGeneration(gen) {
		return Session{}, ErrStopping
	}

	err = c.tracker.Watch(c.opts.Location,
		func(model.LocationFix) { go c.checkInBackground() },
		c.report,
	)
	if err != nil {
		c.tracker.Stop()
		c.abortStart(gen)
		return Session{}, fmt.Errorf("failed to watch location: %w", err)
	}

	c.mu.Lock()
	if c.generation != gen {
		// stopped while the watch was being set up; a newer session owns the
		// tracker once it is starting or active
		superseded := c.state == StateStarting || c.state == StateActive
		c.mu.Unlock()
		if !superseded {
			c.tracker.Stop()
		}
		return Session{}, ErrStopping
	}
	c.state = StateActive
	c.session.Fix = fix
	session := c.session
	c.mu.Unlock()

	// errors of the first check are already reported and do not stop the session
	_, _ = c.CheckNow(ctx)

	c.mu.Lock()
	if c.generation == gen {
		c.cancelTimer = c.scheduler.Every("monitor-check", c.opts.Interval, func(ctx context.Context) {
			_, _ = c.CheckNow(context.WithoutCancel(ctx))
		})
	}
	c.mu.Unlock()

	c.logger.Info("Flood zone monitoring active",
		zap.Uint64("session", gen),
		zap.Duration("interval", c.opts.Interval))
	return session, nil
}

func (c *Controller) isGeneration(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation == gen
}

func (c *Controller) abortStart(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation == gen {
		c.state = StateIdle
		c.session = Session{}
	}
}

// Stop cancels the timer and the location watch and returns to Idle.
// Checks still in flight finish but their results are discarded.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.state == StateIdle || c.state == StateStopping {
		c.mu.Unlock()
		return
	}
	c.state = StateStopping
	c.generation++
	cancel := c.cancelTimer
	c.cancelTimer = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.tracker.Stop()
	c.notifier.Reset()

	c.mu.Lock()
	c.membership = make(model.ZoneMembership)
	c.session = Session{}
	c.state = StateIdle
	c.mu.Unlock()

	c.logger.Info("Flood zone monitoring stopped")
}

// CheckNow evaluates the latest fix immediately. Concurrent calls share the
// check already in flight instead of starting another one. The shared check
// outlives a cancelled caller, who gets ctx.Err() back.
func (c *Controller) CheckNow(ctx context.Context) (geofence.Result, error) {
	ch := c.checks.DoChan("check", func() (any, error) {
		return c.check(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return geofence.Result{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return geofence.Result{}, res.Err
		}
		return res.Val.(geofence.Result), nil
	}
}

func (c *Controller) checkInBackground() {
	if c.State() == StateActive {
		_, _ = c.CheckNow(context.Background())
	}
}

func (c *Controller) check(ctx context.Context) (geofence.Result, error) {
	c.mu.Lock()
	if c.state != StateActive {
		c.mu.Unlock()
		return geofence.Result{}, ErrNotActive
	}
	gen := c.generation
	previous := c.membership.Clone()
	c.mu.Unlock()

	fix, ok := c.tracker.LastFix()
	if !ok {
		c.report(ErrNoFix)
		return geofence.Result{}, ErrNoFix
	}

	idx, err := c.zones.Index(ctx, fix)
	if err != nil {
		err = fmt.Errorf("failed to load zones: %w", err)
		c.report(err)
		return geofence.Result{}, err
	}

	result := idx.Evaluate(fix, previous)

	c.mu.Lock()
	if c.generation != gen || c.state != StateActive {
		c.mu.Unlock()
		return geofence.Result{}, ErrNotActive
	}
	c.membership = result.Membership
	c.mu.Unlock()

	metrics.GeofenceChecks.WithLabelValues("ok").Inc()
	c.logger.Debug("Geofence check",
		zap.Int("zones", idx.Len()),
		zap.Int("members", len(result.Membership)),
		zap.Strings("entered", result.Entered),
		zap.Strings("left", result.Left))

	if len(result.Left) > 0 {
		c.handleLeft(result.Left, fix)
	}
	if len(result.Entered) > 0 {
		c.handleEntered(ctx, idx, result.Entered, fix)
	}
	return result, nil
}

func (c *Controller) handleEntered(ctx context.Context, idx *geofence.Index, ids []string, fix model.LocationFix) {
	byID := make(map[string]model.HazardZone, len(ids))
	for _, z := range idx.Zones() {
		byID[z.ID] = z
	}
	zones := make([]model.HazardZone, 0, len(ids))
	for _, id := range ids {
		zones = append(zones, byID[id])
	}
	metrics.ZoneTransitions.WithLabelValues("enter").Add(float64(len(ids)))
	c.logger.Info("Entered flood zones", zap.Strings("zones", ids))

	var (
		risk   *model.RiskAssessment
		routes []model.EvacuationRoute
	)
	if c.risk != nil {
		assessment, err := c.risk.AssessRisk(ctx, fix)
		if err != nil {
			c.report(fmt.Errorf("risk assessment failed: %w", err))
		} else {
			risk = &assessment
			if assessment.High() {
				routes, err = c.risk.EvacuationRoutes(ctx, fix)
				if err != nil {
					c.report(fmt.Errorf("evacuation route lookup failed: %w", err))
				}
			}
		}
	}

	for _, zone := range zones {
		c.notifier.NotifyEntered(ctx, zone, risk, routes)
	}
	c.OnEnter.Emit(EnterEvent{Zones: zones, Fix: fix, Risk: risk, Routes: routes})
}

func (c *Controller) handleLeft(ids []string, fix model.LocationFix) {
	metrics.ZoneTransitions.WithLabelValues("leave").Add(float64(len(ids)))
	c.logger.Info("Left flood zones", zap.Strings("zones", ids))
	for _, id := range ids {
		c.notifier.Clear(id)
	}
	c.OnLeave.Emit(LeaveEvent{ZoneIDs: ids, Fix: fix})
}

func (c *Controller) report(err error) {
	metrics.GeofenceChecks.WithLabelValues("error").Inc()
	c.logger.Warn("Monitoring check error", zap.Error(err))
	c.OnError.Emit(err)
}

// State returns the current state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Session returns the current session; zero when Idle
func (c *Controller) Session() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Membership returns a copy of the current zone membership
func (c *Controller) Membership() model.ZoneMembership {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.membership.Clone()
}
