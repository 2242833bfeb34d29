// Package app wires the floodwatch services together and runs the local API.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"floodwatch/internal/api"
	"floodwatch/internal/api/ws"
	"floodwatch/internal/client"
	"floodwatch/internal/config"
	"floodwatch/internal/model"
	"floodwatch/internal/service/connectivity"
	"floodwatch/internal/service/contact"
	"floodwatch/internal/service/location"
	"floodwatch/internal/service/monitor"
	"floodwatch/internal/service/notify"
	"floodwatch/internal/service/queue"
	"floodwatch/internal/service/report"
	"floodwatch/internal/service/storage"
	"floodwatch/internal/service/syncer"
	"floodwatch/internal/service/zone"
	"floodwatch/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const Version = "0.4.0"

// Event types pushed to websocket clients
const (
	EventZoneEnter    = "zone.enter"
	EventZoneLeave    = "zone.leave"
	EventNotification = "notification"
	EventMonitorError = "monitor.error"
	EventSyncComplete = "sync.complete"
	EventConnectivity = "connectivity"
)

// App owns every long-lived component of the process
type App struct {
	Config config.Config
	Logger *zap.Logger

	Store        storage.Store
	Client       *client.Client
	Connectivity *connectivity.Monitor
	Tracker      *location.Tracker
	Zones        *zone.ZoneService
	Notifier     *notify.Notifier
	Queue        *queue.Queue
	Writer       *queue.Writer
	Reports      *report.ReportService
	Contacts     *contact.ContactService
	Monitor      *monitor.Controller
	Sync         *syncer.Orchestrator
	Scheduler    *worker.Scheduler
	Hub          *ws.Hub

	baseCtx    context.Context
	cancelBase context.CancelFunc
	background sync.WaitGroup
	closeOnce  sync.Once
}

// Open opens the configured store and builds the app around it. The device
// position comes from the configured route.
func Open(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	store, err := storage.Open(ctx, cfg.Store.URL, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	source := location.NewRouteSource(cfg.Device.Route, cfg.Device.SpeedMPS, cfg.Device.Tick)
	return New(cfg, store, source, logger), nil
}

// New wires the services over an already opened store and location source
func New(cfg config.Config, store storage.Store, source location.Source, logger *zap.Logger) *App {
	a := &App{Config: cfg, Logger: logger, Store: store}
	a.baseCtx, a.cancelBase = context.WithCancel(context.Background())

	a.Hub = ws.NewHub(logger)
	a.Scheduler = worker.NewScheduler(logger)
	a.Client = client.New(client.Options{
		BaseURL:         cfg.Backend.URL,
		Timeout:         cfg.Backend.Timeout,
		ExtendedTimeout: cfg.Backend.ExtendedTimeout,
		Token:           cfg.Backend.Token,
	}, logger)
	a.Connectivity = connectivity.NewMonitor(a.Client, logger)

	a.Tracker = location.NewTracker(source, cfg.Location.SignificantDistanceMeters, logger)
	a.Zones = zone.NewZoneService(store, a.Client, cfg.Cache.TTL, cfg.Monitor.SearchRadiusMeters, logger)
	a.Notifier = notify.NewNotifier(logger,
		notify.LogSink{Logger: logger},
		notify.SinkFunc(func(_ context.Context, n model.Notification) error {
			a.Hub.Broadcast(EventNotification, n)
			return nil
		}),
	)

	a.Queue = queue.New(store, a.Client, cfg.Queue.MaxRetries, logger)
	a.Writer = queue.NewWriter(a.Queue, a.Client, a.Connectivity, logger)
	a.Reports = report.NewReportService(store, a.Client, a.Connectivity, logger)
	a.Contacts = contact.NewContactService(store)

	a.Monitor = monitor.NewController(a.Tracker, a.Zones, a.Client, a.Notifier, a.Scheduler, monitor.Options{
		Interval: cfg.Monitor.Interval,
		Location: location.Options{
			HighAccuracy: cfg.Location.HighAccuracy,
			Timeout:      cfg.Location.Timeout,
			MaximumAge:   cfg.Location.MaximumAge,
		},
	}, logger)
	a.Sync = syncer.New(a.Queue, logger, syncer.RecordSync{Name: "reports", Syncer: a.Reports})

	a.subscribe()
	return a
}

func (a *App) subscribe() {
	a.Monitor.OnEnter.Subscribe(func(e monitor.EnterEvent) { a.Hub.Broadcast(EventZoneEnter, e) })
	a.Monitor.OnLeave.Subscribe(func(e monitor.LeaveEvent) { a.Hub.Broadcast(EventZoneLeave, e) })
	a.Monitor.OnError.Subscribe(func(err error) {
		a.Hub.Broadcast(EventMonitorError, map[string]string{"message": err.Error()})
	})
	a.Sync.OnComplete.Subscribe(func(r syncer.Result) { a.Hub.Broadcast(EventSyncComplete, r) })
	a.Connectivity.OnTransition.Subscribe(func(t connectivity.Transition) { a.Hub.Broadcast(EventConnectivity, t) })
}

func (a *App) goBackground(fn func(ctx context.Context)) {
	a.background.Add(1)
	go func() {
		defer a.background.Done()
		fn(a.baseCtx)
	}()
}

// reconnected drains queued work and refreshes the zones once the backend is back
func (a *App) reconnected(ctx context.Context) {
	if _, err := a.Sync.Sync(ctx); err != nil && !errors.Is(err, model.ErrAlreadySyncing) {
		a.Logger.Warn("Sync after reconnect failed", zap.Error(err))
	}
	if a.Monitor.State() == monitor.StateActive {
		if _, err := a.Monitor.CheckNow(ctx); err != nil {
			a.Logger.Debug("Check after reconnect failed", zap.Error(err))
		}
	}
}

// Start recovers interrupted work, probes the backend, arms the periodic jobs
// and starts monitoring when configured to. From here on every online
// transition triggers a sync and, while monitoring, a zone check.
func (a *App) Start(ctx context.Context) error {
	recovered, err := a.Queue.Recover(ctx)
	if err != nil {
		return fmt.Errorf("failed to recover offline queue: %w", err)
	}
	if recovered > 0 {
		a.Logger.Info("Recovered interrupted mutations", zap.Int("count", recovered))
	}

	a.Connectivity.OnTransition.Subscribe(func(t connectivity.Transition) {
		if t.Online {
			a.goBackground(a.reconnected)
		}
	})
	a.Connectivity.Probe(ctx)
	a.Scheduler.Every("connectivity-probe", a.Config.Connectivity.ProbeInterval, func(ctx context.Context) {
		a.Connectivity.Probe(ctx)
	})
	a.Scheduler.Every("queue-prune", a.Config.Queue.PruneInterval, func(ctx context.Context) {
		if _, err := a.Queue.Prune(ctx, a.Config.Queue.Retention); err != nil {
			a.Logger.Warn("Queue prune failed", zap.Error(err))
		}
	})

	if a.Config.Monitor.AutoStart {
		if _, err := a.Monitor.Start(ctx); err != nil {
			a.Logger.Warn("Monitoring not started", zap.Error(err))
		}
	}
	return nil
}

// Router builds the local API
func (a *App) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	api.SetupRouter(r, api.Services{
		Info: map[string]string{
			"name":    "floodwatch",
			"version": Version,
			"listen":  a.Config.API.Listen,
			"backend": a.Config.Backend.URL,
		},
		Monitor:      a.Monitor,
		Sync:         a.Sync,
		Mutations:    a.Queue,
		Writer:       a.Writer,
		Reports:      a.Reports,
		Alerts:       a.Zones,
		Contacts:     a.Contacts,
		Connectivity: a.Connectivity,
		Events:       a.Hub,
	})
	return r
}

// Run starts the app and serves the local API until ctx is done
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}

	srv := &http.Server{Addr: a.Config.API.Listen, Handler: a.Router()}
	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("Local API listening", zap.String("addr", a.Config.API.Listen))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.Hub.Close()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Close stops monitoring and the background jobs, then closes the store
func (a *App) Close() error {
	var err error
	a.closeOnce.Do(func() {
		a.Monitor.Stop()
		a.Scheduler.Stop()
		a.cancelBase()
		a.background.Wait()
		a.Hub.Close()
		err = a.Store.Close()
	})
	return err
}
