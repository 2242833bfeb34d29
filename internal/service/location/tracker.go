package location

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"floodwatch/internal/metrics"
	"floodwatch/internal/model"
	"floodwatch/internal/util"

	"go.uber.org/zap"
)

// Tracker filters raw fixes down to significant movements.
// A fix is accepted when there is no previous fix or it lies more than the
// threshold away from the last accepted one.
type Tracker struct {
	source    Source
	threshold float64
	logger    *zap.Logger

	mu       sync.Mutex
	last     *model.LocationFix
	cancel   func()
	watching bool
	accepted int
}

// NewTracker creates a tracker; thresholdMeters <= 0 falls back to 100 m
func NewTracker(source Source, thresholdMeters float64, logger *zap.Logger) *Tracker {
	if thresholdMeters <= 0 {
		thresholdMeters = 100
	}
	return &Tracker{
		source:    source,
		threshold: thresholdMeters,
		logger:    logger.Named("location"),
	}
}

// Start acquires the first position. Unsupported sources, denied permission
// and timeouts fail immediately and leave the tracker idle.
func (t *Tracker) Start(ctx context.Context, opts Options) (model.LocationFix, error) {
	if t.source == nil || !t.source.Supported() {
		return model.LocationFix{}, model.NewLocationError(model.ErrLocationUnsupported, nil)
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	fix, err := t.source.Current(ctx, opts)
	if err != nil {
		var locErr *model.LocationError
		switch {
		case errors.As(err, &locErr):
			return model.LocationFix{}, locErr
		case errors.Is(err, context.DeadlineExceeded):
			return model.LocationFix{}, model.NewLocationError(model.ErrLocationTimeout, err)
		default:
			return model.LocationFix{}, fmt.Errorf("failed to acquire position: %w", err)
		}
	}

	t.Offer(fix)
	last, _ := t.LastFix()
	return last, nil
}

// Watch starts continuous updates. onFix only sees accepted fixes; source
// errors go to onError and the watch keeps running. Calling Watch while
// already watching is a no-op.
func (t *Tracker) Watch(opts Options, onFix func(model.LocationFix), onError func(error)) error {
	t.mu.Lock()
	if t.watching {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	if t.source == nil || !t.source.Supported() {
		return model.NewLocationError(model.ErrLocationUnsupported, nil)
	}

	cancel, err := t.source.Watch(opts,
		func(fix model.LocationFix) {
			if t.Offer(fix) && onFix != nil {
				onFix(fix)
			}
		},
		func(err error) {
			t.logger.Warn("Location watch error", zap.Error(err))
			if onError != nil {
				onError(err)
			}
		},
	)
	if err != nil {
		return err
	}

	t.mu.Lock()
	if t.watching {
		// lost a race with a concurrent Watch
		t.mu.Unlock()
		cancel()
		return nil
	}
	t.cancel = cancel
	t.watching = true
	t.mu.Unlock()

	t.logger.Debug("Location watch started")
	return nil
}

// Stop cancels the underlying watch. Safe to call repeatedly.
func (t *Tracker) Stop() {
	t.mu.Lock()
	cancel := t.cancel
	t.cancel = nil
	t.watching = false
	t.mu.Unlock()

	if cancel != nil {
		cancel()
		t.logger.Debug("Location watch stopped")
	}
}

// Offer runs a raw fix through the significance filter and reports whether it was accepted
func (t *Tracker) Offer(fix model.LocationFix) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.last != nil {
		d := util.HaversineDistance(t.last.Latitude, t.last.Longitude, fix.Latitude, fix.Longitude)
		if d <= t.threshold {
			metrics.LocationFixes.WithLabelValues("dropped").Inc()
			return false
		}
	}

	accepted := fix
	t.last = &accepted
	t.accepted++
	metrics.LocationFixes.WithLabelValues("accepted").Inc()
	t.logger.Debug("Accepted location fix",
		zap.Float64("lat", fix.Latitude),
		zap.Float64("lng", fix.Longitude),
		zap.Float64("accuracy", fix.Accuracy))
	return true
}

// LastFix returns the most recent accepted fix
func (t *Tracker) LastFix() (model.LocationFix, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.last == nil {
		return model.LocationFix{}, false
	}
	return *t.last, true
}

// Watching reports whether a watch is active
func (t *Tracker) Watching() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.watching
}

// Accepted returns how many fixes passed the filter so far
func (t *Tracker) Accepted() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.accepted
}
