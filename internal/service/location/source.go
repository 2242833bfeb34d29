// Package location acquires device positions and filters out insignificant movement.
package location

import (
	"context"
	"time"

	"floodwatch/internal/model"
)

// Options mirror the device geolocation request options
type Options struct {
	HighAccuracy bool
	Timeout      time.Duration
	MaximumAge   time.Duration
}

// Source is the device location capability. Errors are *model.LocationError.
type Source interface {
	// Supported reports whether the device can provide positions at all
	Supported() bool
	// Current returns a single position
	Current(ctx context.Context, opts Options) (model.LocationFix, error)
	// Watch delivers raw positions until the returned cancel func is called
	Watch(opts Options, onFix func(model.LocationFix), onError func(error)) (cancel func(), err error)
}
