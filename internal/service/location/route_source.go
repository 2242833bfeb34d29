package location

import (
	"context"
	"sync"
	"time"

	"floodwatch/internal/model"
	"floodwatch/internal/util"
)

// RouteSource simulates a device walking an encoded polyline at constant speed.
// It stands in for hardware positioning on test rigs and demo deployments.
type RouteSource struct {
	points [][2]float64
	speed  float64
	tick   time.Duration

	mu   sync.Mutex
	pos  [2]float64
	next int
}

// NewRouteSource decodes route; an empty or invalid route yields an unsupported source
func NewRouteSource(route string, speedMPS float64, tick time.Duration) *RouteSource {
	if tick <= 0 {
		tick = time.Second
	}
	s := &RouteSource{
		points: util.DecodePolyline(route),
		speed:  speedMPS,
		tick:   tick,
	}
	if len(s.points) > 0 {
		s.pos = s.points[0]
		s.next = 1
	}
	return s
}

func (s *RouteSource) Supported() bool {
	return len(s.points) > 0
}

func (s *RouteSource) Current(ctx context.Context, _ Options) (model.LocationFix, error) {
	if !s.Supported() {
		return model.LocationFix{}, model.NewLocationError(model.ErrLocationUnsupported, nil)
	}
	if err := ctx.Err(); err != nil {
		return model.LocationFix{}, model.NewLocationError(model.ErrLocationTimeout, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fixLocked(), nil
}

func (s *RouteSource) Watch(_ Options, onFix func(model.LocationFix), _ func(error)) (func(), error) {
	if !s.Supported() {
		return nil, model.NewLocationError(model.ErrLocationUnsupported, nil)
	}

	done := make(chan struct{})
	ticker := time.NewTicker(s.tick)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				onFix(s.Advance(s.speed * s.tick.Seconds()))
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }, nil
}

// Advance moves the simulated device distanceMeters along the route and
// returns the new position. The device stays at the last point once arrived.
func (s *RouteSource) Advance(distanceMeters float64) model.LocationFix {
	s.mu.Lock()
	defer s.mu.Unlock()

	for distanceMeters > 0 && s.next < len(s.points) {
		target := s.points[s.next]
		d := util.HaversineDistance(s.pos[0], s.pos[1], target[0], target[1])
		if distanceMeters >= d {
			s.pos = target
			s.next++
			distanceMeters -= d
			continue
		}
		s.pos = util.MoveToward(s.pos[0], s.pos[1], target[0], target[1], distanceMeters)
		distanceMeters = 0
	}
	return s.fixLocked()
}

// Arrived reports whether the end of the route was reached
func (s *RouteSource) Arrived() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next >= len(s.points)
}

func (s *RouteSource) fixLocked() model.LocationFix {
	speed := s.speed
	return model.LocationFix{
		Latitude:  s.pos[0],
		Longitude: s.pos[1],
		Accuracy:  5,
		Speed:     &speed,
		Timestamp: time.Now(),
	}
}
