// Package connectivity tracks whether the backend is reachable.
package connectivity

import (
	"context"
	"errors"
	"sync"
	"time"

	"floodwatch/internal/event"
	"floodwatch/internal/metrics"
	"floodwatch/internal/model"

	"go.uber.org/zap"
)

// Prober checks backend reachability
type Prober interface {
	Health(ctx context.Context) error
}

// Transition is raised whenever the online state flips
type Transition struct {
	Online bool      `json:"online"`
	At     time.Time `json:"at"`
}

// Monitor starts offline; the first successful probe raises an online transition
type Monitor struct {
	prober Prober
	logger *zap.Logger

	mu     sync.Mutex
	online bool

	OnTransition event.Observers[Transition]
}

func NewMonitor(prober Prober, logger *zap.Logger) *Monitor {
	metrics.Online.Set(0)
	return &Monitor{prober: prober, logger: logger.Named("connectivity")}
}

// Online reports the last known state
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Set records a platform connectivity signal and reports whether it changed the state
func (m *Monitor) Set(online bool) bool {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return false
	}
	m.online = online
	m.mu.Unlock()

	if online {
		metrics.Online.Set(1)
		m.logger.Info("Backend reachable, going online")
	} else {
		metrics.Online.Set(0)
		m.logger.Info("Backend unreachable, going offline")
	}
	m.OnTransition.Emit(Transition{Online: online, At: time.Now()})
	return true
}

// Probe asks the backend for its health and updates the state.
// A server error still proves the network path works.
func (m *Monitor) Probe(ctx context.Context) bool {
	if m.prober == nil {
		return m.Online()
	}
	err := m.prober.Health(ctx)
	online := err == nil || errors.Is(err, model.ErrServer)
	if !online {
		m.logger.Debug("Health probe failed", zap.Error(err))
	}
	m.Set(online)
	return online
}
