// Package notify delivers zone-entered notifications, once per zone until it is left.
package notify

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"floodwatch/internal/metrics"
	"floodwatch/internal/model"
	"floodwatch/internal/util"

	"go.uber.org/zap"
)

// Sink is a notification transport
type Sink interface {
	Deliver(ctx context.Context, n model.Notification) error
}

// SinkFunc adapts a function to Sink
type SinkFunc func(ctx context.Context, n model.Notification) error

func (f SinkFunc) Deliver(ctx context.Context, n model.Notification) error { return f(ctx, n) }

// LogSink writes notifications to the log
type LogSink struct {
	Logger *zap.Logger
}

func (s LogSink) Deliver(_ context.Context, n model.Notification) error {
	s.Logger.Info("Notification",
		zap.String("zone", n.ZoneID),
		zap.String("severity", string(n.Severity)),
		zap.String("title", n.Title),
		zap.String("body", n.Body))
	return nil
}

// Notifier deduplicates by zone id: a zone notifies again only after Clear
type Notifier struct {
	sinks  []Sink
	logger *zap.Logger

	mu        sync.Mutex
	delivered map[string]model.Notification
}

func NewNotifier(logger *zap.Logger, sinks ...Sink) *Notifier {
	return &Notifier{
		sinks:     sinks,
		logger:    logger.Named("notify"),
		delivered: make(map[string]model.Notification),
	}
}

// NotifyEntered builds and delivers the notification for zone. It returns
// false without delivering when the zone already notified in this session.
// Sink failures are logged; the zone still counts as notified.
func (n *Notifier) NotifyEntered(ctx context.Context, zone model.HazardZone, risk *model.RiskAssessment, routes []model.EvacuationRoute) (model.Notification, bool) {
	n.mu.Lock()
	if prev, ok := n.delivered[zone.ID]; ok {
		n.mu.Unlock()
		return prev, false
	}
	note := Build(zone, risk, routes, time.Now())
	n.delivered[zone.ID] = note
	n.mu.Unlock()

	for _, sink := range n.sinks {
		if err := sink.Deliver(ctx, note); err != nil {
			n.logger.Warn("Notification delivery failed", zap.String("zone", zone.ID), zap.Error(err))
		}
	}
	metrics.Notifications.Inc()
	return note, true
}

// Clear forgets zoneID so the next entry notifies again
func (n *Notifier) Clear(zoneID string) {
	n.mu.Lock()
	delete(n.delivered, zoneID)
	n.mu.Unlock()
}

// Reset forgets every zone
func (n *Notifier) Reset() {
	n.mu.Lock()
	n.delivered = make(map[string]model.Notification)
	n.mu.Unlock()
}

// Delivered returns the active notifications ordered by zone id
func (n *Notifier) Delivered() []model.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]model.Notification, 0, len(n.delivered))
	for _, note := range n.delivered {
		out = append(out, note)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ZoneID < out[j].ZoneID })
	return out
}

// Build renders the notification text for an entered zone
func Build(zone model.HazardZone, risk *model.RiskAssessment, routes []model.EvacuationRoute, now time.Time) model.Notification {
	name := zone.Name
	if name == "" {
		name = zone.ID
	}

	var body []string
	body = append(body, fmt.Sprintf("You entered a %s severity flood zone.", zone.Severity))
	if risk != nil {
		line := fmt.Sprintf("Risk at your location: %s.", risk.Level)
		if risk.Summary != "" {
			line += " " + risk.Summary
		}
		body = append(body, line)
	}
	if len(routes) > 0 {
		r := routes[0]
		line := "Evacuate via " + r.Name
		if r.ShelterName != "" {
			line += " to " + r.ShelterName
		}
		body = append(body, line+".")
	}

	return model.Notification{
		ID:        util.NewID("ntf"),
		ZoneID:    zone.ID,
		Title:     "Flood alert: " + name,
		Body:      strings.Join(body, " "),
		Severity:  zone.Severity,
		Routes:    routes,
		CreatedAt: now,
	}
}
