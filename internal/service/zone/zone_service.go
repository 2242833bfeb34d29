// Package zone serves the hazard zone set used by monitoring: live nearby alerts
// from the backend, cached for offline reads, plus zones imported from OSM.
package zone

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"floodwatch/internal/model"
	"floodwatch/internal/service/geofence"
	"floodwatch/internal/service/storage"

	"go.uber.org/zap"
)

// indexSource marks where a cached alert came from
const (
	indexSource  = "source"
	sourceRemote = "remote"
	sourceImport = "import"
)

// AlertSource fetches active hazard zones around a point
type AlertSource interface {
	NearbyAlerts(ctx context.Context, lat, lng, radiusMeters float64) ([]model.HazardZone, error)
}

// ZoneService keeps the alerts partition current and builds spatial indexes over it
type ZoneService struct {
	store  storage.Store
	source AlertSource
	ttl    time.Duration
	radius float64
	logger *zap.Logger

	indexMutex sync.RWMutex
	index      *geofence.Index
}

// NewZoneService wires the service. A nil source serves cached and imported zones only.
func NewZoneService(store storage.Store, source AlertSource, ttl time.Duration, radiusMeters float64, logger *zap.Logger) *ZoneService {
	return &ZoneService{
		store:  store,
		source: source,
		ttl:    ttl,
		radius: radiusMeters,
		logger: logger.Named("zone"),
		index:  geofence.NewIndex(nil),
	}
}

// ActiveZones returns the zones relevant at fix. Remote zones are refreshed
// from the backend and cached; when the backend cannot be reached the
// non-expired cache is served instead and the network error is dropped.
// Imported zones are always included.
func (s *ZoneService) ActiveZones(ctx context.Context, fix model.LocationFix) ([]model.HazardZone, error) {
	if s.source == nil {
		return s.cachedZones(ctx, nil)
	}

	remote, err := s.source.NearbyAlerts(ctx, fix.Latitude, fix.Longitude, s.radius)
	if err != nil {
		if !isNetworkFailure(err) {
			return nil, fmt.Errorf("failed to fetch nearby alerts: %w", err)
		}
		s.logger.Debug("Backend unreachable, serving cached zones", zap.Error(err))
		return s.cachedZones(ctx, nil)
	}

	for _, zone := range remote {
		if err := s.saveAlert(ctx, zone, sourceRemote, s.ttl); err != nil {
			return nil, err
		}
	}

	imported, err := s.cachedZones(ctx, storage.By(indexSource, sourceImport))
	if err != nil {
		return nil, err
	}
	return merge(remote, imported), nil
}

// Index builds the spatial index over ActiveZones(fix) and keeps it as the current one
func (s *ZoneService) Index(ctx context.Context, fix model.LocationFix) (*geofence.Index, error) {
	zones, err := s.ActiveZones(ctx, fix)
	if err != nil {
		return nil, err
	}
	idx := geofence.NewIndex(zones)

	s.indexMutex.Lock()
	s.index = idx
	s.indexMutex.Unlock()

	s.logger.Debug("Zone index rebuilt", zap.Int("zones", idx.Len()))
	return idx, nil
}

// CurrentIndex returns the index built by the last Index call
func (s *ZoneService) CurrentIndex() *geofence.Index {
	s.indexMutex.RLock()
	defer s.indexMutex.RUnlock()
	return s.index
}

// Import stores zones permanently. Invalid geometries are skipped and counted out.
func (s *ZoneService) Import(ctx context.Context, zones []model.HazardZone) (int, error) {
	imported := 0
	for _, zone := range zones {
		if !zone.Valid() {
			s.logger.Debug("Skipping zone with invalid geometry", zap.String("zone", zone.ID))
			continue
		}
		if err := s.saveAlert(ctx, zone, sourceImport, 0); err != nil {
			return imported, err
		}
		imported++
	}
	s.logger.Info("Zones imported", zap.Int("imported", imported), zap.Int("skipped", len(zones)-imported))
	return imported, nil
}

// Alerts lists the cached alerts, optionally unread ones only
func (s *ZoneService) Alerts(ctx context.Context, unreadOnly bool) ([]model.Alert, error) {
	var filter *storage.IndexFilter
	if unreadOnly {
		filter = storage.By(model.IndexRead, "false")
	}
	return storage.ListJSON[model.Alert](ctx, s.store, model.PartitionAlerts, filter)
}

// MarkRead flags a cached alert as read; the flag survives later refreshes
func (s *ZoneService) MarkRead(ctx context.Context, id string) error {
	rec, err := s.store.Get(ctx, model.PartitionAlerts, id)
	if err != nil {
		return err
	}
	alert, err := storage.Decode[model.Alert](rec)
	if err != nil {
		return err
	}
	alert.Read = true
	return s.putAlert(ctx, alert, rec.Index[indexSource], rec.ExpiresAt)
}

func (s *ZoneService) saveAlert(ctx context.Context, zone model.HazardZone, source string, ttl time.Duration) error {
	alert := model.Alert{
		ID:        zone.ID,
		Title:     zone.Name,
		Severity:  zone.Severity,
		Timestamp: zone.UpdatedAt,
		Zone:      zone,
	}
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now()
	}
	if prev, err := storage.GetJSON[model.Alert](ctx, s.store, model.PartitionAlerts, zone.ID); err == nil {
		alert.Read = prev.Read
	} else if !errors.Is(err, model.ErrNotFound) {
		return err
	}

	var expires time.Time
	if ttl > 0 {
		expires = time.Now().Add(ttl)
	}
	return s.putAlert(ctx, alert, source, expires)
}

func (s *ZoneService) putAlert(ctx context.Context, alert model.Alert, source string, expires time.Time) error {
	payload, err := storage.Encode(alert)
	if err != nil {
		return err
	}
	rec := model.CachedRecord{
		Key:     alert.ID,
		Payload: payload,
		Index: map[string]string{
			model.IndexSeverity: string(alert.Severity),
			model.IndexRead:     strconv.FormatBool(alert.Read),
			indexSource:         source,
		},
		CachedAt:  time.Now(),
		ExpiresAt: expires,
	}
	if err := s.store.Put(ctx, model.PartitionAlerts, rec); err != nil {
		return fmt.Errorf("failed to cache alert %s: %w", alert.ID, err)
	}
	return nil
}

// CachedZones returns every readable cached zone, remote and imported
func (s *ZoneService) CachedZones(ctx context.Context) ([]model.HazardZone, error) {
	return s.cachedZones(ctx, nil)
}

func (s *ZoneService) cachedZones(ctx context.Context, filter *storage.IndexFilter) ([]model.HazardZone, error) {
	alerts, err := storage.ListJSON[model.Alert](ctx, s.store, model.PartitionAlerts, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to read cached alerts: %w", err)
	}
	zones := make([]model.HazardZone, 0, len(alerts))
	for _, a := range alerts {
		zones = append(zones, a.Zone)
	}
	return zones, nil
}

// merge appends extra zones whose ids are not already in base
func merge(base, extra []model.HazardZone) []model.HazardZone {
	seen := make(map[string]struct{}, len(base))
	out := make([]model.HazardZone, 0, len(base)+len(extra))
	for _, z := range base {
		seen[z.ID] = struct{}{}
		out = append(out, z)
	}
	for _, z := range extra {
		if _, ok := seen[z.ID]; !ok {
			out = append(out, z)
		}
	}
	return out
}

func isNetworkFailure(err error) bool {
	var netErr *model.NetworkError
	return errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded)
}
