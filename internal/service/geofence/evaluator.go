// Package geofence turns a location fix and a zone set into membership transitions.
// Everything here is pure: identical inputs always give identical results.
package geofence

import (
	"sort"

	"floodwatch/internal/model"
	"floodwatch/internal/util"

	"github.com/paulmach/orb"
)

// Result of one evaluation. Entered and Left hold zone ids in ascending order.
type Result struct {
	Membership model.ZoneMembership
	Entered    []string
	Left       []string
}

// Changed reports whether the evaluation produced any transition
func (r Result) Changed() bool {
	return len(r.Entered) > 0 || len(r.Left) > 0
}

// Contains reports whether fix lies inside zone's geometry.
// Circles use great-circle distance; polygons use ray casting.
func Contains(zone model.HazardZone, fix model.LocationFix) bool {
	switch zone.Geometry.Type {
	case model.GeometryCircle:
		c := zone.Geometry.Circle
		if c == nil {
			return false
		}
		d := util.HaversineDistance(fix.Latitude, fix.Longitude, c.Center[0], c.Center[1])
		return d <= c.RadiusMeters
	case model.GeometryPolygon:
		return util.RingContains(zone.Ring(), orb.Point{fix.Longitude, fix.Latitude})
	}
	return false
}

// Evaluate computes the membership for fix and its diff against previous.
// Zones that stay members keep their original entry metadata.
func Evaluate(fix model.LocationFix, zones []model.HazardZone, previous model.ZoneMembership) Result {
	membership := make(model.ZoneMembership)
	for _, zone := range zones {
		if _, seen := membership[zone.ID]; seen || !Contains(zone, fix) {
			continue
		}
		if prev, ok := previous[zone.ID]; ok {
			membership[zone.ID] = prev
			continue
		}
		membership[zone.ID] = model.MembershipEntry{
			ZoneID:    zone.ID,
			Severity:  zone.Severity,
			EnteredAt: fix.Timestamp,
		}
	}

	entered := []string{}
	for id := range membership {
		if !previous.Has(id) {
			entered = append(entered, id)
		}
	}
	left := []string{}
	for id := range previous {
		if !membership.Has(id) {
			left = append(left, id)
		}
	}
	sort.Strings(entered)
	sort.Strings(left)

	return Result{Membership: membership, Entered: entered, Left: left}
}
