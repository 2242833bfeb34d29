package model

import (
	"math"
	"time"

	"floodwatch/internal/util"

	"github.com/paulmach/orb"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityModerate Severity = "moderate"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

type GeometryType string

const (
	GeometryCircle  GeometryType = "circle"
	GeometryPolygon GeometryType = "polygon"
)

// Circle is a center given as [lat, lon] plus a radius in meters
type Circle struct {
	Center       [2]float64 `json:"center" msgpack:"center"`
	RadiusMeters float64    `json:"radiusMeters" msgpack:"radiusMeters"`
}

// Geometry is either a circle or a polygon; Type selects which field is set.
// Polygon vertices are [lat, lon] pairs in caller order, closure optional.
type Geometry struct {
	Type    GeometryType `json:"type" msgpack:"type"`
	Circle  *Circle      `json:"circle,omitempty" msgpack:"circle,omitempty"`
	Polygon [][2]float64 `json:"polygon,omitempty" msgpack:"polygon,omitempty"`
}

// HazardZone is a flood alert area sourced from the backend or an OSM import
type HazardZone struct {
	ID       string            `json:"id"`
	Name     string            `json:"name,omitempty"`
	Geometry Geometry          `json:"geometry"`
	Severity Severity          `json:"severity"`
	Metadata map[string]string `json:"metadata,omitempty"`

	UpdatedAt time.Time `json:"updatedAt"`
}

// Ring returns the polygon vertices as an orb ring in [lon, lat] order
func (z HazardZone) Ring() orb.Ring {
	ring := make(orb.Ring, 0, len(z.Geometry.Polygon))
	for _, v := range z.Geometry.Polygon {
		ring = append(ring, orb.Point{v[1], v[0]})
	}
	return ring
}

// Bound returns the zone's bounding box in [lon, lat] space.
// A circle box may reach past ±180 longitude when the circle crosses the
// antimeridian and spans the full longitude range when it covers a pole.
func (z HazardZone) Bound() orb.Bound {
	switch z.Geometry.Type {
	case GeometryCircle:
		if z.Geometry.Circle == nil {
			return orb.Bound{}
		}
		return circleBound(z.Geometry.Circle)
	default:
		return z.Ring().Bound()
	}
}

func circleBound(c *Circle) orb.Bound {
	lat, lng := c.Center[0], c.Center[1]
	angle := c.RadiusMeters / util.EarthRadiusMeters
	latDeg := toDegrees(angle) + boundPadDegrees

	minLat, maxLat := lat-latDeg, lat+latDeg
	lngDeg := 180.0
	if minLat > -90 && maxLat < 90 && angle < math.Pi/2 {
		// widest longitude offset of a spherical cap
		if s := math.Sin(angle) / math.Cos(toRadians(lat)); s < 1 {
			lngDeg = toDegrees(math.Asin(s)) + boundPadDegrees
		}
	}
	minLat, maxLat = math.Max(minLat, -90), math.Min(maxLat, 90)
	if lngDeg >= 180 {
		return orb.Bound{Min: orb.Point{-180, minLat}, Max: orb.Point{180, maxLat}}
	}
	return orb.Bound{
		Min: orb.Point{lng - lngDeg, minLat},
		Max: orb.Point{lng + lngDeg, maxLat},
	}
}

// boundPadDegrees absorbs float error between the box and the haversine test
const boundPadDegrees = 1e-7

func toRadians(deg float64) float64 { return deg * math.Pi / 180 }

func toDegrees(rad float64) float64 { return rad * 180 / math.Pi }

// Valid reports whether the geometry can be evaluated at all
func (z HazardZone) Valid() bool {
	switch z.Geometry.Type {
	case GeometryCircle:
		return z.Geometry.Circle != nil && z.Geometry.Circle.RadiusMeters > 0
	case GeometryPolygon:
		return len(z.Geometry.Polygon) >= 3
	}
	return false
}

// NewCircleZone builds a circular zone around [lat, lon]
func NewCircleZone(id string, lat, lon, radiusMeters float64, severity Severity) HazardZone {
	return HazardZone{
		ID:       id,
		Severity: severity,
		Geometry: Geometry{
			Type:   GeometryCircle,
			Circle: &Circle{Center: [2]float64{lat, lon}, RadiusMeters: radiusMeters},
		},
	}
}

// NewPolygonZone builds a polygon zone from [lat, lon] vertices
func NewPolygonZone(id string, vertices [][2]float64, severity Severity) HazardZone {
	return HazardZone{
		ID:       id,
		Severity: severity,
		Geometry: Geometry{Type: GeometryPolygon, Polygon: vertices},
	}
}

// MembershipEntry records when a zone was entered during a session
type MembershipEntry struct {
	ZoneID    string    `json:"zoneId"`
	Severity  Severity  `json:"severity"`
	EnteredAt time.Time `json:"enteredAt"`
}

// ZoneMembership is the set of zone ids a monitoring session considers entered
type ZoneMembership map[string]MembershipEntry

// Has reports whether id is a member
func (m ZoneMembership) Has(id string) bool {
	_, ok := m[id]
	return ok
}

// Clone returns an independent copy
func (m ZoneMembership) Clone() ZoneMembership {
	out := make(ZoneMembership, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
