package util

import (
	"math"

	"github.com/golang/geo/s1"
	"github.com/golang/geo/s2"
	"github.com/paulmach/orb"
)

// EarthRadiusMeters is the mean earth radius used for all distance math
const EarthRadiusMeters = 6371000.0

// MoveToward returns the point distanceMeters along the great circle from start to end.
// The end point is returned when the remaining distance is shorter.
func MoveToward(startLat, startLng, endLat, endLng, distanceMeters float64) [2]float64 {
	startPoint := s2.PointFromLatLng(s2.LatLngFromDegrees(startLat, startLng))
	endPoint := s2.PointFromLatLng(s2.LatLngFromDegrees(endLat, endLng))

	totalDistanceMeters := angleMeters(startPoint, endPoint)
	if distanceMeters >= totalDistanceMeters {
		return [2]float64{endLat, endLng}
	}

	fraction := distanceMeters / totalDistanceMeters
	newLatLng := s2.LatLngFromPoint(s2.Interpolate(fraction, startPoint, endPoint))

	return [2]float64{newLatLng.Lat.Degrees(), newLatLng.Lng.Degrees()}
}

// HaversineDistance is the great-circle distance in meters between two coordinates
func HaversineDistance(lat1, lng1, lat2, lng2 float64) float64 {
	point1 := s2.PointFromLatLng(s2.LatLngFromDegrees(lat1, lng1))
	point2 := s2.PointFromLatLng(s2.LatLngFromDegrees(lat2, lng2))
	return angleMeters(point1, point2)
}

func angleMeters(a, b s2.Point) float64 {
	angle := s1.Angle(s2.ChordAngleBetweenPoints(a, b).Angle())
	return angle.Radians() * EarthRadiusMeters
}

// OffsetNorth moves a coordinate northwards along its meridian
func OffsetNorth(lat, lng, meters float64) (float64, float64) {
	return lat + meters/EarthRadiusMeters*180.0/math.Pi, lng
}

// PointInPolygon is the crossing-number parity test over the outer ring,
// excluding points that fall inside any hole. Points are [lon, lat].
func PointInPolygon(polygon orb.Polygon, point orb.Point) bool {
	if len(polygon) == 0 || !RingContains(polygon[0], point) {
		return false
	}
	for _, hole := range polygon[1:] {
		if RingContains(hole, point) {
			return false
		}
	}
	return true
}

// RingContains casts a ray from point towards +x and counts edge crossings.
// Vertex order and closure are left to the caller; the last vertex always
// connects back to the first.
func RingContains(ring orb.Ring, point orb.Point) bool {
	n := len(ring)
	if n < 3 {
		return false
	}

	inside := false
	x, y := point[0], point[1]
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		xi, yi := ring[i][0], ring[i][1]
		xj, yj := ring[j][0], ring[j][1]
		if (yi > y) != (yj > y) && x < (xj-xi)*(y-yi)/(yj-yi)+xi {
			inside = !inside
		}
	}
	return inside
}
