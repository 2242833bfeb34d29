package zone

import (
	"math"

	"floodwatch/internal/model"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/geojson"
)

// FeatureCollection renders zones as GeoJSON. Circles become points carrying
// radius_m; polygons get a closed ring in [lon, lat] order and their area.
// Zones with invalid geometry are left out.
func FeatureCollection(zones []model.HazardZone) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, z := range zones {
		if !z.Valid() {
			continue
		}

		var feature *geojson.Feature
		switch z.Geometry.Type {
		case model.GeometryCircle:
			c := z.Geometry.Circle
			feature = geojson.NewFeature(orb.Point{c.Center[1], c.Center[0]})
			feature.Properties["radius_m"] = c.RadiusMeters
		case model.GeometryPolygon:
			ring := z.Ring()
			if !ring.Closed() {
				ring = append(ring, ring[0])
			}
			feature = geojson.NewFeature(orb.Polygon{ring})
			feature.Properties["area_m2"] = math.Round(geo.Area(ring))
		default:
			continue
		}

		feature.ID = z.ID
		feature.Properties["name"] = z.Name
		feature.Properties["severity"] = string(z.Severity)
		for k, v := range z.Metadata {
			feature.Properties[k] = v
		}
		fc.Append(feature)
	}
	return fc
}
