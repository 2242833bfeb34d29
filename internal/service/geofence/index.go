package geofence

import (
	"sort"

	"floodwatch/internal/model"

	"github.com/dhconnelly/rtreego"
	"github.com/paulmach/orb"
)

// minExtent keeps degenerate bounds valid for rtreego rectangles
const minExtent = 1e-9

// zoneSpatial represents a zone with its bounding box for R-tree indexing
type zoneSpatial struct {
	zone  model.HazardZone
	order int
	rect  rtreego.Rect
}

// Bounds implements the rtreego.Spatial interface
func (z *zoneSpatial) Bounds() rtreego.Rect {
	return z.rect
}

// Index is an immutable R-tree over a zone set used to shortlist candidate
// zones by bounding box before the exact containment test.
type Index struct {
	tree  *rtreego.Rtree
	zones []model.HazardZone
}

// NewIndex builds the index; zones with invalid geometry are left out
func NewIndex(zones []model.HazardZone) *Index {
	idx := &Index{
		tree:  rtreego.NewTree(2, 25, 50),
		zones: make([]model.HazardZone, 0, len(zones)),
	}
	for _, zone := range zones {
		if !zone.Valid() {
			continue
		}
		rects, err := boundToRects(zone.Bound())
		if err != nil {
			continue
		}
		order := len(idx.zones)
		for _, rect := range rects {
			idx.tree.Insert(&zoneSpatial{zone: zone, order: order, rect: rect})
		}
		idx.zones = append(idx.zones, zone)
	}
	return idx
}

// Zones returns the indexed zones in insertion order
func (idx *Index) Zones() []model.HazardZone {
	return idx.zones
}

// Len returns the number of indexed zones
func (idx *Index) Len() int {
	return len(idx.zones)
}

// Candidates returns the zones whose bounding box contains the fix, in insertion order
func (idx *Index) Candidates(fix model.LocationFix) []model.HazardZone {
	if len(idx.zones) == 0 {
		return nil
	}
	searchRect, err := rtreego.NewRect(
		rtreego.Point{fix.Longitude, fix.Latitude},
		[]float64{minExtent, minExtent},
	)
	if err != nil {
		return nil
	}

	hits := idx.tree.SearchIntersect(searchRect)
	seen := make(map[int]struct{}, len(hits))
	spatials := make([]*zoneSpatial, 0, len(hits))
	for _, item := range hits {
		s := item.(*zoneSpatial)
		if _, dup := seen[s.order]; dup {
			continue
		}
		seen[s.order] = struct{}{}
		spatials = append(spatials, s)
	}
	sort.Slice(spatials, func(i, j int) bool { return spatials[i].order < spatials[j].order })

	out := make([]model.HazardZone, len(spatials))
	for i, s := range spatials {
		out[i] = s.zone
	}
	return out
}

// Evaluate runs the evaluation against the shortlisted zones only.
// Zones outside every candidate box cannot contain the fix, so the result
// equals evaluating the full set.
func (idx *Index) Evaluate(fix model.LocationFix, previous model.ZoneMembership) Result {
	return Evaluate(fix, idx.Candidates(fix), previous)
}

// boundToRects converts a [lon, lat] bound into R-tree rectangles. A bound
// reaching past ±180 is split in two at the antimeridian.
func boundToRects(b orb.Bound) ([]rtreego.Rect, error) {
	var parts []orb.Bound
	switch {
	case b.Max[0]-b.Min[0] >= 360:
		parts = []orb.Bound{{Min: orb.Point{-180, b.Min[1]}, Max: orb.Point{180, b.Max[1]}}}
	case b.Min[0] < -180:
		parts = []orb.Bound{
			{Min: orb.Point{b.Min[0] + 360, b.Min[1]}, Max: orb.Point{180, b.Max[1]}},
			{Min: orb.Point{-180, b.Min[1]}, Max: b.Max},
		}
	case b.Max[0] > 180:
		parts = []orb.Bound{
			{Min: b.Min, Max: orb.Point{180, b.Max[1]}},
			{Min: orb.Point{-180, b.Min[1]}, Max: orb.Point{b.Max[0] - 360, b.Max[1]}},
		}
	default:
		parts = []orb.Bound{b}
	}

	rects := make([]rtreego.Rect, 0, len(parts))
	for _, part := range parts {
		rect, err := boundToRect(part)
		if err != nil {
			return nil, err
		}
		rects = append(rects, rect)
	}
	return rects, nil
}

func boundToRect(b orb.Bound) (rtreego.Rect, error) {
	width := b.Max[0] - b.Min[0]
	height := b.Max[1] - b.Min[1]
	if width < minExtent {
		width = minExtent
	}
	if height < minExtent {
		height = minExtent
	}
	return rtreego.NewRect(rtreego.Point{b.Min[0], b.Min[1]}, []float64{width, height})
}
