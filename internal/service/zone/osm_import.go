package zone

import (
	"fmt"
	"io"
	"runtime"
	"strconv"
	"strings"
	"time"

	"floodwatch/internal/model"

	"github.com/qedus/osmpbf"
	"go.uber.org/zap"
)

// osmWay is the part of an OSM way the importer needs
type osmWay struct {
	ID      int64
	Tags    map[string]string
	NodeIDs []int64
}

// IsFloodArea reports whether OSM tags describe a flood hazard area
func IsFloodArea(tags map[string]string) bool {
	if tags["flood_prone"] == "yes" {
		return true
	}
	for _, key := range []string{"hazard", "hazard_type"} {
		if strings.HasPrefix(tags[key], "flood") {
			return true
		}
	}
	return false
}

// severityFromTags reads hazard:severity, falling back to moderate
func severityFromTags(tags map[string]string) model.Severity {
	switch model.Severity(tags["hazard:severity"]) {
	case model.SeverityLow:
		return model.SeverityLow
	case model.SeverityHigh:
		return model.SeverityHigh
	case model.SeverityCritical:
		return model.SeverityCritical
	}
	return model.SeverityModerate
}

// ImportOSM reads an OSM PBF extract and returns every closed way tagged as a
// flood area as a polygon zone. The extract is decoded twice: the first pass
// finds the flood ways, the second resolves only the nodes they reference.
func ImportOSM(r io.ReadSeeker, logger *zap.Logger) ([]model.HazardZone, error) {
	logger = logger.Named("osm")
	started := time.Now()

	logger.Info("Phase 1: collecting flood area ways")
	var ways []osmWay
	needed := make(map[int64]struct{})
	err := decodeAll(r, func(object any) {
		way, ok := object.(*osmpbf.Way)
		if !ok || !IsFloodArea(way.Tags) {
			return
		}
		ways = append(ways, osmWay{ID: way.ID, Tags: way.Tags, NodeIDs: way.NodeIDs})
		for _, id := range way.NodeIDs {
			needed[id] = struct{}{}
		}
	})
	if err != nil {
		return nil, err
	}
	logger.Info("Flood area ways collected", zap.Int("ways", len(ways)), zap.Int("nodes", len(needed)))

	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to rewind extract: %w", err)
	}

	logger.Info("Phase 2: resolving node coordinates")
	nodes := make(map[int64][2]float64, len(needed))
	err = decodeAll(r, func(object any) {
		node, ok := object.(*osmpbf.Node)
		if !ok {
			return
		}
		if _, want := needed[node.ID]; want {
			nodes[node.ID] = [2]float64{node.Lat, node.Lon}
		}
	})
	if err != nil {
		return nil, err
	}

	zones := buildZones(ways, nodes)
	logger.Info("OSM import finished",
		zap.Int("zones", len(zones)),
		zap.Int("dropped", len(ways)-len(zones)),
		zap.Duration("took", time.Since(started)))
	return zones, nil
}

func decodeAll(r io.Reader, visit func(any)) error {
	decoder := osmpbf.NewDecoder(r)
	decoder.SetBufferSize(osmpbf.MaxBlobSize)
	if err := decoder.Start(runtime.GOMAXPROCS(-1)); err != nil {
		return fmt.Errorf("failed to start decoder: %w", err)
	}
	for {
		object, err := decoder.Decode()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to decode extract: %w", err)
		}
		visit(object)
	}
}

// buildZones turns closed ways into polygon zones; open or unresolved ways are dropped
func buildZones(ways []osmWay, nodes map[int64][2]float64) []model.HazardZone {
	zones := make([]model.HazardZone, 0, len(ways))
	for _, way := range ways {
		ids := way.NodeIDs
		if len(ids) < 4 || ids[0] != ids[len(ids)-1] {
			continue
		}

		vertices := make([][2]float64, 0, len(ids)-1)
		complete := true
		for _, id := range ids[:len(ids)-1] {
			coord, ok := nodes[id]
			if !ok {
				complete = false
				break
			}
			vertices = append(vertices, coord)
		}
		if !complete {
			continue
		}

		zone := model.NewPolygonZone("osm_way_"+strconv.FormatInt(way.ID, 10), vertices, severityFromTags(way.Tags))
		zone.Name = way.Tags["name"]
		if zone.Name == "" {
			zone.Name = fmt.Sprintf("Flood area %d", way.ID)
		}
		zone.Metadata = map[string]string{"osm_id": strconv.FormatInt(way.ID, 10)}
		if v := way.Tags["hazard"]; v != "" {
			zone.Metadata["hazard"] = v
		}
		zones = append(zones, zone)
	}
	return zones
}
