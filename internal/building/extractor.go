package building

import (
	"context"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/osm"
	"go.uber.org/zap"

	"github.com/wegman-software/osm2dxf-go/internal/config"
	"github.com/wegman-software/osm2dxf-go/internal/extract"
	"github.com/wegman-software/osm2dxf-go/internal/nodeindex"
	"github.com/wegman-software/osm2dxf-go/internal/style"
)

// ExtractStats holds extraction statistics
type ExtractStats struct {
	Ways        int64 // ways scanned
	Qualified   int64 // ways passing the building filter
	MissingRefs int64 // unresolved references seen
	DroppedWays int64 // qualified ways excluded for missing references
}

// Extractor turns qualifying ways into rings using a completed node index
type Extractor struct {
	index  nodeindex.Index
	filter *style.Filter
	policy config.MissingNodePolicy
	log    *zap.Logger
	stats  ExtractStats
}

// NewExtractor creates an extractor. The index must not change while
// the extractor is in use.
func NewExtractor(index nodeindex.Index, filter *style.Filter, policy config.MissingNodePolicy, log *zap.Logger) *Extractor {
	if filter == nil {
		filter = style.NewFilter(style.DefaultConfig().Buildings)
	}
	if policy == "" {
		policy = config.MissingNodeSkip
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Extractor{index: index, filter: filter, policy: policy, log: log}
}

// Stats returns the counters so far
func (e *Extractor) Stats() ExtractStats {
	return e.stats
}

// ExtractFile returns the rings of the qualifying ways in the extract at path
func (e *Extractor) ExtractFile(ctx context.Context, path string) ([]Ring, error) {
	scanner, err := extract.Open(ctx, path, extract.Options{SkipNodes: true})
	if err != nil {
		return nil, err
	}
	defer scanner.Close()

	rings, err := e.Extract(scanner)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rings, nil
}

// Extract returns the rings of qualifying ways in scanner order. Nodes and
// other objects are ignored.
func (e *Extractor) Extract(scanner osm.Scanner) ([]Ring, error) {
	var rings []Ring
	for scanner.Scan() {
		way, ok := scanner.Object().(*osm.Way)
		if !ok {
			continue
		}
		e.stats.Ways++

		if !e.filter.Match(way.Tags) {
			continue
		}
		e.stats.Qualified++

		ring, keep, err := e.Resolve(way)
		if err != nil {
			return nil, err
		}
		if keep {
			rings = append(rings, ring)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return rings, nil
}

// Resolve looks up the way's node references in declared order. keep is false
// when the missing node policy excludes the way.
func (e *Extractor) Resolve(way *osm.Way) (ring Ring, keep bool, err error) {
	ring = Ring{
		WayID:  way.ID,
		Points: make(orb.Ring, 0, len(way.Nodes)+1),
	}

	for _, wn := range way.Nodes {
		p, ok := e.index.Get(wn.ID)
		if ok {
			ring.Points = append(ring.Points, p)
			continue
		}

		e.stats.MissingRefs++
		switch e.policy {
		case config.MissingNodeFail:
			return Ring{}, false, &MissingNodeError{WayID: way.ID, NodeID: wn.ID}
		case config.MissingNodeDrop:
			e.stats.DroppedWays++
			e.log.Warn("Building references missing node, dropping it",
				zap.Int64("way_id", int64(way.ID)),
				zap.Int64("node_id", int64(wn.ID)))
			return Ring{}, false, nil
		default:
			ring.Skipped = append(ring.Skipped, wn.ID)
			e.log.Warn("Building references missing node, skipping reference",
				zap.Int64("way_id", int64(way.ID)),
				zap.Int64("node_id", int64(wn.ID)))
		}
	}

	return ring, true, nil
}
