package building

import (
	"github.com/paulmach/orb"
	"go.uber.org/zap"
)

// MinDistinctPoints is the smallest number of distinct vertices of a polygon
const MinDistinctPoints = 3

// Close returns r with its first coordinate repeated at the end when the
// first and last coordinates differ (exact comparison). r itself is never
// modified; an already closed or empty ring is returned as is.
func Close(r orb.Ring) (closed orb.Ring, repaired bool) {
	if len(r) == 0 || r[0] == r[len(r)-1] {
		return r, false
	}
	closed = make(orb.Ring, len(r), len(r)+1)
	copy(closed, r)
	return append(closed, r[0]), true
}

// DistinctPoints counts the distinct coordinates of r
func DistinctPoints(r orb.Ring) int {
	seen := make(map[orb.Point]struct{}, len(r))
	for _, p := range r {
		seen[p] = struct{}{}
	}
	return len(seen)
}

// NormalizeStats holds normalization statistics
type NormalizeStats struct {
	Closed     int64 // rings repaired by closing
	Degenerate int64 // rings with fewer than MinDistinctPoints
	Dropped    int64 // rings excluded from the output
	Kept       int64
}

// Normalizer closes rings and filters degenerate ones
type Normalizer struct {
	// KeepDegenerate retains rings with fewer than MinDistinctPoints distinct
	// coordinates. Empty rings are always dropped.
	KeepDegenerate bool

	log   *zap.Logger
	stats NormalizeStats
}

// NewNormalizer creates a normalizer
func NewNormalizer(keepDegenerate bool, log *zap.Logger) *Normalizer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Normalizer{KeepDegenerate: keepDegenerate, log: log}
}

// Stats returns the counters so far
func (n *Normalizer) Stats() NormalizeStats {
	return n.stats
}

// Normalize closes ring and reports whether it should be kept
func (n *Normalizer) Normalize(ring Ring) (Ring, bool) {
	if len(ring.Points) == 0 {
		n.stats.Dropped++
		n.log.Warn("Building has no resolvable nodes, dropping it",
			zap.Int64("way_id", int64(ring.WayID)))
		return ring, false
	}

	points, repaired := Close(ring.Points)
	if repaired {
		n.stats.Closed++
		n.log.Warn("Building not closed, closing ring",
			zap.Int64("way_id", int64(ring.WayID)))
	}
	ring.Points = points

	if distinct := DistinctPoints(points); distinct < MinDistinctPoints {
		n.stats.Degenerate++
		if !n.KeepDegenerate {
			n.stats.Dropped++
			n.log.Warn("Building ring is degenerate, dropping it",
				zap.Int64("way_id", int64(ring.WayID)),
				zap.Int("distinct_points", distinct))
			return ring, false
		}
		n.log.Warn("Building ring is degenerate, keeping it",
			zap.Int64("way_id", int64(ring.WayID)),
			zap.Int("distinct_points", distinct))
	}

	n.stats.Kept++
	return ring, true
}

// NormalizeAll returns the kept rings in input order
func (n *Normalizer) NormalizeAll(rings []Ring) []Ring {
	out := make([]Ring, 0, len(rings))
	for _, r := range rings {
		if nr, ok := n.Normalize(r); ok {
			out = append(out, nr)
		}
	}
	return out
}
