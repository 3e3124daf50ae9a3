package nodeindex

import (
	"context"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/osm"
	"go.uber.org/zap"

	"github.com/wegman-software/osm2dxf-go/internal/extract"
)

// BuildStats counts what the builder has read
type BuildStats struct {
	Files      int
	Nodes      int64 // node records read
	Overwrites int64 // records that replaced an earlier coordinate
}

// Builder fills an index from extract sources, in the order they are added
type Builder struct {
	index Index
	log   *zap.Logger
	stats BuildStats
}

// NewBuilder creates a builder writing into index
func NewBuilder(index Index, log *zap.Logger) *Builder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Builder{index: index, log: log}
}

// Stats returns the counters so far
func (b *Builder) Stats() BuildStats {
	return b.stats
}

// Index returns the index being built
func (b *Builder) Index() Index {
	return b.index
}

// AddFile reads every node of the extract at path
func (b *Builder) AddFile(ctx context.Context, path string) error {
	scanner, err := extract.Open(ctx, path, extract.Options{SkipWays: true})
	if err != nil {
		return err
	}
	defer scanner.Close()

	before := b.stats.Nodes
	if err := b.AddScanner(scanner); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	b.log.Debug("Indexed extract nodes",
		zap.String("file", path),
		zap.Stringer("format", extract.DetectFormat(path)),
		zap.Int64("nodes", b.stats.Nodes-before),
		zap.Int("index_size", b.index.Len()))
	return nil
}

// AddScanner reads nodes from scanner until it is exhausted. Other objects
// are ignored.
func (b *Builder) AddScanner(scanner osm.Scanner) error {
	b.stats.Files++
	for scanner.Scan() {
		n, ok := scanner.Object().(*osm.Node)
		if !ok {
			continue
		}
		replaced, err := b.index.Put(n.ID, orb.Point{n.Lon, n.Lat})
		if err != nil {
			return err
		}
		b.stats.Nodes++
		if replaced {
			b.stats.Overwrites++
			b.log.Debug("Node redefined, keeping later coordinate",
				zap.Int64("node_id", int64(n.ID)))
		}
	}
	return scanner.Err()
}

// Build creates a complete index from paths, processed in order
func Build(ctx context.Context, index Index, paths []string, log *zap.Logger) (BuildStats, error) {
	b := NewBuilder(index, log)
	for _, path := range paths {
		if err := b.AddFile(ctx, path); err != nil {
			return b.Stats(), err
		}
	}
	return b.Stats(), nil
}
