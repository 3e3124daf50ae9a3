package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wegman-software/osm2dxf-go/internal/building"
	"github.com/wegman-software/osm2dxf-go/internal/collection"
	"github.com/wegman-software/osm2dxf-go/internal/config"
	"github.com/wegman-software/osm2dxf-go/internal/dxf"
	"github.com/wegman-software/osm2dxf-go/internal/metrics"
	"github.com/wegman-software/osm2dxf-go/internal/nodeindex"
	"github.com/wegman-software/osm2dxf-go/internal/proj"
	"github.com/wegman-software/osm2dxf-go/internal/style"
)

// Coordinator runs the conversion stages in order:
// node index, building extraction, ring normalization, reprojection,
// collection output, and optionally the DXF conversion.
type Coordinator struct {
	cfg         *config.Config
	log         *zap.Logger
	filter      *style.Filter
	transformer *proj.Transformer
	converter   *dxf.Converter
}

// NewCoordinator creates a new pipeline coordinator
func NewCoordinator(cfg *config.Config, log *zap.Logger) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}

	styleCfg := style.DefaultConfig()
	if cfg.StyleFile != "" {
		var err error
		styleCfg, err = style.LoadConfig(cfg.StyleFile)
		if err != nil {
			return nil, err
		}
	}

	transformer, err := proj.NewTransformer(proj.SRID4326, proj.SRID25832)
	if err != nil {
		return nil, err
	}

	return &Coordinator{
		cfg:         cfg,
		log:         log,
		filter:      style.NewFilter(styleCfg.Buildings),
		transformer: transformer,
		converter:   dxf.NewConverter(cfg.Ogr2ogr, log),
	}, nil
}

// Run executes the conversion. Resource metrics, when enabled, are collected
// alongside; the stages themselves run sequentially.
func (c *Coordinator) Run(ctx context.Context) (*RunStats, error) {
	if c.cfg.MetricsInterval <= 0 {
		return c.convert(ctx)
	}

	collector := metrics.NewCollector(c.cfg.MetricsInterval, c.log)
	c.log.Info("Resource metrics collection started",
		zap.Duration("interval", c.cfg.MetricsInterval))

	g, gctx := errgroup.WithContext(ctx)
	metricsCtx, stopMetrics := context.WithCancel(gctx)
	defer stopMetrics()

	var stats *RunStats
	g.Go(func() error {
		return collector.Start(metricsCtx)
	})
	g.Go(func() error {
		defer stopMetrics()
		var err error
		stats, err = c.convert(gctx)
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	collector.Collect()
	stats.PeakRSSMB = collector.PeakRSSMB()
	stats.MetricsSamples = collector.Samples()
	if last := collector.Last(); last != nil {
		c.log.Info("Resource usage at end of run",
			zap.Float64("peak_rss_mb", stats.PeakRSSMB),
			zap.Float64("rss_mb", last.ProcessRSSMB),
			zap.Float64("mem_pct", last.SystemMemPercent),
			zap.Int("samples", stats.MetricsSamples))
	}
	return stats, nil
}

func (c *Coordinator) convert(ctx context.Context) (*RunStats, error) {
	start := time.Now()
	stats := &RunStats{CRS: c.transformer.Target()}

	index, err := c.openIndex()
	if err != nil {
		return nil, err
	}
	defer index.Close()

	// Pass 1: every node of every input, so later files override earlier ones
	c.log.Info("Pass 1: Building node coordinate index", zap.Int("files", len(c.cfg.InputFiles)))
	stats.Index, err = nodeindex.Build(ctx, index, c.cfg.InputFiles, c.log)
	if err != nil {
		return nil, fmt.Errorf("node index: %w", err)
	}
	stats.IndexSize = index.Len()
	c.log.Info("Pass 1 complete",
		zap.Int64("nodes", stats.Index.Nodes),
		zap.Int("distinct", stats.IndexSize),
		zap.Int64("overwritten", stats.Index.Overwrites))

	// Pass 2: qualifying ways, in file order
	c.log.Info("Pass 2: Extracting buildings")
	extractor := building.NewExtractor(index, c.filter, c.cfg.MissingNode, c.log)
	var rings []building.Ring
	for _, path := range c.cfg.InputFiles {
		fileRings, err := extractor.ExtractFile(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("building extraction: %w", err)
		}
		rings = append(rings, fileRings...)
	}
	stats.Extract = extractor.Stats()
	c.log.Info("Pass 2 complete",
		zap.Int64("ways", stats.Extract.Ways),
		zap.Int64("buildings", stats.Extract.Qualified),
		zap.Int64("missing_refs", stats.Extract.MissingRefs))

	normalizer := building.NewNormalizer(c.cfg.KeepDegenerate, c.log)
	rings = normalizer.NormalizeAll(rings)
	stats.Normalize = normalizer.Stats()

	polygons, projectStats, err := Project(c.transformer, rings, c.cfg.OutOfDomain, c.log)
	stats.Project = projectStats
	if err != nil {
		return nil, err
	}

	writer := collection.NewWriter(c.cfg.OutputFile, stats.CRS, c.log)
	stats.Features, err = writer.Write(polygons)
	if err != nil {
		return nil, err
	}
	stats.OutputFile = writer.Path()

	if c.cfg.RunConversion() {
		if err := c.converter.Convert(ctx, c.cfg.DXFFile, stats.OutputFile); err != nil {
			return nil, err
		}
		stats.DXFFile = c.cfg.DXFFile
	} else {
		c.log.Info("Created " + stats.OutputFile + " - now run: " +
			dxf.CommandLine(c.converter.Tool, dxf.DefaultTarget(stats.OutputFile), stats.OutputFile))
	}

	stats.Duration = time.Since(start)
	return stats, nil
}

func (c *Coordinator) openIndex() (nodeindex.Index, error) {
	if c.cfg.FlatNodesFile != "" {
		c.log.Debug("Using flat nodes file", zap.String("path", c.cfg.FlatNodesFile))
		return nodeindex.NewMmapIndex(c.cfg.FlatNodesFile)
	}
	return nodeindex.NewMapIndex(), nil
}

// Project reprojects closed rings one by one. A ring with a vertex outside
// the frame is dropped under DomainSkip and aborts the run under DomainFail.
func Project(t *proj.Transformer, rings []building.Ring, policy config.DomainPolicy, log *zap.Logger) ([]collection.Polygon, ProjectStats, error) {
	if log == nil {
		log = zap.NewNop()
	}

	var stats ProjectStats
	polygons := make([]collection.Polygon, 0, len(rings))
	for _, r := range rings {
		projected, err := t.TransformRing(r.Points)
		if err != nil {
			if policy == config.DomainFail {
				return nil, stats, fmt.Errorf("way %d: %w", r.WayID, err)
			}
			stats.OutOfDomain++
			log.Warn("Building outside projection domain, dropping it",
				zap.Int64("way_id", int64(r.WayID)),
				zap.Error(err))
			continue
		}
		stats.Projected++
		polygons = append(polygons, collection.Polygon{WayID: r.WayID, Ring: projected})
	}
	return polygons, stats, nil
}
