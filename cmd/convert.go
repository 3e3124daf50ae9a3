package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/spf13/cobra"
	"github.com/wegman-software/osm2dxf-go/internal/config"
	"github.com/wegman-software/osm2dxf-go/internal/logger"
	"github.com/wegman-software/osm2dxf-go/internal/pipeline"
)

var (
	missingNodeStr string
	outOfDomainStr string
	keepDegenerate bool
	styleFile      string
	flatNodesFile  string
	ogr2ogrPath    string
	dxfFile        string
)

func addConvertFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&missingNodeStr, "on-missing-node", string(config.MissingNodeSkip), "Unresolved node references: skip, drop or fail")
	cmd.Flags().StringVar(&outOfDomainStr, "on-out-of-domain", string(config.DomainSkip), "Buildings outside the projection frame: skip or fail")
	cmd.Flags().BoolVar(&keepDegenerate, "keep-degenerate", false, "Keep rings with fewer than three distinct points")
	cmd.Flags().StringVarP(&styleFile, "style", "S", "", "Style YAML file overriding the building filter")
	cmd.Flags().StringVar(&flatNodesFile, "flat-nodes", "", "Path to flat nodes file (disk-backed node index for large extracts)")
	cmd.Flags().StringVar(&ogr2ogrPath, "ogr2ogr", cfg.Ogr2ogr, "Conversion tool binary")
	cmd.Flags().StringVar(&dxfFile, "dxf", "", "Also convert the collection to this DXF file")
}

// applyFlags copies the parsed flags and arguments into cfg
func applyFlags(c *config.Config, args []string) error {
	c.SetOutput(args[0])
	c.InputFiles = args[1:]

	policy, err := config.ParseMissingNodePolicy(missingNodeStr)
	if err != nil {
		return err
	}
	c.MissingNode = policy

	domain, err := config.ParseDomainPolicy(outOfDomainStr)
	if err != nil {
		return err
	}
	c.OutOfDomain = domain

	c.KeepDegenerate = keepDegenerate
	c.StyleFile = styleFile
	c.FlatNodesFile = flatNodesFile
	c.Ogr2ogr = ogr2ogrPath
	if dxfFile != "" {
		c.DXFFile = dxfFile
	}
	return c.Validate()
}

func runConvert(cmd *cobra.Command, args []string) {
	log := logger.Get()

	if err := applyFlags(cfg, args); err != nil {
		exitWithError("invalid configuration", err)
	}

	logFields := []zap.Field{
		zap.Strings("inputs", cfg.InputFiles),
		zap.String("output", cfg.OutputFile),
		zap.String("on_missing_node", string(cfg.MissingNode)),
		zap.String("on_out_of_domain", string(cfg.OutOfDomain)),
	}
	if cfg.RunConversion() {
		logFields = append(logFields, zap.String("dxf", cfg.DXFFile))
	}
	if cfg.StyleFile != "" {
		logFields = append(logFields, zap.String("style", cfg.StyleFile))
	}
	if cfg.FlatNodesFile != "" {
		logFields = append(logFields, zap.String("flat_nodes", cfg.FlatNodesFile))
	}
	log.Info("Starting osm2dxf-go conversion", logFields...)

	coordinator, err := pipeline.NewCoordinator(cfg, log)
	if err != nil {
		exitWithError("failed to create pipeline", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stats, err := coordinator.Run(ctx)
	if err != nil {
		exitWithError("conversion failed", err)
	}

	target := stats.OutputFile
	if stats.DXFFile != "" {
		target = stats.DXFFile
	}
	log.Info("Conversion complete",
		zap.String("output", target),
		zap.Int("buildings", stats.Features),
		zap.Int64("ways", stats.Extract.Ways),
		zap.Int64("missing_refs", stats.Extract.MissingRefs),
		zap.Int64("closed", stats.Normalize.Closed),
		zap.Int64("degenerate", stats.Normalize.Degenerate),
		zap.Int64("out_of_domain", stats.Project.OutOfDomain),
		zap.Duration("total_time", stats.Duration.Round(time.Millisecond)),
	)
}
