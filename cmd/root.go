package cmd

import (
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/spf13/cobra"
	"github.com/wegman-software/osm2dxf-go/internal/config"
	"github.com/wegman-software/osm2dxf-go/internal/logger"
)

var (
	cfg             = config.DefaultConfig()
	verbose         bool
	logFile         string
	metricsInterval time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "osm2dxf-go <output> <input>...",
	Short: "Convert OSM building footprints to a projected feature collection",
	Long: `osm2dxf-go extracts building footprints with a house number from one or
more OSM extracts and writes them as polygons in ETRS89 / UTM zone 32N
(EPSG:25832).

  1. Pass 1: Index the coordinates of every node in every input
  2. Pass 2: Resolve building ways, close and validate their rings
  3. Reproject and write a GeoJSON FeatureCollection atomically

An output path ending in .dxf writes the collection next to it and runs
ogr2ogr to produce the drawing. Any other path only writes the collection.`,
	Args: cobra.MinimumNArgs(2),
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cfg.Verbose = verbose
		cfg.LogFile = logFile
		cfg.MetricsInterval = metricsInterval

		// Initialize logger with optional file output
		if logFile != "" {
			logger.InitWithFile(verbose, logFile)
		} else {
			logger.Init(verbose)
		}
	},
	Run: runConvert,
}

func Execute() error {
	defer logger.Sync()
	return rootCmd.Execute()
}

func init() {
	// Logging and metrics flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Path to log file for persistent logging (JSON format)")
	rootCmd.PersistentFlags().DurationVar(&metricsInterval, "metrics-interval", 0, "Interval for resource metrics logging (e.g., 10s, 1m), 0 disables")

	addConvertFlags(rootCmd)
}

func exitWithError(msg string, err error) {
	log := logger.Get()
	if err != nil {
		log.Error(msg, zap.Error(err))
	} else {
		log.Error(msg)
	}
	logger.Sync()
	os.Exit(1)
}
