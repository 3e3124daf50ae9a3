package pipeline

import (
	"time"

	"github.com/wegman-software/osm2dxf-go/internal/building"
	"github.com/wegman-software/osm2dxf-go/internal/nodeindex"
)

// ProjectStats holds reprojection statistics
type ProjectStats struct {
	Projected   int64
	OutOfDomain int64 // rings dropped for coordinates outside the frame
}

// RunStats holds combined statistics of one conversion run
type RunStats struct {
	Index     nodeindex.BuildStats
	IndexSize int
	Extract   building.ExtractStats
	Normalize building.NormalizeStats
	Project   ProjectStats
	Features  int

	OutputFile string
	DXFFile    string // empty unless the conversion tool ran
	CRS        string

	Duration       time.Duration
	PeakRSSMB      float64
	MetricsSamples int // resource samples taken, 0 when metrics are disabled
}
