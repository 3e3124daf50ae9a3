package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/wegman-software/osm2dxf-go/internal/building"
	"github.com/wegman-software/osm2dxf-go/internal/config"
	"github.com/wegman-software/osm2dxf-go/internal/dxf"
	"github.com/wegman-software/osm2dxf-go/internal/extract"
	"github.com/wegman-software/osm2dxf-go/internal/proj"
)

// Extract A: an open triangle (way 100), a two point sliver (way 101) and
// a street that is not a building (way 102). Node 4 is redefined by B.
const extractA = `<?xml version="1.0" encoding="UTF-8"?>
<osm version="0.6">
  <node id="1" lat="53.07" lon="8.80"/>
  <node id="2" lat="53.07" lon="8.81"/>
  <node id="3" lat="53.08" lon="8.81"/>
  <node id="4" lat="53.0" lon="10.0"/>
  <way id="100">
    <nd ref="1"/><nd ref="2"/><nd ref="3"/>
    <tag k="building" v="yes"/>
    <tag k="addr:housenumber" v="1"/>
  </way>
  <way id="101">
    <nd ref="1"/><nd ref="2"/>
    <tag k="building" v="shed"/>
    <tag k="addr:housenumber" v="1a"/>
  </way>
  <way id="102">
    <nd ref="1"/><nd ref="3"/>
    <tag k="highway" v="residential"/>
  </way>
</osm>`

// Extract B: a closed square whose node 6 only exists here, and a way
// referencing node 5 which no extract defines.
const extractB = `<?xml version="1.0" encoding="UTF-8"?>
<osm version="0.6">
  <node id="4" lat="53.081" lon="8.80"/>
  <node id="6" lat="53.081" lon="8.81"/>
  <way id="200">
    <nd ref="4"/><nd ref="6"/><nd ref="3"/><nd ref="1"/><nd ref="4"/>
    <tag k="building" v="house"/>
    <tag k="addr:housenumber" v="2"/>
  </way>
  <way id="201">
    <nd ref="1"/><nd ref="5"/><nd ref="2"/><nd ref="3"/><nd ref="1"/>
    <tag k="building" v="house"/>
    <tag k="addr:housenumber" v="3"/>
  </way>
</osm>`

func writeExtracts(t *testing.T, docs ...string) (dir string, paths []string) {
	t.Helper()
	dir = t.TempDir()
	for i, doc := range docs {
		path := filepath.Join(dir, string(rune('a'+i))+".osm")
		require.NoError(t, os.WriteFile(path, []byte(doc), 0644))
		paths = append(paths, path)
	}
	return dir, paths
}

func newConfig(output string, inputs []string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.SetOutput(output)
	cfg.InputFiles = inputs
	return cfg
}

func readCollection(t *testing.T, path string) *geojson.FeatureCollection {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	fc, err := geojson.UnmarshalFeatureCollection(data)
	require.NoError(t, err)
	return fc
}

func TestRunTwoExtracts(t *testing.T) {
	dir, inputs := writeExtracts(t, extractA, extractB)
	output := filepath.Join(dir, "bremen.geojson")

	core, logs := observer.New(zapcore.InfoLevel)
	coord, err := NewCoordinator(newConfig(output, inputs), zap.New(core))
	require.NoError(t, err)

	stats, err := coord.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, output, stats.OutputFile)

	// 100 (closed), 200 (square), 201 (node 5 skipped); 101 is degenerate
	assert.Equal(t, 3, stats.Features)
	assert.Equal(t, int64(5), stats.Extract.Ways)
	assert.Equal(t, int64(4), stats.Extract.Qualified)
	assert.Equal(t, int64(1), stats.Extract.MissingRefs)
	assert.Equal(t, int64(2), stats.Normalize.Closed) // 100 and 101
	assert.Equal(t, int64(1), stats.Normalize.Degenerate)
	assert.Equal(t, int64(1), stats.Index.Overwrites)
	assert.Equal(t, 5, stats.IndexSize)
	assert.Equal(t, "EPSG:25832", stats.CRS)

	fc := readCollection(t, output)
	require.Len(t, fc.Features, stats.Features)
	crs, ok := fc.ExtraMembers["crs"].(map[string]interface{})
	require.True(t, ok, "expected crs member")
	assert.Equal(t, "EPSG:25832", crs["properties"].(map[string]interface{})["name"])

	tr, err := proj.NewTransformer(proj.SRID4326, proj.SRID25832)
	require.NoError(t, err)

	// First feature is way 100, closed in geographic space then projected
	want, err := tr.TransformRing(orb.Ring{{8.80, 53.07}, {8.81, 53.07}, {8.81, 53.08}, {8.80, 53.07}})
	require.NoError(t, err)
	assert.Equal(t, want, fc.Features[0].Geometry.(orb.Polygon)[0])

	// Second feature is way 200, using node 4 from extract B
	square := fc.Features[1].Geometry.(orb.Polygon)[0]
	wantCorner, err := tr.TransformRing(orb.Ring{{8.80, 53.081}})
	require.NoError(t, err)
	assert.Equal(t, wantCorner[0], square[0])
	assert.Len(t, square, 5)

	// Third feature is way 201 without node 5
	assert.Len(t, fc.Features[2].Geometry.(orb.Polygon)[0], 4)

	closures := logs.FilterMessage("Building not closed, closing ring").All()
	require.Len(t, closures, 2)
	assert.Equal(t, int64(100), closures[0].ContextMap()["way_id"])
	assert.Equal(t, int64(101), closures[1].ContextMap()["way_id"])
	assert.Equal(t, 1, logs.FilterMessage("Building ring is degenerate, dropping it").Len())
	assert.Equal(t, 1, logs.FilterMessageSnippet("now run: ogr2ogr -f DXF").Len())
}

func TestRunKeepDegenerate(t *testing.T) {
	dir, inputs := writeExtracts(t, extractA, extractB)
	cfg := newConfig(filepath.Join(dir, "out.geojson"), inputs)
	cfg.KeepDegenerate = true

	coord, err := NewCoordinator(cfg, nil)
	require.NoError(t, err)
	stats, err := coord.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, stats.Features)
	fc := readCollection(t, cfg.OutputFile)
	assert.Len(t, fc.Features[1].Geometry.(orb.Polygon)[0], 3)

	data, err := os.ReadFile(cfg.OutputFile)
	require.NoError(t, err)
	assert.Equal(t, 4, strings.Count(string(data), `"properties":{}`))
	assert.NotContains(t, string(data), `"properties":null`)
}

func TestRunMissingNodePolicies(t *testing.T) {
	t.Run("drop", func(t *testing.T) {
		dir, inputs := writeExtracts(t, extractA, extractB)
		cfg := newConfig(filepath.Join(dir, "out.geojson"), inputs)
		cfg.MissingNode = config.MissingNodeDrop

		coord, err := NewCoordinator(cfg, nil)
		require.NoError(t, err)
		stats, err := coord.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 2, stats.Features)
		assert.Equal(t, int64(1), stats.Extract.DroppedWays)
	})

	t.Run("fail writes nothing", func(t *testing.T) {
		dir, inputs := writeExtracts(t, extractA, extractB)
		cfg := newConfig(filepath.Join(dir, "out.geojson"), inputs)
		cfg.MissingNode = config.MissingNodeFail

		coord, err := NewCoordinator(cfg, nil)
		require.NoError(t, err)
		_, err = coord.Run(context.Background())

		var missing *building.MissingNodeError
		require.True(t, errors.As(err, &missing), "got %v", err)
		assert.EqualValues(t, 201, missing.WayID)
		assert.EqualValues(t, 5, missing.NodeID)

		_, statErr := os.Stat(cfg.OutputFile)
		assert.True(t, os.IsNotExist(statErr), "no output expected")
	})
}

func TestRunNoBuildings(t *testing.T) {
	dir, inputs := writeExtracts(t, `<osm><node id="1" lat="53.07" lon="8.80"/></osm>`)
	output := filepath.Join(dir, "empty.geojson")

	coord, err := NewCoordinator(newConfig(output, inputs), nil)
	require.NoError(t, err)
	stats, err := coord.Run(context.Background())
	require.NoError(t, err)

	assert.Zero(t, stats.Features)
	fc := readCollection(t, output)
	assert.Empty(t, fc.Features)
}

func TestRunMalformedInputWritesNothing(t *testing.T) {
	dir, inputs := writeExtracts(t, extractA, `<osm><node id="9" lon="8.8"/></osm>`)
	output := filepath.Join(dir, "out.geojson")

	coord, err := NewCoordinator(newConfig(output, inputs), nil)
	require.NoError(t, err)
	_, err = coord.Run(context.Background())
	assert.ErrorIs(t, err, extract.ErrMalformed)

	_, statErr := os.Stat(output)
	assert.True(t, os.IsNotExist(statErr), "no output expected")
}

func TestRunFlatNodes(t *testing.T) {
	dir, inputs := writeExtracts(t, extractA, extractB)
	cfg := newConfig(filepath.Join(dir, "out.geojson"), inputs)
	cfg.FlatNodesFile = filepath.Join(dir, "nodes.bin")

	coord, err := NewCoordinator(cfg, nil)
	require.NoError(t, err)
	stats, err := coord.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Features)

	_, statErr := os.Stat(cfg.FlatNodesFile)
	assert.True(t, os.IsNotExist(statErr), "flat nodes file must not outlive the run")
}

func TestRunStyleFile(t *testing.T) {
	dir, inputs := writeExtracts(t, extractA, extractB)
	stylePath := filepath.Join(dir, "style.yaml")
	require.NoError(t, os.WriteFile(stylePath, []byte(`buildings:
  require_all: [building, "addr:housenumber"]
  exclude:
    building: [house]
`), 0644))

	cfg := newConfig(filepath.Join(dir, "out.geojson"), inputs)
	cfg.StyleFile = stylePath

	coord, err := NewCoordinator(cfg, nil)
	require.NoError(t, err)
	stats, err := coord.Run(context.Background())
	require.NoError(t, err)

	// Only way 100 remains; 101 is degenerate, 200 and 201 are houses
	assert.Equal(t, 1, stats.Features)
}

func TestProjectOutOfDomain(t *testing.T) {
	tr, err := proj.NewTransformer(proj.SRID4326, proj.SRID25832)
	require.NoError(t, err)

	rings := []building.Ring{
		{WayID: 1, Points: orb.Ring{{8.80, 53.07}, {8.81, 53.07}, {8.81, 53.08}, {8.80, 53.07}}},
		{WayID: 2, Points: orb.Ring{{-74.0, 40.7}, {-74.1, 40.7}, {-74.1, 40.8}, {-74.0, 40.7}}},
	}

	polygons, stats, err := Project(tr, rings, config.DomainSkip, nil)
	require.NoError(t, err)
	require.Len(t, polygons, 1)
	assert.EqualValues(t, 1, polygons[0].WayID)
	assert.Len(t, polygons[0].Ring, 4)
	assert.Equal(t, int64(1), stats.OutOfDomain)

	_, _, err = Project(tr, rings, config.DomainFail, nil)
	assert.ErrorIs(t, err, proj.ErrOutOfDomain)
}

func fakeTool(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported")
	}
	path := filepath.Join(t.TempDir(), "ogr2ogr")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755))
	return path
}

func TestRunDXFOutput(t *testing.T) {
	dir, inputs := writeExtracts(t, extractA, extractB)
	cfg := newConfig(filepath.Join(dir, "bremen.dxf"), inputs)
	// The fake tool copies the collection to the DXF path: args are -f DXF dst src
	cfg.Ogr2ogr = fakeTool(t, `cp "$4" "$3"`)

	coord, err := NewCoordinator(cfg, nil)
	require.NoError(t, err)
	stats, err := coord.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "bremen.geojson"), stats.OutputFile)
	assert.Equal(t, filepath.Join(dir, "bremen.dxf"), stats.DXFFile)
	_, err = os.Stat(stats.DXFFile)
	assert.NoError(t, err)
}

func TestRunDXFFailureIsFatal(t *testing.T) {
	dir, inputs := writeExtracts(t, extractA)
	cfg := newConfig(filepath.Join(dir, "bremen.dxf"), inputs)
	cfg.Ogr2ogr = fakeTool(t, `exit 2`)

	coord, err := NewCoordinator(cfg, nil)
	require.NoError(t, err)
	_, err = coord.Run(context.Background())

	var exitErr *dxf.ExitError
	require.True(t, errors.As(err, &exitErr), "got %v", err)
	assert.Equal(t, 2, exitErr.Status)
}

func TestRunWithMetrics(t *testing.T) {
	dir, inputs := writeExtracts(t, extractA, extractB)
	cfg := newConfig(filepath.Join(dir, "out.geojson"), inputs)
	cfg.MetricsInterval = time.Second

	coord, err := NewCoordinator(cfg, nil)
	require.NoError(t, err)
	stats, err := coord.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Features)
	assert.GreaterOrEqual(t, stats.PeakRSSMB, 0.0)
	assert.GreaterOrEqual(t, stats.MetricsSamples, 2, "initial sample plus the final one")
}

func TestNewCoordinatorInvalidConfig(t *testing.T) {
	_, err := NewCoordinator(newConfig("out.geojson", nil), nil)
	assert.Error(t, err)

	dir, inputs := writeExtracts(t, extractA)
	cfg := newConfig(filepath.Join(dir, "out.geojson"), inputs)
	cfg.StyleFile = filepath.Join(dir, "missing.yaml")
	_, err = NewCoordinator(cfg, nil)
	assert.Error(t, err)
}
