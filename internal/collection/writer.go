// Package collection packages projected building polygons into a GeoJSON
// feature collection tagged with its reference frame.
package collection

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/osm"
	"go.uber.org/zap"
)

// Polygon is one building outline in projected coordinates
type Polygon struct {
	WayID osm.WayID
	Ring  orb.Ring
}

// crsMember is the legacy GeoJSON named CRS object understood by GDAL
func crsMember(name string) map[string]interface{} {
	return map[string]interface{}{
		"type":       "name",
		"properties": map[string]interface{}{"name": name},
	}
}

// Build creates the feature collection. Each polygon becomes a feature with
// a single exterior ring and empty properties, in input order.
func Build(polygons []Polygon, crs string) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	fc.ExtraMembers = geojson.Properties{"crs": crsMember(crs)}
	for _, p := range polygons {
		fc.Append(geojson.NewFeature(orb.Polygon{p.Ring}))
	}
	return fc
}

// featureDoc is the encoded form of one feature. orb/geojson encodes empty
// properties as null, GDAL and the drawing tools downstream expect {}.
type featureDoc struct {
	ID         interface{}        `json:"id,omitempty"`
	Type       string             `json:"type"`
	Geometry   *geojson.Geometry  `json:"geometry"`
	Properties geojson.Properties `json:"properties"`
}

// Marshal encodes fc with its extra members at the top level and every
// feature carrying a properties object, empty or not.
func Marshal(fc *geojson.FeatureCollection) ([]byte, error) {
	doc := make(map[string]interface{}, len(fc.ExtraMembers)+2)
	for k, v := range fc.ExtraMembers {
		doc[k] = v
	}

	features := make([]featureDoc, 0, len(fc.Features))
	for _, f := range fc.Features {
		props := f.Properties
		if props == nil {
			props = geojson.Properties{}
		}
		features = append(features, featureDoc{
			ID:         f.ID,
			Type:       "Feature",
			Geometry:   geojson.NewGeometry(f.Geometry),
			Properties: props,
		})
	}
	doc["type"] = "FeatureCollection"
	doc["features"] = features

	return json.Marshal(doc)
}

// Writer persists feature collections to a file
type Writer struct {
	path string
	crs  string
	log  *zap.Logger
}

// NewWriter creates a writer for path tagging the given frame name
func NewWriter(path, crs string, log *zap.Logger) *Writer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Writer{path: path, crs: crs, log: log}
}

// Path returns the output location
func (w *Writer) Path() string {
	return w.path
}

// Write builds and stores the collection, returning the feature count
func (w *Writer) Write(polygons []Polygon) (int, error) {
	fc := Build(polygons, w.crs)

	data, err := Marshal(fc)
	if err != nil {
		return 0, fmt.Errorf("failed to encode feature collection: %w", err)
	}
	if err := WriteFileAtomic(w.path, data, 0644); err != nil {
		return 0, err
	}

	w.log.Info("Wrote feature collection",
		zap.String("path", w.path),
		zap.String("crs", w.crs),
		zap.Int("features", len(fc.Features)),
		zap.Int("bytes", len(data)))
	return len(fc.Features), nil
}

// WriteFileAtomic writes data to a temporary file next to path and renames
// it into place. On failure path is left as it was.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) (err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary output: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync output: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close output: %w", err)
	}
	if err = os.Chmod(tmpName, perm); err != nil {
		return fmt.Errorf("failed to set output permissions: %w", err)
	}
	if err = os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to move output into place: %w", err)
	}
	return nil
}
