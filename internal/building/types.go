// Package building extracts addressed building footprints from OSM ways and
// normalizes their rings.
package building

import (
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/osm"
)

// ErrMissingNode is matched by errors.Is for unresolved node references
var ErrMissingNode = errors.New("missing node")

// MissingNodeError reports a way referencing a node no extract defines
type MissingNodeError struct {
	WayID  osm.WayID
	NodeID osm.NodeID
}

func (e *MissingNodeError) Error() string {
	return fmt.Sprintf("way %d references missing node %d", e.WayID, e.NodeID)
}

func (e *MissingNodeError) Unwrap() error {
	return ErrMissingNode
}

// Ring is a building outline in geographic coordinates (lon, lat)
type Ring struct {
	WayID  osm.WayID
	Points orb.Ring
	// Skipped lists references that could not be resolved and were left out
	Skipped []osm.NodeID
}
