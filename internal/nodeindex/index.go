// Package nodeindex maps node identifiers to geographic coordinates.
// Later writes for the same identifier replace earlier ones.
package nodeindex

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/osm"
)

// Index is a node coordinate store. Points are (lon, lat).
type Index interface {
	// Put stores a coordinate and reports whether it replaced an earlier one
	Put(id osm.NodeID, p orb.Point) (replaced bool, err error)
	// Get returns the coordinate for id
	Get(id osm.NodeID) (orb.Point, bool)
	// Len returns the number of distinct identifiers stored
	Len() int
	Close() error
}

// MapIndex keeps all coordinates in memory
type MapIndex struct {
	nodes map[osm.NodeID]orb.Point
}

var _ Index = &MapIndex{}

// NewMapIndex creates an empty in-memory index
func NewMapIndex() *MapIndex {
	return &MapIndex{nodes: make(map[osm.NodeID]orb.Point, 1<<16)}
}

func (m *MapIndex) Put(id osm.NodeID, p orb.Point) (bool, error) {
	_, replaced := m.nodes[id]
	m.nodes[id] = p
	return replaced, nil
}

func (m *MapIndex) Get(id osm.NodeID) (orb.Point, bool) {
	p, ok := m.nodes[id]
	return p, ok
}

func (m *MapIndex) Len() int {
	return len(m.nodes)
}

func (m *MapIndex) Close() error {
	m.nodes = nil
	return nil
}
