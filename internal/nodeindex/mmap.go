package nodeindex

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"github.com/edsrzf/mmap-go"
	"github.com/paulmach/orb"
	"github.com/paulmach/osm"
)

const (
	// Each node entry: lon (uint32) + lat (uint32) = 8 bytes
	// Using fixed-point: value * 1e7, shifted by 2^31 so that an all-zero
	// entry (sparse file hole) means "not set"
	entrySize = 8
	coordBias = 1 << 31
	scale     = 1e7

	initialSize = 1 << 20 // 1 MB, grows by doubling
	// Maximum node ID we support, about 68.7 billion (a 512 GB sparse file)
	maxNodeID = 1 << 36
)

// MmapIndex is a memory-mapped flat node index backed by a sparse file.
// Node coordinates are stored at offset = nodeID * 8, giving O(1) lookups.
// Coordinates are kept at 1e-7 degree precision. Negative IDs (unsaved
// editor objects) go to a small in-memory overflow map.
type MmapIndex struct {
	path     string
	file     *os.File
	data     mmap.MMap
	count    int
	negative map[osm.NodeID]orb.Point
}

var _ Index = &MmapIndex{}

// NewMmapIndex creates a flat nodes file at path, truncating any existing one
func NewMmapIndex(path string) (*MmapIndex, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create flat nodes file: %w", err)
	}

	m := &MmapIndex{
		path:     path,
		file:     f,
		negative: make(map[osm.NodeID]orb.Point),
	}
	if err := m.resize(initialSize); err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	return m, nil
}

// resize truncates the file to size (sparse on Linux) and remaps it
func (m *MmapIndex) resize(size int64) error {
	if m.data != nil {
		if err := m.data.Unmap(); err != nil {
			return fmt.Errorf("failed to unmap flat nodes file: %w", err)
		}
		m.data = nil
	}
	if err := m.file.Truncate(size); err != nil {
		return fmt.Errorf("failed to truncate flat nodes file: %w", err)
	}
	data, err := mmap.Map(m.file, mmap.RDWR, 0)
	if err != nil {
		return fmt.Errorf("failed to mmap flat nodes file: %w", err)
	}
	m.data = data
	return nil
}

// Put stores a node's coordinates
func (m *MmapIndex) Put(id osm.NodeID, p orb.Point) (bool, error) {
	if id < 0 {
		_, replaced := m.negative[id]
		m.negative[id] = p
		return replaced, nil
	}
	if id >= maxNodeID {
		return false, fmt.Errorf("node id %d exceeds flat nodes limit %d", id, int64(maxNodeID))
	}
	if math.Abs(p.Lon()) > 180 || math.Abs(p.Lat()) > 90 {
		return false, fmt.Errorf("node %d coordinate (%f, %f) out of range for flat nodes", id, p.Lon(), p.Lat())
	}

	offset := int64(id) * entrySize
	if need := offset + entrySize; need > int64(len(m.data)) {
		size := int64(len(m.data))
		for size < need {
			size *= 2
		}
		if err := m.resize(size); err != nil {
			return false, err
		}
	}

	replaced := binary.LittleEndian.Uint64(m.data[offset:]) != 0
	binary.LittleEndian.PutUint32(m.data[offset:], encodeCoord(p.Lon()))
	binary.LittleEndian.PutUint32(m.data[offset+4:], encodeCoord(p.Lat()))
	if !replaced {
		m.count++
	}
	return replaced, nil
}

// Get retrieves a node's coordinates
func (m *MmapIndex) Get(id osm.NodeID) (orb.Point, bool) {
	if id < 0 {
		p, ok := m.negative[id]
		return p, ok
	}

	offset := int64(id) * entrySize
	if id >= maxNodeID || offset+entrySize > int64(len(m.data)) {
		return orb.Point{}, false
	}

	lon := binary.LittleEndian.Uint32(m.data[offset:])
	lat := binary.LittleEndian.Uint32(m.data[offset+4:])
	if lon == 0 && lat == 0 {
		return orb.Point{}, false
	}
	return orb.Point{decodeCoord(lon), decodeCoord(lat)}, true
}

func (m *MmapIndex) Len() int {
	return m.count + len(m.negative)
}

// Close unmaps and removes the flat nodes file
func (m *MmapIndex) Close() error {
	var err error
	if m.data != nil {
		err = m.data.Unmap()
		m.data = nil
	}
	if m.file != nil {
		if cerr := m.file.Close(); cerr != nil && err == nil {
			err = cerr
		}
		m.file = nil
		os.Remove(m.path)
	}
	return err
}

func encodeCoord(v float64) uint32 {
	return uint32(int64(math.Round(v*scale)) + coordBias)
}

func decodeCoord(v uint32) float64 {
	return float64(int64(v)-coordBias) / scale
}
