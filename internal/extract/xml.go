package extract

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/paulmach/osm"
)

// ErrMalformed is returned for documents that are not well-formed OSM XML or
// carry elements without their required attributes
var ErrMalformed = errors.New("malformed extract")

// XMLScanner reads nodes and ways from an OSM XML document.
// Relations and any other top-level elements are skipped.
type XMLScanner struct {
	SkipNodes bool
	SkipWays  bool

	decoder *xml.Decoder
	object  osm.Object
	err     error

	started bool // root element seen
	ended   bool // root element closed
	done    bool
}

var _ osm.Scanner = &XMLScanner{}

// NewXMLScanner creates a scanner reading OSM XML from r
func NewXMLScanner(r io.Reader) *XMLScanner {
	return &XMLScanner{decoder: xml.NewDecoder(r)}
}

// Scan advances to the next node or way. It returns false at the end of the
// document or on the first error.
func (s *XMLScanner) Scan() bool {
	if s.err != nil || s.done {
		return false
	}
	s.object = nil

	for {
		token, err := s.decoder.Token()
		if err == io.EOF {
			s.done = true
			if !s.started {
				s.err = fmt.Errorf("%w: no osm root element", ErrMalformed)
			}
			return false
		}
		if err != nil {
			return s.fail(fmt.Errorf("%w: %v", ErrMalformed, err))
		}

		switch se := token.(type) {
		case xml.StartElement:
			if s.ended {
				return s.fail(fmt.Errorf("%w: element <%s> after root", ErrMalformed, se.Name.Local))
			}
			if !s.started {
				if se.Name.Local != "osm" {
					return s.fail(fmt.Errorf("%w: root element is <%s>, want <osm>", ErrMalformed, se.Name.Local))
				}
				s.started = true
				continue
			}

			switch se.Name.Local {
			case "node":
				if s.SkipNodes {
					if err := s.skip(); err != nil {
						return s.fail(err)
					}
					continue
				}
				node, err := parseNode(s.decoder, se)
				if err != nil {
					return s.fail(err)
				}
				s.object = node
				return true
			case "way":
				if s.SkipWays {
					if err := s.skip(); err != nil {
						return s.fail(err)
					}
					continue
				}
				way, err := parseWay(s.decoder, se)
				if err != nil {
					return s.fail(err)
				}
				s.object = way
				return true
			default:
				if err := s.skip(); err != nil {
					return s.fail(err)
				}
			}
		case xml.EndElement:
			// only the root closes at this depth
			s.ended = true
		}
	}
}

// Object returns the node or way read by the last successful Scan
func (s *XMLScanner) Object() osm.Object {
	return s.object
}

// Err returns the first error encountered
func (s *XMLScanner) Err() error {
	return s.err
}

// Close releases nothing; the caller owns the reader
func (s *XMLScanner) Close() error {
	s.done = true
	return nil
}

func (s *XMLScanner) fail(err error) bool {
	s.err = err
	s.object = nil
	return false
}

func (s *XMLScanner) skip() error {
	if err := s.decoder.Skip(); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

// parseNode parses a node element. id, lat and lon are required.
func parseNode(decoder *xml.Decoder, start xml.StartElement) (*osm.Node, error) {
	node := &osm.Node{Visible: true}
	var hasID, hasLat, hasLon bool

	for _, attr := range start.Attr {
		var err error
		switch attr.Name.Local {
		case "id":
			var id int64
			id, err = strconv.ParseInt(attr.Value, 10, 64)
			node.ID = osm.NodeID(id)
			hasID = true
		case "lat":
			node.Lat, err = parseCoord(attr.Value)
			hasLat = true
		case "lon":
			node.Lon, err = parseCoord(attr.Value)
			hasLon = true
		}
		if err != nil {
			return nil, fmt.Errorf("%w: node %s: invalid %s %q: %v",
				ErrMalformed, attrValue(start, "id"), attr.Name.Local, attr.Value, err)
		}
	}

	switch {
	case !hasID:
		return nil, fmt.Errorf("%w: node without id", ErrMalformed)
	case !hasLat:
		return nil, fmt.Errorf("%w: node %d has no lat", ErrMalformed, node.ID)
	case !hasLon:
		return nil, fmt.Errorf("%w: node %d has no lon", ErrMalformed, node.ID)
	}

	// Parse child elements (tags)
	for {
		token, err := decoder.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: node %d: %v", ErrMalformed, node.ID, eofAsUnexpected(err))
		}

		switch se := token.(type) {
		case xml.StartElement:
			if se.Name.Local == "tag" {
				if tag, ok := parseTag(se); ok {
					node.Tags = append(node.Tags, tag)
				}
			}
		case xml.EndElement:
			if se.Name.Local == "node" {
				return node, nil
			}
		}
	}
}

// parseWay parses a way element with its ordered nd refs and tags
func parseWay(decoder *xml.Decoder, start xml.StartElement) (*osm.Way, error) {
	way := &osm.Way{Visible: true}

	idValue := attrValue(start, "id")
	if idValue == "" {
		return nil, fmt.Errorf("%w: way without id", ErrMalformed)
	}
	id, err := strconv.ParseInt(idValue, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: way: invalid id %q: %v", ErrMalformed, idValue, err)
	}
	way.ID = osm.WayID(id)

	// Parse child elements (nd refs and tags)
	for {
		token, err := decoder.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: way %d: %v", ErrMalformed, way.ID, eofAsUnexpected(err))
		}

		switch se := token.(type) {
		case xml.StartElement:
			switch se.Name.Local {
			case "nd":
				refValue := attrValue(se, "ref")
				if refValue == "" {
					return nil, fmt.Errorf("%w: way %d has nd without ref", ErrMalformed, way.ID)
				}
				ref, err := strconv.ParseInt(refValue, 10, 64)
				if err != nil {
					return nil, fmt.Errorf("%w: way %d: invalid ref %q: %v", ErrMalformed, way.ID, refValue, err)
				}
				way.Nodes = append(way.Nodes, osm.WayNode{ID: osm.NodeID(ref)})
			case "tag":
				if tag, ok := parseTag(se); ok {
					way.Tags = append(way.Tags, tag)
				}
			}
		case xml.EndElement:
			if se.Name.Local == "way" {
				return way, nil
			}
		}
	}
}

func parseTag(se xml.StartElement) (osm.Tag, bool) {
	var tag osm.Tag
	for _, attr := range se.Attr {
		switch attr.Name.Local {
		case "k":
			tag.Key = attr.Value
		case "v":
			tag.Value = attr.Value
		}
	}
	return tag, tag.Key != ""
}

func parseCoord(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("not a finite number")
	}
	return v, nil
}

func attrValue(se xml.StartElement, name string) string {
	for _, attr := range se.Attr {
		if attr.Name.Local == name {
			return attr.Value
		}
	}
	return ""
}

func eofAsUnexpected(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}
