package extract

import (
	"bufio"
	"compress/bzip2"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/paulmach/osm"
	"github.com/paulmach/osm/osmpbf"
)

// Format identifies the encoding of an extract file
type Format int

const (
	FormatXML Format = iota
	FormatXMLGzip
	FormatXMLBzip2
	FormatPBF
)

func (f Format) String() string {
	switch f {
	case FormatXMLGzip:
		return "osm+gzip"
	case FormatXMLBzip2:
		return "osm+bzip2"
	case FormatPBF:
		return "pbf"
	default:
		return "osm"
	}
}

// DetectFormat picks the format from the file name
func DetectFormat(path string) Format {
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".pbf"):
		return FormatPBF
	case strings.HasSuffix(lower, ".gz"):
		return FormatXMLGzip
	case strings.HasSuffix(lower, ".bz2"):
		return FormatXMLBzip2
	default:
		return FormatXML
	}
}

// Options selects which element types a scanner yields
type Options struct {
	SkipNodes bool
	SkipWays  bool
}

// Open opens an extract file and returns a scanner over its nodes and ways.
// Closing the scanner closes the file.
func Open(ctx context.Context, path string, opts Options) (osm.Scanner, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open extract: %w", err)
	}

	format := DetectFormat(path)
	if format == FormatPBF {
		scanner := osmpbf.New(ctx, f, runtime.NumCPU())
		scanner.SkipNodes = opts.SkipNodes
		scanner.SkipWays = opts.SkipWays
		scanner.SkipRelations = true
		return &fileScanner{Scanner: scanner, closers: []io.Closer{f}}, nil
	}

	closers := []io.Closer{f}
	var reader io.Reader = bufio.NewReaderSize(f, 1<<16)

	switch format {
	case FormatXMLGzip:
		gzReader, err := gzip.NewReader(reader)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		closers = append([]io.Closer{gzReader}, closers...)
		reader = gzReader
	case FormatXMLBzip2:
		reader = bzip2.NewReader(reader)
	}

	scanner := NewXMLScanner(reader)
	scanner.SkipNodes = opts.SkipNodes
	scanner.SkipWays = opts.SkipWays
	return &fileScanner{Scanner: scanner, closers: closers}, nil
}

// fileScanner closes the underlying file along with the scanner
type fileScanner struct {
	osm.Scanner
	closers []io.Closer
}

func (s *fileScanner) Err() error {
	err := s.Scanner.Err()
	if err == io.EOF {
		return nil
	}
	return err
}

func (s *fileScanner) Close() error {
	err := s.Scanner.Close()
	for _, c := range s.closers {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
