// Package dxf drives the external ogr2ogr tool that turns a feature
// collection into a DXF drawing.
package dxf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// ErrConversionFailed is matched by errors.Is when the tool exits non-zero
var ErrConversionFailed = errors.New("dxf conversion failed")

// ExitError carries the exit status of a failed conversion
type ExitError struct {
	Status int
	Stderr string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("ogr2ogr exited with status %d", e.Status)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *ExitError) Unwrap() error {
	return ErrConversionFailed
}

// Args returns the tool arguments converting src into the DXF file dst
func Args(dst, src string) []string {
	return []string{"-f", "DXF", dst, src}
}

// CommandLine renders the conversion as a shell command for display
func CommandLine(tool, dst, src string) string {
	return strings.Join(append([]string{tool}, Args(dst, src)...), " ")
}

// DefaultTarget derives a DXF path from a collection path
func DefaultTarget(src string) string {
	return strings.TrimSuffix(src, filepath.Ext(src)) + ".dxf"
}

// Converter runs the conversion tool
type Converter struct {
	Tool string
	log  *zap.Logger
}

// NewConverter creates a converter for the given binary (default "ogr2ogr")
func NewConverter(tool string, log *zap.Logger) *Converter {
	if tool == "" {
		tool = "ogr2ogr"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Converter{Tool: tool, log: log}
}

// Convert writes dst from the collection at src. A non-zero exit is
// returned as *ExitError.
func (c *Converter) Convert(ctx context.Context, dst, src string) error {
	cmd := exec.CommandContext(ctx, c.Tool, Args(dst, src)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	c.log.Info("Running DXF conversion", zap.String("command", CommandLine(c.Tool, dst, src)))

	err := cmd.Run()
	if err == nil {
		return nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &ExitError{
			Status: exitErr.ExitCode(),
			Stderr: strings.TrimSpace(stderr.String()),
		}
	}
	return fmt.Errorf("failed to run %s: %w", c.Tool, err)
}
