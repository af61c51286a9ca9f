// Package export renders tabular datasets into downloadable documents.
package export

import (
	"errors"
	"fmt"
	"strings"
)

// Supported formats.
const (
	FormatCSV = "csv"
	FormatPDF = "pdf"
)

// Dataset defines tabular export content.
type Dataset struct {
	Title   string
	Headers []string
	Rows    []map[string]string
	// Widths optionally weights each column in layouts that need it; nil means equal.
	Widths []float64
}

// Renderer turns a dataset into bytes of a given format.
type Renderer interface {
	Format() string
	ContentType() string
	Render(data Dataset) ([]byte, error)
}

// ErrUnsupportedFormat is returned by ForFormat for unknown formats.
var ErrUnsupportedFormat = errors.New("unsupported export format")

// ForFormat returns the renderer registered for format.
func ForFormat(format string) (Renderer, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", FormatCSV:
		return NewCSVExporter(), nil
	case FormatPDF:
		return NewPDFExporter(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

func validate(kind string, data Dataset) error {
	if len(data.Headers) == 0 {
		return fmt.Errorf("%s requires at least one header", kind)
	}
	if data.Widths != nil && len(data.Widths) != len(data.Headers) {
		return fmt.Errorf("%s widths must match headers", kind)
	}
	return nil
}
