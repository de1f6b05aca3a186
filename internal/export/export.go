// Package export serialises a recording listing for external tools.
package export

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"call-triage/internal/models"
)

// Supported formats.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// ErrUnknownFormat is returned for a format other than json or yaml.
var ErrUnknownFormat = errors.New("unknown export format")

// Document is the top-level export payload.
type Document struct {
	ScanID     string                `json:"scan_id" yaml:"scan_id"`
	Recordings []models.ExportRecord `json:"recordings" yaml:"recordings"`
}

// ParseFormat normalises a user-supplied format name. Empty means json.
func ParseFormat(value string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatYAML, "yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, value)
}

// ContentType returns the MIME type served for format.
func ContentType(format string) string {
	if format == FormatYAML {
		return "application/yaml"
	}
	return "application/json"
}

// Write encodes records to w in the given format.
func Write(w io.Writer, format, scanID string, records []models.ExportRecord) error {
	format, err := ParseFormat(format)
	if err != nil {
		return err
	}
	if records == nil {
		records = []models.ExportRecord{}
	}
	doc := Document{ScanID: scanID, Recordings: records}

	switch format {
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		return enc.Close()
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("encode json: %w", err)
		}
		return nil
	}
}
