package digest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/fxamacker/cbor/v2"
	"github.com/jedib0t/go-pretty/v6/table"
	"gopkg.in/yaml.v3"

	"github.com/Sumatoshi-tech/teledigest/pkg/quality"
)

// Format selects an encoding for Encode.
type Format string

// Supported formats.
const (
	FormatText  Format = "text"
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
	FormatCBOR  Format = "cbor"
)

// ErrUnknownFormat is returned for a format name that is not supported.
var ErrUnknownFormat = errors.New("unknown digest format")

// Formats lists every supported format.
func Formats() []Format {
	return []Format{FormatText, FormatTable, FormatJSON, FormatYAML, FormatCBOR}
}

// ParseFormat resolves a case-insensitive format name.
func ParseFormat(name string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(name)))

	for _, known := range Formats() {
		if f == known {
			return f, nil
		}
	}

	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, name)
}

// encMode is the CBOR encoder configured with Core Deterministic Encoding:
// the same digest always produces identical bytes.
var encMode cbor.EncMode

func init() {
	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano
	encOptions.TextMarshaler = cbor.TextMarshalerTextString

	var err error

	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("digest: CBOR encoder initialization failed: " + err.Error())
	}
}

// Encode writes d to w in the given format. Text and table output are never
// colored; use RenderTable for terminals.
func Encode(w io.Writer, d *VehicleDataDigest, format Format) error {
	switch format {
	case FormatText:
		_, err := io.WriteString(w, Summary(d))

		return err
	case FormatTable:
		return RenderTable(w, d, false)
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")

		return enc.Encode(d)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)

		encodeErr := enc.Encode(d)
		if encodeErr != nil {
			return fmt.Errorf("encode yaml: %w", encodeErr)
		}

		return enc.Close()
	case FormatCBOR:
		data, err := encMode.Marshal(d)
		if err != nil {
			return fmt.Errorf("encode cbor: %w", err)
		}

		_, err = w.Write(data)

		return err
	}

	return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
}

// Marshal returns the encoded digest.
func Marshal(d *VehicleDataDigest, format Format) ([]byte, error) {
	var buf bytes.Buffer

	err := Encode(&buf, d, format)
	if err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// labelColor picks the terminal color of a quality label.
func labelColor(label string) *color.Color {
	switch label {
	case quality.LabelExcellent, quality.LabelGreat:
		return color.New(color.FgGreen, color.Bold)
	case quality.LabelGood, quality.LabelFair:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgRed)
	}
}

// RenderTable writes the summary groups as a table. When colored is set the
// quality label is colored regardless of whether w is a terminal.
func RenderTable(w io.Writer, d *VehicleDataDigest, colored bool) error {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleLight)
	tw.SetTitle("Vehicle data digest: " + d.SubjectID)
	tw.AppendHeader(table.Row{"Category", "Metric", "Value"})

	for i, g := range Groups(d) {
		if i > 0 {
			tw.AppendSeparator()
		}

		for _, e := range g.Entries {
			value := e.Value

			if g.Category == CategoryQuality && e.Key == "label" {
				c := labelColor(value)
				if colored {
					c.EnableColor()
				} else {
					c.DisableColor()
				}

				value = c.Sprint(value)
			}

			tw.AppendRow(table.Row{g.Category, e.Key, value})
		}
	}

	_, err := fmt.Fprintln(w, tw.Render())

	return err
}
