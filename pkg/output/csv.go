// Package output implements the Output Adapter contract: a CSV row stream
// for monitor mode, a bounded per-server JSON history window, and
// Prometheus gauges, all fed from the same per-tick snapshot the pacer
// produces.
package output

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"
)

// CSVWriter emits the two-row header from the wire contract once, then one
// row per pacing tick, via encoding/csv.
type CSVWriter struct {
	w           *csv.Writer
	refName     string
	serverNames []string
	wroteHeader bool
}

// NewCSVWriter builds a writer for a reference server name and the ordered
// list of non-reference server names that will appear as offset columns.
func NewCSVWriter(w io.Writer, refName string, serverNames []string) *CSVWriter {
	return &CSVWriter{w: csv.NewWriter(w), refName: refName, serverNames: serverNames}
}

// WriteHeader writes the names row then the units row, as specified: first
// two columns are "<ref> - Unix Time"/"<ref> - UTC Time", then "<svr> -
// Offset" per non-reference server, then "Counter Frequency".
func (c *CSVWriter) WriteHeader() error {
	names := make([]string, 0, len(c.serverNames)+3)
	names = append(names, c.refName+" - Unix Time", c.refName+" - UTC Time")
	for _, name := range c.serverNames {
		names = append(names, name+" - Offset")
	}
	names = append(names, "Counter Frequency")

	units := make([]string, 0, len(c.serverNames)+3)
	units = append(units, "Seconds Since 1970", "UTC Time")
	for range c.serverNames {
		units = append(units, "Milliseconds")
	}
	units = append(units, "MHz")

	if err := c.w.Write(names); err != nil {
		return err
	}
	if err := c.w.Write(units); err != nil {
		return err
	}
	c.wroteHeader = true
	c.w.Flush()
	return c.w.Error()
}

// WriteRow emits one tick's row. offsetsMillis holds one entry per server in
// serverNames order; a nil entry renders as "Unknown", per the no-sample-
// this-tick rule.
func (c *CSVWriter) WriteRow(refTime time.Time, offsetsMillis []*float64, counterFrequencyMHz float64) error {
	if !c.wroteHeader {
		if err := c.WriteHeader(); err != nil {
			return err
		}
	}

	row := make([]string, 0, len(offsetsMillis)+3)
	row = append(row,
		strconv.FormatFloat(float64(refTime.UnixNano())/1e9, 'f', -1, 64),
		refTime.UTC().Format(time.RFC3339Nano),
	)
	for _, ms := range offsetsMillis {
		if ms == nil {
			row = append(row, "Unknown")
			continue
		}
		row = append(row, strconv.FormatFloat(*ms, 'f', 4, 64))
	}
	row = append(row, strconv.FormatFloat(counterFrequencyMHz, 'f', -1, 64))

	if err := c.w.Write(row); err != nil {
		return err
	}
	c.w.Flush()
	return c.w.Error()
}
