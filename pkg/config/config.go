// Package config implements the line-oriented ntp.conf-style reader and
// writer: the external collaborator spec.md treats as contract-only,
// specified in full here. It recognizes "server"/"fudge" directives and the
// 127.127.20.N (NMEA serial) and 127.127.28.{0-3} (shared memory) refclock
// address forms, grounded on this codebase's own ntp.conf scanner.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Driver identifies what a server line's address denotes.
type Driver int

const (
	// DriverNetwork is an ordinary network peer, resolved over UDP.
	DriverNetwork Driver = iota
	// DriverNMEA is a 127.127.20.N serial NMEA GPS receiver.
	DriverNMEA
	// DriverSHM is a 127.127.28.{0-3} shared-memory segment.
	DriverSHM
)

// Fudge holds the optional calibration parameters a "fudge" line attaches
// to a refclock address.
type Fudge struct {
	Time1 float64
	Time2 float64
	Flag1 bool
	RefID string
}

// ServerConfig is one parsed "server" directive, plus any "fudge" line
// addressed at the same host.
type ServerConfig struct {
	Host       string
	Priority   int
	Driver     Driver
	DriverUnit int
	Mode       int
	Fudge      Fudge
}

const (
	// PriorityNormal is the default for a server line without prefer/noselect.
	PriorityNormal = 0
	// PriorityPrefer marks a "prefer" server.
	PriorityPrefer = 1
	// PriorityNoSelect marks a "noselect" server, excluded from use.
	PriorityNoSelect = -1
)

// Parse reads a config file and returns its server directives, combined
// with any fudge lines addressed at the same host. Lines outside
// "server"/"fudge"/blank/comment are ignored here (Write preserves them).
func Parse(path string) ([]ServerConfig, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "config: opening %s", path)
	}
	defer file.Close()

	byHost := make(map[string]*ServerConfig)
	var order []string

	scanner := bufio.NewScanner(file)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		switch fields[0] {
		case "server":
			sc, err := parseServerLine(fields)
			if err != nil {
				return nil, errors.Wrapf(err, "config: line %d", lineNo)
			}
			if _, exists := byHost[sc.Host]; !exists {
				order = append(order, sc.Host)
			}
			byHost[sc.Host] = sc
		case "fudge":
			if len(fields) < 2 {
				return nil, errors.Errorf("config: line %d: fudge requires a host", lineNo)
			}
			host := fields[1]
			sc, exists := byHost[host]
			if !exists {
				return nil, errors.Errorf("config: line %d: fudge for unknown server %s", lineNo, host)
			}
			if err := parseFudgeLine(fields, sc); err != nil {
				return nil, errors.Wrapf(err, "config: line %d", lineNo)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "config: scanning")
	}

	out := make([]ServerConfig, 0, len(order))
	for _, host := range order {
		out = append(out, *byHost[host])
	}
	return out, nil
}

func parseServerLine(fields []string) (*ServerConfig, error) {
	if len(fields) < 2 {
		return nil, errors.New("server requires a host argument")
	}

	sc := &ServerConfig{Host: fields[1], Mode: 3}
	sc.Driver, sc.DriverUnit = classifyAddress(sc.Host)

	for i := 2; i < len(fields); i++ {
		switch fields[i] {
		case "prefer":
			sc.Priority = PriorityPrefer
		case "noselect":
			sc.Priority = PriorityNoSelect
		case "mode":
			if i+1 >= len(fields) {
				return nil, errors.New("mode requires a value")
			}
			i++
			mode, err := strconv.Atoi(fields[i])
			if err != nil {
				return nil, errors.Wrap(err, "mode must be an integer")
			}
			sc.Mode = mode
		default:
			return nil, errors.Errorf("unrecognized server argument %q", fields[i])
		}
	}
	return sc, nil
}

func parseFudgeLine(fields []string, sc *ServerConfig) error {
	for i := 2; i < len(fields); i++ {
		switch fields[i] {
		case "time1":
			if i+1 >= len(fields) {
				return errors.New("time1 requires a value")
			}
			i++
			v, err := strconv.ParseFloat(fields[i], 64)
			if err != nil {
				return errors.Wrap(err, "time1 must be a float")
			}
			sc.Fudge.Time1 = v
		case "time2":
			if i+1 >= len(fields) {
				return errors.New("time2 requires a value")
			}
			i++
			v, err := strconv.ParseFloat(fields[i], 64)
			if err != nil {
				return errors.Wrap(err, "time2 must be a float")
			}
			sc.Fudge.Time2 = v
		case "flag1":
			if i+1 >= len(fields) {
				return errors.New("flag1 requires a value")
			}
			i++
			sc.Fudge.Flag1 = fields[i] == "1"
		case "refid":
			if i+1 >= len(fields) {
				return errors.New("refid requires a value")
			}
			i++
			sc.Fudge.RefID = fields[i]
		default:
			return errors.Errorf("unrecognized fudge argument %q", fields[i])
		}
	}
	return nil
}

// classifyAddress recognizes the 127.127.20.N (NMEA) and 127.127.28.{0-3}
// (shared memory) refclock address forms; anything else is an ordinary
// network peer.
func classifyAddress(host string) (Driver, int) {
	const nmeaPrefix = "127.127.20."
	const shmPrefix = "127.127.28."

	if strings.HasPrefix(host, nmeaPrefix) {
		if unit, err := strconv.Atoi(strings.TrimPrefix(host, nmeaPrefix)); err == nil {
			return DriverNMEA, unit
		}
	}
	if strings.HasPrefix(host, shmPrefix) {
		if unit, err := strconv.Atoi(strings.TrimPrefix(host, shmPrefix)); err == nil && unit >= 0 && unit <= 3 {
			return DriverSHM, unit
		}
	}
	return DriverNetwork, 0
}

// Write rewrites only the "server"/"fudge" lines in srcPath against the
// given configs, preserving every other line verbatim (comments, blank
// lines, driftfile and other directives), and writes the result to dstPath.
// The host column of rewritten lines is aligned to the widest hostname
// among them.
func Write(srcPath, dstPath string, configs []ServerConfig) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return errors.Wrapf(err, "config: opening %s", srcPath)
	}
	defer src.Close()

	byHost := make(map[string]ServerConfig, len(configs))
	for _, c := range configs {
		byHost[c.Host] = c
	}

	width := 0
	for _, c := range configs {
		if len(c.Host) > width {
			width = len(c.Host)
		}
	}

	dst, err := os.Create(dstPath)
	if err != nil {
		return errors.Wrapf(err, "config: creating %s", dstPath)
	}
	defer dst.Close()

	writer := bufio.NewWriter(dst)
	scanner := bufio.NewScanner(src)
	for scanner.Scan() {
		line := scanner.Text()
		fields := strings.Fields(strings.TrimSpace(line))

		if len(fields) >= 2 && (fields[0] == "server" || fields[0] == "fudge") {
			if c, ok := byHost[fields[1]]; ok {
				if _, err := fmt.Fprintln(writer, renderLine(fields[0], c, width)); err != nil {
					return errors.Wrap(err, "config: writing")
				}
				continue
			}
		}

		if _, err := fmt.Fprintln(writer, line); err != nil {
			return errors.Wrap(err, "config: writing")
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrap(err, "config: scanning source")
	}

	return writer.Flush()
}

func renderLine(directive string, c ServerConfig, width int) string {
	host := fmt.Sprintf("%-*s", width, c.Host)
	if directive == "fudge" {
		var b strings.Builder
		fmt.Fprintf(&b, "fudge %s", host)
		if c.Fudge.Time1 != 0 {
			fmt.Fprintf(&b, " time1 %g", c.Fudge.Time1)
		}
		if c.Fudge.Time2 != 0 {
			fmt.Fprintf(&b, " time2 %g", c.Fudge.Time2)
		}
		if c.Fudge.Flag1 {
			b.WriteString(" flag1 1")
		}
		if c.Fudge.RefID != "" {
			fmt.Fprintf(&b, " refid %s", c.Fudge.RefID)
		}
		return b.String()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "server %s", host)
	switch c.Priority {
	case PriorityPrefer:
		b.WriteString(" prefer")
	case PriorityNoSelect:
		b.WriteString(" noselect")
	}
	if c.Mode != 0 && c.Mode != 3 {
		fmt.Fprintf(&b, " mode %d", c.Mode)
	}
	return b.String()
}
