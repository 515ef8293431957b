// Command ntpmon monitors a set of remote NTP servers, disciplining a local
// clock model per server and streaming offset/frequency measurements to
// CSV, an HTTP/JSON history endpoint, and Prometheus.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/clockwatch/ntpmon/pkg/clock"
	"github.com/clockwatch/ntpmon/pkg/config"
	"github.com/clockwatch/ntpmon/pkg/output"
	"github.com/clockwatch/ntpmon/pkg/server"
	"github.com/clockwatch/ntpmon/pkg/transport"
)

var (
	configPath  string
	csvPath     string
	httpAddr    string
	metricsPort int
	verbose     bool
)

const historyCapacity = 500

var rootCmd = &cobra.Command{
	Use:   "monitor REFERENCE SERVER [SERVER...]",
	Short: "Monitor clock offset and frequency drift against a set of NTP servers",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runMonitor,
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "ntp.conf-style file of additional server lines")
	rootCmd.Flags().StringVar(&csvPath, "csv", "", "path to append CSV measurement rows to (default: stdout)")
	rootCmd.Flags().StringVar(&httpAddr, "http", "", "address to serve /history and /snapshot JSON on, e.g. :8090")
	rootCmd.Flags().IntVar(&metricsPort, "metrics-port", 0, "port to serve Prometheus /metrics on, 0 disables it")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// ConfigureVerbosity sets the global log level from the --verbose flag.
func ConfigureVerbosity() {
	log.SetLevel(log.InfoLevel)
	if verbose {
		log.SetLevel(log.DebugLevel)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runMonitor(cmd *cobra.Command, args []string) error {
	ConfigureVerbosity()

	hostnames := append([]string{}, args...)
	if configPath != "" {
		configs, err := config.Parse(configPath)
		if err != nil {
			return fmt.Errorf("ntpmon: reading config: %w", err)
		}
		for _, sc := range configs {
			if sc.Priority == config.PriorityNoSelect || sc.Driver != config.DriverNetwork {
				continue
			}
			hostnames = append(hostnames, sc.Host)
		}
	}

	servers, refHostname, err := resolveServers(hostnames)
	if err != nil {
		return fmt.Errorf("ntpmon: %w", err)
	}

	conn, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		return fmt.Errorf("ntpmon: binding socket: %w", err)
	}

	loop := transport.New(conn, clock.SystemSource{}, servers)

	csvOut := os.Stdout
	if csvPath != "" {
		f, err := os.OpenFile(csvPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("ntpmon: opening %s: %w", csvPath, err)
		}
		defer f.Close()
		csvOut = f
	}

	serverNames := make([]string, 0, len(servers)-1)
	for _, s := range servers[1:] {
		serverNames = append(serverNames, s.Hostname)
	}
	csvWriter := output.NewCSVWriter(csvOut, refHostname, serverNames)

	history := output.NewHistory(historyCapacity)
	snapshots := output.NewSnapshotCache()

	var metrics *output.Metrics
	if metricsPort != 0 {
		metrics = output.NewMetrics()
		go serveMetrics(metrics, metricsPort)
	}

	if httpAddr != "" {
		go serveHistory(httpAddr, history, snapshots)
	}

	source := clock.SystemSource{}
	loop.OnTick = func(states []*server.State, counterFrequencyHz float64) {
		onTick(states, counterFrequencyHz, source, csvWriter, history, snapshots, metrics)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithField("servers", len(servers)).Info("ntpmon: starting monitor")
	loop.Run(ctx)
	log.Info("ntpmon: clean shutdown")
	return nil
}

// onTick runs on the pacer goroutine once per tick. It is the only place
// the output side reads server.State: everything it publishes (CSV row, history points,
// the snapshot cache, metrics) is a copy taken here, so the HTTP handlers
// serving /history and /snapshot never touch pacer-owned state directly.
func onTick(states []*server.State, counterFrequencyHz float64, source clock.Source, csvWriter *output.CSVWriter, history *output.History, snapshots *output.SnapshotCache, metrics *output.Metrics) {
	reference := states[0]
	refTime := reference.Clock.TimeAt(source.Now()).ToGoTime()

	offsets := make([]*float64, 0, len(states)-1)
	for _, s := range states[1:] {
		if !s.SampledThisTick {
			offsets = append(offsets, nil)
			continue
		}
		ms := s.LastOffsetSeconds * 1000
		offsets = append(offsets, &ms)
	}

	if err := csvWriter.WriteRow(refTime, offsets, counterFrequencyHz/1e6); err != nil {
		log.WithError(err).Warn("ntpmon: writing CSV row")
	}

	snaps := make([]output.Snapshot, 0, len(states))
	for _, s := range states {
		snaps = append(snaps, output.Snapshot{
			Server:                s.Hostname,
			OffsetSeconds:         s.LastOffsetSeconds,
			FrequencyHz:           s.Clock.Frequency(),
			Stratum:               s.Stratum,
			RefID:                 s.RefID,
			RootDelaySeconds:      s.RootDelaySeconds,
			RootDispersionSeconds: s.RootDispersionSeconds,
			ServerDelaySeconds:    s.LastServerDelaySeconds,
			Sampled:               s.SampledThisTick,
		})

		if !s.SampledThisTick {
			continue
		}
		history.Add(s.Hostname, refTime, s.LastOffsetSeconds)
		if metrics != nil {
			roundtripSeconds := s.Clock.DiffSeconds(s.MinRoundtrip)
			metrics.Observe(s.Hostname, s.LastOffsetSeconds, s.Clock.Frequency(), roundtripSeconds)
		}
	}
	snapshots.Set(snaps)

	if metrics != nil {
		metrics.SetCounterFrequencyMHz(counterFrequencyHz / 1e6)
	}
}

func serveMetrics(metrics *output.Metrics, port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	addr := fmt.Sprintf(":%d", port)
	log.WithField("addr", addr).Info("ntpmon: serving /metrics")
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.WithError(err).Error("ntpmon: metrics server stopped")
	}
}

func serveHistory(addr string, history *output.History, snapshots *output.SnapshotCache) {
	mux := http.NewServeMux()
	mux.Handle("/history", output.HistoryHandler(history))
	mux.Handle("/snapshot", output.SnapshotHandler(snapshots))
	log.WithField("addr", addr).Info("ntpmon: serving /history and /snapshot")
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.WithError(err).Error("ntpmon: history server stopped")
	}
}

// resolveServers resolves each hostname to an IPv4 UDP endpoint, filtering
// out any IPv6 results, and attaches a freshly calibrated Clock to each.
// Startup continues if at least the reference (the first hostname)
// resolved; otherwise it fails.
func resolveServers(hostnames []string) ([]*server.State, string, error) {
	var states []*server.State
	for i, host := range hostnames {
		addr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(host, "ntp"))
		if err != nil {
			if i == 0 {
				return nil, "", fmt.Errorf("resolving reference server %s: %w", host, err)
			}
			log.WithError(err).WithField("host", host).Warn("ntpmon: could not resolve server, omitting")
			continue
		}
		if addr.IP.To4() == nil {
			if i == 0 {
				return nil, "", fmt.Errorf("reference server %s resolved to a non-IPv4 address", host)
			}
			log.WithField("host", host).Warn("ntpmon: server resolved to IPv6, omitting")
			continue
		}

		states = append(states, server.New(addr, host, clock.New(clock.SystemSource{})))
	}

	if len(states) == 0 {
		return nil, "", fmt.Errorf("no servers resolved")
	}
	return states, states[0].Hostname, nil
}
