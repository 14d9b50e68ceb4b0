// Command signalsim loads a track layout and a signal pack, builds the
// signals and runs them headless against simulation time. Effects are
// written to the log; the final state of every signal is printed on exit.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	ossignal "os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"github.com/signalsfoundry/rail-signals/core"
	"github.com/signalsfoundry/rail-signals/internal/logging"
	"github.com/signalsfoundry/rail-signals/internal/observability"
	"github.com/signalsfoundry/rail-signals/internal/sched"
	"github.com/signalsfoundry/rail-signals/internal/signal"
	"github.com/signalsfoundry/rail-signals/internal/sweep"
	"github.com/signalsfoundry/rail-signals/internal/topology"
	"github.com/signalsfoundry/rail-signals/timectrl"
)

// Config is everything run needs.
type Config struct {
	LayoutPath     string
	PackPaths      []string
	PackID         string
	MetricsAddress string
	Tick           time.Duration
	Duration       time.Duration
	Accelerated    bool
	Seed           uint64
	// Occupied lists segment IDs held occupied for the whole run.
	Occupied []string
	// Viewpoint, when set, slows updates of far signals.
	Viewpoint *core.Vec3
	Tracing   observability.TracingConfig
}

func main() {
	layout := flag.String("layout", "examples/layout.json", "Path to the JSON track layout")
	packs := flag.String("packs", "examples/pack.json", "Comma-separated signal pack files; the first is the default")
	packID := flag.String("pack", "", "ID of the pack to build with (default pack when empty)")
	metricsAddr := flag.String("metrics-addr", ":9090", "HTTP address for Prometheus /metrics (empty disables)")
	tick := flag.Duration("tick", 100*time.Millisecond, "Simulation frame length")
	duration := flag.Duration("duration", 60*time.Second, "Simulated run time (0 runs until interrupted)")
	accelerated := flag.Bool("accelerated", true, "Run frames back to back instead of in real time")
	seed := flag.Uint64("seed", 1, "Seed for update staggering and clip selection")
	occupied := flag.String("occupied", "", "Comma-separated segment IDs to mark occupied")
	viewpoint := flag.String("viewpoint", "", "Viewer position as x,y,z")
	flag.Parse()

	log := logging.NewFromEnv()
	ctx, stop := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := Config{
		LayoutPath:     *layout,
		PackPaths:      splitList(*packs),
		PackID:         *packID,
		MetricsAddress: *metricsAddr,
		Tick:           *tick,
		Duration:       *duration,
		Accelerated:    *accelerated,
		Seed:           *seed,
		Occupied:       splitList(*occupied),
		Tracing:        observability.TracingConfigFromEnv(),
	}
	if *viewpoint != "" {
		vp, err := parseVec3(*viewpoint)
		if err != nil {
			log.Error(ctx, "invalid viewpoint", logging.String("viewpoint", *viewpoint), logging.Err(err))
			os.Exit(2)
		}
		cfg.Viewpoint = &vp
	}

	if err := run(ctx, cfg, log, os.Stdout); err != nil {
		log.Error(ctx, "signalsim failed", logging.Err(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg Config, log logging.Logger, out io.Writer) (err error) {
	ctx, log = logging.WithRunLogger(ctx, log)

	if cfg.Tracing.Attributes == nil {
		cfg.Tracing.Attributes = map[string]string{}
	}
	cfg.Tracing.Attributes["signals.layout"] = cfg.LayoutPath
	if cfg.PackID != "" {
		cfg.Tracing.Attributes["signals.pack"] = cfg.PackID
	}
	shutdownTracing, err := observability.InitTracing(ctx, cfg.Tracing, log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}

	promReg := prometheus.NewRegistry()
	signalMetrics, err := observability.NewSignalCollector(promReg)
	if err != nil {
		return fmt.Errorf("signal metrics: %w", err)
	}
	sweepMetrics, err := observability.NewSweepCollector(promReg)
	if err != nil {
		return fmt.Errorf("sweep metrics: %w", err)
	}
	metricsSrv := serveMetrics(cfg.MetricsAddress, signalMetrics, log)

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if metricsSrv != nil {
			err = multierr.Append(err, metricsSrv.Shutdown(shutdownCtx))
		}
		if shutdownTracing != nil {
			err = multierr.Append(err, shutdownTracing(shutdownCtx))
		}
	}()

	network := core.NewRailNetwork()
	if err := loadLayout(ctx, network, cfg.LayoutPath, log); err != nil {
		return err
	}
	pack, err := loadPacks(ctx, cfg.PackPaths, cfg.PackID, log)
	if err != nil {
		return err
	}

	mode := timectrl.RealTime
	if cfg.Accelerated {
		mode = timectrl.Accelerated
	}
	tc := timectrl.NewTimeController(time.Now().UTC(), cfg.Tick, mode)
	events := sched.NewEventScheduler(tc)

	sw := sweep.New(sweep.DefaultConfig(), tc, log)
	sw.SetMetrics(sweepMetrics)
	sw.Seed(cfg.Seed)
	if cfg.Viewpoint != nil {
		vp := *cfg.Viewpoint
		sw.SetViewpoint(func() (core.Vec3, bool) { return vp, true })
	}

	static := core.NewStaticOccupancy()
	for _, id := range cfg.Occupied {
		if network.Segment(id) == nil {
			log.Warn(ctx, "unknown occupied segment", logging.String("segment", id))
			continue
		}
		static.SetSegment(id, true)
	}
	occupancy := core.NewOccupancy(static)

	env := &signal.Env{
		Occupancy: occupancy,
		Effects:   signal.LogEffects{Log: log},
		Scheduler: events,
		Notifier:  sw,
		Metrics:   signalMetrics,
		Log:       log,
		Seed:      cfg.Seed,
	}
	reg := topology.NewSignalRegistry()
	defer reg.Close()

	builder := topology.NewBuilder(topology.DefaultConfig(), network, pack, env, reg, log)
	builder.SetMetrics(signalMetrics)
	summary, buildErr := builder.Build(ctx)
	if buildErr != nil {
		for _, e := range multierr.Errors(buildErr) {
			log.Warn(ctx, "junction left without signals", logging.Err(e))
		}
	}
	log.Info(ctx, "signals built",
		logging.String("pack", pack.ID),
		logging.Int("junctions", summary.Created),
		logging.Int("merged", summary.Merged),
		logging.Int("distant", summary.Distant),
		logging.Int("skipped", summary.Skipped),
	)

	// Occupancy checks run without crossings until the map is ready; the
	// nudge needs it, so wait here.
	select {
	case res := <-core.BuildIntersectionMapAsync(ctx, network.Segments(), core.DefaultIntersectionConfig(), signalMetrics):
		if res.Err != nil {
			if errors.Is(res.Err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("intersection map: %w", res.Err)
		}
		occupancy.Publish(res.Map)
		moved := builder.NudgeFromCrossings(ctx, res.Map)
		log.Info(ctx, "intersection map published",
			logging.Int("crossing_pairs", res.Map.Pairs()),
			logging.Int("signals_moved", moved),
		)
	case <-ctx.Done():
		return nil
	}

	reg.Attach(sw)
	tc.AddListener(func(f timectrl.Frame) {
		events.RunDue()
		sw.OnFrame(ctx, f)
	})

	log.Info(ctx, "simulation starting",
		logging.Int("signals", sw.Len()),
		logging.Duration("tick", cfg.Tick),
		logging.Duration("duration", cfg.Duration),
	)
	<-tc.Start(ctx, cfg.Duration)
	log.Info(ctx, "simulation finished", logging.Duration("sim_time", tc.Now().Sub(tc.StartTime)))

	return printSignals(out, reg.All())
}

// printSignals writes one row per signal: name, kind, aspect and display
// texts.
func printSignals(out io.Writer, signals []*signal.Controller) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SIGNAL\tKIND\tASPECT\tDISPLAYS")
	for _, c := range signals {
		aspect, ok := c.CurrentAspectID()
		if !ok {
			aspect = "off"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", c.Name(), c.Kind(), aspect, strings.Join(c.DisplayTexts(), " | "))
	}
	return w.Flush()
}

func loadLayout(ctx context.Context, network *core.RailNetwork, path string, log logging.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open layout: %w", err)
	}
	defer f.Close()

	summary, err := core.LoadLayout(network, f)
	if err != nil {
		return err
	}
	log.Info(ctx, "loaded layout",
		logging.String("path", path),
		logging.Int("segments", len(summary.SegmentIDs)),
		logging.Int("junctions", len(summary.JunctionIDs)),
		logging.Int("connections", summary.Connections),
	)
	return nil
}

func loadPacks(ctx context.Context, paths []string, id string, log logging.Logger) (*topology.Pack, error) {
	packs := topology.NewPackRegistry(log)
	for _, path := range paths {
		p, err := topology.LoadPackFile(path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if err := packs.Add(p); err != nil {
			log.Warn(ctx, "skipping signal pack", logging.String("path", path), logging.Err(err))
			continue
		}
		log.Info(ctx, "loaded signal pack", logging.String("id", p.ID), logging.String("path", path))
	}
	pack := packs.Current(ctx, id)
	if pack == nil {
		return nil, fmt.Errorf("%w: no signal pack loaded", topology.ErrPackNotFound)
	}
	return pack, nil
}

func serveMetrics(addr string, collector *observability.SignalCollector, log logging.Logger) *http.Server {
	if addr == "" || collector == nil {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseVec3(s string) (core.Vec3, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return core.Vec3{}, fmt.Errorf("want x,y,z, got %q", s)
	}
	var v [3]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return core.Vec3{}, err
		}
		v[i] = f
	}
	return core.Vec3{X: v[0], Y: v[1], Z: v[2]}, nil
}
