package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/signalsfoundry/groundtrack-simulator/core"
	"github.com/signalsfoundry/groundtrack-simulator/groundtrack"
	"github.com/signalsfoundry/groundtrack-simulator/internal/config"
	"github.com/signalsfoundry/groundtrack-simulator/internal/logging"
	"github.com/signalsfoundry/groundtrack-simulator/internal/observability"
	"github.com/signalsfoundry/groundtrack-simulator/internal/rpc"
	"github.com/signalsfoundry/groundtrack-simulator/kb"
	"github.com/signalsfoundry/groundtrack-simulator/model"
	"github.com/signalsfoundry/groundtrack-simulator/timectrl"
)

func main() {
	configPath := flag.String("config", "configs/scenario.yaml", "path to the scenario file")
	duration := flag.Duration("duration", 0, "override the configured simulation duration")
	flag.Parse()

	conf, err := config.NewFromFile(*configPath)
	if err != nil {
		logging.NewFromEnv().Error(context.Background(), "failed to load scenario",
			logging.String("config", *configPath), logging.Err(err))
		os.Exit(1)
	}
	if *duration > 0 {
		conf.Simulation.Duration = *duration
	}

	log := logging.New(logging.Config{Level: conf.Log.Level, Format: conf.Log.Format})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, log = logging.WithRunLogger(ctx, log)

	if err := run(ctx, conf, log, prometheus.DefaultRegisterer); err != nil {
		log.Error(ctx, "simulation failed", logging.Err(err))
		os.Exit(1)
	}
}

// run drives one simulation until the configured duration elapses or ctx is
// cancelled.
func run(ctx context.Context, conf *config.Config, log logging.Logger, reg prometheus.Registerer) error {
	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfigFromSettings(
		conf.Tracing.Enabled,
		conf.Tracing.Exporter,
		conf.Tracing.Endpoint,
		conf.Tracing.ServiceName,
		conf.Simulation.Name,
		conf.TracingSampleRatio(),
	), log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	collector, err := observability.NewCollector(reg)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	if conf.Metrics.Addr != "" {
		metricsSrv := serveMetrics(ctx, conf.Metrics.Addr, collector, log)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsSrv.Shutdown(shutdownCtx)
		}()
	}

	start := conf.Simulation.Start
	if start.IsZero() {
		start = time.Now().UTC()
	}

	sim, err := newSimulation(conf, start, collector, log)
	if err != nil {
		return err
	}

	mode := timectrl.Accelerated
	if conf.Simulation.Realtime {
		mode = timectrl.RealTime
	}
	tc := timectrl.NewTimeController(start, conf.Simulation.Tick, mode)

	if conf.GRPC.Addr != "" {
		stopGRPC, err := serveGRPC(ctx, conf.GRPC.Addr, sim.store, tc, collector, log)
		if err != nil {
			return err
		}
		defer stopGRPC()
	}

	// Anchor every model at the start time before the first tick.
	if err := sim.step(ctx, start); err != nil {
		log.Warn(ctx, "initial update failed", logging.Err(err))
	}
	tc.AddListener(func(simTime time.Time) {
		if err := sim.step(ctx, simTime); err != nil {
			log.Warn(ctx, "tick completed with errors", logging.String("sim_time", simTime.Format(time.RFC3339)), logging.Err(err))
		}
	})

	log.Info(ctx, "starting simulation",
		logging.String("scenario", conf.Simulation.Name),
		logging.String("start", start.Format(time.RFC3339)),
		logging.Duration("duration", conf.Simulation.Duration),
		logging.Duration("tick", conf.Simulation.Tick),
		logging.String("mode", mode.String()),
		logging.Int("satellites", len(conf.Satellites)),
		logging.Int("ground_stations", len(conf.GroundStations)),
	)
	<-tc.Run(ctx, conf.Simulation.Duration)

	if ctx.Err() != nil {
		log.Info(ctx, "simulation interrupted", logging.String("sim_time", tc.Now().Format(time.RFC3339)))
		return nil
	}
	log.Info(ctx, "simulation complete", logging.Int("ticks", sim.ticks))
	return nil
}

// simulation holds the per-run state advanced on every tick.
type simulation struct {
	store     *kb.KnowledgeBase
	motion    *core.MotionManager
	collector *observability.Collector
	log       logging.Logger

	mu      sync.Mutex
	ticks   int
	visible map[link]bool
}

// link is one ground-station to platform pair.
type link struct {
	station, platform string
}

func newSimulation(conf *config.Config, start time.Time, collector *observability.Collector, log logging.Logger) (*simulation, error) {
	store := kb.NewKnowledgeBase()

	tles := make(map[string][2]string)
	motion := core.NewMotionManager(
		core.WithPositionUpdater(store),
		core.WithRecorder(collector),
		core.WithLogger(log),
		core.WithTLEFetcher(func(p *model.PlatformDefinition) (string, string) {
			tle := tles[p.ID]
			return tle[0], tle[1]
		}),
	)

	for _, s := range conf.Satellites {
		p, err := platformFromConfig(s, start)
		if err != nil {
			return nil, fmt.Errorf("satellite %q: %w", s.ID, err)
		}
		if s.SGP4 {
			tles[s.ID] = [2]string{s.TLE1, s.TLE2}
		}
		if err := store.AddPlatform(p); err != nil {
			return nil, err
		}
		if err := motion.AddPlatform(p); err != nil {
			return nil, err
		}
	}

	for _, gs := range conf.GroundStations {
		if err := store.AddGroundStation(&model.GroundStation{
			ID:              gs.ID,
			Name:            gs.Name,
			Position:        groundtrack.GeoPosition{Latitude: gs.Latitude, Longitude: gs.Longitude},
			AltitudeM:       gs.AltitudeM,
			MinElevationDeg: gs.MinElevationDeg,
		}); err != nil {
			return nil, err
		}
	}

	sim := &simulation{
		store:     store,
		motion:    motion,
		collector: collector,
		log:       log,
		visible:   make(map[link]bool),
	}
	store.Subscribe(sim.handleEvent)
	return sim, nil
}

// handleEvent retires a platform removed from the knowledge base, for
// example through the RemovePlatform RPC.
func (s *simulation) handleEvent(ev kb.Event) {
	if ev.Type != kb.EventPlatformRemoved {
		return
	}
	id := ev.Platform.ID
	if err := s.motion.RemovePlatform(id); err != nil {
		s.log.Warn(context.Background(), "platform was not tracked", logging.String("platform", id), logging.Err(err))
	}
	s.collector.DeletePlatform(id)

	s.mu.Lock()
	defer s.mu.Unlock()
	for l := range s.visible {
		if l.platform == id {
			delete(s.visible, l)
		}
	}
	s.log.Info(context.Background(), "platform retired", logging.String("platform", id))
}

// platformFromConfig builds the platform for one configured satellite. A TLE
// either seeds an explicit ground track or, with SGP4 set, keeps the platform
// on the SGP4 model.
func platformFromConfig(s config.Satellite, start time.Time) (*model.PlatformDefinition, error) {
	p := &model.PlatformDefinition{
		ID:           s.ID,
		Name:         s.Name,
		Type:         "SATELLITE",
		MotionSource: model.MotionSourceGroundTrack,
	}
	if s.HasTLE() {
		id, err := core.NoradIDFromTLE(s.TLE1)
		if err != nil {
			return nil, err
		}
		p.NoradID = id
	}
	switch {
	case s.SGP4:
		p.MotionSource = model.MotionSourceSpacetrack
	case s.HasTLE():
		track, err := core.SeedFromTLE(s.TLE1, s.TLE2, start)
		if err != nil {
			return nil, fmt.Errorf("seed from TLE: %w", err)
		}
		track.CompensateRotation = s.CompensateRotation
		p.Track = track
	default:
		p.Track = model.GroundTrack{
			Position:           groundtrack.GeoPosition{Latitude: s.Latitude, Longitude: s.Longitude},
			Bearing:            groundtrack.WrapBearing(s.Bearing),
			AltitudeM:          s.AltitudeM,
			SpeedMps:           s.SpeedMps,
			CompensateRotation: s.CompensateRotation,
		}
	}
	return p, nil
}

// step advances every platform to simTime, logs its new state and reports
// ground-station visibility changes.
func (s *simulation) step(ctx context.Context, simTime time.Time) error {
	err := s.motion.UpdatePositions(ctx, simTime)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticks++

	stamp := simTime.Format(time.RFC3339)
	platforms := s.store.ListPlatforms()
	for _, p := range platforms {
		s.log.Info(ctx, "platform position",
			logging.String("sim_time", stamp),
			logging.String("platform", p.ID),
			logging.Float64("latitude", p.Track.Position.Latitude),
			logging.Float64("longitude", p.Track.Position.Longitude),
			logging.Float64("bearing", p.Track.Bearing),
		)
	}

	for _, gs := range s.store.ListGroundStations() {
		for _, p := range platforms {
			v := core.Observe(gs, p)
			s.collector.SetStationElevation(gs.ID, p.ID, v.ElevationDeg)

			key := link{station: gs.ID, platform: p.ID}
			if v.Visible == s.visible[key] {
				continue
			}
			s.visible[key] = v.Visible
			msg := "loss of signal"
			if v.Visible {
				msg = "acquisition of signal"
			}
			s.log.Info(ctx, msg,
				logging.String("sim_time", stamp),
				logging.String("station", gs.ID),
				logging.String("platform", p.ID),
				logging.Float64("elevation_deg", v.ElevationDeg),
				logging.Float64("range_m", v.RangeM),
			)
		}
	}
	return err
}

func serveMetrics(ctx context.Context, addr string, collector *observability.Collector, log logging.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn(ctx, "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(ctx, "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}

func serveGRPC(ctx context.Context, addr string, store rpc.PlatformStore, clock timectrl.SimClock, collector *observability.Collector, log logging.Logger) (func(), error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen for gRPC on %s: %w", addr, err)
	}

	server, hs := rpc.NewServer(
		rpc.NewService(store, clock, log),
		rpc.WithLogger(log),
		rpc.WithCollector(collector),
	)

	log.Info(ctx, "starting gRPC server", logging.String("addr", addr))
	go func() {
		if err := server.Serve(lis); err != nil {
			log.Error(ctx, "gRPC server exited", logging.Err(err))
		}
	}()

	return func() {
		hs.SetServingStatus(rpc.ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
		server.GracefulStop()
	}, nil
}
