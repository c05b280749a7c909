package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kkyr/fig"

	"github.com/signalsfoundry/groundtrack-simulator/groundtrack"
)

const configEnv = "GROUNDTRACK"

// Config is the simulator scenario and runtime configuration.
type Config struct {
	Log struct {
		// Allowed values: debug, info, warn, error
		Level string `fig:"level" default:"info"`
		// Allowed values: text, json
		Format string `fig:"format" default:"text"`
	} `fig:"log"`

	Simulation struct {
		// Name labels the run in logs and exported traces.
		Name string `fig:"name"`
		// Start of simulation time; zero means wall-clock now.
		Start    time.Time     `fig:"start"`
		Tick     time.Duration `fig:"tick" default:"1s"`
		Duration time.Duration `fig:"duration" default:"1m"`
		// Realtime paces ticks by the wall clock instead of stepping ahead.
		Realtime bool `fig:"realtime"`
	} `fig:"simulation"`

	Metrics struct {
		// Empty disables the /metrics endpoint.
		Addr string `fig:"addr"`
	} `fig:"metrics"`

	GRPC struct {
		// Empty disables the gRPC service.
		Addr string `fig:"addr"`
	} `fig:"grpc"`

	Tracing struct {
		Enabled bool `fig:"enabled"`
		// Allowed values: stdout, otlp
		Exporter    string `fig:"exporter" default:"stdout"`
		Endpoint    string `fig:"endpoint"`
		ServiceName string `fig:"service_name" default:"groundtrack-simulator"`
		// Unset samples every trace; 0 is a valid explicit value.
		SampleRatio *float64 `fig:"sample_ratio"`
	} `fig:"tracing"`

	Satellites     []Satellite     `fig:"satellites"`
	GroundStations []GroundStation `fig:"ground_stations"`
}

// Satellite describes one propagated platform. Either the explicit ground
// track fields or a TLE seed are used; a TLE wins when both lines are set.
type Satellite struct {
	ID                 string  `fig:"id"`
	Name               string  `fig:"name"`
	Latitude           float64 `fig:"latitude"`
	Longitude          float64 `fig:"longitude"`
	Bearing            float64 `fig:"bearing"`
	AltitudeM          float64 `fig:"altitude_m"`
	SpeedMps           float64 `fig:"speed_mps"`
	CompensateRotation bool    `fig:"compensate_rotation"`
	TLE1               string  `fig:"tle1"`
	TLE2               string  `fig:"tle2"`
	// SGP4 keeps the platform on the SGP4 model instead of seeding a ground
	// track from the TLE.
	SGP4 bool `fig:"sgp4"`
}

// HasTLE reports whether both TLE lines are configured.
func (s Satellite) HasTLE() bool {
	return s.TLE1 != "" && s.TLE2 != ""
}

// GroundStation is a fixed observer used for visibility reports.
type GroundStation struct {
	ID              string  `fig:"id"`
	Name            string  `fig:"name"`
	Latitude        float64 `fig:"latitude"`
	Longitude       float64 `fig:"longitude"`
	AltitudeM       float64 `fig:"altitude_m"`
	MinElevationDeg float64 `fig:"min_elevation_deg"`
}

// NewFromFile loads the configuration from file, applying GROUNDTRACK_*
// environment overrides.
func NewFromFile(file string) (*Config, error) {
	conf := new(Config)
	if _, err := os.Stat(file); err != nil {
		return conf, fmt.Errorf("failed to read config: %w", err)
	}
	dir, name := filepath.Split(file)
	if dir == "" {
		dir = "."
	}
	if err := fig.Load(conf, fig.Dirs(dir), fig.File(name), fig.UseEnv(configEnv)); err != nil {
		return conf, fmt.Errorf("failed to load config: %w", err)
	}
	return conf, conf.Validate()
}

// New loads defaults and environment overrides only.
func New() (*Config, error) {
	conf := new(Config)
	if err := fig.Load(conf, fig.AllowNoFile(), fig.UseEnv(configEnv)); err != nil {
		return conf, fmt.Errorf("failed to load config: %w", err)
	}
	return conf, conf.Validate()
}

// TracingSampleRatio returns the configured sampling ratio, 1 when unset.
func (c *Config) TracingSampleRatio() float64 {
	if c.Tracing.SampleRatio == nil {
		return 1
	}
	return *c.Tracing.SampleRatio
}

// Validate checks value ranges and fills per-entry defaults.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("invalid log format: %s", c.Log.Format)
	}
	if c.Simulation.Tick <= 0 {
		return fmt.Errorf("invalid tick: %s", c.Simulation.Tick)
	}
	if c.Simulation.Duration < 0 {
		return fmt.Errorf("invalid duration: %s", c.Simulation.Duration)
	}
	if c.Tracing.Exporter != "stdout" && c.Tracing.Exporter != "otlp" {
		return fmt.Errorf("invalid tracing exporter: %s", c.Tracing.Exporter)
	}
	if r := c.TracingSampleRatio(); r < 0 || r > 1 {
		return fmt.Errorf("invalid tracing sample ratio: %g", r)
	}

	var errs []error
	seen := make(map[string]bool)
	for i := range c.Satellites {
		s := &c.Satellites[i]
		if s.ID == "" {
			errs = append(errs, fmt.Errorf("satellite %d: id is required", i))
			continue
		}
		if seen[s.ID] {
			errs = append(errs, fmt.Errorf("satellite %q: duplicate id", s.ID))
		}
		seen[s.ID] = true
		if s.Name == "" {
			s.Name = s.ID
		}
		if (s.TLE1 == "") != (s.TLE2 == "") {
			errs = append(errs, fmt.Errorf("satellite %q: both TLE lines are required", s.ID))
		}
		if s.SGP4 && !s.HasTLE() {
			errs = append(errs, fmt.Errorf("satellite %q: sgp4 requires a TLE", s.ID))
		}
		if s.HasTLE() {
			continue
		}
		if err := checkPosition(s.Latitude, s.Longitude); err != nil {
			errs = append(errs, fmt.Errorf("satellite %q: %w", s.ID, err))
		}
		if s.AltitudeM <= -groundtrack.EarthRadiusM {
			errs = append(errs, fmt.Errorf("satellite %q: %w: %g", s.ID, groundtrack.ErrInvalidAltitude, s.AltitudeM))
		}
		if s.SpeedMps < 0 {
			errs = append(errs, fmt.Errorf("satellite %q: negative speed %g", s.ID, s.SpeedMps))
		}
	}

	seen = make(map[string]bool)
	for i := range c.GroundStations {
		gs := &c.GroundStations[i]
		if gs.ID == "" {
			errs = append(errs, fmt.Errorf("ground station %d: id is required", i))
			continue
		}
		if seen[gs.ID] {
			errs = append(errs, fmt.Errorf("ground station %q: duplicate id", gs.ID))
		}
		seen[gs.ID] = true
		if gs.Name == "" {
			gs.Name = gs.ID
		}
		if err := checkPosition(gs.Latitude, gs.Longitude); err != nil {
			errs = append(errs, fmt.Errorf("ground station %q: %w", gs.ID, err))
		}
	}
	return errors.Join(errs...)
}

func checkPosition(lat, lon float64) error {
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return fmt.Errorf("%w: (%g, %g)", groundtrack.ErrInvalidPosition, lat, lon)
	}
	return nil
}
