package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/signalsfoundry/groundtrack-simulator/groundtrack"
)

func TestNew(t *testing.T) {
	t.Run("new config with all defaults set", func(t *testing.T) {
		conf, err := New()
		if err != nil {
			t.Fatalf("failed to load config: %s", err)
		}
		if conf.Log.Level != "info" || conf.Log.Format != "text" {
			t.Errorf("unexpected log defaults: %+v", conf.Log)
		}
		if conf.Simulation.Tick != time.Second {
			t.Errorf("expected tick to be 1s, got %s", conf.Simulation.Tick)
		}
		if conf.Simulation.Duration != time.Minute {
			t.Errorf("expected duration to be 1m, got %s", conf.Simulation.Duration)
		}
		if conf.Metrics.Addr != "" {
			t.Errorf("expected metrics to be disabled by default, got %q", conf.Metrics.Addr)
		}
		if conf.Tracing.Exporter != "stdout" || conf.TracingSampleRatio() != 1 {
			t.Errorf("unexpected tracing defaults: %+v", conf.Tracing)
		}
	})
	t.Run("environment overrides defaults", func(t *testing.T) {
		t.Setenv("GROUNDTRACK_SIMULATION_TICK", "250ms")
		t.Setenv("GROUNDTRACK_LOG_FORMAT", "json")
		conf, err := New()
		if err != nil {
			t.Fatalf("failed to load config: %s", err)
		}
		if conf.Simulation.Tick != 250*time.Millisecond {
			t.Errorf("expected tick to be 250ms, got %s", conf.Simulation.Tick)
		}
		if conf.Log.Format != "json" {
			t.Errorf("expected json log format, got %q", conf.Log.Format)
		}
	})
	t.Run("invalid values from env fail", func(t *testing.T) {
		t.Setenv("GROUNDTRACK_TRACING_EXPORTER", "zipkin")
		if _, err := New(); err == nil {
			t.Error("expected config to fail, but didn't")
		}
	})
	t.Run("negative tick fails", func(t *testing.T) {
		t.Setenv("GROUNDTRACK_SIMULATION_TICK", "-1s")
		if _, err := New(); err == nil {
			t.Error("expected config to fail, but didn't")
		}
	})
}

func TestNewFromFile(t *testing.T) {
	t.Run("reading the sample scenario succeeds", func(t *testing.T) {
		conf, err := NewFromFile("../../configs/scenario.yaml")
		if err != nil {
			t.Fatalf("failed to load config: %s", err)
		}
		if len(conf.Satellites) != 3 {
			t.Fatalf("expected 3 satellites, got %d", len(conf.Satellites))
		}
		leo := conf.Satellites[0]
		if leo.ID != "leo-1" || leo.AltitudeM != 550000 || !leo.CompensateRotation {
			t.Errorf("unexpected first satellite: %+v", leo)
		}
		if !conf.Satellites[2].HasTLE() {
			t.Errorf("expected third satellite to carry a TLE")
		}
		if len(conf.GroundStations) != 2 || conf.GroundStations[0].MinElevationDeg != 5 {
			t.Errorf("unexpected ground stations: %+v", conf.GroundStations)
		}
		if conf.GRPC.Addr != ":50051" {
			t.Errorf("expected grpc addr :50051, got %q", conf.GRPC.Addr)
		}
		if conf.Simulation.Name != "sample-leo" {
			t.Errorf("expected scenario name sample-leo, got %q", conf.Simulation.Name)
		}
		if conf.Metrics.Addr != ":9090" {
			t.Errorf("expected metrics addr :9090, got %q", conf.Metrics.Addr)
		}
	})
	t.Run("explicit zero values survive loading", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "zero.yaml")
		data := "metrics:\n  addr: \"\"\ntracing:\n  sample_ratio: 0\n"
		if err := os.WriteFile(file, []byte(data), 0o600); err != nil {
			t.Fatalf("failed to write config: %s", err)
		}
		conf, err := NewFromFile(file)
		if err != nil {
			t.Fatalf("failed to load config: %s", err)
		}
		if conf.Metrics.Addr != "" {
			t.Errorf("expected metrics to stay disabled, got %q", conf.Metrics.Addr)
		}
		if conf.Tracing.SampleRatio == nil || conf.TracingSampleRatio() != 0 {
			t.Errorf("expected sample ratio 0, got %v", conf.Tracing.SampleRatio)
		}
	})
	t.Run("out of range sample ratio fails", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "ratio.yaml")
		if err := os.WriteFile(file, []byte("tracing:\n  sample_ratio: 1.5\n"), 0o600); err != nil {
			t.Fatalf("failed to write config: %s", err)
		}
		if _, err := NewFromFile(file); err == nil {
			t.Error("expected config to fail, but didn't")
		}
	})
	t.Run("reading config from non-existent file fails", func(t *testing.T) {
		if _, err := NewFromFile("../../configs/non-existent.yaml"); err == nil {
			t.Error("expected config to fail, but didn't")
		}
	})
	t.Run("reading invalid scenario fails", func(t *testing.T) {
		_, err := NewFromFile("testdata/invalid.yaml")
		if !errors.Is(err, groundtrack.ErrInvalidPosition) {
			t.Errorf("expected ErrInvalidPosition, got %v", err)
		}
	})
}

func TestValidateSatellites(t *testing.T) {
	base := func() *Config {
		conf, err := New()
		if err != nil {
			t.Fatalf("failed to load config: %s", err)
		}
		return conf
	}

	conf := base()
	conf.Satellites = []Satellite{{ID: "sat", AltitudeM: 500000}}
	if err := conf.Validate(); err != nil {
		t.Fatalf("valid satellite rejected: %v", err)
	}
	if conf.Satellites[0].Name != "sat" {
		t.Errorf("expected name to default to id, got %q", conf.Satellites[0].Name)
	}

	conf = base()
	conf.Satellites = []Satellite{{ID: "sat", AltitudeM: -groundtrack.EarthRadiusM}}
	if err := conf.Validate(); !errors.Is(err, groundtrack.ErrInvalidAltitude) {
		t.Errorf("expected ErrInvalidAltitude, got %v", err)
	}

	conf = base()
	conf.Satellites = []Satellite{{ID: "sat", TLE1: "1 x"}}
	if err := conf.Validate(); err == nil {
		t.Error("expected half a TLE to fail")
	}

	conf = base()
	conf.Satellites = []Satellite{{ID: "sat", SGP4: true}}
	if err := conf.Validate(); err == nil {
		t.Error("expected sgp4 without TLE to fail")
	}

	conf = base()
	conf.GroundStations = []GroundStation{{ID: "gs"}, {ID: "gs"}}
	if err := conf.Validate(); err == nil {
		t.Error("expected duplicate ground station to fail")
	}
}
