// Command groundtrack propagates a single ground track for a number of ticks
// and prints one JSON object per tick.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/signalsfoundry/groundtrack-simulator/groundtrack"
	"github.com/signalsfoundry/groundtrack-simulator/internal/logging"
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(1)
	}
}

type tickLine struct {
	Tick int `json:"tick"`
	groundtrack.Result
}

func run(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("groundtrack", flag.ContinueOnError)
	fs.SetOutput(stderr)

	lat := fs.Float64("lat", 0, "start latitude in degrees")
	lon := fs.Float64("lon", 0, "start longitude in degrees")
	bearing := fs.Float64("bearing", 0, "start heading in degrees clockwise from north")
	altitude := fs.Float64("altitude", 500000, "orbit altitude in metres")
	distance := fs.Float64("distance", 0, "orbital distance per tick in metres; overrides -speed")
	speed := fs.Float64("speed", 7600, "orbital speed in metres per second")
	tick := fs.Duration("tick", time.Second, "tick length")
	ticks := fs.Int("ticks", 1, "number of ticks to propagate")
	rotation := fs.Bool("rotation", true, "compensate for Earth's rotation")
	logLevel := fs.String("log-level", "warn", "log level for diagnostics on stderr")

	if err := fs.Parse(args); err != nil {
		return err
	}

	log := logging.New(logging.Config{Level: *logLevel, Output: stderr})
	ctx, log := logging.WithRunLogger(context.Background(), log)

	if *ticks < 1 {
		err := fmt.Errorf("ticks must be positive, got %d", *ticks)
		log.Error(ctx, "invalid arguments", logging.Err(err))
		return err
	}

	perTick := groundtrack.DistancePerTick(*speed, *tick)
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "distance" {
			perTick = *distance
		}
	})
	prop := groundtrack.Propagator{
		AltitudeM:          *altitude,
		DistanceM:          perTick,
		UpdateSpeed:        tick.Seconds(),
		CompensateRotation: *rotation,
	}
	log.Debug(ctx, "propagating",
		logging.Float64("distance_per_tick_m", perTick),
		logging.Float64("update_speed", prop.UpdateSpeed),
		logging.Int("ticks", *ticks),
	)

	track, err := prop.Track(groundtrack.GeoPosition{Latitude: *lat, Longitude: *lon}, *bearing, *ticks)
	enc := json.NewEncoder(stdout)
	for i, res := range track {
		if encErr := enc.Encode(tickLine{Tick: i + 1, Result: res}); encErr != nil {
			return encErr
		}
	}
	if err != nil {
		log.Error(ctx, "propagation failed", logging.Err(err))
		return err
	}
	return nil
}
