package core

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/signalsfoundry/groundtrack-simulator/groundtrack"
	"github.com/signalsfoundry/groundtrack-simulator/model"
)

// ISS sample TLE.
const (
	issTLE1 = "1 25544U 98067A   21275.59097222  .00000204  00000-0  10270-4 0  9990"
	issTLE2 = "2 25544  51.6459 115.9059 0001817  61.3028  35.9198 15.49370953257760"
)

type capturingUpdater struct {
	mu     sync.Mutex
	tracks map[string]model.GroundTrack
	calls  map[string]int
}

func (c *capturingUpdater) UpdatePlatformTrack(id string, track model.GroundTrack, pos model.Motion) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tracks == nil {
		c.tracks = make(map[string]model.GroundTrack)
		c.calls = make(map[string]int)
	}
	c.tracks[id] = track
	c.calls[id]++
	return nil
}

func (c *capturingUpdater) snapshot(id string) (model.GroundTrack, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tracks[id], c.calls[id]
}

type capturingRecorder struct {
	ok, failed int
}

func (r *capturingRecorder) ObservePropagation(_ string, _ time.Duration, err error) {
	if err != nil {
		r.failed++
		return
	}
	r.ok++
}

func (r *capturingRecorder) SetPlatformTrack(string, model.GroundTrack) {}

func TestStaticMotionModel_NoChange(t *testing.T) {
	m := &StaticMotionModel{}
	p := &model.PlatformDefinition{
		Coordinates: model.Motion{X: 1, Y: 2, Z: 3},
	}

	t1 := time.Now().UTC()
	if err := m.UpdatePosition(t1, p); err != nil {
		t.Fatalf("UpdatePosition: %v", err)
	}
	if p.Coordinates != (model.Motion{X: 1, Y: 2, Z: 3}) {
		t.Fatalf("static motion should not change coordinates, got %#v", p.Coordinates)
	}
}

func TestGroundTrackMotionModel_AdvancesByElapsedTime(t *testing.T) {
	m := NewGroundTrackMotionModel()
	p := &model.PlatformDefinition{
		ID: "sat1",
		Track: model.GroundTrack{
			Position:  groundtrack.GeoPosition{Latitude: 0, Longitude: 0},
			Bearing:   90,
			AltitudeM: 550000,
			SpeedMps:  7600,
		},
	}

	t0 := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	if err := m.UpdatePosition(t0, p); err != nil {
		t.Fatalf("first UpdatePosition: %v", err)
	}
	if p.Track.Position != (groundtrack.GeoPosition{}) {
		t.Fatalf("first update should only anchor the clock, moved to %+v", p.Track.Position)
	}
	if math.Abs(p.Coordinates.X-groundtrack.EarthRadiusM-550000) > 1e-6 {
		t.Fatalf("anchored ECEF X = %v, want R+altitude", p.Coordinates.X)
	}

	if err := m.UpdatePosition(t0.Add(10*time.Second), p); err != nil {
		t.Fatalf("second UpdatePosition: %v", err)
	}
	want, err := groundtrack.Propagate(groundtrack.Input{
		Position:    groundtrack.GeoPosition{},
		Bearing:     90,
		AltitudeM:   550000,
		DistanceM:   76000,
		UpdateSpeed: 10,
	})
	if err != nil {
		t.Fatalf("Propagate: %v", err)
	}
	if p.Track.Position != want.Position || p.Track.Bearing != want.Bearing {
		t.Fatalf("track = %+v, want %+v", p.Track, want)
	}

	// Time going backwards is ignored.
	before := p.Track
	if err := m.UpdatePosition(t0, p); err != nil {
		t.Fatalf("UpdatePosition in the past: %v", err)
	}
	if p.Track != before {
		t.Fatalf("track changed on stale tick: %+v -> %+v", before, p.Track)
	}
}

func TestGroundTrackMotionModel_PropagatesErrors(t *testing.T) {
	m := NewGroundTrackMotionModel()
	p := &model.PlatformDefinition{
		ID: "bad",
		Track: model.GroundTrack{
			Position:  groundtrack.GeoPosition{Latitude: 95},
			AltitudeM: 550000,
			SpeedMps:  7600,
		},
	}
	t0 := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	_ = m.UpdatePosition(t0, p)
	err := m.UpdatePosition(t0.Add(time.Second), p)
	if !errors.Is(err, groundtrack.ErrInvalidPosition) {
		t.Fatalf("UpdatePosition error = %v, want ErrInvalidPosition", err)
	}
}

// We don't assert exact orbital values (those belong to go-satellite);
// we just ensure that positions differ at distinct times.
func TestOrbitalSGP4MotionModel_ChangesOverTime(t *testing.T) {
	m, err := NewOrbitalModelFromTLE(issTLE1, issTLE2)
	if err != nil {
		t.Fatalf("NewOrbitalModelFromTLE: %v", err)
	}
	p := &model.PlatformDefinition{}

	t1 := time.Date(2021, 10, 2, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(5 * time.Minute)

	if err := m.UpdatePosition(t1, p); err != nil {
		t.Fatalf("UpdatePosition: %v", err)
	}
	first := p.Coordinates

	if err := m.UpdatePosition(t2, p); err != nil {
		t.Fatalf("UpdatePosition: %v", err)
	}
	if first == p.Coordinates {
		t.Fatalf("expected orbital position to change over time, got %+v at both times", first)
	}
	if math.Abs(p.Track.Position.Latitude) > 52 {
		t.Fatalf("ISS latitude %v exceeds its inclination", p.Track.Position.Latitude)
	}
}

func TestNewOrbitalModelFromTLE_RejectsMalformed(t *testing.T) {
	if _, err := NewOrbitalModelFromTLE("1 short", issTLE2); err == nil {
		t.Fatalf("expected malformed line1 to be rejected")
	}
	if _, err := NewOrbitalModelFromTLE(issTLE2, issTLE2); err == nil {
		t.Fatalf("expected swapped lines to be rejected")
	}
}

func TestNoradIDFromTLE(t *testing.T) {
	id, err := NoradIDFromTLE(issTLE1)
	if err != nil {
		t.Fatalf("NoradIDFromTLE: %v", err)
	}
	if id != 25544 {
		t.Fatalf("catalog number = %d, want 25544", id)
	}
	for _, line := range []string{"", "1 25", issTLE2, "1 ABCDEU 98067A"} {
		if _, err := NoradIDFromTLE(line); err == nil {
			t.Errorf("NoradIDFromTLE(%q) should fail", line)
		}
	}
}

func TestSeedFromTLE(t *testing.T) {
	at := time.Date(2021, 10, 2, 0, 0, 0, 0, time.UTC)
	track, err := SeedFromTLE(issTLE1, issTLE2, at)
	if err != nil {
		t.Fatalf("SeedFromTLE: %v", err)
	}
	if track.AltitudeM < 300e3 || track.AltitudeM > 500e3 {
		t.Fatalf("ISS altitude = %v m, want 300-500 km", track.AltitudeM)
	}
	if track.SpeedMps < 7000 || track.SpeedMps > 8000 {
		t.Fatalf("ISS speed = %v m/s, want ~7.6 km/s", track.SpeedMps)
	}
	if track.Bearing < 0 || track.Bearing >= 360 {
		t.Fatalf("bearing %v out of range", track.Bearing)
	}
}

func TestMotionManager_AddUpdateAndRemove(t *testing.T) {
	sat := &model.PlatformDefinition{
		ID:           "sat1",
		MotionSource: model.MotionSourceSpacetrack,
	}
	track := &model.PlatformDefinition{
		ID:           "gt1",
		MotionSource: model.MotionSourceGroundTrack,
		Track: model.GroundTrack{
			Position:  groundtrack.GeoPosition{Latitude: 10, Longitude: 20},
			Bearing:   45,
			AltitudeM: 550000,
			SpeedMps:  7600,
		},
	}
	ground := &model.PlatformDefinition{
		ID:          "ground1",
		Coordinates: model.Motion{X: 1, Y: 2, Z: 3},
	}

	updater := &capturingUpdater{}
	rec := &capturingRecorder{}
	mm := NewMotionManager(WithTLEFetcher(func(pd *model.PlatformDefinition) (string, string) {
		if pd.ID == sat.ID {
			return issTLE1, issTLE2
		}
		return "", ""
	}), WithPositionUpdater(updater), WithRecorder(rec))

	for _, p := range []*model.PlatformDefinition{sat, track, ground} {
		if err := mm.AddPlatform(p); err != nil {
			t.Fatalf("AddPlatform %s: %v", p.ID, err)
		}
	}
	if err := mm.AddPlatform(sat); err == nil {
		t.Fatalf("expected duplicate AddPlatform error")
	}

	ctx := context.Background()
	t1 := time.Date(2021, 10, 2, 0, 0, 0, 0, time.UTC)
	if err := mm.UpdatePositions(ctx, t1); err != nil {
		t.Fatalf("UpdatePositions first tick: %v", err)
	}
	firstTrack, _ := updater.snapshot(track.ID)

	t2 := t1.Add(time.Minute)
	if err := mm.UpdatePositions(ctx, t2); err != nil {
		t.Fatalf("UpdatePositions second tick: %v", err)
	}
	secondTrack, trackCalls := updater.snapshot(track.ID)
	if trackCalls != 2 {
		t.Fatalf("ground-track platform published %d times, want 2", trackCalls)
	}
	if firstTrack.Position == secondTrack.Position {
		t.Fatalf("expected ground track to move, stayed at %+v", secondTrack.Position)
	}
	if rec.ok != 6 || rec.failed != 0 {
		t.Fatalf("recorder ok=%d failed=%d, want 6/0", rec.ok, rec.failed)
	}

	if err := mm.RemovePlatform(ground.ID); err != nil {
		t.Fatalf("RemovePlatform: %v", err)
	}
	if err := mm.RemovePlatform(ground.ID); err == nil {
		t.Fatalf("expected second RemovePlatform to fail")
	}
	_, groundCalls := updater.snapshot(ground.ID)
	if err := mm.UpdatePositions(ctx, t2.Add(time.Minute)); err != nil {
		t.Fatalf("UpdatePositions after removal: %v", err)
	}
	if _, calls := updater.snapshot(ground.ID); calls != groundCalls {
		t.Fatalf("removed platform should not be updated, got calls %d -> %d", groundCalls, calls)
	}
}

func TestMotionManager_FailingPlatformDoesNotBlockOthers(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := trace.NewTracerProvider(trace.WithSyncer(exporter))

	updater := &capturingUpdater{}
	mm := NewMotionManager(WithPositionUpdater(updater))
	mm.tracer = tp.Tracer(tracerName)

	good := &model.PlatformDefinition{
		ID:           "good",
		MotionSource: model.MotionSourceGroundTrack,
		Track:        model.GroundTrack{AltitudeM: 500000, SpeedMps: 7000, Bearing: 10},
	}
	bad := &model.PlatformDefinition{
		ID:           "bad",
		MotionSource: model.MotionSourceGroundTrack,
		Track:        model.GroundTrack{AltitudeM: -2 * groundtrack.EarthRadiusM, SpeedMps: 7000},
	}
	for _, p := range []*model.PlatformDefinition{good, bad} {
		if err := mm.AddPlatform(p); err != nil {
			t.Fatalf("AddPlatform %s: %v", p.ID, err)
		}
	}

	ctx := context.Background()
	t0 := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	if err := mm.UpdatePositions(ctx, t0); err != nil {
		t.Fatalf("anchor tick: %v", err)
	}
	err := mm.UpdatePositions(ctx, t0.Add(time.Second))
	if !errors.Is(err, groundtrack.ErrInvalidAltitude) {
		t.Fatalf("UpdatePositions error = %v, want ErrInvalidAltitude", err)
	}
	if _, calls := updater.snapshot("good"); calls != 2 {
		t.Fatalf("good platform published %d times, want 2", calls)
	}

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("recorded %d spans, want 2", len(spans))
	}
	if spans[1].Name != "motion.UpdatePositions" || len(spans[1].Events) == 0 {
		t.Fatalf("second span %q should carry the error event", spans[1].Name)
	}
}
