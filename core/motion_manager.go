package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/groundtrack-simulator/internal/logging"
	"github.com/signalsfoundry/groundtrack-simulator/model"
)

const tracerName = "github.com/signalsfoundry/groundtrack-simulator/core"

// PositionUpdater receives platform state after each propagation.
type PositionUpdater interface {
	UpdatePlatformTrack(id string, track model.GroundTrack, pos model.Motion) error
}

// Recorder observes propagation outcomes, typically backed by metrics.
type Recorder interface {
	ObservePropagation(platformID string, elapsed time.Duration, err error)
	SetPlatformTrack(platformID string, track model.GroundTrack)
}

// TLEFetcher returns the TLE lines for a platform, or empty strings.
type TLEFetcher func(p *model.PlatformDefinition) (line1, line2 string)

// MotionManager owns one MotionModel per platform and advances all of them
// on every tick.
type MotionManager struct {
	mu        sync.Mutex
	platforms map[string]*managedPlatform

	updater PositionUpdater
	rec     Recorder
	tle     TLEFetcher
	log     logging.Logger
	tracer  trace.Tracer
}

type managedPlatform struct {
	def   model.PlatformDefinition
	model MotionModel
}

// MotionOption configures a MotionManager.
type MotionOption func(*MotionManager)

// WithPositionUpdater publishes every successful update, e.g. into the KB.
func WithPositionUpdater(u PositionUpdater) MotionOption {
	return func(m *MotionManager) { m.updater = u }
}

// WithRecorder reports propagation outcomes.
func WithRecorder(r Recorder) MotionOption {
	return func(m *MotionManager) { m.rec = r }
}

// WithTLEFetcher supplies TLEs for MotionSourceSpacetrack platforms.
func WithTLEFetcher(f TLEFetcher) MotionOption {
	return func(m *MotionManager) { m.tle = f }
}

// WithLogger sets the logger used for per-platform failures.
func WithLogger(l logging.Logger) MotionOption {
	return func(m *MotionManager) {
		if l != nil {
			m.log = l
		}
	}
}

// NewMotionManager constructs an empty manager.
func NewMotionManager(opts ...MotionOption) *MotionManager {
	m := &MotionManager{
		platforms: make(map[string]*managedPlatform),
		log:       logging.Noop(),
		tracer:    otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AddPlatform registers p and picks its motion model.
func (m *MotionManager) AddPlatform(p *model.PlatformDefinition) error {
	if p == nil || p.ID == "" {
		return fmt.Errorf("platform ID must be set")
	}
	var tle1, tle2 string
	if m.tle != nil {
		tle1, tle2 = m.tle(p)
	}
	mm, err := NewMotionModel(p, tle1, tle2)
	if err != nil {
		return fmt.Errorf("motion model for %q: %w", p.ID, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.platforms[p.ID]; exists {
		return fmt.Errorf("platform %q already tracked", p.ID)
	}
	m.platforms[p.ID] = &managedPlatform{def: *p, model: mm}
	return nil
}

// RemovePlatform stops tracking the platform.
func (m *MotionManager) RemovePlatform(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.platforms[id]; !ok {
		return fmt.Errorf("platform %q not tracked", id)
	}
	delete(m.platforms, id)
	return nil
}

// UpdatePositions advances every platform to simTime. A failing platform
// does not stop the others; all failures are joined into the returned error.
func (m *MotionManager) UpdatePositions(ctx context.Context, simTime time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ctx, span := m.tracer.Start(ctx, "motion.UpdatePositions", trace.WithAttributes(
		attribute.Int("platforms", len(m.platforms)),
		attribute.String("sim_time", simTime.Format(time.RFC3339Nano)),
	))
	defer span.End()

	ids := make([]string, 0, len(m.platforms))
	for id := range m.platforms {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var errs []error
	for _, id := range ids {
		mp := m.platforms[id]
		start := time.Now()
		err := mp.model.UpdatePosition(simTime, &mp.def)
		if m.rec != nil {
			m.rec.ObservePropagation(id, time.Since(start), err)
		}
		if err != nil {
			m.log.Warn(ctx, "platform update failed", logging.String("platform", id), logging.Err(err))
			errs = append(errs, err)
			continue
		}
		if m.rec != nil {
			m.rec.SetPlatformTrack(id, mp.def.Track)
		}
		if m.updater != nil {
			if err := m.updater.UpdatePlatformTrack(id, mp.def.Track, mp.def.Coordinates); err != nil {
				errs = append(errs, fmt.Errorf("publish %s: %w", id, err))
			}
		}
	}

	err := errors.Join(errs...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "platform update failed")
	}
	return err
}
