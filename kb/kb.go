package kb

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/signalsfoundry/groundtrack-simulator/model"
)

var (
	// ErrPlatformExists is returned when adding a platform whose ID is taken.
	ErrPlatformExists = errors.New("platform already exists")
	// ErrPlatformNotFound is returned for operations on unknown platform IDs.
	ErrPlatformNotFound = errors.New("platform not found")
	// ErrStationExists is returned when adding a ground station whose ID is taken.
	ErrStationExists = errors.New("ground station already exists")
)

// EventType indicates what kind of change happened in the KB.
type EventType int

const (
	EventPlatformUpdated EventType = iota
	EventPlatformRemoved
)

// Event is emitted to subscribers when something interesting happens.
type Event struct {
	Type     EventType
	Platform model.PlatformDefinition
}

// KnowledgeBase is an in-memory, thread-safe store for platforms and ground
// stations.
type KnowledgeBase struct {
	mu sync.RWMutex

	platforms map[string]*model.PlatformDefinition
	stations  map[string]*model.GroundStation

	subs   map[int]func(Event)
	nextID int
}

// NewKnowledgeBase constructs an empty KB.
func NewKnowledgeBase() *KnowledgeBase {
	return &KnowledgeBase{
		platforms: make(map[string]*model.PlatformDefinition),
		stations:  make(map[string]*model.GroundStation),
		subs:      make(map[int]func(Event)),
	}
}

// AddPlatform adds a new platform. It returns an error if the ID already exists.
func (kb *KnowledgeBase) AddPlatform(p *model.PlatformDefinition) error {
	if p == nil || p.ID == "" {
		return fmt.Errorf("platform ID must be set")
	}
	kb.mu.Lock()
	defer kb.mu.Unlock()

	if _, exists := kb.platforms[p.ID]; exists {
		return fmt.Errorf("%w: %q", ErrPlatformExists, p.ID)
	}
	cp := *p
	kb.platforms[p.ID] = &cp
	return nil
}

// GetPlatform returns a copy of the platform with the given ID.
func (kb *KnowledgeBase) GetPlatform(id string) (model.PlatformDefinition, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	p, ok := kb.platforms[id]
	if !ok {
		return model.PlatformDefinition{}, fmt.Errorf("%w: %q", ErrPlatformNotFound, id)
	}
	return *p, nil
}

// ListPlatforms returns a snapshot of all platforms ordered by ID.
func (kb *KnowledgeBase) ListPlatforms() []model.PlatformDefinition {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	res := make([]model.PlatformDefinition, 0, len(kb.platforms))
	for _, p := range kb.platforms {
		res = append(res, *p)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

// RemovePlatform deletes a platform and notifies subscribers.
func (kb *KnowledgeBase) RemovePlatform(id string) error {
	kb.mu.Lock()
	p, ok := kb.platforms[id]
	if !ok {
		kb.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrPlatformNotFound, id)
	}
	delete(kb.platforms, id)
	event := Event{Type: EventPlatformRemoved, Platform: *p}
	subs := kb.subscribersLocked()
	kb.mu.Unlock()

	notify(subs, event)
	return nil
}

// UpdatePlatformPosition updates a platform's coordinates and notifies subscribers.
func (kb *KnowledgeBase) UpdatePlatformPosition(id string, pos model.Motion) error {
	return kb.update(id, func(p *model.PlatformDefinition) {
		p.Coordinates = pos
	})
}

// UpdatePlatformTrack stores the new ground-track state together with the
// matching ECEF coordinates.
func (kb *KnowledgeBase) UpdatePlatformTrack(id string, track model.GroundTrack, pos model.Motion) error {
	return kb.update(id, func(p *model.PlatformDefinition) {
		p.Track = track
		p.Coordinates = pos
	})
}

func (kb *KnowledgeBase) update(id string, apply func(*model.PlatformDefinition)) error {
	kb.mu.Lock()
	p, ok := kb.platforms[id]
	if !ok {
		kb.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrPlatformNotFound, id)
	}
	apply(p)
	event := Event{
		Type:     EventPlatformUpdated,
		Platform: *p, // copy for safety
	}
	subs := kb.subscribersLocked()
	kb.mu.Unlock()

	// Notify subscribers outside the lock to avoid deadlocks.
	notify(subs, event)
	return nil
}

// AddGroundStation registers a fixed observer.
func (kb *KnowledgeBase) AddGroundStation(gs *model.GroundStation) error {
	if gs == nil || gs.ID == "" {
		return fmt.Errorf("ground station ID must be set")
	}
	kb.mu.Lock()
	defer kb.mu.Unlock()
	if _, exists := kb.stations[gs.ID]; exists {
		return fmt.Errorf("%w: %q", ErrStationExists, gs.ID)
	}
	cp := *gs
	kb.stations[gs.ID] = &cp
	return nil
}

// ListGroundStations returns a snapshot of all stations ordered by ID.
func (kb *KnowledgeBase) ListGroundStations() []model.GroundStation {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	res := make([]model.GroundStation, 0, len(kb.stations))
	for _, gs := range kb.stations {
		res = append(res, *gs)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

// Subscribe registers a callback for KB events. It returns an unsubscribe function.
func (kb *KnowledgeBase) Subscribe(fn func(Event)) (unsubscribe func()) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	id := kb.nextID
	kb.nextID++
	kb.subs[id] = fn

	return func() {
		kb.mu.Lock()
		defer kb.mu.Unlock()
		delete(kb.subs, id)
	}
}

func (kb *KnowledgeBase) subscribersLocked() []func(Event) {
	ids := make([]int, 0, len(kb.subs))
	for id := range kb.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	subs := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		subs = append(subs, kb.subs[id])
	}
	return subs
}

func notify(subs []func(Event), event Event) {
	for _, sub := range subs {
		sub(event)
	}
}
