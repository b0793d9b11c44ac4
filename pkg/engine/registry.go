package engine

import (
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/webtexlab/webtexd/pkg/assets"
	"github.com/webtexlab/webtexd/pkg/project"
)

// ErrUnknownProject is returned for lookups of project ids not in the
// registry.
var ErrUnknownProject = errors.New("no such project")

// Registry is the process-wide table of live project sessions. It owns the
// room event loops and signals the snapshot saver when non-transient state
// changes.
type Registry struct {
	logger *slog.Logger
	assets *assets.Store

	mu    sync.Mutex
	rooms map[string]*Room

	kick chan struct{}
}

// NewRegistry returns an empty registry. assetStore may be nil when uploads
// are not served (tests).
func NewRegistry(logger *slog.Logger, assetStore *assets.Store) *Registry {
	return &Registry{
		logger: logger,
		assets: assetStore,
		rooms:  map[string]*Room{},
		kick:   make(chan struct{}, 1),
	}
}

// Bootstrap populates the registry from persisted snapshots, then ensures
// at least one project exists.
func (g *Registry) Bootstrap(snaps map[string]project.Snapshot) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for id, snap := range snaps {
		g.rooms[id] = newRoom(g, project.FromSnapshot(snap), g.logger)
	}
	if len(g.rooms) == 0 {
		id := uuid.NewString()
		g.rooms[id] = newRoom(g, project.New(id, project.DefaultProjectName), g.logger)
		g.MarkDirty()
	}
}

// Get looks a project up by id.
func (g *Registry) Get(id string) (*Room, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, found := g.rooms[id]
	return r, found
}

// GetOrCreate returns the project with the given id, creating a session
// seeded with one default document when absent.
func (g *Registry) GetOrCreate(id string) *Room {
	g.mu.Lock()
	defer g.mu.Unlock()
	if r, found := g.rooms[id]; found {
		return r
	}
	if id == "" {
		id = uuid.NewString()
	}
	r := newRoom(g, project.New(id, project.DefaultProjectName), g.logger)
	g.rooms[id] = r
	g.MarkDirty()
	return r
}

// Attach resolves a join target: the named project (created when absent),
// or any existing project when no id is given.
func (g *Registry) Attach(id string) *Room {
	if id != "" {
		return g.GetOrCreate(id)
	}
	g.mu.Lock()
	for _, r := range g.rooms {
		g.mu.Unlock()
		return r
	}
	g.mu.Unlock()
	return g.GetOrCreate("")
}

// Create makes a new project. Template "empty" seeds a minimal main file
// instead of the full default.
func (g *Registry) Create(name, template string) *Room {
	if name == "" {
		name = project.DefaultProjectName
	}
	id := uuid.NewString()
	s := project.New(id, name)
	if template == "empty" {
		s.Files[s.MainFile] = project.NewDocument(project.EmptyMainContent)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	r := newRoom(g, s, g.logger)
	g.rooms[id] = r
	g.MarkDirty()
	return r
}

// Delete evicts a project: its room is closed, every attached connection is
// dropped, and its uploaded assets are purged. The persisted row disappears
// on the next save.
func (g *Registry) Delete(id string) error {
	g.mu.Lock()
	r, found := g.rooms[id]
	if found {
		delete(g.rooms, id)
	}
	g.mu.Unlock()
	if !found {
		return ErrUnknownProject
	}
	r.Close()
	if g.assets != nil {
		if err := g.assets.Purge(id); err != nil {
			g.logger.Error("failed to purge assets", "project", id, "err", err)
		}
	}
	g.MarkDirty()
	return nil
}

// List returns a summary per project, sorted by creation time.
func (g *Registry) List() []project.Summary {
	var out []project.Summary
	for _, r := range g.snapshotRooms() {
		_ = r.Do(func(s *project.Session) error {
			out = append(out, s.Summary())
			return nil
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Created < out[j].Created })
	return out
}

// Snapshots collects every live session's persistable state.
func (g *Registry) Snapshots() map[string]project.Snapshot {
	snaps := map[string]project.Snapshot{}
	for _, r := range g.snapshotRooms() {
		_ = r.Do(func(s *project.Session) error {
			snaps[s.ID] = s.Snapshot()
			return nil
		})
	}
	return snaps
}

func (g *Registry) snapshotRooms() []*Room {
	g.mu.Lock()
	defer g.mu.Unlock()
	rooms := make([]*Room, 0, len(g.rooms))
	for _, r := range g.rooms {
		rooms = append(rooms, r)
	}
	return rooms
}

// MarkDirty pulses the save signal; the saver coalesces bursts.
func (g *Registry) MarkDirty() {
	select {
	case g.kick <- struct{}{}:
	default:
	}
}

// SaveSignal fires when a structural change should trigger a snapshot ahead
// of the periodic ticker.
func (g *Registry) SaveSignal() <-chan struct{} {
	return g.kick
}

// CloseAll shuts every room down, used at process exit.
func (g *Registry) CloseAll() {
	for _, r := range g.snapshotRooms() {
		r.Close()
	}
}
