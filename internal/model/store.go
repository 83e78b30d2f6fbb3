package model

import (
	"sort"
	"sync"
)

// Update describes a partial model change. Nil fields leave the current
// value untouched; Plugins entries are merged by id, with nil values
// removing the entry.
type Update struct {
	Status      *MachineStatus
	Boards      []Board
	SBC         *SBC
	Plugins     map[string]*Plugin
	Directories *Directories
}

// Store holds the machine object model and serializes access to it. Readers
// get copies, so snapshots stay valid while updates keep arriving.
type Store struct {
	mu sync.RWMutex
	m  Model
}

// NewStore returns a store holding the disconnected baseline model.
func NewStore() *Store {
	s := &Store{}
	s.m = baseline()
	return s
}

func baseline() Model {
	return Model{
		Status:      StatusDisconnected,
		Plugins:     make(map[string]*Plugin),
		Directories: DefaultDirectories(),
	}
}

// Apply merges u into the current model.
func (s *Store) Apply(u Update) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u.Status != nil {
		s.m.Status = *u.Status
	}
	if u.Boards != nil {
		s.m.Boards = append([]Board(nil), u.Boards...)
	}
	if u.SBC != nil {
		sbc := *u.SBC
		s.m.SBC = &sbc
	}
	for id, p := range u.Plugins {
		if p == nil {
			delete(s.m.Plugins, id)
			continue
		}
		s.m.Plugins[id] = p.Clone()
	}
	if u.Directories != nil {
		s.m.Directories = *u.Directories
	}
}

// Reset restores the disconnected baseline. Called when a reconnect cycle
// starts so stale state never outlives its connection.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m = baseline()
}

// SetStatus replaces the machine status.
func (s *Store) SetStatus(status MachineStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m.Status = status
}

// Status returns the current machine status.
func (s *Store) Status() MachineStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.m.Status
}

// Boards returns a copy of the known controller boards.
func (s *Store) Boards() []Board {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Board(nil), s.m.Boards...)
}

// SBC returns a copy of the companion computer info, or nil when the machine
// runs standalone.
func (s *Store) SBC() *SBC {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.m.SBC == nil {
		return nil
	}
	sbc := *s.m.SBC
	return &sbc
}

// Plugin returns a copy of the manifest for id, or nil when unknown.
func (s *Store) Plugin(id string) *Plugin {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.m.Plugins[id].Clone()
}

// Plugins returns copies of all known plugin manifests, sorted by id.
func (s *Store) Plugins() []*Plugin {
	s.mu.RLock()
	defer s.mu.RUnlock()

	plugins := make([]*Plugin, 0, len(s.m.Plugins))
	for _, p := range s.m.Plugins {
		plugins = append(plugins, p.Clone())
	}
	sort.Slice(plugins, func(i, j int) bool { return plugins[i].ID < plugins[j].ID })
	return plugins
}

// Directories returns the machine directory layout.
func (s *Store) Directories() Directories {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.m.Directories
}

// SystemFile returns the machine path of name inside the system directory.
func (s *Store) SystemFile(name string) string {
	return JoinPath(s.Directories().System, name)
}

// ConfigFile returns the machine path of the startup configuration file.
func (s *Store) ConfigFile() string {
	return s.SystemFile(ConfigFileName)
}
