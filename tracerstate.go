/*
Copyright © 2025 the OceanState authors.
This file is part of OceanState.

OceanState is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

OceanState is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with OceanState.  If not, see <http://www.gnu.org/licenses/>.
*/

// Package oceanstate manages the tracer concentration state of a
// distributed ocean model sub-domain: a registry of named tracers
// selected from a catalog by configuration, a ring of time levels with
// device buffers and host mirrors, halo synchronization of the host
// mirrors, and checkpoint I/O through a local-to-global index
// decomposition.
//
// A State is an explicitly owned object; nothing in this package is
// process-global, so independent instances (one per rank, or several
// in one test) can coexist. No State method is safe for concurrent
// use from multiple goroutines within one rank; callers serialize
// access to Advance, Define, and the I/O entry points.
package oceanstate

import (
	"errors"
	"fmt"
	"log"
	"sort"

	"github.com/ctessum/sparse"
)

var (
	// ErrUnknownTracer is returned when a tracer name or index is not
	// registered.
	ErrUnknownTracer = errors.New("unknown tracer")
	// ErrUnknownGroup is returned when a group name is not declared in
	// the configuration.
	ErrUnknownGroup = errors.New("unknown tracer group")
	// ErrBadTimeLevel is returned when a time-level offset magnitude
	// reaches or exceeds the ring size.
	ErrBadTimeLevel = errors.New("time level out of range")
	// ErrAlreadyDefined is returned when a selected tracer is defined
	// twice.
	ErrAlreadyDefined = errors.New("tracer already defined")
)

// groupRange is a contiguous slice of the dense tracer index space.
type groupRange struct {
	start, length int
}

// State owns one rank's tracer state. Create it with NewState and
// release the arrays with Clear.
type State struct {
	mesh *Mesh
	halo Exchanger

	numTracers int

	indexes     map[string]int // selected tracer name -> dense index
	names       map[int]string // dense index -> name, filled by Define
	groups      map[string]groupRange
	fields      map[int]*Field
	fieldGroups map[string]*FieldGroup

	ring *levelRing
}

// A DefineFunc defines the tracer catalog into a State during NewState.
// It typically calls State.Define once for every tracer the model
// knows about; Define skips names the configuration did not select.
type DefineFunc func(*State) error

// NewState allocates and initializes the tracer state for one rank.
// Groups are registered in configuration order so that each group
// occupies a contiguous index range; the ring is then allocated from
// the final counts and the catalog is defined. If define is nil the
// standard catalog (DefineStandard) is used.
//
// Initialization fails if fewer than two time levels are configured,
// or if any selected tracer is left undefined by the catalog: that
// means the configuration names a tracer the catalog does not know.
func NewState(cfg *Config, mesh *Mesh, halo Exchanger, define DefineFunc) (*State, error) {
	if err := mesh.check(); err != nil {
		return nil, err
	}
	if halo == nil {
		return nil, fmt.Errorf("oceanstate: nil halo exchanger")
	}
	s := &State{
		mesh:        mesh,
		halo:        halo,
		indexes:     make(map[string]int),
		names:       make(map[int]string),
		groups:      make(map[string]groupRange),
		fields:      make(map[int]*Field),
		fieldGroups: make(map[string]*FieldGroup),
	}

	idx := 0
	for _, g := range cfg.Groups {
		if _, ok := s.groups[g.Name]; ok {
			return nil, fmt.Errorf("oceanstate: tracer group %q declared twice", g.Name)
		}
		if len(g.Tracers) == 0 {
			return nil, fmt.Errorf("oceanstate: tracer group %q selects no tracers", g.Name)
		}
		start := idx
		for _, name := range g.Tracers {
			if _, ok := s.indexes[name]; ok {
				return nil, fmt.Errorf("oceanstate: tracer %q selected twice", name)
			}
			s.indexes[name] = idx
			idx++
		}
		s.groups[g.Name] = groupRange{start: start, length: idx - start}
		s.fieldGroups[g.Name] = newFieldGroup(fieldGroupName(g.Name))
	}
	s.numTracers = idx
	log.Printf("oceanstate: %d tracers in %d groups; cells owned %d all %d size %d; %d vertical levels; %d time levels",
		s.numTracers, len(s.groups), mesh.NCellsOwned, mesh.NCellsAll, mesh.NCellsSize,
		mesh.NVertLevels, cfg.NTimeLevels)

	ring, err := newLevelRing(cfg.NTimeLevels, s.numTracers, mesh.NCellsSize, mesh.NVertLevels)
	if err != nil {
		return nil, err
	}
	s.ring = ring

	if define == nil {
		define = DefineStandard
	}
	if err := define(s); err != nil {
		return nil, fmt.Errorf("oceanstate: defining tracer catalog: %v", err)
	}

	if len(s.names) != s.numTracers {
		var missing []string
		for name, i := range s.indexes {
			if _, ok := s.names[i]; !ok {
				missing = append(missing, name)
			}
		}
		sort.Strings(missing)
		return nil, fmt.Errorf("oceanstate: %d selected tracers were never defined by the catalog: %v",
			len(missing), missing)
	}

	for gname, gr := range s.groups {
		fg := s.fieldGroups[gname]
		for i := gr.start; i < gr.start+gr.length; i++ {
			fg.addField(s.fields[i])
		}
	}
	if err := s.rebind(); err != nil {
		return nil, err
	}
	return s, nil
}

// Define records metadata for the named tracer and creates its field
// handle. Names the configuration did not select are skipped without
// error, so a complete catalog can be defined unconditionally.
func (s *State) Define(name, description, units, standardName string, validMin, validMax, fillValue float64) error {
	idx, ok := s.indexes[name]
	if !ok {
		return nil
	}
	if _, ok := s.names[idx]; ok {
		return fmt.Errorf("oceanstate: tracer %q: %w", name, ErrAlreadyDefined)
	}
	s.names[idx] = name
	s.fields[idx] = &Field{
		Name:         fieldName(name),
		Description:  description,
		Units:        units,
		StandardName: standardName,
		ValidMin:     validMin,
		ValidMax:     validMax,
		FillValue:    fillValue,
		DimNames:     []string{"NCells", "NVertLevels"},
		ring:         s.ring,
		tracerIndex:  idx,
	}
	return nil
}

// Clear releases the tracer arrays and empties the registry. The State
// must be re-created with NewState before further use.
func (s *State) Clear() {
	log.Println("oceanstate: clearing tracer state")
	s.ring = nil
	s.indexes = make(map[string]int)
	s.names = make(map[int]string)
	s.groups = make(map[string]groupRange)
	s.fields = make(map[int]*Field)
	s.fieldGroups = make(map[string]*FieldGroup)
	s.numTracers = 0
}

// NumTracers returns the number of selected tracers.
func (s *State) NumTracers() int { return s.numTracers }

// NTimeLevels returns the size of the time-level ring.
func (s *State) NTimeLevels() int { return s.ring.nLevels() }

// Mesh returns the decomposition facts this state was built from.
func (s *State) Mesh() *Mesh { return s.mesh }

// GetIndex returns the dense index of the named tracer.
func (s *State) GetIndex(name string) (int, error) {
	idx, ok := s.indexes[name]
	if !ok {
		return 0, fmt.Errorf("oceanstate: tracer %q: %w", name, ErrUnknownTracer)
	}
	return idx, nil
}

// GetName returns the name of the tracer at the given dense index.
func (s *State) GetName(index int) (string, error) {
	name, ok := s.names[index]
	if !ok {
		return "", fmt.Errorf("oceanstate: tracer index %d: %w", index, ErrUnknownTracer)
	}
	return name, nil
}

// GroupNames returns the declared group names in ascending index-range
// order.
func (s *State) GroupNames() []string {
	names := make([]string, 0, len(s.groups))
	for name := range s.groups {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return s.groups[names[i]].start < s.groups[names[j]].start
	})
	return names
}

// GetGroupRange returns the start index and length of the named group's
// contiguous index range.
func (s *State) GetGroupRange(name string) (start, length int, err error) {
	gr, ok := s.groups[name]
	if !ok {
		return 0, 0, fmt.Errorf("oceanstate: group %q: %w", name, ErrUnknownGroup)
	}
	return gr.start, gr.length, nil
}

// IsGroupMemberByIndex reports whether the tracer index lies in the
// named group's range. An unknown group is simply not a member.
func (s *State) IsGroupMemberByIndex(index int, group string) bool {
	gr, ok := s.groups[group]
	if !ok {
		return false
	}
	return index >= gr.start && index < gr.start+gr.length
}

// IsGroupMemberByName reports whether the named tracer belongs to the
// named group.
func (s *State) IsGroupMemberByName(tracer, group string) bool {
	idx, ok := s.indexes[tracer]
	if !ok {
		return false
	}
	return s.IsGroupMemberByIndex(idx, group)
}

// FieldByIndex returns the metadata handle for the tracer at index.
func (s *State) FieldByIndex(index int) (*Field, error) {
	f, ok := s.fields[index]
	if !ok {
		return nil, fmt.Errorf("oceanstate: tracer index %d: %w", index, ErrUnknownTracer)
	}
	return f, nil
}

// FieldByName returns the metadata handle for the named tracer.
func (s *State) FieldByName(name string) (*Field, error) {
	idx, err := s.GetIndex(name)
	if err != nil {
		return nil, err
	}
	return s.FieldByIndex(idx)
}

// FieldGroupByName returns the field group created for the named
// tracer group.
func (s *State) FieldGroupByName(group string) (*FieldGroup, error) {
	fg, ok := s.fieldGroups[group]
	if !ok {
		return nil, fmt.Errorf("oceanstate: group %q: %w", group, ErrUnknownGroup)
	}
	return fg, nil
}

// GetAll returns the full 3-D device buffer at the given time-level
// offset (0 = current, negative = history).
func (s *State) GetAll(offset int) (*sparse.DenseArray, error) {
	d, err := s.ring.slot(offset)
	if err != nil {
		return nil, err
	}
	return d.device, nil
}

// GetAllHost returns the full 3-D host mirror at the given offset.
func (s *State) GetAllHost(offset int) (*sparse.DenseArray, error) {
	d, err := s.ring.slot(offset)
	if err != nil {
		return nil, err
	}
	return d.host, nil
}

// GetByIndex returns the 2-D [cell, vertical level] device slice of
// one tracer at the given offset. The slice aliases the ring buffer.
func (s *State) GetByIndex(offset, tracerIndex int) (*sparse.DenseArray, error) {
	d, err := s.ring.slot(offset)
	if err != nil {
		return nil, err
	}
	if tracerIndex < 0 || tracerIndex >= s.numTracers {
		return nil, fmt.Errorf("oceanstate: tracer index %d out of range [0, %d): %w",
			tracerIndex, s.numTracers, ErrUnknownTracer)
	}
	return tracerView(d.device, tracerIndex), nil
}

// GetByName is GetByIndex keyed by tracer name.
func (s *State) GetByName(offset int, name string) (*sparse.DenseArray, error) {
	idx, err := s.GetIndex(name)
	if err != nil {
		return nil, err
	}
	return s.GetByIndex(offset, idx)
}

// GetHostByIndex returns the 2-D host-mirror slice of one tracer.
func (s *State) GetHostByIndex(offset, tracerIndex int) (*sparse.DenseArray, error) {
	d, err := s.ring.slot(offset)
	if err != nil {
		return nil, err
	}
	if tracerIndex < 0 || tracerIndex >= s.numTracers {
		return nil, fmt.Errorf("oceanstate: tracer index %d out of range [0, %d): %w",
			tracerIndex, s.numTracers, ErrUnknownTracer)
	}
	return tracerView(d.host, tracerIndex), nil
}

// GetHostByName is GetHostByIndex keyed by tracer name.
func (s *State) GetHostByName(offset int, name string) (*sparse.DenseArray, error) {
	idx, err := s.GetIndex(name)
	if err != nil {
		return nil, err
	}
	return s.GetHostByIndex(offset, idx)
}

// CopyToDevice copies the host mirror at the given offset into the
// device buffer. Callers are responsible for calling this after any
// host-side mutation (halo exchange, file read); nothing happens
// implicitly.
func (s *State) CopyToDevice(offset int) error {
	d, err := s.ring.slot(offset)
	if err != nil {
		return err
	}
	d.copyToDevice()
	return nil
}

// CopyToHost copies the device buffer at the given offset into the
// host mirror. Device kernels touching the buffer must be fenced by
// the caller before this is called.
func (s *State) CopyToHost(offset int) error {
	d, err := s.ring.slot(offset)
	if err != nil {
		return err
	}
	d.copyToHost()
	return nil
}

// MarkHostModified records that the host mirror at offset has been
// written and the device buffer is stale.
func (s *State) MarkHostModified(offset int) error {
	d, err := s.ring.slot(offset)
	if err != nil {
		return err
	}
	d.state = HostAuthoritative
	return nil
}

// MarkDeviceModified records that the device buffer at offset has been
// written and the host mirror is stale.
func (s *State) MarkDeviceModified(offset int) error {
	d, err := s.ring.slot(offset)
	if err != nil {
		return err
	}
	d.state = DeviceAuthoritative
	return nil
}

// BufferSyncState reports which memory space holds the most recent
// writes for the time level at offset.
func (s *State) BufferSyncState(offset int) (SyncState, error) {
	d, err := s.ring.slot(offset)
	if err != nil {
		return Synced, err
	}
	return d.state, nil
}

// ExchangeHalo synchronizes the halo cells of the time level at
// offset. The distributed exchange operates on host memory only, so
// the device buffer is copied out first and the exchanged values are
// copied back afterwards. An exchange failure is propagated, never
// retried.
func (s *State) ExchangeHalo(offset int) error {
	d, err := s.ring.slot(offset)
	if err != nil {
		return err
	}
	d.copyToHost()
	if err := s.halo.ExchangeFullArrayHalo(d.host, OnCells); err != nil {
		return fmt.Errorf("oceanstate: halo exchange at time level %d: %v", offset, err)
	}
	d.state = HostAuthoritative
	d.copyToDevice()
	return nil
}

// Advance finalizes the current time level and rotates the ring: the
// current level's halo is exchanged, the ring position moves forward
// by one, and every tracer field is re-attached to the new current
// slot. This is the only operation that moves the current position.
func (s *State) Advance() error {
	if err := s.ExchangeHalo(0); err != nil {
		return err
	}
	s.ring.rotate()
	if err := s.rebind(); err != nil {
		return fmt.Errorf("oceanstate: after ring rotation: %v", err)
	}
	return nil
}
