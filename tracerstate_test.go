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

package oceanstate

import (
	"errors"
	"reflect"
	"testing"
)

// testConfig selects the Temp, Salt and Debug1 tracers in two groups.
func testConfig(nTimeLevels int) *Config {
	return &Config{
		NTimeLevels: nTimeLevels,
		Groups: []GroupSpec{
			{Name: "Base", Tracers: []string{"Temp", "Salt"}},
			{Name: "Debug", Tracers: []string{"Debug1"}},
		},
	}
}

// newTestState builds a single-rank state over a small synthetic
// domain: 8 owned cells, 3 vertical levels, no remote neighbors.
func newTestState(t *testing.T, nTimeLevels int) *State {
	t.Helper()
	s, err := NewState(testConfig(nTimeLevels), SingleRankMesh(8, 3), NoopExchanger{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestInitRegistry(t *testing.T) {
	s := newTestState(t, 2)

	if got := s.NumTracers(); got != 3 {
		t.Errorf("NumTracers() = %d, want 3", got)
	}
	if got := s.NTimeLevels(); got != 2 {
		t.Errorf("NTimeLevels() = %d, want 2", got)
	}

	start, length, err := s.GetGroupRange("Base")
	if err != nil {
		t.Fatal(err)
	}
	if start != 0 || length != 2 {
		t.Errorf(`GetGroupRange("Base") = (%d, %d), want (0, 2)`, start, length)
	}
	start, length, err = s.GetGroupRange("Debug")
	if err != nil {
		t.Fatal(err)
	}
	if start != 2 || length != 1 {
		t.Errorf(`GetGroupRange("Debug") = (%d, %d), want (2, 1)`, start, length)
	}

	if !s.IsGroupMemberByIndex(1, "Base") {
		t.Error(`index 1 should be a member of "Base"`)
	}
	if s.IsGroupMemberByIndex(2, "Base") {
		t.Error(`index 2 should not be a member of "Base"`)
	}
	if !s.IsGroupMemberByName("Debug1", "Debug") {
		t.Error(`"Debug1" should be a member of "Debug"`)
	}
	if s.IsGroupMemberByIndex(0, "NoSuchGroup") {
		t.Error("membership in an unknown group should be false")
	}

	want := []string{"Base", "Debug"}
	if got := s.GroupNames(); !reflect.DeepEqual(got, want) {
		t.Errorf("GroupNames() = %v, want %v", got, want)
	}
}

func TestNameIndexBijection(t *testing.T) {
	s := newTestState(t, 2)
	for i := 0; i < s.NumTracers(); i++ {
		name, err := s.GetName(i)
		if err != nil {
			t.Fatal(err)
		}
		idx, err := s.GetIndex(name)
		if err != nil {
			t.Fatal(err)
		}
		if idx != i {
			t.Errorf("GetIndex(GetName(%d)) = %d", i, idx)
		}
	}
	// Group ranges jointly cover the whole index space.
	covered := 0
	for _, g := range s.GroupNames() {
		_, length, err := s.GetGroupRange(g)
		if err != nil {
			t.Fatal(err)
		}
		covered += length
	}
	if covered != s.NumTracers() {
		t.Errorf("group ranges cover %d indices, want %d", covered, s.NumTracers())
	}
}

func TestLookupErrors(t *testing.T) {
	s := newTestState(t, 2)
	if _, err := s.GetIndex("Oxygen"); !errors.Is(err, ErrUnknownTracer) {
		t.Errorf("GetIndex of unknown tracer: %v", err)
	}
	if _, err := s.GetName(99); !errors.Is(err, ErrUnknownTracer) {
		t.Errorf("GetName of unknown index: %v", err)
	}
	if _, _, err := s.GetGroupRange("NoSuchGroup"); !errors.Is(err, ErrUnknownGroup) {
		t.Errorf("GetGroupRange of unknown group: %v", err)
	}
	if _, err := s.GetByIndex(0, 99); !errors.Is(err, ErrUnknownTracer) {
		t.Errorf("GetByIndex with bad tracer index: %v", err)
	}
	if _, err := s.GetAll(5); !errors.Is(err, ErrBadTimeLevel) {
		t.Errorf("GetAll with out-of-range offset: %v", err)
	}
	if _, err := s.GetAllHost(-2); !errors.Is(err, ErrBadTimeLevel) {
		t.Errorf("GetAllHost with out-of-range offset: %v", err)
	}
}

func TestDefineSkipsUnselected(t *testing.T) {
	s := newTestState(t, 2)
	// Phosphate was not selected by the configuration, so defining it
	// is a silent no-op.
	if err := s.Define("Phosphate", "phosphate", "mmol m-3", "", 0, 1e3, metadataFill); err != nil {
		t.Errorf("defining an unselected tracer: %v", err)
	}
	if got := s.NumTracers(); got != 3 {
		t.Errorf("NumTracers() = %d after no-op define, want 3", got)
	}
}

func TestDefineDuplicate(t *testing.T) {
	s := newTestState(t, 2)
	err := s.Define("Temp", "potential temperature", "degree_C", "", -273.15, 100, metadataFill)
	if !errors.Is(err, ErrAlreadyDefined) {
		t.Errorf("redefining Temp: %v", err)
	}
}

func TestInitRejectsUndefinedSelection(t *testing.T) {
	cfg := &Config{
		NTimeLevels: 2,
		Groups: []GroupSpec{
			{Name: "Base", Tracers: []string{"Temp", "Nitrate"}},
		},
	}
	_, err := NewState(cfg, SingleRankMesh(4, 2), NoopExchanger{}, nil)
	if err == nil {
		t.Fatal("expected initialization to fail: Nitrate is not in the standard catalog")
	}
}

func TestInitRejectsSingleTimeLevel(t *testing.T) {
	cfg := testConfig(1)
	if _, err := NewState(cfg, SingleRankMesh(4, 2), NoopExchanger{}, nil); err == nil {
		t.Fatal("expected initialization to fail with 1 time level")
	}
}

func TestInitRejectsDuplicateSelection(t *testing.T) {
	cfg := &Config{
		NTimeLevels: 2,
		Groups: []GroupSpec{
			{Name: "Base", Tracers: []string{"Temp", "Salt"}},
			{Name: "Debug", Tracers: []string{"Temp"}},
		},
	}
	if _, err := NewState(cfg, SingleRankMesh(4, 2), NoopExchanger{}, nil); err == nil {
		t.Fatal("expected initialization to fail with a tracer selected twice")
	}
}

// fillLevel writes a recognizable value to every element of the device
// buffer at the given offset.
func fillLevel(t *testing.T, s *State, offset int, base float64) {
	t.Helper()
	arr, err := s.GetAll(offset)
	if err != nil {
		t.Fatal(err)
	}
	nt, nc, nv := arr.Shape[0], arr.Shape[1], arr.Shape[2]
	for tr := 0; tr < nt; tr++ {
		for c := 0; c < nc; c++ {
			for v := 0; v < nv; v++ {
				arr.Set(base+float64(tr)+float64(c)+float64(v), tr, c, v)
			}
		}
	}
	if err := s.MarkDeviceModified(offset); err != nil {
		t.Fatal(err)
	}
}

func TestAdvanceRotation(t *testing.T) {
	s := newTestState(t, 3)
	for offset := 0; offset > -s.NTimeLevels(); offset-- {
		fillLevel(t, s, offset, 3+float64(offset))
	}
	cur, err := s.GetAll(0)
	if err != nil {
		t.Fatal(err)
	}
	snapshot := cur.Copy()

	if err := s.Advance(); err != nil {
		t.Fatal(err)
	}
	prev, err := s.GetAll(-1)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(prev.Elements, snapshot.Elements) {
		t.Error("data at offset -1 after Advance does not match the previous current level")
	}
}

// A full cycle of Advance calls must return every level to
// bit-identical values when nothing writes in between (the halo
// exchange of a single rank is a no-op).
func TestAdvanceFullCycleRoundTrip(t *testing.T) {
	s := newTestState(t, 3)
	snapshots := make(map[int][]float64)
	for offset := 0; offset > -s.NTimeLevels(); offset-- {
		fillLevel(t, s, offset, 10*float64(offset))
		arr, err := s.GetAll(offset)
		if err != nil {
			t.Fatal(err)
		}
		snapshots[offset] = append([]float64(nil), arr.Elements...)
	}
	for i := 0; i < s.NTimeLevels(); i++ {
		if err := s.Advance(); err != nil {
			t.Fatal(err)
		}
	}
	for offset, want := range snapshots {
		arr, err := s.GetAll(offset)
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(arr.Elements, want) {
			t.Errorf("offset %d not bit-identical after a full cycle", offset)
		}
	}
}

func TestSyncStateTransitions(t *testing.T) {
	s := newTestState(t, 2)
	st, err := s.BufferSyncState(0)
	if err != nil {
		t.Fatal(err)
	}
	if st != Synced {
		t.Errorf("initial sync state = %v, want %v", st, Synced)
	}
	if err := s.MarkDeviceModified(0); err != nil {
		t.Fatal(err)
	}
	if st, _ = s.BufferSyncState(0); st != DeviceAuthoritative {
		t.Errorf("after MarkDeviceModified: %v, want %v", st, DeviceAuthoritative)
	}
	if err := s.CopyToHost(0); err != nil {
		t.Fatal(err)
	}
	if st, _ = s.BufferSyncState(0); st != Synced {
		t.Errorf("after CopyToHost: %v, want %v", st, Synced)
	}
	if err := s.MarkHostModified(0); err != nil {
		t.Fatal(err)
	}
	if st, _ = s.BufferSyncState(0); st != HostAuthoritative {
		t.Errorf("after MarkHostModified: %v, want %v", st, HostAuthoritative)
	}
	if err := s.CopyToDevice(0); err != nil {
		t.Fatal(err)
	}
	if st, _ = s.BufferSyncState(0); st != Synced {
		t.Errorf("after CopyToDevice: %v, want %v", st, Synced)
	}
	// An exchange leaves the pair synced: the exchanged host values
	// are copied back to the device.
	if err := s.ExchangeHalo(0); err != nil {
		t.Fatal(err)
	}
	if st, _ = s.BufferSyncState(0); st != Synced {
		t.Errorf("after ExchangeHalo: %v, want %v", st, Synced)
	}
}

func TestClear(t *testing.T) {
	s := newTestState(t, 2)
	s.Clear()
	if got := s.NumTracers(); got != 0 {
		t.Errorf("NumTracers() = %d after Clear, want 0", got)
	}
	if _, err := s.GetIndex("Temp"); !errors.Is(err, ErrUnknownTracer) {
		t.Errorf("GetIndex after Clear: %v", err)
	}
	if len(s.GroupNames()) != 0 {
		t.Error("groups survive Clear")
	}
}
