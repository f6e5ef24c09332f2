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
	"fmt"

	"github.com/ctessum/sparse"
)

// minTimeLevels is the smallest ring that supports any multi-step time
// integration scheme.
const minTimeLevels = 2

// SyncState records which side of a device/host buffer pair holds the
// most recent writes. Requested copies are always performed regardless
// of the state; the state only tracks authority between copies so that
// a missing copy shows up as a wrong state rather than silently wrong
// data.
type SyncState int

const (
	// Synced means neither side has been modified since the last copy.
	Synced SyncState = iota
	// HostAuthoritative means the host mirror holds writes the device
	// buffer does not.
	HostAuthoritative
	// DeviceAuthoritative means the device buffer holds writes the host
	// mirror does not.
	DeviceAuthoritative
)

func (s SyncState) String() string {
	switch s {
	case Synced:
		return "synced"
	case HostAuthoritative:
		return "host-authoritative"
	case DeviceAuthoritative:
		return "device-authoritative"
	default:
		return fmt.Sprintf("SyncState(%d)", int(s))
	}
}

// dualArray is one ring slot: a device-resident buffer and its host
// mirror. The two memory spaces are never implicitly synchronized;
// data moves only through copyToHost and copyToDevice.
type dualArray struct {
	device *sparse.DenseArray
	host   *sparse.DenseArray
	state  SyncState
}

func newDualArray(dims ...int) *dualArray {
	return &dualArray{
		device: sparse.ZerosDense(dims...),
		host:   sparse.ZerosDense(dims...),
		state:  Synced,
	}
}

func (d *dualArray) copyToHost() {
	copy(d.host.Elements, d.device.Elements)
	d.state = Synced
}

func (d *dualArray) copyToDevice() {
	copy(d.device.Elements, d.host.Elements)
	d.state = Synced
}

// wrapTimeIndex resolves a signed time-level offset against the current
// ring position. The modulus is added before the remainder is taken so
// that negative offsets wrap correctly under Go's truncating %.
func wrapTimeIndex(offset, cur, n int) int {
	return ((offset+cur)%n + n) % n
}

// levelRing is the rolling window of time levels. Offsets are
// interpreted relative to the current position: 0 is the current
// (most recently finalized) level and negative offsets reach back into
// history. An offset whose magnitude reaches the ring size is an
// error, not a second wrap.
type levelRing struct {
	levels []*dualArray
	cur    int
}

func newLevelRing(nTimeLevels, nTracers, nCellsSize, nVertLevels int) (*levelRing, error) {
	if nTimeLevels < minTimeLevels {
		return nil, fmt.Errorf("oceanstate: %d time levels requested but at least %d are required",
			nTimeLevels, minTimeLevels)
	}
	r := &levelRing{levels: make([]*dualArray, nTimeLevels)}
	for i := range r.levels {
		r.levels[i] = newDualArray(nTracers, nCellsSize, nVertLevels)
	}
	return r, nil
}

func (r *levelRing) nLevels() int { return len(r.levels) }

func (r *levelRing) slot(offset int) (*dualArray, error) {
	n := len(r.levels)
	if offset <= -n || offset >= n {
		return nil, fmt.Errorf("oceanstate: time level offset %d out of range for a ring of %d levels: %w",
			offset, n, ErrBadTimeLevel)
	}
	return r.levels[wrapTimeIndex(offset, r.cur, n)], nil
}

// rotate advances the current position by one level. This is the only
// place the current position changes.
func (r *levelRing) rotate() {
	r.cur = wrapTimeIndex(1, r.cur, len(r.levels))
}

// tracerView returns a 2-D [cell, vertical level] view of the 3-D array
// a with the tracer dimension fixed at tracerIndex. The layout is
// tracer-major, so the view aliases a contiguous run of a's backing
// storage; writes through the view are visible in a.
func tracerView(a *sparse.DenseArray, tracerIndex int) *sparse.DenseArray {
	nc, nv := a.Shape[1], a.Shape[2]
	lo := tracerIndex * nc * nv
	v := &sparse.DenseArray{
		Shape:    []int{nc, nv},
		Elements: a.Elements[lo : lo+nc*nv],
	}
	v.Fix()
	return v
}
