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
	"testing"
)

func TestWrapTimeIndex(t *testing.T) {
	tests := []struct {
		offset, cur, n, want int
	}{
		{0, 0, 3, 0},
		{-1, 0, 3, 2},
		{-2, 0, 3, 1},
		{1, 2, 3, 0},
		{-1, 2, 3, 1},
		{0, 4, 5, 4},
		{-4, 0, 5, 1},
		{1, 1, 2, 0},
		{-1, 1, 2, 0},
	}
	for _, test := range tests {
		if got := wrapTimeIndex(test.offset, test.cur, test.n); got != test.want {
			t.Errorf("wrapTimeIndex(%d, %d, %d) = %d, want %d",
				test.offset, test.cur, test.n, got, test.want)
		}
	}
}

func TestRingMinimumLevels(t *testing.T) {
	if _, err := newLevelRing(1, 2, 4, 3); err == nil {
		t.Error("expected error for a 1-level ring")
	}
	if _, err := newLevelRing(2, 2, 4, 3); err != nil {
		t.Errorf("2-level ring: %v", err)
	}
}

func TestRingOffsetRange(t *testing.T) {
	r, err := newLevelRing(3, 1, 2, 2)
	if err != nil {
		t.Fatal(err)
	}
	for _, offset := range []int{-2, -1, 0, 1, 2} {
		if _, err := r.slot(offset); err != nil {
			t.Errorf("offset %d: %v", offset, err)
		}
	}
	for _, offset := range []int{-3, 3, -10, 10} {
		_, err := r.slot(offset)
		if err == nil {
			t.Errorf("offset %d: expected error", offset)
		} else if !errors.Is(err, ErrBadTimeLevel) {
			t.Errorf("offset %d: error %v is not ErrBadTimeLevel", offset, err)
		}
	}
}

// Resolution of every valid offset must be periodic in the number of
// rotations: after nLevels rotations each offset names the same slot
// it did before.
func TestRingPeriodicity(t *testing.T) {
	const n = 4
	r, err := newLevelRing(n, 1, 2, 2)
	if err != nil {
		t.Fatal(err)
	}
	before := make(map[int]*dualArray)
	for offset := -n + 1; offset < n; offset++ {
		d, err := r.slot(offset)
		if err != nil {
			t.Fatal(err)
		}
		before[offset] = d
	}
	for i := 0; i < n; i++ {
		r.rotate()
	}
	for offset := -n + 1; offset < n; offset++ {
		d, err := r.slot(offset)
		if err != nil {
			t.Fatal(err)
		}
		if d != before[offset] {
			t.Errorf("offset %d resolves to a different slot after %d rotations", offset, n)
		}
	}
}

func TestRingRotation(t *testing.T) {
	r, err := newLevelRing(3, 1, 2, 2)
	if err != nil {
		t.Fatal(err)
	}
	cur, _ := r.slot(0)
	r.rotate()
	prev, _ := r.slot(-1)
	if prev != cur {
		t.Error("slot that was current is not at offset -1 after one rotation")
	}
}

func TestDualArrayCopies(t *testing.T) {
	d := newDualArray(2, 3, 2)
	if d.state != Synced {
		t.Errorf("initial state = %v, want %v", d.state, Synced)
	}
	d.device.Elements[5] = 42
	d.state = DeviceAuthoritative
	d.copyToHost()
	if d.host.Elements[5] != 42 {
		t.Errorf("host element = %g after copyToHost, want 42", d.host.Elements[5])
	}
	if d.state != Synced {
		t.Errorf("state after copyToHost = %v, want %v", d.state, Synced)
	}
	d.host.Elements[7] = 7
	d.state = HostAuthoritative
	d.copyToDevice()
	if d.device.Elements[7] != 7 {
		t.Errorf("device element = %g after copyToDevice, want 7", d.device.Elements[7])
	}
	if d.state != Synced {
		t.Errorf("state after copyToDevice = %v, want %v", d.state, Synced)
	}
}

func TestTracerViewAliasing(t *testing.T) {
	d := newDualArray(3, 4, 2)
	v := tracerView(d.device, 1)
	if got := v.Shape[0]; got != 4 {
		t.Fatalf("view cell extent = %d, want 4", got)
	}
	v.Set(3.5, 2, 1)
	if got := d.device.Get(1, 2, 1); got != 3.5 {
		t.Errorf("write through view not visible in parent: got %g, want 3.5", got)
	}
	d.device.Set(-1, 1, 0, 0)
	if got := v.Get(0, 0); got != -1 {
		t.Errorf("write to parent not visible in view: got %g, want -1", got)
	}
}
