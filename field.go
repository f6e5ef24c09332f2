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
	"log"
	"strings"

	"github.com/ctessum/sparse"
)

// Field is the metadata handle other model components use to consume a
// tracer: descriptive attributes plus a reference to the tracer's
// 2-D [cell, vertical level] slice of the current time level. The
// reference is a ring slot plus tracer index rather than a raw
// pointer, so it cannot dangle when the ring rotates; rebind refreshes
// the slot on every rotation.
type Field struct {
	Name         string
	Description  string
	Units        string
	StandardName string
	ValidMin     float64
	ValidMax     float64
	FillValue    float64
	DimNames     []string

	ring        *levelRing
	tracerIndex int
	slot        *dualArray
}

func fieldName(tracerName string) string { return "Tracer" + tracerName }

func fieldGroupName(groupName string) string { return "TracerGroup" + groupName }

// attach points the field at the ring's current slot. It fails if the
// tracer index does not fit the slot's tracer extent, which indicates
// the catalog and the allocation disagree.
func (f *Field) attach() error {
	slot, err := f.ring.slot(0)
	if err != nil {
		return err
	}
	if f.tracerIndex < 0 || f.tracerIndex >= slot.host.Shape[0] {
		return fmt.Errorf("oceanstate: field %s references tracer index %d but arrays hold %d tracers",
			f.Name, f.tracerIndex, slot.host.Shape[0])
	}
	f.slot = slot
	return nil
}

// Data returns the field's 2-D device-side slice for the time level
// the field is currently attached to. The returned array aliases the
// ring buffer.
func (f *Field) Data() *sparse.DenseArray {
	return tracerView(f.slot.device, f.tracerIndex)
}

// HostData is like Data but for the host mirror.
func (f *Field) HostData() *sparse.DenseArray {
	return tracerView(f.slot.host, f.tracerIndex)
}

// FieldGroup is a named collection of fields, one per tracer group.
type FieldGroup struct {
	Name   string
	fields []*Field
}

func newFieldGroup(name string) *FieldGroup { return &FieldGroup{Name: name} }

func (g *FieldGroup) addField(f *Field) { g.fields = append(g.fields, f) }

// Fields returns the group's fields in tracer-index order.
func (g *FieldGroup) Fields() []*Field { return g.fields }

// rebind re-attaches every defined tracer's field to the current ring
// slot. Each tracer is handled independently: a failure is recorded
// and the remaining tracers are still rebound, but the aggregate error
// is returned so callers cannot proceed with a stale binding
// unnoticed.
func (s *State) rebind() error {
	var failed []string
	for idx, f := range s.fields {
		if err := f.attach(); err != nil {
			log.Printf("oceanstate: error attaching data to field for tracer %d: %v", idx, err)
			failed = append(failed, f.Name)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("oceanstate: %d of %d tracer fields failed to rebind: %s",
			len(failed), len(s.fields), strings.Join(failed, ", "))
	}
	return nil
}
