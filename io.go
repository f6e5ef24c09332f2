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
	"os"
	"strings"

	"github.com/ctessum/cdf"
	"gonum.org/v1/gonum/floats"
)

// FileFillValue marks checkpoint entries that no rank wrote (padding,
// halo and boundary cells).
const FileFillValue = -1.23456789e30

// unusedEntry marks local array positions excluded from transfer.
const unusedEntry = -1

const tracersVarName = "tracers"

var tracerDimNames = []string{"NCells", "NumTracers", "NVertLevels"}

// Decomp maps every local linear array position to its global linear
// offset in the checkpoint variable, in the exact memory order of the
// host tracer buffer (tracer-major, then cell, then vertical level),
// so one flat read or write transfers the whole block. A Decomp embeds
// the tracer and level counts of the state it was built from; it must
// not outlive a single read or write episode, because those counts go
// stale if the tracer set changes.
type Decomp struct {
	nCellsGlobal, nTracers, nVertLevels int
	nCellsSize                          int
	offsets                             []int
	nOwned                              int
}

// BuildDecomp constructs the parallel I/O decomposition for this
// rank: for every owned cell and every (tracer, vertical level) pair,
// the global linear offset
//
//	globalCellID*nTracers*nVertLevels + tracer*nVertLevels + level
//
// is recorded at the local linear position
//
//	tracer*nCellsSize*nVertLevels + cell*nVertLevels + level.
//
// Positions belonging to halo, boundary and padding cells keep the
// unused sentinel and are excluded from transfer.
func (s *State) BuildDecomp() *Decomp {
	m := s.mesh
	nt, nv := s.numTracers, m.NVertLevels
	d := &Decomp{
		nCellsGlobal: m.NCellsGlobal,
		nTracers:     nt,
		nVertLevels:  nv,
		nCellsSize:   m.NCellsSize,
		offsets:      make([]int, nt*m.NCellsSize*nv),
		nOwned:       nt * m.NCellsOwned * nv,
	}
	for i := range d.offsets {
		d.offsets[i] = unusedEntry
	}
	for cell := 0; cell < m.NCellsOwned; cell++ {
		gid := m.CellIDs[cell] - 1
		for t := 0; t < nt; t++ {
			for lvl := 0; lvl < nv; lvl++ {
				global := gid*nt*nv + t*nv + lvl
				local := t*m.NCellsSize*nv + cell*nv + lvl
				d.offsets[local] = global
			}
		}
	}
	return d
}

// destroy releases the offset table. A destroyed Decomp fails the
// check in any later read or write.
func (d *Decomp) destroy() { d.offsets = nil }

func (d *Decomp) check(s *State) error {
	if d.offsets == nil {
		return fmt.Errorf("oceanstate: decomposition used after destroy")
	}
	if d.nTracers != s.numTracers || d.nVertLevels != s.mesh.NVertLevels ||
		d.nCellsSize != s.mesh.NCellsSize || d.nCellsGlobal != s.mesh.NCellsGlobal {
		return fmt.Errorf("oceanstate: decomposition built for (%d cells, %d tracers, %d levels) used with (%d cells, %d tracers, %d levels)",
			d.nCellsGlobal, d.nTracers, d.nVertLevels,
			s.mesh.NCellsGlobal, s.numTracers, s.mesh.NVertLevels)
	}
	return nil
}

// SaveToFile writes the current time level to a new checkpoint file:
// the device buffer is copied to host, a decomposition is built for
// this episode, the file is created with the three tracer dimensions
// and one 3-D variable, owned values are written through the
// decomposition with FileFillValue elsewhere, and the file is closed.
// Like the halo exchange, checkpointing is collective: in a
// multi-rank run, one rank calls SaveToFile and the others then call
// WriteOwned on the same file, all ranks in the same order.
func (s *State) SaveToFile(fileName string) error {
	if err := s.CopyToHost(0); err != nil {
		return err
	}
	for _, name := range s.rangeViolations(0) {
		log.Printf("oceanstate: tracer %s has values outside its valid range at checkpoint", name)
	}
	d := s.BuildDecomp()
	defer d.destroy()
	if err := s.write(fileName, d); err != nil {
		log.Printf("oceanstate: critical: error writing checkpoint: %v", err)
		return err
	}
	return nil
}

// LoadFromFile reads the current time level's host mirror from a
// checkpoint file through a fresh decomposition, then copies it to the
// device. Halo cells are not stored in the file; callers normally run
// a halo exchange after loading.
func (s *State) LoadFromFile(fileName string) error {
	d := s.BuildDecomp()
	defer d.destroy()
	if err := s.read(fileName, d); err != nil {
		log.Printf("oceanstate: critical: error reading checkpoint: %v", err)
		return err
	}
	return s.CopyToDevice(0)
}

// write creates the checkpoint file and writes this rank's owned
// values. Each step's failure aborts the remaining steps.
func (s *State) write(fileName string, d *Decomp) error {
	if err := d.check(s); err != nil {
		return err
	}
	h := cdf.NewHeader(tracerDimNames, []int{d.nCellsGlobal, d.nTracers, d.nVertLevels})
	h.AddAttribute("", "comment", "ocean tracer state checkpoint")
	h.AddVariable(tracersVarName, tracerDimNames, []float64{0})
	h.AddAttribute(tracersVarName, "_FillValue", []float64{FileFillValue})
	names := make([]string, s.numTracers)
	for i := range names {
		names[i] = s.names[i]
	}
	h.AddAttribute(tracersVarName, "tracer_names", strings.Join(names, ","))
	h.Define()

	ff, err := os.Create(fileName)
	if err != nil {
		return fmt.Errorf("opening checkpoint file %s: %v", fileName, err)
	}
	f, err := cdf.Create(ff, h)
	if err != nil {
		ff.Close()
		return fmt.Errorf("defining checkpoint header in %s: %v", fileName, err)
	}

	host, err := s.GetAllHost(0)
	if err != nil {
		ff.Close()
		return err
	}
	buf := make([]float64, d.nCellsGlobal*d.nTracers*d.nVertLevels)
	for i := range buf {
		buf[i] = FileFillValue
	}
	for local, global := range d.offsets {
		if global != unusedEntry {
			buf[global] = host.Elements[local]
		}
	}
	end := f.Header.Lengths(tracersVarName)
	start := make([]int, len(end))
	if _, err := f.Writer(tracersVarName, start, end).Write(buf); err != nil {
		ff.Close()
		return fmt.Errorf("writing variable %s to %s: %v", tracersVarName, fileName, err)
	}
	if err := cdf.UpdateNumRecs(ff); err != nil {
		ff.Close()
		return fmt.Errorf("finalizing %s: %v", fileName, err)
	}
	if err := ff.Close(); err != nil {
		return fmt.Errorf("closing %s: %v", fileName, err)
	}
	return nil
}

// WriteOwned overlays this rank's owned values onto an existing
// checkpoint file created by another rank's SaveToFile. Ranks must
// take turns; the variable is read, overlaid and rewritten as one
// flat block.
func (s *State) WriteOwned(fileName string) error {
	if err := s.CopyToHost(0); err != nil {
		return err
	}
	d := s.BuildDecomp()
	defer d.destroy()

	ff, err := os.OpenFile(fileName, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("oceanstate: opening checkpoint file %s: %v", fileName, err)
	}
	f, err := cdf.Open(ff)
	if err != nil {
		ff.Close()
		return fmt.Errorf("oceanstate: reading checkpoint header of %s: %v", fileName, err)
	}
	if err := s.checkFileDims(f, d, fileName); err != nil {
		ff.Close()
		return err
	}
	r := f.Reader(tracersVarName, nil, nil)
	buf := r.Zero(-1).([]float64)
	if _, err := r.Read(buf); err != nil {
		ff.Close()
		return fmt.Errorf("oceanstate: reading variable %s from %s: %v", tracersVarName, fileName, err)
	}
	host, err := s.GetAllHost(0)
	if err != nil {
		ff.Close()
		return err
	}
	for local, global := range d.offsets {
		if global != unusedEntry {
			buf[global] = host.Elements[local]
		}
	}
	end := f.Header.Lengths(tracersVarName)
	start := make([]int, len(end))
	if _, err := f.Writer(tracersVarName, start, end).Write(buf); err != nil {
		ff.Close()
		return fmt.Errorf("oceanstate: writing variable %s to %s: %v", tracersVarName, fileName, err)
	}
	if err := ff.Close(); err != nil {
		return fmt.Errorf("oceanstate: closing %s: %v", fileName, err)
	}
	return nil
}

// read fills the host mirror of the current time level from the file.
func (s *State) read(fileName string, d *Decomp) error {
	if err := d.check(s); err != nil {
		return err
	}
	ff, err := os.Open(fileName)
	if err != nil {
		return fmt.Errorf("opening checkpoint file %s: %v", fileName, err)
	}
	f, err := cdf.Open(ff)
	if err != nil {
		ff.Close()
		return fmt.Errorf("reading checkpoint header of %s: %v", fileName, err)
	}
	if err := s.checkFileDims(f, d, fileName); err != nil {
		ff.Close()
		return err
	}
	r := f.Reader(tracersVarName, nil, nil)
	buf := r.Zero(-1).([]float64)
	if _, err := r.Read(buf); err != nil {
		ff.Close()
		return fmt.Errorf("reading variable %s from %s: %v", tracersVarName, fileName, err)
	}
	host, err := s.GetAllHost(0)
	if err != nil {
		ff.Close()
		return err
	}
	for local, global := range d.offsets {
		if global != unusedEntry {
			host.Elements[local] = buf[global]
		}
	}
	if err := s.MarkHostModified(0); err != nil {
		ff.Close()
		return err
	}
	if err := ff.Close(); err != nil {
		return fmt.Errorf("closing %s: %v", fileName, err)
	}
	return nil
}

func (s *State) checkFileDims(f *cdf.File, d *Decomp, fileName string) error {
	lengths := f.Header.Lengths(tracersVarName)
	if len(lengths) == 0 {
		return fmt.Errorf("oceanstate: variable %s not in file %s", tracersVarName, fileName)
	}
	want := []int{d.nCellsGlobal, d.nTracers, d.nVertLevels}
	if len(lengths) != len(want) {
		return fmt.Errorf("oceanstate: variable %s in %s has %d dimensions, want %d",
			tracersVarName, fileName, len(lengths), len(want))
	}
	for i, l := range lengths {
		if l != want[i] {
			return fmt.Errorf("oceanstate: dimension %s of %s is %d in %s but %d locally",
				tracerDimNames[i], tracersVarName, l, fileName, want[i])
		}
	}
	return nil
}

// rangeViolations returns the names of tracers whose owned values at
// the given time level fall outside the [ValidMin, ValidMax] range of
// their field metadata.
func (s *State) rangeViolations(offset int) []string {
	host, err := s.GetAllHost(offset)
	if err != nil {
		return nil
	}
	nv := s.mesh.NVertLevels
	var bad []string
	for idx := 0; idx < s.numTracers; idx++ {
		f, ok := s.fields[idx]
		if !ok {
			continue
		}
		owned := tracerView(host, idx).Elements[:s.mesh.NCellsOwned*nv]
		if len(owned) == 0 {
			continue
		}
		if floats.Min(owned) < f.ValidMin || floats.Max(owned) > f.ValidMax {
			bad = append(bad, s.names[idx])
		}
	}
	return bad
}
