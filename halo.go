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
	"sync"

	"github.com/ctessum/sparse"
	"golang.org/x/sync/errgroup"
)

// ArrayKind identifies the mesh location an array is defined on.
type ArrayKind int

const (
	// OnCells marks arrays with one entry per cell. Tracer arrays are
	// cell-located.
	OnCells ArrayKind = iota
	// OnEdges marks arrays with one entry per edge.
	OnEdges
	// OnVertices marks arrays with one entry per vertex.
	OnVertices
)

func (k ArrayKind) String() string {
	switch k {
	case OnCells:
		return "cells"
	case OnEdges:
		return "edges"
	case OnVertices:
		return "vertices"
	default:
		return fmt.Sprintf("ArrayKind(%d)", int(k))
	}
}

// Exchanger synchronizes the halo region of a host-resident array with
// the ranks that own those cells. Exchanges are collective: every rank
// must call ExchangeFullArrayHalo in the same order or the exchange
// deadlocks. A failed exchange indicates a topology or configuration
// defect and is never retried.
type Exchanger interface {
	ExchangeFullArrayHalo(arr *sparse.DenseArray, kind ArrayKind) error
}

// NoopExchanger is the halo exchanger for a domain with no remote
// neighbors (single-rank runs).
type NoopExchanger struct{}

// ExchangeFullArrayHalo does nothing: a single rank has no halo to
// fill.
func (NoopExchanger) ExchangeFullArrayHalo(arr *sparse.DenseArray, kind ArrayKind) error {
	return nil
}

// HaloLink says that halo cell DstCell on rank DstRank is a replica of
// owned cell SrcCell on rank SrcRank.
type HaloLink struct {
	DstRank, DstCell int
	SrcRank, SrcCell int
}

// LocalGroup runs the collective halo exchange for a set of ranks
// hosted in one process, each on its own goroutine. Every rank obtains
// its Exchanger from Rank; an exchange completes only once all ranks
// have posted their arrays, mirroring the collective semantics of a
// message-passing exchange.
type LocalGroup struct {
	nRanks int
	links  [][]HaloLink // indexed by destination rank

	mu       sync.Mutex
	cond     *sync.Cond
	arrays   []*sparse.DenseArray
	posted   int
	gen      int
	applyErr error
}

// NewLocalGroup creates an exchange group for nRanks ranks connected by
// the given halo links.
func NewLocalGroup(nRanks int, links []HaloLink) (*LocalGroup, error) {
	g := &LocalGroup{
		nRanks: nRanks,
		links:  make([][]HaloLink, nRanks),
		arrays: make([]*sparse.DenseArray, nRanks),
	}
	g.cond = sync.NewCond(&g.mu)
	for _, l := range links {
		if l.DstRank < 0 || l.DstRank >= nRanks || l.SrcRank < 0 || l.SrcRank >= nRanks {
			return nil, fmt.Errorf("oceanstate: halo link %+v references a rank outside [0, %d)", l, nRanks)
		}
		g.links[l.DstRank] = append(g.links[l.DstRank], l)
	}
	return g, nil
}

// Rank returns the Exchanger through which the given rank participates
// in the group's collective exchanges.
func (g *LocalGroup) Rank(rank int) Exchanger {
	return &rankExchanger{g: g, rank: rank}
}

type rankExchanger struct {
	g    *LocalGroup
	rank int
}

func (e *rankExchanger) ExchangeFullArrayHalo(arr *sparse.DenseArray, kind ArrayKind) error {
	if kind != OnCells {
		return fmt.Errorf("oceanstate: halo exchange for %v-located arrays is not supported", kind)
	}
	if len(arr.Shape) != 3 {
		return fmt.Errorf("oceanstate: halo exchange needs a 3-D tracer array, got %d dimensions", len(arr.Shape))
	}
	return e.g.exchange(e.rank, arr)
}

func (g *LocalGroup) exchange(rank int, arr *sparse.DenseArray) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if rank < 0 || rank >= g.nRanks {
		return fmt.Errorf("oceanstate: exchange posted by rank %d but group holds %d ranks", rank, g.nRanks)
	}
	if g.arrays[rank] != nil {
		return fmt.Errorf("oceanstate: rank %d posted twice in one exchange; collective calls are out of order", rank)
	}
	g.arrays[rank] = arr
	g.posted++

	if g.posted < g.nRanks {
		gen := g.gen
		for g.gen == gen {
			g.cond.Wait()
		}
		return g.applyErr
	}

	// Last rank in applies the links on behalf of everyone.
	g.applyErr = g.apply()
	err := g.applyErr
	g.arrays = make([]*sparse.DenseArray, g.nRanks)
	g.posted = 0
	g.gen++
	g.cond.Broadcast()
	return err
}

// apply copies owned values into halo replicas, one destination rank
// per goroutine. Destinations are disjoint, so the copies do not race;
// sources are only read.
func (g *LocalGroup) apply() error {
	var eg errgroup.Group
	for dst := 0; dst < g.nRanks; dst++ {
		dst := dst
		eg.Go(func() error {
			dstArr := g.arrays[dst]
			nt, ncDst, nv := dstArr.Shape[0], dstArr.Shape[1], dstArr.Shape[2]
			for _, l := range g.links[dst] {
				srcArr := g.arrays[l.SrcRank]
				ncSrc := srcArr.Shape[1]
				if srcArr.Shape[0] != nt || srcArr.Shape[2] != nv {
					return fmt.Errorf("oceanstate: halo exchange: rank %d array shape %v does not match rank %d shape %v",
						l.SrcRank, srcArr.Shape, dst, dstArr.Shape)
				}
				if l.DstCell >= ncDst || l.SrcCell >= ncSrc {
					return fmt.Errorf("oceanstate: halo link %+v outside array extents (%d, %d cells)", l, ncDst, ncSrc)
				}
				for t := 0; t < nt; t++ {
					do := (t*ncDst + l.DstCell) * nv
					so := (t*ncSrc + l.SrcCell) * nv
					copy(dstArr.Elements[do:do+nv], srcArr.Elements[so:so+nv])
				}
			}
			return nil
		})
	}
	return eg.Wait()
}
