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

import "fmt"

// Mesh holds the facts about one rank's share of the domain
// decomposition that the tracer state needs. It is produced by the
// external partitioner; this package never modifies it.
type Mesh struct {
	// NCellsOwned is the number of cells this rank owns.
	NCellsOwned int
	// NCellsAll is the total number of local cells, owned plus halo.
	NCellsAll int
	// NCellsSize is the allocated cell-array extent, including padding
	// and boundary cells. NCellsSize >= NCellsAll >= NCellsOwned.
	NCellsSize int
	// NCellsGlobal is the number of cells in the whole domain.
	NCellsGlobal int
	// NVertLevels is the number of vertical levels.
	NVertLevels int
	// CellIDs maps local cell index to 1-based global cell ID for the
	// first NCellsAll entries. Padding entries beyond NCellsAll are
	// ignored.
	CellIDs []int
}

func (m *Mesh) check() error {
	if m == nil {
		return fmt.Errorf("oceanstate: nil mesh")
	}
	if m.NCellsOwned <= 0 || m.NCellsAll < m.NCellsOwned || m.NCellsSize < m.NCellsAll {
		return fmt.Errorf("oceanstate: inconsistent mesh cell counts: owned %d, all %d, size %d",
			m.NCellsOwned, m.NCellsAll, m.NCellsSize)
	}
	if m.NCellsGlobal < m.NCellsOwned {
		return fmt.Errorf("oceanstate: global cell count %d is smaller than owned count %d",
			m.NCellsGlobal, m.NCellsOwned)
	}
	if m.NVertLevels <= 0 {
		return fmt.Errorf("oceanstate: mesh has %d vertical levels", m.NVertLevels)
	}
	if len(m.CellIDs) < m.NCellsAll {
		return fmt.Errorf("oceanstate: mesh has %d cell IDs but %d local cells",
			len(m.CellIDs), m.NCellsAll)
	}
	for i := 0; i < m.NCellsAll; i++ {
		if m.CellIDs[i] < 1 || m.CellIDs[i] > m.NCellsGlobal {
			return fmt.Errorf("oceanstate: cell %d has global ID %d outside [1, %d]",
				i, m.CellIDs[i], m.NCellsGlobal)
		}
	}
	return nil
}

// SingleRankMesh builds the decomposition of a domain onto one rank:
// every cell is owned, there is no halo, and one padding cell is kept
// at the end of the cell arrays.
func SingleRankMesh(nCellsGlobal, nVertLevels int) *Mesh {
	ids := make([]int, nCellsGlobal+1)
	for i := 0; i < nCellsGlobal; i++ {
		ids[i] = i + 1
	}
	return &Mesh{
		NCellsOwned:  nCellsGlobal,
		NCellsAll:    nCellsGlobal,
		NCellsSize:   nCellsGlobal + 1,
		NCellsGlobal: nCellsGlobal,
		NVertLevels:  nVertLevels,
		CellIDs:      ids,
	}
}

// PartitionLinear splits a periodic 1-D chain of nCellsGlobal cells
// into nRanks contiguous blocks with a one-cell halo on each side.
// It returns one Mesh per rank together with the halo links that a
// LocalGroup exchanger needs. Block sizes differ by at most one cell.
func PartitionLinear(nCellsGlobal, nVertLevels, nRanks int) ([]*Mesh, []HaloLink, error) {
	if nRanks < 1 || nCellsGlobal < 2*nRanks {
		return nil, nil, fmt.Errorf("oceanstate: cannot partition %d cells onto %d ranks",
			nCellsGlobal, nRanks)
	}
	starts := make([]int, nRanks+1) // 0-based global start of each block
	for r := 0; r <= nRanks; r++ {
		starts[r] = r * nCellsGlobal / nRanks
	}
	owner := func(global int) (rank, local int) {
		for r := 0; r < nRanks; r++ {
			if global >= starts[r] && global < starts[r+1] {
				return r, global - starts[r]
			}
		}
		panic("unreachable")
	}

	meshes := make([]*Mesh, nRanks)
	var links []HaloLink
	for r := 0; r < nRanks; r++ {
		nOwned := starts[r+1] - starts[r]
		nAll := nOwned + 2 // one halo cell from each neighbor
		ids := make([]int, nAll+1)
		for i := 0; i < nOwned; i++ {
			ids[i] = starts[r] + i + 1
		}
		left := (starts[r] - 1 + nCellsGlobal) % nCellsGlobal
		right := starts[r+1] % nCellsGlobal
		ids[nOwned] = left + 1
		ids[nOwned+1] = right + 1
		meshes[r] = &Mesh{
			NCellsOwned:  nOwned,
			NCellsAll:    nAll,
			NCellsSize:   nAll + 1,
			NCellsGlobal: nCellsGlobal,
			NVertLevels:  nVertLevels,
			CellIDs:      ids,
		}

		srcRank, srcLocal := owner(left)
		links = append(links, HaloLink{
			DstRank: r, DstCell: nOwned,
			SrcRank: srcRank, SrcCell: srcLocal,
		})
		srcRank, srcLocal = owner(right)
		links = append(links, HaloLink{
			DstRank: r, DstCell: nOwned + 1,
			SrcRank: srcRank, SrcCell: srcLocal,
		})
	}
	return meshes, links, nil
}
