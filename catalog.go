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

// metadataFill marks undefined entries in tracer fields.
const metadataFill = -9.99e33

// DefineStandard defines the standard tracer catalog. Define skips
// tracers the configuration did not select, so the whole catalog is
// defined unconditionally; configurations choose a subset by naming
// tracers in their groups.
func DefineStandard(s *State) error {
	type def struct {
		name, description, units, standardName string
		validMin, validMax                     float64
	}
	defs := []def{
		{"Temp", "potential temperature", "degree_C",
			"sea_water_potential_temperature", -273.15, 100},
		{"Salt", "salinity", "1e-3",
			"sea_water_salinity", 0, 50},
		{"Debug1", "debug tracer 1", "none", "none", -1e20, 1e20},
		{"Debug2", "debug tracer 2", "none", "none", -1e20, 1e20},
		{"Debug3", "debug tracer 3", "none", "none", -1e20, 1e20},
	}
	for _, d := range defs {
		if err := s.Define(d.name, d.description, d.units, d.standardName,
			d.validMin, d.validMax, metadataFill); err != nil {
			return err
		}
	}
	return nil
}
