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
	"os"
	"strings"

	"github.com/lnashier/viper"
	"github.com/spf13/cast"
)

// GroupSpec selects an ordered set of tracer names under a group name.
type GroupSpec struct {
	Name    string
	Tracers []string
}

// Config holds the configuration the tracer state is built from.
// Group declaration order matters: dense tracer indices are assigned
// group by group, so each group is a contiguous index range.
type Config struct {
	// NTimeLevels is the size of the time-level ring; at least 2.
	NTimeLevels int
	// Groups are the declared tracer groups in declaration order.
	Groups []GroupSpec
}

// LoadConfig reads a configuration file (any format viper understands;
// TOML in the examples). Environment variables in the path are
// expanded. Expected keys:
//
//	NTimeLevels = 2
//
//	[[TracerGroups]]
//	Name = "Base"
//	Tracers = ["Temp", "Salt"]
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(os.ExpandEnv(path))
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("oceanstate: reading configuration file %s: %v", path, err)
	}

	cfg := &Config{NTimeLevels: minTimeLevels}
	if v.IsSet("NTimeLevels") {
		cfg.NTimeLevels = v.GetInt("NTimeLevels")
	}
	if cfg.NTimeLevels < minTimeLevels {
		return nil, fmt.Errorf("oceanstate: configuration requests %d time levels but at least %d are required",
			cfg.NTimeLevels, minTimeLevels)
	}

	raw := cast.ToSlice(v.Get("TracerGroups"))
	if len(raw) == 0 {
		return nil, fmt.Errorf("oceanstate: configuration file %s declares no tracer groups", path)
	}
	for i, g := range raw {
		m := cast.ToStringMap(g)
		name := cast.ToString(configKey(m, "Name"))
		tracers := cast.ToStringSlice(configKey(m, "Tracers"))
		if name == "" {
			return nil, fmt.Errorf("oceanstate: tracer group %d has no name", i)
		}
		if len(tracers) == 0 {
			return nil, fmt.Errorf("oceanstate: tracer group %q selects no tracers", name)
		}
		cfg.Groups = append(cfg.Groups, GroupSpec{Name: name, Tracers: tracers})
	}
	return cfg, nil
}

// configKey looks key up in m without case sensitivity, matching
// viper's handling of top-level keys.
func configKey(m map[string]interface{}, key string) interface{} {
	if v, ok := m[key]; ok {
		return v
	}
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return nil
}
