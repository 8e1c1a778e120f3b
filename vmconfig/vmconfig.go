// Copyright 2024 The Probevm Authors
// This file is part of Probevm.
//
// Probevm is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Probevm is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Probevm. If not, see <http://www.gnu.org/licenses/>.

// Package vmconfig is the TOML-backed layered configuration for resource
// limits and feature flags, parsed the way the teacher corpus configures
// its node (github.com/naoina/toml) rather than by hand-rolling a flag set.
package vmconfig

import (
	"os"

	"github.com/naoina/toml"
	"github.com/pkg/errors"
)

// Limits describes the resources a single VM thread may consume. The
// executor uses only StackSlots, as the initial slot capacity of each
// Thread's stack; the stack still grows past it. MaxFrameDepth and
// HeapBytes are parsed but not consulted: call depth and heap size are not
// bounded by this package's configuration.
type Limits struct {
	StackSlots    int   `toml:"stack_slots"`
	MaxFrameDepth int   `toml:"max_frame_depth"`
	HeapBytes     int64 `toml:"heap_bytes"`
}

// Features gates optional behavior. Both flags are documented in spec.md
// §9 as implementation-defined knobs, not semantics: turning them off must
// never change a program's observable result, only its diagnostics or
// instrumentation.
type Features struct {
	// CompilerPrettyDiag selects the Checked stack layout for a Thread
	// (vm.CreateMainThread), which validates frame contiguity and return
	// arity on every call and return instead of assuming them; with it
	// off, the Release layout is used.
	CompilerPrettyDiag bool `toml:"compiler-pretty-diag"`
	// Bench disables safety nets that exist purely to make misbehaving
	// scripts fail loudly (e.g. the FFI call rate limiter) so throughput
	// benchmarks measure the executor, not the limiter.
	Bench bool `toml:"bench"`
}

// Config is the root configuration document.
type Config struct {
	Limits   Limits   `toml:"limits"`
	Features Features `toml:"features"`
}

// Default returns the configuration a fresh VM thread uses absent an
// explicit config file.
func Default() Config {
	return Config{
		Limits: Limits{
			StackSlots:    1 << 16,
			MaxFrameDepth: 1024,
			HeapBytes:     64 << 20,
		},
	}
}

// Load reads and parses a TOML configuration file at path, starting from
// Default and overriding only the fields the file sets.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "vmconfig: reading %s", path)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "vmconfig: parsing %s", path)
	}
	return cfg, nil
}
