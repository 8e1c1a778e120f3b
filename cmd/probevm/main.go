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

// Command probevm loads a compiled bytecode program and runs one of its
// functions to completion.
//
// Usage:
//
//	probevm [flags] <program.pvm>
//
// Flags:
//
//	-entry <name>   Function to run (default: main)
//	-pretty-diag    Use the Checked stack layout for richer fault context
//	-version        Print version and exit
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/probechain/probevm-core/ffi"
	"github.com/probechain/probevm-core/program"
	"github.com/probechain/probevm-core/value"
	"github.com/probechain/probevm-core/vm"
	"github.com/probechain/probevm-core/vmconfig"
)

const version = "0.1.0"

func main() {
	var (
		entry      = flag.String("entry", "main", "Function to run")
		prettyDiag = flag.Bool("pretty-diag", false, "Use the Checked stack layout for richer fault context")
		ver        = flag.Bool("version", false, "Print version and exit")
	)
	flag.Parse()

	if *ver {
		fmt.Printf("probevm %s\n", version)
		os.Exit(0)
	}

	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: probevm [flags] <program.pvm>")
		os.Exit(1)
	}

	data, err := os.ReadFile(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	prog, err := program.Load(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading program: %v\n", err)
		os.Exit(1)
	}

	funcID, fn, ok := prog.FunctionByName(*entry)
	if !ok {
		fmt.Fprintf(os.Stderr, "error: no function named %q\n", *entry)
		os.Exit(1)
	}

	cfg := vmconfig.Default()
	cfg.Features.CompilerPrettyDiag = *prettyDiag

	registry := ffi.NewRegistry(ffi.NewHostContext(0, 0, [20]byte{}))
	ffi.RegisterStandardLibrary(registry)
	registry.ApplyConfig(cfg)

	thread := vm.CreateMainThread(prog, registry, cfg)
	registry.BindHeap(thread.Heap())

	args := make([]value.Value, fn.NumParams)
	for i := range args {
		args[i] = value.NewNull()
	}

	results, err := thread.RunFunction(context.Background(), funcID, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "uncaught exception: %v\n", err)
		os.Exit(1)
	}

	for _, r := range results {
		fmt.Println(r.String())
	}
}
