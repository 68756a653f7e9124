// Command rvld is the CLI entry point. It keeps the teacher's hand-rolled
// flag-parsing shape rather than pulling in a flag-parsing library: no
// example repo in the pack does so, and spec.md's Non-goals explicitly
// exclude "CLI/UX" from the core's concerns. Everything past flag parsing
// calls into internal/module, which reports errors as values. Besides
// this main, only utils.Fatal calls os.Exit; the internal packages reach
// it through utils.Read/utils.Write when a binary decode or encode fails.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nyxlink/rvld/internal/backend"
	"github.com/nyxlink/rvld/internal/backend/arm"
	"github.com/nyxlink/rvld/internal/backend/riscv64"
	"github.com/nyxlink/rvld/internal/diag"
	"github.com/nyxlink/rvld/internal/module"
	"github.com/nyxlink/rvld/internal/utils"
)

var version string

type cliArgs struct {
	Output       string
	Emulation    string
	Entry        string
	LibraryPaths []string
	Scripts      []string
	Relocatable  bool
	Shared       bool
}

func main() {
	args := &cliArgs{Output: "a.out"}
	remaining := parseArgs(args)

	if len(remaining) == 0 {
		utils.Fatal("no input files")
	}

	be, err := selectBackend(args, remaining)
	if err != nil {
		utils.Fatal(err.Error())
	}

	kind := module.KindExecutable
	switch {
	case args.Relocatable:
		kind = module.KindRelocatable
	case args.Shared:
		kind = module.KindSharedObject
	}

	entry := args.Entry
	if entry == "" {
		entry = "_start"
	}
	opts := module.Options{Kind: kind, Backend: be, Entry: entry}
	for _, s := range args.Scripts {
		content, err := os.ReadFile(s)
		utils.MustNo(err)
		opts.Scripts = append(opts.Scripts, content)
	}

	m := module.New(opts)

	for _, name := range remaining {
		if strings.HasPrefix(name, "-l") {
			lib := findLibrary(args.LibraryPaths, name[2:])
			if lib == "" {
				utils.Fatal(fmt.Sprintf("library not found: %s", name[2:]))
			}
			name = lib
		}
		raw, err := os.ReadFile(name)
		utils.MustNo(err)
		if err := m.AddInput(name, raw); err != nil {
			reportAndExit(err)
		}
	}

	if err := m.ResolveSymbols(); err != nil {
		reportAndExit(err)
	}
	m.BinSections()
	m.AllocateCommons()
	m.ComputeMergedSectionSizes()
	if err := m.ScanRelocations(); err != nil {
		reportAndExit(err)
	}
	m.SpliceStubs()
	m.ComputeSectionSizes()
	if err := m.EvaluateScripts(); err != nil {
		reportAndExit(err)
	}
	m.Layout()
	m.FinalizeSymbolValues()
	image := m.Emit()

	if m.Diags.Len() > 0 {
		reportAndExit(m.Diags.Fail())
	}

	file, err := os.OpenFile(args.Output, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0777)
	utils.MustNo(err)
	defer file.Close()
	_, err = file.Write(image)
	utils.MustNo(err)
	utils.MustNo(file.Sync())
}

func selectBackend(args *cliArgs, inputs []string) (backend.Backend, error) {
	switch args.Emulation {
	case "elf64lriscv", "riscv64":
		return riscv64.New(), nil
	case "armelf", "arm":
		return arm.New(), nil
	case "":
		return riscv64.New(), nil
	default:
		return nil, fmt.Errorf("unknown -m argument: %s", args.Emulation)
	}
}

func findLibrary(paths []string, name string) string {
	for _, dir := range paths {
		candidate := filepath.Join(dir, "lib"+name+".a")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

func reportAndExit(err error) {
	if de, ok := err.(*diag.Error); ok {
		fmt.Fprintf(os.Stderr, "rvld: %s\n", de.Error())
	} else if me, ok := err.(*diag.MultiError); ok {
		for _, e := range me.Errs {
			fmt.Fprintf(os.Stderr, "rvld: %s\n", e.Error())
		}
	} else {
		fmt.Fprintf(os.Stderr, "rvld: %v\n", err)
	}
	os.Exit(1)
}

func parseArgs(a *cliArgs) []string {
	args := os.Args[1:]

	dashes := func(name string) []string {
		if len(name) == 1 {
			return []string{"-" + name}
		}
		return []string{"-" + name, "--" + name}
	}

	var arg string
	readArg := func(name string) bool {
		if len(args) == 0 {
			return false
		}
		for _, opt := range dashes(name) {
			if args[0] == opt {
				if len(args) == 1 {
					utils.Fatal(fmt.Sprintf("option -%s: argument missing", name))
				}
				arg = args[1]
				args = args[2:]
				return true
			}
			prefix := opt
			if len(name) > 1 {
				prefix += "="
			}
			if strings.HasPrefix(args[0], prefix) {
				arg = args[0][len(prefix):]
				args = args[1:]
				return true
			}
		}
		return false
	}

	readFlag := func(name string) bool {
		if len(args) == 0 {
			return false
		}
		for _, opt := range dashes(name) {
			if args[0] == opt {
				args = args[1:]
				return true
			}
		}
		return false
	}

	var remaining []string
	for len(args) > 0 {
		switch {
		case readFlag("help"):
			fmt.Printf("usage: %s [options] file...\n", os.Args[0])
			os.Exit(0)
		case readArg("o") || readArg("output"):
			a.Output = arg
		case readFlag("v") || readFlag("version"):
			fmt.Printf("rvld %s\n", version)
			os.Exit(0)
		case readArg("m"):
			a.Emulation = arg
		case readArg("L"):
			a.LibraryPaths = append(a.LibraryPaths, arg)
		case readArg("l"):
			remaining = append(remaining, "-l"+arg)
		case readArg("e") || readArg("entry"):
			a.Entry = arg
		case readArg("T") || readArg("script"):
			a.Scripts = append(a.Scripts, arg)
		case readFlag("r") || readFlag("relocatable"):
			a.Relocatable = true
		case readFlag("shared") || readFlag("Bshareable"):
			a.Shared = true
		case readArg("sysroot") || readFlag("static") || readArg("plugin") ||
			readArg("plugin-opt") || readFlag("as-needed") || readFlag("start-group") ||
			readFlag("end-group") || readArg("hash-style") || readArg("build-id") ||
			readFlag("s") || readFlag("no-relax"):
			// Ignored: outside this core's scope.
		default:
			if args[0][0] == '-' {
				utils.Fatal(fmt.Sprintf("unknown command line option: %s", args[0]))
			}
			remaining = append(remaining, args[0])
			args = args[1:]
		}
	}

	for i, path := range a.LibraryPaths {
		a.LibraryPaths[i] = filepath.Clean(path)
	}

	return remaining
}
