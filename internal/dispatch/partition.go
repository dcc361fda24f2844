// Package dispatch partitions the command line between the engine and the
// invoked tool, applies the build-tool subcommand convention, and executes
// the resolved binary.
package dispatch

import (
	"errors"
	"fmt"
	"strings"
)

// BuildToolName is the literal first token that triggers the plugin
// subcommand form: `cgx cargo deny ...` resolves the plugin binary
// `cargo-deny` while dispatching `deny` as its first runtime argument.
const BuildToolName = "cargo"

// ErrMissingTool reports an invocation with no tool token at all.
var ErrMissingTool = errors.New("no tool specified")

// Invocation is the partitioned command line. Engine flags were already
// consumed by the flag parser (interspersed parsing is off, so everything
// from the first non-flag token onward arrives here untouched).
type Invocation struct {
	// SpecToken is the tool specifier to parse and resolve, with the
	// build-tool prefix already applied in the subcommand form.
	SpecToken string

	// RunPrefixArgs are arguments the binary expects before the user's own:
	// the unprefixed subcommand name in the build-tool form, nil otherwise.
	RunPrefixArgs []string

	// ToolArgs are the user's arguments, passed to the binary verbatim.
	ToolArgs []string
}

// Partition splits the positional arguments. args[0] is the tool token;
// everything after it belongs to the tool. A first `--` token after the
// tool name is the explicit "verbatim from here" marker and is consumed.
//
// When args[0] is the build tool's own name, the second token is the real
// specifier: `cargo deny@0.14` resolves the install target `cargo-deny@0.14`
// and the runtime invocation keeps `deny` as the subcommand argument.
func Partition(args []string) (Invocation, error) {
	if len(args) == 0 {
		return Invocation{}, ErrMissingTool
	}

	token := args[0]
	rest := args[1:]

	inv := Invocation{SpecToken: token}
	if token == BuildToolName && len(rest) > 0 && rest[0] != "--" {
		sub := rest[0]
		rest = rest[1:]

		name, version, hasVersion := strings.Cut(sub, "@")
		if name == "" {
			return Invocation{}, fmt.Errorf("empty %s subcommand name", BuildToolName)
		}
		inv.SpecToken = BuildToolName + "-" + name
		if hasVersion {
			inv.SpecToken += "@" + version
		}
		inv.RunPrefixArgs = []string{name}
	}

	inv.ToolArgs = dropSeparator(rest)
	return inv, nil
}

// dropSeparator removes the first `--` token; everything around it is
// already tool-scoped, the marker only forces that interpretation.
func dropSeparator(args []string) []string {
	for i, a := range args {
		if a == "--" {
			out := make([]string, 0, len(args)-1)
			out = append(out, args[:i]...)
			return append(out, args[i+1:]...)
		}
	}
	return args
}
