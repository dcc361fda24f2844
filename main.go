package main

import (
	"os"

	"github.com/anelson-labs/cgx/cmd"
)

// cgx resolves a tool specifier, installs a matching binary if one is not
// already cached, and executes it transparently with the caller's
// arguments. All CLI handling lives in the cmd package; main only forwards
// the exit code, which is the invoked tool's own code on success and a
// reserved engine code on failure.
func main() {
	os.Exit(cmd.Execute())
}
