package dispatch

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/anelson-labs/cgx/internal/logger"
)

// ErrLaunchFailure reports a binary that could not be started after a
// successful installation. Distinct from resolution and install errors:
// it signals an internal inconsistency, and the caller invalidates the
// cache entry for the tool.
var ErrLaunchFailure = errors.New("failed to launch installed binary")

// Run executes the binary with the given arguments, connecting the standard
// streams directly with no buffering or transformation, and returns the
// child's exit code. Interrupts are left to the child: the parent ignores
// them while waiting so the tool can handle its own signal semantics.
func Run(binaryPath string, args []string) (int, error) {
	logger.Debug("[DEBUG] exec %s %v\n", binaryPath, args)

	cmd := exec.Command(binaryPath, args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrLaunchFailure, binaryPath, err)
	}

	signal.Ignore(os.Interrupt)
	defer signal.Reset(os.Interrupt)

	err := cmd.Wait()
	if err == nil {
		return 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// A signal death has no exit status; report the shell convention
		// 128+N rather than ExitCode's -1.
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return 128 + int(ws.Signal()), nil
		}
		return exitErr.ExitCode(), nil
	}
	return 0, fmt.Errorf("%w: %s: %v", ErrLaunchFailure, binaryPath, err)
}
