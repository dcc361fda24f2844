package installer

import (
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/anelson-labs/cgx/internal/cache"
	"github.com/anelson-labs/cgx/internal/logger"
	"github.com/anelson-labs/cgx/internal/resolver"
)

// SourceBuilder installs a target by invoking the package manager's own
// build-and-install command as a subprocess. Compilation mechanics belong
// to that external tool; this type only shapes the invocation and locates
// the produced binary.
type SourceBuilder struct {
	// Command is the installer executable, "cargo" by default.
	Command string
}

// Method implements Installer.
func (SourceBuilder) Method() cache.InstallMethod { return cache.MethodBuildFromSource }

// Install implements Installer. The binary lands under destDir/bin.
func (b SourceBuilder) Install(target resolver.Target, destDir string) (string, error) {
	command := b.Command
	if command == "" {
		command = "cargo"
	}

	args := []string{"install", target.Name, "--root", destDir}

	switch target.Source.Kind {
	case resolver.SourceRegistry:
		args = append(args, "--version", target.Version)
		if target.Source.RegistryName != "" {
			args = append(args, "--registry", target.Source.RegistryName)
		}
	case resolver.SourceGit:
		args = append(args, "--git", target.Source.GitRepo, "--rev", target.Source.Commit)
	}

	if len(target.Features) > 0 {
		args = append(args, "--features", strings.Join(target.Features, ","))
	}
	if target.AllFeatures {
		args = append(args, "--all-features")
	}
	if target.NoDefaultFeatures {
		args = append(args, "--no-default-features")
	}

	logger.Info("[INFO] building %s from source...\n", target)
	logger.Debug("[DEBUG] running: %s %s\n", command, strings.Join(args, " "))

	cmd := exec.Command(command, args...)
	// Build progress belongs on stderr with the rest of the diagnostics.
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s install %s: %w", command, target.Name, err)
	}

	return findInstalledBinary(filepath.Join(destDir, "bin"), target.Name)
}

// findInstalledBinary locates the binary the installer produced. The common
// case is binDir/<name>; a crate whose binary is named differently is found
// as the sole executable in the directory.
func findInstalledBinary(binDir, name string) (string, error) {
	exact := filepath.Join(binDir, exeName(name))
	if info, err := os.Stat(exact); err == nil && !info.IsDir() {
		return exact, nil
	}

	entries, err := os.ReadDir(binDir)
	if err != nil {
		return "", fmt.Errorf("reading install output %s: %w", binDir, err)
	}

	var executables []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if isExecutable(info) {
			executables = append(executables, filepath.Join(binDir, entry.Name()))
		}
	}

	switch len(executables) {
	case 0:
		return "", fmt.Errorf("install of %s produced no binary under %s", name, binDir)
	case 1:
		return executables[0], nil
	default:
		return "", fmt.Errorf("install of %s produced %d binaries under %s; expected one named %s",
			name, len(executables), binDir, exeName(name))
	}
}

// exeName appends the platform executable suffix.
func exeName(name string) string {
	if runtime.GOOS == "windows" {
		return name + ".exe"
	}
	return name
}

func isExecutable(info fs.FileInfo) bool {
	if filepath.Ext(info.Name()) == ".exe" {
		return true
	}
	return info.Mode()&0o111 != 0
}
