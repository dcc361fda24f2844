package cmd

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/anelson-labs/cgx/internal/config"
	"github.com/anelson-labs/cgx/internal/dispatch"
	"github.com/anelson-labs/cgx/internal/installer"
	"github.com/anelson-labs/cgx/internal/logger"
	"github.com/anelson-labs/cgx/internal/resolver"
	"github.com/anelson-labs/cgx/internal/toolspec"
)

// version is stamped by the release build.
var version = "dev"

// Exit codes reserved for engine-level failures, so scripts can tell "the
// tool failed" apart from "cgx itself failed". On success cgx exits with
// the invoked tool's own exit code.
const (
	exitConfigError  = 120
	exitBadSpecifier = 121
	exitResolution   = 122
	exitInstall      = 123
	exitLockTimeout  = 124
	exitLaunch       = 125
)

// engineFlags holds every flag cgx consumes for itself. Flags after the
// first non-flag token are never parsed here; they belong to the tool.
type engineFlags struct {
	features          string
	allFeatures       bool
	noDefaultFeatures bool
	unlocked          bool

	git      string
	branch   string
	tag      string
	rev      string
	registry string

	configFile  string
	noExec      bool
	listAliases bool
	lockTimeout time.Duration

	debug        bool
	quiet        bool
	printVersion bool
}

var flags engineFlags

var rootCmd = &cobra.Command{
	Use:   "cgx [flags] TOOL[@VERSION] [--] [tool-args...]",
	Short: "Run a tool from the package registry, installing it if necessary",
	Long: `cgx resolves a tool specifier against the merged configuration, ensures a
matching binary is installed and cached, then executes it with the given
arguments, forwarding stdio and the exit code.

The build-tool subcommand form "cgx cargo SUBCOMMAND" resolves the plugin
binary cargo-SUBCOMMAND and dispatches the subcommand per cargo's own
convention.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Args:          cobra.ArbitraryArgs,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger.Init(flags.debug, flags.quiet)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 && !flags.listAliases && !flags.printVersion {
			_ = cmd.Help()
			return &exitError{code: exitBadSpecifier, err: dispatch.ErrMissingTool}
		}
		return runEngine(args)
	},
}

func init() {
	registerFlags(rootCmd.Flags())
}

func registerFlags(f *pflag.FlagSet) {
	// Everything after the first non-flag token belongs to the invoked
	// tool, so flag parsing must stop there.
	f.SetInterspersed(false)

	f.StringVarP(&flags.features, "features", "F", "", "Comma or space separated list of features to activate")
	f.BoolVar(&flags.allFeatures, "all-features", false, "Activate all available features")
	f.BoolVar(&flags.noDefaultFeatures, "no-default-features", false, "Do not activate the default features")
	f.BoolVar(&flags.unlocked, "unlocked", false, "Build from source instead of preferring a pre-built binary")

	f.StringVar(&flags.git, "git", "", "Resolve the tool from the git repository at this URL")
	f.StringVar(&flags.branch, "branch", "", "Branch to use with a git source")
	f.StringVar(&flags.tag, "tag", "", "Tag to use with a git source")
	f.StringVar(&flags.rev, "rev", "", "Commit to use with a git source")
	f.StringVar(&flags.registry, "registry", "", "Named registry (declared in config) to resolve against")

	f.StringVar(&flags.configFile, "config-file", "", "Read configuration from this file only, disabling discovery")
	f.BoolVar(&flags.noExec, "no-exec", false, "Resolve and install, then print the binary path instead of executing")
	f.BoolVar(&flags.listAliases, "list-aliases", false, "Print the effective alias table and exit")
	f.DurationVar(&flags.lockTimeout, "timeout", installer.DefaultLockTimeout, "Bound on waiting for a concurrent install of the same target")

	f.BoolVar(&flags.debug, "debug", false, "Enable debug logging")
	f.BoolVarP(&flags.quiet, "quiet", "q", false, "Suppress progress output")
	f.BoolVarP(&flags.printVersion, "version", "V", false, "Print the cgx version and exit")
}

// Execute runs the CLI and returns the process exit code: the invoked
// tool's code, or a reserved engine code on failure.
func Execute() int {
	code, err := execute()
	if err != nil {
		logger.Error("[ERROR] %v\n", err)
	}
	return code
}

func execute() (int, error) {
	err := rootCmd.Execute()
	if err == nil {
		return exitCode, nil
	}

	var exit *exitError
	if errors.As(err, &exit) {
		return exit.code, exit.err
	}
	// cobra's own flag errors count as bad input.
	return exitBadSpecifier, err
}

// exitCode carries the child's exit status out of RunE when the tool itself
// ran and failed; that is success from the engine's point of view.
var exitCode int

// exitError pairs an engine failure with its reserved exit code.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

// classify maps the error taxonomy onto the reserved exit code range.
func classify(err error) *exitError {
	var fragErr *config.FragmentError
	switch {
	case errors.As(err, &fragErr), errors.Is(err, config.ErrAmbiguousPin):
		return &exitError{code: exitConfigError, err: err}
	case errors.Is(err, toolspec.ErrInvalidSpecifier),
		errors.Is(err, toolspec.ErrAliasChain),
		errors.Is(err, dispatch.ErrMissingTool):
		return &exitError{code: exitBadSpecifier, err: err}
	case errors.Is(err, resolver.ErrNoMatchingVersion),
		errors.Is(err, resolver.ErrUnknownSource),
		errors.Is(err, resolver.ErrAmbiguousFeatures),
		errors.Is(err, resolver.ErrUncheckableConstraint):
		return &exitError{code: exitResolution, err: err}
	case errors.Is(err, installer.ErrInstallTimeout):
		return &exitError{code: exitLockTimeout, err: err}
	case errors.Is(err, dispatch.ErrLaunchFailure):
		return &exitError{code: exitLaunch, err: err}
	default:
		return &exitError{code: exitInstall, err: err}
	}
}

func printVersion() {
	fmt.Printf("cgx %s\n", version)
}

func printAliases(cfg *config.Config) {
	if len(cfg.Aliases) == 0 {
		fmt.Println("no aliases configured")
		return
	}
	names := make([]string, 0, len(cfg.Aliases))
	for alias := range cfg.Aliases {
		names = append(names, alias)
	}
	sort.Strings(names)
	for _, alias := range names {
		fmt.Printf("%s -> %s\n", alias, cfg.Aliases[alias])
	}
}

func printBinaryPath(path string) {
	fmt.Println(path)
}

// cwd is split out so tests can pin the start directory.
func cwd() string {
	dir, err := os.Getwd()
	if err != nil {
		return "."
	}
	return dir
}
