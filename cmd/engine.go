package cmd

import (
	"errors"
	"strings"

	"github.com/anelson-labs/cgx/internal/cache"
	"github.com/anelson-labs/cgx/internal/config"
	"github.com/anelson-labs/cgx/internal/dispatch"
	"github.com/anelson-labs/cgx/internal/installer"
	"github.com/anelson-labs/cgx/internal/logger"
	"github.com/anelson-labs/cgx/internal/resolver"
	"github.com/anelson-labs/cgx/internal/source"
	"github.com/anelson-labs/cgx/internal/toolspec"
)

// runEngine is the full pipeline: partition the arguments, parse the
// specifier, merge configuration, resolve, ensure installed, dispatch.
// Errors come back wrapped in an exitError carrying the reserved code.
func runEngine(args []string) error {
	if flags.printVersion {
		printVersion()
		return nil
	}

	cfg, err := config.Load(cwd(), config.Overrides{ConfigFile: flags.configFile})
	if err != nil {
		return classify(err)
	}

	if flags.listAliases {
		printAliases(cfg)
		return nil
	}

	inv, err := dispatch.Partition(args)
	if err != nil {
		return classify(err)
	}

	spec, err := toolspec.Parse(inv.SpecToken)
	if err != nil {
		return classify(err)
	}
	spec, err = toolspec.ResolveAlias(spec, cfg.Aliases)
	if err != nil {
		return classify(err)
	}

	req := resolver.Request{
		Features:          parseFeatures(flags.features),
		AllFeatures:       flags.allFeatures,
		NoDefaultFeatures: flags.noDefaultFeatures,
		Git:               flags.git,
		Branch:            flags.branch,
		Tag:               flags.tag,
		Rev:               flags.rev,
		Registry:          flags.registry,
	}

	target, err := resolver.Resolve(spec, req, cfg, resolver.DefaultSources())
	if err != nil {
		return classify(err)
	}
	logger.Debug("[DEBUG] resolved target: %s (key %s)\n", target, target.CacheKey())

	manifest := cache.New(cfg.ManifestPath(), source.VersionFlagProber{})
	orch := &installer.Orchestrator{
		Manifest:     manifest,
		BinDir:       cfg.BinDir,
		LocksDir:     cfg.LocksDir(),
		LockTimeout:  flags.lockTimeout,
		ForceBuild:   flags.unlocked,
		Distribution: installer.BinaryDistribution{},
		Builder:      installer.SourceBuilder{},
	}

	binaryPath, err := orch.EnsureInstalled(target)
	if err != nil {
		return classify(err)
	}

	if flags.noExec {
		// The one thing written to stdout, for scripting.
		printBinaryPath(binaryPath)
		return nil
	}

	toolArgs := append(append([]string(nil), inv.RunPrefixArgs...), inv.ToolArgs...)
	code, err := dispatch.Run(binaryPath, toolArgs)
	if err != nil {
		if errors.Is(err, dispatch.ErrLaunchFailure) {
			// A vanished binary right after a successful install means the
			// bookkeeping can no longer be trusted for this tool.
			if ierr := manifest.Invalidate(target.Name); ierr != nil {
				logger.Warn("[WARN] invalidating cache for %s: %v\n", target.Name, ierr)
			}
		}
		return classify(err)
	}

	exitCode = code
	return nil
}

// parseFeatures splits a comma or space separated feature list.
func parseFeatures(s string) []string {
	if s == "" {
		return nil
	}
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' '
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
