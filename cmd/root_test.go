package cmd

import (
	"errors"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anelson-labs/cgx/internal/config"
	"github.com/anelson-labs/cgx/internal/dispatch"
	"github.com/anelson-labs/cgx/internal/installer"
	"github.com/anelson-labs/cgx/internal/resolver"
	"github.com/anelson-labs/cgx/internal/toolspec"
)

func TestClassifyExitCodes(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"fragment error", &config.FragmentError{Path: "cgx.toml", Err: errors.New("bad toml")}, exitConfigError},
		{"ambiguous pin", config.ErrAmbiguousPin, exitConfigError},
		{"invalid specifier", toolspec.ErrInvalidSpecifier, exitBadSpecifier},
		{"alias chain", toolspec.ErrAliasChain, exitBadSpecifier},
		{"missing tool", dispatch.ErrMissingTool, exitBadSpecifier},
		{"no matching version", resolver.ErrNoMatchingVersion, exitResolution},
		{"unknown source", resolver.ErrUnknownSource, exitResolution},
		{"unknown feature", resolver.ErrAmbiguousFeatures, exitResolution},
		{"constraint on git source", resolver.ErrUncheckableConstraint, exitResolution},
		{"lock timeout", installer.ErrInstallTimeout, exitLockTimeout},
		{"launch failure", dispatch.ErrLaunchFailure, exitLaunch},
		{"anything else", errors.New("build exploded"), exitInstall},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			exit := classify(tc.err)
			assert.Equal(t, tc.code, exit.code)
			assert.ErrorIs(t, exit, tc.err)
		})
	}
}

func TestClassifyWrappedErrors(t *testing.T) {
	wrapped := &config.FragmentError{
		Path: "cgx.toml",
		Err:  errors.Join(config.ErrAmbiguousPin, errors.New("tool pinned twice")),
	}
	assert.Equal(t, exitConfigError, classify(wrapped).code)
}

func TestParseFeatures(t *testing.T) {
	assert.Nil(t, parseFeatures(""))
	assert.Equal(t, []string{"a"}, parseFeatures("a"))
	assert.Equal(t, []string{"a", "b"}, parseFeatures("a,b"))
	assert.Equal(t, []string{"a", "b"}, parseFeatures("a b"))
	assert.Equal(t, []string{"a", "b", "c"}, parseFeatures("a, b ,c"))
}

func TestRegisterFlagsStopsAtFirstPositional(t *testing.T) {
	f := pflag.NewFlagSet("cgx", pflag.ContinueOnError)
	registerFlags(f)

	require.NoError(t, f.Parse([]string{"--debug", "ripgrep", "--debug", "pattern"}))
	// The first --debug is the engine's; the second belongs to the tool.
	assert.Equal(t, []string{"ripgrep", "--debug", "pattern"}, f.Args())
}

func TestExitErrorUnwraps(t *testing.T) {
	inner := errors.New("boom")
	e := &exitError{code: exitInstall, err: inner}
	assert.ErrorIs(t, e, inner)
	assert.Equal(t, "boom", e.Error())
}
