// Package toolspec parses a tool invocation token into a structured request.
//
// The grammar is NAME or NAME@VERSION, where VERSION is a semantic version
// constraint in the ecosystem's native syntax (exact, caret/minor-compatible,
// or wildcard). Alias substitution is applied at most once, before
// resolution; alias chains are an error, never traversed.
package toolspec

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// ErrInvalidSpecifier reports an empty token or a malformed version
// constraint. Raised before any network or disk activity.
var ErrInvalidSpecifier = errors.New("invalid tool specifier")

// ErrAliasChain reports an alias that maps to another alias.
var ErrAliasChain = errors.New("alias resolves to another alias")

// Spec is the user-facing request: a tool name and an optional version
// constraint. It is parsed once per invocation and never mutated.
type Spec struct {
	Name string

	// Constraint is nil when the token carried no @VERSION suffix.
	Constraint *semver.Constraints

	// ConstraintText is the raw constraint as the user wrote it, kept for
	// reporting and for cache-key stability.
	ConstraintText string
}

// Parse parses a NAME or NAME@VERSION token.
func Parse(token string) (Spec, error) {
	if strings.TrimSpace(token) == "" {
		return Spec{}, fmt.Errorf("%w: empty token", ErrInvalidSpecifier)
	}

	name, verText, hasVersion := strings.Cut(token, "@")
	if name == "" {
		return Spec{}, fmt.Errorf("%w: %q has no tool name", ErrInvalidSpecifier, token)
	}
	if !hasVersion {
		return Spec{Name: name}, nil
	}
	if verText == "" {
		return Spec{}, fmt.Errorf("%w: %q has an empty version", ErrInvalidSpecifier, token)
	}

	c, err := ParseConstraint(verText)
	if err != nil {
		return Spec{}, err
	}
	return Spec{Name: name, Constraint: c, ConstraintText: verText}, nil
}

// ParseConstraint parses a version constraint string. A bare version such as
// "14" or "14.1.0" means caret/minor-compatible, matching the source
// ecosystem's default; explicit operators and wildcards pass through.
func ParseConstraint(text string) (*semver.Constraints, error) {
	c, err := semver.NewConstraint(normalizeConstraint(text))
	if err != nil {
		return nil, fmt.Errorf("%w: version %q: %v", ErrInvalidSpecifier, text, err)
	}
	return c, nil
}

// normalizeConstraint prefixes bare versions with a caret. Anything already
// carrying an operator, wildcard, or range syntax is left alone.
func normalizeConstraint(text string) string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return trimmed
	}
	first := trimmed[0]
	if first >= '0' && first <= '9' && !strings.ContainsAny(trimmed, "*xX ,|") {
		return "^" + trimmed
	}
	return trimmed
}

// ResolveAlias substitutes spec.Name through the alias table at most once.
// A token that is not an alias is returned unchanged. An alias whose target
// is itself an alias is ErrAliasChain.
func ResolveAlias(spec Spec, aliases map[string]string) (Spec, error) {
	target, ok := aliases[spec.Name]
	if !ok {
		return spec, nil
	}
	if _, chained := aliases[target]; chained {
		return Spec{}, fmt.Errorf("%w: %s -> %s", ErrAliasChain, spec.Name, target)
	}
	spec.Name = target
	return spec, nil
}
