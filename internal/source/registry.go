// Package source implements the external collaborator boundaries the engine
// consumes: registry version metadata queries, git ref resolution, and the
// binary identity probe used for cache integrity checks.
package source

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/anelson-labs/cgx/internal/logger"
)

// TokenEnvVar names the environment variable holding an optional registry
// auth token. Read-only; never written by the engine.
const TokenEnvVar = "CGX_REGISTRY_TOKEN"

// DefaultRegistryAPI is the metadata endpoint of the default registry.
const DefaultRegistryAPI = "https://crates.io/api/v1"

// VersionInfo describes one published version of a tool as reported by a
// registry's metadata API.
type VersionInfo struct {
	Num      string
	Yanked   bool
	Features []string
}

// VersionLister is the version/metadata query capability against a package
// source. Implementations are read-only against the source.
type VersionLister interface {
	// ListVersions returns every published version of the named tool,
	// newest first or not — callers must not rely on ordering.
	ListVersions(name string) ([]VersionInfo, error)
}

// RegistryClient queries a registry's HTTP metadata API.
type RegistryClient struct {
	// API is the registry's base API URL, e.g. https://crates.io/api/v1.
	API string

	// Token authenticates metadata queries when non-empty.
	Token string

	// HTTPClient defaults to a client with a 30s timeout when nil.
	HTTPClient *http.Client
}

// NewRegistryClient builds a client for the given API base, picking up the
// auth token from the environment when present.
func NewRegistryClient(api string) *RegistryClient {
	if api == "" {
		api = DefaultRegistryAPI
	}
	return &RegistryClient{API: api, Token: os.Getenv(TokenEnvVar)}
}

// registryVersionsResponse mirrors the registry's versions endpoint payload.
type registryVersionsResponse struct {
	Versions []struct {
		Num      string         `json:"num"`
		Yanked   bool           `json:"yanked"`
		Features map[string]any `json:"features"`
	} `json:"versions"`
}

// ListVersions implements VersionLister against the registry API.
func (c *RegistryClient) ListVersions(name string) ([]VersionInfo, error) {
	endpoint := fmt.Sprintf("%s/crates/%s/versions", c.API, url.PathEscape(name))
	logger.Debug("[DEBUG] querying registry versions: %s\n", endpoint)

	req, err := http.NewRequest(http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("building registry request: %w", err)
	}
	req.Header.Set("User-Agent", "cgx (https://github.com/anelson-labs/cgx)")
	if c.Token != "" {
		req.Header.Set("Authorization", c.Token)
	}

	client := c.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", endpoint, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			logger.Warn("[WARN] closing registry response body: %v\n", cerr)
		}
	}()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("tool %q not found in registry %s", name, c.API)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("registry %s returned HTTP %d for %q", c.API, resp.StatusCode, name)
	}

	var payload registryVersionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decoding registry response for %q: %w", name, err)
	}

	versions := make([]VersionInfo, 0, len(payload.Versions))
	for _, v := range payload.Versions {
		info := VersionInfo{Num: v.Num, Yanked: v.Yanked}
		for feature := range v.Features {
			info.Features = append(info.Features, feature)
		}
		versions = append(versions, info)
	}
	return versions, nil
}
