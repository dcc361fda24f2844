// Package cache tracks which resolved targets have been installed and where
// their binaries live. The durable store is a JSON-lines append log: one
// record per line, later lines superseding earlier ones for the same cache
// key, with tombstone lines implementing invalidation. Appending a single
// line keeps crashes from corrupting earlier records, and the log is
// re-read on every lookup rather than cached across invocations.
package cache

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/anelson-labs/cgx/internal/logger"
	"github.com/anelson-labs/cgx/internal/resolver"
	"github.com/anelson-labs/cgx/internal/source"
)

// InstallMethod records how a binary was produced.
type InstallMethod string

const (
	MethodBuildFromSource    InstallMethod = "build-from-source"
	MethodBinaryDistribution InstallMethod = "binary-distribution"
)

// Record is the persisted fact that a resolved target was installed. For a
// given target at most one live record exists; re-recording the same key
// supersedes the earlier line.
type Record struct {
	Target      resolver.Target `json:"target"`
	BinaryPath  string          `json:"binary_path"`
	InstalledAt time.Time       `json:"installed_at"`
	Method      InstallMethod   `json:"install_method"`
}

// entry is one line of the append log.
type entry struct {
	// Op is "install" or "invalidate".
	Op string `json:"op"`

	// Key is the target cache key for install entries.
	Key string `json:"key,omitempty"`

	// Name is the tool name; invalidate entries carry only this.
	Name string `json:"name"`

	Record *Record `json:"record,omitempty"`
}

// Manifest is the installation cache handle. Reads are lock-free; writers
// hold the per-target install lock, so a reader may observe a slightly
// stale log — the integrity re-check in Lookup is the correctness guard.
type Manifest struct {
	path   string
	prober source.IdentityProber
}

// New opens a manifest stored at path. The prober confirms a recorded
// binary's identity before a hit is trusted.
func New(path string, prober source.IdentityProber) *Manifest {
	return &Manifest{path: path, prober: prober}
}

// Lookup returns the live record for target, or ok=false on a miss. A
// recorded binary that is gone, not executable, or reporting a different
// identity than the target is a miss, never an error: the caller reinstalls.
func (m *Manifest) Lookup(target resolver.Target) (Record, bool) {
	records, err := m.replay()
	if err != nil {
		logger.Warn("[WARN] unreadable installation manifest %s: %v\n", m.path, err)
		return Record{}, false
	}

	rec, ok := records[target.CacheKey()]
	if !ok {
		return Record{}, false
	}

	if !m.verify(target, rec) {
		return Record{}, false
	}
	return rec, true
}

// Record appends an installation record. Call only after the installer
// reported success and the binary was confirmed on disk.
func (m *Manifest) Record(target resolver.Target, binaryPath string, method InstallMethod) error {
	return m.append(entry{
		Op:   "install",
		Key:  target.CacheKey(),
		Name: target.Name,
		Record: &Record{
			Target:      target,
			BinaryPath:  binaryPath,
			InstalledAt: time.Now().UTC(),
			Method:      method,
		},
	})
}

// Invalidate drops every live record for the named tool. Only bookkeeping
// is removed; binaries on disk are reclaimed separately.
func (m *Manifest) Invalidate(name string) error {
	return m.append(entry{Op: "invalidate", Name: name})
}

// replay reads the whole log and folds it into the live record set.
func (m *Manifest) replay() (map[string]Record, error) {
	f, err := os.Open(m.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]Record{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			logger.Warn("[WARN] closing manifest: %v\n", cerr)
		}
	}()

	records := make(map[string]Record)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e entry
		if err := json.Unmarshal(line, &e); err != nil {
			// A torn final line from a crashed writer is skipped; every
			// complete line before it remains valid.
			logger.Debug("[DEBUG] skipping malformed manifest line: %v\n", err)
			continue
		}
		switch e.Op {
		case "install":
			if e.Record != nil {
				records[e.Key] = *e.Record
			}
		case "invalidate":
			for key, rec := range records {
				if rec.Target.Name == e.Name {
					delete(records, key)
				}
			}
		}
	}
	return records, scanner.Err()
}

func (m *Manifest) append(e entry) error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("creating manifest directory: %w", err)
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding manifest entry: %w", err)
	}
	data = append(data, '\n')

	f, err := os.OpenFile(m.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening manifest: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("appending manifest entry: %w", err)
	}
	return f.Close()
}

// verify re-checks that the recorded binary still exists, is executable,
// and reports the identity the record claims. External tampering or a
// partial write turns the hit into a miss.
func (m *Manifest) verify(target resolver.Target, rec Record) bool {
	info, err := os.Stat(rec.BinaryPath)
	if err != nil || info.IsDir() {
		logger.Debug("[DEBUG] cached binary missing for %s: %s\n", target.Name, rec.BinaryPath)
		return false
	}
	if info.Mode()&0o111 == 0 {
		logger.Debug("[DEBUG] cached binary not executable: %s\n", rec.BinaryPath)
		return false
	}

	// Git-sourced binaries report whatever version their source had; only
	// registry targets carry a version the probe can be checked against.
	if target.Source.Kind != resolver.SourceRegistry || m.prober == nil {
		return true
	}

	reported, err := m.prober.ProbeVersion(rec.BinaryPath)
	if err != nil {
		logger.Debug("[DEBUG] identity probe failed for %s: %v\n", rec.BinaryPath, err)
		return false
	}
	if reported != target.Version {
		logger.Warn("[WARN] cached %s reports version %s, expected %s; reinstalling\n",
			target.Name, reported, target.Version)
		return false
	}
	return true
}
