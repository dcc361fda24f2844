package installer

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anelson-labs/cgx/internal/cache"
)

// buildTarGz produces a gzipped tarball with the given name->content files.
// Entries whose content starts with a shebang get the executable bit.
func buildTarGz(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, content := range files {
		mode := int64(0o644)
		if len(content) >= 2 && content[:2] == "#!" {
			mode = 0o755
		}
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     name,
			Mode:     mode,
			Size:     int64(len(content)),
			Typeflag: tar.TypeReg,
		}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func TestBinaryDistributionInstall(t *testing.T) {
	if hostPlatform() == "" {
		t.Skipf("no release platform for %s/%s", runtime.GOOS, runtime.GOARCH)
	}

	archive := buildTarGz(t, map[string]string{
		exeName("ripgrep"): "#!/bin/sh\necho 14.1.0\n",
		"README.md":        "docs",
	})

	wantPath := fmt.Sprintf("/ripgrep-14.1.0/ripgrep-14.1.0-%s.tar.gz", hostPlatform())
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != wantPath {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(archive)
	}))
	defer server.Close()

	d := BinaryDistribution{BaseURL: server.URL}
	destDir := t.TempDir()

	target := testTarget("ripgrep", "14.1.0")
	path, err := d.Install(target, destDir)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(destDir, "bin", exeName("ripgrep")), path)
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&0o111)
	assert.Equal(t, cache.MethodBinaryDistribution, d.Method())
}

func TestBinaryDistributionMissingArchiveIsNoPrebuilt(t *testing.T) {
	if hostPlatform() == "" {
		t.Skipf("no release platform for %s/%s", runtime.GOOS, runtime.GOARCH)
	}

	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	d := BinaryDistribution{BaseURL: server.URL}
	_, err := d.Install(testTarget("ripgrep", "14.1.0"), t.TempDir())
	assert.ErrorIs(t, err, ErrNoPrebuilt)
}

func TestBinaryDistributionServerErrorIsNotNoPrebuilt(t *testing.T) {
	if hostPlatform() == "" {
		t.Skipf("no release platform for %s/%s", runtime.GOOS, runtime.GOARCH)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	d := BinaryDistribution{BaseURL: server.URL}
	_, err := d.Install(testTarget("ripgrep", "14.1.0"), t.TempDir())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoPrebuilt)
}

func TestExtractTarGzRoundTrip(t *testing.T) {
	archive := buildTarGz(t, map[string]string{
		"tool-1.0.0/" + exeName("tool"): "#!/bin/sh\n",
		"tool-1.0.0/LICENSE":            "MIT",
	})
	src := filepath.Join(t.TempDir(), "tool.tar.gz")
	require.NoError(t, os.WriteFile(src, archive, 0o644))

	dest, err := extractArchive(src, filepath.Join(t.TempDir(), "out"))
	require.NoError(t, err)

	bin := filepath.Join(dest, "tool-1.0.0", exeName("tool"))
	info, err := os.Stat(bin)
	require.NoError(t, err)
	if runtime.GOOS != "windows" {
		assert.NotZero(t, info.Mode()&0o111)
	}

	license, err := os.ReadFile(filepath.Join(dest, "tool-1.0.0", "LICENSE"))
	require.NoError(t, err)
	assert.Equal(t, "MIT", string(license))
}

func TestExtractZipRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("tool/" + exeName("tool"))
	require.NoError(t, err)
	_, err = w.Write([]byte("binary"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	src := filepath.Join(t.TempDir(), "tool.zip")
	require.NoError(t, os.WriteFile(src, buf.Bytes(), 0o644))

	dest, err := extractArchive(src, filepath.Join(t.TempDir(), "out"))
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dest, "tool", exeName("tool")))
}

func TestExtractTarGzWithRootDirEntries(t *testing.T) {
	// GNU tar archives built with `tar -czf out.tgz -C dir .` carry a
	// leading "./" entry and "./"-prefixed member names.
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name:     "./",
		Mode:     0o755,
		Typeflag: tar.TypeDir,
	}))
	content := "#!/bin/sh\n"
	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name:     "./" + exeName("tool"),
		Mode:     0o755,
		Size:     int64(len(content)),
		Typeflag: tar.TypeReg,
	}))
	_, err := tw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())

	src := filepath.Join(t.TempDir(), "tool.tar.gz")
	require.NoError(t, os.WriteFile(src, buf.Bytes(), 0o644))

	dest, err := extractArchive(src, filepath.Join(t.TempDir(), "out"))
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dest, exeName("tool")))
}

func TestExtractRejectsEscapingEntry(t *testing.T) {
	archive := buildTarGz(t, map[string]string{
		"../escape": "nope",
	})
	src := filepath.Join(t.TempDir(), "evil.tar.gz")
	require.NoError(t, os.WriteFile(src, archive, 0o644))

	_, err := extractArchive(src, filepath.Join(t.TempDir(), "out"))
	assert.Error(t, err)
}

func TestExtractUnsupportedFormat(t *testing.T) {
	src := filepath.Join(t.TempDir(), "tool.rar")
	require.NoError(t, os.WriteFile(src, []byte("junk"), 0o644))

	_, err := extractArchive(src, filepath.Join(t.TempDir(), "out"))
	assert.ErrorContains(t, err, "unsupported archive format")
}

func TestFindExecutablePrefersExactName(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("exec bits are unix-only")
	}
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "helper"), []byte("#!/bin/sh\n"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "tool"), []byte("#!/bin/sh\n"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "README"), []byte("docs"), 0o644))

	path, err := findExecutableIn(root, "tool")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "tool"), path)
}

func TestFindExecutableNoneFound(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "README"), []byte("docs"), 0o644))

	_, err := findExecutableIn(root, "tool")
	assert.Error(t, err)
}
