package installer

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/anelson-labs/cgx/internal/cache"
	"github.com/anelson-labs/cgx/internal/logger"
	"github.com/anelson-labs/cgx/internal/resolver"
)

// quickinstallBase hosts community-built release archives named by the
// convention <name>-<version>/<name>-<version>-<platform>.tar.gz.
const quickinstallBase = "https://github.com/cargo-bins/cargo-quickinstall/releases/download"

// BinaryDistribution installs a target from a pre-built release archive:
// download, extract, place the executable under destDir/bin. A target with
// no published archive yields ErrNoPrebuilt so the orchestrator can fall
// back to a source build.
type BinaryDistribution struct {
	// BaseURL overrides the quickinstall release host, mainly for tests.
	BaseURL string

	// HTTPClient defaults to a client with a 5 minute timeout when nil.
	HTTPClient *http.Client
}

// Method implements Installer.
func (BinaryDistribution) Method() cache.InstallMethod { return cache.MethodBinaryDistribution }

// Install implements Installer.
func (d BinaryDistribution) Install(target resolver.Target, destDir string) (string, error) {
	platform := hostPlatform()
	if platform == "" {
		return "", fmt.Errorf("%w: unsupported platform %s/%s", ErrNoPrebuilt, runtime.GOOS, runtime.GOARCH)
	}

	base := d.BaseURL
	if base == "" {
		base = quickinstallBase
	}
	tag := fmt.Sprintf("%s-%s", target.Name, target.Version)
	url := fmt.Sprintf("%s/%s/%s-%s.tar.gz", base, tag, tag, platform)

	tmpDir, err := os.MkdirTemp("", "cgx-download-*")
	if err != nil {
		return "", fmt.Errorf("creating download directory: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(tmpDir); err != nil {
			logger.Debug("[DEBUG] cleaning download directory %s: %v\n", tmpDir, err)
		}
	}()

	archive := filepath.Join(tmpDir, tag+".tar.gz")
	if err := d.download(url, archive); err != nil {
		return "", err
	}

	extracted, err := extractArchive(archive, filepath.Join(tmpDir, "extracted"))
	if err != nil {
		return "", fmt.Errorf("extracting %s: %w", archive, err)
	}

	binary, err := findExecutableIn(extracted, target.Name)
	if err != nil {
		return "", err
	}

	binDir := filepath.Join(destDir, "bin")
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return "", fmt.Errorf("creating %s: %w", binDir, err)
	}
	dest := filepath.Join(binDir, filepath.Base(binary))
	if err := copyFile(binary, dest, 0o755); err != nil {
		return "", fmt.Errorf("placing binary: %w", err)
	}

	logger.Debug("[DEBUG] installed pre-built %s from %s\n", target.Name, url)
	return dest, nil
}

func (d BinaryDistribution) download(url, dest string) error {
	logger.Info("[INFO] downloading pre-built binary %s\n", url)

	client := d.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Minute}
	}

	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("building download request: %w", err)
	}
	req.Header.Set("User-Agent", "cgx (https://github.com/anelson-labs/cgx)")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("downloading %s: %w", url, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			logger.Warn("[WARN] closing download body: %v\n", cerr)
		}
	}()

	// The release host answers 404 for any target that was never built.
	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w: %s", ErrNoPrebuilt, url)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("downloading %s: HTTP %d", url, resp.StatusCode)
	}

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("creating %s: %w", dest, err)
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		_ = out.Close()
		return fmt.Errorf("writing %s: %w", dest, err)
	}
	return out.Close()
}

// hostPlatform maps the Go runtime to the release archive platform triple.
// Empty means no archives exist for this host.
func hostPlatform() string {
	switch runtime.GOOS + "/" + runtime.GOARCH {
	case "linux/amd64":
		return "x86_64-unknown-linux-gnu"
	case "linux/arm64":
		return "aarch64-unknown-linux-gnu"
	case "darwin/amd64":
		return "x86_64-apple-darwin"
	case "darwin/arm64":
		return "aarch64-apple-darwin"
	case "windows/amd64":
		return "x86_64-pc-windows-msvc"
	default:
		return ""
	}
}

// findExecutableIn locates the tool's executable in an extraction root,
// preferring an exact name match over any other executable file.
func findExecutableIn(root, name string) (string, error) {
	var exact, fallback string
	err := filepath.WalkDir(root, func(path string, entry os.DirEntry, err error) error {
		if err != nil || entry.IsDir() {
			return err
		}
		info, err := entry.Info()
		if err != nil {
			return nil
		}
		if !isExecutable(info) {
			return nil
		}
		if entry.Name() == exeName(name) {
			exact = path
		} else if fallback == "" {
			fallback = path
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("scanning %s: %w", root, err)
	}
	if exact != "" {
		return exact, nil
	}
	if fallback != "" {
		return fallback, nil
	}
	return "", fmt.Errorf("archive for %s contains no executable", name)
}

func copyFile(src, dest string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := in.Close(); cerr != nil {
			logger.Debug("[DEBUG] closing %s: %v\n", src, cerr)
		}
	}()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
