package installer

import (
	"archive/tar"
	"archive/zip"
	"compress/bzip2"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bodgit/sevenzip"
	"github.com/xi2/xz"

	"github.com/anelson-labs/cgx/internal/logger"
)

// extractArchive unpacks a release archive into dest and returns dest.
// Supported formats: .tar.gz/.tgz, .tar.bz2, .tar.xz, .tar, .zip, .7z.
func extractArchive(src, dest string) (string, error) {
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return "", fmt.Errorf("creating extraction directory: %w", err)
	}

	name := strings.ToLower(filepath.Base(src))
	logger.Debug("[DEBUG] extracting %s to %s\n", src, dest)

	switch {
	case strings.HasSuffix(name, ".tar.gz") || strings.HasSuffix(name, ".tgz"):
		return dest, extractTarball(src, dest, func(r io.Reader) (io.Reader, error) {
			return gzip.NewReader(r)
		})
	case strings.HasSuffix(name, ".tar.bz2"):
		return dest, extractTarball(src, dest, func(r io.Reader) (io.Reader, error) {
			return bzip2.NewReader(r), nil
		})
	case strings.HasSuffix(name, ".tar.xz"):
		return dest, extractTarball(src, dest, func(r io.Reader) (io.Reader, error) {
			return xz.NewReader(r, 0)
		})
	case strings.HasSuffix(name, ".tar"):
		return dest, extractTarball(src, dest, func(r io.Reader) (io.Reader, error) {
			return r, nil
		})
	case strings.HasSuffix(name, ".zip"):
		return dest, extractZip(src, dest)
	case strings.HasSuffix(name, ".7z"):
		return dest, extractSevenZip(src, dest)
	default:
		return "", fmt.Errorf("unsupported archive format: %s", name)
	}
}

func extractTarball(src, dest string, decompress func(io.Reader) (io.Reader, error)) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			logger.Debug("[DEBUG] closing %s: %v\n", src, cerr)
		}
	}()

	r, err := decompress(f)
	if err != nil {
		return fmt.Errorf("opening decompressor: %w", err)
	}

	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading tar entry: %w", err)
		}

		target, err := securePath(dest, hdr.Name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeFile(target, tr, os.FileMode(hdr.Mode)&0o777); err != nil {
				return err
			}
		}
	}
}

func extractZip(src, dest string) error {
	zr, err := zip.OpenReader(src)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := zr.Close(); cerr != nil {
			logger.Debug("[DEBUG] closing %s: %v\n", src, cerr)
		}
	}()

	for _, file := range zr.File {
		target, err := securePath(dest, file.Name)
		if err != nil {
			return err
		}
		if file.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return err
		}
		err = writeFile(target, rc, file.Mode()&0o777)
		if cerr := rc.Close(); cerr != nil && err == nil {
			err = cerr
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func extractSevenZip(src, dest string) error {
	zr, err := sevenzip.OpenReader(src)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := zr.Close(); cerr != nil {
			logger.Debug("[DEBUG] closing %s: %v\n", src, cerr)
		}
	}()

	for _, file := range zr.File {
		target, err := securePath(dest, file.Name)
		if err != nil {
			return err
		}
		if file.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return err
		}
		err = writeFile(target, rc, file.Mode()&0o777)
		if cerr := rc.Close(); cerr != nil && err == nil {
			err = cerr
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// securePath joins an archive entry name onto the extraction root, rejecting
// entries that would escape it. An entry naming the root itself ("." or
// "./", as GNU tar emits for `tar -C dir .`) joins to the root and is valid.
func securePath(dest, name string) (string, error) {
	target := filepath.Join(dest, filepath.FromSlash(name))
	root := filepath.Clean(dest)
	if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
		return "", fmt.Errorf("archive entry %q escapes extraction directory", name)
	}
	return target, nil
}

func writeFile(target string, r io.Reader, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	if mode == 0 {
		mode = 0o644
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
