package ingest

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrArchiveTooLarge is returned when archive members inflate past the
// configured decompressed size limit.
var ErrArchiveTooLarge = errors.New("archive exceeds decompressed size limit")

// inflateBudget caps the total number of bytes inflated from one archive.
type inflateBudget struct {
	remaining int64
}

func newInflateBudget(limit int64) *inflateBudget {
	return &inflateBudget{remaining: limit}
}

// copy inflates f into dst, charging the bytes against the budget. The
// declared size is checked first, then the stream itself is capped since the
// header can lie.
func (b *inflateBudget) copy(dst io.Writer, f *zip.File) error {
	if f.UncompressedSize64 > uint64(b.remaining) {
		return fmt.Errorf("%s: %w", f.Name, ErrArchiveTooLarge)
	}
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()

	n, err := io.Copy(dst, io.LimitReader(rc, b.remaining+1))
	b.remaining -= n
	if b.remaining < 0 {
		return fmt.Errorf("%s: %w", f.Name, ErrArchiveTooLarge)
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", f.Name, err)
	}
	return nil
}

func openZip(data []byte) (*zip.Reader, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("invalid zip archive: %w", err)
	}
	return zr, nil
}

// firstMember returns the first archive member whose name ends in suffix, case-insensitively.
func firstMember(zr *zip.Reader, suffix string) *zip.File {
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if strings.HasSuffix(strings.ToLower(f.Name), suffix) {
			return f
		}
	}
	return nil
}

func readMember(f *zip.File, limit int64) ([]byte, error) {
	var buf bytes.Buffer
	if err := newInflateBudget(limit).copy(&buf, f); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// extractAll writes every member of zr below dir. Members that would land
// outside dir are rejected, as is an archive inflating past limit bytes.
func extractAll(zr *zip.Reader, dir string, limit int64) error {
	budget := newInflateBudget(limit)
	root := filepath.Clean(dir) + string(os.PathSeparator)
	for _, f := range zr.File {
		target := filepath.Join(dir, filepath.FromSlash(f.Name))
		if !strings.HasPrefix(target, root) {
			return fmt.Errorf("archive member %q escapes extraction directory", f.Name)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		if err := extractFile(f, target, budget); err != nil {
			return err
		}
	}
	return nil
}

func extractFile(f *zip.File, target string, budget *inflateBudget) error {
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if err := budget.copy(out, f); err != nil {
		out.Close()
		return fmt.Errorf("extract: %w", err)
	}
	return out.Close()
}
