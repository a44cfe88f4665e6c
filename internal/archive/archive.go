// Package archive packages an export directory into a single zip file.
package archive

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dsnet/compress/bzip2"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/ddki/git-export/internal/logging"
)

// ErrSourceNotFound indicates the source directory is missing or not a directory.
var ErrSourceNotFound = errors.New("source directory not found")

// ErrArchiveWrite indicates the archive could not be created or an entry could not be written.
var ErrArchiveWrite = errors.New("archive write failed")

// Method is a zip compression method.
type Method uint16

// Supported compression methods.
const (
	Store   = Method(zip.Store)
	Deflate = Method(zip.Deflate)
	Bzip2   = Method(12) // APPNOTE.TXT method 12
)

// DefaultMode is the permission mode recorded on every entry.
const DefaultMode os.FileMode = 0o755

// FileMode is the permission mode of a newly created archive file.
const FileMode os.FileMode = 0o644

// ParseMethod converts a method name ("bzip2", "deflate", "store") to a Method.
func ParseMethod(name string) (Method, error) {
	switch strings.ToLower(name) {
	case "bzip2", "":
		return Bzip2, nil
	case "deflate":
		return Deflate, nil
	case "store":
		return Store, nil
	default:
		return 0, fmt.Errorf("unknown compression method %q (want bzip2, deflate or store)", name)
	}
}

// String returns the method name.
func (m Method) String() string {
	switch m {
	case Store:
		return "store"
	case Deflate:
		return "deflate"
	case Bzip2:
		return "bzip2"
	default:
		return fmt.Sprintf("method(%d)", uint16(m))
	}
}

// Summary describes a written archive.
type Summary struct {
	Path    string   `json:"path"`
	Method  string   `json:"method"`
	Files   int      `json:"files"`
	Dirs    int      `json:"dirs"`
	Bytes   int64    `json:"bytes"` // Uncompressed content size
	Entries []string `json:"-"`
}

// Writer builds zip archives from directories on a filesystem.
type Writer struct {
	fs     afero.Fs
	method Method
	mode   os.FileMode
	logger *zap.Logger
}

// Option configures a Writer.
type Option func(*Writer)

// WithMethod sets the compression method (default Bzip2).
func WithMethod(m Method) Option {
	return func(w *Writer) { w.method = m }
}

// WithMode sets the permission mode recorded on entries (default DefaultMode).
func WithMode(mode os.FileMode) Option {
	return func(w *Writer) { w.mode = mode }
}

// WithLogger sets the diagnostics logger.
func WithLogger(logger *zap.Logger) Option {
	return func(w *Writer) { w.logger = logging.OrNop(logger) }
}

// NewWriter creates a Writer on fs.
func NewWriter(fs afero.Fs, opts ...Option) *Writer {
	w := &Writer{fs: fs, method: Bzip2, mode: DefaultMode, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write archives every entry below src into dst. The archive is built in a
// temporary file next to dst and renamed into place only on success.
func (w *Writer) Write(ctx context.Context, src, dst string) (*Summary, error) {
	info, err := w.fs.Stat(src)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, src)
	}

	tmp, err := afero.TempFile(w.fs, filepath.Dir(dst), "."+filepath.Base(dst)+"-*.tmp")
	if err != nil {
		return nil, fmt.Errorf("%w: creating %s: %w", ErrArchiveWrite, dst, err)
	}
	tmpName := tmp.Name()

	sum, err := w.writeZip(ctx, tmp, src, []string{tmpName, dst})
	if closeErr := tmp.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("%w: closing %s: %w", ErrArchiveWrite, tmpName, closeErr)
	}
	if err != nil {
		_ = w.fs.Remove(tmpName)
		return nil, err
	}

	if err := w.fs.Chmod(tmpName, w.fileMode(dst)); err != nil {
		_ = w.fs.Remove(tmpName)
		return nil, fmt.Errorf("%w: setting mode on %s: %w", ErrArchiveWrite, tmpName, err)
	}
	if err := w.fs.Rename(tmpName, dst); err != nil {
		_ = w.fs.Remove(tmpName)
		return nil, fmt.Errorf("%w: renaming to %s: %w", ErrArchiveWrite, dst, err)
	}
	sum.Path = dst
	w.logger.Debug("archive written", zap.String("path", dst),
		zap.Int("files", sum.Files), zap.Int("dirs", sum.Dirs), zap.Stringer("method", w.method))
	return sum, nil
}

// fileMode returns the permissions for the finished archive: those of the
// archive being replaced, or FileMode for a new one.
func (w *Writer) fileMode(dst string) os.FileMode {
	if info, err := w.fs.Stat(dst); err == nil && info.Mode().IsRegular() {
		return info.Mode().Perm()
	}
	return FileMode
}

// writeZip streams the directory walk into a zip writer on out.
// Paths in skip (the archive itself) are left out when they fall inside src.
func (w *Writer) writeZip(ctx context.Context, out io.Writer, src string, skip []string) (*Summary, error) {
	zw := zip.NewWriter(out)
	zw.RegisterCompressor(uint16(Bzip2), newBzip2Writer)

	sum := &Summary{Method: w.method.String()}
	walkErr := afero.Walk(w.fs, src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." || sameFile(path, skip) {
			return nil
		}
		name := filepath.ToSlash(rel)

		switch {
		case info.IsDir():
			if err := w.addDir(zw, name, info); err != nil {
				return err
			}
			sum.Dirs++
		case info.Mode().IsRegular():
			n, err := w.addFile(zw, name, path, info)
			if err != nil {
				return err
			}
			sum.Files++
			sum.Bytes += n
		default:
			w.logger.Debug("skipping non-regular entry", zap.String("path", path))
			return nil
		}
		sum.Entries = append(sum.Entries, name)
		return nil
	})
	if walkErr != nil {
		_ = zw.Close()
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(walkErr, ctxErr) {
			return nil, walkErr
		}
		return nil, fmt.Errorf("%w: %w", ErrArchiveWrite, walkErr)
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("%w: finishing archive: %w", ErrArchiveWrite, err)
	}
	return sum, nil
}

func (w *Writer) addDir(zw *zip.Writer, name string, info os.FileInfo) error {
	hdr := &zip.FileHeader{Name: name + "/", Method: zip.Store, Modified: info.ModTime()}
	hdr.SetMode(os.ModeDir | w.mode)
	if _, err := zw.CreateHeader(hdr); err != nil {
		return fmt.Errorf("adding directory %s: %w", name, err)
	}
	return nil
}

func (w *Writer) addFile(zw *zip.Writer, name, path string, info os.FileInfo) (int64, error) {
	hdr := &zip.FileHeader{Name: name, Method: uint16(w.method), Modified: info.ModTime()}
	hdr.SetMode(w.mode)
	dst, err := zw.CreateHeader(hdr)
	if err != nil {
		return 0, fmt.Errorf("adding file %s: %w", name, err)
	}

	f, err := w.fs.Open(path)
	if err != nil {
		return 0, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck // read-only file

	n, err := io.Copy(dst, f)
	if err != nil {
		return 0, fmt.Errorf("writing %s: %w", name, err)
	}
	return n, nil
}

// newBzip2Writer adapts dsnet bzip2 to zip.Compressor.
func newBzip2Writer(out io.Writer) (io.WriteCloser, error) {
	return bzip2.NewWriter(out, &bzip2.WriterConfig{Level: bzip2.BestCompression})
}

// sameFile reports whether path names one of the candidates.
func sameFile(path string, candidates []string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	for _, c := range candidates {
		if cAbs, err := filepath.Abs(c); err == nil && cAbs == abs {
			return true
		}
	}
	return false
}
