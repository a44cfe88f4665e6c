package archive

import (
	"archive/zip"
	"bytes"
	stdbzip2 "compress/bzip2"
	"context"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// populate writes files (slash-separated paths relative to dir) to fs.
func populate(t *testing.T, fs afero.Fs, dir string, files map[string][]byte) {
	t.Helper()
	for name, data := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, fs.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, afero.WriteFile(fs, path, data, 0o644))
	}
}

// readZip opens an archive from fs and returns its entries by name.
func readZip(t *testing.T, fs afero.Fs, path string) map[string]*zip.File {
	t.Helper()
	data, err := afero.ReadFile(fs, path)
	require.NoError(t, err)

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	zr.RegisterDecompressor(uint16(Bzip2), func(r io.Reader) io.ReadCloser {
		return io.NopCloser(stdbzip2.NewReader(r))
	})

	entries := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		entries[f.Name] = f
	}
	return entries
}

func readEntry(t *testing.T, f *zip.File) []byte {
	t.Helper()
	rc, err := f.Open()
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return data
}

func names(entries map[string]*zip.File) []string {
	out := make([]string, 0, len(entries))
	for name := range entries {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func TestWriteEntriesMatchSource(t *testing.T) {
	files := map[string][]byte{
		"readme.md":        []byte("v2"),
		"src/x.txt":        []byte("bin\x00data"),
		"src/deep/y.bin":   {0xff, 0xfe, 0x00, 0x01},
		"docs/empty.txt":   {},
		"docs/unicode.txt": []byte("héllo 世界"),
	}

	for _, method := range []Method{Bzip2, Deflate, Store} {
		t.Run(method.String(), func(t *testing.T) {
			fs := afero.NewMemMapFs()
			populate(t, fs, "/work/git-export", files)

			w := NewWriter(fs, WithMethod(method))
			sum, err := w.Write(context.Background(), "/work/git-export", "/work/source.zip")
			require.NoError(t, err)

			assert.Equal(t, "/work/source.zip", sum.Path)
			assert.Equal(t, method.String(), sum.Method)
			assert.Equal(t, len(files), sum.Files)
			assert.Equal(t, 3, sum.Dirs)

			entries := readZip(t, fs, "/work/source.zip")
			assert.Equal(t, []string{
				"docs/",
				"docs/empty.txt",
				"docs/unicode.txt",
				"readme.md",
				"src/",
				"src/deep/",
				"src/deep/y.bin",
				"src/x.txt",
			}, names(entries))

			for name, want := range files {
				f := entries[name]
				require.NotNil(t, f, name)
				assert.Equal(t, uint16(method), f.Method, name)
				assert.Equal(t, want, readEntry(t, f), name)
				assert.Equal(t, DefaultMode, f.Mode().Perm(), name)
			}
			assert.True(t, entries["src/"].Mode().IsDir())
		})
	}
}

func TestWriteNeverIncludesRoot(t *testing.T) {
	fs := afero.NewMemMapFs()
	populate(t, fs, "/work/out", map[string][]byte{"a.txt": []byte("a")})

	_, err := NewWriter(fs).Write(context.Background(), "/work/out", "/work/out.zip")
	require.NoError(t, err)

	for name := range readZip(t, fs, "/work/out.zip") {
		assert.False(t, strings.HasPrefix(name, "out"), name)
		assert.False(t, strings.HasPrefix(name, "/"), name)
		assert.NotEqual(t, "./", name)
	}
}

func TestWriteSourceNotFound(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/work/file.txt", []byte("x"), 0o644))

	tests := []struct {
		name string
		src  string
	}{
		{name: "missing", src: "/work/missing"},
		{name: "regular file", src: "/work/file.txt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewWriter(fs).Write(context.Background(), tt.src, "/work/out.zip")
			assert.ErrorIs(t, err, ErrSourceNotFound)

			exists, statErr := afero.Exists(fs, "/work/out.zip")
			require.NoError(t, statErr)
			assert.False(t, exists, "destination must not be created")
		})
	}
}

func TestWriteDestinationNotWritable(t *testing.T) {
	base := afero.NewMemMapFs()
	populate(t, base, "/work/out", map[string][]byte{"a.txt": []byte("a")})
	require.NoError(t, afero.WriteFile(base, "/work/source.zip", []byte("previous"), 0o644))

	_, err := NewWriter(afero.NewReadOnlyFs(base)).Write(context.Background(), "/work/out", "/work/source.zip")
	assert.ErrorIs(t, err, ErrArchiveWrite)

	data, readErr := afero.ReadFile(base, "/work/source.zip")
	require.NoError(t, readErr)
	assert.Equal(t, "previous", string(data), "failed run must leave the old archive alone")
}

func TestWriteMissingDestinationDir(t *testing.T) {
	// MemMapFs creates parents implicitly, so use the OS filesystem here.
	osfs := afero.NewOsFs()
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.txt"), []byte("a"), 0o644))

	dst := filepath.Join(t.TempDir(), "no", "such", "dir", "out.zip")
	_, err := NewWriter(osfs).Write(context.Background(), src, dst)
	assert.ErrorIs(t, err, ErrArchiveWrite)
}

func TestWriteReplacesExistingArchive(t *testing.T) {
	fs := afero.NewMemMapFs()
	populate(t, fs, "/work/out", map[string][]byte{"new.txt": []byte("new")})
	require.NoError(t, afero.WriteFile(fs, "/work/source.zip", []byte("not a zip"), 0o644))

	_, err := NewWriter(fs).Write(context.Background(), "/work/out", "/work/source.zip")
	require.NoError(t, err)
	assert.Equal(t, []string{"new.txt"}, names(readZip(t, fs, "/work/source.zip")))

	leftovers, err := afero.Glob(fs, "/work/.source.zip-*.tmp")
	require.NoError(t, err)
	assert.Empty(t, leftovers, "temporary file must be renamed away")
}

func TestWriteArchiveInsideSource(t *testing.T) {
	fs := afero.NewMemMapFs()
	populate(t, fs, "/work/out", map[string][]byte{"a.txt": []byte("a")})
	require.NoError(t, afero.WriteFile(fs, "/work/out/bundle.zip", []byte("old"), 0o644))

	_, err := NewWriter(fs).Write(context.Background(), "/work/out", "/work/out/bundle.zip")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt"}, names(readZip(t, fs, "/work/out/bundle.zip")))
}

func TestWriteOnOSFilesystem(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "x", "y"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "x", "y", "z.ext"), []byte("deep"), 0o644))
	dst := filepath.Join(t.TempDir(), "source.zip")

	fs := afero.NewOsFs()
	sum, err := NewWriter(fs).Write(context.Background(), src, dst)
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "x/y", "x/y/z.ext"}, sum.Entries)

	entries := readZip(t, fs, dst)
	assert.Equal(t, []string{"x/", "x/y/", "x/y/z.ext"}, names(entries))
	assert.Equal(t, "deep", string(readEntry(t, entries["x/y/z.ext"])))
}

func TestWriteArchiveFileMode(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix permission bits")
	}
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.txt"), []byte("a"), 0o644))
	dir := t.TempDir()
	fs := afero.NewOsFs()

	fresh := filepath.Join(dir, "source.zip")
	_, err := NewWriter(fs).Write(context.Background(), src, fresh)
	require.NoError(t, err)
	info, err := os.Stat(fresh)
	require.NoError(t, err)
	assert.Equal(t, FileMode, info.Mode().Perm())

	existing := filepath.Join(dir, "kept.zip")
	require.NoError(t, os.WriteFile(existing, []byte("old"), 0o600))
	require.NoError(t, os.Chmod(existing, 0o640))
	_, err = NewWriter(fs).Write(context.Background(), src, existing)
	require.NoError(t, err)
	info, err = os.Stat(existing)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o640), info.Mode().Perm())
}

func TestWriteCanceled(t *testing.T) {
	fs := afero.NewMemMapFs()
	populate(t, fs, "/work/out", map[string][]byte{"a.txt": []byte("a")})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewWriter(fs).Write(ctx, "/work/out", "/work/out.zip")
	assert.ErrorIs(t, err, context.Canceled)

	exists, statErr := afero.Exists(fs, "/work/out.zip")
	require.NoError(t, statErr)
	assert.False(t, exists)
}

func TestParseMethod(t *testing.T) {
	tests := []struct {
		in      string
		want    Method
		wantErr bool
	}{
		{in: "bzip2", want: Bzip2},
		{in: "", want: Bzip2},
		{in: "DEFLATE", want: Deflate},
		{in: "store", want: Store},
		{in: "zstd", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMethod(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
	assert.Equal(t, "method(99)", Method(99).String())
}
