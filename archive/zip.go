// Package archive wraps archive/zip with the APK-flavored read path the
// apkparser package established (a pooled klauspost/compress/flate
// decompressor) and adds the symmetric write path needed to repack an APK
// after patching a single entry, preserving every other entry's bytes and
// compression method exactly.
package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/klauspost/compress/flate"
)

// APK is an opened, read-only view of an APK's zip central directory.
// Grounded on apkparser.ZipReader, trimmed to what the manifest patcher
// needs: locate an entry by name and read it whole.
type APK struct {
	reader *zip.Reader
	closer io.Closer
	files  map[string]*zip.File
}

func init() {
	// Android treats any unrecognized method as deflate; apkparser.go
	// registers the same pooled reader for the one method zip actually
	// fills in (Deflate), so resources compressed by build tooling other
	// than the stdlib zip writer still open here.
	zip.RegisterDecompressor(zip.Deflate, newPooledFlateReader)
}

// OpenAPK opens the APK at path for reading.
func OpenAPK(path string) (*APK, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	apk, err := Open(f, fileSize(f))
	if err != nil {
		f.Close()
		return nil, err
	}
	apk.closer = f
	return apk, nil
}

func fileSize(f *os.File) int64 {
	info, err := f.Stat()
	if err != nil {
		return 0
	}
	return info.Size()
}

// Open reads the zip central directory from r, which must support ReadAt
// over size bytes. A malformed central directory is reported as an error;
// a panic while decoding it (some crafted archives have triggered exactly
// this in the stdlib zip reader in the past) is recovered and reported as
// an error too, the same defensive boundary apkparser.go wraps around its
// own resource-table decoding.
func Open(r io.ReaderAt, size int64) (apk *APK, err error) {
	defer func() {
		if p := recover(); p != nil {
			apk, err = nil, fmt.Errorf("archive: panic opening zip: %v", p)
		}
	}()

	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("archive: opening zip: %w", err)
	}

	apk = &APK{reader: zr, files: make(map[string]*zip.File, len(zr.File))}
	for _, f := range zr.File {
		apk.files[f.Name] = f
	}
	return apk, nil
}

// Close releases the underlying file, if OpenAPK opened one.
func (a *APK) Close() error {
	if a.closer == nil {
		return nil
	}
	return a.closer.Close()
}

// Entries returns every entry name, in central-directory order.
func (a *APK) Entries() []string {
	names := make([]string, 0, len(a.reader.File))
	for _, f := range a.reader.File {
		names = append(names, f.Name)
	}
	return names
}

// ReadEntry reads an entry's uncompressed content in full.
func (a *APK) ReadEntry(name string) ([]byte, error) {
	f, ok := a.files[name]
	if !ok {
		return nil, fmt.Errorf("archive: entry %q not found", name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// WriteTo writes every entry of a to w, substituting replacement for any
// entry whose name is a key of it. Compression method and modification
// time are preserved for every entry, including replaced ones, matching
// what an unzip-then-rezip round trip of a tool like apksigner expects.
// Grounded on makeDebuggable.py's patchApk entry-copy loop.
func (a *APK) WriteTo(w io.Writer, replacements map[string][]byte) error {
	zw := zip.NewWriter(w)
	zw.RegisterCompressor(zip.Deflate, newPooledFlateWriter)
	defer zw.Close()

	for _, f := range a.reader.File {
		header := f.FileHeader
		fw, err := zw.CreateHeader(&header)
		if err != nil {
			return fmt.Errorf("archive: writing header for %q: %w", f.Name, err)
		}

		if data, replaced := replacements[f.Name]; replaced {
			if _, err := fw.Write(data); err != nil {
				return fmt.Errorf("archive: writing replacement for %q: %w", f.Name, err)
			}
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("archive: opening %q: %w", f.Name, err)
		}
		_, err = io.Copy(fw, rc)
		rc.Close()
		if err != nil {
			return fmt.Errorf("archive: copying %q: %w", f.Name, err)
		}
	}

	return zw.Close()
}

var flateReaderPool sync.Pool

func newPooledFlateReader(r io.Reader) io.ReadCloser {
	fr, ok := flateReaderPool.Get().(io.ReadCloser)
	if ok {
		fr.(flate.Resetter).Reset(r, nil)
	} else {
		fr = flate.NewReader(r)
	}
	return &pooledFlateReader{fr: fr}
}

type pooledFlateReader struct {
	mu sync.Mutex
	fr io.ReadCloser
}

func (r *pooledFlateReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fr == nil {
		return 0, fmt.Errorf("archive: read after close")
	}
	return r.fr.Read(p)
}

func (r *pooledFlateReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fr == nil {
		return nil
	}
	err := r.fr.Close()
	flateReaderPool.Put(r.fr)
	r.fr = nil
	return err
}

var flateWriterPool sync.Pool

func newPooledFlateWriter(w io.Writer) (io.WriteCloser, error) {
	fw, ok := flateWriterPool.Get().(*flate.Writer)
	if ok {
		fw.Reset(w)
	} else {
		var err error
		fw, err = flate.NewWriter(w, flate.DefaultCompression)
		if err != nil {
			return nil, err
		}
	}
	return &pooledFlateWriter{fw: fw}, nil
}

type pooledFlateWriter struct {
	fw *flate.Writer
}

func (w *pooledFlateWriter) Write(p []byte) (int, error) { return w.fw.Write(p) }

func (w *pooledFlateWriter) Close() error {
	if err := w.fw.Close(); err != nil {
		return err
	}
	flateWriterPool.Put(w.fw)
	return nil
}
