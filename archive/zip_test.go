package archive

import (
	"archive/zip"
	"bytes"
	"testing"
)

func buildTestZip(t *testing.T, entries map[string]string, method uint16) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range entries {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: method})
		if err != nil {
			t.Fatalf("creating entry %q: %v", name, err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("writing entry %q: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("closing zip: %v", err)
	}
	return buf.Bytes()
}

// TestWriteToPreservesUntouchedEntriesAndReplacesNamed round-trips a small
// zip through Open/WriteTo, swapping one entry's content, and checks every
// other entry survives byte-for-byte with its compression method intact.
func TestWriteToPreservesUntouchedEntriesAndReplacesNamed(t *testing.T) {
	original := buildTestZip(t, map[string]string{
		"AndroidManifest.xml": "old manifest bytes",
		"classes.dex":         "dex bytes unchanged",
		"resources.arsc":      "arsc bytes unchanged",
	}, zip.Deflate)

	apk, err := Open(bytes.NewReader(original), int64(len(original)))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	replacement := []byte("new patched manifest")
	var out bytes.Buffer
	if err := apk.WriteTo(&out, map[string][]byte{"AndroidManifest.xml": replacement}); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}

	repacked, err := Open(bytes.NewReader(out.Bytes()), int64(out.Len()))
	if err != nil {
		t.Fatalf("Open repacked: %v", err)
	}

	got, err := repacked.ReadEntry("AndroidManifest.xml")
	if err != nil {
		t.Fatalf("reading replaced entry: %v", err)
	}
	if !bytes.Equal(got, replacement) {
		t.Fatalf("replaced entry: want %q, got %q", replacement, got)
	}

	unchanged := map[string]string{
		"classes.dex":    "dex bytes unchanged",
		"resources.arsc": "arsc bytes unchanged",
	}
	for name, want := range unchanged {
		got, err := repacked.ReadEntry(name)
		if err != nil {
			t.Fatalf("reading %q: %v", name, err)
		}
		if string(got) != want {
			t.Fatalf("%q: want %q, got %q", name, want, got)
		}
	}

	for _, f := range repacked.reader.File {
		if f.Method != zip.Deflate {
			t.Fatalf("entry %q: expected compression method preserved as Deflate, got %d", f.Name, f.Method)
		}
	}
}

// TestWriteToIgnoresUnmatchedReplacementKeys covers a replacement map entry
// that names no real entry in the archive: it must be silently unused
// rather than added as a new entry or causing an error.
func TestWriteToIgnoresUnmatchedReplacementKeys(t *testing.T) {
	original := buildTestZip(t, map[string]string{"a.txt": "a"}, zip.Store)

	apk, err := Open(bytes.NewReader(original), int64(len(original)))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	var out bytes.Buffer
	if err := apk.WriteTo(&out, map[string][]byte{"does-not-exist.txt": []byte("ignored")}); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}

	repacked, err := Open(bytes.NewReader(out.Bytes()), int64(out.Len()))
	if err != nil {
		t.Fatalf("Open repacked: %v", err)
	}
	if entries := repacked.Entries(); len(entries) != 1 || entries[0] != "a.txt" {
		t.Fatalf("expected exactly the original entry to survive, got %v", entries)
	}
	got, err := repacked.ReadEntry("a.txt")
	if err != nil || string(got) != "a" {
		t.Fatalf("a.txt: got %q, err %v", got, err)
	}
}

func TestReadEntryReportsMissingName(t *testing.T) {
	original := buildTestZip(t, map[string]string{"a.txt": "a"}, zip.Store)
	apk, err := Open(bytes.NewReader(original), int64(len(original)))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := apk.ReadEntry("missing.txt"); err == nil {
		t.Fatalf("expected an error reading a nonexistent entry")
	}
}
