package archive

import (
	"archive/zip"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func testLogger() zerolog.Logger {
	return zerolog.New(nil).Level(zerolog.Disabled)
}

// writeTree creates a file tree under dir from a map of relative path to
// contents.
func writeTree(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for rel, contents := range files {
		full := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(full, []byte(contents), 0o600); err != nil {
			t.Fatalf("write %s: %v", rel, err)
		}
	}
}

// entryNames opens the sealed archive and returns its entry names.
func entryNames(t *testing.T, a *Archive) []string {
	t.Helper()
	r, err := zip.OpenReader(a.Path())
	if err != nil {
		t.Fatalf("open zip: %v", err)
	}
	defer r.Close()

	var names []string
	for _, f := range r.File {
		names = append(names, f.Name)
	}
	return names
}

func TestBuildDirectorySource(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, filepath.Join(dir, "policypkg"), map[string]string{
		"handler.py":       "h",
		"sub/helpers.py":   "x",
		"sub/compiled.pyc": "junk",
	})

	a, err := Build(testLogger(), Options{
		SourceRoot:  filepath.Join(dir, "policypkg"),
		SkipPattern: "*.pyc",
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer a.Dispose()

	if err := a.Seal(); err != nil {
		t.Fatalf("Seal: %v", err)
	}

	got := map[string]bool{}
	for _, n := range entryNames(t, a) {
		got[n] = true
	}
	for _, want := range []string{"policypkg/handler.py", "policypkg/sub/helpers.py"} {
		if !got[want] {
			t.Errorf("missing entry %s, have %v", want, got)
		}
	}
	if got["policypkg/sub/compiled.pyc"] {
		t.Error("skip pattern did not exclude compiled.pyc")
	}
}

func TestBuildSingleFileSource(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{"runner.py": "r"})

	a, err := Build(testLogger(), Options{SourceRoot: filepath.Join(dir, "runner.py")})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer a.Dispose()

	if err := a.Seal(); err != nil {
		t.Fatalf("Seal: %v", err)
	}
	names := entryNames(t, a)
	if len(names) != 1 || names[0] != "runner.py" {
		t.Fatalf("expected single entry runner.py, got %v", names)
	}
}

func TestLibraryFilterPrunesSubtrees(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, filepath.Join(dir, "lib"), map[string]string{
		"yaml/parser.py": "y",
		"unused/big.py":  "z",
	})

	allow := map[string]bool{"yaml": true}
	filter := func(walkDir string, entries []fs.DirEntry) []fs.DirEntry {
		if walkDir != filepath.Join(dir, "lib") {
			return entries
		}
		var kept []fs.DirEntry
		for _, e := range entries {
			if !e.IsDir() || allow[e.Name()] {
				kept = append(kept, e)
			}
		}
		return kept
	}

	a, err := Build(testLogger(), Options{
		LibraryRoot:   filepath.Join(dir, "lib"),
		LibraryFilter: filter,
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer a.Dispose()
	if err := a.Seal(); err != nil {
		t.Fatalf("Seal: %v", err)
	}

	names := entryNames(t, a)
	if len(names) != 1 || names[0] != "yaml/parser.py" {
		t.Fatalf("expected only yaml/parser.py, got %v", names)
	}
}

func TestEntryPermissionsForcedWorldReadable(t *testing.T) {
	a, err := Build(testLogger(), Options{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer a.Dispose()

	if err := a.AddContents("config.json", []byte(`{}`)); err != nil {
		t.Fatalf("AddContents: %v", err)
	}
	if err := a.Seal(); err != nil {
		t.Fatalf("Seal: %v", err)
	}

	r, err := zip.OpenReader(a.Path())
	if err != nil {
		t.Fatalf("open zip: %v", err)
	}
	defer r.Close()

	if len(r.File) != 1 {
		t.Fatalf("expected one entry, got %d", len(r.File))
	}
	if mode := r.File[0].Mode().Perm(); mode != 0o644 {
		t.Errorf("entry mode = %o, want 644", mode)
	}
}

func TestChecksumDeterminism(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, filepath.Join(dir, "src"), map[string]string{
		"a.py": "alpha",
		"b.py": "beta",
	})

	build := func() (string, []byte) {
		a, err := Build(testLogger(), Options{SourceRoot: filepath.Join(dir, "src")})
		if err != nil {
			t.Fatalf("Build: %v", err)
		}
		defer a.Dispose()
		if err := a.AddContents("config.json", []byte(`{"policies":[]}`)); err != nil {
			t.Fatalf("AddContents: %v", err)
		}
		if err := a.Seal(); err != nil {
			t.Fatalf("Seal: %v", err)
		}
		sum, err := a.Checksum()
		if err != nil {
			t.Fatalf("Checksum: %v", err)
		}
		data, err := a.Bytes()
		if err != nil {
			t.Fatalf("Bytes: %v", err)
		}
		return sum, data
	}

	sum1, bytes1 := build()
	sum2, bytes2 := build()
	if sum1 != sum2 {
		t.Errorf("checksums differ: %s vs %s", sum1, sum2)
	}
	if string(bytes1) != string(bytes2) {
		t.Error("sealed archives are not byte-for-byte identical")
	}
}

func TestLifecycleViolations(t *testing.T) {
	a, err := Build(testLogger(), Options{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer a.Dispose()

	// Checksum before seal.
	if _, err := a.Checksum(); err == nil {
		t.Error("Checksum before Seal should fail")
	} else {
		var lerr *LifecycleError
		if !errors.As(err, &lerr) {
			t.Errorf("want LifecycleError, got %T", err)
		}
	}

	if err := a.Seal(); err != nil {
		t.Fatalf("Seal: %v", err)
	}

	// Write after seal.
	if err := a.AddContents("late.txt", []byte("no")); err == nil {
		t.Error("AddContents after Seal should fail")
	}

	// Double seal.
	if err := a.Seal(); err == nil {
		t.Error("second Seal should fail")
	}
}

func TestDisposeIdempotent(t *testing.T) {
	a, err := Build(testLogger(), Options{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := a.Seal(); err != nil {
		t.Fatalf("Seal: %v", err)
	}
	path := a.Path()

	if err := a.Dispose(); err != nil {
		t.Fatalf("Dispose: %v", err)
	}
	if err := a.Dispose(); err != nil {
		t.Fatalf("second Dispose: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("backing temp file still exists after Dispose")
	}
	if _, err := a.Bytes(); err == nil {
		t.Error("Bytes after Dispose should fail")
	}
}
