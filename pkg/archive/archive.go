package archive

import (
	"archive/zip"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/rs/zerolog"
)

// checksumBlockSize is the read block size used when streaming the sealed
// archive through the hash. The archive is never loaded into memory whole.
const checksumBlockSize = 64 * 1024

// FileFilter prunes directory entries during a tree walk. It receives the
// directory being walked and its entries and returns the entries to keep.
// Returning a subset excludes files and prunes whole subtrees.
type FileFilter func(dir string, entries []fs.DirEntry) []fs.DirEntry

// Options configures a bundle build.
type Options struct {
	// SourceRoot is the policy runtime source to bundle. A single file is
	// included alone; a directory is walked recursively and entries are
	// added relative to the directory's parent.
	SourceRoot string

	// LibraryRoot is the runtime library tree to bundle. Entries are added
	// relative to the root itself so libraries land at the bundle top level.
	LibraryRoot string

	// SourceFilter prunes entries while walking SourceRoot.
	SourceFilter FileFilter

	// LibraryFilter prunes entries while walking LibraryRoot. An allow-list
	// filter here is how bundles stay small: only the runtime dependencies
	// the generated entry point needs are retained.
	LibraryFilter FileFilter

	// SkipPattern is a glob matched against file base names; matches are
	// excluded from the bundle (e.g. "*.pyc", "*_test.go").
	SkipPattern string
}

// LifecycleError reports misuse of the archive lifecycle, such as writing
// after Seal or requesting the checksum before Seal. It is a programming
// error, not a user-recoverable condition.
type LifecycleError struct {
	// Op is the operation that was attempted.
	Op string

	// Reason describes the lifecycle state that forbids the operation.
	Reason string
}

// Error implements the error interface.
func (e *LifecycleError) Error() string {
	return fmt.Sprintf("archive: %s: %s", e.Op, e.Reason)
}

// Archive is a single-use, write-once content bundle backed by a temporary
// zip file. It is owned by the function spec that created it for the
// duration of one reconciliation pass.
type Archive struct {
	logger   zerolog.Logger
	file     *os.File
	zw       *zip.Writer
	path     string
	skip     string
	sealed   bool
	disposed bool
}

// Build assembles a new archive from the given roots and returns it still
// open for writes, so callers can inject synthetic entries before sealing.
func Build(logger zerolog.Logger, opts Options) (*Archive, error) {
	f, err := os.CreateTemp("", "steward-bundle-*.zip")
	if err != nil {
		return nil, fmt.Errorf("create bundle temp file: %w", err)
	}

	a := &Archive{
		logger: logger.With().Str("component", "archive").Logger(),
		file:   f,
		zw:     zip.NewWriter(f),
		path:   f.Name(),
		skip:   opts.SkipPattern,
	}

	if opts.SourceRoot != "" {
		if err := a.addSource(opts.SourceRoot, opts.SourceFilter); err != nil {
			_ = a.Dispose()
			return nil, err
		}
	}
	if opts.LibraryRoot != "" {
		if err := a.addTree(opts.LibraryRoot, opts.LibraryRoot, opts.LibraryFilter); err != nil {
			_ = a.Dispose()
			return nil, err
		}
	}

	return a, nil
}

// addSource adds the source root: a lone file is bundled under its base
// name, a directory is bundled relative to its parent so the package
// directory itself appears in the bundle.
func (a *Archive) addSource(root string, filter FileFilter) error {
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("stat source root: %w", err)
	}
	if !info.IsDir() {
		return a.addFile(root, filepath.Base(root))
	}
	return a.addTree(root, filepath.Dir(root), filter)
}

// addTree walks root recursively, adding files at paths relative to base.
// The walk is lexical, so repeated builds over identical inputs produce
// identical entry ordering.
func (a *Archive) addTree(root, base string, filter FileFilter) error {
	entries, err := os.ReadDir(root)
	if err != nil {
		return fmt.Errorf("read dir %s: %w", root, err)
	}
	if filter != nil {
		entries = filter(root, entries)
	}

	for _, entry := range entries {
		full := filepath.Join(root, entry.Name())
		if entry.IsDir() {
			if err := a.addTree(full, base, filter); err != nil {
				return err
			}
			continue
		}
		if a.skipped(entry.Name()) {
			continue
		}
		rel, err := filepath.Rel(base, full)
		if err != nil {
			return fmt.Errorf("relativize %s: %w", full, err)
		}
		if err := a.addFile(full, filepath.ToSlash(rel)); err != nil {
			return err
		}
	}
	return nil
}

// skipped reports whether the file name matches the skip glob.
func (a *Archive) skipped(name string) bool {
	if a.skip == "" {
		return false
	}
	ok, err := path.Match(a.skip, name)
	return err == nil && ok
}

// addFile copies one file from disk into the bundle.
func (a *Archive) addFile(src, dest string) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer f.Close()

	w, err := a.zw.CreateHeader(entryHeader(dest))
	if err != nil {
		return fmt.Errorf("create bundle entry %s: %w", dest, err)
	}
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("write bundle entry %s: %w", dest, err)
	}
	return nil
}

// AddContents injects a synthetic, in-memory file at the given bundle path.
// Used to embed the serialized policy description and the generated entry
// point without touching disk.
func (a *Archive) AddContents(dest string, contents []byte) error {
	if a.disposed {
		return &LifecycleError{Op: "add contents", Reason: "archive disposed"}
	}
	if a.sealed {
		return &LifecycleError{Op: "add contents", Reason: "archive sealed"}
	}
	w, err := a.zw.CreateHeader(entryHeader(dest))
	if err != nil {
		return fmt.Errorf("create bundle entry %s: %w", dest, err)
	}
	if _, err := w.Write(contents); err != nil {
		return fmt.Errorf("write bundle entry %s: %w", dest, err)
	}
	return nil
}

// entryHeader builds the zip header for one bundle entry. Permissions are
// forced to world-readable no matter what the host filesystem says: the
// execution environment extracts the bundle as one principal and runs it as
// another, and an entry the runner cannot read breaks the function at
// invocation time with no deploy-time signal. Modification times are left
// at the zero value so identical inputs produce identical bytes.
func entryHeader(name string) *zip.FileHeader {
	hdr := &zip.FileHeader{
		Name:   name,
		Method: zip.Deflate,
	}
	hdr.SetMode(0o644)
	return hdr
}

// Seal closes the bundle for writes. Size and checksum are defined only
// after sealing.
func (a *Archive) Seal() error {
	if a.disposed {
		return &LifecycleError{Op: "seal", Reason: "archive disposed"}
	}
	if a.sealed {
		return &LifecycleError{Op: "seal", Reason: "archive already sealed"}
	}
	if err := a.zw.Close(); err != nil {
		return fmt.Errorf("close bundle: %w", err)
	}
	if err := a.file.Close(); err != nil {
		return fmt.Errorf("close bundle file: %w", err)
	}
	a.sealed = true

	if info, err := os.Stat(a.path); err == nil {
		a.logger.Debug().
			Str("path", a.path).
			Int64("bytes", info.Size()).
			Msg("Sealed policy bundle")
	}
	return nil
}

// Path returns the location of the backing temporary file.
func (a *Archive) Path() string {
	return a.path
}

// Size returns the sealed bundle size in bytes.
func (a *Archive) Size() (int64, error) {
	if !a.sealed {
		return 0, &LifecycleError{Op: "size", Reason: "archive not sealed"}
	}
	if a.disposed {
		return 0, &LifecycleError{Op: "size", Reason: "archive disposed"}
	}
	info, err := os.Stat(a.path)
	if err != nil {
		return 0, fmt.Errorf("stat bundle: %w", err)
	}
	return info.Size(), nil
}

// Checksum returns the base64-encoded SHA-256 digest over the sealed bundle
// bytes, streamed in fixed-size blocks.
func (a *Archive) Checksum() (string, error) {
	if !a.sealed {
		return "", &LifecycleError{Op: "checksum", Reason: "archive not sealed"}
	}
	if a.disposed {
		return "", &LifecycleError{Op: "checksum", Reason: "archive disposed"}
	}

	f, err := os.Open(a.path)
	if err != nil {
		return "", fmt.Errorf("open bundle: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, checksumBlockSize)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read bundle: %w", err)
		}
	}
	return base64.StdEncoding.EncodeToString(h.Sum(nil)), nil
}

// Bytes returns the entire sealed bundle as a byte slice, for embedding
// directly in a create or update call payload.
func (a *Archive) Bytes() ([]byte, error) {
	if !a.sealed {
		return nil, &LifecycleError{Op: "bytes", Reason: "archive not sealed"}
	}
	if a.disposed {
		return nil, &LifecycleError{Op: "bytes", Reason: "archive disposed"}
	}
	data, err := os.ReadFile(a.path)
	if err != nil {
		return nil, fmt.Errorf("read bundle: %w", err)
	}
	return data, nil
}

// Dispose releases the backing temporary file. It is safe to call on any
// lifecycle state and safe to call more than once, so callers can defer it
// on every exit path.
func (a *Archive) Dispose() error {
	if a.disposed {
		return nil
	}
	a.disposed = true
	if !a.sealed {
		_ = a.zw.Close()
		_ = a.file.Close()
	}
	if err := os.Remove(a.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove bundle temp file: %w", err)
	}
	return nil
}
