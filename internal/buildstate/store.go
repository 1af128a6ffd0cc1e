package buildstate

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"

	"git.home.luguber.info/inful/incbuild/internal/errors"
	"git.home.luguber.info/inful/incbuild/internal/logfields"
)

// FileName is the state file inside the state directory.
const FileName = "incbuild.state"

const magic = "incbuild-state"

// Store loads and commits the build state kept in one directory.
type Store struct {
	dir    string
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for soft-failure reports.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// NewStore returns a store for dir. The directory is created on first commit.
func NewStore(dir string, opts ...Option) *Store {
	s := &Store{dir: dir, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Dir returns the state directory.
func (s *Store) Dir() string { return s.dir }

// Path returns the state file path.
func (s *Store) Path() string { return filepath.Join(s.dir, FileName) }

// Load returns the last committed state. It never fails: a missing, unreadable or
// incompatible file yields an empty state, which forces a full rebuild.
//
// Every artifact whose on-disk timestamp differs from the recorded one is dropped
// from the returned state, its file is deleted and its package is marked untrusted.
// Artifacts that are simply missing stay recorded so the caller can see them.
func (s *Store) Load() *State {
	f, err := os.Open(s.Path())
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("Build state unreadable, starting from scratch", logfields.Path(s.Path()), logfields.Error(err))
		}
		return New()
	}
	defer func() { _ = f.Close() }()

	st, err := Decode(f)
	if err != nil {
		s.logger.Warn("Build state discarded, starting from scratch", logfields.Path(s.Path()), logfields.Error(err))
		return New()
	}
	s.purgeUntrusted(st)
	return st
}

func (s *Store) purgeUntrusted(st *State) {
	for _, name := range st.PackageNames() {
		pkg := st.Packages[name]
		for path, a := range pkg.Artifacts {
			info, err := os.Stat(path)
			if err != nil {
				continue
			}
			if info.ModTime().UnixNano() == a.ModTime {
				continue
			}
			s.logger.Warn("Artifact modified outside the build, deleting",
				logfields.Package(name), logfields.Path(path))
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				s.logger.Warn("Failed to delete untrusted artifact", logfields.Path(path), logfields.Error(err))
			}
			delete(pkg.Artifacts, path)
			st.Untrusted.Add(name)
		}
	}
}

// Commit atomically replaces the persisted state with st.
func (s *Store) Commit(st *State) error {
	var buf bytes.Buffer
	if err := Encode(&buf, st); err != nil {
		return errors.StateCommitFailed(s.Path(), err)
	}
	if err := writeFileAtomicDurable(s.Path(), buf.Bytes(), 0o644); err != nil {
		return errors.StateCommitFailed(s.Path(), err)
	}
	return nil
}

// Remove deletes the persisted state so the next build starts from scratch.
func (s *Store) Remove() error {
	if err := os.Remove(s.Path()); err != nil && !os.IsNotExist(err) {
		return errors.FileSystemError("remove state", err)
	}
	return nil
}

// Encode writes st as a version header line followed by zstd-compressed JSON.
func Encode(w io.Writer, st *State) error {
	if _, err := fmt.Fprintf(w, "%s %d\n", magic, FormatVersion); err != nil {
		return err
	}
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return err
	}
	out := *st
	out.Version = FormatVersion
	if err := json.NewEncoder(zw).Encode(&out); err != nil {
		_ = zw.Close()
		return err
	}
	return zw.Close()
}

// Decode reads a state written by Encode. A header naming another format version
// is an error.
func Decode(r io.Reader) (*State, error) {
	br := bufio.NewReader(r)
	header, err := br.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	fields := strings.Fields(header)
	if len(fields) != 2 || fields[0] != magic {
		return nil, fmt.Errorf("not a build state file")
	}
	version, err := strconv.Atoi(fields[1])
	if err != nil {
		return nil, fmt.Errorf("bad version %q", fields[1])
	}
	if version != FormatVersion {
		return nil, fmt.Errorf("format version %d, want %d", version, FormatVersion)
	}

	zr, err := zstd.NewReader(br)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	st := &State{}
	dec := json.NewDecoder(zr)
	dec.DisallowUnknownFields()
	if err := dec.Decode(st); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	if st.Version != FormatVersion {
		return nil, fmt.Errorf("payload version %d, want %d", st.Version, FormatVersion)
	}
	st.normalize()
	return st, nil
}

func writeFileAtomicDurable(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		_ = tmp.Close()
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return syncDir(dir)
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer func() { _ = d.Close() }()
	return d.Sync()
}
