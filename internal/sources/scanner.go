// Package sources discovers the inputs of a build: compilable sources with their
// packages, and the resource files copied alongside them.
package sources

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"

	"git.home.luguber.info/inful/incbuild/internal/digest"
	"git.home.luguber.info/inful/incbuild/internal/errors"
	"git.home.luguber.info/inful/incbuild/internal/logfields"
)

// Kind classifies a source file.
type Kind string

const (
	KindUnit        Kind = "unit"
	KindModule      Kind = "module"
	KindPackageInfo Kind = "package-info"
	KindResource    Kind = "resource"
)

// DefaultExtensions are the suffixes treated as compilable sources.
var DefaultExtensions = []string{".java"}

// File is one discovered input.
type File struct {
	Root string
	// Rel is the slash-separated path relative to Root.
	Rel  string
	Path string
	Kind Kind

	// Package is the declared package when the source declares one, else the
	// package inferred from the directory.
	Package  string
	Inferred string
	Declared string

	ModTime int64
	Size    int64
	Digest  string
}

// Result is the outcome of one scan.
type Result struct {
	Sources   []File
	Resources []File
}

// Paths returns the absolute paths of every source.
func (r *Result) Paths() []string {
	out := make([]string, 0, len(r.Sources))
	for _, f := range r.Sources {
		out = append(out, f.Path)
	}
	return out
}

// Scanner walks source roots.
type Scanner struct {
	Roots      []string
	Include    []string
	Exclude    []string
	Extensions []string

	// Digests is optional; without it every file is hashed on every scan.
	Digests *digest.Cache
	Logger  *slog.Logger
}

// Scan walks every root in order. The result is sorted by path. The same relative
// path in two roots is a configuration error.
func (s *Scanner) Scan(ctx context.Context) (*Result, error) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	exts := s.Extensions
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	for _, p := range append(slices.Clone(s.Include), s.Exclude...) {
		if !doublestar.ValidatePattern(p) {
			return nil, errors.ValidationFailed("pattern", "invalid glob "+p)
		}
	}

	jp := newJavaParser()
	owner := map[string]string{}
	res := &Result{}

	for _, root := range s.Roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, errors.FileSystemError("resolve source root", err)
		}
		ignore, err := loadIgnore(abs)
		if err != nil {
			return nil, errors.FileSystemError("read .gitignore", err)
		}

		err = filepath.WalkDir(abs, func(p string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			rel, err := filepath.Rel(abs, p)
			if err != nil || rel == "." {
				return err
			}
			rel = filepath.ToSlash(rel)
			if d.IsDir() {
				if d.Name() == ".git" || ignore.Match(strings.Split(rel, "/"), true) {
					return filepath.SkipDir
				}
				return nil
			}
			if !d.Type().IsRegular() || d.Name() == ".gitignore" {
				return nil
			}
			if ignore.Match(strings.Split(rel, "/"), false) || !s.selected(rel) {
				return nil
			}
			if first, dup := owner[rel]; dup {
				return errors.DuplicateSource(rel, first, abs)
			}
			owner[rel] = abs

			f, err := s.describe(ctx, jp, abs, rel, p, exts)
			if err != nil {
				return err
			}
			if f.Kind == KindResource {
				res.Resources = append(res.Resources, f)
			} else {
				res.Sources = append(res.Sources, f)
			}
			return nil
		})
		if err != nil {
			if _, ok := errors.As(err); ok {
				return nil, err
			}
			return nil, errors.FileSystemError("scan "+abs, err)
		}
	}

	byPath := func(a, b File) int { return strings.Compare(a.Path, b.Path) }
	slices.SortFunc(res.Sources, byPath)
	slices.SortFunc(res.Resources, byPath)
	logger.Debug("Scanned source roots",
		logfields.Sources(len(res.Sources)),
		slog.Int("resources", len(res.Resources)))
	return res, nil
}

func (s *Scanner) selected(rel string) bool {
	if len(s.Include) > 0 {
		matched := false
		for _, p := range s.Include {
			if ok, _ := doublestar.Match(p, rel); ok {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	for _, p := range s.Exclude {
		if ok, _ := doublestar.Match(p, rel); ok {
			return false
		}
	}
	return true
}

func (s *Scanner) describe(ctx context.Context, jp *javaParser, root, rel, p string, exts []string) (File, error) {
	info, err := os.Stat(p)
	if err != nil {
		return File{}, err
	}
	f := File{
		Root:     root,
		Rel:      rel,
		Path:     p,
		Kind:     classify(rel, exts),
		Inferred: InferPackage(rel),
		ModTime:  info.ModTime().UnixNano(),
		Size:     info.Size(),
	}
	if s.Digests != nil {
		f.Digest, err = s.Digests.Digest(p, info)
	} else {
		f.Digest, err = digest.File(p)
	}
	if err != nil {
		return File{}, err
	}

	if f.Kind != KindResource && strings.HasSuffix(rel, ".java") {
		content, err := os.ReadFile(p)
		if err != nil {
			return File{}, err
		}
		if f.Declared, err = jp.DeclaredPackage(ctx, content); err != nil {
			return File{}, err
		}
	}
	f.Package = f.Inferred
	if f.Declared != "" {
		f.Package = f.Declared
	}
	return f, nil
}

func classify(rel string, exts []string) Kind {
	ext := path.Ext(rel)
	if !slices.Contains(exts, ext) {
		return KindResource
	}
	switch strings.TrimSuffix(path.Base(rel), ext) {
	case "module-info":
		return KindModule
	case "package-info":
		return KindPackageInfo
	default:
		return KindUnit
	}
}

// InferPackage derives a dotted package from the directory of a slash-separated
// relative path.
func InferPackage(rel string) string {
	dir := path.Dir(rel)
	if dir == "." {
		return ""
	}
	return strings.ReplaceAll(dir, "/", ".")
}

func loadIgnore(root string) (gitignore.Matcher, error) {
	patterns, err := gitignore.ReadPatterns(osfs.New(root), nil)
	if err != nil {
		return nil, err
	}
	return gitignore.NewMatcher(patterns), nil
}
