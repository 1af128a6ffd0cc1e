// Package resources copies non-source files into the destination directory,
// transforming them by suffix.
package resources

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"

	"git.home.luguber.info/inful/incbuild/internal/buildstate"
	"git.home.luguber.info/inful/incbuild/internal/digest"
	"git.home.luguber.info/inful/incbuild/internal/logfields"
	"git.home.luguber.info/inful/incbuild/internal/sources"
)

// Fallback is the rule key matching every suffix without a rule of its own.
const Fallback = "*"

// Rules maps a file suffix (".properties") or Fallback to a transformer.
type Rules map[string]Transformer

// ParseRules resolves a suffix -> transformer-name mapping.
func ParseRules(spec map[string]string) (Rules, error) {
	rules := Rules{}
	for suffix, name := range spec {
		t, ok := Lookup(name)
		if !ok {
			return nil, fmt.Errorf("unknown transformer %q for %q (known: %s)", name, suffix, strings.Join(Names(), ", "))
		}
		rules[suffix] = t
	}
	return rules, nil
}

func (r Rules) match(rel string) (Transformer, bool) {
	if t, ok := r[path.Ext(rel)]; ok {
		return t, true
	}
	t, ok := r[Fallback]
	return t, ok
}

// Copier materialises resources below Dest.
type Copier struct {
	dest   string
	fs     billy.Filesystem
	rules  Rules
	logger *slog.Logger
}

// NewCopier returns a copier writing below dest.
func NewCopier(dest string, rules Rules, logger *slog.Logger) *Copier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Copier{dest: dest, fs: osfs.New(dest), rules: rules, logger: logger}
}

// Apply writes every resource with a matching rule and returns the outputs grouped
// by the directory-inferred package. Outputs whose content is already current are
// left untouched, so their timestamps stay stable.
func (c *Copier) Apply(ctx context.Context, files []sources.File) (map[string][]buildstate.Artifact, error) {
	out := map[string][]buildstate.Artifact{}
	written, total := 0, 0
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		t, ok := c.rules.match(f.Rel)
		if !ok {
			continue
		}
		changed, err := c.apply(t, f)
		if err != nil {
			return nil, fmt.Errorf("resource %s: %w", f.Rel, err)
		}
		total++
		if changed {
			written++
		}
		info, err := c.fs.Stat(f.Rel)
		if err != nil {
			return nil, err
		}
		out[f.Inferred] = append(out[f.Inferred], buildstate.Artifact{
			Path:    filepath.Join(c.dest, filepath.FromSlash(f.Rel)),
			ModTime: info.ModTime().UnixNano(),
			Kind:    buildstate.ArtifactResource,
		})
	}
	c.logger.Debug("Resources materialised", logfields.Artifacts(total), slog.Int("written", written))
	return out, nil
}

func (c *Copier) apply(t Transformer, f sources.File) (bool, error) {
	in, err := os.Open(f.Path)
	if err != nil {
		return false, err
	}
	defer func() { _ = in.Close() }()

	var buf bytes.Buffer
	if err := t.Transform(&buf, in); err != nil {
		return false, err
	}
	if current, err := util.ReadFile(c.fs, f.Rel); err == nil && digest.Bytes(current) == digest.Bytes(buf.Bytes()) {
		return false, nil
	}
	if err := c.fs.MkdirAll(path.Dir(f.Rel), 0o755); err != nil {
		return false, err
	}
	if err := util.WriteFile(c.fs, f.Rel, buf.Bytes(), 0o644); err != nil {
		return false, err
	}
	return true, nil
}
