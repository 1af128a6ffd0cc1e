package sources

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"git.home.luguber.info/inful/incbuild/internal/digest"
)

// pathListFlags take a platform path list as their value, either as the next
// argument or after '='.
var pathListFlags = []string{"-classpath", "-cp", "--class-path", "--module-path", "-p", "-processorpath", "--processor-path"}

// ClasspathEntries returns the library entries named by classpath-style compiler
// flags, in flag order.
func ClasspathEntries(flags []string) []string {
	var out []string
	for i := 0; i < len(flags); i++ {
		name, value, inline := strings.Cut(flags[i], "=")
		if !slices.Contains(pathListFlags, name) {
			continue
		}
		if !inline {
			if i+1 >= len(flags) {
				break
			}
			i++
			value = flags[i]
		}
		for _, e := range filepath.SplitList(value) {
			if e != "" {
				out = append(out, e)
			}
		}
	}
	return out
}

// LibraryScan is the content identity of a target's library inputs.
type LibraryScan struct {
	// Digests maps every absolute library entry to its digest. A missing entry has
	// an empty digest.
	Digests map[string]string
	// Files lists every file read to compute Digests.
	Files []string
}

// ScanLibraries digests every library entry. A file entry digests as its content;
// a directory as the sorted relative paths and digests of every file below it.
func ScanLibraries(ctx context.Context, entries []string, cache *digest.Cache) (*LibraryScan, error) {
	out := &LibraryScan{Digests: map[string]string{}}
	for _, e := range entries {
		abs, err := filepath.Abs(e)
		if err != nil {
			return nil, err
		}
		if _, seen := out.Digests[abs]; seen {
			continue
		}
		d, files, err := libraryDigest(ctx, abs, cache)
		if err != nil {
			return nil, err
		}
		out.Digests[abs] = d
		out.Files = append(out.Files, files...)
	}
	return out, nil
}

func libraryDigest(ctx context.Context, entry string, cache *digest.Cache) (string, []string, error) {
	info, err := os.Stat(entry)
	if os.IsNotExist(err) {
		return "", nil, nil
	}
	if err != nil {
		return "", nil, err
	}
	if !info.IsDir() {
		d, err := fileDigest(entry, info, cache)
		return d, []string{entry}, err
	}

	var files []string
	var b strings.Builder
	err = filepath.WalkDir(entry, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		sum, err := fileDigest(p, info, cache)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(entry, p)
		if err != nil {
			return err
		}
		files = append(files, p)
		b.WriteString(filepath.ToSlash(rel))
		b.WriteByte(0)
		b.WriteString(sum)
		b.WriteByte('\n')
		return nil
	})
	if err != nil {
		return "", nil, err
	}
	return digest.Bytes([]byte(b.String())), files, nil
}

func fileDigest(p string, info fs.FileInfo, cache *digest.Cache) (string, error) {
	if cache != nil {
		return cache.Digest(p, info)
	}
	return digest.File(p)
}
