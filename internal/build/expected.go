package build

import (
	"bufio"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"git.home.luguber.info/inful/incbuild/internal/errors"
)

// readExpected reads an expected-source list: one path per line, blank lines and
// lines starting with # ignored. Relative paths resolve against the list's directory.
func readExpected(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryConfig, errors.SeverityFatal, "read expected sources").
			WithContext("path", path)
	}
	defer func() { _ = f.Close() }()

	base := filepath.Dir(path)
	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		p := filepath.FromSlash(line)
		if !filepath.IsAbs(p) {
			p = filepath.Join(base, p)
		}
		out = append(out, filepath.Clean(p))
	}
	if err := sc.Err(); err != nil {
		return nil, errors.FileSystemError("read expected sources", err)
	}
	return out, nil
}

// checkExpected fails when the scanned sources and the expected list differ.
func checkExpected(expected, found []string) error {
	want := map[string]bool{}
	for _, p := range expected {
		want[p] = true
	}
	var unexpected []string
	for _, p := range found {
		p = filepath.Clean(p)
		if !want[p] {
			unexpected = append(unexpected, p)
		}
		delete(want, p)
	}
	if len(want) == 0 && len(unexpected) == 0 {
		return nil
	}
	missing := make([]string, 0, len(want))
	for p := range want {
		missing = append(missing, p)
	}
	slices.Sort(missing)
	return errors.SourceListDiverged(missing, unexpected)
}
