package commands

import (
	"fmt"
	"io"
	"os"
	"slices"
	"text/tabwriter"

	"git.home.luguber.info/inful/incbuild/internal/buildstate"
	"git.home.luguber.info/inful/incbuild/internal/errors"
)

// StateCmd groups the state subcommands.
type StateCmd struct {
	Show  StateShowCmd  `cmd:"" help:"Print packages, artifacts, dependency edges and fingerprints"`
	Clean StateCleanCmd `cmd:"" help:"Remove the state file so the next build is a full rebuild"`
}

// StateShowCmd implements 'state show'.
type StateShowCmd struct {
	StateDir string   `name:"state-dir" help:"State directory (default: every incremental target of the configuration)"`
	Target   []string `short:"t" help:"Only the named targets"`
}

func (s *StateShowCmd) Run(_ *Global, root *CLI) error {
	dirs, err := stateDirs(root, s.StateDir, s.Target)
	if err != nil {
		return err
	}
	for _, dir := range dirs {
		st, err := readState(dir)
		if err != nil {
			return err
		}
		printState(os.Stdout, dir, st)
	}
	return nil
}

// readState decodes the state file without the load-time trust check, so
// inspecting never deletes anything.
func readState(dir string) (*buildstate.State, error) {
	store := buildstate.NewStore(dir)
	f, err := os.Open(store.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return buildstate.New(), nil
		}
		return nil, errors.FileSystemError("open state", err)
	}
	defer func() { _ = f.Close() }()
	st, err := buildstate.Decode(f)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryState, errors.SeverityError, "decode state").
			WithContext("path", store.Path())
	}
	return st, nil
}

func printState(out io.Writer, dir string, st *buildstate.State) {
	_, _ = fmt.Fprintf(out, "state %s (format %d, %d packages)\n", dir, st.Version, len(st.Packages))
	if len(st.Flags) > 0 {
		_, _ = fmt.Fprintf(out, "flags: %v\n", st.Flags)
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "PACKAGE\tSOURCES\tARTIFACTS\tAPI\tDEPENDENCIES")
	for _, name := range st.PackageNames() {
		p := st.Packages[name]
		deps := make([]string, 0, len(p.Dependencies))
		for dep, kind := range p.Dependencies {
			deps = append(deps, dep+"("+string(kind)+")")
		}
		slices.Sort(deps)
		api := "-"
		if len(p.API) > 0 {
			api = p.API.Digest()[:12]
		}
		_, _ = fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%v\n", name, len(p.Sources), len(p.Artifacts), api, deps)
	}
	_ = tw.Flush()
	if len(st.ExternalAPIs) > 0 {
		_, _ = fmt.Fprintf(out, "external packages observed: %d\n", len(st.ExternalAPIs))
	}
}

// StateCleanCmd implements 'state clean'.
type StateCleanCmd struct {
	StateDir string   `name:"state-dir" help:"State directory (default: every incremental target of the configuration)"`
	Target   []string `short:"t" help:"Only the named targets"`
}

func (s *StateCleanCmd) Run(_ *Global, root *CLI) error {
	dirs, err := stateDirs(root, s.StateDir, s.Target)
	if err != nil {
		return err
	}
	for _, dir := range dirs {
		if err := buildstate.NewStore(dir).Remove(); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(os.Stdout, "removed build state in %s\n", dir)
	}
	return nil
}
