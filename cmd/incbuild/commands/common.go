package commands

import (
	"log/slog"
	"os"
	"path/filepath"

	"git.home.luguber.info/inful/incbuild/internal/config"
	"git.home.luguber.info/inful/incbuild/internal/errors"
)

// TargetFlags describe a single target on the command line. When Dest or any
// source root is given the configuration file is not read.
type TargetFlags struct {
	Dest            string   `short:"d" help:"Destination directory for compiled output"`
	Sources         []string `short:"s" name:"source" help:"Source root (repeatable)"`
	StateDir        string   `name:"state-dir" help:"Directory holding build state; without it every build is a full one-shot build"`
	HeaderDir       string   `name:"header-dir" help:"Directory for native headers (default: <dest>/include)"`
	Include         []string `short:"i" help:"Only consider paths matching this glob (repeatable)"`
	Exclude         []string `short:"x" help:"Ignore paths matching this glob (repeatable)"`
	Extensions      []string `name:"ext" help:"Source file suffix (repeatable, default .java)"`
	ExpectedSources string   `name:"expected-sources" help:"File listing every source the scan must find"`
	Libraries       []string `name:"library" help:"Library input whose changes retaint dependents (repeatable; classpath flags are added)"`
	Compiler        string   `help:"Compiler command" env:"INCBUILD_COMPILER"`
	CompilerArgs    []string `name:"compiler-arg" help:"Leading argument for the compiler command (repeatable)"`
	Workers         int      `short:"j" help:"Concurrent compiler invocations (default: number of CPUs)"`
	Flags           []string `arg:"" optional:"" passthrough:"" help:"Flags passed through to the compiler (after --)"`

	Target []string `short:"t" help:"Build only the named targets from the configuration file (repeatable)"`
}

func (f *TargetFlags) adHoc() bool { return f.Dest != "" || len(f.Sources) > 0 }

// loadConfig returns the configuration the command operates on: built from flags,
// or read from the configuration file.
func loadConfig(root *CLI, f *TargetFlags) (*config.Config, error) {
	var cfg *config.Config
	if f != nil && f.adHoc() {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, errors.FileSystemError("resolve working directory", err)
		}
		config.LoadEnv(cwd)
		cfg = &config.Config{
			Targets: []*config.Target{{
				Destination:     f.Dest,
				HeaderDir:       f.HeaderDir,
				Sources:         f.Sources,
				StateDir:        f.StateDir,
				Include:         f.Include,
				Exclude:         f.Exclude,
				Extensions:      f.Extensions,
				ExpectedSources: f.ExpectedSources,
				Libraries:       f.Libraries,
				CompilerFlags:   f.Flags,
			}},
		}
		cfg.ResolvePaths(cwd)
		if err := config.Finalize(cfg); err != nil {
			return nil, err
		}
	} else {
		path := root.Config
		if path == "" {
			path = config.DefaultFile
		}
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
		if f != nil && len(f.Flags) > 0 {
			for _, t := range cfg.Targets {
				t.CompilerFlags = append(t.CompilerFlags, f.Flags...)
			}
		}
	}

	if f != nil {
		if f.Compiler != "" {
			cfg.Compiler.Command = f.Compiler
			cfg.Compiler.Args = f.CompilerArgs
		}
		if f.Workers > 0 {
			cfg.Workers = f.Workers
			cfg.QueueSize = 2 * f.Workers
		}
	}
	applyConfigLogLevel(root, cfg)
	return cfg, nil
}

// applyConfigLogLevel honours logging.level from the file unless -v or the
// environment already chose a level.
func applyConfigLogLevel(root *CLI, cfg *config.Config) {
	if root.Verbose || cfg.Logging.Level == "" {
		return
	}
	if _, ok := os.LookupEnv(LogLevelEnv); ok {
		return
	}
	level := config.NormalizeLogLevel(string(cfg.Logging.Level)).SlogLevel()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// stateDirs resolves the state directories a state subcommand works on.
func stateDirs(root *CLI, dir string, targets []string) ([]string, error) {
	if dir != "" {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return nil, errors.FileSystemError("resolve state dir", err)
		}
		return []string{abs}, nil
	}
	cfg, err := loadConfig(root, nil)
	if err != nil {
		return nil, err
	}
	selected, err := cfg.Select(targets)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, t := range selected {
		if t.Incremental() {
			out = append(out, t.StateDir)
		}
	}
	if len(out) == 0 {
		return nil, errors.ConfigRequired("state_dir")
	}
	return out, nil
}
