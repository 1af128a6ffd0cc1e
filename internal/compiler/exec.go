package compiler

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Event names of the line protocol spoken by ExecCompiler commands.
const (
	EventUnit       = "unit"
	EventOutput     = "output"
	EventDiagnostic = "diagnostic"
)

// Event is one JSON line printed by an external compiler command on stdout.
type Event struct {
	Event    string     `json:"event"`
	Unit     *Unit      `json:"unit,omitempty"`
	Name     string     `json:"name,omitempty"`
	Kind     OutputKind `json:"kind,omitempty"`
	Path     string     `json:"path,omitempty"`
	Severity Severity   `json:"severity,omitempty"`
	Message  string     `json:"message,omitempty"`
	Line     int        `json:"line,omitempty"`
}

// ExecCompiler runs an external command for every invocation.
//
// The command is called as `Command Args... @argfile`. The argfile holds the
// pass-through flags, `-d <dest>`, `-sourcepath-list <file>` and then the explicit
// sources, one argument per line. The command reports progress as JSON lines on
// stdout (see Event).
type ExecCompiler struct {
	Command string
	Args    []string
	Env     []string
	Logger  *slog.Logger
}

// NewExecCompiler returns a compiler that runs command with the given leading args.
func NewExecCompiler(command string, args ...string) *ExecCompiler {
	return &ExecCompiler{Command: command, Args: args}
}

// Compile implements Compiler.
func (c *ExecCompiler) Compile(ctx context.Context, inv *Invocation) error {
	if inv.Listener != nil {
		defer inv.Listener.CompilationCompleted()
	}
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}

	work, err := os.MkdirTemp("", "incbuild-inv-")
	if err != nil {
		return fmt.Errorf("create invocation dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(work) }()

	argfile, err := writeArgfile(work, inv)
	if err != nil {
		return err
	}

	args := append(append([]string{}, c.Args...), "@"+argfile)
	// #nosec G204 -- command comes from the build configuration
	cmd := exec.CommandContext(ctx, c.Command, args...)
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}

	logger.Debug("Starting compiler process", "command", c.Command, "invocation", inv.ID, "explicit", len(inv.Explicit))
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", c.Command, err)
	}

	protoErr := c.consume(stdout, inv)
	// Drain so the process never blocks on a full pipe after a protocol error.
	_, _ = io.Copy(io.Discard, stdout)
	waitErr := cmd.Wait()

	for _, line := range strings.Split(strings.TrimSpace(stderr.String()), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			inv.Report(Diagnostic{Severity: SeverityWarning, Message: line})
		}
	}

	switch {
	case ctx.Err() != nil:
		return fmt.Errorf("compiler %s: %w", c.Command, ctx.Err())
	case waitErr != nil:
		return fmt.Errorf("compiler %s: %w", c.Command, waitErr)
	case protoErr != nil:
		return protoErr
	}
	return nil
}

func (c *ExecCompiler) consume(r io.Reader, inv *Invocation) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var ev Event
		dec := json.NewDecoder(bytes.NewReader(line))
		dec.UseNumber()
		if err := dec.Decode(&ev); err != nil {
			return fmt.Errorf("malformed compiler output on line %d: %w", lineNo, err)
		}
		if err := c.dispatch(ev, inv); err != nil {
			return fmt.Errorf("compiler output line %d: %w", lineNo, err)
		}
	}
	return sc.Err()
}

func (c *ExecCompiler) dispatch(ev Event, inv *Invocation) error {
	switch ev.Event {
	case EventUnit:
		if ev.Unit == nil || ev.Unit.Name == "" {
			return errors.New("unit event without unit")
		}
		if ev.Unit.Origin == "" {
			ev.Unit.Origin = OriginSource
		}
		if inv.Listener != nil {
			inv.Listener.UnitCompleted(ev.Unit)
		}
	case EventOutput:
		if ev.Name == "" || ev.Path == "" {
			return errors.New("output event needs name and path")
		}
		kind := ev.Kind
		if kind == "" {
			kind = OutputClass
		}
		return inv.Files.RecordOutput(ev.Name, kind, ev.Path)
	case EventDiagnostic:
		sev := ev.Severity
		if sev == "" {
			sev = SeverityError
		}
		inv.Report(Diagnostic{Severity: sev, Message: ev.Message, Path: ev.Path, Line: ev.Line})
	default:
		return fmt.Errorf("unknown event %q", ev.Event)
	}
	return nil
}

func writeArgfile(dir string, inv *Invocation) (string, error) {
	listPath := filepath.Join(dir, "sourcepath.txt")
	visible := inv.Files.VisibleSources()
	if err := os.WriteFile(listPath, []byte(strings.Join(visible, "\n")+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("write source path list: %w", err)
	}

	lines := make([]string, 0, len(inv.Flags)+len(inv.Explicit)+4)
	lines = append(lines, inv.Flags...)
	lines = append(lines, "-d", inv.Files.DestDir(), "-sourcepath-list", listPath)
	lines = append(lines, inv.Explicit...)

	argPath := filepath.Join(dir, "args.txt")
	if err := os.WriteFile(argPath, []byte(strings.Join(lines, "\n")+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("write argfile: %w", err)
	}
	return argPath, nil
}
