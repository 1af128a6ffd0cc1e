// Package compiler defines the contract between the orchestrator and the external
// compiler collaborator: the invocation, the unit-completion hook and the structural
// description of a compiled unit.
package compiler

import (
	"context"
	"io"
	"strconv"
)

// Compiler compiles one batch of explicit sources.
//
// Implementations must call Listener.UnitCompleted once per successfully analysed
// unit and Listener.CompilationCompleted exactly once at the end, even on failure.
// A non-nil error means the invocation failed; diagnostics explaining it are
// reported through Invocation.Report.
type Compiler interface {
	Compile(ctx context.Context, inv *Invocation) error
}

// Invocation is one batched compiler run.
type Invocation struct {
	// ID identifies the invocation in logs.
	ID string

	// Explicit lists the sources to compile.
	Explicit []string

	// Flags are passed through to the compiler unchanged.
	Flags []string

	// Files is the only file-I/O surface the compiler may use.
	Files FileManager

	// Listener receives unit-completion events.
	Listener UnitListener

	// Report receives diagnostics. Never nil when handed to a Compiler.
	Report func(Diagnostic)
}

// UnitListener observes compilation progress.
type UnitListener interface {
	UnitCompleted(u *Unit)
	CompilationCompleted()
}

// InputKind classifies inputs for visibility filtering.
type InputKind int

const (
	InputSource InputKind = iota
	// InputPlatform covers standard-library inputs; they are never filtered.
	InputPlatform
)

// OutputKind classifies compiler outputs.
type OutputKind string

const (
	OutputClass        OutputKind = "class"
	OutputNativeHeader OutputKind = "native-header"
)

// FileManager mediates every file the compiler reads or writes.
type FileManager interface {
	// DestDir is the root of class outputs.
	DestDir() string

	// VisibleSources lists the linkable sources of this invocation.
	VisibleSources() []string

	// Open opens an input. Inputs outside the visible set report fs.ErrNotExist.
	Open(path string, kind InputKind) (io.ReadCloser, error)

	// CreateOutput creates the output for a fully-qualified name and tracks it.
	CreateOutput(name string, kind OutputKind) (io.WriteCloser, error)

	// RecordOutput tracks an output written by an out-of-process compiler.
	RecordOutput(name string, kind OutputKind, path string) error
}

// Severity of a diagnostic.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityNote    Severity = "note"
)

// Diagnostic is a compiler message.
type Diagnostic struct {
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Path     string   `json:"path,omitempty"`
	Line     int      `json:"line,omitempty"`
}

// String renders the diagnostic the way compilers print them.
func (d Diagnostic) String() string {
	loc := d.Path
	if loc != "" && d.Line > 0 {
		loc += ":" + strconv.Itoa(d.Line)
	}
	if loc != "" {
		return loc + ": " + string(d.Severity) + ": " + d.Message
	}
	return string(d.Severity) + ": " + d.Message
}
