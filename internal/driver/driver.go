// Package driver runs one batched compiler invocation and turns its events into a
// structured result: diagnostics, dependency edges, API fingerprints and artifacts.
package driver

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"git.home.luguber.info/inful/incbuild/internal/buildstate"
	"git.home.luguber.info/inful/incbuild/internal/compiler"
	"git.home.luguber.info/inful/incbuild/internal/errors"
	"git.home.luguber.info/inful/incbuild/internal/filemanager"
	"git.home.luguber.info/inful/incbuild/internal/logfields"
	"git.home.luguber.info/inful/incbuild/internal/pkgcheck"
	"git.home.luguber.info/inful/incbuild/internal/pubapi"
	"git.home.luguber.info/inful/incbuild/internal/util/sets"
)

// Outcome of one invocation.
type Outcome string

const (
	OutcomeSuccess          Outcome = "success"
	OutcomeFailed           Outcome = "failed"
	OutcomeNothingToCompile Outcome = "nothing-to-compile"
)

// Request describes one invocation.
type Request struct {
	ID string

	// Explicit sources are compiled; Linkable sources are merely visible.
	Explicit []string
	Linkable []string

	// InTree names every package of the source tree, for edge classification.
	InTree sets.Set[string]

	Flags     []string
	DestDir   string
	HeaderDir string
}

// Result is everything one invocation produced.
type Result struct {
	Outcome      Outcome
	Diagnostics  []compiler.Diagnostic
	Dependencies map[string]map[string]buildstate.EdgeKind
	APIs         map[string]pubapi.PackageAPI
	ExternalAPIs map[string]pubapi.PackageAPI
	Artifacts    map[string]sets.Set[string]
	Duration     time.Duration

	// Err explains a failed outcome.
	Err error
}

// Failed reports whether the invocation must fail the round.
func (r *Result) Failed() bool { return r.Outcome != OutcomeSuccess }

// FailedResult builds a failed result for invocations that never reached the compiler.
func FailedResult(err error) *Result {
	return &Result{
		Outcome:     OutcomeFailed,
		Err:         err,
		Diagnostics: []compiler.Diagnostic{{Severity: compiler.SeverityError, Message: err.Error()}},
	}
}

// Driver wires the observers around a compiler.
type Driver struct {
	compiler compiler.Compiler
	logger   *slog.Logger
}

// New returns a driver for c.
func New(c compiler.Compiler, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{compiler: c, logger: logger}
}

// Compile runs one invocation. It never panics and never returns a nil result;
// every failure is reported through the result's outcome and diagnostics.
func (d *Driver) Compile(ctx context.Context, req Request) (res *Result) {
	start := time.Now()
	if len(req.Explicit) == 0 {
		return &Result{
			Outcome: OutcomeNothingToCompile,
			Err:     errors.New(errors.CategoryCompiler, errors.SeverityError, "nothing to compile"),
		}
	}

	files := filemanager.New(req.DestDir, req.HeaderDir)
	files.SetVisibleSources(req.Linkable)
	files.CleanArtifacts()

	extractor := pubapi.NewExtractor()
	collector := NewDependencyCollector(req.InTree)
	checker := pkgcheck.NewChecker()

	var mu sync.Mutex
	var diags []compiler.Diagnostic
	report := func(diag compiler.Diagnostic) {
		mu.Lock()
		defer mu.Unlock()
		diags = append(diags, diag)
	}

	inv := &compiler.Invocation{
		ID:       req.ID,
		Explicit: req.Explicit,
		Flags:    req.Flags,
		Files:    files,
		Listener: listeners{extractor, collector, checker},
		Report:   report,
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Compiler panicked", "invocation", req.ID, "panic", r, "stack", string(debug.Stack()))
			err := errors.CompilerFailed(fmt.Errorf("panic: %v", r))
			report(compiler.Diagnostic{Severity: compiler.SeverityError, Message: err.Error()})
			res = &Result{Outcome: OutcomeFailed, Err: err, Diagnostics: diags, Duration: time.Since(start)}
		}
	}()

	compileErr := d.compiler.Compile(ctx, inv)

	res = &Result{
		Outcome:      OutcomeSuccess,
		Dependencies: collector.Edges(),
		APIs:         extractor.APIs(),
		ExternalAPIs: extractor.ExternalAPIs(),
		Artifacts:    files.PackageArtifacts(),
	}
	switch {
	case compileErr != nil:
		res.Err = errors.CompilerFailed(compileErr)
		report(compiler.Diagnostic{Severity: compiler.SeverityError, Message: compileErr.Error()})
	case hasErrors(diags):
		res.Err = errors.CompilerFailed(fmt.Errorf("%d error diagnostic(s)", countErrors(diags)))
	}
	if err := checker.Err(); err != nil {
		res.Err = err
		for _, m := range checker.Violations() {
			report(compiler.Diagnostic{
				Severity: compiler.SeverityError,
				Message:  fmt.Sprintf("directory %s does not match package %s", m.Directory, m.Package),
				Path:     m.Directory,
			})
		}
	}
	if res.Err != nil {
		res.Outcome = OutcomeFailed
	}
	res.Diagnostics = diags
	res.Duration = time.Since(start)

	d.logger.Debug("Invocation finished",
		"invocation", req.ID,
		logfields.Sources(len(req.Explicit)),
		logfields.Outcome(string(res.Outcome)),
		logfields.DurationMS(float64(res.Duration.Milliseconds())))
	return res
}

func hasErrors(diags []compiler.Diagnostic) bool { return countErrors(diags) > 0 }

func countErrors(diags []compiler.Diagnostic) int {
	n := 0
	for _, d := range diags {
		if d.Severity == compiler.SeverityError {
			n++
		}
	}
	return n
}
