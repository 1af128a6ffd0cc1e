// Package build runs configured targets end to end: scan, resources, safety net and
// then either a stateless one-shot compile or an incremental build.
// The CLI and watch mode both route through Service.
package build

import (
	"context"
	"time"

	"git.home.luguber.info/inful/incbuild/internal/compiler"
	"git.home.luguber.info/inful/incbuild/internal/config"
)

// Runner is the interface of the build pipeline.
type Runner interface {
	// Run builds the selected targets and returns a result even when it fails.
	Run(ctx context.Context, req Request) (*Result, error)
}

// Request selects what to build.
type Request struct {
	Config *config.Config

	// Targets names the targets to build; empty builds all of them.
	Targets []string
}

// Result is the outcome of one Run.
type Result struct {
	Status   Status
	Targets  []*TargetResult
	Duration time.Duration
}

// TargetResult is the outcome of one target.
type TargetResult struct {
	Target      string
	BuildID     string
	Status      Status
	Incremental bool

	Sources   int
	Resources int
	Rounds    int
	Compiled  []string
	Taint     map[string]string

	Diagnostics []compiler.Diagnostic
	Duration    time.Duration
	Err         error
}

// Status represents the outcome of a build.
type Status string

const (
	// StatusSuccess means something was compiled or recorded and committed.
	StatusSuccess Status = "success"

	// StatusUpToDate means nothing needed to change.
	StatusUpToDate Status = "up-to-date"

	StatusFailed   Status = "failed"
	StatusCanceled Status = "canceled"
)

// IsSuccess returns true if the build completed successfully.
func (s Status) IsSuccess() bool {
	return s == StatusSuccess || s == StatusUpToDate
}

// combine folds per-target statuses into an overall one.
func combine(results []*TargetResult) Status {
	status := StatusUpToDate
	for _, r := range results {
		switch r.Status {
		case StatusFailed:
			return StatusFailed
		case StatusCanceled:
			status = StatusCanceled
		case StatusSuccess:
			if status != StatusCanceled {
				status = StatusSuccess
			}
		}
	}
	return status
}
