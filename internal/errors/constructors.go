package errors

import (
	"sort"
	"strings"
)

// Convenience functions for common error patterns

// Config errors

func ConfigNotFound(path string) *BuildError {
	return New(CategoryConfig, SeverityFatal, "configuration file not found").
		WithContext("path", path)
}

func ConfigRequired(field string) *BuildError {
	return New(CategoryConfig, SeverityFatal, "required configuration missing").
		WithContext("field", field)
}

func ValidationFailed(field, reason string) *BuildError {
	return New(CategoryValidation, SeverityFatal, "validation failed").
		WithContext("field", field).
		WithContext("reason", reason)
}

// DirectoryOverlap reports two configured directories that must be disjoint.
func DirectoryOverlap(a, b string) *BuildError {
	return New(CategoryConfig, SeverityFatal, "directories overlap").
		WithContext("first", a).
		WithContext("second", b)
}

// DuplicateSource reports a root-relative path present in more than one source root.
func DuplicateSource(rel, first, second string) *BuildError {
	return New(CategoryConfig, SeverityFatal, "source present in more than one root").
		WithContext("path", rel).
		WithContext("first", first).
		WithContext("second", second)
}

// Round errors

// Mismatch is one directory / declared package pair rejected by the consistency check.
type Mismatch struct {
	Directory string
	Package   string
}

// PackageMismatch reports every path/package violation collected during a round.
func PackageMismatch(mismatches []Mismatch) *BuildError {
	parts := make([]string, 0, len(mismatches))
	for _, m := range mismatches {
		parts = append(parts, m.Directory+" vs "+m.Package)
	}
	sort.Strings(parts)
	return New(CategoryConsistency, SeverityError, "source location does not match declared package").
		WithContext("mismatches", strings.Join(parts, "; "))
}

func CompilerFailed(cause error) *BuildError {
	return Wrap(cause, CategoryCompiler, SeverityError, "compiler invocation failed")
}

func RoundFailed(round int, cause error) *BuildError {
	return Wrap(cause, CategoryCompiler, SeverityError, "compilation round failed").
		WithContext("round", round)
}

// Whole-build errors

// SourceListDiverged is raised when the scanned sources differ from the expected list.
func SourceListDiverged(missing, unexpected []string) *BuildError {
	return New(CategorySafety, SeverityFatal, "found sources differ from the expected source list").
		WithContext("missing", missing).
		WithContext("unexpected", unexpected)
}

func StateCommitFailed(path string, cause error) *BuildError {
	return Wrap(cause, CategoryState, SeverityFatal, "build state commit failed").
		WithContext("path", path)
}

func FileSystemError(operation string, cause error) *BuildError {
	return Wrap(cause, CategoryFileSystem, SeverityFatal, "filesystem operation failed").
		WithContext("operation", operation)
}

// Internal errors

func InternalError(message string, cause error) *BuildError {
	return Wrap(cause, CategoryInternal, SeverityFatal, message)
}
