package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeyBuildID    = "build_id"
	KeyTarget     = "target"
	KeyRound      = "round"
	KeyPackage    = "package"
	KeyPackages   = "packages"
	KeyReason     = "reason"
	KeyStage      = "stage"
	KeyWorker     = "worker"
	KeyPath       = "path"
	KeySources    = "sources"
	KeyArtifacts  = "artifacts"
	KeyDurationMS = "duration_ms"
	KeyOutcome    = "outcome"
	KeyError      = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func BuildID(id string) slog.Attr     { return slog.String(KeyBuildID, id) }
func Target(name string) slog.Attr    { return slog.String(KeyTarget, name) }
func Round(n int) slog.Attr           { return slog.Int(KeyRound, n) }
func Package(name string) slog.Attr   { return slog.String(KeyPackage, name) }
func Packages(n int) slog.Attr        { return slog.Int(KeyPackages, n) }
func Reason(r string) slog.Attr       { return slog.String(KeyReason, r) }
func Stage(name string) slog.Attr     { return slog.String(KeyStage, name) }
func Worker(id string) slog.Attr      { return slog.String(KeyWorker, id) }
func Path(p string) slog.Attr         { return slog.String(KeyPath, p) }
func Sources(n int) slog.Attr         { return slog.Int(KeySources, n) }
func Artifacts(n int) slog.Attr       { return slog.Int(KeyArtifacts, n) }
func DurationMS(ms float64) slog.Attr { return slog.Float64(KeyDurationMS, ms) }
func Outcome(o string) slog.Attr      { return slog.String(KeyOutcome, o) }
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
