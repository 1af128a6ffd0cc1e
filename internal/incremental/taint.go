package incremental

import (
	"strings"

	"git.home.luguber.info/inful/incbuild/internal/util/sets"
)

// Taint reasons.
const (
	ReasonChanged          = "changed"
	ReasonMissingArtifacts = "missing-artifacts"
	ReasonNoArtifacts      = "no-artifacts"
	ReasonFlagsChanged     = "flags-changed"
	ReasonLibraryChanged   = "library-changed"
	ReasonAPIChange        = "api-change"
)

// APIChangeReason names the package whose fingerprint change caused a taint.
func APIChangeReason(pkg string) string {
	return ReasonAPIChange + ":" + pkg
}

// ReasonKind strips the package suffix of an api-change reason.
func ReasonKind(reason string) string {
	kind, _, _ := strings.Cut(reason, ":")
	return kind
}

// TaintSet is the set of packages requiring recompilation, each with the first
// reason it was tainted for. It only ever grows.
type TaintSet struct {
	reasons map[string]string
}

// NewTaintSet returns an empty set.
func NewTaintSet() *TaintSet {
	return &TaintSet{reasons: map[string]string{}}
}

// Add taints pkg and reports whether it was newly tainted.
func (t *TaintSet) Add(pkg, reason string) bool {
	if _, ok := t.reasons[pkg]; ok {
		return false
	}
	t.reasons[pkg] = reason
	return true
}

// Has reports whether pkg is tainted.
func (t *TaintSet) Has(pkg string) bool {
	_, ok := t.reasons[pkg]
	return ok
}

// Len returns the number of tainted packages.
func (t *TaintSet) Len() int { return len(t.reasons) }

// Reason returns why pkg was tainted.
func (t *TaintSet) Reason(pkg string) string { return t.reasons[pkg] }

// Packages returns the tainted packages in sorted order.
func (t *TaintSet) Packages() []string {
	s := sets.New[string]()
	for pkg := range t.reasons {
		s.Add(pkg)
	}
	return sets.Sorted(s)
}

// Reasons returns a copy of the package -> reason map.
func (t *TaintSet) Reasons() map[string]string {
	out := make(map[string]string, len(t.reasons))
	for k, v := range t.reasons {
		out[k] = v
	}
	return out
}

// countByKind groups the given reasons by kind for metrics.
func countByKind(reasons map[string]string) map[string]int {
	out := map[string]int{}
	for _, r := range reasons {
		out[ReasonKind(r)]++
	}
	return out
}
