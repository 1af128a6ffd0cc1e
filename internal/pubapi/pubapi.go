// Package pubapi derives the externally visible surface of compiled units.
//
// A PackageAPI maps each visible type of a package to the sorted set of canonical
// signature lines describing it. Private members, synthetic members and inherited
// members that are not redeclared never contribute, so implementation-only edits
// leave the fingerprint unchanged.
package pubapi

import (
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"

	"lukechampine.com/blake3"

	"git.home.luguber.info/inful/incbuild/internal/compiler"
)

// PackageAPI is the fingerprint of one package: type name -> sorted signature lines.
type PackageAPI map[string][]string

// Extract returns the fingerprint contribution of one compiled unit and its nested
// declarations. Private units are skipped entirely; anonymous and synthetic units
// produce no entry but their nested declarations are still visited.
func Extract(u *compiler.Unit) PackageAPI {
	api := PackageAPI{}
	extractInto(api, u)
	return api
}

func extractInto(api PackageAPI, u *compiler.Unit) {
	if u == nil || u.IsPrivate() {
		return
	}
	if !u.Anonymous && !u.Synthetic {
		lines := []string{typeHeader(u)}
		for i := range u.Members {
			m := &u.Members[i]
			if !visible(m) {
				continue
			}
			lines = append(lines, memberSignature(m))
		}
		api[u.Name] = normalize(lines)
	}
	for _, n := range u.Nested {
		extractInto(api, n)
	}
}

func visible(m *compiler.Member) bool {
	if m.Visibility == compiler.Private || m.Synthetic {
		return false
	}
	return !m.Inherited || m.Redeclared
}

func typeHeader(u *compiler.Unit) string {
	var b strings.Builder
	b.WriteString("type ")
	b.WriteString(string(u.Kind))
	writeVisibility(&b, u.Visibility)
	writeList(&b, " ", sortedCopy(u.Modifiers), " ")
	writeTypeParams(&b, u.TypeParams)
	if len(u.Supertypes) > 0 {
		b.WriteString(" : ")
		b.WriteString(strings.Join(sortedCopy(u.Supertypes), ","))
	}
	return b.String()
}

func memberSignature(m *compiler.Member) string {
	var b strings.Builder
	b.WriteString(string(m.Kind))
	writeVisibility(&b, m.Visibility)
	writeList(&b, " ", sortedCopy(m.Modifiers), " ")
	writeTypeParams(&b, m.TypeParams)

	switch m.Kind {
	case compiler.MemberField:
		b.WriteString(" ")
		b.WriteString(m.Type)
		b.WriteString(" ")
		b.WriteString(m.Name)
		if m.Constant != nil {
			b.WriteString(" = ")
			b.WriteString(FormatConstant(m.Constant))
		}
	default:
		if m.Kind == compiler.MemberMethod {
			b.WriteString(" ")
			b.WriteString(m.Type)
		}
		b.WriteString(" ")
		b.WriteString(m.Name)
		b.WriteString("(")
		for i, p := range m.Params {
			if i > 0 {
				b.WriteString(",")
			}
			b.WriteString(p.Type)
		}
		b.WriteString(")")
		if len(m.Throws) > 0 {
			b.WriteString(" throws ")
			b.WriteString(strings.Join(sortedCopy(m.Throws), ","))
		}
	}
	return b.String()
}

// FormatConstant renders a compile-time constant in a stable, escaped form.
func FormatConstant(v any) string {
	switch c := v.(type) {
	case string:
		return strconv.QuoteToASCII(c)
	case json.Number:
		if i, err := c.Int64(); err == nil {
			return strconv.FormatInt(i, 10)
		}
		if !strings.ContainsAny(c.String(), ".eE") {
			return c.String()
		}
		if f, err := c.Float64(); err == nil {
			return strconv.FormatFloat(f, 'g', -1, 64)
		}
		return c.String()
	case float64:
		return strconv.FormatFloat(c, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(c), 'g', -1, 32)
	default:
		return fmt.Sprintf("%v", c)
	}
}

func writeVisibility(b *strings.Builder, v compiler.Visibility) {
	if v == "" {
		v = compiler.PackageV
	}
	b.WriteString(" ")
	b.WriteString(string(v))
}

func writeTypeParams(b *strings.Builder, params []string) {
	if len(params) == 0 {
		return
	}
	b.WriteString(" <")
	b.WriteString(strings.Join(params, ","))
	b.WriteString(">")
}

func writeList(b *strings.Builder, prefix string, items []string, sep string) {
	if len(items) == 0 {
		return
	}
	b.WriteString(prefix)
	b.WriteString(strings.Join(items, sep))
}

func sortedCopy(in []string) []string {
	out := slices.Clone(in)
	sort.Strings(out)
	return out
}

func normalize(lines []string) []string {
	sort.Strings(lines)
	return slices.Compact(lines)
}

// Merge adds every type of other into api, taking the union of signature lines for
// types present in both.
func (api PackageAPI) Merge(other PackageAPI) {
	for name, lines := range other {
		if cur, ok := api[name]; ok {
			api[name] = normalize(append(slices.Clone(cur), lines...))
			continue
		}
		api[name] = slices.Clone(lines)
	}
}

// Clone returns a deep copy.
func (api PackageAPI) Clone() PackageAPI {
	if api == nil {
		return nil
	}
	out := make(PackageAPI, len(api))
	for k, v := range api {
		out[k] = slices.Clone(v)
	}
	return out
}

// Equal reports whether two fingerprints describe the same visible surface.
// A nil and an empty fingerprint are equal.
func Equal(a, b PackageAPI) bool {
	if len(a) != len(b) {
		return false
	}
	for name, la := range a {
		lb, ok := b[name]
		if !ok || !slices.Equal(la, lb) {
			return false
		}
	}
	return true
}

// Digest is a short, stable hash of the fingerprint, used for display and history.
func (api PackageAPI) Digest() string {
	names := make([]string, 0, len(api))
	for name := range api {
		names = append(names, name)
	}
	sort.Strings(names)

	h := blake3.New(32, nil)
	for _, name := range names {
		_, _ = h.Write([]byte(name))
		_, _ = h.Write([]byte{0})
		for _, line := range api[name] {
			_, _ = h.Write([]byte(line))
			_, _ = h.Write([]byte{'\n'})
		}
		_, _ = h.Write([]byte{0})
	}
	return fmt.Sprintf("%x", h.Sum(nil))[:16]
}
