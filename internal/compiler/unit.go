package compiler

import "strings"

// UnitKind is the declaration kind of a compiled unit.
type UnitKind string

const (
	KindClass       UnitKind = "class"
	KindInterface   UnitKind = "interface"
	KindEnum        UnitKind = "enum"
	KindRecord      UnitKind = "record"
	KindAnnotation  UnitKind = "annotation"
	KindModule      UnitKind = "module"
	KindPackageInfo UnitKind = "package-info"
)

// Visibility of a unit or member.
type Visibility string

const (
	Public    Visibility = "public"
	Protected Visibility = "protected"
	PackageV  Visibility = "package"
	Private   Visibility = "private"
)

// Origin tells whether a unit or reference comes from the source tree or a library.
type Origin string

const (
	OriginSource  Origin = "source"
	OriginLibrary Origin = "library"
)

// MemberKind is the kind of a unit member.
type MemberKind string

const (
	MemberMethod      MemberKind = "method"
	MemberConstructor MemberKind = "constructor"
	MemberField       MemberKind = "field"
)

// Unit describes one compiled type as reported by the compiler.
type Unit struct {
	// Name is the fully-qualified name, nested types joined with '.'.
	Name       string     `json:"name"`
	Package    string     `json:"package,omitempty"`
	Source     string     `json:"source,omitempty"`
	Kind       UnitKind   `json:"kind"`
	Visibility Visibility `json:"visibility,omitempty"`
	Modifiers  []string   `json:"modifiers,omitempty"`
	TypeParams []string   `json:"type_params,omitempty"`
	Supertypes []string   `json:"supertypes,omitempty"`
	Members    []Member   `json:"members,omitempty"`
	Nested     []*Unit    `json:"nested,omitempty"`

	// Anonymous units have no name visible to other code.
	Anonymous bool   `json:"anonymous,omitempty"`
	Synthetic bool   `json:"synthetic,omitempty"`
	Origin    Origin `json:"origin,omitempty"`

	// References lists the types this unit refers to.
	References []Reference `json:"references,omitempty"`
}

// Member is a method, constructor or field of a unit.
type Member struct {
	Kind       MemberKind `json:"kind"`
	Name       string     `json:"name"`
	Visibility Visibility `json:"visibility,omitempty"`
	Modifiers  []string   `json:"modifiers,omitempty"`
	TypeParams []string   `json:"type_params,omitempty"`

	// Type is the return type of a method or the type of a field.
	Type   string   `json:"type,omitempty"`
	Params []Param  `json:"params,omitempty"`
	Throws []string `json:"throws,omitempty"`

	// Constant holds the compile-time value of a constant field.
	Constant any `json:"constant,omitempty"`

	// Inherited members come from a supertype; Redeclared marks the ones the unit
	// declares again itself.
	Inherited  bool `json:"inherited,omitempty"`
	Redeclared bool `json:"redeclared,omitempty"`
	Synthetic  bool `json:"synthetic,omitempty"`
}

// Param is a method parameter.
type Param struct {
	Name string `json:"name,omitempty"`
	Type string `json:"type"`
}

// Reference is a type referenced by a unit.
type Reference struct {
	Name    string `json:"name"`
	Package string `json:"package,omitempty"`
	Origin  Origin `json:"origin,omitempty"`
}

// PackageOf returns the package part of a fully-qualified name whose simple name
// starts with an upper-case letter; lower-case segments are taken as package segments.
func PackageOf(fqn string) string {
	segs := strings.Split(fqn, ".")
	for i, s := range segs {
		if s != "" && s[0] >= 'A' && s[0] <= 'Z' {
			return strings.Join(segs[:i], ".")
		}
	}
	if i := strings.LastIndexByte(fqn, '.'); i >= 0 {
		return fqn[:i]
	}
	return ""
}

// IsPrivate reports whether the unit is hidden from other packages' view of its API.
func (u *Unit) IsPrivate() bool {
	return u.Visibility == Private
}

// Walk visits u and every nested unit depth-first.
func (u *Unit) Walk(fn func(*Unit)) {
	fn(u)
	for _, n := range u.Nested {
		n.Walk(fn)
	}
}
