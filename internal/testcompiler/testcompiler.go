// Package testcompiler provides an in-process compiler for tests.
//
// It understands a line-oriented declaration format (one type per file):
//
//	package a.b
//	class public Widget : a.Base
//	method public void run(int) throws java.io.IOException
//	field public static final java.lang.String NAME = "w"
//	ctor public Widget(int)
//	uses c.Helper
//	body anything here is private implementation
//
// A `uses` reference must resolve to a type declared in a visible source, to a
// platform package (java.*, javax.*) or to a library type, otherwise an error
// diagnostic is reported. Library types are .toy files below the directories named
// by `-classpath`/`-cp` flags; every library type a unit refers to is reported once
// per invocation as a library unit.
// The directives `error <msg>`, `hang`, `panic` and `native` simulate failures,
// timeouts, crashes and native header outputs.
package testcompiler

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"git.home.luguber.info/inful/incbuild/internal/compiler"
)

// Extension is the source suffix the test compiler expects.
const Extension = ".toy"

// Compiler is a compiler.Compiler that records every invocation.
type Compiler struct {
	mu    sync.Mutex
	calls [][]string
}

// New returns a fresh test compiler.
func New() *Compiler { return &Compiler{} }

// Calls returns the explicit source list of every invocation so far.
func (c *Compiler) Calls() [][]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]string, len(c.calls))
	for i, call := range c.calls {
		out[i] = append([]string(nil), call...)
	}
	return out
}

// Compiled returns every source compiled so far, in invocation order.
func (c *Compiler) Compiled() []string {
	var out []string
	for _, call := range c.Calls() {
		out = append(out, call...)
	}
	return out
}

// Reset forgets recorded invocations.
func (c *Compiler) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = nil
}

// Compile implements compiler.Compiler.
func (c *Compiler) Compile(ctx context.Context, inv *compiler.Invocation) error {
	defer inv.Listener.CompilationCompleted()

	c.mu.Lock()
	c.calls = append(c.calls, append([]string(nil), inv.Explicit...))
	c.mu.Unlock()

	index := indexVisible(inv.Files)
	libs, err := indexLibraries(classpath(inv.Flags))
	if err != nil {
		return err
	}
	reported := map[string]bool{}

	failed := false
	for _, path := range inv.Explicit {
		if err := ctx.Err(); err != nil {
			return err
		}
		decl, err := load(inv.Files, path)
		if err != nil {
			inv.Report(compiler.Diagnostic{Severity: compiler.SeverityError, Path: path, Message: err.Error()})
			failed = true
			continue
		}
		ok := resolveReferences(inv, path, decl, index, libs, reported)
		for _, d := range decl.directives {
			switch d.name {
			case "hang":
				<-ctx.Done()
				return ctx.Err()
			case "panic":
				panic("testcompiler: " + path)
			case "error":
				inv.Report(compiler.Diagnostic{Severity: compiler.SeverityError, Path: path, Line: d.line, Message: d.arg})
				ok = false
			}
		}
		if !ok {
			failed = true
			continue
		}
		if err := writeOutputs(inv.Files, decl); err != nil {
			return err
		}
		inv.Listener.UnitCompleted(decl.unit)
	}
	if failed {
		return fmt.Errorf("compilation failed")
	}
	return nil
}

type directive struct {
	name string
	arg  string
	line int
}

type declaration struct {
	unit       *compiler.Unit
	raw        []byte
	directives []directive
	native     bool
}

// indexVisible maps every type declared by a visible source to its package.
func indexVisible(files compiler.FileManager) map[string]string {
	index := map[string]string{}
	for _, path := range files.VisibleSources() {
		decl, err := load(files, path)
		if err != nil {
			continue
		}
		index[decl.unit.Name] = decl.unit.Package
	}
	return index
}

// classpath returns the library directories named by -classpath/-cp flags.
func classpath(flags []string) []string {
	var dirs []string
	for i := 0; i < len(flags); i++ {
		if (flags[i] == "-classpath" || flags[i] == "-cp") && i+1 < len(flags) {
			dirs = append(dirs, filepath.SplitList(flags[i+1])...)
			i++
		}
	}
	return dirs
}

// indexLibraries parses every library type below dirs.
func indexLibraries(dirs []string) (map[string]*compiler.Unit, error) {
	libs := map[string]*compiler.Unit{}
	for _, dir := range dirs {
		err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() || !strings.HasSuffix(p, Extension) {
				return err
			}
			raw, err := os.ReadFile(p)
			if err != nil {
				return err
			}
			decl, err := parse(string(raw))
			if err != nil {
				return fmt.Errorf("library %s: %w", p, err)
			}
			decl.unit.Origin = compiler.OriginLibrary
			libs[decl.unit.Name] = decl.unit
			return nil
		})
		if err != nil && !os.IsNotExist(err) {
			return nil, err
		}
	}
	return libs, nil
}

func resolveReferences(inv *compiler.Invocation, path string, decl *declaration, index map[string]string,
	libs map[string]*compiler.Unit, reported map[string]bool) bool {
	ok := true
	for i, ref := range decl.unit.References {
		if isLibrary(ref.Name) {
			decl.unit.References[i].Origin = compiler.OriginLibrary
			decl.unit.References[i].Package = compiler.PackageOf(ref.Name)
			continue
		}
		if lib, found := libs[ref.Name]; found {
			decl.unit.References[i].Origin = compiler.OriginLibrary
			decl.unit.References[i].Package = lib.Package
			if !reported[lib.Name] {
				reported[lib.Name] = true
				inv.Listener.UnitCompleted(lib)
			}
			continue
		}
		pkg, found := index[ref.Name]
		if !found {
			inv.Report(compiler.Diagnostic{Severity: compiler.SeverityError, Path: path, Message: "cannot find symbol " + ref.Name})
			ok = false
			continue
		}
		decl.unit.References[i].Origin = compiler.OriginSource
		decl.unit.References[i].Package = pkg
	}
	return ok
}

func isLibrary(name string) bool {
	return strings.HasPrefix(name, "java.") || strings.HasPrefix(name, "javax.")
}

func writeOutputs(files compiler.FileManager, decl *declaration) error {
	kinds := []compiler.OutputKind{compiler.OutputClass}
	if decl.native {
		kinds = append(kinds, compiler.OutputNativeHeader)
	}
	for _, kind := range kinds {
		w, err := files.CreateOutput(decl.unit.Name, kind)
		if err != nil {
			return err
		}
		if _, err := w.Write(decl.raw); err != nil {
			_ = w.Close()
			return err
		}
		if err := w.Close(); err != nil {
			return err
		}
	}
	return nil
}

func load(files compiler.FileManager, path string) (*declaration, error) {
	rc, err := files.Open(path, compiler.InputSource)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()
	raw, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}
	decl, err := parse(string(raw))
	if err != nil {
		return nil, err
	}
	decl.raw = raw
	decl.unit.Source = path
	return decl, nil
}

func parse(src string) (*declaration, error) {
	decl := &declaration{unit: &compiler.Unit{Origin: compiler.OriginSource}}
	u := decl.unit
	var simple string

	sc := bufio.NewScanner(strings.NewReader(src))
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "//") {
			continue
		}
		keyword, rest, _ := strings.Cut(line, " ")
		rest = strings.TrimSpace(rest)
		switch keyword {
		case "package":
			u.Package = rest
		case "class", "interface", "enum", "record", "annotation":
			fields := strings.Fields(rest)
			if len(fields) < 2 {
				return nil, fmt.Errorf("line %d: want %s <visibility> <Name>", lineNo, keyword)
			}
			u.Kind = compiler.UnitKind(keyword)
			u.Visibility = compiler.Visibility(fields[0])
			simple = fields[1]
			if name, params, ok := strings.Cut(simple, "<"); ok {
				simple = name
				u.TypeParams = splitList(strings.TrimSuffix(params, ">"))
			}
			if len(fields) >= 4 && fields[2] == ":" {
				u.Supertypes = splitList(fields[3])
			}
		case "method", "ctor":
			m, err := parseCallable(keyword, rest)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			u.Members = append(u.Members, m)
		case "field":
			m, err := parseField(rest)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			u.Members = append(u.Members, m)
		case "uses":
			u.References = append(u.References, compiler.Reference{Name: rest})
		case "body":
		case "native":
			decl.native = true
		case "error", "hang", "panic":
			decl.directives = append(decl.directives, directive{name: keyword, arg: rest, line: lineNo})
		default:
			return nil, fmt.Errorf("line %d: unknown keyword %q", lineNo, keyword)
		}
	}
	if simple == "" {
		return nil, fmt.Errorf("no type declaration")
	}
	u.Name = simple
	if u.Package != "" {
		u.Name = u.Package + "." + simple
	}
	return decl, nil
}

func parseCallable(keyword, rest string) (compiler.Member, error) {
	m := compiler.Member{Kind: compiler.MemberMethod}
	if keyword == "ctor" {
		m.Kind = compiler.MemberConstructor
	}
	sig, throws, _ := strings.Cut(rest, " throws ")
	open := strings.IndexByte(sig, '(')
	if open < 0 || !strings.HasSuffix(sig, ")") {
		return m, fmt.Errorf("malformed %s %q", keyword, rest)
	}
	head := strings.Fields(sig[:open])
	params := splitList(sig[open+1 : len(sig)-1])
	if len(head) < 2 {
		return m, fmt.Errorf("malformed %s %q", keyword, rest)
	}
	m.Visibility = compiler.Visibility(head[0])
	m.Name = head[len(head)-1]
	mods := head[1 : len(head)-1]
	if keyword == "method" {
		if len(head) < 3 {
			return m, fmt.Errorf("method %q needs a return type", rest)
		}
		m.Type = head[len(head)-2]
		mods = head[1 : len(head)-2]
	}
	m.Modifiers = append([]string(nil), mods...)
	for _, p := range params {
		m.Params = append(m.Params, compiler.Param{Type: p})
	}
	if throws != "" {
		m.Throws = splitList(throws)
	}
	return m, nil
}

func parseField(rest string) (compiler.Member, error) {
	m := compiler.Member{Kind: compiler.MemberField}
	decl, value, hasValue := strings.Cut(rest, " = ")
	fields := strings.Fields(decl)
	if len(fields) < 3 {
		return m, fmt.Errorf("malformed field %q", rest)
	}
	m.Visibility = compiler.Visibility(fields[0])
	m.Name = fields[len(fields)-1]
	m.Type = fields[len(fields)-2]
	m.Modifiers = append([]string(nil), fields[1:len(fields)-2]...)
	if hasValue {
		m.Constant = parseConstant(strings.TrimSpace(value))
	}
	return m, nil
}

func parseConstant(v string) any {
	if s, err := strconv.Unquote(v); err == nil {
		return s
	}
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	return v
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
