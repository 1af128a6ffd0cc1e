package resources

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"slices"
	"strings"
)

// Transformer turns a resource file into its output bytes.
type Transformer interface {
	Name() string
	Transform(w io.Writer, r io.Reader) error
}

// Copy writes the input unchanged.
type Copy struct{}

func (Copy) Name() string { return "copy" }

func (Copy) Transform(w io.Writer, r io.Reader) error {
	_, err := io.Copy(w, r)
	return err
}

// CleanProperties drops comments and blank lines from a properties file and
// rewrites every entry as "key=value". Entry order is kept.
type CleanProperties struct{}

func (CleanProperties) Name() string { return "clean-properties" }

func (CleanProperties) Transform(w io.Writer, r io.Reader) error {
	sc := bufio.NewScanner(r)
	var out bytes.Buffer
	var pending string
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if pending != "" {
			line = pending + line
			pending = ""
		}
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
			continue
		}
		if strings.HasSuffix(line, `\`) && !strings.HasSuffix(line, `\\`) {
			pending = strings.TrimSuffix(line, `\`)
			continue
		}
		key, value := splitProperty(line)
		out.WriteString(key)
		out.WriteByte('=')
		out.WriteString(value)
		out.WriteByte('\n')
	}
	if err := sc.Err(); err != nil {
		return err
	}
	if pending != "" {
		key, value := splitProperty(pending)
		fmt.Fprintf(&out, "%s=%s\n", key, value)
	}
	_, err := w.Write(out.Bytes())
	return err
}

func splitProperty(line string) (string, string) {
	for i := 0; i < len(line); i++ {
		switch line[i] {
		case '\\':
			i++
		case '=', ':', ' ', '\t':
			key := line[:i]
			rest := strings.TrimLeft(line[i:], " \t")
			if rest != "" && (rest[0] == '=' || rest[0] == ':') {
				rest = strings.TrimLeft(rest[1:], " \t")
			}
			return key, rest
		}
	}
	return line, ""
}

var registry = map[string]Transformer{
	Copy{}.Name():            Copy{},
	CleanProperties{}.Name(): CleanProperties{},
}

// Lookup returns the transformer registered under name.
func Lookup(name string) (Transformer, bool) {
	t, ok := registry[name]
	return t, ok
}

// Names lists the registered transformers.
func Names() []string {
	out := make([]string, 0, len(registry))
	for n := range registry {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}
