package transform

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// ErrUnknown is returned by Lookup for names that are not registered.
var ErrUnknown = errors.New("transform: unknown transform")

// Factory builds a Func from the argument that follows the colon in a
// transform name ("repeat:10" calls the "repeat" factory with "10").
type Factory func(arg string) (Func, error)

var (
	mu        sync.RWMutex
	funcs     = map[string]Func{}
	factories = map[string]Factory{}
)

// Register adds a named transform. Subprocess workers can only run
// transforms that are registered by name, since funcs cannot cross a
// process boundary.
func Register(name string, fn Func) {
	mu.Lock()
	defer mu.Unlock()
	funcs[name] = fn
}

// RegisterFactory adds a parameterized transform family.
func RegisterFactory(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[name] = f
}

// Lookup resolves a transform name such as "upper" or "repeat:10".
func Lookup(name string) (Func, error) {
	mu.RLock()
	defer mu.RUnlock()

	if fn, ok := funcs[name]; ok {
		return fn, nil
	}
	base, arg, ok := strings.Cut(name, ":")
	if ok {
		if f, found := factories[base]; found {
			fn, err := f(arg)
			if err != nil {
				return nil, fmt.Errorf("transform %q: %w", name, err)
			}
			return fn, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknown, name)
}

// Names lists the registered transforms, factories suffixed with ":ARG".
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]string, 0, len(funcs)+len(factories))
	for name := range funcs {
		names = append(names, name)
	}
	for name := range factories {
		names = append(names, name+":ARG")
	}
	sort.Strings(names)
	return names
}

func init() {
	Register("identity", func(line string) (string, error) { return line, nil })
	Register("upper", mapContent(strings.ToUpper))
	Register("lower", mapContent(strings.ToLower))
	Register("trim-space", mapContent(strings.TrimSpace))
	Register("reverse", mapContent(reverse))

	RegisterFactory("repeat", func(arg string) (Func, error) {
		n, err := strconv.Atoi(arg)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("repeat count must be a non-negative integer, got %q", arg)
		}
		return Repeat(n), nil
	})
	RegisterFactory("fail-on", func(arg string) (Func, error) {
		return func(line string) (string, error) {
			if content, _ := SplitTerminator(line); content == arg {
				return "", fmt.Errorf("rejected line %q", arg)
			}
			return line, nil
		}, nil
	})
}

// Repeat returns a transform that writes the line's content n times followed
// by a newline, so "5\n" becomes "55555\n" for n=5.
func Repeat(n int) Func {
	return func(line string) (string, error) {
		content, _ := SplitTerminator(line)
		return strings.Repeat(content, n) + "\n", nil
	}
}

// SplitTerminator separates a line from its "\n" or "\r\n" terminator.
func SplitTerminator(line string) (content, term string) {
	switch {
	case strings.HasSuffix(line, "\r\n"):
		return line[:len(line)-2], "\r\n"
	case strings.HasSuffix(line, "\n"):
		return line[:len(line)-1], "\n"
	}
	return line, ""
}

// mapContent applies f to the line content and keeps the terminator.
func mapContent(f func(string) string) Func {
	return func(line string) (string, error) {
		content, term := SplitTerminator(line)
		return f(content) + term, nil
	}
}

func reverse(s string) string {
	r := []rune(s)
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
	return string(r)
}
