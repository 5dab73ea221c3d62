package filterconfig

import (
	"strings"

	"github.com/gobwas/glob"
	"github.com/taist-dev/taist/pkg/trace"
)

// blocklist is the built-in set of internal-library name substrings the
// default name predicate always rejects, so the tracer never traces
// itself (spec.md §4.G).
var blocklist = []string{
	"taist.",
	"internal/wrapper",
	"internal/reporter",
	"internal/collector",
}

// CompileGlob compiles a single glob pattern, wrapping gobwas/glob's
// parse error so filterconfig.Validate can attribute it to a ConfigError.
func CompileGlob(pattern string) (glob.Glob, error) {
	return glob.Compile(pattern, '/')
}

// FileFilter decides whether a source file path should be handed to the
// transformer (component C), based on the include/exclude glob lists.
// An empty include set means "accept all non-excluded" (spec.md §4.G).
type FileFilter struct {
	include []glob.Glob
	exclude []glob.Glob
}

// NewFileFilter compiles cfg's include/exclude globs. Patterns are
// assumed pre-validated by Validate; a compile failure here falls back
// to rejecting that pattern rather than panicking, since filters must
// never crash an instrumented process.
func NewFileFilter(cfg *Config) *FileFilter {
	f := &FileFilter{}
	for _, p := range cfg.Include {
		if g, err := CompileGlob(p); err == nil {
			f.include = append(f.include, g)
		}
	}
	for _, p := range cfg.Exclude {
		if g, err := CompileGlob(p); err == nil {
			f.exclude = append(f.exclude, g)
		}
	}
	return f
}

// Accept reports whether path should be instrumented.
func (f *FileFilter) Accept(path string) bool {
	for _, g := range f.exclude {
		if g.Match(path) {
			return false
		}
	}
	if len(f.include) == 0 {
		return true
	}
	for _, g := range f.include {
		if g.Match(path) {
			return true
		}
	}
	return false
}

// NamePredicate is the (record) -> bool predicate the wrapper and
// collector apply to reject self-trace noise and user-excluded names.
type NamePredicate func(name string) bool

// NewNamePredicate builds the default trace-name filter: reject any
// name containing a blocklist substring or a user-supplied exclude
// substring.
func NewNamePredicate(userExcludes []string) NamePredicate {
	excludes := append(append([]string{}, blocklist...), userExcludes...)
	return func(name string) bool {
		for _, sub := range excludes {
			if sub != "" && strings.Contains(name, sub) {
				return false
			}
		}
		return true
	}
}

// Accept applies p to a trace.Record, rejecting self-trace/excluded names.
func (p NamePredicate) Accept(r trace.Record) bool {
	return p(r.Name)
}

// FunctionExcluded reports whether shortName (the bare method/function
// name, not the dotted qualified name) is in cfg's per-function
// exclusion list — the wrapper layer's finer-grained filter described
// in spec.md §4.G's last sentence.
func FunctionExcluded(cfg *Config, shortName string) bool {
	for _, n := range cfg.ExcludeNames {
		if n == shortName {
			return true
		}
	}
	return false
}
