// Package transform implements component C: a build-time/load-time
// rewriter that turns exported functions, classes, and nested
// object-literal methods into calls through the wrapper runtime
// (component D), per spec.md §4.C.
//
// Grounded on internal/processing/log_processor.go's CompiledStep
// pipeline (compile a set of patterns once, run them as a staged
// sequence of text transforms over an input). No third-party JS/TS
// parser exists anywhere in the example pack, and the teacher's own
// text-processing code never reaches for one either — it reaches for
// regexp — so this component follows that same line/regex-based
// rewriting approach rather than vendoring an unrelated AST library.
package transform

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/taist-dev/taist/internal/apperr"
)

// Sentinel marks transformed output so re-running Transform on its own
// result is a no-op (spec.md §4.C idempotence requirement, §8 property 4).
const Sentinel = "/* taist:instrumented */"

const runtimeImport = `import { wrap as __taist_wrap, instrumentClass as __taist_instrumentClass, instrumentObject as __taist_instrumentObject } from "@taist/runtime";`

var (
	reNamedFunction    = regexp.MustCompile(`(?m)^export function (\w+)\s*\(`)
	reNamedConstLambda = regexp.MustCompile(`(?m)^export const (\w+)\s*=\s*(?:\([^\n]*\)\s*=>|function\b)`)
	reObjectExport     = regexp.MustCompile(`(?m)^export const (\w+)\s*=\s*\{`)
	reClassDecl        = regexp.MustCompile(`(?m)^export(?:\s+default)?\s+class\s+(\w+)\b`)
	reMethodLine       = regexp.MustCompile(`^\s*(static\s+)?(?:async\s+)?(?:\*\s*)?(#?\w+)\s*\(`)
	reDeclareLine      = regexp.MustCompile(`^export\s+declare\b`)
)

// Transform rewrites src so that every exported function, named const
// lambda, class (instance + static methods), and object-literal export
// reachable from modulePrefix's module calls through the wrapper
// runtime under a qualified name ("<modulePrefix>.<name>"). A file with
// no recognized export shape is returned unchanged. Declaration-only
// files (every export line is `export declare ...`) are skipped.
//
// Re-running Transform on its own output is a no-op: the sentinel
// comment is checked first and short-circuits before any rewriting.
func Transform(src, modulePrefix string) (string, error) {
	if strings.Contains(src, Sentinel) {
		return src, nil
	}
	if isDeclarationOnly(src) {
		return src, nil
	}

	out := src
	changed := false

	if s, ok, err := transformNamedFunctions(out, modulePrefix); err != nil {
		return "", err
	} else if ok {
		out, changed = s, true
	}
	if s, ok, err := transformObjectExports(out, modulePrefix); err != nil {
		return "", err
	} else if ok {
		out, changed = s, true
	}
	if s, ok, err := transformNamedConstLambdas(out, modulePrefix); err != nil {
		return "", err
	} else if ok {
		out, changed = s, true
	}
	if s, ok, err := transformClasses(out, modulePrefix); err != nil {
		return "", err
	} else if ok {
		out, changed = s, true
	}

	if !changed {
		return src, nil
	}
	return Sentinel + "\n" + runtimeImport + "\n\n" + out, nil
}

// isDeclarationOnly reports whether every exported line in src is a
// `export declare ...` statement — a type-only artifact with no runtime
// body to wrap.
func isDeclarationOnly(src string) bool {
	sawExport := false
	for _, line := range strings.Split(src, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "export") {
			continue
		}
		sawExport = true
		if !reDeclareLine.MatchString(trimmed) {
			return false
		}
	}
	return sawExport
}

// transformNamedFunctions handles shape 1: `export function foo(…) {…}`.
// The original is renamed to a private symbol; a wrapped binding is
// re-exported under the same name.
func transformNamedFunctions(src, prefix string) (string, bool, error) {
	changed := false
	for {
		loc := reNamedFunction.FindStringSubmatchIndex(src)
		if loc == nil {
			break
		}
		name := src[loc[2]:loc[3]]
		declStart := loc[0]

		braceIdx := strings.IndexByte(src[declStart:], '{')
		if braceIdx < 0 {
			return "", false, apperr.New(apperr.KindTransform, "transform", "transformNamedFunctions", fmt.Errorf("no function body found for %q", name))
		}
		braceIdx += declStart

		endIdx := findMatchingBrace(src, braceIdx)
		if endIdx < 0 {
			return "", false, apperr.New(apperr.KindTransform, "transform", "transformNamedFunctions", fmt.Errorf("unbalanced braces in function %q", name))
		}

		original := src[declStart : endIdx+1]
		privateName := privateSymbol(name)
		renamed := strings.Replace(original, "export function "+name, "function "+privateName, 1)
		exportStmt := fmt.Sprintf("\nexport const %s = __taist_wrap(%q, %s);\n", name, prefix+"."+name, privateName)

		src = src[:declStart] + renamed + exportStmt + src[endIdx+1:]
		changed = true
	}
	return src, changed, nil
}

// transformNamedConstLambdas handles shape 2: `export const foo = (…) =>
// …` or `export const foo = function …`.
func transformNamedConstLambdas(src, prefix string) (string, bool, error) {
	changed := false
	for {
		loc := reNamedConstLambda.FindStringSubmatchIndex(src)
		if loc == nil {
			break
		}
		name := src[loc[2]:loc[3]]
		declStart := loc[0]

		endIdx := findStatementEnd(src, declStart)
		original := src[declStart:endIdx]
		privateName := privateSymbol(name)
		renamed := strings.Replace(original, "export const "+name, "const "+privateName, 1)
		exportStmt := fmt.Sprintf("\nexport const %s = __taist_wrap(%q, %s);\n", name, prefix+"."+name, privateName)

		src = src[:declStart] + renamed + exportStmt + src[endIdx:]
		changed = true
	}
	return src, changed, nil
}

// transformObjectExports handles shape 4: `export const handlers = {
// Query: { getUser(…) {…} } }`. The recursive walk over the object's
// plain-object subtree happens at runtime in __taist_instrumentObject,
// which names each wrapped leaf by its dotted path under modulePrefix.
func transformObjectExports(src, prefix string) (string, bool, error) {
	changed := false
	for {
		loc := reObjectExport.FindStringSubmatchIndex(src)
		if loc == nil {
			break
		}
		name := src[loc[2]:loc[3]]
		declStart := loc[0]

		braceIdx := strings.IndexByte(src[declStart:], '{')
		if braceIdx < 0 {
			return "", false, apperr.New(apperr.KindTransform, "transform", "transformObjectExports", fmt.Errorf("no object literal found for %q", name))
		}
		braceIdx += declStart

		endIdx := findMatchingBrace(src, braceIdx)
		if endIdx < 0 {
			return "", false, apperr.New(apperr.KindTransform, "transform", "transformObjectExports", fmt.Errorf("unbalanced braces in object literal %q", name))
		}

		// Consume the trailing ';' if present, since the regex only
		// anchors the opening brace.
		stmtEnd := endIdx + 1
		if stmtEnd < len(src) && src[stmtEnd] == ';' {
			stmtEnd++
		}

		original := src[declStart:stmtEnd]
		privateName := privateSymbol(name)
		renamed := strings.Replace(original, "export const "+name, "const "+privateName, 1)
		exportStmt := fmt.Sprintf("\nexport const %s = __taist_instrumentObject(%s, %q);\n", name, privateName, prefix+"."+name)

		src = src[:declStart] + renamed + exportStmt + src[stmtEnd:]
		changed = true
	}
	return src, changed, nil
}

// transformClasses handles shape 3: `export class C {…}` and `export
// default class C {…}`. The declaration is left exactly as written (so
// hoisting keeps working for circular imports); an instrumentation call
// is appended after the class body that rewrites every non-excluded
// prototype and static method to a wrapped version named "C.<method>".
//
// Matches are collected up front and applied back-to-front so inserting
// text after one class never invalidates the byte offsets of an
// earlier one still to be processed.
func transformClasses(src, prefix string) (string, bool, error) {
	matches := reClassDecl.FindAllStringSubmatchIndex(src, -1)
	if len(matches) == 0 {
		return src, false, nil
	}

	changed := false
	for i := len(matches) - 1; i >= 0; i-- {
		loc := matches[i]
		name := src[loc[2]:loc[3]]
		declStart := loc[0]

		braceIdx := strings.IndexByte(src[declStart:], '{')
		if braceIdx < 0 {
			return "", false, apperr.New(apperr.KindTransform, "transform", "transformClasses", fmt.Errorf("no class body found for %q", name))
		}
		braceIdx += declStart

		endIdx := findMatchingBrace(src, braceIdx)
		if endIdx < 0 {
			return "", false, apperr.New(apperr.KindTransform, "transform", "transformClasses", fmt.Errorf("unbalanced braces in class %q", name))
		}

		methods, statics := classMembers(src[braceIdx+1 : endIdx])
		if len(methods) == 0 && len(statics) == 0 {
			continue
		}

		insertion := fmt.Sprintf("\n__taist_instrumentClass(%s, %q, %s, %s);\n",
			name, prefix+"."+name, jsArray(methods), jsArray(statics))

		src = src[:endIdx+1] + insertion + src[endIdx+1:]
		changed = true
	}
	return src, changed, nil
}

// classMembers walks body (the text strictly between a class's braces)
// at its top brace-depth only, collecting method names, split into
// instance and static, excluding "constructor" and any name beginning
// with "_" per spec.md §4.C shape 3.
func classMembers(body string) (methods, statics []string) {
	depth := 0
	i := 0
	for i < len(body) {
		switch body[i] {
		case '{':
			depth++
			i++
			continue
		case '}':
			depth--
			i++
			continue
		}
		if depth == 0 && (i == 0 || !isIdentByte(body[i-1])) {
			if loc := reMethodLine.FindStringSubmatchIndex(body[i:]); loc != nil && loc[0] == 0 {
				isStatic := loc[2] >= 0
				name := body[i+loc[4] : i+loc[5]]
				if name != "constructor" && !strings.HasPrefix(name, "_") {
					if isStatic {
						statics = append(statics, name)
					} else {
						methods = append(methods, name)
					}
				}
				i += loc[1]
				continue
			}
		}
		i++
	}
	return methods, statics
}

// findMatchingBrace returns the index of the '}' matching the '{' at
// openIdx, or -1 if the braces are unbalanced.
func findMatchingBrace(src string, openIdx int) int {
	depth := 0
	for i := openIdx; i < len(src); i++ {
		switch src[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// findStatementEnd locates the end of the statement starting at start,
// for either a block-bodied lambda (`= function(){...}` or `=
// (...)=>{...}`) or an expression-bodied one (`= (...) => a + b;`).
func findStatementEnd(src string, start int) int {
	depth := 0
	sawBrace := false
	i := start
	for i < len(src) {
		switch src[i] {
		case '{':
			depth++
			sawBrace = true
		case '}':
			depth--
			if sawBrace && depth == 0 {
				end := i + 1
				if end < len(src) && src[end] == ';' {
					end++
				}
				return end
			}
		case ';':
			if depth == 0 {
				return i + 1
			}
		case '\n':
			if depth == 0 && !sawBrace {
				return i
			}
		}
		i++
	}
	return len(src)
}

// isIdentByte reports whether b can appear inside a JS identifier, used
// to keep classMembers from matching partway through a longer word.
func isIdentByte(b byte) bool {
	return b == '_' || b == '$' ||
		(b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

func privateSymbol(name string) string {
	return "__taist_orig_" + name
}

func jsArray(items []string) string {
	quoted := make([]string, len(items))
	for i, it := range items {
		quoted[i] = fmt.Sprintf("%q", it)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}
