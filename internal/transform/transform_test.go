package transform

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransform_NamedFunction(t *testing.T) {
	src := "export function foo(a, b) {\n  return a + b;\n}\n"

	out, err := Transform(src, "Module")
	require.NoError(t, err)

	assert.Contains(t, out, Sentinel)
	assert.Contains(t, out, "function __taist_orig_foo(a, b)")
	assert.Contains(t, out, `export const foo = __taist_wrap("Module.foo", __taist_orig_foo);`)
	assert.NotContains(t, out, "export function foo")
}

func TestTransform_NamedConstLambda(t *testing.T) {
	src := "export const foo = (a, b) => a + b;\n"

	out, err := Transform(src, "Module")
	require.NoError(t, err)

	assert.Contains(t, out, "const __taist_orig_foo = (a, b) => a + b;")
	assert.Contains(t, out, `export const foo = __taist_wrap("Module.foo", __taist_orig_foo);`)
}

func TestTransform_NamedConstFunctionExpression(t *testing.T) {
	src := "export const foo = function(a, b) {\n  return a + b;\n};\n"

	out, err := Transform(src, "Module")
	require.NoError(t, err)

	assert.Contains(t, out, "const __taist_orig_foo = function(a, b) {\n  return a + b;\n};")
	assert.Contains(t, out, `export const foo = __taist_wrap("Module.foo", __taist_orig_foo);`)
}

// Class export: the declaration stays in place and an instrumentation
// call is appended after it.
func TestTransform_ClassDeclaration(t *testing.T) {
	src := "export class Foo {\n  bar() { return 1; }\n}\n"

	out, err := Transform(src, "Module")
	require.NoError(t, err)

	// Original declaration kept in place, untouched.
	assert.Contains(t, out, "export class Foo {\n  bar() { return 1; }\n}")
	assert.Contains(t, out, `__taist_instrumentClass(Foo, "Module.Foo", ["bar"], []);`)
}

func TestTransform_ClassExcludesConstructorAndUnderscoreMethods(t *testing.T) {
	src := "export class Foo {\n  constructor() {}\n  bar() { return 1; }\n  _helper() {}\n  static make() { return new Foo(); }\n}\n"

	out, err := Transform(src, "Module")
	require.NoError(t, err)

	assert.Contains(t, out, `__taist_instrumentClass(Foo, "Module.Foo", ["bar"], ["make"]);`)
}

func TestTransform_ClassDefaultExport(t *testing.T) {
	src := "export default class Foo {\n  bar() { return 1; }\n}\n"

	out, err := Transform(src, "Module")
	require.NoError(t, err)

	assert.Contains(t, out, "export default class Foo {\n  bar() { return 1; }\n}")
	assert.Contains(t, out, `__taist_instrumentClass(Foo, "Module.Foo", ["bar"], []);`)
}

func TestTransform_ObjectLiteralExport(t *testing.T) {
	src := "export const handlers = {\n  Query: {\n    getUser(id) { return id; }\n  }\n};\n"

	out, err := Transform(src, "Module")
	require.NoError(t, err)

	assert.Contains(t, out, "const __taist_orig_handlers = {")
	assert.Contains(t, out, `export const handlers = __taist_instrumentObject(__taist_orig_handlers, "Module.handlers");`)
}

func TestTransform_NoRecognizedExportsUnchanged(t *testing.T) {
	src := "const internal = 1;\nfunction helper() { return internal; }\n"

	out, err := Transform(src, "Module")
	require.NoError(t, err)
	assert.Equal(t, src, out)
}

func TestTransform_DeclarationOnlySkipped(t *testing.T) {
	src := "export declare function foo(a: number, b: number): number;\n"

	out, err := Transform(src, "Module")
	require.NoError(t, err)
	assert.Equal(t, src, out)
}

// §8 property 4: transform(transform(s)) == transform(s).
func TestTransform_Idempotent(t *testing.T) {
	sources := []string{
		"export function foo(a, b) {\n  return a + b;\n}\n",
		"export const foo = (a, b) => a + b;\n",
		"export class Foo {\n  bar() { return 1; }\n}\n",
		"export const handlers = {\n  Query: {\n    getUser(id) { return id; }\n  }\n};\n",
	}
	for _, src := range sources {
		once, err := Transform(src, "Module")
		require.NoError(t, err)

		twice, err := Transform(once, "Module")
		require.NoError(t, err)

		assert.Equal(t, once, twice, "transform(transform(s)) must equal transform(s) for %q", src)
	}
}

func TestTransform_MultipleNamedFunctionsInOneFile(t *testing.T) {
	src := "export function add(a, b) {\n  return a + b;\n}\n\nexport function sub(a, b) {\n  return a - b;\n}\n"

	out, err := Transform(src, "Module")
	require.NoError(t, err)

	assert.Contains(t, out, `export const add = __taist_wrap("Module.add", __taist_orig_add);`)
	assert.Contains(t, out, `export const sub = __taist_wrap("Module.sub", __taist_orig_sub);`)
	assert.Equal(t, 1, strings.Count(out, Sentinel))
}
