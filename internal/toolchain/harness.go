package toolchain

import (
	"go/ast"
	"go/parser"
	"go/token"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Placeholders substituted into harness templates. Substitution is a single
// pass over the template, so snippet text is never re-expanded.
const (
	placeholderSnippet  = "{{SNIPPET}}"
	placeholderTimeout  = "{{TIMEOUT}}"
	placeholderPrelude  = "{{PRELUDE}}"
	placeholderWatchdog = "{{WATCHDOG}}"
)

const watchdogMessage = "TIMEOUT: Code execution exceeded time limit"

func render(template string, pairs ...string) string {
	return strings.NewReplacer(pairs...).Replace(template)
}

func seconds(n int) string { return strconv.Itoa(n) }

// hasRustMain scans Rust source for a free function named main at module
// level. Comments (nested block comments included), string, raw string,
// byte string and char literals are skipped, so `fn main` inside any of them
// does not count, nor does a method or nested function named main.
func hasRustMain(src string) bool {
	n := len(src)
	depth := 0
	prev := ""
	i := 0
	for i < n {
		c := src[i]
		switch {
		case c == '/' && i+1 < n && src[i+1] == '/':
			for i < n && src[i] != '\n' {
				i++
			}
			continue
		case c == '/' && i+1 < n && src[i+1] == '*':
			i = skipBlockComment(src, i)
			continue
		case c == '"':
			i = skipQuoted(src, i+1)
			prev = ""
			continue
		case c == '\'':
			i = skipCharOrLifetime(src, i)
			prev = ""
			continue
		case c == '{':
			depth++
			prev = ""
		case c == '}':
			if depth > 0 {
				depth--
			}
			prev = ""
		case isIdentStart(c):
			start := i
			for i < n && isIdentChar(src[i]) {
				i++
			}
			word := src[start:i]
			if i < n {
				switch {
				case (word == "r" || word == "br") && (src[i] == '"' || src[i] == '#'):
					i = skipRawString(src, i)
					prev = ""
					continue
				case word == "b" && src[i] == '"':
					i = skipQuoted(src, i+1)
					prev = ""
					continue
				case word == "b" && src[i] == '\'':
					i = skipCharOrLifetime(src, i)
					prev = ""
					continue
				}
			}
			if depth == 0 && prev == "fn" && word == "main" {
				return true
			}
			prev = word
			continue
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
		default:
			prev = ""
		}
		i++
	}
	return false
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c >= utf8.RuneSelf
}

func isIdentChar(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

// skipBlockComment returns the index after the comment opening at i.
func skipBlockComment(src string, i int) int {
	depth := 0
	for i < len(src) {
		switch {
		case strings.HasPrefix(src[i:], "/*"):
			depth++
			i += 2
		case strings.HasPrefix(src[i:], "*/"):
			depth--
			i += 2
			if depth == 0 {
				return i
			}
		default:
			i++
		}
	}
	return i
}

// skipQuoted returns the index after the closing quote; i is just past the
// opening quote.
func skipQuoted(src string, i int) int {
	for i < len(src) {
		switch src[i] {
		case '\\':
			i += 2
		case '"':
			return i + 1
		default:
			i++
		}
	}
	return len(src)
}

// skipRawString handles r"...", r#"..."# and raw identifiers (r#match). i
// points just past the r prefix.
func skipRawString(src string, i int) int {
	j := i
	for j < len(src) && src[j] == '#' {
		j++
	}
	hashes := j - i
	if j >= len(src) || src[j] != '"' {
		return j
	}
	closing := "\"" + strings.Repeat("#", hashes)
	end := strings.Index(src[j+1:], closing)
	if end < 0 {
		return len(src)
	}
	return j + 1 + end + len(closing)
}

// skipCharOrLifetime distinguishes 'x' and '\n' literals from lifetimes
// such as 'a. For a lifetime only the quote is consumed.
func skipCharOrLifetime(src string, i int) int {
	j := i + 1
	if j >= len(src) {
		return j
	}
	if src[j] == '\\' {
		if j+2 > len(src) {
			return len(src)
		}
		end := strings.IndexByte(src[j+2:], '\'')
		if end < 0 {
			return len(src)
		}
		return j + 2 + end + 1
	}
	_, size := utf8.DecodeRuneInString(src[j:])
	if j+size < len(src) && src[j+size] == '\'' {
		return j + size + 1
	}
	return j
}

// goFile parses a Go snippet. When the snippet has no package clause it is
// parsed again with one prepended. The returned AST may be partial.
func goFile(src string) (file *ast.File, hasPackage bool) {
	fset := token.NewFileSet()
	f, _ := parser.ParseFile(fset, "main.go", src, parser.SkipObjectResolution)
	if f != nil && f.Name != nil && f.Name.Name != "" {
		return f, true
	}
	f, _ = parser.ParseFile(fset, "main.go", "package main\n"+src, parser.SkipObjectResolution)
	return f, false
}

// hasGoMain reports whether the snippet declares a top-level func main.
func hasGoMain(src string) bool {
	f, _ := goFile(src)
	if f == nil {
		return false
	}
	for _, decl := range f.Decls {
		fn, ok := decl.(*ast.FuncDecl)
		if ok && fn.Recv == nil && fn.Name.Name == "main" {
			return true
		}
	}
	return false
}
