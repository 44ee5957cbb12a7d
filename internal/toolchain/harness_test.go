package toolchain

import "testing"

func TestHasRustMain(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want bool
	}{
		{"plain main", "fn main() {\n    println!(\"hi\");\n}", true},
		{"pub main", "pub fn main() {}", true},
		{"main after helper", "fn helper() -> i32 { 1 }\n\nfn main() { helper(); }", true},
		{"newline between fn and name", "fn\nmain() {}", true},
		{"bare statements", "println!(\"hello\");", false},
		{"line comment", "// fn main() {}\nprintln!(\"x\");", false},
		{"block comment", "/* fn main() {} */ println!(\"x\");", false},
		{"nested block comment", "/* outer /* fn main() */ still comment fn main() */ let x = 1;", false},
		{"string literal", `println!("fn main() {{}}");`, false},
		{"escaped quote in string", `let s = "\" fn main() \""; println!("{}", s);`, false},
		{"raw string", `let s = r#"fn main() { "quoted" }"#; println!("{}", s);`, false},
		{"byte string", `let b = b"fn main()"; println!("{:?}", b);`, false},
		{"char literal brace", "let c = '{'; fn main() {}", true},
		{"lifetime", "fn first<'a>(s: &'a str) -> &'a str { s }\nfn main() {}", true},
		{"method named main", "struct S;\nimpl S { fn main(&self) {} }\nS.main();", false},
		{"nested fn main", "let f = || { fn main() {} };", false},
		{"mod main", "mod inner { pub fn main() {} }", false},
		{"main_loop is not main", "fn main_loop() {}\nmain_loop();", false},
		{"trailing escape quote", "'\\", false},
		{"unterminated escaped char", "let c = '\\", false},
		{"unterminated escaped byte", "let b = b'\\", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := hasRustMain(tt.src); got != tt.want {
				t.Errorf("hasRustMain(%q) = %v, want %v", tt.src, got, tt.want)
			}
		})
	}
}

func TestHasGoMain(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want bool
	}{
		{"full file", "package main\n\nimport \"fmt\"\n\nfunc main() { fmt.Println(1) }", true},
		{"no package clause", "func main() {\n\tprintln(1)\n}", true},
		{"syntax error in body", "package main\nfunc main() { x := }", true},
		{"bare statements", `fmt.Println("hi")`, false},
		{"comment", "// func main() {}\nfmt.Println(1)", false},
		{"string", "s := \"func main() {}\"\nfmt.Println(s)", false},
		{"method named main", "package main\ntype T struct{}\nfunc (T) main() {}", false},
		{"helper only", "func helper() int { return 1 }", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := hasGoMain(tt.src); got != tt.want {
				t.Errorf("hasGoMain(%q) = %v, want %v", tt.src, got, tt.want)
			}
		})
	}
}

func TestSkipCharOrLifetime(t *testing.T) {
	tests := []struct {
		src  string
		want int
	}{
		{"'a'", 3},
		{`'\n'`, 4},
		{`'\''`, 4},
		{`'\u{1F600}'`, 11},
		{"'é'", 4},
		{"'a>", 1},
		{"'static", 1},
		{`'\`, 2},
		{`'`, 1},
		{`'\x`, 3},
	}
	for _, tt := range tests {
		if got := skipCharOrLifetime(tt.src, 0); got != tt.want {
			t.Errorf("skipCharOrLifetime(%q) = %d, want %d", tt.src, got, tt.want)
		}
	}
}

func TestRender_NoReexpansion(t *testing.T) {
	got := render("a {{SNIPPET}} b", placeholderSnippet, "{{TIMEOUT}}", placeholderTimeout, "5")
	if got != "a {{TIMEOUT}} b" {
		t.Errorf("render() = %q, want snippet text inserted verbatim", got)
	}
}
