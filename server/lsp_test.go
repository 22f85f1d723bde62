package server

import (
	"strings"
	"testing"

	protocol "github.com/tliron/glsp/protocol_3_16"

	"github.com/chazu/mote/vm"
)

// ---------------------------------------------------------------------------
// LSP text extraction helpers
// ---------------------------------------------------------------------------

func TestExtractPrefix(t *testing.T) {
	tests := []struct {
		name string
		text string
		pos  protocol.Position
		want string
	}{
		{"simple word", "print total", protocol.Position{Line: 0, Character: 11}, "total"},
		{"at start", "tot", protocol.Position{Line: 0, Character: 3}, "tot"},
		{"empty line", "", protocol.Position{Line: 0, Character: 0}, ""},
		{"multi line", "var a;\nvar b;\npri", protocol.Position{Line: 2, Character: 3}, "pri"},
		{"after operator", "a = b+cou", protocol.Position{Line: 0, Character: 9}, "cou"},
		{"after space", "print ", protocol.Position{Line: 0, Character: 6}, ""},
		{"past end of line", "abc", protocol.Position{Line: 0, Character: 99}, "abc"},
		{"line out of range", "abc", protocol.Position{Line: 5, Character: 0}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractPrefix(tt.text, tt.pos); got != tt.want {
				t.Errorf("extractPrefix = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractWord(t *testing.T) {
	tests := []struct {
		name string
		text string
		pos  protocol.Position
		want string
	}{
		{"middle", "print total;", protocol.Position{Line: 0, Character: 8}, "total"},
		{"start", "print total;", protocol.Position{Line: 0, Character: 6}, "total"},
		{"end", "print total;", protocol.Position{Line: 0, Character: 11}, "total"},
		{"underscore", "var my_var = 1;", protocol.Position{Line: 0, Character: 6}, "my_var"},
		{"on space", "a   b", protocol.Position{Line: 0, Character: 2}, ""},
		{"second line", "var x;\nprint x;", protocol.Position{Line: 1, Character: 6}, "x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractWord(tt.text, tt.pos); got != tt.want {
				t.Errorf("extractWord = %q, want %q", got, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Analysis
// ---------------------------------------------------------------------------

func analyzeText(t *testing.T, text string) *analysis {
	t.Helper()
	s := NewLSP()
	t.Cleanup(s.worker.Stop)

	result, err := s.worker.Do(func(v *vm.VM) interface{} {
		return s.analyze(v, text)
	})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	return result.(*analysis)
}

func TestAnalyze_CompileErrors(t *testing.T) {
	a := analyzeText(t, "var a = 1;\nprint a +;\nvar = 2;\n")

	if len(a.diagnostics) != 2 {
		t.Fatalf("got %d diagnostics, want 2: %+v", len(a.diagnostics), a.diagnostics)
	}
	first := a.diagnostics[0]
	if first.Range.Start.Line != 1 {
		t.Errorf("first diagnostic on line %d, want 1", first.Range.Start.Line)
	}
	if first.Range.End.Character != protocol.UInteger(len("print a +;")) {
		t.Errorf("first diagnostic ends at %d", first.Range.End.Character)
	}
	if *first.Severity != protocol.DiagnosticSeverityError {
		t.Errorf("severity = %v, want error", *first.Severity)
	}
	if first.Message != "[line 2] Error at ';': Expect expression." {
		t.Errorf("message = %q", first.Message)
	}
	if a.diagnostics[1].Range.Start.Line != 2 {
		t.Errorf("second diagnostic on line %d, want 2", a.diagnostics[1].Range.Start.Line)
	}
	if a.globals != nil {
		t.Error("source with compile errors should not run")
	}
}

func TestAnalyze_RuntimeErrorIsWarning(t *testing.T) {
	a := analyzeText(t, "var a = 1;\nvar b = -\"s\";\n")

	if len(a.diagnostics) != 1 {
		t.Fatalf("got %d diagnostics, want 1", len(a.diagnostics))
	}
	d := a.diagnostics[0]
	if *d.Severity != protocol.DiagnosticSeverityWarning {
		t.Errorf("severity = %v, want warning", *d.Severity)
	}
	if d.Range.Start.Line != 1 || d.Message != "Operand must be a number." {
		t.Errorf("diagnostic = line %d %q", d.Range.Start.Line, d.Message)
	}
	if _, ok := a.globals["a"]; !ok {
		t.Error("globals defined before the error should be kept")
	}
}

func TestAnalyze_RunsFromCleanGlobals(t *testing.T) {
	s := NewLSP()
	defer s.worker.Stop()

	analyze := func(text string) *analysis {
		result, err := s.worker.Do(func(v *vm.VM) interface{} { return s.analyze(v, text) })
		if err != nil {
			t.Fatal(err)
		}
		return result.(*analysis)
	}

	analyze("var leftover = 1;")
	a := analyze("print leftover;")
	if len(a.diagnostics) != 1 || a.diagnostics[0].Message != "Undefined variable 'leftover'." {
		t.Errorf("globals leaked between analyses: %+v", a.diagnostics)
	}
}

// ---------------------------------------------------------------------------
// Completion and hover
// ---------------------------------------------------------------------------

func TestComplete(t *testing.T) {
	a := analyzeText(t, "var total = 3;\nvar title = \"t\";\nvar broken = -nil;\nvar trailing;")
	doc := &document{globals: a.globals, names: a.names}

	labels := func(items []protocol.CompletionItem) string {
		var out []string
		for _, item := range items {
			out = append(out, item.Label)
		}
		return strings.Join(out, ",")
	}

	// Keywords first, then names; trailing was declared but never ran.
	if got := labels(complete(doc, "t")); got != "this,true,title,total,trailing" {
		t.Errorf("complete(t) = %s", got)
	}
	if got := labels(complete(doc, "pr")); got != "print" {
		t.Errorf("complete(pr) = %s", got)
	}
	if got := labels(complete(doc, "zzz")); got != "" {
		t.Errorf("complete(zzz) = %s", got)
	}

	for _, item := range complete(doc, "tot") {
		if item.Label == "total" && *item.Detail != "global number" {
			t.Errorf("total detail = %q", *item.Detail)
		}
	}
}

func TestHover(t *testing.T) {
	a := analyzeText(t, `var greeting = "hello";`)
	doc := &document{globals: a.globals}

	h := hover(doc, "greeting")
	if h == nil {
		t.Fatal("hover returned nil for a global")
	}
	content := h.Contents.(protocol.MarkupContent)
	if !strings.Contains(content.Value, `"hello"`) || !strings.Contains(content.Value, "string") {
		t.Errorf("hover = %q", content.Value)
	}

	if hover(doc, "missing") != nil {
		t.Error("hover on unknown name should be nil")
	}
}

func TestDeclaredNames(t *testing.T) {
	got := declaredNames("var a = 1; var b; a = 2; var a = 3; print var;")
	if strings.Join(got, ",") != "a,b" {
		t.Errorf("declaredNames = %v", got)
	}
}
