package prompt

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRender_SimpleVars(t *testing.T) {
	tmpl := "Hello {{name}}, you are working on issue #{{issue_number}}."
	vars := Vars{
		"name":         "Alice",
		"issue_number": "42",
	}

	result, err := Render(tmpl, vars)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := "Hello Alice, you are working on issue #42."
	if result != expected {
		t.Errorf("expected %q, got %q", expected, result)
	}
}

func TestRender_MissingVar(t *testing.T) {
	tmpl := "Hello {{name}}, issue {{issue_number}}."
	vars := Vars{
		"name": "Alice",
	}

	_, err := Render(tmpl, vars)
	if err == nil {
		t.Fatal("expected error for missing variable")
	}
	if !strings.Contains(err.Error(), "issue_number") {
		t.Errorf("error should mention missing variable, got: %v", err)
	}
}

func TestRender_MultipleMissing(t *testing.T) {
	tmpl := "{{a}} and {{b}} and {{c}}"
	vars := Vars{}

	_, err := Render(tmpl, vars)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "a") || !strings.Contains(err.Error(), "b") || !strings.Contains(err.Error(), "c") {
		t.Errorf("error should mention all missing vars, got: %v", err)
	}
}

func TestRender_ConditionalBlock_Present(t *testing.T) {
	tmpl := "Start.{{#if git_diff}}\nDiff: {{git_diff}}\n{{/if}}End."
	vars := Vars{
		"git_diff": "some changes",
	}

	result, err := Render(tmpl, vars)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(result, "Diff: some changes") {
		t.Errorf("expected conditional block to be included, got: %q", result)
	}
}

func TestRender_ConditionalBlock_Absent(t *testing.T) {
	tmpl := "Start.{{#if git_diff}}\nDiff: {{git_diff}}\n{{/if}}End."
	vars := Vars{}

	result, err := Render(tmpl, vars)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(result, "Diff:") {
		t.Errorf("expected conditional block to be excluded, got: %q", result)
	}
	if result != "Start.End." {
		t.Errorf("expected 'Start.End.', got: %q", result)
	}
}

func TestRender_ConditionalBlock_EmptyString(t *testing.T) {
	tmpl := "{{#if git_diff}}has diff{{/if}}"
	vars := Vars{
		"git_diff": "",
	}

	result, err := Render(tmpl, vars)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "" {
		t.Errorf("expected empty string for empty var, got: %q", result)
	}
}

func TestRender_MultipleConditionals(t *testing.T) {
	tmpl := "{{#if a}}A={{a}}{{/if}} {{#if b}}B={{b}}{{/if}}"
	vars := Vars{
		"a": "yes",
	}

	result, err := Render(tmpl, vars)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(result, "A=yes") {
		t.Errorf("expected A block, got: %q", result)
	}
	if strings.Contains(result, "B=") {
		t.Errorf("expected B block excluded, got: %q", result)
	}
}

func TestRender_NoVars(t *testing.T) {
	tmpl := "No variables here."
	result, err := Render(tmpl, Vars{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != tmpl {
		t.Errorf("expected %q, got %q", tmpl, result)
	}
}

func TestRender_VarInConditional(t *testing.T) {
	tmpl := "{{#if check_failures}}Failures:\n{{check_failures}}{{/if}}"
	vars := Vars{
		"check_failures": "lint: 3 errors\ntest: 2 failures",
	}

	result, err := Render(tmpl, vars)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(result, "lint: 3 errors") {
		t.Errorf("expected check failures content, got: %q", result)
	}
}

func TestRender_NestedConditionals(t *testing.T) {
	tmpl := "{{#if a}}outer {{#if b}}inner{{/if}} end{{/if}}"
	vars := Vars{"a": "yes", "b": "yes"}

	result, err := Render(tmpl, vars)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(result, "{{/if}}") {
		t.Errorf("nested conditionals leave dangling {{/if}} in output: %q", result)
	}
	expected := "outer inner end"
	if result != expected {
		t.Errorf("nested conditionals: expected %q, got %q", expected, result)
	}
}

func TestRender_NestedConditionals_OuterAbsent(t *testing.T) {
	tmpl := "START{{#if a}}outer {{#if b}}inner{{/if}} end{{/if}}FINISH"
	vars := Vars{} // neither a nor b

	result, err := Render(tmpl, vars)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(result, "{{/if}}") {
		t.Errorf("nested conditionals (outer absent) leave garbage: %q", result)
	}
	if result != "STARTFINISH" {
		t.Errorf("expected %q, got %q", "STARTFINISH", result)
	}
}

// Variable values containing template syntax are inserted literally.
func TestRender_VarValueContainsTemplateSyntax(t *testing.T) {
	tmpl := "Hello {{name}}"
	vars := Vars{"name": "{{evil}}"}

	result, err := Render(tmpl, vars)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Values are inserted literally, no re-expansion
	if result != "Hello {{evil}}" {
		t.Errorf("expected literal insertion, got %q", result)
	}
}

// Variable values referencing other variables are not re-expanded.
func TestRender_VarValueReferencesAnotherVar(t *testing.T) {
	tmpl := "{{a}} and {{b}}"
	vars := Vars{"a": "{{b}}", "b": "hello"}

	result, err := Render(tmpl, vars)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Single-pass: a's value is inserted literally, not re-expanded
	if result != "{{b}} and hello" {
		t.Errorf("expected '{{b}} and hello', got %q", result)
	}
}

// Unclosed conditional blocks are an error.
func TestRender_UnclosedConditional(t *testing.T) {
	tmpl := "START{{#if x}}content with {{y}}MORE"
	vars := Vars{"x": "yes", "y": "val"}

	_, err := Render(tmpl, vars)
	if err == nil {
		t.Fatal("expected error for unclosed conditional block")
	}
	if !strings.Contains(err.Error(), "unclosed") {
		t.Errorf("expected unclosed error, got: %v", err)
	}
}

func TestRender_UnclosedConditional_MissingVarInside(t *testing.T) {
	tmpl := "START{{#if x}}content with {{y}}{{/if}}MORE"
	vars := Vars{} // x absent, y absent

	result, err := Render(tmpl, vars)
	if err != nil {
		t.Fatalf("should not error when both x and y are absent (block should be excluded): %v", err)
	}
	if result != "STARTMORE" {
		t.Errorf("expected %q, got %q", "STARTMORE", result)
	}
}

func TestRender_ConditionalTrailingWhitespace(t *testing.T) {
	// Trailing space before }} in the #if tag
	tmpl := "{{#if x }}content{{/if}}"
	vars := Vars{"x": "yes"}

	result, err := Render(tmpl, vars)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(result, "{{#if") {
		t.Errorf("trailing whitespace in conditional tag not handled: %q", result)
	}
	if result != "content" {
		t.Errorf("expected %q, got %q", "content", result)
	}
}

func TestRender_ConditionalNewlineInTag(t *testing.T) {
	// Newline in the #if tag between the keyword and variable name
	tmpl := "{{#if\nx}}content{{/if}}"
	vars := Vars{"x": "yes"}

	result, err := Render(tmpl, vars)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "content" {
		t.Errorf("newline in conditional tag: expected %q, got %q", "content", result)
	}
}

// Conditional body containing {{/if}} in a variable VALUE is fine because
// variable expansion happens after conditional processing.
func TestRender_ConditionalBodyLooksLikeEndTag(t *testing.T) {
	tmpl := `{{#if note}}Note: {{note}}{{/if}} done`
	vars := Vars{"note": "use {{/if}} carefully"}

	result, err := Render(tmpl, vars)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// The {{/if}} in the variable value is inserted after conditional processing,
	// so it doesn't corrupt parsing.
	if !strings.Contains(result, "use {{/if}} carefully") {
		t.Errorf("expected var value preserved, got: %q", result)
	}
}

func TestLibrary_SystemBuiltin(t *testing.T) {
	lib := NewLibrary(t.TempDir())
	for _, name := range []string{"planner", "coder", "reviewer", "tester", "debugger"} {
		got := lib.System(name)
		if !strings.Contains(got, "You are the "+name+" agent") {
			t.Errorf("%s: unexpected system prompt %q", name, got)
		}
	}
	if got := lib.System("publisher"); got != "You are the publisher agent in the Devlution pipeline." {
		t.Errorf("unexpected fallback prompt %q", got)
	}
}

func TestLibrary_SystemOverride(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "planner.md"), []byte("custom planner"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	lib := NewLibrary(dir)
	if got := lib.System("planner"); got != "custom planner" {
		t.Errorf("expected override, got %q", got)
	}
	if got := lib.System("coder"); !strings.Contains(got, "coder agent") {
		t.Errorf("coder should fall back to built-in, got %q", got)
	}
}

func TestLibrary_SystemRejectsTraversal(t *testing.T) {
	tmpDir := t.TempDir()
	dir := filepath.Join(tmpDir, "prompts")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(tmpDir, "secret.md"), []byte("TOP SECRET DATA"), 0o644); err != nil {
		t.Fatal(err)
	}
	lib := NewLibrary(dir)
	if got := lib.System("../secret"); strings.Contains(got, "TOP SECRET") {
		t.Errorf("path traversal read a file outside the prompts dir: %q", got)
	}
}

func TestLibrary_UserTemplates(t *testing.T) {
	lib := NewLibrary("")
	got, err := lib.User("planner", Vars{
		"title":        "Add health check",
		"body":         "GET /healthz should return 200",
		"labels":       "enhancement",
		"max_subtasks": "5",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(got, "**Title**: Add health check") || !strings.Contains(got, "Maximum subtasks: 5") {
		t.Errorf("unexpected planner message: %q", got)
	}

	got, err = lib.User("coder", Vars{
		"title":           "Add endpoint",
		"criteria":        "- returns 200",
		"files":           "api.go",
		"iteration":       "1",
		"max_iterations":  "5",
		"style_guide":     "",
		"file_sections":   "",
		"review_comments": "",
		"failure_log":     "",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(got, "Review Comments") || strings.Contains(got, "Test Failures") {
		t.Errorf("empty sections should be dropped: %q", got)
	}

	if _, err := lib.User("nobody", nil); err == nil {
		t.Error("expected error for unknown template")
	}
}

func TestLibrary_Install(t *testing.T) {
	dir := filepath.Join(t.TempDir(), ".devlution", "prompts")
	lib := NewLibrary(dir)

	written, err := lib.Install(false)
	if err != nil {
		t.Fatalf("install error: %v", err)
	}
	if len(written) != len(Names()) {
		t.Errorf("expected %d files, got %d", len(Names()), len(written))
	}
	if err := os.WriteFile(filepath.Join(dir, "coder.md"), []byte("mine"), 0o644); err != nil {
		t.Fatal(err)
	}

	written, err = lib.Install(false)
	if err != nil {
		t.Fatalf("second install error: %v", err)
	}
	if len(written) != 0 {
		t.Errorf("second install should not overwrite, wrote %v", written)
	}
	if got := lib.System("coder"); got != "mine" {
		t.Errorf("user edit lost: %q", got)
	}
}

func TestNames(t *testing.T) {
	want := []string{"coder", "debugger", "planner", "reviewer", "tester"}
	got := Names()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("Names() = %v, want %v", got, want)
	}
}
