package recipe_test

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"drawbridge/internal/channel"
	"drawbridge/internal/recipe"
)

const sampleRecipe = `name: landing-page
vars:
  title: Welcome
  frame_name: hero
steps:
  - name: Hero frame
    action: create_frame
    params:
      name: "{{frame_name}}"
      width: 800
      height: 600
  - action: create_text
    timeout: 45s
    continue_on_error: true
    params:
      text: "{{title}}"
`

func writeRecipeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "recipe.yml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write recipe file: %v", err)
	}
	return path
}

func TestLoadRecipe(t *testing.T) {
	t.Run("loads a valid recipe", func(t *testing.T) {
		rec, err := recipe.Load(writeRecipeFile(t, sampleRecipe))
		if err != nil {
			t.Fatalf("Failed to load recipe: %v", err)
		}

		if rec.Name != "landing-page" {
			t.Errorf("Expected name landing-page, got %s", rec.Name)
		}
		if len(rec.Steps) != 2 {
			t.Fatalf("Expected 2 steps, got %d", len(rec.Steps))
		}
		if rec.Steps[0].Action != "create_frame" {
			t.Errorf("Expected first action create_frame, got %s", rec.Steps[0].Action)
		}
		if rec.Steps[0].Name != "Hero frame" {
			t.Errorf("Expected step name 'Hero frame', got %q", rec.Steps[0].Name)
		}
		if !rec.Steps[1].ContinueOnError {
			t.Error("Expected second step to continue on error")
		}
		if rec.Vars["title"] != "Welcome" {
			t.Errorf("Expected var title=Welcome, got %q", rec.Vars["title"])
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := recipe.Load(filepath.Join(t.TempDir(), "absent.yml")); err == nil {
			t.Error("Expected error loading nonexistent recipe")
		}
	})

	t.Run("malformed yaml", func(t *testing.T) {
		if _, err := recipe.Load(writeRecipeFile(t, "steps: [unterminated")); err == nil {
			t.Error("Expected error parsing malformed recipe")
		}
	})

	t.Run("invalid recipe fails load", func(t *testing.T) {
		_, err := recipe.Load(writeRecipeFile(t, "name: broken\nsteps: []\n"))
		if err == nil {
			t.Fatal("Expected validation error for empty steps")
		}
		if !strings.Contains(err.Error(), "no steps") {
			t.Errorf("Expected 'no steps' error, got %v", err)
		}
	})
}

func TestRecipeValidate(t *testing.T) {
	valid := func() *recipe.Recipe {
		return &recipe.Recipe{
			Name: "demo",
			Steps: []recipe.Step{
				{Action: "create_frame", Timeout: "10s"},
				{Action: "export_summary"},
			},
		}
	}

	tests := []struct {
		name    string
		modify  func(*recipe.Recipe)
		wantErr string
	}{
		{"valid recipe", func(r *recipe.Recipe) {}, ""},
		{"missing name", func(r *recipe.Recipe) { r.Name = "" }, "name is required"},
		{"no steps", func(r *recipe.Recipe) { r.Steps = nil }, "no steps"},
		{"step without action", func(r *recipe.Recipe) { r.Steps[1].Action = "" }, "step[1].action is required"},
		{"bad timeout", func(r *recipe.Recipe) { r.Steps[0].Timeout = "soon" }, "invalid timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := valid()
			tt.modify(rec)

			err := rec.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Expected recipe to validate, got %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got %q", tt.wantErr, err.Error())
			}
		})
	}
}

func TestRecipeResolve(t *testing.T) {
	t.Run("substitutes variables in nested params", func(t *testing.T) {
		rec := &recipe.Recipe{
			Name: "demo",
			Vars: map[string]string{"accent": "blue", "label": "Sign up"},
			Steps: []recipe.Step{
				{
					Action: "create_text",
					Params: map[string]interface{}{
						"text": "{{label}}",
						"style": map[string]interface{}{
							"theme": "{{accent}} on white",
						},
						"tags":  []interface{}{"{{accent}}", "cta"},
						"width": 120,
					},
				},
			},
		}

		resolved, err := rec.Resolve(nil)
		if err != nil {
			t.Fatalf("Failed to resolve recipe: %v", err)
		}

		params := resolved.Steps[0].Params
		if params["text"] != "Sign up" {
			t.Errorf("Expected text 'Sign up', got %v", params["text"])
		}
		style := params["style"].(map[string]interface{})
		if style["theme"] != "blue on white" {
			t.Errorf("Expected nested substitution, got %v", style["theme"])
		}
		tags := params["tags"].([]interface{})
		if tags[0] != "blue" {
			t.Errorf("Expected slice substitution, got %v", tags[0])
		}
		if params["width"] != 120 {
			t.Errorf("Expected non-string value untouched, got %v", params["width"])
		}
	})

	t.Run("overrides win over recipe vars", func(t *testing.T) {
		rec := &recipe.Recipe{
			Name: "demo",
			Vars: map[string]string{"title": "Default"},
			Steps: []recipe.Step{
				{Action: "create_text", Params: map[string]interface{}{"text": "{{title}}"}},
			},
		}

		resolved, err := rec.Resolve(map[string]string{"title": "Override"})
		if err != nil {
			t.Fatalf("Failed to resolve recipe: %v", err)
		}
		if resolved.Steps[0].Params["text"] != "Override" {
			t.Errorf("Expected override to win, got %v", resolved.Steps[0].Params["text"])
		}
	})

	t.Run("undefined variable is an error", func(t *testing.T) {
		rec := &recipe.Recipe{
			Name: "demo",
			Steps: []recipe.Step{
				{Action: "create_text", Params: map[string]interface{}{"text": "{{missing}}"}},
			},
		}

		_, err := rec.Resolve(nil)
		if err == nil {
			t.Fatal("Expected error for undefined variable")
		}
		if !strings.Contains(err.Error(), `undefined variable "missing"`) {
			t.Errorf("Expected undefined variable error, got %v", err)
		}
	})

	t.Run("source recipe is left untouched", func(t *testing.T) {
		rec := &recipe.Recipe{
			Name: "demo",
			Vars: map[string]string{"name": "hero"},
			Steps: []recipe.Step{
				{Action: "create_frame", Params: map[string]interface{}{"name": "{{name}}"}},
			},
		}

		if _, err := rec.Resolve(nil); err != nil {
			t.Fatalf("Failed to resolve recipe: %v", err)
		}
		if rec.Steps[0].Params["name"] != "{{name}}" {
			t.Errorf("Expected original params unchanged, got %v", rec.Steps[0].Params["name"])
		}
	})
}

func TestStepGetTimeout(t *testing.T) {
	step := recipe.Step{Action: "create_frame"}
	if step.GetTimeout() != 0 {
		t.Errorf("Expected zero timeout when unset, got %v", step.GetTimeout())
	}

	step.Timeout = "45s"
	if step.GetTimeout() != 45*time.Second {
		t.Errorf("Expected 45s timeout, got %v", step.GetTimeout())
	}
}

// fakeSender scripts responses per action and records every call
type fakeSender struct {
	calls     []senderCall
	responses map[string]channel.Response
	errors    map[string]error
}

type senderCall struct {
	action  string
	timeout time.Duration
}

func (f *fakeSender) Send(action string, params interface{}, timeout time.Duration) (channel.Response, error) {
	f.calls = append(f.calls, senderCall{action: action, timeout: timeout})
	if err, ok := f.errors[action]; ok {
		return channel.Response{}, err
	}
	if resp, ok := f.responses[action]; ok {
		return resp, nil
	}
	return channel.Response{Success: true, Data: json.RawMessage(`{"ok":true}`)}, nil
}

func TestRunnerRun(t *testing.T) {
	t.Run("runs every step in order", func(t *testing.T) {
		sender := &fakeSender{}
		runner := recipe.NewRunner(sender)

		rec := &recipe.Recipe{
			Name: "demo",
			Steps: []recipe.Step{
				{Name: "Frame", Action: "create_frame"},
				{Action: "create_text", Timeout: "5s"},
				{Action: "export_summary"},
			},
		}

		results, err := runner.Run(rec)
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if len(results) != 3 {
			t.Fatalf("Expected 3 results, got %d", len(results))
		}
		for i, result := range results {
			if !result.Success {
				t.Errorf("Expected step %d to succeed", i+1)
			}
			if result.Step != i+1 {
				t.Errorf("Expected step number %d, got %d", i+1, result.Step)
			}
		}
		if results[0].Name != "Frame" {
			t.Errorf("Expected step name carried into result, got %q", results[0].Name)
		}
		if len(sender.calls) != 3 {
			t.Fatalf("Expected 3 sends, got %d", len(sender.calls))
		}
		if sender.calls[1].timeout != 5*time.Second {
			t.Errorf("Expected step timeout forwarded to sender, got %v", sender.calls[1].timeout)
		}
	})

	t.Run("failed step halts the run", func(t *testing.T) {
		sender := &fakeSender{
			responses: map[string]channel.Response{
				"set_fill_color": {Success: false, Error: "node not found"},
			},
		}
		runner := recipe.NewRunner(sender)

		rec := &recipe.Recipe{
			Name: "demo",
			Steps: []recipe.Step{
				{Action: "create_frame"},
				{Action: "set_fill_color"},
				{Action: "export_summary"},
			},
		}

		results, err := runner.Run(rec)
		if err == nil {
			t.Fatal("Expected run to fail")
		}
		if !strings.Contains(err.Error(), "step 2 (set_fill_color) failed") {
			t.Errorf("Expected step failure error, got %v", err)
		}
		if len(results) != 2 {
			t.Fatalf("Expected 2 results before the halt, got %d", len(results))
		}
		if results[1].Success {
			t.Error("Expected failing step result to record failure")
		}
		if results[1].Error != "node not found" {
			t.Errorf("Expected executor error recorded, got %q", results[1].Error)
		}
		if len(sender.calls) != 2 {
			t.Errorf("Expected no sends after the failure, got %d", len(sender.calls))
		}
	})

	t.Run("continue_on_error keeps going", func(t *testing.T) {
		sender := &fakeSender{
			responses: map[string]channel.Response{
				"set_fill_color": {Success: false, Error: "node not found"},
			},
		}
		runner := recipe.NewRunner(sender)

		rec := &recipe.Recipe{
			Name: "demo",
			Steps: []recipe.Step{
				{Action: "set_fill_color", ContinueOnError: true},
				{Action: "export_summary"},
			},
		}

		results, err := runner.Run(rec)
		if err != nil {
			t.Fatalf("Expected run to finish despite tolerated failure, got %v", err)
		}
		if len(results) != 2 {
			t.Fatalf("Expected 2 results, got %d", len(results))
		}
		if results[0].Success {
			t.Error("Expected first step to record its failure")
		}
		if !results[1].Success {
			t.Error("Expected run to proceed to the second step")
		}
	})

	t.Run("transport errors halt the run", func(t *testing.T) {
		sender := &fakeSender{
			errors: map[string]error{
				"create_frame": errors.New("command timed out"),
			},
		}
		runner := recipe.NewRunner(sender)

		rec := &recipe.Recipe{
			Name: "demo",
			Steps: []recipe.Step{
				{Action: "create_frame"},
				{Action: "export_summary"},
			},
		}

		results, err := runner.Run(rec)
		if err == nil {
			t.Fatal("Expected run to fail on transport error")
		}
		if len(results) != 1 {
			t.Fatalf("Expected 1 result, got %d", len(results))
		}
		if results[0].Error != "command timed out" {
			t.Errorf("Expected transport error recorded, got %q", results[0].Error)
		}
	})
}
