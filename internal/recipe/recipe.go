// Copyright 2025 Arion Yau
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package recipe

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

var varPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_]+)\s*\}\}`)

// Step is one command in a recipe
type Step struct {
	Name            string                 `yaml:"name,omitempty"`
	Action          string                 `yaml:"action"`
	Params          map[string]interface{} `yaml:"params,omitempty"`
	Timeout         string                 `yaml:"timeout,omitempty"`
	ContinueOnError bool                   `yaml:"continue_on_error,omitempty"`
}

// Recipe is a named sequence of commands with substitutable variables.
// Occurrences of {{var}} in step parameters are replaced when the recipe
// is resolved.
type Recipe struct {
	Name  string            `yaml:"name"`
	Vars  map[string]string `yaml:"vars,omitempty"`
	Steps []Step            `yaml:"steps"`
}

// Load loads a recipe from a YAML file
func Load(filepath string) (*Recipe, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read recipe file: %w", err)
	}

	var recipe Recipe
	if err := yaml.Unmarshal(data, &recipe); err != nil {
		return nil, fmt.Errorf("failed to parse recipe file: %w", err)
	}

	if err := recipe.Validate(); err != nil {
		return nil, fmt.Errorf("recipe validation failed: %w", err)
	}

	return &recipe, nil
}

// Validate checks the structural requirements of a recipe
func (r *Recipe) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("recipe name is required")
	}
	if len(r.Steps) == 0 {
		return fmt.Errorf("recipe has no steps")
	}

	for i, step := range r.Steps {
		if step.Action == "" {
			return fmt.Errorf("step[%d].action is required", i)
		}
		if step.Timeout != "" {
			if _, err := time.ParseDuration(step.Timeout); err != nil {
				return fmt.Errorf("step[%d] has invalid timeout: %w", i, err)
			}
		}
	}

	return nil
}

// Resolve substitutes variables into every step parameter and returns the
// resolved copy. Overrides take precedence over the recipe's own vars; a
// reference to an undefined variable is an error.
func (r *Recipe) Resolve(overrides map[string]string) (*Recipe, error) {
	vars := make(map[string]string, len(r.Vars)+len(overrides))
	for k, v := range r.Vars {
		vars[k] = v
	}
	for k, v := range overrides {
		vars[k] = v
	}

	resolved := &Recipe{
		Name:  r.Name,
		Vars:  vars,
		Steps: make([]Step, len(r.Steps)),
	}

	for i, step := range r.Steps {
		params, err := substituteValue(step.Params, vars)
		if err != nil {
			return nil, fmt.Errorf("step[%d] (%s): %w", i, step.Action, err)
		}

		resolved.Steps[i] = Step{
			Name:            step.Name,
			Action:          step.Action,
			Timeout:         step.Timeout,
			ContinueOnError: step.ContinueOnError,
		}
		if params != nil {
			resolved.Steps[i].Params = params.(map[string]interface{})
		}
	}

	return resolved, nil
}

// GetTimeout returns the step timeout, or zero when unset
func (s *Step) GetTimeout() time.Duration {
	if s.Timeout == "" {
		return 0
	}
	duration, _ := time.ParseDuration(s.Timeout)
	return duration
}

// substituteValue walks a decoded YAML value and substitutes variables in
// every string it contains
func substituteValue(value interface{}, vars map[string]string) (interface{}, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case string:
		return substituteString(v, vars)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for key, item := range v {
			sub, err := substituteValue(item, vars)
			if err != nil {
				return nil, err
			}
			out[key] = sub
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			sub, err := substituteValue(item, vars)
			if err != nil {
				return nil, err
			}
			out[i] = sub
		}
		return out, nil
	default:
		return value, nil
	}
}

// substituteString replaces every {{var}} occurrence in one string
func substituteString(s string, vars map[string]string) (string, error) {
	var missing string
	result := varPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := varPattern.FindStringSubmatch(match)[1]
		value, ok := vars[name]
		if !ok {
			if missing == "" {
				missing = name
			}
			return match
		}
		return value
	})

	if missing != "" {
		return "", fmt.Errorf("undefined variable %q", missing)
	}
	return result, nil
}
