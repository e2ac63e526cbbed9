// Package vtool implements the virtual-tool engine (spec §4.E): executing a
// configured recipe of ordered tool calls against the Router, threading
// each step's result into a substitution context for later steps.
package vtool

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/PaesslerAG/gval"
	"github.com/PaesslerAG/jsonpath"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nullrunner/mcp-gateway/pkg/config"
	"github.com/nullrunner/mcp-gateway/pkg/log"
)

// Caller is the subset of *router.Router the engine needs to invoke ops.
// Declared at point of use so the engine doesn't import router directly and
// tests can substitute a fake.
type Caller interface {
	CallTool(ctx context.Context, id string, args map[string]any) (*mcp.CallToolResult, error)
}

// StepResult is one op's outcome, recorded for the final summary and for
// ${step_N} / ${step_N_data} substitution in later steps.
type StepResult struct {
	Index   int
	Tool    string
	Result  *mcp.CallToolResult
	Data    any // parsed JSON of the result's first text content, if any
	Err     error
	Skipped bool // true if a When clause evaluated false
}

// Result is the outcome of a full recipe run.
type Result struct {
	Steps   []StepResult
	Last    *mcp.CallToolResult
	Aborted bool
}

var substitution = regexp.MustCompile(`\$\{([^}]+)\}`)

// Engine runs virtual-tool recipes.
type Engine struct {
	logger log.Logger
}

// New returns an Engine ready to run recipes.
func New() *Engine {
	return &Engine{logger: log.Tagged("vtool")}
}

// Run executes recipe's ops in strict sequential order (spec §4.E "Order"),
// seeding the substitution context with args and growing it with each
// step's result. stopOnError defaults to true when recipe.StopOnError is
// nil.
func (e *Engine) Run(ctx context.Context, recipe config.VirtualToolConfig, router Caller, args map[string]any) (*Result, error) {
	stopOnError := true
	if recipe.StopOnError != nil {
		stopOnError = *recipe.StopOnError
	}

	vctx := make(map[string]any, len(args)+len(recipe.Ops))
	for k, v := range args {
		vctx[k] = v
	}

	result := &Result{}

	for i, op := range recipe.Ops {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		if op.When != "" {
			proceed, err := evalWhen(op.When, vctx)
			if err != nil {
				e.logger.Logf("step %d (%s): when clause error: %v", i, op.Tool, err)
			} else if !proceed {
				result.Steps = append(result.Steps, StepResult{Index: i, Tool: op.Tool, Skipped: true})
				continue
			}
		}

		resolvedArgs := substituteArgs(op.Args, vctx)

		callResult, err := router.CallTool(ctx, op.Tool, resolvedArgs)
		step := StepResult{Index: i, Tool: op.Tool, Result: callResult, Err: err}

		stepKey := fmt.Sprintf("step_%d", i)
		if err != nil {
			vctx[stepKey] = map[string]any{"error": err.Error()}
		} else {
			vctx[stepKey] = callResult
			if data, ok := parseFirstTextAsJSON(callResult); ok {
				step.Data = data
				vctx[stepKey+"_data"] = data
			}
			result.Last = callResult
		}
		result.Steps = append(result.Steps, step)

		if err != nil {
			e.logger.Logf("step %d (%s) failed: %v", i, op.Tool, err)
			if stopOnError {
				result.Aborted = true
				return result, err
			}
		}
	}

	return result, nil
}

// parseFirstTextAsJSON attempts to decode the first text content block of a
// tool result as JSON, for ${step_N_data....} substitution.
func parseFirstTextAsJSON(result *mcp.CallToolResult) (any, bool) {
	if result == nil {
		return nil, false
	}
	for _, c := range result.Content {
		tc, ok := c.(*mcp.TextContent)
		if !ok {
			continue
		}
		var v any
		if err := json.Unmarshal([]byte(tc.Text), &v); err != nil {
			return nil, false
		}
		return v, true
	}
	return nil, false
}

// substituteArgs walks op.Args, replacing any string value matching
// ${dotted.path} with its dotted lookup into vctx (spec §4.E
// "Substitution"). Missing lookups leave the literal placeholder in place
// to aid debugging; non-string values pass through untouched.
func substituteArgs(args map[string]any, vctx map[string]any) map[string]any {
	if args == nil {
		return nil
	}
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = substituteValue(v, vctx)
	}
	return out
}

func substituteValue(v any, vctx map[string]any) any {
	switch val := v.(type) {
	case string:
		return substituteString(val, vctx)
	case map[string]any:
		return substituteArgs(val, vctx)
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = substituteValue(elem, vctx)
		}
		return out
	default:
		return v
	}
}

func substituteString(s string, vctx map[string]any) any {
	matches := substitution.FindStringSubmatchIndex(s)
	if matches == nil {
		return s
	}
	// A value that is *entirely* one placeholder substitutes with the
	// resolved value's native type (so a step's object result can be
	// passed through as an object, not stringified).
	if matches[0] == 0 && matches[1] == len(s) {
		path := s[matches[2]:matches[3]]
		if resolved, ok := lookup(path, vctx); ok {
			return resolved
		}
		return s
	}

	return substitution.ReplaceAllStringFunc(s, func(m string) string {
		path := m[2 : len(m)-1]
		resolved, ok := lookup(path, vctx)
		if !ok {
			return m
		}
		if str, ok := resolved.(string); ok {
			return str
		}
		encoded, err := json.Marshal(resolved)
		if err != nil {
			return m
		}
		return string(encoded)
	})
}

// evalWhen evaluates expr (a gval expression) against vctx and requires a
// boolean result, so a malformed or non-boolean When clause is reported
// rather than silently treated as true or false.
func evalWhen(expr string, vctx map[string]any) (bool, error) {
	v, err := gval.Evaluate(expr, vctx)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("when clause %q did not evaluate to a boolean", expr)
	}
	return b, nil
}

// lookup resolves a dotted path against vctx using jsonpath-style traversal.
func lookup(path string, vctx map[string]any) (any, bool) {
	v, err := jsonpath.Get("$."+path, vctx)
	if err != nil {
		return nil, false
	}
	return v, true
}
