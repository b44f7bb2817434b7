// Package policy evaluates chat admission policy with OPA.
package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
)

// Engine is the OPA policy engine. It is consulted at the API boundary
// before a turn is orchestrated; "reject" stops the request ahead of any
// storage mutation.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a new policy engine with the given policy content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.chat_policy.decision"),
		rego.Module("chat_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// Input is the admission-policy input for one chat request.
type Input struct {
	MessageLength      int    `json:"message_length"`
	SessionID          string `json:"session_id"`
	PersistentOverride bool   `json:"persistent_override"`
	Stream             bool   `json:"stream"`
}

// Evaluate checks the chat admission policy.
// Returns: decision ("allow" or "reject"), reason (optional), error.
func (e *Engine) Evaluate(ctx context.Context, input Input) (string, string, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return "", "", fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return "allow", "default", nil
	}

	val := results[0].Expressions[0].Value
	if s, ok := val.(string); ok {
		return s, "", nil
	}
	if obj, ok := val.(map[string]interface{}); ok {
		decision, _ := obj["decision"].(string)
		reason, _ := obj["reason"].(string)
		if decision != "" {
			return decision, reason, nil
		}
	}

	return "allow", "unexpected return type", nil
}

// DefaultPolicy is the default admission policy: a defense-in-depth layer
// ahead of domain validation.
const DefaultPolicy = `
package chat_policy

default decision = "allow"

# Reject messages far beyond the configured cap before they reach storage.
decision = "reject" {
	input.message_length > 20000
}

# Reject malformed session identifiers outright.
decision = "reject" {
	input.session_id != ""
	count(input.session_id) != 36
}
`
