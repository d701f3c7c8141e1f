package guard

import (
	"context"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/rego"
)

const (
	DecisionAllow  = "allow"
	DecisionReject = "reject"
)

// PolicyEngine evaluates the content policy for a generated answer.
type PolicyEngine struct {
	query rego.PreparedEvalQuery
}

// NewPolicyEngine prepares the content_policy module.
func NewPolicyEngine(ctx context.Context, policyContent string) (*PolicyEngine, error) {
	r := rego.New(
		rego.Query("data.content_policy.decision"),
		rego.Module("content_policy.rego", policyContent),
	)
	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}
	return &PolicyEngine{query: query}, nil
}

// LoadPolicyEngine reads the policy from path, or uses DefaultPolicy when path is empty.
func LoadPolicyEngine(ctx context.Context, path string) (*PolicyEngine, error) {
	if path == "" {
		return NewPolicyEngine(ctx, DefaultPolicy)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy %s: %w", path, err)
	}
	return NewPolicyEngine(ctx, string(content))
}

// PolicyInput is what the rego module sees as input.
type PolicyInput struct {
	Answer    string  `json:"answer"`
	Score     float64 `json:"score"`
	Threshold float64 `json:"threshold"`
}

// Decide returns allow or reject. A policy without a decision allows.
func (e *PolicyEngine) Decide(ctx context.Context, in PolicyInput) (string, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(map[string]any{
		"answer":    in.Answer,
		"score":     in.Score,
		"threshold": in.Threshold,
	}))
	if err != nil {
		return "", fmt.Errorf("failed to evaluate policy: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return DecisionAllow, nil
	}
	decision, ok := results[0].Expressions[0].Value.(string)
	if !ok {
		return "", fmt.Errorf("policy returned %T, want string", results[0].Expressions[0].Value)
	}
	return decision, nil
}

// DefaultPolicy rejects answers whose toxicity score exceeds the threshold.
const DefaultPolicy = `
package content_policy

default decision = "allow"

decision = "reject" {
	input.score > input.threshold
}
`
