// Copyright (c) 2026 Warden Team
// Warden - operations control plane for MEV trading
// This source code is licensed under the MIT license found in the LICENSE file.

package mutation

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"

	"google.golang.org/genai"

	"github.com/mevog/warden/internal/model"
	"github.com/mevog/warden/internal/oplog"
	"github.com/mevog/warden/internal/security"
	"github.com/mevog/warden/internal/strategy"
	"github.com/mevog/warden/internal/vote"
)

// Model selection for parameter mutation.
const (
	EnvModel     = "MUTATION_MODEL"
	DefaultModel = "gemini-2.5-flash"
	SecretAPIKey = "GEMINI_API_KEY"
)

// ModelClient answers a mutation prompt with raw model text. The text is
// expected to be a JSON object {"params": {...}}.
type ModelClient interface {
	Mutate(ctx context.Context, prompt string) (string, error)
}

// GeminiClient calls the Gemini API for parameter suggestions.
type GeminiClient struct {
	client *genai.Client
	model  string
}

// NewGeminiClient resolves the API key through the secret manager and
// builds a client. The model comes from MUTATION_MODEL.
func NewGeminiClient(ctx context.Context) (*GeminiClient, error) {
	key, err := security.Get(SecretAPIKey)
	if err != nil {
		return nil, fmt.Errorf("mutation model key: %w", err)
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: string(key.Bytes()),
	})
	if err != nil {
		return nil, fmt.Errorf("create model client: %w", err)
	}
	name := os.Getenv(EnvModel)
	if name == "" {
		name = DefaultModel
	}
	return &GeminiClient{client: client, model: name}, nil
}

// Mutate implements ModelClient.
func (g *GeminiClient) Mutate(ctx context.Context, prompt string) (string, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(prompt, genai.RoleUser),
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return "", fmt.Errorf("model call: %w", err)
	}
	return resp.Text(), nil
}

// StaticModel is the offline stub: it returns a canned response. The zero
// value suggests nothing, which the mutator treats as "no change".
type StaticModel struct {
	Response string
	Err      error
}

// Mutate implements ModelClient.
func (s *StaticModel) Mutate(ctx context.Context, prompt string) (string, error) {
	if s.Err != nil {
		return "", s.Err
	}
	if s.Response == "" {
		return `{"params": {}}`, nil
	}
	return s.Response, nil
}

// Mutator asks a model for parameter mutations and files them as
// proposals. It never touches a running strategy itself; approved
// proposals are applied by whoever executes them.
type Mutator struct {
	model  ModelClient
	quorum *vote.Quorum
	log    *oplog.Logger
	trail  *Log
}

// MutatorOption configures a Mutator.
type MutatorOption func(*Mutator)

// WithMutatorLogger sets an explicit logger.
func WithMutatorLogger(l *oplog.Logger) MutatorOption {
	return func(m *Mutator) { m.log = l }
}

// WithMutatorTrail sets the mutation log.
func WithMutatorTrail(t *Log) MutatorOption {
	return func(m *Mutator) { m.trail = t }
}

// NewMutator wires a mutator to a model and a quorum.
func NewMutator(client ModelClient, quorum *vote.Quorum, opts ...MutatorOption) *Mutator {
	m := &Mutator{model: client, quorum: quorum}
	for _, opt := range opts {
		opt(m)
	}
	if m.log == nil {
		m.log = oplog.New("mutator")
	}
	if m.trail == nil {
		m.trail = NewLog()
	}
	return m
}

// modelReply is the schema the model must answer with.
type modelReply struct {
	Params map[string]float64 `json:"params"`
}

// mutationPayload is what an approved param_mutation proposal carries.
type mutationPayload struct {
	Params map[string]float64 `json:"params"`
	Before map[string]float64 `json:"before"`
}

// ProposeMutation builds a prompt from the manifest and its scoreboard
// row, asks the model, validates the reply against the manifest bounds and
// files a param_mutation proposal. A model that suggests nothing returns
// (nil, nil).
func (m *Mutator) ProposeMutation(ctx context.Context, manifest strategy.Manifest, row strategy.Score) (*model.Proposal, error) {
	prompt, err := buildPrompt(manifest, row)
	if err != nil {
		return nil, err
	}
	raw, err := m.model.Mutate(ctx, prompt)
	if err != nil {
		_ = m.log.Log(oplog.Entry{
			Event:      "model_call_fail",
			StrategyID: manifest.StrategyID,
			MutationID: CurrentMutationID(),
			RiskLevel:  "medium",
			Error:      err.Error(),
		})
		return nil, err
	}

	var reply modelReply
	if err := json.Unmarshal([]byte(raw), &reply); err != nil {
		_ = m.log.Log(oplog.Entry{
			Event:      "model_parse_fail",
			StrategyID: manifest.StrategyID,
			MutationID: CurrentMutationID(),
			RiskLevel:  "medium",
			Error:      err.Error(),
		})
		return nil, fmt.Errorf("invalid model response: %w", err)
	}
	if len(reply.Params) == 0 {
		return nil, nil
	}
	if err := validateParams(manifest, reply.Params); err != nil {
		_ = m.log.Log(oplog.Entry{
			Event:      "model_schema_fail",
			StrategyID: manifest.StrategyID,
			MutationID: CurrentMutationID(),
			RiskLevel:  "high",
			Error:      err.Error(),
		})
		return nil, err
	}

	payload, err := json.Marshal(mutationPayload{Params: reply.Params, Before: manifest.Params})
	if err != nil {
		return nil, err
	}
	prop, err := m.quorum.Propose(model.KindParamMutation, manifest.StrategyID, string(payload), "mutator", 0.3)
	if err != nil {
		return nil, fmt.Errorf("file mutation proposal: %w", err)
	}
	if err := m.trail.Record("mutate_strategy", manifest.StrategyID, manifest.Params, reply.Params, map[string]any{
		"proposal_id": prop.ID,
	}); err != nil {
		return prop, err
	}
	return prop, nil
}

// buildPrompt summarizes the manifest and its current performance for the
// model, deterministically so prompts are auditable.
func buildPrompt(manifest strategy.Manifest, row strategy.Score) (string, error) {
	keys := make([]string, 0, len(manifest.Params))
	for k := range manifest.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	summary := map[string]any{
		"strategy_id": manifest.StrategyID,
		"edge_type":   manifest.EdgeType,
		"params":      manifest.Params,
		"bounds":      manifest.Bounds,
		"param_keys":  keys,
		"performance": row,
	}
	raw, err := json.Marshal(summary)
	if err != nil {
		return "", err
	}
	return "Given this strategy and its recent performance, suggest improved " +
		"parameter values. Answer with JSON {\"params\": {name: value}} using " +
		"only existing parameter names, inside the stated bounds. Suggest an " +
		"empty object if the current values look right.\n" + string(raw), nil
}

// validateParams rejects unknown names, non-finite values and values
// outside the manifest bounds.
func validateParams(manifest strategy.Manifest, params map[string]float64) error {
	for name, v := range params {
		if _, ok := manifest.Params[name]; !ok {
			return fmt.Errorf("model proposed unknown param %q", name)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("model proposed non-finite value for %q", name)
		}
		if r, ok := manifest.Bounds[name]; ok {
			if v < r.Min || v > r.Max {
				return fmt.Errorf("model proposed %q = %g outside bounds [%g, %g]", name, v, r.Min, r.Max)
			}
		}
	}
	return nil
}

// ParamsFromPayload extracts the parameter map from an approved
// param_mutation proposal payload.
func ParamsFromPayload(payload string) (map[string]float64, error) {
	var p mutationPayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return nil, fmt.Errorf("parse mutation payload: %w", err)
	}
	if len(p.Params) == 0 {
		return nil, fmt.Errorf("mutation payload carries no params")
	}
	return p.Params, nil
}

// ApplyDecision applies an executed param_mutation proposal to the
// matching strategy and records the application.
func (m *Mutator) ApplyDecision(p *model.Proposal, strat strategy.Strategy) error {
	if p.Kind != model.KindParamMutation {
		return fmt.Errorf("proposal %s is %s, not a param mutation", p.ID, p.Kind)
	}
	tunable, ok := strat.(strategy.Tunable)
	if !ok {
		return fmt.Errorf("strategy %s does not accept parameter mutations", strat.ID())
	}
	params, err := ParamsFromPayload(p.Payload)
	if err != nil {
		return err
	}
	before := strat.Params()
	if err := tunable.Apply(params); err != nil {
		return fmt.Errorf("apply mutation %s: %w", p.ID, err)
	}
	return m.trail.Record("mutation_applied", strat.ID(), before, params, map[string]any{
		"proposal_id": p.ID,
	})
}
