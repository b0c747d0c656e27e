package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"horizon/internal/config"
)

const repairSystemPrompt = "You are a JSON repair assistant. Return ONLY valid JSON that conforms " +
	"exactly to the provided schema. No commentary, no markdown."

// systemPrompts are the per-role instructions sent with every call. The
// output contract is enforced separately by the role schemas.
var systemPrompts = map[Role]string{
	RoleExtractor: "You extract candidate signals from a document. Given a document plus the known " +
		"dimension set and tag vocabulary, return the strongest distinct claims as candidates. " +
		"Respond with JSON only.",
	RoleComparator: "You judge whether a candidate duplicates any of its nearest corpus neighbors. " +
		"Return the maximum similarity, the neighbor ids, and a duplicate flag. Respond with JSON only.",
	RoleScorer: "You score a candidate for novelty, credibility, and relevance, derive a priority " +
		"index and importance distance, and decide accept, review, or reject. Respond with JSON only.",
	RoleCurator: "You curate a scored candidate into a canonical record: final title, STEEP axis, " +
		"dimension, tags, and text. Respond with JSON only.",
	RoleExporter: "You summarize a run's rows into output file names, decision counts, and a schema " +
		"validation verdict. Respond with JSON only.",
	RoleSynthesizer: "You cluster accepted signals, together with existing forces, into higher-order " +
		"forces typed MT, T, WS, or WC, each tagged with its source signal ids. Respond with JSON only.",
}

// Remote calls the inference service over the OpenAI chat API with a JSON
// response format.
type Remote struct {
	client           *openai.Client
	model            string
	synthesizerModel string
	timeout          time.Duration
	maxRetries       int
}

// NewRemote creates a remote capability client.
func NewRemote(cfg config.CapabilityConfig) *Remote {
	clientCfg := openai.DefaultConfig(cfg.APIKey())
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &Remote{
		client:           openai.NewClientWithConfig(clientCfg),
		model:            cfg.Model,
		synthesizerModel: cfg.SynthesizerModel,
		timeout:          time.Duration(cfg.TimeoutSeconds) * time.Second,
		maxRetries:       cfg.MaxRetries,
	}
}

// Call implements Client.
func (r *Remote) Call(ctx context.Context, role Role, input any) (json.RawMessage, error) {
	prompt, ok := systemPrompts[role]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRole, role)
	}

	schema, _ := OutputSchema(role)
	system := prompt + "\nOutput JSON schema:\n" + schema

	payload, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s input: %w", role, err)
	}

	return r.complete(ctx, role, system, string(payload))
}

// Repair implements Repairer: one re-ask with the schema and the invalid
// response.
func (r *Remote) Repair(ctx context.Context, role Role, invalid json.RawMessage) (json.RawMessage, error) {
	schema, ok := OutputSchema(role)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRole, role)
	}

	payload, err := json.Marshal(map[string]any{
		"schema":       json.RawMessage(schema),
		"invalid_json": string(invalid),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode repair input: %w", err)
	}

	return r.complete(ctx, role, repairSystemPrompt, string(payload))
}

func (r *Remote) complete(ctx context.Context, role Role, system, user string) (json.RawMessage, error) {
	model := r.model
	if role == RoleSynthesizer && r.synthesizerModel != "" {
		model = r.synthesizerModel
	}

	req := openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	var lastErr error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, err := r.doRequest(ctx, req)
		if err != nil {
			lastErr = err
			continue
		}

		if len(resp.Choices) == 0 {
			lastErr = ErrEmptyResponse
			continue
		}

		return ParseJSON(resp.Choices[0].Message.Content)
	}

	return nil, fmt.Errorf("%s call failed: %w", role, lastErr)
}

func (r *Remote) doRequest(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	return r.client.CreateChatCompletion(callCtx, req)
}
