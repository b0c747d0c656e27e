// Package capability addresses the external structured-inference service by
// role name. Every role has a fixed input/output contract; responses are
// validated against the role's JSON schema. Three client strategies compose:
// the remote call, the remote call with a single repair attempt, and an
// always-unavailable client that forces callers onto their local
// deterministic fallbacks.
package capability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Role identifies one agent role of the inference service.
type Role string

// The service's agent roles.
const (
	RoleExtractor   Role = "extractor"
	RoleComparator  Role = "comparator"
	RoleScorer      Role = "scorer"
	RoleCurator     Role = "curator"
	RoleExporter    Role = "exporter"
	RoleSynthesizer Role = "synthesizer"
)

// Capability errors.
var (
	ErrUnavailable     = errors.New("capability unavailable")
	ErrUnknownRole     = errors.New("unknown capability role")
	ErrEmptyResponse   = errors.New("empty capability response")
	ErrInvalidResponse = errors.New("capability response failed schema validation")
)

// Client invokes a capability role with a JSON-serializable input and
// returns the raw JSON output.
type Client interface {
	Call(ctx context.Context, role Role, input any) (json.RawMessage, error)
}

// Repairer is implemented by clients that can re-ask the service to fix a
// schema-invalid response.
type Repairer interface {
	Repair(ctx context.Context, role Role, invalid json.RawMessage) (json.RawMessage, error)
}

// Unavailable is a Client whose calls always fail, selecting the local
// deterministic fallback path in every stage.
type Unavailable struct{}

// Call implements Client.
func (Unavailable) Call(context.Context, Role, any) (json.RawMessage, error) {
	return nil, ErrUnavailable
}

// WithRepair decorates a client with schema validation and one repair
// attempt: an invalid response is sent back for repair once, and the
// repaired response must validate or the call fails.
type WithRepair struct {
	Inner    Client
	Attempts int
}

// Call implements Client.
func (w *WithRepair) Call(ctx context.Context, role Role, input any) (json.RawMessage, error) {
	raw, err := w.Inner.Call(ctx, role, input)
	if err != nil {
		return nil, err
	}

	if err := ValidateOutput(role, raw); err == nil {
		return raw, nil
	}

	repairer, ok := w.Inner.(Repairer)
	if !ok || w.Attempts < 1 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidResponse, role)
	}

	repaired, err := repairer.Repair(ctx, role, raw)
	if err != nil {
		return nil, fmt.Errorf("repair attempt failed for %s: %w", role, err)
	}

	if err := ValidateOutput(role, repaired); err != nil {
		return nil, err
	}

	return repaired, nil
}

// ParseJSON extracts the first JSON object from a response body, tolerating
// wrapping prose or code fences around it.
func ParseJSON(text string) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, ErrEmptyResponse
	}

	var probe any
	if err := json.Unmarshal([]byte(trimmed), &probe); err == nil {
		return json.RawMessage(trimmed), nil
	}

	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")

	if start == -1 || end <= start {
		return nil, fmt.Errorf("no JSON object in response: %w", ErrInvalidResponse)
	}

	candidate := trimmed[start : end+1]
	if err := json.Unmarshal([]byte(candidate), &probe); err != nil {
		return nil, fmt.Errorf("malformed JSON in response: %w", err)
	}

	return json.RawMessage(candidate), nil
}
