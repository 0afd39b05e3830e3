package host

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Stub stands in for a collaborator contract that lives outside this
// engine (AMM pair, factory, lock, staking, liquid-staking hub, lending
// market). It accepts every execute message and records it, and answers
// queries from canned responses keyed by the query variant name.
type Stub struct {
	mu        sync.Mutex
	responses map[string]json.RawMessage
	calls     []StubCall
}

// StubCall is one recorded execute.
type StubCall struct {
	Sender  string
	Variant string
	Msg     json.RawMessage
}

// NewStub creates a stub with no canned responses.
func NewStub() *Stub {
	return &Stub{responses: make(map[string]json.RawMessage)}
}

// SetResponse sets the JSON returned for queries of the given variant.
func (s *Stub) SetResponse(variant string, resp any) error {
	raw, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses[variant] = raw
	return nil
}

// Calls returns recorded executes, optionally filtered by variant.
func (s *Stub) Calls(variant string) []StubCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []StubCall
	for _, c := range s.calls {
		if variant == "" || c.Variant == variant {
			out = append(out, c)
		}
	}
	return out
}

func (s *Stub) Instantiate(_ context.Context, _ Deps, _ Env, _ json.RawMessage) (*Response, error) {
	return NewResponse().AddAttribute("action", "instantiate"), nil
}

func (s *Stub) Execute(_ context.Context, _ Deps, env Env, msg json.RawMessage) (*Response, error) {
	variant, inner, err := Variant(msg)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.calls = append(s.calls, StubCall{Sender: env.Sender, Variant: variant, Msg: inner})
	s.mu.Unlock()
	return NewResponse().AddAttribute("action", variant), nil
}

func (s *Stub) Query(_ context.Context, _ Deps, _ Env, msg json.RawMessage) (json.RawMessage, error) {
	variant, _, err := Variant(msg)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	resp, ok := s.responses[variant]
	if !ok {
		return nil, fmt.Errorf("%w: query %s", ErrUnsupportedMessage, variant)
	}
	return resp, nil
}

// Variant splits an externally tagged message {"name": {...}} into its
// name and body.
func Variant(msg json.RawMessage) (string, json.RawMessage, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(msg, &m); err != nil {
		return "", nil, fmt.Errorf("decode message: %w", err)
	}
	if len(m) != 1 {
		return "", nil, fmt.Errorf("%w: expected exactly one variant, got %d", ErrUnsupportedMessage, len(m))
	}
	for k, v := range m {
		return k, v, nil
	}
	return "", nil, nil
}
