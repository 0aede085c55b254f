// Package mock provides a test double for the llm.Provider interface.
//
//	p := &mock.Provider{Response: &llm.CompletionResponse{Content: "Hello"}}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/parley/pkg/provider/llm"
)

var _ llm.Provider = (*Provider)(nil)

// Call records a single invocation of Complete.
type Call struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// Provider is a mock implementation of llm.Provider.
//
// Resolution order for Complete: Func, then Err, then Response. A nil
// Response yields an empty reply.
type Provider struct {
	// Func, if set, computes the reply for each call.
	Func func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)

	Response *llm.CompletionResponse
	Err      error

	// ProviderName is returned by Name. Defaults to "mock".
	ProviderName string

	mu    sync.Mutex
	calls []Call
}

// Complete records the call and returns the configured reply.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	p.calls = append(p.calls, Call{Ctx: ctx, Req: req})
	fn, resp, err := p.Func, p.Response, p.Err
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return &llm.CompletionResponse{}, nil
	}
	out := *resp
	return &out, nil
}

// Name implements llm.Provider.
func (p *Provider) Name() string {
	if p.ProviderName == "" {
		return "mock"
	}
	return p.ProviderName
}

// Calls returns a copy of all recorded calls.
func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Call(nil), p.calls...)
}

// Reset clears recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = nil
}
