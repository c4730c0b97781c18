// Package mock is a scripted llm.Provider for tests.
//
//	model := &mock.Provider{
//		CompleteResponse: &llm.CompletionResponse{Content: `{"clarity":80,"structure":70,"pace":"good"}`},
//	}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/speechcoach/pkg/provider/llm"
)

var _ llm.Provider = (*Provider)(nil)

// Call is one recorded Complete invocation.
type Call struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// Provider answers Complete from its fields, checked in order: CompleteFunc,
// CompleteErr, CompleteResponse. With none set it returns an empty reply.
// Set the fields before use.
type Provider struct {
	CompleteFunc     func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)
	CompleteErr      error
	CompleteResponse *llm.CompletionResponse

	mu    sync.Mutex
	calls []Call
}

// Complete records the call and returns the scripted reply. Each caller
// gets its own copy of CompleteResponse.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	p.calls = append(p.calls, Call{Ctx: ctx, Req: req})
	p.mu.Unlock()

	switch {
	case p.CompleteFunc != nil:
		return p.CompleteFunc(ctx, req)
	case p.CompleteErr != nil:
		return nil, p.CompleteErr
	case p.CompleteResponse == nil:
		return &llm.CompletionResponse{}, nil
	}
	reply := *p.CompleteResponse
	return &reply, nil
}

// Calls returns the recorded invocations in order.
func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Call(nil), p.calls...)
}
