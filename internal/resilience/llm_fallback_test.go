package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/speechcoach/pkg/provider/llm"
	llmmock "github.com/MrWong99/speechcoach/pkg/provider/llm/mock"
)

func TestLLMFallback_Complete(t *testing.T) {
	t.Parallel()

	primary := &llmmock.Provider{CompleteErr: errors.New("openai: chat completion: 529 overloaded")}
	secondary := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: `{"clarity":70}`}}

	fb := NewLLMFallback(primary, "openai", FallbackConfig{})
	fb.AddFallback("anthropic", secondary)

	req := llm.CompletionRequest{SystemPrompt: "score", JSONOutput: true}
	resp, err := fb.Complete(context.Background(), req)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != `{"clarity":70}` {
		t.Errorf("content = %q", resp.Content)
	}
	calls := secondary.Calls()
	if len(calls) != 1 || calls[0].Req.SystemPrompt != "score" || !calls[0].Req.JSONOutput {
		t.Errorf("secondary calls = %+v, want the original request", calls)
	}

	status := fb.Status()
	if len(status) != 2 || status[0].Name != "openai" || status[1].Name != "anthropic" {
		t.Errorf("status = %+v", status)
	}
}

func TestLLMFallback_AllFail(t *testing.T) {
	t.Parallel()

	fb := NewLLMFallback(&llmmock.Provider{CompleteErr: errUpstream}, "openai", FallbackConfig{})
	if _, err := fb.Complete(context.Background(), llm.CompletionRequest{}); !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}
