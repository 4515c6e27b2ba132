package llm

import "context"

// MockClient is an in-memory Client used by this package's tests and the
// agent runtime's tests; it never makes a network call.
type MockClient struct {
	// Respond, if set, computes the reply for a given system/user prompt
	// pair. If nil, Completion echoes the user prompt back as Text.
	Respond func(systemPrompt, userPrompt string) (Result, error)
	// Block, if true, makes Completion wait on ctx instead of calling
	// Respond, returning ctx.Err() once it's cancelled. Simulates an
	// in-flight provider call that only a cancelled context can end.
	Block bool
	Calls int
}

func (m *MockClient) Completion(ctx context.Context, systemPrompt, userPrompt string, history []Message) (Result, error) {
	m.Calls++
	if m.Block {
		<-ctx.Done()
		return Result{}, ctx.Err()
	}
	if m.Respond != nil {
		return m.Respond(systemPrompt, userPrompt)
	}
	return Result{Text: userPrompt}, nil
}

var _ Client = (*MockClient)(nil)
