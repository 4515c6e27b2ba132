package llm

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestAsRetryable(t *testing.T) {
	base := errors.New("boom")
	wrapped := &RetryableError{StatusCode: 429, Message: "too many requests", RetryAfter: 2 * time.Second, Err: base}

	re, ok := AsRetryable(wrapped)
	if !ok {
		t.Fatal("expected wrapped error to be retryable")
	}
	if re.RetryAfter != 2*time.Second {
		t.Errorf("RetryAfter = %v, want 2s", re.RetryAfter)
	}

	if _, ok := AsRetryable(base); ok {
		t.Error("plain error must not be reported retryable")
	}
}

func TestMockClientDefaultEcho(t *testing.T) {
	c := &MockClient{}
	res, err := c.Completion(context.Background(), "sys", "hello", nil)
	if err != nil {
		t.Fatalf("Completion: %v", err)
	}
	if res.Text != "hello" {
		t.Errorf("Text = %q, want %q", res.Text, "hello")
	}
	if c.Calls != 1 {
		t.Errorf("Calls = %d, want 1", c.Calls)
	}
}
