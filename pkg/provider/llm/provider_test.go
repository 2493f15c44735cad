package llm_test

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/voxlink/pkg/provider/llm"
)

func TestConversation(t *testing.T) {
	t.Parallel()

	if _, err := (llm.CompletionRequest{SystemPrompt: "x"}).Conversation(); !errors.Is(err, llm.ErrNoMessages) {
		t.Fatalf("err = %v, want ErrNoMessages", err)
	}

	msgs, err := llm.CompletionRequest{
		SystemPrompt: "be brief",
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	}.Conversation()
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[0].Role != llm.RoleSystem || msgs[1].Content != "hi" {
		t.Errorf("messages = %+v", msgs)
	}
}

func sliceSource(chunks []llm.Chunk) func() (llm.Chunk, bool) {
	i := 0
	return func() (llm.Chunk, bool) {
		if i >= len(chunks) {
			return llm.Chunk{}, false
		}
		i++
		return chunks[i-1], true
	}
}

func TestRelay(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		doneErr error
		want    string
		wantErr bool
	}{
		{name: "clean end", want: "hello"},
		{name: "error after text", doneErr: errors.New("reset"), want: "hello", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var doneCalls int
			ch := llm.Relay(t.Context(),
				sliceSource([]llm.Chunk{{Text: "hel"}, {Text: "lo", FinishReason: "stop"}}),
				func() error { doneCalls++; return tt.doneErr })

			got, err := llm.Collect(t.Context(), ch)
			if got != tt.want {
				t.Errorf("text = %q, want %q", got, tt.want)
			}
			var se *llm.StreamError
			if tt.wantErr != errors.As(err, &se) {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if doneCalls != 1 {
				t.Errorf("done called %d times", doneCalls)
			}
		})
	}
}

func TestRelay_CancelStillFinishes(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	finished := make(chan struct{})
	endless := func() (llm.Chunk, bool) { return llm.Chunk{Text: "x"}, true }
	ch := llm.Relay(ctx, endless, func() error { close(finished); return nil })

	<-ch
	cancel()
	for range ch {
	}
	<-finished
}
