package domain_test

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"

	"github.com/satriahrh/gemini-chat/domain"
)

func TestNewTranscriptHoldsGreeting(t *testing.T) {
	tr := domain.NewTranscript()

	want := []domain.Turn{{Role: domain.AssistantRole, Content: domain.GreetingText}}
	if got := tr.Snapshot(); !reflect.DeepEqual(got, want) {
		t.Fatalf("Snapshot() = %v, want %v", got, want)
	}
}

func TestInitializeIsIdempotent(t *testing.T) {
	tr := domain.NewTranscript()
	tr.AppendTurn(domain.UserRole, "hi")

	tr.Initialize()

	if tr.Len() != 2 {
		t.Fatalf("Initialize() on a populated transcript changed its length to %d", tr.Len())
	}

	var zero domain.Transcript
	zero.Initialize()
	if zero.Len() != 1 {
		t.Fatalf("Initialize() on empty transcript gave %d turns, want 1", zero.Len())
	}
}

func TestResetMatchesFreshTranscript(t *testing.T) {
	tr := domain.NewTranscript()
	tr.AppendTurn(domain.UserRole, "a")
	tr.AppendTurn(domain.AssistantRole, "b")

	tr.Reset()

	if got, want := tr.Snapshot(), domain.NewTranscript().Snapshot(); !reflect.DeepEqual(got, want) {
		t.Fatalf("after Reset() Snapshot() = %v, want %v", got, want)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	tr := domain.NewTranscript()
	snap := tr.Snapshot()
	snap[0].Content = "changed"

	if tr.Snapshot()[0].Content != domain.GreetingText {
		t.Fatal("mutating a snapshot leaked into the transcript")
	}
}

func TestAppendKeepsOrderUnderConcurrency(t *testing.T) {
	tr := domain.NewTranscript()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tr.AppendTurn(domain.UserRole, fmt.Sprint(i))
		}(i)
	}
	wg.Wait()

	if tr.Len() != 51 {
		t.Fatalf("Len() = %d, want 51", tr.Len())
	}
	if tr.Snapshot()[0].Content != domain.GreetingText {
		t.Fatal("greeting is no longer first")
	}
}

func TestCycleLock(t *testing.T) {
	tr := domain.NewTranscript()

	if !tr.TryBeginCycle() {
		t.Fatal("first TryBeginCycle() should succeed")
	}
	if tr.TryBeginCycle() {
		t.Fatal("second TryBeginCycle() should fail while the first is running")
	}
	tr.EndCycle()
	if !tr.TryBeginCycle() {
		t.Fatal("TryBeginCycle() should succeed after EndCycle()")
	}
	tr.EndCycle()
}

func TestReplyText(t *testing.T) {
	tests := []struct {
		name string
		resp domain.Response
		want string
	}{
		{"text", domain.TextResponse{Text: "hello"}, "hello"},
		{"raw", domain.RawResponse{Raw: `{"candidates":[]}`}, `{"candidates":[]}`},
		{"nil", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := domain.ReplyText(tt.resp); got != tt.want {
				t.Errorf("ReplyText() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGenerationErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := error(&domain.GenerationError{Kind: domain.ErrorKindTransport, Err: cause})

	if !errors.Is(err, cause) {
		t.Fatal("GenerationError should unwrap to its cause")
	}
	var genErr *domain.GenerationError
	if !errors.As(err, &genErr) || genErr.Kind != domain.ErrorKindTransport {
		t.Fatalf("errors.As() failed, got %v", genErr)
	}
}
