package usecase_test

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/satriahrh/gemini-chat/adapters/message_broker"
	"github.com/satriahrh/gemini-chat/domain"
	"github.com/satriahrh/gemini-chat/usecase"
)

type stubLlm struct {
	resp     domain.Response
	err      error
	requests []domain.GenerationRequest
}

func (s *stubLlm) Generate(_ context.Context, req domain.GenerationRequest) (domain.Response, error) {
	s.requests = append(s.requests, req)
	return s.resp, s.err
}

func fixedSettings() usecase.Settings {
	return usecase.Settings{
		Models: usecase.ModelSelection{Fixed: true, Default: "gemini-2.5-flash"},
	}
}

func TestHandleUserMessageEndToEnd(t *testing.T) {
	llm := &stubLlm{resp: domain.TextResponse{Text: "반갑습니다"}}
	svc := usecase.NewChatService(llm, nil, nil, fixedSettings())
	tr := domain.NewTranscript()

	out, err := svc.HandleUserMessage(context.Background(), "s1", tr, "안녕", "")
	if err != nil {
		t.Fatalf("HandleUserMessage() error = %v", err)
	}

	want := []domain.Turn{
		{Role: domain.AssistantRole, Content: "안녕하세요! 무엇을 도와드릴까요?"},
		{Role: domain.UserRole, Content: "안녕"},
		{Role: domain.AssistantRole, Content: "반갑습니다"},
	}
	if got := tr.Snapshot(); !reflect.DeepEqual(got, want) {
		t.Fatalf("Snapshot() = %v, want %v", got, want)
	}
	if !reflect.DeepEqual(out.Turns, want) || out.Failed || out.Ignored {
		t.Errorf("unexpected outcome %+v", out)
	}
	if len(llm.requests) != 1 || llm.requests[0].Model != "gemini-2.5-flash" {
		t.Errorf("requests = %+v", llm.requests)
	}
}

func TestHandleUserMessageAddsExactlyTwoTurns(t *testing.T) {
	llm := &stubLlm{resp: domain.TextResponse{Text: "ok"}}
	svc := usecase.NewChatService(llm, nil, nil, fixedSettings())
	tr := domain.NewTranscript()

	for i, msg := range []string{"one", "  two  ", "three"} {
		before := tr.Len()
		if _, err := svc.HandleUserMessage(context.Background(), "s1", tr, msg, ""); err != nil {
			t.Fatalf("HandleUserMessage(%q) error = %v", msg, err)
		}
		if tr.Len() != before+2 {
			t.Fatalf("message %d: length %d -> %d, want +2", i, before, tr.Len())
		}
	}
	if got := tr.Snapshot()[3].Content; got != "two" {
		t.Errorf("user turn not trimmed: %q", got)
	}
}

func TestHandleUserMessageBlankIsNoop(t *testing.T) {
	llm := &stubLlm{resp: domain.TextResponse{Text: "unused"}}
	svc := usecase.NewChatService(llm, nil, nil, fixedSettings())
	tr := domain.NewTranscript()
	before := tr.Snapshot()

	for _, blank := range []string{"", "   ", "\n\t "} {
		out, err := svc.HandleUserMessage(context.Background(), "s1", tr, blank, "")
		if err != nil {
			t.Fatalf("HandleUserMessage(%q) error = %v", blank, err)
		}
		if !out.Ignored {
			t.Errorf("HandleUserMessage(%q) not reported as ignored", blank)
		}
	}
	if !reflect.DeepEqual(tr.Snapshot(), before) {
		t.Fatal("blank input changed the transcript")
	}
	if len(llm.requests) != 0 {
		t.Fatalf("blank input made %d generation calls", len(llm.requests))
	}
}

func TestHandleUserMessageFailureDegrades(t *testing.T) {
	genErr := &domain.GenerationError{Kind: domain.ErrorKindAPI, Err: errors.New("quota exceeded")}

	tests := []struct {
		name        string
		errorDetail bool
		want        string
	}{
		{"fixed apology", false, domain.ApologyText},
		{"error inclusive", true, domain.ErrorReplyPrefix + genErr.Error()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings := fixedSettings()
			settings.ErrorDetail = tt.errorDetail
			svc := usecase.NewChatService(&stubLlm{err: genErr}, nil, nil, settings)
			tr := domain.NewTranscript()

			out, err := svc.HandleUserMessage(context.Background(), "s1", tr, "hello", "")
			if err != nil {
				t.Fatalf("HandleUserMessage() error = %v", err)
			}
			if !out.Failed {
				t.Error("outcome not marked as failed")
			}
			turns := tr.Snapshot()
			if len(turns) != 3 {
				t.Fatalf("len = %d, want 3", len(turns))
			}
			if last := turns[2]; last.Role != domain.AssistantRole || last.Content != tt.want {
				t.Errorf("last turn = %+v, want assistant %q", last, tt.want)
			}
		})
	}

	t.Run("session usable afterwards", func(t *testing.T) {
		llm := &stubLlm{err: genErr}
		svc := usecase.NewChatService(llm, nil, nil, fixedSettings())
		tr := domain.NewTranscript()

		svc.HandleUserMessage(context.Background(), "s1", tr, "first", "")
		llm.err = nil
		llm.resp = domain.TextResponse{Text: "recovered"}
		svc.HandleUserMessage(context.Background(), "s1", tr, "second", "")

		if got := tr.Snapshot()[4].Content; got != "recovered" {
			t.Errorf("reply after failure = %q", got)
		}
	})
}

type panickingLlm struct{}

func (panickingLlm) Generate(context.Context, domain.GenerationRequest) (domain.Response, error) {
	panic("nil candidate")
}

func TestHandleUserMessageRecoversFromPanickingClient(t *testing.T) {
	svc := usecase.NewChatService(panickingLlm{}, nil, nil, fixedSettings())
	tr := domain.NewTranscript()

	out, err := svc.HandleUserMessage(context.Background(), "s1", tr, "안녕", "")
	if err != nil {
		t.Fatalf("HandleUserMessage() error = %v", err)
	}
	if !out.Failed || out.Reply.Content != domain.ApologyText {
		t.Fatalf("outcome = %+v, want apology", out)
	}
	if tr.Len() != 3 {
		t.Fatalf("transcript has %d turns, want 3", tr.Len())
	}

	// the cycle lock was released
	if !tr.TryBeginCycle() {
		t.Fatal("cycle still held after recovered panic")
	}
	tr.EndCycle()
}

func TestHandleUserMessageRawResponse(t *testing.T) {
	llm := &stubLlm{resp: domain.RawResponse{Raw: `{"candidates":null}`}}
	svc := usecase.NewChatService(llm, nil, nil, fixedSettings())
	tr := domain.NewTranscript()

	out, _ := svc.HandleUserMessage(context.Background(), "s1", tr, "hi", "")
	if out.Reply.Content != `{"candidates":null}` {
		t.Errorf("reply = %q", out.Reply.Content)
	}
}

func TestHandleUserMessagePromptCarriesPersona(t *testing.T) {
	llm := &stubLlm{resp: domain.TextResponse{Text: "ok"}}
	settings := fixedSettings()
	settings.Persona = "BE POLITE"
	svc := usecase.NewChatService(llm, nil, nil, settings)
	tr := domain.NewTranscript()

	svc.HandleUserMessage(context.Background(), "s1", tr, "Q", "")

	want := "BE POLITE\n\nassistant: " + domain.GreetingText + "\nuser: Q"
	if got := llm.requests[0].Prompt; got != want {
		t.Errorf("prompt = %q, want %q", got, want)
	}
}

func TestResolveModel(t *testing.T) {
	selectable := usecase.Settings{Models: usecase.ModelSelection{
		Default: "gemini-2.5-flash",
		Allowed: []string{"gemini-2.5-flash", "gemini-1.0"},
	}}

	tests := []struct {
		name      string
		settings  usecase.Settings
		requested string
		want      string
		wantErr   error
	}{
		{"fixed ignores request", fixedSettings(), "gemini-1.0", "gemini-2.5-flash", nil},
		{"selectable default", selectable, "", "gemini-2.5-flash", nil},
		{"selectable allowed", selectable, "gemini-1.0", "gemini-1.0", nil},
		{"selectable unknown", selectable, "gpt-4", "", usecase.ErrUnknownModel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := usecase.NewChatService(&stubLlm{}, nil, nil, tt.settings)
			got, err := svc.ResolveModel(tt.requested)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ResolveModel() error = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ResolveModel() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHandleUserMessageUnknownModelLeavesTranscript(t *testing.T) {
	settings := usecase.Settings{Models: usecase.ModelSelection{Default: "a", Allowed: []string{"a"}}}
	llm := &stubLlm{resp: domain.TextResponse{Text: "ok"}}
	svc := usecase.NewChatService(llm, nil, nil, settings)
	tr := domain.NewTranscript()

	if _, err := svc.HandleUserMessage(context.Background(), "s1", tr, "hi", "b"); !errors.Is(err, usecase.ErrUnknownModel) {
		t.Fatalf("error = %v, want ErrUnknownModel", err)
	}
	if tr.Len() != 1 || len(llm.requests) != 0 {
		t.Fatal("rejected request changed the transcript or called the model")
	}
}

type blockingLlm struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingLlm) Generate(context.Context, domain.GenerationRequest) (domain.Response, error) {
	close(b.started)
	<-b.release
	return domain.TextResponse{Text: "done"}, nil
}

func TestHandleUserMessageRejectsConcurrentCycle(t *testing.T) {
	llm := &blockingLlm{started: make(chan struct{}), release: make(chan struct{})}
	svc := usecase.NewChatService(llm, nil, nil, fixedSettings())
	tr := domain.NewTranscript()

	done := make(chan error, 1)
	go func() {
		_, err := svc.HandleUserMessage(context.Background(), "s1", tr, "first", "")
		done <- err
	}()
	<-llm.started

	if _, err := svc.HandleUserMessage(context.Background(), "s1", tr, "second", ""); !errors.Is(err, domain.ErrCycleInProgress) {
		t.Fatalf("concurrent call error = %v, want ErrCycleInProgress", err)
	}
	if tr.Len() != 2 {
		t.Fatalf("snapshot during pending call has %d turns, want 2", tr.Len())
	}
	if _, err := svc.Reset(context.Background(), "s1", tr); !errors.Is(err, domain.ErrCycleInProgress) {
		t.Fatalf("Reset() during pending call error = %v, want ErrCycleInProgress", err)
	}

	close(llm.release)
	if err := <-done; err != nil {
		t.Fatalf("first call error = %v", err)
	}
	if tr.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", tr.Len())
	}
}

func TestHandleUserMessagePublishesTranscriptEvent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	broker := message_broker.NewChannelMessageBroker()
	defer broker.Close()
	events, err := broker.Subscribe(ctx, domain.TranscriptTopic, "s1")
	if err != nil {
		t.Fatal(err)
	}

	svc := usecase.NewChatService(&stubLlm{resp: domain.TextResponse{Text: "ok"}}, broker, nil, fixedSettings())
	tr := domain.NewTranscript()
	svc.HandleUserMessage(ctx, "s1", tr, "hi", "")
	if _, err := svc.Reset(ctx, "s1", tr); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}

	for _, wantReason := range []string{domain.ReasonReply, domain.ReasonReset} {
		select {
		case msg := <-events:
			var ev domain.TranscriptEvent
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				t.Fatal(err)
			}
			if ev.Reason != wantReason || ev.SessionID != "s1" {
				t.Errorf("event = %+v, want reason %q", ev, wantReason)
			}
		case <-time.After(time.Second):
			t.Fatalf("no %s event", wantReason)
		}
	}
	if tr.Len() != 1 {
		t.Errorf("Reset() left %d turns", tr.Len())
	}
}

func TestBuildPrompt(t *testing.T) {
	turns := []domain.Turn{
		{Role: domain.AssistantRole, Content: "Hi"},
		{Role: domain.UserRole, Content: "Q"},
	}

	tests := []struct {
		name    string
		persona string
		window  int
		want    string
	}{
		{"persona", "BE POLITE", 0, "BE POLITE\n\nassistant: Hi\nuser: Q"},
		{"no persona", "", 0, "assistant: Hi\nuser: Q"},
		{"window", "", 1, "user: Q"},
		{"window larger than history", "", 5, "assistant: Hi\nuser: Q"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := usecase.BuildPrompt(turns, tt.persona, tt.window); got != tt.want {
				t.Errorf("BuildPrompt() = %q, want %q", got, tt.want)
			}
		})
	}

	if strings.Contains(usecase.BuildPrompt(turns, "", 0), "\n\n") {
		t.Error("prompt without persona must not contain a blank line")
	}
}
