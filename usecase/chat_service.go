package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/satriahrh/gemini-chat/domain"
	"github.com/satriahrh/gemini-chat/utils/log"
	"github.com/satriahrh/gemini-chat/utils/telemetry"
)

var ErrUnknownModel = errors.New("model is not in the selectable set")

// ModelSelection is either a fixed model or a set the user picks from.
type ModelSelection struct {
	Fixed   bool
	Default string
	Allowed []string
}

type Settings struct {
	Models  ModelSelection
	Persona string // empty means no persona prefix

	// ErrorDetail switches the failure reply to the error-inclusive form.
	ErrorDetail   bool
	HistoryWindow int
}

type ChatService struct {
	llm      domain.Llm
	broker   domain.MessageBroker
	settings Settings
	now      func() time.Time

	tracer   trace.Tracer
	replies  metric.Int64Counter
	duration metric.Float64Histogram
}

// Outcome describes what one HandleUserMessage call did.
type Outcome struct {
	// Ignored is set when the input was blank and nothing happened.
	Ignored bool
	// Failed is set when the reply is the apology text.
	Failed bool
	Reply  domain.Turn
	Turns  []domain.Turn
}

func NewChatService(gen domain.Llm, broker domain.MessageBroker, tel *telemetry.Telemetry, settings Settings) *ChatService {
	if tel == nil {
		tel = telemetry.Disabled()
	}
	replies, _ := tel.Meter.Int64Counter("chat.replies",
		metric.WithDescription("Completed reply cycles by outcome"))
	duration, _ := tel.Meter.Float64Histogram("chat.generation.duration",
		metric.WithDescription("Generation call latency"), metric.WithUnit("ms"))

	return &ChatService{
		llm:      gen,
		broker:   broker,
		settings: settings,
		now:      time.Now,
		tracer:   tel.Tracer,
		replies:  replies,
		duration: duration,
	}
}

// ResolveModel picks the model for a request. A fixed selection ignores the
// requested name.
func (s *ChatService) ResolveModel(requested string) (string, error) {
	sel := s.settings.Models
	if sel.Fixed || requested == "" {
		return sel.Default, nil
	}
	if !slices.Contains(sel.Allowed, requested) {
		return "", ErrUnknownModel
	}
	return requested, nil
}

func (s *ChatService) Models() ModelSelection {
	return s.settings.Models
}

// HandleUserMessage runs one request/response cycle on the transcript.
// Generation failures never surface as errors: they become the apology reply.
// The returned error only reports ErrUnknownModel or ErrCycleInProgress, in
// which case the transcript is untouched.
func (s *ChatService) HandleUserMessage(ctx context.Context, sessionID string, tr *domain.Transcript, rawText, model string) (Outcome, error) {
	text := strings.TrimSpace(rawText)
	if text == "" {
		return Outcome{Ignored: true, Turns: tr.Snapshot()}, nil
	}

	model, err := s.ResolveModel(model)
	if err != nil {
		return Outcome{}, err
	}

	if !tr.TryBeginCycle() {
		return Outcome{}, domain.ErrCycleInProgress
	}
	defer tr.EndCycle()

	logger := log.WithCtx(ctx).With(zap.String("model", model))

	tr.AppendTurn(domain.UserRole, text)
	prompt := BuildPrompt(tr.Snapshot(), s.settings.Persona, s.settings.HistoryWindow)

	reply, genErr := s.generate(ctx, model, prompt)
	failed := genErr != nil
	if failed {
		logger.Error("generation failed", zap.Error(genErr))
		reply = s.apology(genErr)
	} else {
		logger.Debug("generation succeeded", zap.Int("reply_length", len(reply)))
	}

	replyTurn := domain.Turn{Role: domain.AssistantRole, Content: reply}
	tr.AppendTurn(replyTurn.Role, replyTurn.Content)

	turns := tr.Snapshot()
	s.publish(ctx, sessionID, domain.ReasonReply, turns)

	return Outcome{Failed: failed, Reply: replyTurn, Turns: turns}, nil
}

// Reset restores the greeting and notifies the shells. It is refused with
// ErrCycleInProgress while a reply is pending.
func (s *ChatService) Reset(ctx context.Context, sessionID string, tr *domain.Transcript) ([]domain.Turn, error) {
	if !tr.TryBeginCycle() {
		return nil, domain.ErrCycleInProgress
	}
	defer tr.EndCycle()

	tr.Reset()
	turns := tr.Snapshot()
	log.WithCtx(ctx).Info("conversation reset")
	s.publish(ctx, sessionID, domain.ReasonReset, turns)
	return turns, nil
}

func (s *ChatService) generate(ctx context.Context, model, prompt string) (string, error) {
	ctx, span := s.tracer.Start(ctx, "chat.generate", trace.WithAttributes(
		attribute.String("gen_ai.request.model", model),
		attribute.Int("chat.prompt.length", len(prompt)),
	))
	defer span.End()

	start := s.now()
	resp, err := s.call(ctx, domain.GenerationRequest{Model: model, Prompt: prompt})
	elapsed := float64(s.now().Sub(start).Microseconds()) / 1000

	outcome := "success"
	if err != nil {
		outcome = "failure"
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed")
	}
	attrs := metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("model", model),
	)
	s.duration.Record(ctx, elapsed, attrs)
	s.replies.Add(ctx, 1, attrs)

	if err != nil {
		return "", err
	}
	return domain.ReplyText(resp), nil
}

// call shields the cycle from a panicking client so the apology path still
// runs.
func (s *ChatService) call(ctx context.Context, req domain.GenerationRequest) (resp domain.Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			resp = nil
			err = &domain.GenerationError{Kind: domain.ErrorKindMalformed, Err: fmt.Errorf("generation panicked: %v", r)}
		}
	}()
	return s.llm.Generate(ctx, req)
}

func (s *ChatService) apology(err error) string {
	if s.settings.ErrorDetail {
		return domain.ErrorReplyPrefix + err.Error()
	}
	return domain.ApologyText
}

func (s *ChatService) publish(ctx context.Context, sessionID, reason string, turns []domain.Turn) {
	if s.broker == nil {
		return
	}
	payload, err := json.Marshal(domain.TranscriptEvent{
		SessionID: sessionID,
		Reason:    reason,
		Turns:     turns,
		Timestamp: s.now(),
	})
	if err != nil {
		log.WithCtx(ctx).Error("failed to marshal transcript event", zap.Error(err))
		return
	}
	if err := s.broker.Publish(ctx, domain.TranscriptTopic, sessionID, payload); err != nil {
		log.WithCtx(ctx).Warn("failed to publish transcript event", zap.Error(err))
	}
}
