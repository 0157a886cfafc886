package domain

import (
	"context"
	"fmt"
)

// Llm abstracts any chat/LLM provider.
type Llm interface {
	// Generate sends one assembled prompt to the model and returns its response.
	Generate(ctx context.Context, req GenerationRequest) (Response, error)
}

type GenerationRequest struct {
	Model  string
	Prompt string
}

// Response is the shape of a model reply. Providers return either a plain
// text reply or, when the payload exposes no text (safety filtered,
// multi-part, tool calls), the raw rendering of the whole response.
type Response interface {
	isResponse()
}

type TextResponse struct {
	Text string
}

type RawResponse struct {
	Raw string
}

func (TextResponse) isResponse() {}
func (RawResponse) isResponse()  {}

// ReplyText extracts the text that is shown to the user.
func ReplyText(resp Response) string {
	switch r := resp.(type) {
	case TextResponse:
		return r.Text
	case RawResponse:
		return r.Raw
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", r)
	}
}

type ErrorKind string

const (
	ErrorKindTransport ErrorKind = "transport"
	ErrorKindAPI       ErrorKind = "api"
	ErrorKindMalformed ErrorKind = "malformed"
)

// GenerationError is returned by Llm implementations when a call fails.
type GenerationError struct {
	Kind ErrorKind
	Err  error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation %s error: %v", e.Kind, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}
