package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"github.com/satriahrh/gemini-chat/domain"
)

// contentGenerator is the part of genai.Models the client uses.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type GeminiClient struct {
	models contentGenerator
}

// NewGeminiClient builds a client for the Gemini Developer API.
func NewGeminiClient(ctx context.Context, apiKey string) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}

	return &GeminiClient{models: client.Models}, nil
}

// Generate implements domain.Llm with a single GenerateContent call.
func (g *GeminiClient) Generate(ctx context.Context, req domain.GenerationRequest) (domain.Response, error) {
	resp, err := g.models.GenerateContent(ctx, req.Model, genai.Text(req.Prompt), nil)
	if err != nil {
		return nil, classify(err)
	}
	if resp == nil {
		return nil, &domain.GenerationError{Kind: domain.ErrorKindMalformed, Err: errors.New("empty response")}
	}

	if text := resp.Text(); text != "" {
		return domain.TextResponse{Text: text}, nil
	}

	// No text parts: hand back the whole payload instead of failing.
	raw, err := json.Marshal(resp)
	if err != nil {
		return nil, &domain.GenerationError{Kind: domain.ErrorKindMalformed, Err: fmt.Errorf("rendering response: %w", err)}
	}
	return domain.RawResponse{Raw: string(raw)}, nil
}

func classify(err error) error {
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErr) || errors.As(err, &apiErrPtr) {
		return &domain.GenerationError{Kind: domain.ErrorKindAPI, Err: err}
	}
	return &domain.GenerationError{Kind: domain.ErrorKindTransport, Err: fmt.Errorf("generate content: %w", err)}
}
