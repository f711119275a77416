// Package gemini talks to the Gemini API for consultation answers, photo
// analysis and translation.
package gemini

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"google.golang.org/genai"
)

const (
	DefaultModel       = "gemini-3-flash-preview"
	DefaultVisionModel = "gemini-2.5-flash"
	DefaultLiteModel   = "gemini-2.5-flash-lite"

	maxOutputTokens = 1000
)

// ErrUnavailable wraps every failure to get a usable answer from the model.
var ErrUnavailable = errors.New("gemini unavailable")

// generator is the part of genai.Models the package uses.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// NewClient creates a GenAI client for the Gemini API backend.
func NewClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create GenAI client")
	}
	return client, nil
}

func generateText(ctx context.Context, gen generator, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (string, error) {
	resp, err := gen.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return "", errors.Wrapf(ErrUnavailable, "generate content: %v", err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return "", errors.Wrap(ErrUnavailable, "no candidates in response")
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", errors.Wrap(ErrUnavailable, "no text response from model")
	}
	return text, nil
}
