package gemini

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/room4-2/GramHealth/consult"
)

// Advisor answers consultation turns with a text model. It keeps no state
// between calls.
type Advisor struct {
	gen    generator
	model  string
	logger zerolog.Logger
}

// NewAdvisor creates an advisor on client. An empty model selects DefaultModel.
func NewAdvisor(client *genai.Client, model string) *Advisor {
	return newAdvisor(client.Models, model)
}

func newAdvisor(gen generator, model string) *Advisor {
	if model == "" {
		model = DefaultModel
	}
	return &Advisor{
		gen:    gen,
		model:  model,
		logger: log.With().Str("component", "gemini").Str("model", model).Logger(),
	}
}

// Ask sends the history followed by the user's message and returns the
// model's answer. Every failure, including an empty answer, wraps
// ErrUnavailable.
func (a *Advisor) Ask(ctx context.Context, userText string, history []consult.Turn, contextSummary string) (string, error) {
	contents := make([]*genai.Content, 0, len(history)+1)
	for _, turn := range history {
		role := genai.Role(genai.RoleUser)
		if turn.Speaker == consult.SpeakerAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(turn.Text, role))
	}
	contents = append(contents, genai.NewContentFromText(userText, genai.RoleUser))

	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(advisorInstruction(contextSummary), genai.RoleUser),
		MaxOutputTokens:   maxOutputTokens,
	}

	start := time.Now()
	text, err := generateText(ctx, a.gen, a.model, contents, config)
	if err != nil {
		a.logger.Warn().Err(err).Dur("elapsed", time.Since(start)).Msg("advisor request failed")
		return "", err
	}
	a.logger.Debug().Int("history", len(history)).Dur("elapsed", time.Since(start)).Msg("advisor answered")
	return text, nil
}
