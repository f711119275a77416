package gemini

import (
	"context"
	"encoding/json"
	"regexp"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

var languageNames = map[string]string{
	"en": "English",
	"hi": "Hindi",
	"sw": "Swahili",
	"fr": "French",
	"es": "Spanish",
	"ar": "Arabic",
	"bn": "Bengali",
	"pt": "Portuguese",
	"ta": "Tamil",
	"te": "Telugu",
}

var jsonArray = regexp.MustCompile(`(?s)\[.*\]`)

// LanguageName returns the English name of a language code, or the code.
func LanguageName(code string) string {
	if name, ok := languageNames[code]; ok {
		return name
	}
	return code
}

// SupportedLanguage reports whether code is one of the offered UI languages.
func SupportedLanguage(code string) bool {
	_, ok := languageNames[code]
	return ok
}

// TranslateRequest asks for Texts in TargetLanguage.
type TranslateRequest struct {
	Texts          []string `json:"texts"`
	TargetLanguage string   `json:"targetLanguage"`
	SourceLanguage string   `json:"sourceLanguage,omitempty"`
}

// Validate checks the required fields.
func (r TranslateRequest) Validate() error {
	if r.Texts == nil || r.TargetLanguage == "" {
		return errors.New("missing texts or targetLanguage")
	}
	return nil
}

// Translator translates UI strings in batches. It never fails a request
// because of the model: the original texts are returned instead.
type Translator struct {
	gen    generator
	model  string
	logger zerolog.Logger
}

// NewTranslator creates a translator on client. An empty model selects
// DefaultLiteModel.
func NewTranslator(client *genai.Client, model string) *Translator {
	return newTranslator(client.Models, model)
}

func newTranslator(gen generator, model string) *Translator {
	if model == "" {
		model = DefaultLiteModel
	}
	return &Translator{
		gen:    gen,
		model:  model,
		logger: log.With().Str("component", "translate").Logger(),
	}
}

// Translate returns one translation per text, in order.
func (t *Translator) Translate(ctx context.Context, req TranslateRequest) ([]string, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	source := req.SourceLanguage
	if source == "" {
		source = "en"
	}
	if source == req.TargetLanguage || len(req.Texts) == 0 || t == nil || t.gen == nil {
		return req.Texts, nil
	}

	payload, err := json.Marshal(req.Texts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode texts")
	}
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(translateInstruction(source, req.TargetLanguage), genai.RoleUser),
		Temperature:       genai.Ptr[float32](0.3),
	}

	reply, err := generateText(ctx, t.gen, t.model, []*genai.Content{genai.NewContentFromText(string(payload), genai.RoleUser)}, config)
	if err != nil {
		t.logger.Warn().Err(err).Str("target", req.TargetLanguage).Msg("translation failed, using originals")
		return req.Texts, nil
	}

	translations, err := parseTranslations(reply, len(req.Texts))
	if err != nil {
		t.logger.Warn().Err(err).Str("target", req.TargetLanguage).Msg("failed to parse translations, using originals")
		return req.Texts, nil
	}
	return translations, nil
}

// parseTranslations extracts the JSON array from a model reply.
func parseTranslations(reply string, want int) ([]string, error) {
	match := jsonArray.FindString(reply)
	if match == "" {
		return nil, errors.New("no JSON array in reply")
	}
	var out []string
	if err := json.Unmarshal([]byte(match), &out); err != nil {
		return nil, errors.Wrap(err, "invalid JSON array")
	}
	if len(out) != want {
		return nil, errors.Errorf("got %d translations for %d texts", len(out), want)
	}
	return out, nil
}
