package gemini

import (
	"context"
	"encoding/base64"
	"regexp"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

const Disclaimer = "This is not a medical diagnosis. Please consult a healthcare professional for proper evaluation."

var (
	// ErrNoImage is returned when a photo request carries no image data.
	ErrNoImage      = errors.New("no image provided")
	ErrInvalidImage = errors.New("invalid base64 image")
)

// Subject is what the photo shows.
type Subject string

const (
	SubjectHuman     Subject = "human"
	SubjectLivestock Subject = "livestock"
)

// Urgency is how soon the user should seek care.
type Urgency string

const (
	UrgencyEmergency Urgency = "emergency"
	UrgencyMedical   Urgency = "medical"
	UrgencyLow       Urgency = "low"
)

var (
	emergencyPattern = regexp.MustCompile(`(?i)emergency|immediate|urgent|severe|call.*ambulance|go.*hospital`)
	medicalPattern   = regexp.MustCompile(`(?i)doctor|medical|professional|clinic|hospital|consult`)
	dataURLPrefix    = regexp.MustCompile(`^data:image/[a-zA-Z0-9.+-]+;base64,`)
)

// PhotoRequest is a health photo to analyze.
type PhotoRequest struct {
	ImageBase64 string  `json:"imageBase64"`
	Subject     Subject `json:"type"`
	Language    string  `json:"language"`
}

// PhotoAnalysis is the answer to a PhotoRequest.
type PhotoAnalysis struct {
	Analysis   string  `json:"analysis"`
	Urgency    Urgency `json:"urgency"`
	Disclaimer string  `json:"disclaimer"`
}

// ClassifyUrgency grades an analysis by the words it uses.
func ClassifyUrgency(analysis string) Urgency {
	switch {
	case emergencyPattern.MatchString(analysis):
		return UrgencyEmergency
	case medicalPattern.MatchString(analysis):
		return UrgencyMedical
	default:
		return UrgencyLow
	}
}

// decodeImage strips an optional data URL prefix and decodes the payload.
// The MIME type of the prefix is returned, image/jpeg otherwise.
func decodeImage(encoded string) ([]byte, string, error) {
	encoded = strings.TrimSpace(encoded)
	mimeType := "image/jpeg"
	if prefix := dataURLPrefix.FindString(encoded); prefix != "" {
		mimeType = strings.TrimSuffix(strings.TrimPrefix(prefix, "data:"), ";base64,")
		encoded = encoded[len(prefix):]
	}
	if encoded == "" {
		return nil, "", ErrNoImage
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, "", errors.Wrap(ErrInvalidImage, err.Error())
	}
	return data, mimeType, nil
}

// PhotoAnalyzer describes health photos with a vision model.
type PhotoAnalyzer struct {
	gen    generator
	model  string
	logger zerolog.Logger
}

// NewPhotoAnalyzer creates an analyzer on client. An empty model selects
// DefaultVisionModel.
func NewPhotoAnalyzer(client *genai.Client, model string) *PhotoAnalyzer {
	return newPhotoAnalyzer(client.Models, model)
}

func newPhotoAnalyzer(gen generator, model string) *PhotoAnalyzer {
	if model == "" {
		model = DefaultVisionModel
	}
	return &PhotoAnalyzer{
		gen:    gen,
		model:  model,
		logger: log.With().Str("component", "photo").Logger(),
	}
}

// Analyze describes the photo and grades its urgency.
func (p *PhotoAnalyzer) Analyze(ctx context.Context, req PhotoRequest) (*PhotoAnalysis, error) {
	data, mimeType, err := decodeImage(req.ImageBase64)
	if err != nil {
		return nil, err
	}

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText("Please analyze this image and provide health guidance."),
			genai.NewPartFromBytes(data, mimeType),
		}, genai.RoleUser),
	}
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(photoInstruction(req.Subject, req.Language), genai.RoleUser),
		MaxOutputTokens:   maxOutputTokens,
	}

	analysis, err := generateText(ctx, p.gen, p.model, contents, config)
	if err != nil {
		return nil, errors.Wrap(err, "unable to analyze image")
	}

	urgency := ClassifyUrgency(analysis)
	p.logger.Info().Str("subject", string(req.Subject)).Str("urgency", string(urgency)).Int("bytes", len(data)).Msg("photo analyzed")
	return &PhotoAnalysis{Analysis: analysis, Urgency: urgency, Disclaimer: Disclaimer}, nil
}
