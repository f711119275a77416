package triage

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ResponseKey identifies a canned reply.
type ResponseKey string

const (
	KeySessionGreeting    ResponseKey = "SESSION_GREETING"
	KeyVoiceGreeting      ResponseKey = "VOICE_GREETING"
	KeyGreetingReply      ResponseKey = "GREETING_REPLY"
	KeyAskTemp            ResponseKey = "ASK_TEMP"
	KeyAskDuration        ResponseKey = "ASK_DURATION"
	KeyAskLocation        ResponseKey = "ASK_LOCATION"
	KeyAskBreathing       ResponseKey = "ASK_BREATHING"
	KeyAskTempAgain       ResponseKey = "ASK_TEMP_AGAIN"
	KeyAdviceFever        ResponseKey = "ADVICE_FEVER"
	KeyAdviceHeadache     ResponseKey = "ADVICE_HEADACHE"
	KeyAdvicePain         ResponseKey = "ADVICE_PAIN"
	KeyAdviceCold         ResponseKey = "ADVICE_COLD"
	KeyEmergencyBreathing ResponseKey = "EMERGENCY_BREATHING"
	KeyClosing            ResponseKey = "CLOSING"
	KeyAnythingElse       ResponseKey = "ANYTHING_ELSE"
	KeyUnclear            ResponseKey = "UNCLEAR"
	KeyDefault            ResponseKey = "DEFAULT"
)

var defaultTexts = map[ResponseKey]string{
	KeySessionGreeting:    "Namaste! I am your AI Health Assistant. Please describe your symptoms.",
	KeyVoiceGreeting:      "Namaste! I am your AI Health Assistant. Please tell me your symptoms.",
	KeyGreetingReply:      "Namaste! How can I help you today? Please tell me your symptoms.",
	KeyAskTemp:            "I understand you have a fever. Have you checked your temperature? What is the reading?",
	KeyAskDuration:        "I see. How long have you had this headache? Is it severe?",
	KeyAskLocation:        "Can you point to where exactly it hurts? Is it a sharp pain?",
	KeyAskBreathing:       "For the cough/cold, are you experiencing any difficulty in breathing?",
	KeyAskTempAgain:       "Could you please confirm if you have measured your temperature? A number allows me to advise better.",
	KeyAdviceFever:        "Since your fever is high, please take one Paracetamol 650mg tablet after food. Drink plenty of water and rest. If it persists for more than 2 days, visit the clinic.",
	KeyAdviceHeadache:     "For the headache, please hydrate yourself and try to rest in a dark, quiet room. If visuals get blurry, please see a doctor immediately.",
	KeyAdvicePain:         "Please apply a warm compress to the area. Avoid heavy lifting. If the pain is unbearable, please visit the PHC immediately.",
	KeyAdviceCold:         "Steam inhalation twice a day is very effective. You can also drink warm water with honey and ginger. Avoid cold drinks.",
	KeyEmergencyBreathing: "⚠️ Breathing difficulty can be serious. Please go to the nearest hospital or Primary Health Centre immediately. Do not wait.",
	KeyClosing:            "You're very welcome. Take care and get well soon! I am always here if you need me.",
	KeyAnythingElse:       "Is there anything else you are experiencing?",
	KeyUnclear:            "I'm listening. Could you describe that in a different way? I can help with fever, pain, cold, etc.",
	KeyDefault:            "Please tell me more about how you are feeling.",
}

// Keys returns every known response key.
func Keys() []ResponseKey {
	return []ResponseKey{
		KeySessionGreeting, KeyVoiceGreeting, KeyGreetingReply, KeyAskTemp, KeyAskDuration, KeyAskLocation,
		KeyAskBreathing, KeyAskTempAgain, KeyAdviceFever, KeyAdviceHeadache, KeyAdvicePain,
		KeyAdviceCold, KeyEmergencyBreathing, KeyClosing, KeyAnythingElse, KeyUnclear, KeyDefault,
	}
}

// Catalog resolves response keys to reply text.
type Catalog struct {
	texts map[ResponseKey]string
}

// DefaultCatalog returns the built-in English catalog.
func DefaultCatalog() *Catalog {
	texts := make(map[ResponseKey]string, len(defaultTexts))
	for k, v := range defaultTexts {
		texts[k] = v
	}
	return &Catalog{texts: texts}
}

// Text returns the reply for key, falling back to DEFAULT for unknown keys.
func (c *Catalog) Text(key ResponseKey) string {
	if c == nil {
		c = DefaultCatalog()
	}
	if text, ok := c.texts[key]; ok {
		return text
	}
	return c.texts[KeyDefault]
}

// catalogFile is the on-disk override format:
//
//	responses:
//	  ASK_TEMP: "..."
type catalogFile struct {
	Responses map[string]string `yaml:"responses"`
}

// LoadCatalog reads a YAML override file on top of the built-in catalog. An
// empty path returns the default catalog.
func LoadCatalog(path string) (*Catalog, error) {
	catalog := DefaultCatalog()
	if strings.TrimSpace(path) == "" {
		return catalog, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read triage catalog %q", path)
	}
	if err := catalog.merge(data); err != nil {
		return nil, errors.Wrapf(err, "failed to parse triage catalog %q", path)
	}
	return catalog, nil
}

func (c *Catalog) merge(data []byte) error {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return err
	}
	for raw, text := range file.Responses {
		key := ResponseKey(strings.ToUpper(strings.TrimSpace(raw)))
		if _, known := defaultTexts[key]; !known {
			return errors.Errorf("unknown response key %q", raw)
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		c.texts[key] = text
	}
	return nil
}
