package voice

var speechLocales = map[string]string{
	"en": "en-US",
	"hi": "hi-IN",
	"sw": "sw-KE",
	"fr": "fr-FR",
	"es": "es-ES",
	"ar": "ar-SA",
	"bn": "bn-IN",
	"ta": "ta-IN",
	"te": "te-IN",
}

// LocaleFor maps an app language code to the locale used for speech
// synthesis and recognition. Unknown languages fall back to en-US.
func LocaleFor(language string) string {
	if locale, ok := speechLocales[language]; ok {
		return locale
	}
	return "en-US"
}
