// Package langdetect tags law updates with an ISO 639-1 language code.
// The detector is restricted to the languages the monitored jurisdictions
// publish in, which keeps model load small and avoids far-fetched guesses
// on short legal titles.
package langdetect

import (
	"strings"
	"sync"
	"unicode"

	lingua "github.com/pemistahl/lingua-go"
)

var (
	detectorOnce sync.Once
	detector     lingua.LanguageDetector
)

// DetectISO6391 returns a two-letter language code, or "" when the sample
// is too short or ambiguous to call.
func DetectISO6391(text string) string {
	sample := strings.TrimSpace(text)
	if sample == "" {
		return ""
	}

	letterCount := 0
	for _, r := range sample {
		if unicode.IsLetter(r) {
			letterCount++
		}
	}
	if letterCount < 6 {
		return ""
	}

	language, exists := getDetector().DetectLanguageOf(sample)
	if !exists {
		return ""
	}

	code := strings.ToLower(language.IsoCode639_1().String())
	if len(code) != 2 {
		return ""
	}
	return code
}

func getDetector() lingua.LanguageDetector {
	detectorOnce.Do(func() {
		detector = lingua.NewLanguageDetectorBuilder().
			FromLanguages(
				lingua.German,
				lingua.English,
				lingua.French,
				lingua.Italian,
				lingua.Spanish,
				lingua.Polish,
				lingua.Dutch,
			).
			WithPreloadedLanguageModels().
			Build()
	})
	return detector
}
