package textproc

import (
	"strings"
)

var stopwords = map[string][]string{
	"en": {"the", "and", "of", "to", "in", "is", "that", "for", "with", "was"},
	"de": {"der", "die", "das", "und", "ist", "nicht", "ein", "mit", "auf", "für"},
	"fr": {"le", "la", "les", "et", "est", "une", "dans", "que", "pour", "des"},
	"es": {"el", "la", "los", "que", "de", "en", "es", "una", "por", "para"},
	"ru": {"и", "в", "не", "на", "что", "это", "как", "его", "для", "она"},
}

// DetectLanguage is a stopword-frequency heuristic, good enough to pick a
// summarization prompt language. Returns "und" when nothing matches.
func DetectLanguage(body string) string {
	if len(body) > 4096 {
		body = body[:4096]
	}

	words := strings.Fields(strings.ToLower(body))
	if len(words) == 0 {
		return "und"
	}

	wordSet := make(map[string]int, len(words))
	for _, word := range words {
		wordSet[strings.Trim(word, ".,!?;:\"'()")]++
	}

	bestLang := "und"
	bestScore := 0
	for lang, markers := range stopwords {
		score := 0
		for _, marker := range markers {
			score += wordSet[marker]
		}
		if score > bestScore {
			bestScore = score
			bestLang = lang
		}
	}

	return bestLang
}
