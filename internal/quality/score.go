// Package quality scores extracted page text so unreadable OCR can be routed
// to the vision model.
package quality

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/pemistahl/lingua-go"
)

// LanguageDetector returns the probability (0..1) that text is written in one
// of the expected languages.
type LanguageDetector interface {
	ExpectedProbability(text string) float64
}

const (
	minLangSample = 80
	maxLangSample = 2000
	// sparseLength and sparseAlnum drive the fast path for pages that are
	// mostly symbols or scanner noise.
	sparseLength = 100
	sparseAlnum  = 0.50
)

var (
	wordRe  = regexp.MustCompile(`[A-Za-zÀ-ÖØ-öø-ÿ]{2,}`)
	vowelRe = regexp.MustCompile(`[aeiouyàâäéèêëîïôöùûüÿœæAEIOUYÀÂÄÉÈÊËÎÏÔÖÙÛÜŸŒÆ]`)
	spaceRe = regexp.MustCompile(`\s+`)

	badChars = map[rune]struct{}{}
)

func init() {
	for _, r := range "�\x00□■▯▢▣▤▥▦▧▨▩▪▫●○•◦·¤§" {
		badChars[r] = struct{}{}
	}
}

// Scorer computes a 0..100 text quality score. Higher is better.
type Scorer struct {
	lang LanguageDetector
}

// NewScorer returns a scorer. A nil detector treats every text as being in an
// expected language.
func NewScorer(lang LanguageDetector) *Scorer {
	return &Scorer{lang: lang}
}

// Score returns the quality of text in 0..100.
func (s *Scorer) Score(text string) float64 {
	if strings.TrimSpace(text) == "" {
		return 0
	}
	if len([]rune(strings.TrimSpace(text))) >= sparseLength && alnumRatio(text) < sparseAlnum {
		return 0
	}

	runes := []rune(text)
	n := float64(len(runes))
	var printable, alpha, bad int
	for _, r := range runes {
		if unicode.IsPrint(r) {
			printable++
		}
		if unicode.IsLetter(r) {
			alpha++
		}
		if _, ok := badChars[r]; ok {
			bad++
		}
	}

	raw := 0.25*min(1, n/300) +
		0.20*alnumRatio(text) +
		0.20*float64(alpha)/n +
		0.15*tokenScore(text) +
		0.10*float64(printable)/n +
		0.10*s.langScore(runes) -
		0.30*float64(bad)/n

	return max(0, min(1, raw)) * 100
}

func (s *Scorer) langScore(runes []rune) float64 {
	if s.lang == nil || len(runes) < minLangSample {
		return 1
	}
	if len(runes) > maxLangSample {
		runes = runes[:maxLangSample]
	}
	return s.lang.ExpectedProbability(string(runes))
}

func alnumRatio(text string) float64 {
	clean := []rune(spaceRe.ReplaceAllString(text, " "))
	if len(clean) == 0 {
		return 0
	}
	var alnum int
	for _, r := range clean {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			alnum++
		}
	}
	return float64(alnum) / float64(len(clean))
}

// tokenScore rewards word-like tokens of plausible length that contain vowels.
func tokenScore(text string) float64 {
	tokens := wordRe.FindAllString(text, -1)
	if len(tokens) == 0 {
		return 0
	}
	var withVowel, totalLen int
	for _, t := range tokens {
		if vowelRe.MatchString(t) {
			withVowel++
		}
		totalLen += len([]rune(t))
	}
	avg := float64(totalLen) / float64(len(tokens))
	vowels := float64(withVowel) / float64(len(tokens))
	return min(1, avg/5)*0.5 + vowels*0.5
}

// LinguaDetector adapts a lingua detector. Expected holds the languages a
// minute book is normally written in.
type LinguaDetector struct {
	detector lingua.LanguageDetector
	expected map[lingua.Language]struct{}
}

// NewLinguaDetector builds a low-accuracy detector over a few European
// languages, treating English and French as expected.
func NewLinguaDetector() *LinguaDetector {
	langs := []lingua.Language{
		lingua.English, lingua.French, lingua.German,
		lingua.Spanish, lingua.Italian, lingua.Portuguese, lingua.Dutch,
	}
	d := lingua.NewLanguageDetectorBuilder().
		FromLanguages(langs...).
		WithLowAccuracyMode().
		Build()
	return &LinguaDetector{
		detector: d,
		expected: map[lingua.Language]struct{}{lingua.English: {}, lingua.French: {}},
	}
}

func (l *LinguaDetector) ExpectedProbability(text string) float64 {
	best := 0.0
	for _, cv := range l.detector.ComputeLanguageConfidenceValues(text) {
		if _, ok := l.expected[cv.Language()]; ok && cv.Value() > best {
			best = cv.Value()
		}
	}
	return best
}
