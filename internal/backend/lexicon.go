package backend

import (
	"context"
	"strings"
	"unicode"
)

const (
	LabelPositive = "POSITIVE"
	LabelNegative = "NEGATIVE"
	LabelNeutral  = "NEUTRAL"
)

var (
	positiveWords = []string{
		"love", "great", "good", "excellent", "amazing", "awesome", "happy",
		"fantastic", "wonderful", "best", "like", "enjoy", "nice", "perfect",
	}
	negativeWords = []string{
		"hate", "bad", "terrible", "awful", "worst", "horrible", "sad",
		"poor", "angry", "boring", "dislike", "disappointing", "broken", "ugly",
	}
)

// Lexicon is a word-counting sentiment classifier. It needs no model
// server, which makes it useful for development and as a baseline arm in
// experiments.
type Lexicon struct {
	version  string
	positive map[string]struct{}
	negative map[string]struct{}
	neutral  bool
}

// NewLexicon returns a two-class (POSITIVE/NEGATIVE) lexicon backend.
func NewLexicon(version string) *Lexicon {
	return newLexicon(version, false)
}

// NewLexiconWithNeutral returns a three-class lexicon backend that reports
// NEUTRAL when no sentiment word dominates.
func NewLexiconWithNeutral(version string) *Lexicon {
	return newLexicon(version, true)
}

func newLexicon(version string, neutral bool) *Lexicon {
	l := &Lexicon{
		version:  version,
		positive: make(map[string]struct{}, len(positiveWords)),
		negative: make(map[string]struct{}, len(negativeWords)),
		neutral:  neutral,
	}
	for _, w := range positiveWords {
		l.positive[w] = struct{}{}
	}
	for _, w := range negativeWords {
		l.negative[w] = struct{}{}
	}
	return l
}

func (l *Lexicon) Classify(ctx context.Context, text string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	})

	pos, neg := 0, 0
	for _, w := range words {
		if _, ok := l.positive[w]; ok {
			pos++
		}
		if _, ok := l.negative[w]; ok {
			neg++
		}
	}

	total := pos + neg
	switch {
	case total == 0 || pos == neg:
		if l.neutral {
			return Result{Label: LabelNeutral, Confidence: 0.5, Version: l.version}, nil
		}
		return Result{Label: LabelPositive, Confidence: 0.5, Version: l.version}, nil
	case pos > neg:
		return Result{Label: LabelPositive, Confidence: confidence(pos, total), Version: l.version}, nil
	default:
		return Result{Label: LabelNegative, Confidence: confidence(neg, total), Version: l.version}, nil
	}
}

// confidence maps the winning share in (0.5, 1] onto (0.5, 1) with
// Laplace smoothing so a single word never claims certainty.
func confidence(winning, total int) float64 {
	return float64(winning+1) / float64(total+2)
}
