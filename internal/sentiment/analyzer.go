package sentiment

import (
	"context"
	"math"
	"strings"
	"unicode"

	"golang-stock-pulse/internal/entity"
)

// Analysis is the score an Analyzer assigns to one article.
type Analysis struct {
	Score      float64 `json:"score"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`
}

// Analyzer scores the text of an article.
type Analyzer interface {
	Analyze(ctx context.Context, article entity.NewsArticle) (Analysis, error)
}

// Observation turns an analysed article into a storable observation.
func Observation(article entity.NewsArticle, a Analysis) entity.SentimentObservation {
	score := clamp(a.Score, -1, 1)
	return entity.SentimentObservation{
		ArticleURL:  article.URL,
		Ticker:      entity.NormalizeTicker(article.Ticker),
		Score:       score,
		Polarity:    entity.PolarityFromScore(score),
		Confidence:  clamp(a.Confidence, 0, 1),
		Source:      a.Source,
		PublishedAt: article.PublishedAt.UTC(),
	}
}

// lexiconAlpha normalises the raw valence sum into (-1, 1).
const lexiconAlpha = 15

var valences = map[string]float64{
	"beat": 2.0, "beats": 2.0, "surge": 2.5, "surges": 2.5, "soar": 2.8, "soars": 2.8,
	"rally": 2.2, "rallies": 2.2, "gain": 1.6, "gains": 1.6, "growth": 1.8, "record": 1.5,
	"profit": 1.8, "profits": 1.8, "upgrade": 2.3, "upgraded": 2.3, "outperform": 2.0,
	"strong": 1.7, "bullish": 2.5, "raises": 1.4, "raised": 1.4, "buyback": 1.5,
	"approval": 1.9, "approved": 1.9, "partnership": 1.2, "innovative": 1.3, "rebound": 1.6,

	"miss": -2.0, "misses": -2.0, "plunge": -2.8, "plunges": -2.8, "fall": -1.5, "falls": -1.5,
	"drop": -1.6, "drops": -1.6, "loss": -1.9, "losses": -1.9, "downgrade": -2.3,
	"downgraded": -2.3, "weak": -1.7, "bearish": -2.5, "lawsuit": -2.0, "probe": -1.6,
	"recall": -1.8, "layoffs": -1.9, "cuts": -1.3, "bankruptcy": -3.2, "fraud": -3.0,
	"decline": -1.5, "declines": -1.5, "warning": -1.7, "slump": -2.2, "underperform": -2.0,
}

var negations = map[string]bool{
	"not": true, "no": true, "never": true, "without": true, "fails": true, "despite": true,
}

// Lexicon is a dictionary scorer in the style of VADER's compound score.
// It is deterministic and needs no network, so it backs up remote analyzers.
type Lexicon struct{}

func NewLexicon() *Lexicon { return &Lexicon{} }

func (l *Lexicon) Analyze(ctx context.Context, article entity.NewsArticle) (Analysis, error) {
	if err := ctx.Err(); err != nil {
		return Analysis{}, err
	}
	return l.Score(article.Title + " " + article.Content), nil
}

// Score rates free text.
func (l *Lexicon) Score(text string) Analysis {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	})

	sum, hits := 0.0, 0
	for i, w := range words {
		v, ok := valences[w]
		if !ok {
			continue
		}
		for j := i - 1; j >= 0 && j >= i-3; j-- {
			if negations[words[j]] || strings.HasSuffix(words[j], "n't") {
				v *= -0.74
				break
			}
		}
		sum += v
		hits++
	}
	if hits == 0 {
		return Analysis{Score: 0, Confidence: 0, Source: "lexicon"}
	}
	compound := sum / math.Sqrt(sum*sum+lexiconAlpha)
	return Analysis{
		Score:      clamp(compound, -1, 1),
		Confidence: clamp(float64(hits)/4, 0.1, 1),
		Source:     "lexicon",
	}
}

// Fallback tries each analyzer in order and returns the first success.
type Fallback []Analyzer

func (f Fallback) Analyze(ctx context.Context, article entity.NewsArticle) (Analysis, error) {
	var lastErr error
	for _, a := range f {
		res, err := a.Analyze(ctx, article)
		if err == nil {
			return res, nil
		}
		if ctx.Err() != nil {
			return Analysis{}, ctx.Err()
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = entity.ErrUpstreamUnavailable
	}
	return Analysis{}, lastErr
}
