package service

import (
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/luisreales/techprep-sub000/internal/domain"
	"github.com/luisreales/techprep-sub000/internal/logger"
	"github.com/shopspring/decimal"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// DefaultPassThreshold is used only when a template carries no threshold
const DefaultPassThreshold = 80.0

var nonAlphanumeric = regexp.MustCompile(`[^\p{L}\p{N}]+`)

// Normalize lower-cases, strips diacritics, collapses every run of
// non-alphanumerics into one space and trims.
func Normalize(text string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, strings.ToLower(text))
	if err != nil {
		stripped = strings.ToLower(text)
	}
	return strings.TrimSpace(nonAlphanumeric.ReplaceAllString(stripped, " "))
}

// Evaluator scores answers. It holds nothing but its stop-word set.
type Evaluator struct {
	stopWords StopWords
}

func NewEvaluator(stopWords StopWords) *Evaluator {
	if stopWords == nil {
		stopWords = DefaultStopWords()
	}
	return &Evaluator{stopWords: stopWords}
}

// Keywords returns the distinct tokens of length >= 2 that are not stop words
func (e *Evaluator) Keywords(text string) map[string]struct{} {
	keywords := make(map[string]struct{})
	for _, token := range strings.Fields(Normalize(text)) {
		if utf8.RuneCountInString(token) < 2 || e.stopWords.Contains(token) {
			continue
		}
		keywords[token] = struct{}{}
	}
	return keywords
}

// MatchPercent is the share of official keywords present in the user text, 0-100 with 2 decimals
func (e *Evaluator) MatchPercent(userText, officialText string) float64 {
	if strings.TrimSpace(userText) == "" || strings.TrimSpace(officialText) == "" {
		return 0
	}
	official := e.Keywords(officialText)
	if len(official) == 0 {
		return 0
	}
	user := e.Keywords(userText)
	hits := 0
	for k := range official {
		if _, ok := user[k]; ok {
			hits++
		}
	}
	pct, _ := decimal.NewFromInt(int64(hits) * 100).
		Div(decimal.NewFromInt(int64(len(official)))).
		Round(2).
		Float64()
	return pct
}

// EvaluateSingleChoice requires exactly one selection, flagged correct
func (e *Evaluator) EvaluateSingleChoice(q domain.Question, selectedIDs []string) bool {
	if len(selectedIDs) != 1 {
		return false
	}
	for _, o := range q.Options {
		if o.ID == selectedIDs[0] {
			return o.IsCorrect
		}
	}
	return false
}

// EvaluateMultiChoice requires the selected set to equal the correct set exactly
func (e *Evaluator) EvaluateMultiChoice(q domain.Question, selectedIDs []string) bool {
	correct := make(map[string]struct{})
	for _, id := range q.CorrectOptionIDs() {
		correct[id] = struct{}{}
	}
	if len(correct) == 0 {
		return false
	}
	selected := make(map[string]struct{}, len(selectedIDs))
	for _, id := range selectedIDs {
		selected[id] = struct{}{}
	}
	if len(selected) != len(correct) {
		return false
	}
	for id := range selected {
		if _, ok := correct[id]; !ok {
			return false
		}
	}
	return true
}

// EvaluateWritten returns the match percent and whether it reaches threshold.
// A question without an official answer fails closed.
func (e *Evaluator) EvaluateWritten(q domain.Question, userText string, threshold float64) (float64, bool) {
	if strings.TrimSpace(q.OfficialAnswer) == "" {
		return 0, false
	}
	pct := e.MatchPercent(userText, q.OfficialAnswer)
	return pct, pct >= threshold
}

// Evaluate is the one dispatcher shared by immediate (practice) and deferred
// (interview) evaluation. It fills the answer's result fields in place.
func (e *Evaluator) Evaluate(q domain.Question, a *domain.Answer, threshold float64, at time.Time) bool {
	if threshold <= 0 {
		threshold = DefaultPassThreshold
	}
	var correct bool
	a.MatchPercent = nil
	switch q.Type {
	case domain.QuestionSingleChoice:
		if len(q.CorrectOptionIDs()) != 1 {
			logger.Warn("[DATA] single choice question without exactly one correct option | question: %s", q.ID)
		}
		correct = e.EvaluateSingleChoice(q, a.SelectedOptionIDs)
	case domain.QuestionMultiChoice:
		if len(q.CorrectOptionIDs()) == 0 {
			logger.Warn("[DATA] multi choice question without correct options | question: %s", q.ID)
		}
		correct = e.EvaluateMultiChoice(q, a.SelectedOptionIDs)
	case domain.QuestionWritten:
		if strings.TrimSpace(q.OfficialAnswer) == "" {
			logger.Warn("[DATA] written question without official answer | question: %s", q.ID)
		}
		var pct float64
		pct, correct = e.EvaluateWritten(q, a.Text, threshold)
		a.MatchPercent = &pct
	default:
		logger.Warn("[DATA] unknown question type %q | question: %s", q.Type, q.ID)
	}
	a.IsCorrect = &correct
	evaluatedAt := at
	a.EvaluatedAt = &evaluatedAt
	return correct
}
