package service

import (
	"fmt"

	"github.com/luisreales/techprep-sub000/internal/domain"
	"github.com/luisreales/techprep-sub000/internal/logger"
)

// EligibilityCalculator turns selection criteria into a guaranteed-available question count
type EligibilityCalculator struct {
	counter domain.QuestionCounter
}

func NewEligibilityCalculator(counter domain.QuestionCounter) *EligibilityCalculator {
	return &EligibilityCalculator{counter: counter}
}

// ParseLevels parses level tokens, dropping unparseable ones and duplicates
func ParseLevels(tokens []string) []domain.Level {
	seen := make(map[domain.Level]bool, len(tokens))
	levels := make([]domain.Level, 0, len(tokens))
	for _, token := range tokens {
		l, err := domain.ParseLevel(token)
		if err != nil {
			logger.Debug("Eligibility: dropping level token %q: %v", token, err)
			continue
		}
		if seen[l] {
			continue
		}
		seen[l] = true
		levels = append(levels, l)
	}
	return levels
}

func dedupe(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

// Calculate returns the sum over question types of min(requested, available)
func (c *EligibilityCalculator) Calculate(criteria domain.SelectionCriteria, kind domain.TemplateKind) (int, error) {
	total := 0
	for _, qt := range domain.QuestionTypes {
		requested := criteria.Requested(qt)
		if requested <= 0 {
			continue
		}
		available, err := c.Available(criteria, kind, qt)
		if err != nil {
			return 0, err
		}
		total += min(requested, available)
	}
	return total, nil
}

// Available sums the oracle over the topic x level cross product for one question type.
// Empty filters collapse into a single "any" bucket.
func (c *EligibilityCalculator) Available(criteria domain.SelectionCriteria, kind domain.TemplateKind, qt domain.QuestionType) (int, error) {
	topics := make([]*string, 0, len(criteria.TopicIDs))
	for _, id := range dedupe(criteria.TopicIDs) {
		topics = append(topics, &id)
	}
	if len(topics) == 0 {
		topics = append(topics, nil)
	}

	levels := make([]*domain.Level, 0, len(criteria.Levels))
	for _, l := range ParseLevels(criteria.Levels) {
		levels = append(levels, &l)
	}
	if len(levels) == 0 {
		levels = append(levels, nil)
	}

	usable := true
	available := 0
	for _, topic := range topics {
		for _, level := range levels {
			filter := domain.QuestionFilter{TopicID: topic, Type: qt, Level: level}
			if kind == domain.KindInterview {
				filter.UsableInInterview = &usable
				filter.EnforceCooldown = true
			} else {
				filter.UsableInPractice = &usable
			}
			n, err := c.counter.Count(filter)
			if err != nil {
				return 0, fmt.Errorf("count %s questions: %w", qt, err)
			}
			available += n
		}
	}
	return available, nil
}
