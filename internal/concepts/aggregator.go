// Package concepts turns per-question correctness into concept-level
// strengths and weaknesses.
package concepts

import "go-omr-marker/pkg/models"

// DefaultThreshold is the percentage at or above which a concept is done well.
const DefaultThreshold = 51.0

// Score is the outcome of one concept.
type Score struct {
	Subject string  `json:"subject"`
	Concept string  `json:"concept"`
	Correct int     `json:"correct"`
	Total   int     `json:"total"`
	Percent float64 `json:"percent"`
}

// Aggregator classifies concepts against a percentage threshold.
type Aggregator struct {
	threshold float64
}

// NewAggregator creates an aggregator. A non-positive threshold uses DefaultThreshold.
func NewAggregator(threshold float64) *Aggregator {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Aggregator{threshold: threshold}
}

// Threshold returns the configured percentage
func (a *Aggregator) Threshold() float64 {
	return a.threshold
}

// Aggregate buckets every non-empty concept of cm into done_well or
// needs_improvement. Questions without a result count as incorrect, so a
// subject with no results at all lands entirely in needs_improvement.
// Subjects and concepts keep the order of cm.
func (a *Aggregator) Aggregate(bySubject map[string]map[string]bool, cm models.ConceptMap) models.StrengthsWeaknesses {
	out := make(models.StrengthsWeaknesses, 0, len(cm))
	for _, sc := range cm {
		entry := models.SubjectStrengths{
			Subject:          sc.Subject,
			DoneWell:         []string{},
			NeedsImprovement: []string{},
		}
		for _, score := range a.scoreSubject(sc, bySubject[sc.Subject]) {
			if score.Percent >= a.threshold {
				entry.DoneWell = append(entry.DoneWell, score.Concept)
			} else {
				entry.NeedsImprovement = append(entry.NeedsImprovement, score.Concept)
			}
		}
		out = append(out, entry)
	}
	return out
}

// Scores reports the percentage of every non-empty concept in map order.
func (a *Aggregator) Scores(bySubject map[string]map[string]bool, cm models.ConceptMap) []Score {
	var scores []Score
	for _, sc := range cm {
		scores = append(scores, a.scoreSubject(sc, bySubject[sc.Subject])...)
	}
	return scores
}

func (a *Aggregator) scoreSubject(sc models.SubjectConcepts, results map[string]bool) []Score {
	scores := make([]Score, 0, len(sc.Concepts))
	for _, c := range sc.Concepts {
		if len(c.Questions) == 0 {
			continue
		}
		correct := 0
		for _, id := range c.Questions {
			if results[id] {
				correct++
			}
		}
		scores = append(scores, Score{
			Subject: sc.Subject,
			Concept: c.Name,
			Correct: correct,
			Total:   len(c.Questions),
			Percent: Percent(correct, len(c.Questions)),
		})
	}
	return scores
}

// Aggregate classifies with the given threshold.
func Aggregate(bySubject map[string]map[string]bool, cm models.ConceptMap, threshold float64) models.StrengthsWeaknesses {
	return NewAggregator(threshold).Aggregate(bySubject, cm)
}

// Percent returns 100*correct/total, or 0 for an empty total.
func Percent(correct, total int) float64 {
	if total <= 0 {
		return 0
	}
	return 100.0 * float64(correct) / float64(total)
}
