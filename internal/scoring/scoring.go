// Package scoring compares detected answers against an answer key.
package scoring

import "go-omr-marker/pkg/models"

// MarkSection scores detected answers against key. Every key id gets a
// result; a missing or blank detection is incorrect and detections for ids
// outside the key are ignored. Total always equals len(key).
func MarkSection(detected models.DetectionResult, key models.AnswerKey) models.SectionResult {
	result := models.SectionResult{
		Answers: make(models.DetectionResult, len(detected)),
		Results: make(map[string]bool, len(key)),
		Total:   len(key),
	}
	for id, letter := range detected {
		result.Answers[id] = letter
	}

	for id, want := range key {
		got, ok := detected[id]
		correct := ok && got.IsOption() && got == want
		result.Results[id] = correct
		if correct {
			result.Correct++
		}
	}
	return result
}

// Incorrect lists the ids of incorrect answers in numeric order.
func Incorrect(section models.SectionResult) []string {
	var ids []string
	for id, ok := range section.Results {
		if !ok {
			ids = append(ids, id)
		}
	}
	models.SortQuestionIDs(ids)
	return ids
}
