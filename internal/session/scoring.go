package session

import (
	"math"
	"sort"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-evaluation/internal/model"
)

// Scorecard is the outcome of grading a set of answers.
type Scorecard struct {
	CorrectCount   int
	AnsweredCount  int
	TotalQuestions int
	OverallPercent int
	Categories     []model.CategoryScore
}

// Score grades answers against questions. A question is correct only when the
// selected set equals the correct set exactly; partial selections and
// unanswered questions score zero but stay in the denominator. Categories are
// reported in order of first appearance.
func Score(questions []model.Question, answers map[uuid.UUID]model.AnswerState) Scorecard {
	card := Scorecard{TotalQuestions: len(questions)}

	byCategory := make(map[string]*model.CategoryScore)
	var order []string

	for i := range questions {
		q := &questions[i]
		cat, ok := byCategory[q.Category]
		if !ok {
			cat = &model.CategoryScore{Category: q.Category}
			byCategory[q.Category] = cat
			order = append(order, q.Category)
		}
		cat.TotalCount++

		ans := answers[q.ID]
		if ans.Answered() {
			card.AnsweredCount++
		}
		if sameSet(ans.SelectedOptionIndices, q.CorrectOptionIndices) {
			card.CorrectCount++
			cat.CorrectCount++
		}
	}

	card.OverallPercent = percent(card.CorrectCount, card.TotalQuestions)
	card.Categories = make([]model.CategoryScore, 0, len(order))
	for _, name := range order {
		cat := byCategory[name]
		cat.Percent = percent(cat.CorrectCount, cat.TotalCount)
		card.Categories = append(card.Categories, *cat)
	}
	return card
}

// IsCorrect reports whether selected exactly matches the question's key.
func IsCorrect(q *model.Question, selected []int) bool {
	return sameSet(selected, q.CorrectOptionIndices)
}

func percent(part, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(100 * float64(part) / float64(total)))
}

func sameSet(a, b []int) bool {
	a, b = normalize(a), normalize(b)
	if len(a) == 0 || len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// normalize returns a sorted, de-duplicated copy.
func normalize(in []int) []int {
	if len(in) == 0 {
		return nil
	}
	out := make([]int, len(in))
	copy(out, in)
	sort.Ints(out)
	j := 0
	for i := 1; i < len(out); i++ {
		if out[i] != out[j] {
			j++
			out[j] = out[i]
		}
	}
	return out[:j+1]
}
