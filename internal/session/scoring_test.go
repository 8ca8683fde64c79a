package session

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-evaluation/internal/model"
)

func TestScoreExactMatchFixture(t *testing.T) {
	q1 := newQuestion("arithmetic", []string{"1", "2", "3"}, []int{1}, false)
	q2 := newQuestion("arithmetic", []string{"1", "2", "3"}, []int{0}, false)
	q3 := newQuestion("science", []string{"h", "he", "li", "be"}, []int{0, 2}, true)
	q4 := newQuestion("science", []string{"h", "he", "li", "be"}, []int{1, 3}, true)
	questions := []model.Question{q1, q2, q3, q4}

	answers := map[uuid.UUID]model.AnswerState{
		q1.ID: {SelectedOptionIndices: []int{1}},
		q2.ID: {SelectedOptionIndices: []int{2}},
		q3.ID: {SelectedOptionIndices: []int{2, 0}},
		q4.ID: {SelectedOptionIndices: []int{3}},
	}

	card := Score(questions, answers)

	if card.OverallPercent != 50 {
		t.Errorf("overall = %d, want 50", card.OverallPercent)
	}
	if card.CorrectCount != 2 || card.TotalQuestions != 4 || card.AnsweredCount != 4 {
		t.Errorf("counts = %+v", card)
	}

	total := 0
	for _, c := range card.Categories {
		total += c.TotalCount
	}
	if total != card.TotalQuestions {
		t.Errorf("category totals sum to %d, want %d", total, card.TotalQuestions)
	}

	want := []model.CategoryScore{
		{Category: "arithmetic", CorrectCount: 1, TotalCount: 2, Percent: 50},
		{Category: "science", CorrectCount: 1, TotalCount: 2, Percent: 50},
	}
	if len(card.Categories) != len(want) {
		t.Fatalf("categories = %+v", card.Categories)
	}
	for i := range want {
		if card.Categories[i] != want[i] {
			t.Errorf("category %d = %+v, want %+v", i, card.Categories[i], want[i])
		}
	}
}

func TestScoreUnansweredCountsAsWrong(t *testing.T) {
	q1 := newQuestion("a", []string{"x", "y"}, []int{0}, false)
	q2 := newQuestion("a", []string{"x", "y"}, []int{1}, false)
	q3 := newQuestion("b", []string{"x", "y", "z"}, []int{0, 1}, true)

	answers := map[uuid.UUID]model.AnswerState{
		q1.ID: {SelectedOptionIndices: []int{0}},
		q2.ID: {},
	}

	card := Score([]model.Question{q1, q2, q3}, answers)

	if card.TotalQuestions != 3 {
		t.Errorf("total = %d, want 3", card.TotalQuestions)
	}
	if card.CorrectCount != 1 {
		t.Errorf("correct = %d, want 1", card.CorrectCount)
	}
	if card.AnsweredCount != 1 {
		t.Errorf("answered = %d, want 1", card.AnsweredCount)
	}
	if card.OverallPercent != 33 {
		t.Errorf("overall = %d, want 33", card.OverallPercent)
	}
}

func TestScoreRounding(t *testing.T) {
	tests := []struct {
		correct, total, want int
	}{
		{0, 1, 0},
		{1, 3, 33},
		{2, 3, 67},
		{1, 8, 13},
		{5, 8, 63},
		{7, 7, 100},
		{0, 0, 0},
	}
	for _, tt := range tests {
		if got := percent(tt.correct, tt.total); got != tt.want {
			t.Errorf("percent(%d, %d) = %d, want %d", tt.correct, tt.total, got, tt.want)
		}
	}
}

func TestIsCorrect(t *testing.T) {
	multi := newQuestion("m", []string{"a", "b", "c", "d"}, []int{1, 3}, true)
	single := newQuestion("s", []string{"a", "b"}, []int{0}, false)

	tests := []struct {
		name     string
		q        *model.Question
		selected []int
		want     bool
	}{
		{"single match", &single, []int{0}, true},
		{"single miss", &single, []int{1}, false},
		{"single empty", &single, nil, false},
		{"multi exact", &multi, []int{3, 1}, true},
		{"multi subset", &multi, []int{1}, false},
		{"multi superset", &multi, []int{1, 2, 3}, false},
		{"multi duplicates", &multi, []int{1, 1, 3}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsCorrect(tt.q, tt.selected); got != tt.want {
				t.Errorf("IsCorrect(%v) = %v, want %v", tt.selected, got, tt.want)
			}
		})
	}
}
