package app

import (
	"errors"
	"testing"

	"examroom-service/internal/domain"
)

func TestScoreAnswer(t *testing.T) {
	choice := domain.Question{
		ID:      "q1",
		Options: []domain.Option{{ID: "a"}, {ID: "b", Correct: true}},
		Points:  3,
	}
	text := domain.Question{ID: "q2", AcceptedAnswers: []string{"Jupiter", " Zeus "}}

	cases := []struct {
		name    string
		q       domain.Question
		answer  domain.Answer
		correct bool
		points  int
	}{
		{"correct option", choice, domain.Answer{OptionID: "b"}, true, 3},
		{"wrong option", choice, domain.Answer{OptionID: "a"}, false, 0},
		{"text ignores case", text, domain.Answer{Text: "JUPITER"}, true, 1},
		{"text trims accepted answers", text, domain.Answer{Text: "zeus"}, true, 1},
		{"wrong text", text, domain.Answer{Text: "Mars"}, false, 0},
		{"blank text", text, domain.Answer{Text: "   "}, false, 0},
	}
	for _, tc := range cases {
		correct, points, err := scoreAnswer(tc.q, tc.answer)
		if err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
		if correct != tc.correct || points != tc.points {
			t.Fatalf("%s: got (%v, %d), want (%v, %d)", tc.name, correct, points, tc.correct, tc.points)
		}
	}

	if _, _, err := scoreAnswer(choice, domain.Answer{OptionID: "z"}); !errors.Is(err, domain.ErrOptionNotFound) {
		t.Fatalf("expected ErrOptionNotFound, got %v", err)
	}
}
