package app

import (
	"strings"

	"examroom-service/internal/domain"
)

// scoreAnswer validates the answer against the question and returns (correct, points).
func scoreAnswer(question domain.Question, answer domain.Answer) (bool, int, error) {
	points := question.Points
	if points == 0 {
		points = 1
	}

	if len(question.Options) > 0 {
		var selected *domain.Option
		for i := range question.Options {
			if question.Options[i].ID == answer.OptionID {
				selected = &question.Options[i]
				break
			}
		}
		if selected == nil {
			return false, 0, domain.ErrOptionNotFound
		}
		if selected.Correct {
			return true, points, nil
		}
		return false, 0, nil
	}

	given := strings.TrimSpace(answer.Text)
	if given == "" {
		return false, 0, nil
	}
	for _, accepted := range question.AcceptedAnswers {
		if strings.EqualFold(strings.TrimSpace(accepted), given) {
			return true, points, nil
		}
	}
	return false, 0, nil
}
