package results

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mcdev12/classpoll/go/internal/models"
)

func question(answers ...models.Answer) *models.Question {
	return &models.Question{
		ID:      "q1",
		Text:    "Favorite color?",
		Options: []string{"red", "green", "blue"},
		Answers: answers,
	}
}

func TestCompute(t *testing.T) {
	t.Run("tallies per option against roster size", func(t *testing.T) {
		q := question(
			models.Answer{StudentName: "Alice", SelectedOption: 0},
			models.Answer{StudentName: "Bob", SelectedOption: 0},
			models.Answer{StudentName: "Cara", SelectedOption: 2},
		)

		res := Compute(q, 4)

		assert.Equal(t, 3, res.TotalResponses)
		assert.Equal(t, 4, res.TotalParticipants)

		assert.Equal(t, 2, res.Results[0].Count)
		assert.Equal(t, 50, res.Results[0].Percentage)
		assert.Equal(t, []string{"Alice", "Bob"}, res.Results[0].Students)

		assert.Equal(t, 0, res.Results[1].Count)
		assert.Equal(t, 0, res.Results[1].Percentage)
		assert.Empty(t, res.Results[1].Students)

		assert.Equal(t, 1, res.Results[2].Count)
		assert.Equal(t, 25, res.Results[2].Percentage)
	})

	t.Run("rounds to nearest integer", func(t *testing.T) {
		q := question(
			models.Answer{StudentName: "Alice", SelectedOption: 1},
		)

		// 1 of 3 = 33.33 -> 33
		res := Compute(q, 3)
		assert.Equal(t, 33, res.Results[1].Percentage)

		// 2 of 3 = 66.67 -> 67
		q.Answers = append(q.Answers, models.Answer{StudentName: "Bob", SelectedOption: 1})
		res = Compute(q, 3)
		assert.Equal(t, 67, res.Results[1].Percentage)
	})

	t.Run("empty roster yields zero percentages", func(t *testing.T) {
		res := Compute(question(), 0)

		assert.Equal(t, 0, res.TotalResponses)
		for _, r := range res.Results {
			assert.Equal(t, 0, r.Percentage)
		}
	})

	t.Run("ignores answers pointing at removed options", func(t *testing.T) {
		q := question(
			models.Answer{StudentName: "Alice", SelectedOption: 7},
		)

		res := Compute(q, 1)
		for _, r := range res.Results {
			assert.Equal(t, 0, r.Count)
		}
	})
}
