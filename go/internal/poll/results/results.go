// Package results computes live and final tallies for a question. The
// computation is pure: it never touches the store and is safe to run on
// open questions for live updates.
package results

import (
	"math"

	"github.com/mcdev12/classpoll/go/internal/models"
)

// OptionResult is the tally for one answer option.
type OptionResult struct {
	Option     string   `json:"option"`
	Count      int      `json:"count"`
	Percentage int      `json:"percentage"`
	Students   []string `json:"students"`
}

// QuestionResults aggregates per-option tallies for a question.
// TotalResponses and TotalParticipants are reported separately so a
// teacher client can tell partial completion apart from roster changes
// mid-question.
type QuestionResults struct {
	QuestionID        string         `json:"question_id"`
	Text              string         `json:"text"`
	Options           []string       `json:"options"`
	Results           []OptionResult `json:"results"`
	TotalResponses    int            `json:"total_responses"`
	TotalParticipants int            `json:"total_participants"`
}

// Compute tallies answers per option. Percentages are computed against the
// roster size, rounded to the nearest integer; a roster size of zero yields
// 0% for every option.
func Compute(q *models.Question, totalParticipants int) QuestionResults {
	students := make(map[int][]string, len(q.Options))

	for _, a := range q.Answers {
		if a.SelectedOption < 0 || a.SelectedOption >= len(q.Options) {
			continue
		}
		students[a.SelectedOption] = append(students[a.SelectedOption], a.StudentName)
	}

	perOption := make([]OptionResult, len(q.Options))
	for i, opt := range q.Options {
		names := students[i]
		count := len(names)

		percentage := 0
		if totalParticipants > 0 {
			percentage = int(math.Round(float64(count) / float64(totalParticipants) * 100))
		}

		perOption[i] = OptionResult{
			Option:     opt,
			Count:      count,
			Percentage: percentage,
			Students:   names,
		}
	}

	return QuestionResults{
		QuestionID:        q.ID,
		Text:              q.Text,
		Options:           q.Options,
		Results:           perOption,
		TotalResponses:    len(q.Answers),
		TotalParticipants: totalParticipants,
	}
}
