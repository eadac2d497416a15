package model

import "time"

// swagger:model ExamSet
type ExamSet struct {
	ID              int64  `json:"id"`
	Title           string `json:"title"`
	Description     string `json:"description,omitempty"`
	Category        string `json:"category,omitempty"`
	Difficulty      string `json:"difficulty,omitempty"`
	Price           string `json:"price,omitempty"`
	DurationMinutes int    `json:"duration_minutes,omitempty"`
	TotalQuestions  int    `json:"total_questions,omitempty"`
}

// Choice is the pre-submission view of an option. It has no correctness
// field on purpose: nothing decoded into it can carry the answer key.
//
// swagger:model Choice
type Choice struct {
	ID    int64  `json:"id"`
	Text  string `json:"choice_text"`
	Image string `json:"choice_image,omitempty"`
}

// swagger:model Question
type Question struct {
	ID      int64    `json:"id"`
	Text    string   `json:"question_text"`
	Image   string   `json:"question_image,omitempty"`
	Choices []Choice `json:"choices"`
	Points  *float64 `json:"points,omitempty"`
	Order   *int     `json:"order,omitempty"`
}

// PointValue defaults to 1 when the server omits points.
func (q Question) PointValue() float64 {
	if q.Points == nil || *q.Points <= 0 {
		return 1
	}
	return *q.Points
}

func (q Question) HasChoice(choiceID int64) bool {
	for _, c := range q.Choices {
		if c.ID == choiceID {
			return true
		}
	}
	return false
}

// AttemptHandle is the canonical result of starting an attempt.
type AttemptHandle struct {
	AttemptID string `json:"attempt_id"`
}

// AttemptDetail is the normalized body of GET exams/attempt/{id}/.
// Untimed attempts have a nil EndTime and a zero Duration.
type AttemptDetail struct {
	Questions    []Question
	EndTime      *time.Time
	Duration     time.Duration
	SavedAnswers AnswerMap
}

func (d *AttemptDetail) IsTimed() bool {
	return d.EndTime != nil || d.Duration > 0
}
