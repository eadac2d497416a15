package model

// swagger:model DetailedResult
type DetailedResult struct {
	QuestionID      int64   `json:"question_id"`
	QuestionText    string  `json:"question_text,omitempty"`
	SelectedChoices []int64 `json:"selected_choices"`
	CorrectChoices  []int64 `json:"correct_choices"`
	IsCorrect       bool    `json:"is_correct"`
	Explanation     string  `json:"explanation,omitempty"`
}

func (d DetailedResult) Answered() bool {
	return len(d.SelectedChoices) > 0
}

// swagger:model ExamResult
type ExamResult struct {
	ID              FlexID           `json:"id"`
	AttemptID       FlexID           `json:"attempt_id,omitempty"`
	User            int64            `json:"user,omitempty"`
	Username        string           `json:"username,omitempty"`
	ExamSet         int64            `json:"exam_set,omitempty"`
	ExamSetTitle    string           `json:"exam_set_title,omitempty"`
	Score           float64          `json:"score"`
	TotalPoints     float64          `json:"total_points"`
	ScorePercentage float64          `json:"score_percentage"`
	IsPassed        bool             `json:"is_passed"`
	TimeTaken       string           `json:"time_taken,omitempty"`
	CreatedAt       Timestamp        `json:"created_at"`
	DetailedResults []DetailedResult `json:"detailed_results,omitempty"`
}
