package model

import "sort"

// AnswerMap maps a question id to the single selected choice id.
type AnswerMap map[int64]int64

func (m AnswerMap) Clone() AnswerMap {
	out := make(AnswerMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Overlay copies every entry of src into m; src wins on collision.
func (m AnswerMap) Overlay(src AnswerMap) AnswerMap {
	for k, v := range src {
		m[k] = v
	}
	return m
}

// QuestionIDs returns the keys in ascending order.
func (m AnswerMap) QuestionIDs() []int64 {
	ids := make([]int64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Payloads converts the map to the save-answer wire format, ordered by question id.
func (m AnswerMap) Payloads() []AnswerPayload {
	out := make([]AnswerPayload, 0, len(m))
	for _, id := range m.QuestionIDs() {
		out = append(out, AnswerPayload{QuestionID: id, SelectedChoices: []int64{m[id]}})
	}
	return out
}

// swagger:model AnswerPayload
type AnswerPayload struct {
	QuestionID      int64   `json:"question_id"`
	SelectedChoices []int64 `json:"selected_choices"`
}

type SaveAnswersRequest struct {
	Answers []AnswerPayload `json:"answers"`
}

// SaveOutcome is the settlement of one answer inside a batch save.
type SaveOutcome struct {
	QuestionID int64
	Err        error
}

func (o SaveOutcome) Fulfilled() bool {
	return o.Err == nil
}

// CountSettled returns how many outcomes were fulfilled and rejected.
func CountSettled(outcomes []SaveOutcome) (fulfilled, rejected int) {
	for _, o := range outcomes {
		if o.Fulfilled() {
			fulfilled++
		} else {
			rejected++
		}
	}
	return fulfilled, rejected
}
