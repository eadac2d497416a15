package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"geosewa_exam/internal/model"
	"geosewa_exam/internal/util"
)

func attemptPath(attemptID, suffix string) string {
	return "exams/attempt/" + url.PathEscape(attemptID) + "/" + suffix
}

func (c *Client) ListExamSets(ctx context.Context) ([]model.ExamSet, error) {
	var sets []model.ExamSet
	err := c.do(ctx, request{op: "list_exam_sets", method: http.MethodGet, path: "exams/sets/"}, &sets)
	return sets, err
}

func (c *Client) GetExamSet(ctx context.Context, id int64) (*model.ExamSet, error) {
	var set model.ExamSet
	path := "exams/sets/" + strconv.FormatInt(id, 10) + "/"
	if err := c.do(ctx, request{op: "get_exam_set", method: http.MethodGet, path: path}, &set); err != nil {
		return nil, err
	}
	return &set, nil
}

// StartAttempt creates a new attempt. A 400 from this endpoint means the
// user has used up their attempts for the set.
func (c *Client) StartAttempt(ctx context.Context, examSetID int64) (*model.AttemptHandle, error) {
	var raw map[string]json.RawMessage
	path := "exams/sets/" + strconv.FormatInt(examSetID, 10) + "/start/"
	err := c.do(ctx, request{op: "start_attempt", method: http.MethodPost, path: path, auth: true}, &raw)
	if err != nil {
		if util.StatusOf(err) == http.StatusBadRequest {
			return nil, fmt.Errorf("%w: %w", util.ErrAttemptLimitExceeded, err)
		}
		return nil, err
	}
	id, ok := attemptIDFrom(raw)
	if !ok {
		return nil, fmt.Errorf("%w: start attempt response carries no attempt id", util.ErrInvalidResponse)
	}
	return &model.AttemptHandle{AttemptID: id}, nil
}

// attemptIDFrom picks the handle out of attempt_id, id or attempt, in that
// order. attempt may itself be an object with an id.
func attemptIDFrom(raw map[string]json.RawMessage) (string, bool) {
	for _, key := range []string{"attempt_id", "id", "attempt"} {
		v, ok := raw[key]
		if !ok {
			continue
		}
		if id, ok := scalarID(v); ok {
			return id, true
		}
		if key == "attempt" {
			var nested map[string]json.RawMessage
			if json.Unmarshal(v, &nested) == nil {
				if id, ok := scalarID(nested["id"]); ok {
					return id, true
				}
			}
		}
	}
	return "", false
}

func scalarID(v json.RawMessage) (string, bool) {
	if len(v) == 0 {
		return "", false
	}
	var id model.FlexID
	if err := json.Unmarshal(v, &id); err != nil || id == "" {
		return "", false
	}
	return id.String(), true
}

type attemptBody struct {
	Questions       []model.Question `json:"questions"`
	EndTime         *string          `json:"end_time"`
	DurationMinutes json.RawMessage  `json:"duration_minutes"`
	SavedAnswers    json.RawMessage  `json:"saved_answers"`
}

// GetAttempt loads an attempt and normalizes it: timestamps parsed, saved
// answers reduced to an AnswerMap, image references made absolute.
func (c *Client) GetAttempt(ctx context.Context, attemptID string) (*model.AttemptDetail, error) {
	var body attemptBody
	err := c.do(ctx, request{op: "get_attempt", method: http.MethodGet, path: attemptPath(attemptID, ""), auth: true}, &body)
	if err != nil {
		if errors.Is(err, util.ErrNotFound) {
			return nil, fmt.Errorf("%w: %w", util.ErrAttemptNotFound, err)
		}
		return nil, err
	}

	detail := &model.AttemptDetail{Questions: body.Questions}
	if body.EndTime != nil && strings.TrimSpace(*body.EndTime) != "" {
		end, err := model.ParseTimestamp(*body.EndTime)
		if err != nil {
			return nil, fmt.Errorf("%w: end_time: %v", util.ErrInvalidResponse, err)
		}
		detail.EndTime = &end
	}
	if d, ok := parseMinutes(body.DurationMinutes); ok {
		detail.Duration = d
	}
	saved, err := parseSavedAnswers(body.SavedAnswers)
	if err != nil {
		return nil, fmt.Errorf("%w: saved_answers: %v", util.ErrInvalidResponse, err)
	}
	detail.SavedAnswers = saved

	c.resolveImages(detail.Questions)
	sortByOrder(detail.Questions)
	return detail, nil
}

// parseMinutes reads duration_minutes, which may be a number or a numeric
// string and may carry a fraction of a minute.
func parseMinutes(raw json.RawMessage) (time.Duration, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, false
	}
	var id model.FlexID
	if err := json.Unmarshal(raw, &id); err != nil {
		return 0, false
	}
	f, err := strconv.ParseFloat(id.String(), 64)
	if err != nil || f <= 0 {
		return 0, false
	}
	return time.Duration(f * float64(time.Minute)), true
}

// parseSavedAnswers accepts a list of answer payloads, a map of question id
// to choice id, or a map of question id to a list of choice ids.
func parseSavedAnswers(raw json.RawMessage) (model.AnswerMap, error) {
	out := model.AnswerMap{}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return out, nil
	}

	if raw[0] == '[' {
		var list []model.AnswerPayload
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, err
		}
		for _, p := range list {
			if len(p.SelectedChoices) > 0 {
				out[p.QuestionID] = p.SelectedChoices[0]
			}
		}
		return out, nil
	}

	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	for k, v := range m {
		qid, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("question id %q: %w", k, err)
		}
		var single int64
		if err := json.Unmarshal(v, &single); err == nil {
			out[qid] = single
			continue
		}
		var many []int64
		if err := json.Unmarshal(v, &many); err != nil {
			return nil, fmt.Errorf("question %d: %w", qid, err)
		}
		if len(many) > 0 {
			out[qid] = many[0]
		}
	}
	return out, nil
}

func (c *Client) resolveImages(questions []model.Question) {
	base := c.BaseURL()
	for i := range questions {
		q := &questions[i]
		q.Image = util.ResolveMediaURL(base, q.Image)
		for j := range q.Choices {
			q.Choices[j].Image = util.ResolveMediaURL(base, q.Choices[j].Image)
		}
	}
}

// sortByOrder applies the server's order field, but only when every question has one.
func sortByOrder(questions []model.Question) {
	for _, q := range questions {
		if q.Order == nil {
			return
		}
	}
	sort.SliceStable(questions, func(i, j int) bool { return *questions[i].Order < *questions[j].Order })
}

func (c *Client) SaveAnswer(ctx context.Context, attemptID string, answer model.AnswerPayload) error {
	return c.SaveAnswers(ctx, attemptID, []model.AnswerPayload{answer})
}

// SaveAnswers posts several answers in one request.
func (c *Client) SaveAnswers(ctx context.Context, attemptID string, answers []model.AnswerPayload) error {
	return c.do(ctx, request{
		op:     "save_answer",
		method: http.MethodPost,
		path:   attemptPath(attemptID, "save-answer/"),
		body:   model.SaveAnswersRequest{Answers: answers},
		auth:   true,
	}, nil)
}

func (c *Client) SubmitAttempt(ctx context.Context, attemptID string) error {
	return c.do(ctx, request{op: "submit_attempt", method: http.MethodPost, path: attemptPath(attemptID, "submit/"), auth: true}, nil)
}

func (c *Client) GetResult(ctx context.Context, attemptID string) (*model.ExamResult, error) {
	var res model.ExamResult
	path := "exams/exam-results/" + url.PathEscape(attemptID) + "/"
	if err := c.do(ctx, request{op: "get_result", method: http.MethodGet, path: path, auth: true}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) ListResults(ctx context.Context) ([]model.ExamResult, error) {
	var results []model.ExamResult
	err := c.do(ctx, request{op: "list_results", method: http.MethodGet, path: "exams/exam-results/", auth: true}, &results)
	return results, err
}

// ListAllResults is only allowed for superusers. date filters by day when non-zero.
func (c *Client) ListAllResults(ctx context.Context, date time.Time) ([]model.ExamResult, error) {
	var query url.Values
	if !date.IsZero() {
		query = url.Values{"date": {date.Format(util.DateFormat)}}
	}
	var results []model.ExamResult
	err := c.do(ctx, request{
		op:     "list_all_results",
		method: http.MethodGet,
		path:   "exams/exam-result/allusers/",
		query:  query,
		auth:   true,
	}, &results)
	return results, err
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
	User    struct {
		Username string `json:"username"`
	} `json:"user"`
}

func (c *Client) Login(ctx context.Context, username, password string) (*model.TokenPair, error) {
	var res loginResponse
	err := c.do(ctx, request{
		op:     "login",
		method: http.MethodPost,
		path:   "user/login/",
		body:   loginRequest{Username: username, Password: password},
	}, &res)
	if err != nil {
		return nil, err
	}
	if res.Access == "" {
		return nil, fmt.Errorf("%w: login response carries no access token", util.ErrInvalidResponse)
	}
	name := res.User.Username
	if name == "" {
		name = username
	}
	return &model.TokenPair{Access: res.Access, Refresh: res.Refresh, Username: name}, nil
}

// RefreshAccess trades a refresh token for a new access token. It never
// goes through the 401 retry path itself.
func (c *Client) RefreshAccess(ctx context.Context, refresh string) (string, error) {
	var res struct {
		Access string `json:"access"`
	}
	err := c.do(ctx, request{
		op:     "refresh_token",
		method: http.MethodPost,
		path:   "user/token/refresh/",
		body:   map[string]string{"refresh": refresh},
	}, &res)
	if err != nil {
		return "", err
	}
	if res.Access == "" {
		return "", fmt.Errorf("%w: refresh response carries no access token", util.ErrInvalidResponse)
	}
	return res.Access, nil
}
