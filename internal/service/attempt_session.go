package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"geosewa_exam/internal/model"
	"geosewa_exam/internal/repository"
	"geosewa_exam/internal/util"
	"geosewa_exam/pkg/logger"
	"geosewa_exam/pkg/monitoring"

	"go.uber.org/zap"
)

type AttemptState string

const (
	StateLoading    AttemptState = "loading"
	StateActive     AttemptState = "active"
	StateSubmitting AttemptState = "submitting"
	StateCompleted  AttemptState = "completed"
	StateFailed     AttemptState = "failed"
)

type SubmitTrigger string

const (
	TriggerManual SubmitTrigger = "manual"
	TriggerTimer  SubmitTrigger = "timer"
)

const (
	DefaultPageSize  = 10
	DefaultChunkSize = 20
)

// Viewport is told to scroll back to the first question on every page change.
type Viewport interface {
	ScrollToTop()
}

type noopViewport struct{}

func (noopViewport) ScrollToTop() {}

// Section is a numbered range of questions sharing a point value.
type Section struct {
	Name              string  `json:"name"`
	StartQuestion     int     `json:"start_question"`
	EndQuestion       int     `json:"end_question"`
	PointsPerQuestion float64 `json:"points_per_question"`
}

type CompletionHook func(ctx context.Context, attempt *AttemptSession, result *model.ExamResult)

type AttemptOptions struct {
	PageSize     int
	ChunkSize    int
	TickInterval time.Duration
	Sections     []Section
	Viewport     Viewport
	OnComplete   []CompletionHook
	Now          func() time.Time
}

// AttemptSession drives one exam attempt from loading through submission.
type AttemptSession struct {
	ID string

	api   ExamAPI
	cache *repository.AnswerCacheRepository
	opts  AttemptOptions
	timer *AttemptTimer

	mu         sync.Mutex
	state      AttemptState
	questions  []model.Question
	answers    model.AnswerMap
	deadline   time.Time
	timed      bool
	page       int
	submitting bool
	closed     bool
	result     *model.ExamResult
	message    string
	lastErr    error
	counted    bool
}

func NewAttemptSession(id string, api ExamAPI, cache *repository.AnswerCacheRepository, opts AttemptOptions) *AttemptSession {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.Viewport == nil {
		opts.Viewport = noopViewport{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &AttemptSession{
		ID:      id,
		api:     api,
		cache:   cache,
		opts:    opts,
		state:   StateLoading,
		answers: model.AnswerMap{},
		page:    1,
	}
	s.timer = NewAttemptTimer(opts.TickInterval, s.persistedDeadline, s.onExpire)
	s.timer.Now = opts.Now
	return s
}

// Load fetches the attempt, fixes its deadline, seeds the answers and starts
// the timer. Any failure leaves the attempt in Failed for good.
func (s *AttemptSession) Load(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateLoading || s.closed {
		s.mu.Unlock()
		return util.ErrAttemptNotActive
	}
	s.mu.Unlock()

	detail, err := s.api.GetAttempt(ctx, s.ID)
	if err != nil {
		s.mu.Lock()
		s.state = StateFailed
		s.message = util.LoadFailureMessage(err)
		s.lastErr = err
		s.mu.Unlock()
		logger.Log.Warn("attempt load failed", zap.String("attempt_id", s.ID), zap.Error(err))
		return err
	}

	deadline, timed := s.establishDeadline(ctx, detail)

	merged := s.cache.Load(ctx, s.ID)
	merged.Overlay(detail.SavedAnswers)
	if err := s.cache.Save(ctx, s.ID, merged); err != nil {
		logger.Log.Warn("failed to persist merged answers", zap.String("attempt_id", s.ID), zap.Error(err))
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return util.ErrAttemptClosed
	}
	s.questions = detail.Questions
	s.answers = merged
	s.deadline, s.timed = deadline, timed
	s.state = StateActive
	s.page = 1
	s.counted = true
	s.mu.Unlock()

	monitoring.ActiveAttempts.Inc()
	s.timer.Start(context.Background())

	logger.Log.Info("attempt loaded",
		zap.String("attempt_id", s.ID),
		zap.Int("questions", len(detail.Questions)),
		zap.Int("restored_answers", len(merged)),
		zap.Bool("timed", timed),
	)
	return nil
}

// establishDeadline prefers the server's end time, then a deadline persisted
// by an earlier load, then now+duration. A computed deadline is persisted
// right away so reloading never extends the exam, and a cached one is
// rewritten to renew its expiry in TTL-bound stores.
func (s *AttemptSession) establishDeadline(ctx context.Context, detail *model.AttemptDetail) (time.Time, bool) {
	if detail.EndTime != nil {
		s.saveDeadline(ctx, *detail.EndTime)
		return *detail.EndTime, true
	}
	if cached, ok := s.cache.LoadDeadline(ctx, s.ID); ok {
		s.saveDeadline(ctx, cached)
		return cached, true
	}
	if !detail.IsTimed() {
		return time.Time{}, false
	}
	deadline := s.opts.Now().Add(detail.Duration)
	s.saveDeadline(ctx, deadline)
	return deadline, true
}

func (s *AttemptSession) saveDeadline(ctx context.Context, deadline time.Time) {
	if err := s.cache.SaveDeadline(ctx, s.ID, deadline); err != nil {
		logger.Log.Warn("failed to persist deadline", zap.String("attempt_id", s.ID), zap.Error(err))
	}
}

func (s *AttemptSession) persistedDeadline() (time.Time, bool) {
	if d, ok := s.cache.LoadDeadline(context.Background(), s.ID); ok {
		return d, true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deadline, s.timed
}

func (s *AttemptSession) onExpire() {
	s.mu.Lock()
	if s.state == StateActive {
		s.message = util.MsgTimeUp
	}
	s.mu.Unlock()

	logger.Log.Info("attempt time is up", zap.String("attempt_id", s.ID))
	go func() {
		if _, err := s.Submit(context.Background(), TriggerTimer); err != nil {
			logger.Log.Warn("automatic submission did not go through", zap.String("attempt_id", s.ID), zap.Error(err))
		}
	}()
}

// Select records choiceID as the answer to questionID and writes the whole
// map to the cache before returning.
func (s *AttemptSession) Select(ctx context.Context, questionID, choiceID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return util.ErrAttemptClosed
	}
	if s.state != StateActive {
		return util.ErrAttemptNotActive
	}
	if s.timer.Expired() {
		return util.ErrTimeUp
	}
	q, ok := s.question(questionID)
	if !ok {
		return util.ErrUnknownQuestion
	}
	if !q.HasChoice(choiceID) {
		return util.ErrUnknownChoice
	}

	s.answers[questionID] = choiceID
	if err := s.cache.Save(ctx, s.ID, s.answers); err != nil {
		logger.Log.Warn("failed to persist answer", zap.String("attempt_id", s.ID), zap.Int64("question_id", questionID), zap.Error(err))
	}
	// The deadline key must outlive the answers it guards.
	if s.timed {
		s.saveDeadline(ctx, s.deadline)
	}
	return nil
}

func (s *AttemptSession) question(id int64) (model.Question, bool) {
	for _, q := range s.questions {
		if q.ID == id {
			return q, true
		}
	}
	return model.Question{}, false
}

func (s *AttemptSession) totalPages() int {
	n := (len(s.questions) + s.opts.PageSize - 1) / s.opts.PageSize
	if n < 1 {
		return 1
	}
	return n
}

// GoToPage moves to page, clamped to the valid range, and reports whether
// the page changed.
func (s *AttemptSession) GoToPage(page int) (int, bool, error) {
	s.mu.Lock()
	if s.state != StateActive && s.state != StateSubmitting {
		s.mu.Unlock()
		return 0, false, util.ErrAttemptNotActive
	}
	if total := s.totalPages(); page > total {
		page = total
	}
	if page < 1 {
		page = 1
	}
	moved := page != s.page
	s.page = page
	s.mu.Unlock()

	if moved {
		s.opts.Viewport.ScrollToTop()
	}
	return page, moved, nil
}

func (s *AttemptSession) NextPage() (int, bool, error) {
	return s.GoToPage(s.Page() + 1)
}

func (s *AttemptSession) PrevPage() (int, bool, error) {
	return s.GoToPage(s.Page() - 1)
}

func (s *AttemptSession) Page() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.page
}

// Submit flushes the reconciled answers, submits the attempt and fetches the
// result. Manual and timer triggers share one guard, so only one submission
// is ever in flight.
func (s *AttemptSession) Submit(ctx context.Context, trigger SubmitTrigger) (*model.ExamResult, error) {
	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return nil, util.ErrAttemptClosed
	case s.submitting:
		s.mu.Unlock()
		return nil, util.ErrSubmitInProgress
	case s.state != StateActive:
		s.mu.Unlock()
		return nil, util.ErrAttemptNotActive
	case trigger == TriggerManual && s.page != s.totalPages() && !s.timer.Expired():
		s.mu.Unlock()
		return nil, util.ErrSubmitUnavailable
	}
	s.submitting = true
	s.state = StateSubmitting
	inMemory := s.answers.Clone()
	s.mu.Unlock()

	// A navigation away must not abort requests already on the wire.
	ctx = context.WithoutCancel(ctx)
	log := logger.Log.With(zap.String("attempt_id", s.ID), zap.String("trigger", string(trigger)))

	answers := inMemory.Overlay(s.cache.Load(ctx, s.ID))
	if err := s.flush(ctx, answers); err != nil {
		return nil, s.failSubmit(trigger, err)
	}

	if err := s.api.SubmitAttempt(ctx, s.ID); err != nil {
		log.Warn("submit attempt failed", zap.Error(err))
		return nil, s.failSubmit(trigger, err)
	}

	result, err := s.api.GetResult(ctx, s.ID)
	if err != nil {
		log.Info("result not available after submission", zap.Error(err))
		result = nil
	}

	if err := s.cache.Clear(ctx, s.ID); err != nil {
		log.Warn("failed to clear answer cache", zap.Error(err))
	}

	s.mu.Lock()
	s.submitting = false
	s.answers = answers
	s.result = result
	s.lastErr = nil
	if result == nil {
		s.message = util.MsgSubmittedNoScore
	} else {
		s.message = ""
	}
	torn := s.closed
	if !torn {
		s.state = StateCompleted
	}
	s.mu.Unlock()

	s.release()
	monitoring.SubmissionCounter.WithLabelValues(string(trigger), "completed").Inc()
	log.Info("attempt submitted", zap.Int("answers", len(answers)), zap.Bool("has_result", result != nil))

	if torn {
		return result, nil
	}
	for _, hook := range s.opts.OnComplete {
		hook(ctx, s, result)
	}
	return result, nil
}

// flush saves answers in batches. When nothing at all gets through it falls
// back to one-by-one saves before giving up.
func (s *AttemptSession) flush(ctx context.Context, answers model.AnswerMap) error {
	if len(answers) == 0 {
		return nil
	}
	payloads := answers.Payloads()

	ok, failed := model.CountSettled(s.api.SaveAnswersBatch(ctx, s.ID, payloads, s.opts.ChunkSize))
	if ok == 0 {
		logger.Log.Warn("batch save failed for every answer, retrying one by one",
			zap.String("attempt_id", s.ID), zap.Int("answers", len(payloads)))
		ok, failed = model.CountSettled(s.api.SaveAnswersSequentially(ctx, s.ID, payloads))
		if ok == 0 {
			return fmt.Errorf("%w: %d answers", util.ErrSaveFailed, failed)
		}
	}
	if failed > 0 {
		logger.Log.Warn("some answers were not saved, submitting anyway",
			zap.String("attempt_id", s.ID), zap.Int("saved", ok), zap.Int("failed", failed))
	}
	return nil
}

func (s *AttemptSession) failSubmit(trigger SubmitTrigger, err error) error {
	s.mu.Lock()
	s.submitting = false
	if !s.closed {
		s.state = StateActive
		s.message = util.SubmitFailureMessage(err)
		s.lastErr = err
	}
	s.mu.Unlock()
	monitoring.SubmissionCounter.WithLabelValues(string(trigger), "failed").Inc()
	return err
}

// Abandon leaves the attempt for the exam list: the cache is cleared and the
// attempt torn down. The server-side attempt is not touched.
func (s *AttemptSession) Abandon(ctx context.Context) error {
	s.Close()
	return s.cache.Clear(ctx, s.ID)
}

// Close tears the attempt down without touching the cache, so it can be
// reloaded later.
func (s *AttemptSession) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	s.release()
}

func (s *AttemptSession) release() {
	s.timer.Stop()
	s.mu.Lock()
	counted := s.counted
	s.counted = false
	s.mu.Unlock()
	if counted {
		monitoring.ActiveAttempts.Dec()
	}
}

func (s *AttemptSession) State() AttemptState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *AttemptSession) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *AttemptSession) Result() *model.ExamResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

func (s *AttemptSession) Answers() model.AnswerMap {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.answers.Clone()
}

// Deadline returns the fixed deadline, or false for an untimed attempt.
func (s *AttemptSession) Deadline() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deadline, s.timed
}

func (s *AttemptSession) Remaining() (time.Duration, bool) {
	return s.timer.Remaining()
}

// AttemptView is what a client renders for the current page.
type AttemptView struct {
	AttemptID        string            `json:"attempt_id"`
	State            AttemptState      `json:"state"`
	Page             int               `json:"page"`
	TotalPages       int               `json:"total_pages"`
	PageSize         int               `json:"page_size"`
	TotalQuestions   int               `json:"total_questions"`
	FirstNumber      int               `json:"first_number"`
	Section          *Section          `json:"section,omitempty"`
	Questions        []model.Question  `json:"questions"`
	Answers          map[int64]int64   `json:"answers"`
	Answered         int               `json:"answered"`
	Timed            bool              `json:"timed"`
	RemainingSeconds int64             `json:"remaining_seconds,omitempty"`
	Expired          bool              `json:"expired"`
	CanSubmit        bool              `json:"can_submit"`
	Submitting       bool              `json:"submitting"`
	Message          string            `json:"message,omitempty"`
	Result           *model.ExamResult `json:"-"`
}

func (s *AttemptSession) View() AttemptView {
	remaining, timed := s.timer.Remaining()
	expired := s.timer.Expired()

	s.mu.Lock()
	defer s.mu.Unlock()

	total := s.totalPages()
	start := (s.page - 1) * s.opts.PageSize
	end := start + s.opts.PageSize
	if start > len(s.questions) {
		start = len(s.questions)
	}
	if end > len(s.questions) {
		end = len(s.questions)
	}

	v := AttemptView{
		AttemptID:      s.ID,
		State:          s.state,
		Page:           s.page,
		TotalPages:     total,
		PageSize:       s.opts.PageSize,
		TotalQuestions: len(s.questions),
		FirstNumber:    start + 1,
		Questions:      s.questions[start:end],
		Answers:        s.answers.Clone(),
		Answered:       len(s.answers),
		Timed:          timed || s.timed,
		Expired:        expired,
		Submitting:     s.submitting,
		Message:        s.message,
		Result:         s.result,
	}
	if timed {
		v.RemainingSeconds = int64(remaining / time.Second)
	}
	v.CanSubmit = s.state == StateActive && !s.submitting && (s.page == total || expired)
	if sec, ok := SectionFor(s.opts.Sections, start+1); ok {
		v.Section = &sec
	}
	return v
}

// SectionFor returns the section containing the 1-based question number.
func SectionFor(sections []Section, number int) (Section, bool) {
	for _, sec := range sections {
		if number >= sec.StartQuestion && number <= sec.EndQuestion {
			return sec, true
		}
	}
	return Section{}, false
}
