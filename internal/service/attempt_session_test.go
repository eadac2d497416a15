package service

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"geosewa_exam/internal/model"
	"geosewa_exam/internal/repository"
	"geosewa_exam/internal/util"
)

type fakeAPI struct {
	mu sync.Mutex

	detail *model.AttemptDetail
	getErr error

	// saveErr decides the fate of each answer; nil saves everything.
	saveErr    func(questionID int64, sequential bool) error
	batchCalls int
	seqCalls   int
	lastSaved  map[int64]int64

	submitCalls   int32
	submitErr     error
	submitEntered chan struct{}
	submitGate    chan struct{}

	result    *model.ExamResult
	resultErr error

	allResults  []model.ExamResult
	allErr      error
	allCalls    int32
	ownResults  []model.ExamResult
	startHandle *model.AttemptHandle
	startErr    error
}

func (f *fakeAPI) ListExamSets(context.Context) ([]model.ExamSet, error) {
	return []model.ExamSet{{ID: 1, Title: "Geomatics"}}, nil
}

func (f *fakeAPI) GetExamSet(_ context.Context, id int64) (*model.ExamSet, error) {
	return &model.ExamSet{ID: id}, nil
}

func (f *fakeAPI) StartAttempt(context.Context, int64) (*model.AttemptHandle, error) {
	return f.startHandle, f.startErr
}

func (f *fakeAPI) GetAttempt(context.Context, string) (*model.AttemptDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	cp := *f.detail
	cp.SavedAnswers = f.detail.SavedAnswers.Clone()
	return &cp, nil
}

func (f *fakeAPI) settle(answers []model.AnswerPayload, sequential bool) []model.SaveOutcome {
	out := make([]model.SaveOutcome, len(answers))
	for i, a := range answers {
		var err error
		if f.saveErr != nil {
			err = f.saveErr(a.QuestionID, sequential)
		}
		out[i] = model.SaveOutcome{QuestionID: a.QuestionID, Err: err}
		if err == nil {
			if f.lastSaved == nil {
				f.lastSaved = map[int64]int64{}
			}
			f.lastSaved[a.QuestionID] = a.SelectedChoices[0]
		}
	}
	return out
}

func (f *fakeAPI) SaveAnswersBatch(_ context.Context, _ string, answers []model.AnswerPayload, _ int) []model.SaveOutcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batchCalls++
	return f.settle(answers, false)
}

func (f *fakeAPI) SaveAnswersSequentially(_ context.Context, _ string, answers []model.AnswerPayload) []model.SaveOutcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seqCalls++
	return f.settle(answers, true)
}

func (f *fakeAPI) SubmitAttempt(context.Context, string) error {
	atomic.AddInt32(&f.submitCalls, 1)
	if f.submitEntered != nil {
		f.submitEntered <- struct{}{}
	}
	if f.submitGate != nil {
		<-f.submitGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submitErr
}

func (f *fakeAPI) GetResult(context.Context, string) (*model.ExamResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.result, f.resultErr
}

func (f *fakeAPI) ListResults(context.Context) ([]model.ExamResult, error) {
	return f.ownResults, nil
}

func (f *fakeAPI) ListAllResults(context.Context, time.Time) ([]model.ExamResult, error) {
	atomic.AddInt32(&f.allCalls, 1)
	return f.allResults, f.allErr
}

func makeQuestions(n int) []model.Question {
	qs := make([]model.Question, n)
	for i := range qs {
		id := int64(i + 1)
		qs[i] = model.Question{
			ID:   id,
			Text: "question",
			Choices: []model.Choice{
				{ID: id*10 + 1, Text: "a"},
				{ID: id*10 + 2, Text: "b"},
			},
		}
	}
	return qs
}

type scrollCounter struct{ n int32 }

func (s *scrollCounter) ScrollToTop() { atomic.AddInt32(&s.n, 1) }

type harness struct {
	api   *fakeAPI
	cache *repository.AnswerCacheRepository
	clock *fakeClock
}

func newHarness(questions int) *harness {
	return &harness{
		api: &fakeAPI{
			detail: &model.AttemptDetail{Questions: makeQuestions(questions), SavedAnswers: model.AnswerMap{}},
			result: &model.ExamResult{ID: "r1", Score: 5, TotalPoints: 10},
		},
		cache: repository.NewAnswerCacheRepository(repository.NewMemoryStore(0)),
		clock: newFakeClock(),
	}
}

func (h *harness) open(t *testing.T, opts AttemptOptions) *AttemptSession {
	t.Helper()
	opts.Now = h.clock.Now
	if opts.TickInterval == 0 {
		opts.TickInterval = time.Hour
	}
	a := NewAttemptSession("att-1", h.api, h.cache, opts)
	if err := a.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	t.Cleanup(a.Close)
	return a
}

func goToLast(t *testing.T, a *AttemptSession) {
	t.Helper()
	if _, _, err := a.GoToPage(1 << 20); err != nil {
		t.Fatal(err)
	}
}

func TestLoad_MergesCacheAndServerAnswers(t *testing.T) {
	h := newHarness(5)
	ctx := context.Background()
	h.cache.Save(ctx, "att-1", model.AnswerMap{1: 11, 2: 21})
	h.api.detail.SavedAnswers = model.AnswerMap{2: 22, 3: 31}

	a := h.open(t, AttemptOptions{})
	got := a.Answers()
	want := model.AnswerMap{1: 11, 2: 22, 3: 31}
	if len(got) != len(want) {
		t.Fatalf("answers = %v, want %v", got, want)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("answers[%d] = %d, want %d", k, got[k], v)
		}
	}
	if cached := h.cache.Load(ctx, "att-1"); cached[2] != 22 {
		t.Errorf("merged answers not persisted: %v", cached)
	}
}

func TestReload_RestoresAnswersFromCache(t *testing.T) {
	h := newHarness(20)
	a := h.open(t, AttemptOptions{})
	ctx := context.Background()

	picks := [][2]int64{{1, 11}, {7, 72}, {13, 131}, {7, 71}}
	for _, p := range picks {
		if err := a.Select(ctx, p[0], p[1]); err != nil {
			t.Fatalf("Select(%d, %d): %v", p[0], p[1], err)
		}
	}
	before := a.Answers()
	a.Close()

	b := h.open(t, AttemptOptions{})
	after := b.Answers()
	if len(after) != len(before) {
		t.Fatalf("after reload %v, before %v", after, before)
	}
	for k, v := range before {
		if after[k] != v {
			t.Errorf("answer %d = %d after reload, want %d", k, after[k], v)
		}
	}
}

func TestDeadline_FixedAcrossReloads(t *testing.T) {
	h := newHarness(10)
	h.api.detail.Duration = 60 * time.Minute
	start := h.clock.Now()

	a := h.open(t, AttemptOptions{})
	d, timed := a.Deadline()
	if !timed || !d.Equal(start.Add(time.Hour)) {
		t.Fatalf("deadline = %v (timed %v), want %v", d, timed, start.Add(time.Hour))
	}
	a.Close()

	h.clock.Advance(10 * time.Second)
	h.api.detail.Duration = 90 * time.Minute
	b := h.open(t, AttemptOptions{})

	d2, _ := b.Deadline()
	if !d2.Equal(d) {
		t.Errorf("deadline moved on reload: %v -> %v", d, d2)
	}
	if rem, _ := b.Remaining(); rem != 3590*time.Second {
		t.Errorf("remaining = %v, want 3590s", rem)
	}
}

func TestDeadline_SurvivesCacheExpiryWhileAnswering(t *testing.T) {
	h := newHarness(10)
	h.cache = repository.NewAnswerCacheRepository(repository.NewMemoryStore(150 * time.Millisecond))
	h.api.detail.Duration = 60 * time.Minute
	ctx := context.Background()

	a := h.open(t, AttemptOptions{})
	first, _ := a.Deadline()
	for i := int64(1); i <= 4; i++ {
		time.Sleep(60 * time.Millisecond)
		if err := a.Select(ctx, i, i*10+1); err != nil {
			t.Fatalf("Select(%d): %v", i, err)
		}
	}
	a.Close()

	h.clock.Advance(30 * time.Minute)
	b := h.open(t, AttemptOptions{})
	if got := b.Answers(); len(got) != 4 {
		t.Fatalf("answers after reload = %v", got)
	}
	second, _ := b.Deadline()
	if !second.Equal(first) {
		t.Errorf("deadline moved by %v after reload", second.Sub(first))
	}
	if rem, _ := b.Remaining(); rem != 30*time.Minute {
		t.Errorf("remaining = %v, want 30m", rem)
	}
}

func TestDeadline_ServerEndTimeWins(t *testing.T) {
	h := newHarness(10)
	ctx := context.Background()
	h.cache.SaveDeadline(ctx, "att-1", h.clock.Now().Add(5*time.Minute))
	end := h.clock.Now().Add(45 * time.Minute)
	h.api.detail.EndTime = &end
	h.api.detail.Duration = 60 * time.Minute

	a := h.open(t, AttemptOptions{})
	if d, _ := a.Deadline(); !d.Equal(end) {
		t.Errorf("deadline = %v, want server end %v", d, end)
	}
	if d, ok := h.cache.LoadDeadline(ctx, "att-1"); !ok || !d.Equal(end) {
		t.Errorf("persisted deadline = %v", d)
	}
}

func TestUntimedAttempt(t *testing.T) {
	h := newHarness(3)
	a := h.open(t, AttemptOptions{})
	if _, timed := a.Deadline(); timed {
		t.Error("attempt without end_time or duration is timed")
	}
	v := a.View()
	if v.Timed || v.Expired {
		t.Errorf("view = %+v", v)
	}
}

func TestPaging_EightyQuestions(t *testing.T) {
	h := newHarness(80)
	scroll := &scrollCounter{}
	a := h.open(t, AttemptOptions{Viewport: scroll, Sections: []Section{
		{Name: "Section 1", StartQuestion: 1, EndQuestion: 60, PointsPerQuestion: 1},
		{Name: "Section 2", StartQuestion: 61, EndQuestion: 80, PointsPerQuestion: 2},
	}})

	v := a.View()
	if v.TotalPages != 8 || len(v.Questions) != 10 || v.CanSubmit {
		t.Fatalf("first page view = pages %d, questions %d, can submit %v", v.TotalPages, len(v.Questions), v.CanSubmit)
	}
	if _, err := a.Submit(context.Background(), TriggerManual); !errors.Is(err, util.ErrSubmitUnavailable) {
		t.Errorf("submit on page 1: %v", err)
	}

	if p, _, _ := a.GoToPage(0); p != 1 {
		t.Errorf("GoToPage(0) = %d", p)
	}
	if p, moved, _ := a.GoToPage(12); p != 8 || !moved {
		t.Errorf("GoToPage(12) = %d, %v", p, moved)
	}
	if p, moved, _ := a.NextPage(); p != 8 || moved {
		t.Errorf("Next on last page = %d, %v", p, moved)
	}
	if n := atomic.LoadInt32(&scroll.n); n != 1 {
		t.Errorf("scrolled %d times, want 1", n)
	}

	v = a.View()
	if !v.CanSubmit || v.FirstNumber != 71 || v.Section == nil || v.Section.Name != "Section 2" {
		t.Errorf("last page view = %+v", v)
	}
	if _, _, err := a.PrevPage(); err != nil {
		t.Fatal(err)
	}
	if v := a.View(); v.Section.Name != "Section 2" || v.FirstNumber != 61 {
		t.Errorf("page 7 section = %+v", v.Section)
	}
}

func TestSelect_Validation(t *testing.T) {
	h := newHarness(2)
	a := h.open(t, AttemptOptions{})
	ctx := context.Background()

	if err := a.Select(ctx, 99, 1); !errors.Is(err, util.ErrUnknownQuestion) {
		t.Errorf("unknown question: %v", err)
	}
	if err := a.Select(ctx, 1, 21); !errors.Is(err, util.ErrUnknownChoice) {
		t.Errorf("foreign choice: %v", err)
	}
	if err := a.Select(ctx, 1, 12); err != nil {
		t.Fatal(err)
	}
	if cached := h.cache.Load(ctx, "att-1"); cached[1] != 12 {
		t.Errorf("selection not in cache: %v", cached)
	}
}

func TestSubmit_PartialSaveStillSubmits(t *testing.T) {
	h := newHarness(10)
	a := h.open(t, AttemptOptions{})
	ctx := context.Background()
	for q := int64(1); q <= 10; q++ {
		a.Select(ctx, q, q*10+1)
	}
	h.api.saveErr = func(q int64, _ bool) error {
		if q <= 4 {
			return errors.New("boom")
		}
		return nil
	}

	goToLast(t, a)
	if _, err := a.Submit(ctx, TriggerManual); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if h.api.seqCalls != 0 {
		t.Errorf("sequential fallback used on partial success")
	}
	if atomic.LoadInt32(&h.api.submitCalls) != 1 {
		t.Errorf("submit calls = %d", h.api.submitCalls)
	}
	if a.State() != StateCompleted {
		t.Errorf("state = %s", a.State())
	}
	if cached := h.cache.Load(ctx, "att-1"); len(cached) != 0 {
		t.Errorf("cache not cleared: %v", cached)
	}
}

func TestSubmit_FallsBackToSequentialSaves(t *testing.T) {
	h := newHarness(10)
	a := h.open(t, AttemptOptions{})
	ctx := context.Background()
	for q := int64(1); q <= 10; q++ {
		a.Select(ctx, q, q*10+2)
	}
	h.api.saveErr = func(q int64, sequential bool) error {
		if !sequential {
			return errors.New("batch endpoint down")
		}
		return nil
	}

	goToLast(t, a)
	if _, err := a.Submit(ctx, TriggerManual); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if h.api.batchCalls != 1 || h.api.seqCalls != 1 {
		t.Errorf("batch calls %d, sequential calls %d", h.api.batchCalls, h.api.seqCalls)
	}
	if atomic.LoadInt32(&h.api.submitCalls) != 1 {
		t.Error("attempt not submitted after fallback")
	}
}

func TestSubmit_TotalSaveFailureReturnsToActive(t *testing.T) {
	h := newHarness(10)
	a := h.open(t, AttemptOptions{})
	ctx := context.Background()
	for q := int64(1); q <= 10; q++ {
		a.Select(ctx, q, q*10+1)
	}
	h.api.saveErr = func(int64, bool) error { return errors.New("down") }

	goToLast(t, a)
	_, err := a.Submit(ctx, TriggerManual)
	if !errors.Is(err, util.ErrSaveFailed) {
		t.Fatalf("err = %v, want ErrSaveFailed", err)
	}
	if h.api.seqCalls != 1 {
		t.Errorf("sequential fallback not tried")
	}
	if atomic.LoadInt32(&h.api.submitCalls) != 0 {
		t.Error("submitAttempt called without any saved answer")
	}
	if a.State() != StateActive || a.View().Message != util.MsgSaveFailed {
		t.Errorf("state %s, message %q", a.State(), a.View().Message)
	}
	if cached := h.cache.Load(ctx, "att-1"); len(cached) != 10 {
		t.Errorf("cache lost answers: %v", cached)
	}

	h.api.saveErr = nil
	if _, err := a.Submit(ctx, TriggerManual); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if a.State() != StateCompleted {
		t.Errorf("state after retry = %s", a.State())
	}
}

func TestSubmit_EmptyAnswerSetSubmits(t *testing.T) {
	h := newHarness(3)
	a := h.open(t, AttemptOptions{})
	if _, err := a.Submit(context.Background(), TriggerManual); err != nil {
		t.Fatal(err)
	}
	if h.api.batchCalls != 0 || h.api.seqCalls != 0 {
		t.Error("saves issued for an empty answer set")
	}
}

func TestSubmit_SubmitFailureIsRetryable(t *testing.T) {
	h := newHarness(3)
	a := h.open(t, AttemptOptions{})
	h.api.submitErr = &util.APIError{Status: http.StatusInternalServerError}

	if _, err := a.Submit(context.Background(), TriggerManual); err == nil {
		t.Fatal("expected error")
	}
	if a.State() != StateActive || a.View().Message != util.MsgSubmitFailed {
		t.Errorf("state %s, message %q", a.State(), a.View().Message)
	}

	h.api.submitErr = nil
	if _, err := a.Submit(context.Background(), TriggerManual); err != nil {
		t.Fatal(err)
	}
	if _, err := a.Submit(context.Background(), TriggerManual); !errors.Is(err, util.ErrAttemptNotActive) {
		t.Errorf("submit after completion: %v", err)
	}
}

func TestSubmit_ResultFailureIsAcknowledged(t *testing.T) {
	h := newHarness(3)
	h.api.resultErr = &util.APIError{Status: http.StatusNotFound}
	a := h.open(t, AttemptOptions{})

	res, err := a.Submit(context.Background(), TriggerManual)
	if err != nil || res != nil {
		t.Fatalf("Submit = %v, %v", res, err)
	}
	if a.State() != StateCompleted || a.View().Message != util.MsgSubmittedNoScore {
		t.Errorf("state %s, message %q", a.State(), a.View().Message)
	}
}

func TestSubmit_CacheWinsOverMemory(t *testing.T) {
	h := newHarness(3)
	a := h.open(t, AttemptOptions{})
	ctx := context.Background()
	a.Select(ctx, 1, 11)
	h.cache.Save(ctx, "att-1", model.AnswerMap{1: 12, 2: 21})

	if _, err := a.Submit(ctx, TriggerManual); err != nil {
		t.Fatal(err)
	}
	if h.api.lastSaved[1] != 12 || h.api.lastSaved[2] != 21 {
		t.Errorf("flushed %v, want cache values", h.api.lastSaved)
	}
}

func TestSubmit_ManualAndTimerAreExclusive(t *testing.T) {
	h := newHarness(3)
	h.api.detail.Duration = 1 * time.Minute
	h.api.submitEntered = make(chan struct{}, 4)
	h.api.submitGate = make(chan struct{})
	a := h.open(t, AttemptOptions{})

	manual := make(chan error, 1)
	go func() {
		_, err := a.Submit(context.Background(), TriggerManual)
		manual <- err
	}()
	<-h.api.submitEntered

	// Time runs out while the manual submission is in flight.
	h.clock.Advance(2 * time.Minute)
	a.timer.tick()
	a.timer.tick()
	if _, err := a.Submit(context.Background(), TriggerTimer); !errors.Is(err, util.ErrSubmitInProgress) {
		t.Errorf("second submit: %v", err)
	}

	close(h.api.submitGate)
	if err := <-manual; err != nil {
		t.Fatalf("manual submit: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if n := atomic.LoadInt32(&h.api.submitCalls); n != 1 {
		t.Errorf("submitAttempt called %d times", n)
	}
}

func TestTimerExpiryAutoSubmits(t *testing.T) {
	h := newHarness(30)
	h.api.detail.Duration = 1 * time.Minute
	a := h.open(t, AttemptOptions{})
	a.Select(context.Background(), 1, 11)

	h.clock.Advance(61 * time.Second)
	a.timer.tick()

	deadline := time.Now().Add(2 * time.Second)
	for a.State() != StateCompleted && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if a.State() != StateCompleted {
		t.Fatalf("state = %s, want completed", a.State())
	}
	if a.Page() != 1 {
		t.Error("auto submit moved the page")
	}
	if err := a.Select(context.Background(), 2, 21); !errors.Is(err, util.ErrAttemptNotActive) {
		t.Errorf("select after completion: %v", err)
	}
}

func TestSelect_RejectedAfterExpiry(t *testing.T) {
	h := newHarness(3)
	h.api.detail.Duration = 1 * time.Minute
	a := h.open(t, AttemptOptions{})

	// Mark the timer expired without firing the automatic submission.
	a.timer.mu.Lock()
	a.timer.expired = true
	a.timer.mu.Unlock()

	if err := a.Select(context.Background(), 1, 11); !errors.Is(err, util.ErrTimeUp) {
		t.Errorf("err = %v, want ErrTimeUp", err)
	}
}

func TestLoad_FailureMessages(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&util.APIError{Status: http.StatusNotFound}, util.MsgSessionNotFound},
		{&util.APIError{Status: http.StatusForbidden}, util.MsgAccessDenied},
		{&util.APIError{Status: http.StatusUnauthorized}, util.MsgReauthenticate},
		{&util.APIError{Status: http.StatusInternalServerError}, util.MsgLoadFailed},
		{&util.NetworkError{Op: "get_attempt", Err: context.DeadlineExceeded}, util.MsgLoadFailed},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			h := newHarness(1)
			h.api.getErr = tt.err
			a := NewAttemptSession("att-1", h.api, h.cache, AttemptOptions{Now: h.clock.Now})

			if err := a.Load(context.Background()); !errors.Is(err, tt.err) {
				t.Fatalf("Load err = %v", err)
			}
			if a.State() != StateFailed {
				t.Errorf("state = %s", a.State())
			}
			if got := a.View().Message; got != tt.want {
				t.Errorf("message = %q, want %q", got, tt.want)
			}
			if err := a.Load(context.Background()); !errors.Is(err, util.ErrAttemptNotActive) {
				t.Errorf("reload of failed attempt: %v", err)
			}
		})
	}
}

func TestAbandon_ClearsCache(t *testing.T) {
	h := newHarness(3)
	h.api.detail.Duration = 5 * time.Minute
	a := h.open(t, AttemptOptions{})
	ctx := context.Background()
	a.Select(ctx, 1, 11)

	if err := a.Abandon(ctx); err != nil {
		t.Fatal(err)
	}
	if cached := h.cache.Load(ctx, "att-1"); len(cached) != 0 {
		t.Errorf("answers survived: %v", cached)
	}
	if _, ok := h.cache.LoadDeadline(ctx, "att-1"); ok {
		t.Error("deadline survived")
	}
	if err := a.Select(ctx, 2, 21); !errors.Is(err, util.ErrAttemptClosed) {
		t.Errorf("select after abandon: %v", err)
	}
}
