package service

import (
	"context"
	"sync"
	"time"

	"geosewa_exam/internal/model"
	"geosewa_exam/internal/repository"
	"geosewa_exam/internal/util"
	"geosewa_exam/pkg/logger"

	"go.uber.org/zap"
)

type ExamSettings struct {
	PageSize     int
	ChunkSize    int
	TickInterval time.Duration
	Sections     []Section
}

// ExamService keeps the running attempts of the signed-in user and serves
// exam sets and result history.
type ExamService struct {
	API      ExamAPI
	Cache    *repository.AnswerCacheRepository
	Session  *Session
	Scoring  *ScoringService
	Reports  *ReportService
	Receipts *StorageService
	Settings ExamSettings

	mu       sync.Mutex
	attempts map[string]*AttemptSession

	roleMu    sync.Mutex
	roleGen   int
	superuser *bool

	unsubscribe func()
}

func NewExamService(api ExamAPI, cache *repository.AnswerCacheRepository, session *Session, scoring *ScoringService, reports *ReportService, receipts *StorageService, settings ExamSettings) *ExamService {
	s := &ExamService{
		API:      api,
		Cache:    cache,
		Session:  session,
		Scoring:  scoring,
		Reports:  reports,
		Receipts: receipts,
		Settings: settings,
		attempts: make(map[string]*AttemptSession),
	}
	s.unsubscribe = session.Subscribe(s.onSessionChange)
	return s
}

func (s *ExamService) onSessionChange(state model.SessionState) {
	s.roleMu.Lock()
	s.superuser = nil
	s.roleGen++
	s.roleMu.Unlock()

	if !state.Authenticated {
		s.CloseAll()
	}
}

func (s *ExamService) ListExamSets(ctx context.Context) ([]model.ExamSet, error) {
	return s.API.ListExamSets(ctx)
}

func (s *ExamService) GetExamSet(ctx context.Context, id int64) (*model.ExamSet, error) {
	return s.API.GetExamSet(ctx, id)
}

// StartAttempt creates a server-side attempt and loads it.
func (s *ExamService) StartAttempt(ctx context.Context, examSetID int64) (*AttemptSession, error) {
	handle, err := s.API.StartAttempt(ctx, examSetID)
	if err != nil {
		logger.Log.Info("start attempt rejected", zap.Int64("exam_set_id", examSetID), zap.Error(err))
		return nil, err
	}
	logger.Log.Info("attempt started", zap.Int64("exam_set_id", examSetID), zap.String("attempt_id", handle.AttemptID))
	return s.OpenAttempt(ctx, handle.AttemptID)
}

// OpenAttempt loads attemptID as if the page had been reloaded: a running
// instance is torn down (its cache kept) and replaced. A completed instance
// is returned as is, since the server has finalized it. A failed load still
// registers the attempt so its message can be shown.
func (s *ExamService) OpenAttempt(ctx context.Context, attemptID string) (*AttemptSession, error) {
	s.mu.Lock()
	current := s.attempts[attemptID]
	s.mu.Unlock()
	if current != nil && current.State() == StateCompleted {
		return current, nil
	}

	attempt := NewAttemptSession(attemptID, s.API, s.Cache, AttemptOptions{
		PageSize:     s.Settings.PageSize,
		ChunkSize:    s.Settings.ChunkSize,
		TickInterval: s.Settings.TickInterval,
		Sections:     s.Settings.Sections,
		OnComplete:   []CompletionHook{s.archiveReceipt},
	})

	s.mu.Lock()
	prev := s.attempts[attemptID]
	s.attempts[attemptID] = attempt
	s.mu.Unlock()
	if prev != nil {
		prev.Close()
	}

	return attempt, attempt.Load(ctx)
}

func (s *ExamService) Attempt(attemptID string) (*AttemptSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[attemptID]
	if !ok {
		return nil, util.ErrAttemptNotFound
	}
	return a, nil
}

// AbandonAttempt is "back to list": the cache is cleared and the attempt forgotten.
func (s *ExamService) AbandonAttempt(ctx context.Context, attemptID string) error {
	s.mu.Lock()
	a, ok := s.attempts[attemptID]
	delete(s.attempts, attemptID)
	s.mu.Unlock()

	if !ok {
		return s.Cache.Clear(ctx, attemptID)
	}
	return a.Abandon(ctx)
}

// CloseAll tears down every running attempt without clearing caches.
func (s *ExamService) CloseAll() {
	s.mu.Lock()
	attempts := s.attempts
	s.attempts = make(map[string]*AttemptSession)
	s.mu.Unlock()

	for _, a := range attempts {
		a.Close()
	}
	if len(attempts) > 0 {
		logger.Log.Info("closed running attempts", zap.Int("count", len(attempts)))
	}
}

func (s *ExamService) Shutdown() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	s.CloseAll()
}

func (s *ExamService) archiveReceipt(ctx context.Context, attempt *AttemptSession, result *model.ExamResult) {
	if !s.Receipts.Enabled() {
		return
	}
	urls, err := s.Receipts.ArchiveReceipt(ctx, attempt.ID, s.Session.Username(), attempt.Answers(), result)
	if err != nil {
		logger.Log.Warn("failed to archive receipt", zap.String("attempt_id", attempt.ID), zap.Error(err))
		return
	}
	logger.Log.Info("receipt archived", zap.String("attempt_id", attempt.ID), zap.Strings("files", urls))
}

// IsSuperuser probes the all-users results endpoint; only superusers may
// read it. The answer is kept until the session changes.
func (s *ExamService) IsSuperuser(ctx context.Context) bool {
	if !s.Session.State().Authenticated {
		return false
	}

	s.roleMu.Lock()
	if s.superuser != nil {
		ok := *s.superuser
		s.roleMu.Unlock()
		return ok
	}
	gen := s.roleGen
	s.roleMu.Unlock()

	_, err := s.API.ListAllResults(ctx, time.Time{})
	if err != nil && util.StatusOf(err) == 0 {
		// Transport failure says nothing about the role; ask again next time.
		return false
	}
	ok := err == nil

	s.roleMu.Lock()
	if s.roleGen == gen {
		s.superuser = &ok
	}
	s.roleMu.Unlock()
	return ok
}

type HistoryQuery struct {
	Date time.Time
	Sort string
}

type HistoryEntry struct {
	model.ExamResult
	TimeTakenDisplay string      `json:"time_taken_display"`
	Stats            ResultStats `json:"stats"`
}

type History struct {
	Superuser bool           `json:"superuser"`
	Entries   []HistoryEntry `json:"entries"`
}

// History lists every user's results for superusers, optionally for one
// day, and the caller's own results for everyone else.
func (s *ExamService) History(ctx context.Context, q HistoryQuery) (*History, error) {
	superuser := s.IsSuperuser(ctx)

	var (
		results []model.ExamResult
		err     error
	)
	if superuser {
		results, err = s.API.ListAllResults(ctx, q.Date)
	} else {
		results, err = s.API.ListResults(ctx)
	}
	if err != nil {
		return nil, err
	}

	SortResults(results, q.Sort)
	h := &History{Superuser: superuser, Entries: make([]HistoryEntry, 0, len(results))}
	for i := range results {
		h.Entries = append(h.Entries, HistoryEntry{
			ExamResult:       results[i],
			TimeTakenDisplay: FormatTimeTaken(results[i].TimeTaken),
			Stats:            s.Scoring.Score(&results[i]),
		})
	}
	return h, nil
}

type ScoredResult struct {
	Result  *model.ExamResult `json:"result,omitempty"`
	Stats   *ResultStats      `json:"stats,omitempty"`
	Message string            `json:"message,omitempty"`
}

// Result returns the scored breakdown of an attempt. An attempt completed
// here without a result yields the acknowledgment text instead of an error.
func (s *ExamService) Result(ctx context.Context, attemptID string) (*ScoredResult, error) {
	if a, err := s.Attempt(attemptID); err == nil {
		if a.State() != StateCompleted {
			return nil, util.ErrAttemptNotActive
		}
		if res := a.Result(); res != nil {
			stats := s.Scoring.Score(res)
			return &ScoredResult{Result: res, Stats: &stats}, nil
		}
	}

	res, err := s.API.GetResult(ctx, attemptID)
	if err != nil {
		if a, aerr := s.Attempt(attemptID); aerr == nil && a.State() == StateCompleted {
			return &ScoredResult{Message: util.MsgSubmittedNoScore}, nil
		}
		return nil, err
	}
	stats := s.Scoring.Score(res)
	return &ScoredResult{Result: res, Stats: &stats}, nil
}

// Report renders the result of an attempt as a PDF.
func (s *ExamService) Report(ctx context.Context, attemptID string) ([]byte, error) {
	scored, err := s.Result(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if scored.Result == nil {
		return nil, util.ErrNotFound
	}
	return s.Reports.Render(scored.Result, *scored.Stats)
}
