package service

import (
	"context"
	"time"

	"geosewa_exam/internal/model"
)

// ExamAPI is the part of the exam API client the services depend on.
type ExamAPI interface {
	ListExamSets(ctx context.Context) ([]model.ExamSet, error)
	GetExamSet(ctx context.Context, id int64) (*model.ExamSet, error)
	StartAttempt(ctx context.Context, examSetID int64) (*model.AttemptHandle, error)
	GetAttempt(ctx context.Context, attemptID string) (*model.AttemptDetail, error)
	SaveAnswersBatch(ctx context.Context, attemptID string, answers []model.AnswerPayload, chunkSize int) []model.SaveOutcome
	SaveAnswersSequentially(ctx context.Context, attemptID string, answers []model.AnswerPayload) []model.SaveOutcome
	SubmitAttempt(ctx context.Context, attemptID string) error
	GetResult(ctx context.Context, attemptID string) (*model.ExamResult, error)
	ListResults(ctx context.Context) ([]model.ExamResult, error)
	ListAllResults(ctx context.Context, date time.Time) ([]model.ExamResult, error)
}

type AuthAPI interface {
	Login(ctx context.Context, username, password string) (*model.TokenPair, error)
	RefreshAccess(ctx context.Context, refresh string) (string, error)
}
