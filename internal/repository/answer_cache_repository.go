package repository

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"geosewa_exam/internal/model"
	"geosewa_exam/pkg/logger"

	"go.uber.org/zap"
)

const (
	answersKeyPrefix  = "answers:"
	deadlineKeyPrefix = "deadline:"
)

func AnswersKey(attemptID string) string  { return answersKeyPrefix + attemptID }
func DeadlineKey(attemptID string) string { return deadlineKeyPrefix + attemptID }

// AnswerCacheRepository stores in-progress answers and the attempt deadline,
// namespaced per attempt. It is the durable source of truth for answers while
// an attempt is running.
type AnswerCacheRepository struct {
	Store KVStore
}

func NewAnswerCacheRepository(store KVStore) *AnswerCacheRepository {
	return &AnswerCacheRepository{Store: store}
}

// Save overwrites the whole map for the attempt.
func (r *AnswerCacheRepository) Save(ctx context.Context, attemptID string, answers model.AnswerMap) error {
	if answers == nil {
		answers = model.AnswerMap{}
	}
	data, err := json.Marshal(answers)
	if err != nil {
		return err
	}
	return r.Store.Set(ctx, AnswersKey(attemptID), string(data))
}

// Load never fails: missing, unreadable or malformed content is an empty map.
func (r *AnswerCacheRepository) Load(ctx context.Context, attemptID string) model.AnswerMap {
	raw, ok, err := r.Store.Get(ctx, AnswersKey(attemptID))
	if err != nil {
		logger.Log.Warn("answer cache read failed", zap.String("attemptId", attemptID), zap.Error(err))
		return model.AnswerMap{}
	}
	if !ok || raw == "" {
		return model.AnswerMap{}
	}
	var answers model.AnswerMap
	if err := json.Unmarshal([]byte(raw), &answers); err != nil || answers == nil {
		logger.Log.Warn("answer cache entry is malformed, ignoring", zap.String("attemptId", attemptID))
		return model.AnswerMap{}
	}
	return answers
}

// Clear removes both the answers and the deadline of the attempt.
func (r *AnswerCacheRepository) Clear(ctx context.Context, attemptID string) error {
	return r.Store.Delete(ctx, AnswersKey(attemptID), DeadlineKey(attemptID))
}

func (r *AnswerCacheRepository) SaveDeadline(ctx context.Context, attemptID string, deadline time.Time) error {
	return r.Store.Set(ctx, DeadlineKey(attemptID), strconv.FormatInt(deadline.UnixMilli(), 10))
}

func (r *AnswerCacheRepository) LoadDeadline(ctx context.Context, attemptID string) (time.Time, bool) {
	raw, ok, err := r.Store.Get(ctx, DeadlineKey(attemptID))
	if err != nil || !ok {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}
