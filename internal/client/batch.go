package client

import (
	"context"

	"geosewa_exam/internal/model"
	"geosewa_exam/pkg/logger"
	"geosewa_exam/pkg/monitoring"

	"github.com/sourcegraph/conc"
	"go.uber.org/zap"
)

type BatchMode string

const (
	// BatchBulk sends each chunk as one save-answer request.
	BatchBulk BatchMode = "bulk"
	// BatchParallel sends one request per answer, all answers of a chunk at once.
	BatchParallel BatchMode = "parallel"

	DefaultChunkSize = 20
)

func (m BatchMode) Valid() bool {
	return m == BatchBulk || m == BatchParallel
}

// Chunk splits answers into consecutive slices of at most size elements.
func Chunk(answers []model.AnswerPayload, size int) [][]model.AnswerPayload {
	if size <= 0 {
		size = DefaultChunkSize
	}
	var chunks [][]model.AnswerPayload
	for start := 0; start < len(answers); start += size {
		end := start + size
		if end > len(answers) {
			end = len(answers)
		}
		chunks = append(chunks, answers[start:end])
	}
	return chunks
}

// SaveAnswersBatch saves answers chunk by chunk; a chunk starts only after
// the previous one settled. It never fails as a whole: the per-answer
// outcomes are returned in input order.
func (c *Client) SaveAnswersBatch(ctx context.Context, attemptID string, answers []model.AnswerPayload, chunkSize int) []model.SaveOutcome {
	mode := c.BatchMode()
	outcomes := make([]model.SaveOutcome, 0, len(answers))

	for i, chunk := range Chunk(answers, chunkSize) {
		var settled []model.SaveOutcome
		if mode == BatchParallel {
			settled = c.saveChunkParallel(ctx, attemptID, chunk)
		} else {
			settled = c.saveChunkBulk(ctx, attemptID, chunk)
		}
		ok, failed := model.CountSettled(settled)
		monitoring.AnswerSaveCounter.WithLabelValues(string(mode), "ok").Add(float64(ok))
		monitoring.AnswerSaveCounter.WithLabelValues(string(mode), "failed").Add(float64(failed))
		logger.Log.Debug("answer chunk settled",
			zap.String("attempt_id", attemptID),
			zap.Int("chunk", i),
			zap.Int("saved", ok),
			zap.Int("failed", failed),
		)
		outcomes = append(outcomes, settled...)
	}
	return outcomes
}

func (c *Client) saveChunkBulk(ctx context.Context, attemptID string, chunk []model.AnswerPayload) []model.SaveOutcome {
	err := c.SaveAnswers(ctx, attemptID, chunk)
	out := make([]model.SaveOutcome, len(chunk))
	for i, a := range chunk {
		out[i] = model.SaveOutcome{QuestionID: a.QuestionID, Err: err}
	}
	return out
}

func (c *Client) saveChunkParallel(ctx context.Context, attemptID string, chunk []model.AnswerPayload) []model.SaveOutcome {
	out := make([]model.SaveOutcome, len(chunk))
	var wg conc.WaitGroup
	for i, a := range chunk {
		i, a := i, a
		wg.Go(func() {
			out[i] = model.SaveOutcome{QuestionID: a.QuestionID, Err: c.SaveAnswer(ctx, attemptID, a)}
		})
	}
	wg.Wait()
	return out
}

// SaveAnswersSequentially is the fallback path: one request at a time.
func (c *Client) SaveAnswersSequentially(ctx context.Context, attemptID string, answers []model.AnswerPayload) []model.SaveOutcome {
	out := make([]model.SaveOutcome, len(answers))
	for i, a := range answers {
		err := c.SaveAnswer(ctx, attemptID, a)
		out[i] = model.SaveOutcome{QuestionID: a.QuestionID, Err: err}
		result := "ok"
		if err != nil {
			result = "failed"
			logger.Log.Warn("sequential answer save failed",
				zap.String("attempt_id", attemptID),
				zap.Int64("question_id", a.QuestionID),
				zap.Error(err),
			)
		}
		monitoring.AnswerSaveCounter.WithLabelValues("sequential", result).Inc()
	}
	return out
}
