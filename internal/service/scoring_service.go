package service

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"geosewa_exam/internal/model"

	"github.com/shopspring/decimal"
)

const DefaultNegativeMark = 0.1

// ResultStats are the figures derived from a result's detailed breakdown.
// The server's raw score and percentage are carried alongside unchanged.
type ResultStats struct {
	Correct            int     `json:"correct"`
	IncorrectAnswered  int     `json:"incorrect_answered"`
	Unanswered         int     `json:"unanswered"`
	NegativeMark       float64 `json:"negative_mark"`
	Penalty            float64 `json:"penalty"`
	RawScore           float64 `json:"raw_score"`
	RawPercentage      float64 `json:"raw_percentage"`
	TotalPoints        float64 `json:"total_points"`
	AdjustedScore      float64 `json:"adjusted_score"`
	AdjustedPercentage float64 `json:"adjusted_percentage"`
	Passed             bool    `json:"passed"`
}

// ScoreResult is a pure function of res and the per-question penalty.
func ScoreResult(res *model.ExamResult, negativeMark float64) ResultStats {
	stats := ResultStats{
		NegativeMark:  negativeMark,
		RawScore:      res.Score,
		RawPercentage: res.ScorePercentage,
		TotalPoints:   res.TotalPoints,
		Passed:        res.IsPassed,
	}
	for _, d := range res.DetailedResults {
		switch {
		case d.IsCorrect:
			stats.Correct++
		case d.Answered():
			stats.IncorrectAnswered++
		default:
			stats.Unanswered++
		}
	}

	penalty := decimal.NewFromFloat(negativeMark).Mul(decimal.NewFromInt(int64(stats.IncorrectAnswered)))
	adjusted := decimal.NewFromFloat(res.Score).Sub(penalty)
	if adjusted.IsNegative() {
		adjusted = decimal.Zero
	}

	pct := decimal.Zero
	total := decimal.NewFromFloat(res.TotalPoints)
	if total.IsPositive() {
		pct = adjusted.Div(total).Mul(decimal.NewFromInt(100))
	}
	hundred := decimal.NewFromInt(100)
	if pct.GreaterThan(hundred) {
		pct = hundred
	}
	if pct.IsNegative() {
		pct = decimal.Zero
	}

	stats.Penalty = penalty.InexactFloat64()
	stats.AdjustedScore = adjusted.Round(2).InexactFloat64()
	stats.AdjustedPercentage = pct.Round(2).InexactFloat64()
	return stats
}

// ScoringService holds the penalty currently configured; it can change on
// config reload.
type ScoringService struct {
	mu           sync.RWMutex
	negativeMark float64
}

func NewScoringService(negativeMark float64) *ScoringService {
	return &ScoringService{negativeMark: negativeMark}
}

func (s *ScoringService) SetNegativeMark(mark float64) {
	s.mu.Lock()
	s.negativeMark = mark
	s.mu.Unlock()
}

func (s *ScoringService) NegativeMark() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.negativeMark
}

func (s *ScoringService) Score(res *model.ExamResult) ResultStats {
	return ScoreResult(res, s.NegativeMark())
}

const (
	SortByDate  = "date"
	SortByScore = "score"
)

// SortResults orders results newest first, or by percentage highest first.
// Unknown keys fall back to date.
func SortResults(results []model.ExamResult, by string) {
	if by == SortByScore {
		sort.SliceStable(results, func(i, j int) bool {
			return results[i].ScorePercentage > results[j].ScorePercentage
		})
		return
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].CreatedAt.After(results[j].CreatedAt.Time)
	})
}

// FormatTimeTaken turns "HH:MM:SS[.ffffff]" into "1h 2m 3s", dropping
// leading zero units. Unparseable input is returned as is.
func FormatTimeTaken(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return s
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	sec, err3 := strconv.ParseFloat(parts[2], 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return s
	}
	secs := int(sec)

	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm %ds", h, m, secs)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, secs)
	}
	return fmt.Sprintf("%ds", secs)
}
