package service

import (
	"bytes"
	"fmt"
	"strings"

	"geosewa_exam/internal/model"

	"github.com/raykov/gofpdf"
)

type ReportService struct{}

func NewReportService() *ReportService {
	return &ReportService{}
}

// Render lays out the scored breakdown of a result as an A4 PDF.
func (s *ReportService) Render(res *model.ExamResult, stats ResultStats) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetTitle("GeoSewa exam result", true)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	title := "Exam result"
	if res.ExamSetTitle != "" {
		title = res.ExamSetTitle
	}
	pdf.MultiCell(0, 10, tr(title), "", "L", false)
	pdf.Ln(2)

	pdf.SetFont("Helvetica", "", 11)
	summary := []string{
		fmt.Sprintf("Attempt: %s", res.AttemptID.String()),
		fmt.Sprintf("Score: %.2f / %.2f (%.2f%%)", stats.RawScore, stats.TotalPoints, stats.RawPercentage),
		fmt.Sprintf("Adjusted score: %.2f (%.2f%%), penalty %.2f per wrong answer", stats.AdjustedScore, stats.AdjustedPercentage, stats.NegativeMark),
		fmt.Sprintf("Correct: %d   Incorrect: %d   Unanswered: %d", stats.Correct, stats.IncorrectAnswered, stats.Unanswered),
	}
	if res.Username != "" {
		summary = append([]string{"Candidate: " + res.Username}, summary...)
	}
	if t := FormatTimeTaken(res.TimeTaken); t != "" {
		summary = append(summary, "Time taken: "+t)
	}
	if !res.CreatedAt.IsZero() {
		summary = append(summary, "Date: "+res.CreatedAt.Format("2006-01-02 15:04"))
	}
	status := "Not passed"
	if stats.Passed {
		status = "Passed"
	}
	summary = append(summary, "Status: "+status)
	pdf.MultiCell(0, 7, tr(strings.Join(summary, "\n")), "", "L", false)
	pdf.Ln(4)

	for i, d := range res.DetailedResults {
		pdf.SetFont("Helvetica", "B", 11)
		header := fmt.Sprintf("Question %d", i+1)
		switch {
		case d.IsCorrect:
			header += " - correct"
		case d.Answered():
			header += " - incorrect"
		default:
			header += " - not answered"
		}
		pdf.MultiCell(0, 7, header, "", "L", false)

		pdf.SetFont("Helvetica", "", 10)
		if d.QuestionText != "" {
			pdf.MultiCell(0, 6, tr(d.QuestionText), "", "L", false)
		}
		lines := fmt.Sprintf("Your answer: %s\nCorrect answer: %s", joinIDs(d.SelectedChoices), joinIDs(d.CorrectChoices))
		pdf.MultiCell(0, 6, lines, "", "L", false)
		if d.Explanation != "" {
			pdf.SetFont("Helvetica", "I", 10)
			pdf.MultiCell(0, 6, tr(d.Explanation), "", "L", false)
		}
		pdf.Ln(3)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func joinIDs(ids []int64) string {
	if len(ids) == 0 {
		return "-"
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("%d", id)
	}
	return strings.Join(parts, ", ")
}
