package controller

import (
	"fmt"
	"net/http"

	"geosewa_exam/internal/model"
	"geosewa_exam/internal/service"
	"geosewa_exam/internal/util"

	"github.com/gin-gonic/gin"
)

type AttemptController struct {
	ExamService *service.ExamService
}

func NewAttemptController(examService *service.ExamService) *AttemptController {
	return &AttemptController{ExamService: examService}
}

func (c *AttemptController) attempt(ctx *gin.Context) (*service.AttemptSession, bool) {
	a, err := c.ExamService.Attempt(ctx.Param("id"))
	if err != nil {
		util.ErrorFrom(ctx, err)
		return nil, false
	}
	return a, true
}

// OpenAttempt godoc
// @Summary Open or reload an attempt
// @Description Loads the attempt, restoring cached answers and the fixed deadline
// @Tags attempts
// @Produce  json
// @Param   id path string true "Attempt ID"
// @Success 200 {object} util.Response{data=service.AttemptView}
// @Failure 401 {object} util.Response
// @Failure 403 {object} util.Response
// @Failure 404 {object} util.Response "Exam session not found"
// @Security ApiKeyAuth
// @Router /attempts/{id}/open [post]
func (c *AttemptController) OpenAttempt(ctx *gin.Context) {
	a, err := c.ExamService.OpenAttempt(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		util.ErrorWithMessage(ctx, err, util.LoadFailureMessage(err))
		return
	}
	util.Success(ctx, a.View())
}

// GetAttempt godoc
// @Summary Current attempt view
// @Description Current page, answers, remaining time and any message to show
// @Tags attempts
// @Produce  json
// @Param   id path string true "Attempt ID"
// @Success 200 {object} util.Response{data=service.AttemptView}
// @Failure 404 {object} util.Response
// @Security ApiKeyAuth
// @Router /attempts/{id} [get]
func (c *AttemptController) GetAttempt(ctx *gin.Context) {
	a, ok := c.attempt(ctx)
	if !ok {
		return
	}
	util.Success(ctx, a.View())
}

// SelectAnswerRequest defines model for answer selection
// swagger:model SelectAnswerRequest
type SelectAnswerRequest struct {
	QuestionID int64 `json:"question_id" binding:"required"`
	ChoiceID   int64 `json:"choice_id" binding:"required"`
}

// SelectAnswer godoc
// @Summary Select a choice
// @Description Records the answer and persists it to the answer cache before responding
// @Tags attempts
// @Accept  json
// @Produce  json
// @Param   id path string true "Attempt ID"
// @Param   body body SelectAnswerRequest true "Answer"
// @Success 200 {object} util.Response{data=service.AttemptView}
// @Failure 400 {object} util.Response
// @Failure 409 {object} util.Response "Attempt not active or time is up"
// @Security ApiKeyAuth
// @Router /attempts/{id}/answers [put]
func (c *AttemptController) SelectAnswer(ctx *gin.Context) {
	var req SelectAnswerRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	a, ok := c.attempt(ctx)
	if !ok {
		return
	}
	if err := a.Select(ctx.Request.Context(), req.QuestionID, req.ChoiceID); err != nil {
		util.ErrorFrom(ctx, err)
		return
	}
	util.Success(ctx, a.View())
}

// PageRequest defines model for page navigation
// swagger:model PageRequest
type PageRequest struct {
	Page      int    `json:"page"`
	Direction string `json:"direction" binding:"omitempty,oneof=next prev"`
}

type pageResponse struct {
	service.AttemptView
	ScrollToTop bool `json:"scroll_to_top"`
}

// ChangePage godoc
// @Summary Change page
// @Description Moves to a page (clamped to the valid range) or to the next/previous one
// @Tags attempts
// @Accept  json
// @Produce  json
// @Param   id path string true "Attempt ID"
// @Param   body body PageRequest true "Target page or direction"
// @Success 200 {object} util.Response{data=pageResponse}
// @Failure 409 {object} util.Response
// @Security ApiKeyAuth
// @Router /attempts/{id}/page [post]
func (c *AttemptController) ChangePage(ctx *gin.Context) {
	var req PageRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	a, ok := c.attempt(ctx)
	if !ok {
		return
	}

	var (
		moved bool
		err   error
	)
	switch req.Direction {
	case "next":
		_, moved, err = a.NextPage()
	case "prev":
		_, moved, err = a.PrevPage()
	default:
		_, moved, err = a.GoToPage(req.Page)
	}
	if err != nil {
		util.ErrorFrom(ctx, err)
		return
	}
	util.Success(ctx, pageResponse{AttemptView: a.View(), ScrollToTop: moved})
}

type submitResponse struct {
	State   service.AttemptState `json:"state"`
	Result  *model.ExamResult    `json:"result,omitempty"`
	Stats   *service.ResultStats `json:"stats,omitempty"`
	Message string               `json:"message,omitempty"`
}

// SubmitAttempt godoc
// @Summary Submit the attempt
// @Description Flushes cached answers, submits and returns the scored result when available. Only allowed from the last page unless time is up.
// @Tags attempts
// @Produce  json
// @Param   id path string true "Attempt ID"
// @Success 200 {object} util.Response{data=submitResponse}
// @Failure 409 {object} util.Response "Not on the last page, or a submission is in flight"
// @Failure 502 {object} util.Response "Answers could not be saved; retry"
// @Security ApiKeyAuth
// @Router /attempts/{id}/submit [post]
func (c *AttemptController) SubmitAttempt(ctx *gin.Context) {
	a, ok := c.attempt(ctx)
	if !ok {
		return
	}
	res, err := a.Submit(ctx.Request.Context(), service.TriggerManual)
	if err != nil {
		if util.HTTPStatus(err) == http.StatusConflict {
			util.ErrorFrom(ctx, err)
			return
		}
		util.ErrorWithMessage(ctx, err, util.SubmitFailureMessage(err))
		return
	}

	out := submitResponse{State: a.State(), Result: res}
	if res != nil {
		stats := c.ExamService.Scoring.Score(res)
		out.Stats = &stats
	} else {
		out.Message = util.MsgSubmittedNoScore
	}
	util.Success(ctx, out)
}

// AbandonAttempt godoc
// @Summary Back to the exam list
// @Description Clears the cached answers and deadline and forgets the attempt locally
// @Tags attempts
// @Produce  json
// @Param   id path string true "Attempt ID"
// @Success 200 {object} util.Response
// @Security ApiKeyAuth
// @Router /attempts/{id} [delete]
func (c *AttemptController) AbandonAttempt(ctx *gin.Context) {
	if err := c.ExamService.AbandonAttempt(ctx.Request.Context(), ctx.Param("id")); err != nil {
		util.ErrorFrom(ctx, err)
		return
	}
	util.Success(ctx, nil)
}

// GetResult godoc
// @Summary Scored result
// @Description Raw and negative-marking-adjusted figures, or an acknowledgment when the result is not ready
// @Tags attempts
// @Produce  json
// @Param   id path string true "Attempt ID"
// @Success 200 {object} util.Response{data=service.ScoredResult}
// @Failure 404 {object} util.Response
// @Security ApiKeyAuth
// @Router /attempts/{id}/result [get]
func (c *AttemptController) GetResult(ctx *gin.Context) {
	scored, err := c.ExamService.Result(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		util.ErrorFrom(ctx, err)
		return
	}
	util.Success(ctx, scored)
}

// GetReport godoc
// @Summary Result report
// @Tags attempts
// @Produce  application/pdf
// @Param   id path string true "Attempt ID"
// @Success 200 {file} binary
// @Failure 404 {object} util.Response
// @Security ApiKeyAuth
// @Router /attempts/{id}/report [get]
func (c *AttemptController) GetReport(ctx *gin.Context) {
	pdf, err := c.ExamService.Report(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		util.ErrorFrom(ctx, err)
		return
	}
	ctx.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "result-"+ctx.Param("id")+".pdf"))
	ctx.Data(http.StatusOK, util.MimePDF, pdf)
}
