package controller

import (
	"strconv"

	"geosewa_exam/internal/service"
	"geosewa_exam/internal/util"

	"github.com/gin-gonic/gin"
)

type ExamController struct {
	ExamService *service.ExamService
}

func NewExamController(examService *service.ExamService) *ExamController {
	return &ExamController{ExamService: examService}
}

func examSetID(ctx *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		util.BadRequest(ctx, "invalid exam set id")
		return 0, false
	}
	return id, true
}

// ListExamSets godoc
// @Summary List exam sets
// @Tags exams
// @Produce  json
// @Success 200 {object} util.Response{data=[]model.ExamSet}
// @Failure 502 {object} util.Response
// @Router /exam-sets [get]
func (c *ExamController) ListExamSets(ctx *gin.Context) {
	sets, err := c.ExamService.ListExamSets(ctx.Request.Context())
	if err != nil {
		util.ErrorFrom(ctx, err)
		return
	}
	util.Success(ctx, sets)
}

// GetExamSet godoc
// @Summary Exam set detail
// @Tags exams
// @Produce  json
// @Param   id path int true "Exam set ID"
// @Success 200 {object} util.Response{data=model.ExamSet}
// @Failure 404 {object} util.Response
// @Router /exam-sets/{id} [get]
func (c *ExamController) GetExamSet(ctx *gin.Context) {
	id, ok := examSetID(ctx)
	if !ok {
		return
	}
	set, err := c.ExamService.GetExamSet(ctx.Request.Context(), id)
	if err != nil {
		util.ErrorFrom(ctx, err)
		return
	}
	util.Success(ctx, set)
}

// StartAttempt godoc
// @Summary Start an attempt
// @Description Creates an attempt on the exam API and loads its first page
// @Tags exams
// @Produce  json
// @Param   id path int true "Exam set ID"
// @Success 201 {object} util.Response{data=service.AttemptView}
// @Failure 400 {object} util.Response "Attempt limit reached"
// @Failure 401 {object} util.Response
// @Failure 402 {object} util.Response "Payment required"
// @Failure 403 {object} util.Response "No access to this exam set"
// @Failure 404 {object} util.Response
// @Security ApiKeyAuth
// @Router /exam-sets/{id}/start [post]
func (c *ExamController) StartAttempt(ctx *gin.Context) {
	id, ok := examSetID(ctx)
	if !ok {
		return
	}
	attempt, err := c.ExamService.StartAttempt(ctx.Request.Context(), id)
	if err != nil {
		if attempt != nil {
			util.ErrorWithMessage(ctx, err, util.LoadFailureMessage(err))
			return
		}
		util.ErrorFrom(ctx, err)
		return
	}
	util.Created(ctx, attempt.View())
}
