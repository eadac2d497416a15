package controller

import (
	"time"

	"geosewa_exam/internal/service"
	"geosewa_exam/internal/util"

	"github.com/gin-gonic/gin"
)

type ResultController struct {
	ExamService *service.ExamService
}

func NewResultController(examService *service.ExamService) *ResultController {
	return &ResultController{ExamService: examService}
}

// History godoc
// @Summary Exam history
// @Description Superusers see every user's results and may filter by day; others see their own
// @Tags results
// @Produce  json
// @Param   date query string false "Day filter, YYYY-MM-DD (superusers only)"
// @Param   sort query string false "date (newest first) or score (highest first)"
// @Success 200 {object} util.Response{data=service.History}
// @Failure 400 {object} util.Response
// @Security ApiKeyAuth
// @Router /results [get]
func (c *ResultController) History(ctx *gin.Context) {
	q := service.HistoryQuery{Sort: ctx.DefaultQuery("sort", service.SortByDate)}
	if raw := ctx.Query("date"); raw != "" {
		day, err := time.Parse(util.DateFormat, raw)
		if err != nil {
			util.BadRequest(ctx, "date must be YYYY-MM-DD")
			return
		}
		q.Date = day
	}

	h, err := c.ExamService.History(ctx.Request.Context(), q)
	if err != nil {
		util.ErrorFrom(ctx, err)
		return
	}
	util.Success(ctx, h)
}
